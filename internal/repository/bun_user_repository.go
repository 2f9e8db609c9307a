package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/uptrace/bun"
)

// BunUserRepository implements UserRepository using Bun ORM. The password
// column is encrypted at rest: writes go through the cryptor, reads are
// transparently decrypted, so callers only ever see plaintext.
type BunUserRepository struct {
	db      bun.IDB
	cryptor *crypto.Cryptor
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db bun.IDB, cryptor *crypto.Cryptor) *BunUserRepository {
	return &BunUserRepository{db: db, cryptor: cryptor}
}

// List returns all users ordered by name
func (r *BunUserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		if err := r.decryptInto(&users[i]); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// Get retrieves a user by id, name or email
func (r *BunUserRepository) Get(ctx context.Context, idNameOrEmail string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ? OR name = ? OR email = ?", idNameOrEmail, idNameOrEmail, idNameOrEmail).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := r.decryptInto(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Create inserts a new user
func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	encrypted, err := r.encryptedCopy(user)
	if err != nil {
		return err
	}

	res, err := r.db.NewInsert().
		Model(encrypted).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("create user %s: %w", user.Name, ErrDuplicate)
	}
	return nil
}

// Update replaces a user identified by id or name
func (r *BunUserRepository) Update(ctx context.Context, user *models.User, idOrName string) (int64, error) {
	encrypted, err := r.encryptedCopy(user)
	if err != nil {
		return 0, err
	}

	res, err := r.db.NewUpdate().
		Model(encrypted).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update user: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a user identified by id or name
func (r *BunUserRepository) Delete(ctx context.Context, idOrName string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.User)(nil)).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete user: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of users
func (r *BunUserRepository) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.User)(nil)).Count(ctx)
}

func (r *BunUserRepository) encryptedCopy(user *models.User) (*models.User, error) {
	clone := *user
	if clone.Password != "" {
		encrypted, err := r.cryptor.EncryptString(clone.Password)
		if err != nil {
			return nil, fmt.Errorf("encrypt user password: %w", err)
		}
		clone.Password = encrypted
	}
	return &clone, nil
}

func (r *BunUserRepository) decryptInto(user *models.User) error {
	if user.Password == "" {
		return nil
	}
	decrypted, err := r.cryptor.DecryptString(user.Password)
	if err != nil {
		return fmt.Errorf("decrypt user password: %w", err)
	}
	user.Password = decrypted
	return nil
}
