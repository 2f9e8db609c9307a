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

// BunClientRepository implements ClientRepository using Bun ORM. The client
// secret column is encrypted at rest through the cryptor.
type BunClientRepository struct {
	db      bun.IDB
	cryptor *crypto.Cryptor
}

// NewBunClientRepository creates a new Bun-based OAuth client repository
func NewBunClientRepository(db bun.IDB, cryptor *crypto.Cryptor) *BunClientRepository {
	return &BunClientRepository{db: db, cryptor: cryptor}
}

// List returns all clients ordered by name
func (r *BunClientRepository) List(ctx context.Context) ([]models.OAuthClient, error) {
	var clients []models.OAuthClient
	err := r.db.NewSelect().
		Model(&clients).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	for i := range clients {
		if err := r.decryptInto(&clients[i]); err != nil {
			return nil, err
		}
	}
	return clients, nil
}

// Get retrieves a client by id or name
func (r *BunClientRepository) Get(ctx context.Context, idOrName string) (*models.OAuthClient, error) {
	client := new(models.OAuthClient)
	err := r.db.NewSelect().
		Model(client).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	if err := r.decryptInto(client); err != nil {
		return nil, err
	}
	return client, nil
}

// Create inserts a new client
func (r *BunClientRepository) Create(ctx context.Context, client *models.OAuthClient) error {
	encrypted, err := r.encryptedCopy(client)
	if err != nil {
		return err
	}

	res, err := r.db.NewInsert().
		Model(encrypted).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("create client %s: %w", client.Name, ErrDuplicate)
	}
	return nil
}

// Update replaces a client identified by id or name
func (r *BunClientRepository) Update(ctx context.Context, client *models.OAuthClient, idOrName string) (int64, error) {
	encrypted, err := r.encryptedCopy(client)
	if err != nil {
		return 0, err
	}

	res, err := r.db.NewUpdate().
		Model(encrypted).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update client: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a client identified by id or name
func (r *BunClientRepository) Delete(ctx context.Context, idOrName string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.OAuthClient)(nil)).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete client: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of clients
func (r *BunClientRepository) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.OAuthClient)(nil)).Count(ctx)
}

func (r *BunClientRepository) encryptedCopy(client *models.OAuthClient) (*models.OAuthClient, error) {
	clone := *client
	if clone.Secret != "" {
		encrypted, err := r.cryptor.EncryptString(clone.Secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt client secret: %w", err)
		}
		clone.Secret = encrypted
	}
	return &clone, nil
}

func (r *BunClientRepository) decryptInto(client *models.OAuthClient) error {
	if client.Secret == "" {
		return nil
	}
	decrypted, err := r.cryptor.DecryptString(client.Secret)
	if err != nil {
		return fmt.Errorf("decrypt client secret: %w", err)
	}
	client.Secret = decrypted
	return nil
}
