package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/uptrace/bun"
)

// BunRoleRepository implements RoleRepository using Bun ORM
type BunRoleRepository struct {
	db bun.IDB
}

// NewBunRoleRepository creates a new Bun-based role repository
func NewBunRoleRepository(db bun.IDB) *BunRoleRepository {
	return &BunRoleRepository{db: db}
}

// List returns all roles ordered by name
func (r *BunRoleRepository) List(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.NewSelect().
		Model(&roles).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// ListByNames returns the roles whose name appears in the given list
func (r *BunRoleRepository) ListByNames(ctx context.Context, names []string) ([]models.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var roles []models.Role
	err := r.db.NewSelect().
		Model(&roles).
		Where("name IN (?)", bun.In(names)).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles by names: %w", err)
	}
	return roles, nil
}

// Get retrieves a role by id or name
func (r *BunRoleRepository) Get(ctx context.Context, idOrName string) (*models.Role, error) {
	role := new(models.Role)
	err := r.db.NewSelect().
		Model(role).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

// Create inserts a new role
func (r *BunRoleRepository) Create(ctx context.Context, role *models.Role) error {
	res, err := r.db.NewInsert().
		Model(role).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("create role %s: %w", role.Name, ErrDuplicate)
	}
	return nil
}

// Update replaces a role identified by id or name
func (r *BunRoleRepository) Update(ctx context.Context, role *models.Role, idOrName string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model(role).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update role: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a role identified by id or name
func (r *BunRoleRepository) Delete(ctx context.Context, idOrName string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.Role)(nil)).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete role: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of roles
func (r *BunRoleRepository) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.Role)(nil)).Count(ctx)
}
