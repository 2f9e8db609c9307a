package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/uptrace/bun"
)

// BunScopeRepository implements ScopeRepository using Bun ORM
type BunScopeRepository struct {
	db bun.IDB
}

// NewBunScopeRepository creates a new Bun-based scope repository
func NewBunScopeRepository(db bun.IDB) *BunScopeRepository {
	return &BunScopeRepository{db: db}
}

// List returns all scopes ordered by name
func (r *BunScopeRepository) List(ctx context.Context) ([]models.Scope, error) {
	var scopes []models.Scope
	err := r.db.NewSelect().
		Model(&scopes).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	return scopes, nil
}

// Get retrieves a scope by id or name
func (r *BunScopeRepository) Get(ctx context.Context, idOrName string) (*models.Scope, error) {
	scope := new(models.Scope)
	err := r.db.NewSelect().
		Model(scope).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scope: %w", err)
	}
	return scope, nil
}

// Create inserts a new scope; an existing row with the same key is a
// duplicate, not an overwrite.
func (r *BunScopeRepository) Create(ctx context.Context, scope *models.Scope) error {
	res, err := r.db.NewInsert().
		Model(scope).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create scope: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("create scope %s: %w", scope.Name, ErrDuplicate)
	}
	return nil
}

// Update replaces a scope identified by id or name
func (r *BunScopeRepository) Update(ctx context.Context, scope *models.Scope, idOrName string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model(scope).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update scope: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a scope identified by id or name
func (r *BunScopeRepository) Delete(ctx context.Context, idOrName string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.Scope)(nil)).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete scope: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of scopes
func (r *BunScopeRepository) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.Scope)(nil)).Count(ctx)
}
