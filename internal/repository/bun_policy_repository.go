package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/uptrace/bun"
)

// BunPolicyRepository implements PolicyRepository using Bun ORM
type BunPolicyRepository struct {
	db bun.IDB
}

// NewBunPolicyRepository creates a new Bun-based policy repository
func NewBunPolicyRepository(db bun.IDB) *BunPolicyRepository {
	return &BunPolicyRepository{db: db}
}

// List returns all policies ordered by name
func (r *BunPolicyRepository) List(ctx context.Context) ([]models.Policy, error) {
	var policies []models.Policy
	err := r.db.NewSelect().
		Model(&policies).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// FindByResource returns the policies whose resource matches the given URL.
// A trailing slash turns the match into a prefix match.
func (r *BunPolicyRepository) FindByResource(ctx context.Context, resourceURL string) ([]models.Policy, error) {
	var policies []models.Policy
	query := r.db.NewSelect().
		Model(&policies).
		Order("name ASC")

	if strings.HasSuffix(resourceURL, "/") {
		query = query.Where("resource LIKE ?", resourceURL+"%")
	} else {
		query = query.Where("resource = ?", resourceURL)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("find policies by resource: %w", err)
	}
	return policies, nil
}

// Get retrieves a policy by id or name
func (r *BunPolicyRepository) Get(ctx context.Context, idOrName string) (*models.Policy, error) {
	policy := new(models.Policy)
	err := r.db.NewSelect().
		Model(policy).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return policy, nil
}

// Create inserts a new policy
func (r *BunPolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	res, err := r.db.NewInsert().
		Model(policy).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("create policy %s: %w", policy.Name, ErrDuplicate)
	}
	return nil
}

// Update replaces a policy identified by id or name
func (r *BunPolicyRepository) Update(ctx context.Context, policy *models.Policy, idOrName string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model(policy).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update policy: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a policy identified by id or name
func (r *BunPolicyRepository) Delete(ctx context.Context, idOrName string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.Policy)(nil)).
		Where("id = ? OR name = ?", idOrName, idOrName).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete policy: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of policies
func (r *BunPolicyRepository) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.Policy)(nil)).Count(ctx)
}
