// Package repository implements typed persistence over bun. One repository
// per entity kind; constructors accept bun.IDB so a caller can bind a group
// of operations to a single transaction.
package repository

import (
	"context"
	"errors"

	"github.com/miniidp/miniidp/internal/db/models"
)

var (
	// ErrDuplicate is returned when an insert conflicts with an existing row.
	ErrDuplicate = errors.New("duplicate")

	// ErrStorage is returned when an upsert can neither insert nor update.
	ErrStorage = errors.New("storage-error")
)

// ScopeRepository exposes persistence operations for scopes.
type ScopeRepository interface {
	List(ctx context.Context) ([]models.Scope, error)
	Get(ctx context.Context, idOrName string) (*models.Scope, error)
	Create(ctx context.Context, scope *models.Scope) error
	Update(ctx context.Context, scope *models.Scope, idOrName string) (int64, error)
	Delete(ctx context.Context, idOrName string) (int64, error)
	Count(ctx context.Context) (int, error)
}

// RoleRepository exposes persistence operations for roles.
type RoleRepository interface {
	List(ctx context.Context) ([]models.Role, error)
	ListByNames(ctx context.Context, names []string) ([]models.Role, error)
	Get(ctx context.Context, idOrName string) (*models.Role, error)
	Create(ctx context.Context, role *models.Role) error
	Update(ctx context.Context, role *models.Role, idOrName string) (int64, error)
	Delete(ctx context.Context, idOrName string) (int64, error)
	Count(ctx context.Context) (int, error)
}

// UserRepository exposes persistence operations for users.
// Get admits id, name or email.
type UserRepository interface {
	List(ctx context.Context) ([]models.User, error)
	Get(ctx context.Context, idNameOrEmail string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User, idOrName string) (int64, error)
	Delete(ctx context.Context, idOrName string) (int64, error)
	Count(ctx context.Context) (int, error)
}

// ClientRepository exposes persistence operations for OAuth clients.
type ClientRepository interface {
	List(ctx context.Context) ([]models.OAuthClient, error)
	Get(ctx context.Context, idOrName string) (*models.OAuthClient, error)
	Create(ctx context.Context, client *models.OAuthClient) error
	Update(ctx context.Context, client *models.OAuthClient, idOrName string) (int64, error)
	Delete(ctx context.Context, idOrName string) (int64, error)
	Count(ctx context.Context) (int, error)
}

// PolicyRepository exposes persistence operations for policies.
type PolicyRepository interface {
	List(ctx context.Context) ([]models.Policy, error)
	// FindByResource returns policies matching the resource URL. A URL ending
	// with "/" matches by prefix; anything else matches exactly.
	FindByResource(ctx context.Context, resourceURL string) ([]models.Policy, error)
	Get(ctx context.Context, idOrName string) (*models.Policy, error)
	Create(ctx context.Context, policy *models.Policy) error
	Update(ctx context.Context, policy *models.Policy, idOrName string) (int64, error)
	Delete(ctx context.Context, idOrName string) (int64, error)
	Count(ctx context.Context) (int, error)
}
