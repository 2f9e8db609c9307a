package iam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/miniidp/miniidp/internal/config"
	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
	"github.com/miniidp/miniidp/internal/snapshot"
	"github.com/uptrace/bun"
)

// Bootstrapper seeds the database on startup: predefined scopes, roles and
// policies, the root user, and any configured snapshot files. The whole run
// is one transaction.
type Bootstrapper struct {
	db      *bun.DB
	cryptor *crypto.Cryptor
	cfg     *config.Config
}

func NewBootstrapper(db *bun.DB, cryptor *crypto.Cryptor, cfg *config.Config) *Bootstrapper {
	return &Bootstrapper{db: db, cryptor: cryptor, cfg: cfg}
}

// Run executes the bootstrap if the booting options ask for it. Existing
// rows are never overwritten, so re-running against a seeded database is a
// no-op unless a reset option is set.
func (b *Bootstrapper) Run(ctx context.Context) error {
	if !b.cfg.HasBootingOption(config.BootOptionBootstrap) {
		return nil
	}

	log.Printf("bootstrap: starting (options=%v)", b.cfg.BootingOptions)
	return b.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if b.cfg.HasBootingOption(config.BootOptionDataReset) {
			if err := resetIAMData(ctx, tx); err != nil {
				return err
			}
			log.Printf("bootstrap: IAM data reset")
		}
		if b.cfg.HasBootingOption(config.BootOptionSessionReset) {
			if _, err := tx.NewDelete().Model((*models.KVEntry)(nil)).Where("1 = 1").Exec(ctx); err != nil {
				return fmt.Errorf("resetting kv store: %w", err)
			}
			log.Printf("bootstrap: session store reset")
		}

		if err := b.seedPredefined(ctx, tx); err != nil {
			return err
		}
		if err := b.seedRootUser(ctx, tx); err != nil {
			return err
		}

		for _, path := range b.cfg.SnapshotFiles {
			snap, err := snapshot.LoadFile(path)
			if err != nil {
				return err
			}
			if err := snapshot.Restore(ctx, tx, b.cryptor, snap); err != nil {
				return fmt.Errorf("replaying snapshot %s: %w", path, err)
			}
			log.Printf("bootstrap: snapshot %s replayed", path)
		}
		return nil
	})
}

func (b *Bootstrapper) seedPredefined(ctx context.Context, tx bun.Tx) error {
	scopes := repository.NewBunScopeRepository(tx)
	for _, scope := range PredefinedScopes() {
		if err := ignoreDuplicate(scopes.Create(ctx, &scope)); err != nil {
			return fmt.Errorf("seeding scope %s: %w", scope.Name, err)
		}
	}

	roles := repository.NewBunRoleRepository(tx)
	for _, role := range PredefinedRoles() {
		if err := ignoreDuplicate(roles.Create(ctx, &role)); err != nil {
			return fmt.Errorf("seeding role %s: %w", role.Name, err)
		}
	}

	policies := repository.NewBunPolicyRepository(tx)
	for _, policy := range PredefinedPolicies(b.cfg.SelfReferenceURI) {
		if err := ignoreDuplicate(policies.Create(ctx, &policy)); err != nil {
			return fmt.Errorf("seeding policy %s: %w", policy.Name, err)
		}
	}
	return nil
}

func (b *Bootstrapper) seedRootUser(ctx context.Context, tx bun.Tx) error {
	owner := b.cfg.BootstrapOwner
	id := owner.ID
	if id == "" {
		id = uuid.NewString()
	}

	users := repository.NewBunUserRepository(tx, b.cryptor)
	root := &models.User{
		ID:       id,
		Name:     owner.Name,
		Password: owner.Password,
		Email:    owner.Email,
		FullName: owner.Name,
		Roles:    models.StringList{RoleIDPRoot},
	}
	if err := ignoreDuplicate(users.Create(ctx, root)); err != nil {
		return fmt.Errorf("seeding root user: %w", err)
	}
	return nil
}

func resetIAMData(ctx context.Context, tx bun.Tx) error {
	for _, model := range []any{
		(*models.Policy)(nil),
		(*models.OAuthClient)(nil),
		(*models.User)(nil),
		(*models.Role)(nil),
		(*models.Scope)(nil),
	} {
		if _, err := tx.NewDelete().Model(model).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("resetting IAM data: %w", err)
		}
	}
	return nil
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}
