// Package snapshot moves the whole IAM data set in and out of the database
// as one document, for disaster recovery and seeding.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

// Version tags the snapshot document format.
const Version = "1"

// AppSnapshot is the full IAM data set. Encrypted columns appear in
// plaintext; treat exported documents as secrets.
type AppSnapshot struct {
	Version  string               `json:"version" yaml:"version"`
	Scopes   []models.Scope       `json:"scopes" yaml:"scopes"`
	Roles    []models.Role        `json:"roles" yaml:"roles"`
	Users    []models.User        `json:"users" yaml:"users"`
	Clients  []models.OAuthClient `json:"clients" yaml:"clients"`
	Policies []models.Policy      `json:"policies" yaml:"policies"`
}

// Service exports and imports snapshots.
type Service struct {
	db      *bun.DB
	cryptor *crypto.Cryptor
}

func NewService(db *bun.DB, cryptor *crypto.Cryptor) *Service {
	return &Service{db: db, cryptor: cryptor}
}

// Export reads every IAM entity through the repositories, so encrypted
// columns come out decrypted.
func (s *Service) Export(ctx context.Context) (*AppSnapshot, error) {
	return export(ctx, s.db, s.cryptor)
}

// Import replays a snapshot in a single transaction. Rows that already
// exist are left untouched.
func (s *Service) Import(ctx context.Context, snap *AppSnapshot) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return Restore(ctx, tx, s.cryptor, snap)
	})
}

// ImportFile loads a snapshot document from disk and imports it. The format
// follows the file extension: .yaml/.yml or .json.
func (s *Service) ImportFile(ctx context.Context, path string) error {
	snap, err := LoadFile(path)
	if err != nil {
		return err
	}
	return s.Import(ctx, snap)
}

// LoadFile parses a snapshot document from disk.
func LoadFile(path string) (*AppSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var snap AppSnapshot
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		err = yaml.Unmarshal(data, &snap)
	case strings.HasSuffix(path, ".json"):
		err = json.Unmarshal(data, &snap)
	default:
		return nil, fmt.Errorf("snapshot %s: unsupported extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Restore inserts every snapshot row through the repositories bound to the
// given handle. Existing rows win over snapshot rows.
func Restore(ctx context.Context, idb bun.IDB, cryptor *crypto.Cryptor, snap *AppSnapshot) error {
	scopes := repository.NewBunScopeRepository(idb)
	for i := range snap.Scopes {
		if err := ignoreDuplicate(scopes.Create(ctx, &snap.Scopes[i])); err != nil {
			return err
		}
	}

	roles := repository.NewBunRoleRepository(idb)
	for i := range snap.Roles {
		if err := ignoreDuplicate(roles.Create(ctx, &snap.Roles[i])); err != nil {
			return err
		}
	}

	users := repository.NewBunUserRepository(idb, cryptor)
	for i := range snap.Users {
		if err := ignoreDuplicate(users.Create(ctx, &snap.Users[i])); err != nil {
			return err
		}
	}

	clients := repository.NewBunClientRepository(idb, cryptor)
	for i := range snap.Clients {
		if err := ignoreDuplicate(clients.Create(ctx, &snap.Clients[i])); err != nil {
			return err
		}
	}

	policies := repository.NewBunPolicyRepository(idb)
	for i := range snap.Policies {
		if err := ignoreDuplicate(policies.Create(ctx, &snap.Policies[i])); err != nil {
			return err
		}
	}
	return nil
}

func export(ctx context.Context, idb bun.IDB, cryptor *crypto.Cryptor) (*AppSnapshot, error) {
	snap := &AppSnapshot{Version: Version}

	var err error
	if snap.Scopes, err = repository.NewBunScopeRepository(idb).List(ctx); err != nil {
		return nil, err
	}
	if snap.Roles, err = repository.NewBunRoleRepository(idb).List(ctx); err != nil {
		return nil, err
	}
	if snap.Users, err = repository.NewBunUserRepository(idb, cryptor).List(ctx); err != nil {
		return nil, err
	}
	if snap.Clients, err = repository.NewBunClientRepository(idb, cryptor).List(ctx); err != nil {
		return nil, err
	}
	if snap.Policies, err = repository.NewBunPolicyRepository(idb).List(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}
