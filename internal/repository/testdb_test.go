package repository

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/bunx"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// newTestDB opens an in-memory SQLite database with all tables created.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	ctx := context.Background()
	for _, model := range []any{
		(*models.Scope)(nil),
		(*models.Role)(nil),
		(*models.User)(nil),
		(*models.OAuthClient)(nil),
		(*models.Policy)(nil),
		(*models.KVEntry)(nil),
	} {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}
	return db
}

func newTestCryptor(t *testing.T) *crypto.Cryptor {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return crypto.NewCryptorFromKeys(key)
}
