// Package session keeps browser sessions in the TTL key/value store. The
// cookie carries only an encrypted session id; the principal lives server
// side and vanishes with the row's expiry.
package session

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
)

// CookieName is the browser session cookie.
const CookieName = "sid"

// Data is what a session row holds.
type Data struct {
	User models.User `json:"user"`
}

// Manager creates, resolves and destroys browser sessions.
type Manager struct {
	cryptor *crypto.Cryptor
	kv      *repository.KeyValueStore
	clock   clock.Clock
	ttl     time.Duration
}

func NewManager(cryptor *crypto.Cryptor, kv *repository.KeyValueStore, clk clock.Clock, ttl time.Duration) *Manager {
	return &Manager{cryptor: cryptor, kv: kv, clock: clk, ttl: ttl}
}

// Create stores a session for the user and returns the encrypted cookie
// value. The stored principal never includes the password.
func (m *Manager) Create(ctx context.Context, user models.User) (string, error) {
	id := uuid.NewString()
	entry := repository.KVEntry{
		Key:             sessionKey(id),
		Value:           Data{User: user.WithoutSensitiveFields()},
		ExpiryTimestamp: repository.ExpiryAt(m.clock.Now().Add(m.ttl)),
	}
	if err := m.kv.Set(ctx, entry); err != nil {
		return "", err
	}
	return m.cryptor.EncryptString(id)
}

// Load resolves a cookie value back to the session principal. An
// undecryptable cookie and an expired session both come back as absent, not
// as an error.
func (m *Manager) Load(ctx context.Context, cookieValue string) (*models.User, bool, error) {
	id, err := m.cryptor.DecryptString(cookieValue)
	if err != nil {
		return nil, false, nil
	}

	var data Data
	present, err := m.kv.Get(ctx, sessionKey(id), &data)
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}
	return &data.User, true, nil
}

// Destroy drops the session row behind a cookie value. Unknown cookies are
// a no-op.
func (m *Manager) Destroy(ctx context.Context, cookieValue string) error {
	id, err := m.cryptor.DecryptString(cookieValue)
	if err != nil {
		return nil
	}
	return m.kv.Delete(ctx, sessionKey(id))
}

func sessionKey(id string) string {
	return "session:" + id
}
