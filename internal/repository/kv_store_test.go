package repository

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*KeyValueStore, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return NewKeyValueStore(newTestDB(t), mock), mock
}

func TestKeyValueStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	kv, _ := newTestKV(t)

	require.NoError(t, kv.Set(ctx, KVEntry{Key: "greeting", Value: "hello"}))

	value, present, err := kv.GetString(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "hello", value)

	_, present, err = kv.GetString(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestKeyValueStore_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	kv, _ := newTestKV(t)

	require.NoError(t, kv.Set(ctx, KVEntry{Key: "state", Value: "authorization_pending"}))
	require.NoError(t, kv.Set(ctx, KVEntry{Key: "state", Value: "ok"}))

	value, present, err := kv.GetString(ctx, "state")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "ok", value)
}

func TestKeyValueStore_ExpiredRowsAreInvisible(t *testing.T) {
	ctx := context.Background()
	kv, mock := newTestKV(t)

	expiry := mock.Now().Add(time.Minute)
	require.NoError(t, kv.Set(ctx, KVEntry{Key: "short-lived", Value: "v", ExpiryTimestamp: ExpiryAt(expiry)}))

	_, present, err := kv.GetString(ctx, "short-lived")
	require.NoError(t, err)
	assert.True(t, present)

	mock.Add(2 * time.Minute)

	_, present, err = kv.GetString(ctx, "short-lived")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestKeyValueStore_DeleteReapsExpiredRows(t *testing.T) {
	ctx := context.Background()
	kv, mock := newTestKV(t)

	require.NoError(t, kv.Set(ctx, KVEntry{Key: "a", Value: 1, ExpiryTimestamp: ExpiryAt(mock.Now().Add(time.Second))}))
	require.NoError(t, kv.Set(ctx, KVEntry{Key: "b", Value: 2}))
	mock.Add(time.Minute)

	require.NoError(t, kv.Delete(ctx, "b"))

	count, err := kv.db.NewSelect().Model((*models.KVEntry)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "both the deleted key and the expired row should be gone")
}

func TestKeyValueStore_BatchSetIsAtomicAndOrdered(t *testing.T) {
	ctx := context.Background()
	kv, mock := newTestKV(t)

	expiry := ExpiryAt(mock.Now().Add(10 * time.Minute))
	entries := []KVEntry{
		{Key: "user-code:AB12CD34/device-code", Value: "d-1", ExpiryTimestamp: expiry},
		{Key: "device-code:d-1/state", Value: "authorization_pending", ExpiryTimestamp: expiry},
		{Key: "device-code:d-1/user-code", Value: "AB12CD34", ExpiryTimestamp: expiry},
		{Key: "device-code:d-1/info", Value: map[string]any{"sub": "", "scopes": []string{"openid"}}, ExpiryTimestamp: expiry},
	}
	require.NoError(t, kv.BatchSet(ctx, entries...))

	for _, entry := range entries {
		present, err := kv.Get(ctx, entry.Key, nil)
		require.NoError(t, err)
		assert.True(t, present, entry.Key)
	}
}

// Applying the same batch twice must leave the same row values behind.
func TestKeyValueStore_BatchSetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv, mock := newTestKV(t)

	expiry := ExpiryAt(mock.Now().Add(time.Hour))
	entries := []KVEntry{
		{Key: "k1", Value: "v1", ExpiryTimestamp: expiry},
		{Key: "k2", Value: map[string]any{"nested": true}, ExpiryTimestamp: expiry},
	}

	require.NoError(t, kv.BatchSet(ctx, entries...))
	require.NoError(t, kv.BatchSet(ctx, entries...))

	var rows []models.KVEntry
	require.NoError(t, kv.db.NewSelect().Model(&rows).Order("k ASC").Scan(ctx))
	require.Len(t, rows, 2)
	assert.Equal(t, "k1", rows[0].Key)
	assert.JSONEq(t, `"v1"`, string(rows[0].Value))
	assert.Equal(t, *expiry, *rows[0].ExpiryTimestamp)
	assert.JSONEq(t, `{"nested":true}`, string(rows[1].Value))
}

func TestKeyValueStore_StructValues(t *testing.T) {
	ctx := context.Background()
	kv, _ := newTestKV(t)

	type deviceInfo struct {
		Sub         string   `json:"sub"`
		Scopes      []string `json:"scopes"`
		ResourceURL string   `json:"resource_url"`
	}

	stored := deviceInfo{Sub: "user_a", Scopes: []string{"openid", "offline_access"}, ResourceURL: "http://svc/"}
	require.NoError(t, kv.Set(ctx, KVEntry{Key: "device-code:d/info", Value: stored}))

	var loaded deviceInfo
	present, err := kv.Get(ctx, "device-code:d/info", &loaded)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, stored, loaded)
}
