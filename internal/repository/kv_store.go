package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/uptrace/bun"
)

// KVEntry is one pending write for Set/BatchSet.
type KVEntry struct {
	Key             string
	Value           any
	ExpiryTimestamp *int64
}

// ExpiryAt converts a wall-clock deadline to the stored expiry form.
func ExpiryAt(t time.Time) *int64 {
	ts := t.Unix()
	return &ts
}

// KeyValueStore is a TTL-scoped key to JSON value map persisted in SQL.
// Expired rows are invisible to Get and reclaimed opportunistically on
// writes and deletes; there is no dedicated expiry goroutine.
type KeyValueStore struct {
	db    *bun.DB
	clock clock.Clock
}

// NewKeyValueStore creates a key/value store over the given database.
func NewKeyValueStore(db *bun.DB, clk clock.Clock) *KeyValueStore {
	return &KeyValueStore{db: db, clock: clk}
}

// Get unmarshals the live value for the key into dest and reports whether a
// live row existed. A nil dest only checks for presence.
func (s *KeyValueStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	entry := new(models.KVEntry)
	err := s.db.NewSelect().
		Model(entry).
		Where("k = ?", key).
		Where("(expiry_timestamp IS NULL OR expiry_timestamp > ?)", s.clock.Now().Unix()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("kv get %s: %w", key, err)
	}

	if dest != nil {
		if err := json.Unmarshal(entry.Value, dest); err != nil {
			return false, fmt.Errorf("kv get %s: decode value: %w", key, err)
		}
	}
	return true, nil
}

// GetString is Get for plain string values.
func (s *KeyValueStore) GetString(ctx context.Context, key string) (string, bool, error) {
	var value string
	present, err := s.Get(ctx, key, &value)
	return value, present, err
}

// Set upserts one entry: insert-on-conflict-no-op first, then update by key.
// Failing both is a storage error.
func (s *KeyValueStore) Set(ctx context.Context, entry KVEntry) error {
	if err := s.reapExpired(ctx, s.db); err != nil {
		return err
	}
	return s.setOne(ctx, s.db, entry)
}

// BatchSet applies all upserts in a single transaction, so readers observe
// either every entry of the batch or none of them.
func (s *KeyValueStore) BatchSet(ctx context.Context, entries ...KVEntry) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, entry := range entries {
			if err := s.setOne(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes the key along with any expired row.
func (s *KeyValueStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*models.KVEntry)(nil)).
		Where("k = ?", key).
		WhereOr("expiry_timestamp <= ?", s.clock.Now().Unix()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *KeyValueStore) setOne(ctx context.Context, idb bun.IDB, entry KVEntry) error {
	raw, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("kv set %s: encode value: %w", entry.Key, err)
	}

	row := &models.KVEntry{
		Key:             entry.Key,
		Value:           raw,
		ExpiryTimestamp: entry.ExpiryTimestamp,
	}

	res, err := idb.NewInsert().
		Model(row).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kv set %s: insert: %w", entry.Key, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return nil
	}

	res, err = idb.NewUpdate().
		Model(row).
		Column("v", "expiry_timestamp").
		Where("k = ?", entry.Key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kv set %s: update: %w", entry.Key, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("kv set %s: %w", entry.Key, ErrStorage)
	}
	return nil
}

func (s *KeyValueStore) reapExpired(ctx context.Context, idb bun.IDB) error {
	_, err := idb.NewDelete().
		Model((*models.KVEntry)(nil)).
		Where("expiry_timestamp <= ?", s.clock.Now().Unix()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kv reap expired: %w", err)
	}
	return nil
}
