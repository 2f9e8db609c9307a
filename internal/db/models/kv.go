package models

import (
	"encoding/json"

	"github.com/uptrace/bun"
)

// KVEntry is one row of the TTL-scoped key/value table. Rows whose expiry
// has passed are invisible to reads and reclaimed lazily on writes and
// deletes.
type KVEntry struct {
	bun.BaseModel `bun:"table:kv,alias:kv"`

	Key             string          `bun:"k,pk"`
	Value           json.RawMessage `bun:"v,type:jsonb"`
	ExpiryTimestamp *int64          `bun:"expiry_timestamp"`
}
