// Package mirror keeps a copy of the latest snapshot in Redis so a restarted
// server can serve the last known value before its first fetch completes.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/livefeed/livefeed/pkg/types"
)

const (
	DefaultKey = "livefeed:snapshot"
	DefaultTTL = time.Hour
)

// ErrNotFound is returned by Load when no snapshot is mirrored.
var ErrNotFound = errors.New("mirror: no snapshot")

// record is the stored form. Versions are not kept: the loading store
// assigns its own.
type record struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Redis mirrors the latest snapshot under a single key.
type Redis struct {
	rdb goredis.Cmdable
	key string
	ttl time.Duration
}

// NewRedis returns a mirror writing to key with the given TTL. Empty key and
// non-positive ttl fall back to the defaults.
func NewRedis(rdb goredis.Cmdable, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, key: key, ttl: ttl}
}

// Save overwrites the mirrored snapshot. Placeholders are never mirrored.
func (m *Redis) Save(ctx context.Context, snap *types.Snapshot) error {
	if snap == nil || snap.IsPlaceholder() {
		return nil
	}
	b, err := json.Marshal(record{FetchedAt: snap.FetchedAt(), Payload: snap.Payload()})
	if err != nil {
		return fmt.Errorf("mirror: marshal: %w", err)
	}
	if err := m.rdb.Set(ctx, m.key, b, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirror: set %s: %w", m.key, err)
	}
	return nil
}

// Load returns the mirrored snapshot, or ErrNotFound when the key is absent
// or expired.
func (m *Redis) Load(ctx context.Context) (*types.Snapshot, error) {
	b, err := m.rdb.Get(ctx, m.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mirror: get %s: %w", m.key, err)
	}

	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("mirror: decode %s: %w", m.key, err)
	}
	snap, err := types.FromPayload(rec.Payload, rec.FetchedAt)
	if err != nil {
		return nil, fmt.Errorf("mirror: %w", err)
	}
	return snap, nil
}

// Ping checks that Redis is reachable.
func (m *Redis) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}
