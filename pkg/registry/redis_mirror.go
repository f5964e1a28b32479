package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror replicates the registry's full snapshot into Redis so that a
// second grid-guardian process (a standby, or a horizontally scaled read
// replica of the external shell) observes the same endpoint set without
// sharing this process's in-memory map or local snapshot file. Modeled on
// the teacher's RedisHubStore: one namespaced key holds the serialized
// snapshot, written after every mutation and read back once at startup.
type RedisMirror struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisMirror constructs a RedisMirror against addr. ttl bounds how long
// a mirrored snapshot survives without a fresh write before Redis expires
// it on its own; zero disables expiry.
func NewRedisMirror(addr, keyPrefix string, ttl time.Duration) *RedisMirror {
	if keyPrefix == "" {
		keyPrefix = "gridguardian:registry"
	}
	return &RedisMirror{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    keyPrefix + ":snapshot",
		ttl:    ttl,
	}
}

// Save overwrites the mirrored snapshot with the current registration set.
func (m *RedisMirror) Save(ctx context.Context, snapshot []Registration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis mirror: marshal snapshot: %w", err)
	}
	if err := m.client.Set(ctx, m.key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis mirror: SET snapshot: %w", err)
	}
	return nil
}

// Load fetches the mirrored snapshot. A missing key is not an error: it
// returns an empty, nil-error result so a fresh deployment with no prior
// mirror starts clean.
func (m *RedisMirror) Load(ctx context.Context) ([]Registration, error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis mirror: GET snapshot: %w", err)
	}

	var snapshot []Registration
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("redis mirror: unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// Close releases the underlying Redis connection pool.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// mirrorWarn logs a mirror failure without interrupting the caller: Redis
// availability never gates the registry's own correctness, matching the
// local snapshot file's best-effort persistence posture.
func mirrorWarn(op string, err error) {
	if err != nil {
		slog.Warn("registry: redis mirror "+op+" failed", "error", err)
	}
}
