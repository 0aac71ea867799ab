package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorPrefix = "session:v1:"

// RedisMirror stores snapshots as JSON values with a TTL.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror builds a Redis-backed Mirror.
func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: client, ttl: ttl}
}

// Load reads the snapshot stored for email.
func (m *RedisMirror) Load(ctx context.Context, email string) (Snapshot, bool, error) {
	raw, err := m.client.Get(ctx, mirrorPrefix+email).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save writes snap under its email.
func (m *RedisMirror) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, mirrorPrefix+snap.Email, payload, m.ttl).Err()
}

// Drop deletes the snapshot for email.
func (m *RedisMirror) Drop(ctx context.Context, email string) error {
	return m.client.Del(ctx, mirrorPrefix+email).Err()
}
