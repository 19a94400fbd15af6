// Package redis provides the device-side message cache in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/chatmate/chatmate/chat"
)

// Redis caches the last known message list in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// snapshotKey is the single key holding the serialized message list. Every
// store replaces it wholesale.
const snapshotKey = "messages:snapshot"

// LoadSnapshot returns the cached message list, or nil when no snapshot has
// been stored yet.
func (r *Redis) LoadSnapshot(ctx context.Context) ([]chat.Message, error) {
	raw, err := r.cli.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var msgs []chat.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return msgs, nil
}

// StoreSnapshot replaces the cached message list with msgs.
func (r *Redis) StoreSnapshot(ctx context.Context, msgs []chat.Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.cli.Set(ctx, snapshotKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}
