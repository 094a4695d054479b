package keystore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyHash is the hash holding server_id -> key pairs, keyed by the
// hex-encoded server_id with hex-encoded values, matching the keystoredb
// column encoding so a deployment can switch stores without re-encoding.
const redisKeyHash = "server_keys"

// redisLookupTimeout bounds one credential lookup. The lookup runs on the
// router goroutine, so an unbounded call against a dead store would stall
// the whole event loop rather than just one client.
const redisLookupTimeout = 5 * time.Second

// Redis is a KeyLookup backed by the same work-queue store the bot channel
// uses, letting the bot provision client keys without a separate database.
type Redis struct {
	rdb *redis.Client
}

// NewRedis creates a Redis store on top of rdb. The client is shared with
// the caller and not closed by this store.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Get implements esm.KeyLookup. A nil key and nil error means no entry was
// found for serverID.
func (r *Redis) Get(serverID []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisLookupTimeout)
	defer cancel()

	v, err := r.rdb.HGet(ctx, redisKeyHash, hex.EncodeToString(serverID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid stored key: %w", err)
	}
	return key, nil
}

// Set associates serverID with key, replacing any existing entry.
func (r *Redis) Set(ctx context.Context, serverID, key []byte) error {
	return r.rdb.HSet(ctx, redisKeyHash, hex.EncodeToString(serverID), hex.EncodeToString(key)).Err()
}

// Delete removes any entry for serverID.
func (r *Redis) Delete(ctx context.Context, serverID []byte) error {
	return r.rdb.HDel(ctx, redisKeyHash, hex.EncodeToString(serverID)).Err()
}
