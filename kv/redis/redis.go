// Package redis provides a Redis-backed kv.Store implementation.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline/kv"
)

// compile-time interface check.
var _ kv.Store = (*Store)(nil)

// Store implements kv.Store on a Redis client.
type Store struct {
	rdb goredis.UniversalClient
}

// New creates a Redis-backed KV store.
func New(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// incrScript atomically increments a counter and applies the TTL only when
// the key is first created, so the window expires relative to the first hit.
// KEYS[1] = counter key
// ARGV[1] = ttl in milliseconds (0 = no expiry)
var incrScript = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Get returns the value for a key, or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Set stores a value with an optional TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// IncrWithTTL atomically increments a counter via a Lua script.
func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrScript.Run(ctx, s.rdb, []string{key}, ttl.Milliseconds()).Int64()
}

// TTL returns the remaining lifetime of a key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// PTTL reports -2 for a missing key and -1 for a key without expiry.
	if d == -2*time.Millisecond {
		return 0, kv.ErrNotFound
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Keys returns all live keys with the given prefix using SCAN.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
