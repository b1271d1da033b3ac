// Package kvstore wraps go-redis with the primitive set the analysis
// orchestration subsystem needs: strings, hashes, sets, lists, TTLs, SCAN,
// and server-side atomic scripts. It is the one place that talks directly to
// Redis; every other package goes through it.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("key not found in kvstore")
	ErrNil      = redis.Nil
)

// Store wraps a redis client with the operations the rest of the pipeline needs.
type Store struct {
	client *redis.Client
}

// New creates a new Store, verifying connectivity with a Ping.
func New(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Store{client: client}, nil
}

// Client returns the underlying redis client for advanced/scripted operations.
func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) Close() error {
	return s.client.Close()
}

// --- strings ---

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

func (s *Store) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data, expiration)
}

func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) error {
	val, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, key).Result()
	return count > 0, err
}

func (s *Store) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return s.client.Expire(ctx, key, expiration).Err()
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

func (s *Store) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, expiration).Result()
}

// --- counters ---

func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

// --- hashes ---

func (s *Store) HSet(ctx context.Context, key, field string, value interface{}) error {
	return s.client.HSet(ctx, key, field, value).Err()
}

func (s *Store) HSetNX(ctx context.Context, key, field string, value interface{}) (bool, error) {
	return s.client.HSetNX(ctx, key, field, value).Result()
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	return s.client.HDel(ctx, key, fields...).Err()
}

// HIncrBy atomically increments an integer hash field by delta, creating the
// hash/field at 0 first if absent. This is the primitive the Progress
// Record's tick path uses to bump completed_chunks without a
// read-modify-write race between concurrently finishing chunks.
func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, delta).Result()
}

// HIncrByFloat is HIncrBy's floating-point counterpart for hash fields
// holding fractional values. The progress record's avg_chunk_seconds is a
// running mean and is written with HSet, not through this.
func (s *Store) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	return s.client.HIncrByFloat(ctx, key, field, delta).Result()
}

// --- sets ---

func (s *Store) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return s.client.SAdd(ctx, key, members...).Err()
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *Store) SIsMember(ctx context.Context, key string, member interface{}) (bool, error) {
	return s.client.SIsMember(ctx, key, member).Result()
}

func (s *Store) SRem(ctx context.Context, key string, members ...interface{}) error {
	return s.client.SRem(ctx, key, members...).Err()
}

// --- lists ---

func (s *Store) LPush(ctx context.Context, key string, values ...interface{}) error {
	return s.client.LPush(ctx, key, values...).Err()
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *Store) LRem(ctx context.Context, key string, count int64, value interface{}) error {
	return s.client.LRem(ctx, key, count, value).Err()
}

// --- scan ---

// ScanKeys walks the keyspace matching pattern, returning every matching key.
// Uses SCAN rather than KEYS so it never blocks the server on a large dataset.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// --- pipelines ---

// Pipelined runs fn against a pipeline and executes it atomically-batched
// (not transactional, but a single round trip).
func (s *Store) Pipelined(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	_, err := s.client.Pipelined(ctx, fn)
	return err
}

// --- atomic scripts ---

// checkAndDecrementScript atomically checks that a counter has at least
// `need` remaining and, if so, decrements it by `need`. It never lets the
// ledger go negative (the token-budget invariant): if the balance is
// insufficient, it returns -1 and leaves the counter untouched.
var checkAndDecrementScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local need = tonumber(ARGV[1])
if current < need then
	return -1
end
redis.call("DECRBY", KEYS[1], need)
return current - need
`)

// CheckAndDecrement atomically subtracts need from the counter at key,
// refusing (returning ok=false) if that would take it below zero.
func (s *Store) CheckAndDecrement(ctx context.Context, key string, need int64) (remaining int64, ok bool, err error) {
	res, err := checkAndDecrementScript.Run(ctx, s.client, []string{key}, need).Int64()
	if err != nil {
		return 0, false, err
	}
	if res == -1 {
		return 0, false, nil
	}
	return res, true, nil
}
