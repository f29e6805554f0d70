package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a Redis-backed Store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix namespaces every key this store touches, so multiple relay
	// deployments can share one Redis instance.
	Prefix string
}

// RedisStore implements Store against a single Redis instance, giving the
// cross-instance visibility the registry, leadership, and queue components
// depend on.
type RedisStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore dials cfg.Addr and verifies connectivity before returning.
func NewRedisStore(logger *zap.Logger, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("kv: failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix != "" {
		prefix += ":"
	}

	return &RedisStore{
		logger: logger.Named("kv.store.redis"),
		client: client,
		prefix: prefix,
	}, nil
}

func (s *RedisStore) wireKey(key Key) string {
	return s.prefix + key.String()
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := s.client.Get(ctx, s.wireKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return data, nil
}

// Set implements Store.Set.
func (s *RedisStore) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.wireKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.wireKey(key)).Err(); err != nil {
		return fmt.Errorf("kv: delete %q: %w", key, err)
	}
	return nil
}

// List implements Store.List using SCAN so a large keyspace never blocks
// Redis the way KEYS would. SCAN matches a raw string prefix, so its
// results are filtered down to keys that match prefix segment by segment.
func (s *RedisStore) List(ctx context.Context, prefix Key) ([]Entry, error) {
	match := s.wireKey(prefix) + "*"

	var out []Entry
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("kv: scan %q: %w", match, err)
		}
		for _, wireKey := range keys {
			key := s.unwireKey(wireKey)
			if !key.HasPrefix(prefix) {
				continue // shares a string prefix but not whole segments
			}
			value, err := s.client.Get(ctx, wireKey).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue // evicted between SCAN and GET
				}
				return nil, fmt.Errorf("kv: get %q during list: %w", wireKey, err)
			}
			out = append(out, Entry{Key: key, Value: value})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (s *RedisStore) unwireKey(wireKey string) Key {
	trimmed := strings.TrimPrefix(wireKey, s.prefix)
	return strings.Split(trimmed, "/")
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
