package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// DefaultRedisKeyPrefix namespaces thread keys.
const DefaultRedisKeyPrefix = "consensus:thread:"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisThreadStore stores each thread as one JSON value whose key expires
// after the TTL. Every append refreshes the expiry.
type RedisThreadStore struct {
	settings
	client *redis.Client
	prefix string
}

// NewRedisThreadStore connects to Redis and verifies the connection.
func NewRedisThreadStore(ctx context.Context, ro RedisOptions, opts ...Option) (*RedisThreadStore, error) {
	if ro.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         ro.Addr,
		Password:     ro.Password,
		DB:           ro.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisThreadStoreWithClient(client, ro.KeyPrefix, opts...), nil
}

// NewRedisThreadStoreWithClient wraps an existing client.
func NewRedisThreadStoreWithClient(client *redis.Client, prefix string, opts ...Option) *RedisThreadStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisThreadStore{settings: newSettings(opts), client: client, prefix: prefix}
}

func (s *RedisThreadStore) key(id string) string {
	return s.prefix + id
}

// CreateThread implements core.ThreadStore.
func (s *RedisThreadStore) CreateThread(ctx context.Context, toolName, parentID string, initialContext map[string]interface{}) (string, error) {
	t := s.newThread(toolName, parentID, initialContext)
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshaling thread: %w", err)
	}
	if err := s.client.Set(ctx, s.key(t.ThreadID), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("storing thread: %w", err)
	}
	return t.ThreadID, nil
}

// GetThread implements core.ThreadStore.
func (s *RedisThreadStore) GetThread(ctx context.Context, id string) (*core.Thread, error) {
	if !validID(id) {
		return nil, nil
	}
	return s.get(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisThreadStore) get(ctx context.Context, c getter, id string) (*core.Thread, error) {
	data, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading thread: %w", err)
	}
	var t core.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshaling thread: %w", err)
	}
	return &t, nil
}

// AddTurn implements core.ThreadStore. Concurrent appends to the same
// thread are serialized with WATCH; a losing writer retries.
func (s *RedisThreadStore) AddTurn(ctx context.Context, id string, turns ...core.Turn) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	key := s.key(id)

	const maxAttempts = 16
	for attempt := 0; attempt < maxAttempts; attempt++ {
		added := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			t, err := s.get(ctx, tx, id)
			if err != nil || t == nil {
				return err
			}
			if !s.appendTurns(t, turns...) {
				return nil
			}
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshaling thread: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.ttl)
				return nil
			})
			if err == nil {
				added = true
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("adding turn: %w", err)
		}
		return added, nil
	}
	return false, core.ErrState(core.CodeStoreFailed, "thread updated concurrently too many times").WithDetail("thread_id", id)
}

// Close implements core.ThreadStore.
func (s *RedisThreadStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ core.ThreadStore = (*RedisThreadStore)(nil)
