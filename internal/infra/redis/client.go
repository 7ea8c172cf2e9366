package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/warden/internal/core/domain"
)

const defaultNamespace = "warden"

// Client stores the bot state as a Redis hash, one field per collection.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	Namespace string `yaml:"namespace"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	return &Client{rdb: rdb, namespace: ns}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func stateKey(namespace string) string {
	return fmt.Sprintf("%s:state", namespace)
}

// Read loads every collection from the state hash.
func (c *Client) Read(ctx context.Context) (domain.PersistedState, error) {
	fields, err := c.rdb.HGetAll(ctx, stateKey(c.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	return decodeFields(fields)
}

// Write replaces the state hash atomically.
func (c *Client) Write(ctx context.Context, state domain.PersistedState) error {
	fields, err := encodeFields(state)
	if err != nil {
		return err
	}

	key := stateKey(c.namespace)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("state write failed: %w", err)
	}
	return nil
}

// encodeFields flattens the state into HSET arguments, sorted by field.
func encodeFields(state domain.PersistedState) ([]any, error) {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]any, 0, len(names)*2)
	for _, name := range names {
		data, err := json.Marshal(state[name])
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", name, err)
		}
		fields = append(fields, name, string(data))
	}
	return fields, nil
}

func decodeFields(fields map[string]string) (domain.PersistedState, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	state := make(domain.PersistedState, len(fields))
	for name, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid collection %s: %w", name, err)
		}
		state[name] = v
	}
	return state, nil
}
