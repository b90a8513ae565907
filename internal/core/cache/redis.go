package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kosmostars/spacefeed/internal/core"
)

// DefaultTTL bounds how long a cached snapshot is served.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "spacefeed:latest:"

// ErrMiss is returned when no snapshot is cached for a source.
var ErrMiss = errors.New("cache miss")

// SnapshotCache keeps the latest snapshot per source in Redis.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New creates a cache from a redis:// URL.
func New(url string, ttl time.Duration) (*SnapshotCache, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), ttl), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{client: client, ttl: ttl, prefix: keyPrefix}
}

// Ping checks connectivity.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("cache is not configured")
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *SnapshotCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Put replaces the cached snapshot for its source.
func (c *SnapshotCache) Put(ctx context.Context, snapshot core.Snapshot) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(snapshot.Source), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot %s: %w", snapshot.Source, err)
	}
	return nil
}

// Get returns the cached snapshot for source or ErrMiss.
func (c *SnapshotCache) Get(ctx context.Context, source core.Source) (*core.Snapshot, error) {
	if c == nil || c.client == nil {
		return nil, ErrMiss
	}
	data, err := c.client.Get(ctx, c.key(source)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("read cached snapshot %s: %w", source, err)
	}
	var snapshot core.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode cached snapshot %s: %w", source, err)
	}
	return &snapshot, nil
}

// Invalidate drops the cached snapshot for source.
func (c *SnapshotCache) Invalidate(ctx context.Context, source core.Source) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(source)).Err()
}

func (c *SnapshotCache) key(source core.Source) string {
	return c.prefix + string(source)
}
