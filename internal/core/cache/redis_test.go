package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosmostars/spacefeed/internal/core"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPutGetRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, core.SourceAPOD)
	require.ErrorIs(t, err, ErrMiss)

	fetched := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.Put(ctx, core.Snapshot{
		ID:        7,
		Source:    core.SourceAPOD,
		Payload:   json.RawMessage(`{"title":"Horsehead"}`),
		FetchedAt: fetched,
	}))
	require.True(t, mr.Exists("spacefeed:latest:apod"))

	got, err := c.Get(ctx, core.SourceAPOD)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.True(t, fetched.Equal(got.FetchedAt))
	assert.JSONEq(t, `{"title":"Horsehead"}`, string(got.Payload))
}

func TestEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, core.Snapshot{Source: core.SourceNEO, Payload: json.RawMessage(`[]`)}))
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, core.SourceNEO)
	require.ErrorIs(t, err, ErrMiss)
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, core.Snapshot{Source: core.SourceCME, Payload: json.RawMessage(`[]`)}))
	require.NoError(t, c.Invalidate(ctx, core.SourceCME))
	_, err := c.Get(ctx, core.SourceCME)
	require.ErrorIs(t, err, ErrMiss)
	require.Equal(t, DefaultTTL, c.ttl)
}

func TestNilCacheIsANoop(t *testing.T) {
	var c *SnapshotCache
	require.NoError(t, c.Put(context.Background(), core.Snapshot{}))
	_, err := c.Get(context.Background(), core.SourceISS)
	require.ErrorIs(t, err, ErrMiss)
	require.Error(t, c.Ping(context.Background()))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("http://nope", time.Minute)
	require.Error(t, err)
}
