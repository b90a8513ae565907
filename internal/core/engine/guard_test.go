package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardSerializesSameKey(t *testing.T) {
	guard := NewGuard()

	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		runs    atomic.Int32
		wg      sync.WaitGroup
	)
	body := func(context.Context) error {
		n := active.Add(1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, guard.Do(context.Background(), "apod", body))
		}()
	}
	wg.Wait()

	require.Equal(t, int32(5), runs.Load())
	require.Equal(t, int32(1), maxSeen.Load())
	require.False(t, guard.Held("apod"))
}

func TestGuardKeysAreIndependent(t *testing.T) {
	guard := NewGuard()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = guard.Do(context.Background(), "iss", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	require.True(t, guard.Held("iss"))

	done := make(chan struct{})
	go func() {
		_ = guard.Do(context.Background(), "neo", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key was blocked")
	}
	close(release)
}

func TestGuardWaiterHonoursContext(t *testing.T) {
	guard := NewGuard()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = guard.Do(context.Background(), "cme", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := guard.Do(ctx, "cme", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, called)
	require.Equal(t, 0, guard.Waiting("cme"))
	close(release)
}

func TestGuardReleasesOnError(t *testing.T) {
	guard := NewGuard()
	boom := errors.New("boom")

	err := guard.Do(context.Background(), "flr", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, guard.Held("flr"))

	require.NoError(t, guard.Do(context.Background(), "flr", func(context.Context) error { return nil }))
}
