package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func staticLoader(value interface{}) Loader {
	return func(context.Context) (interface{}, error) { return value, nil }
}

func TestGetOrFetchHitAndMiss(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrFetch(ctx, "products:list", time.Minute, loader)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// Within the TTL the loader must not run again.
	v, err = c.GetOrFetch(ctx, "products:list", time.Minute, loader)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	require.Equal(t, 1, calls)

	clock.Advance(time.Minute)
	v, err = c.GetOrFetch(ctx, "products:list", time.Minute, loader)
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, 2, calls)
}

func TestLoaderErrorPropagatesAndNothingStored(t *testing.T) {
	c := New()
	ctx := context.Background()
	boom := errors.New("engine down")

	_, err := c.GetOrFetch(ctx, "sales:list", time.Minute, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, c.Len())

	v, err := c.GetOrFetch(ctx, "sales:list", time.Minute, staticLoader("ok"))
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestEvictionDropsOldestFirst(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now), WithMaxEntries(5))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.GetOrFetch(ctx, fmt.Sprintf("k%d", i), time.Hour, staticLoader(i))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	require.Equal(t, 5, c.Len())

	// The sixth insert evicts exactly k0, the entry with the smallest storedAt.
	_, err := c.GetOrFetch(ctx, "k5", time.Hour, staticLoader(5))
	require.NoError(t, err)
	require.Equal(t, 5, c.Len())

	keys := c.Keys()
	sort.Strings(keys)
	require.Equal(t, []string{"k1", "k2", "k3", "k4", "k5"}, keys)
}

func TestInvalidatePattern(t *testing.T) {
	c := New()
	ctx := context.Background()

	for _, key := range []string{"products:list", "products:get:1", "sales:list"} {
		_, err := c.GetOrFetch(ctx, key, time.Minute, staticLoader("x"))
		require.NoError(t, err)
	}

	c.InvalidatePattern("products")
	keys := c.Keys()
	require.Equal(t, []string{"sales:list"}, keys)

	c.Invalidate("sales:list")
	require.Zero(t, c.Len())
}

func TestInvalidationDuringLoadIsNotOverwritten(t *testing.T) {
	c := New()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "products:list", time.Minute, func(context.Context) (interface{}, error) {
			close(started)
			<-release
			return "pre-write", nil
		})
		done <- err
	}()

	// A write lands while the loader is still reading the old state.
	<-started
	c.InvalidatePattern("products")
	close(release)
	require.NoError(t, <-done)

	// The slow loader's result must not have been stored; the next read
	// runs a fresh loader and sees the post-write state.
	v, err := c.GetOrFetch(ctx, "products:list", time.Minute, staticLoader("post-write"))
	require.NoError(t, err)
	require.Equal(t, "post-write", v)
}

func TestClear(t *testing.T) {
	c := New()
	ctx := context.Background()
	_, err := c.GetOrFetch(ctx, "settings:list", time.Minute, staticLoader("x"))
	require.NoError(t, err)

	c.Clear()
	require.Zero(t, c.Len())
}

func TestRefreshedEntryIsNotOldest(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now), WithMaxEntries(2))
	ctx := context.Background()

	_, err := c.GetOrFetch(ctx, "a", time.Hour, staticLoader(1))
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = c.GetOrFetch(ctx, "b", time.Hour, staticLoader(2))
	require.NoError(t, err)

	// Re-storing "a" moves its storedAt forward, so "b" becomes the eviction
	// candidate for the next insert.
	clock.Advance(time.Second)
	c.Invalidate("a")
	_, err = c.GetOrFetch(ctx, "a", time.Hour, staticLoader(3))
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = c.GetOrFetch(ctx, "c", time.Hour, staticLoader(4))
	require.NoError(t, err)

	keys := c.Keys()
	sort.Strings(keys)
	require.Equal(t, []string{"a", "c"}, keys)
}
