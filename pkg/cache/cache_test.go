package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	return store, clock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value, time.Minute))
	value[0] = 'x'

	got, _, _ := store.Get(ctx, "k")
	got[1] = 'y'

	again, _, _ := store.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestReadThrough_HitWithinWindowAndRefetchAfter(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()
	rt := NewReadThrough(store, 0, discardLogger())
	assert.Equal(t, DefaultTTL, rt.TTL())

	var calls int32
	load := func(context.Context) ([]byte, error) {
		n := atomic.AddInt32(&calls, 1)
		return []byte{byte('0' + n)}, nil
	}

	v, src, err := rt.Get(ctx, "https://upstream", load)
	require.NoError(t, err)
	assert.Equal(t, SourceMiss, src)
	assert.Equal(t, []byte("1"), v)

	clock.Advance(DefaultTTL - time.Second)
	v, src, err = rt.Get(ctx, "https://upstream", load)
	require.NoError(t, err)
	assert.Equal(t, SourceHit, src)
	assert.Equal(t, []byte("1"), v)

	clock.Advance(time.Second)
	v, src, err = rt.Get(ctx, "https://upstream", load)
	require.NoError(t, err)
	assert.Equal(t, SourceMiss, src)
	assert.Equal(t, []byte("2"), v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestReadThrough_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	rt := NewReadThrough(store, time.Hour, discardLogger())

	boom := errors.New("boom")
	_, _, err := rt.Get(ctx, "k", func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())

	v, src, err := rt.Get(ctx, "k", func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, SourceMiss, src)
	assert.Equal(t, []byte("ok"), v)
}

func TestReadThrough_CollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	rt := NewReadThrough(store, time.Hour, discardLogger())

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return []byte("catalog"), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, _ = rt.Get(ctx, "k", load)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, _ = rt.Get(ctx, "k", load)
		}(i)
	}

	// Let the followers reach the in-flight load before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, []byte("catalog"), r)
	}
}

func TestReadThrough_SharedLoadOutlivesCancelledCaller(t *testing.T) {
	store, _ := newTestStore()
	rt := NewReadThrough(store, time.Hour, discardLogger())

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		select {
		case <-release:
			return []byte("catalog"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := rt.Get(firstCtx, "k", load)
		firstErr <- err
	}()
	<-started

	type result struct {
		value []byte
		err   error
	}
	second := make(chan result, 1)
	go func() {
		v, _, err := rt.Get(context.Background(), "k", load)
		second <- result{v, err}
	}()

	// Let the second caller join the in-flight load.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []byte("catalog"), got.value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	cached, ok, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("catalog"), cached)
}

func TestReadThrough_CallerDeadlineStopsWaiting(t *testing.T) {
	store, _ := newTestStore()
	rt := NewReadThrough(store, time.Hour, discardLogger())

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := rt.Get(ctx, "k", func(context.Context) ([]byte, error) {
		<-release
		return []byte("late"), nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}

func (failingStore) Close() error { return nil }

func TestReadThrough_StoreFailureDegradesToLoad(t *testing.T) {
	rt := NewReadThrough(failingStore{}, time.Hour, discardLogger())

	v, src, err := rt.Get(context.Background(), "k", func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, SourceMiss, src)
	assert.Equal(t, []byte("fresh"), v)
}
