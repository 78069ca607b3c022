// Package cache provides the time-bounded read-through cache that sits in
// front of the upstream proxy API.
//
// A Store holds raw response bodies keyed by upstream URL. ReadThrough serves
// fresh entries from the store, loads and stores on a miss, and collapses
// concurrent misses for the same key into one load.
package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the freshness window for upstream responses.
const DefaultTTL = 2 * time.Hour

// Store is a TTL-bound byte store.
type Store interface {
	// Get returns the value for key and whether it was present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Source reports where a ReadThrough result came from.
type Source string

const (
	SourceHit  Source = "hit"
	SourceMiss Source = "miss"
)

// Loader produces the value for a key on a miss. Only values returned with a
// nil error are stored.
type Loader func(ctx context.Context) ([]byte, error)

// ReadThrough serves values from a Store and fills it on misses.
type ReadThrough struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewReadThrough wraps store. A non-positive ttl selects DefaultTTL.
func NewReadThrough(store Store, ttl time.Duration, logger *slog.Logger) *ReadThrough {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadThrough{store: store, ttl: ttl, logger: logger}
}

// TTL returns the freshness window.
func (rt *ReadThrough) TTL() time.Duration {
	return rt.ttl
}

// Get returns the cached value for key or calls load. Store errors degrade to
// a miss; they never fail the request.
//
// The shared load runs detached from any single caller's cancellation, so it
// must bound itself. Each caller stops waiting when its own ctx is done.
func (rt *ReadThrough) Get(ctx context.Context, key string, load Loader) ([]byte, Source, error) {
	value, ok, err := rt.store.Get(ctx, key)
	if err != nil {
		rt.logger.WarnContext(ctx, "cache read failed, loading from origin", "key", key, "error", err)
	} else if ok {
		return value, SourceHit, nil
	}

	ch := rt.group.DoChan(key, func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		loaded, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := rt.store.Set(loadCtx, key, loaded, rt.ttl); err != nil {
			rt.logger.WarnContext(loadCtx, "cache write failed", "key", key, "error", err)
		}
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, SourceMiss, res.Err
		}
		return res.Val.([]byte), SourceMiss, nil
	case <-ctx.Done():
		return nil, SourceMiss, ctx.Err()
	}
}

// Close releases the underlying store.
func (rt *ReadThrough) Close() error {
	return rt.store.Close()
}
