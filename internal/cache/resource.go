package cache

import (
	"bytes"
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/betterme/betterme/internal/logger"
)

// Resource binds a key, its ttl and its fetch function to a Cache.
type Resource[T any] struct {
	cache *Cache
	key   string
	ttl   time.Duration
	fetch FetchFunc[T]
}

func NewResource[T any](c *Cache, key string, ttl time.Duration, fetch FetchFunc[T]) *Resource[T] {
	return &Resource[T]{cache: c, key: key, ttl: ttl, fetch: fetch}
}

func (r *Resource[T]) Key() string { return r.key }

func (r *Resource[T]) TTL() time.Duration { return r.ttl }

// Get returns the cached list if it is fresh.
func (r *Resource[T]) Get(ctx context.Context) ([]T, bool) {
	return Get[T](ctx, r.cache, r.key, r.ttl)
}

// Peek returns the cached list regardless of age.
func (r *Resource[T]) Peek(ctx context.Context) ([]T, bool) {
	entry, ok := Peek[T](ctx, r.cache, r.key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// Load is the stale-while-revalidate read. See Load.
func (r *Resource[T]) Load(ctx context.Context, onCached func([]T)) ([]T, error) {
	return Load(ctx, r.cache, r.key, r.fetch, r.ttl, onCached)
}

// Refresh fetches and stores the list regardless of freshness.
func (r *Resource[T]) Refresh(ctx context.Context) ([]T, error) {
	return refresh(ctx, r.cache, r.key, r.fetch)
}

func (r *Resource[T]) Update(ctx context.Context, data []T) {
	Update(ctx, r.cache, r.key, data)
}

func (r *Resource[T]) Clear(ctx context.Context) {
	r.cache.Clear(ctx, r.key)
}

// Stale reports whether the entry is missing or older than the ttl.
func (r *Resource[T]) Stale(ctx context.Context) bool {
	info, ok := r.cache.Inspect(ctx, r.key)
	return !ok || info.Age >= r.ttl
}

// Mutate applies an optimistic change in two phases.
//
// apply receives a copy of the cached list and its result is stored at
// once. commit then performs the remote write; if it fails the previous
// entry is restored and the commit error returned. Finally the list is
// refetched and replaces the optimistic one only if they differ. A failed
// refetch keeps the optimistic list.
func (r *Resource[T]) Mutate(ctx context.Context, apply func([]T) []T, commit func(context.Context) error) ([]T, error) {
	prev, hadPrev := Peek[T](ctx, r.cache, r.key)

	var base []T
	if hadPrev {
		base = slices.Clone(prev.Data)
	}
	optimistic := apply(base)
	r.Update(ctx, optimistic)

	if commit != nil {
		if err := commit(ctx); err != nil {
			if hadPrev {
				writeEntry(ctx, r.cache, r.key, prev.Data, prev.Timestamp)
			} else {
				r.Clear(ctx)
			}
			return nil, err
		}
	}

	fresh, err := r.fetch(ctx)
	if err != nil {
		logger.Log.Warn("Optimistic update not reconciled",
			zap.String("key", r.key),
			zap.Error(err),
		)
		return optimistic, nil
	}

	if sameData(optimistic, fresh) {
		return optimistic, nil
	}

	logger.Log.Debug("Optimistic update replaced by server state", zap.String("key", r.key))
	r.Update(ctx, fresh)
	return fresh, nil
}

func sameData[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
