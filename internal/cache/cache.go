// Package cache is a time-to-live cache for list resources backed by a
// persistent key/value store. It serves possibly stale data immediately
// and revalidates through a caller supplied fetch function.
package cache

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/logger"
)

const DefaultPrefix = "prefetched_"

// FetchFunc produces the full replacement list for a key. It must return an
// error rather than a partial list on failure.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// Invalidator receives change notifications from a realtime feed.
type Invalidator interface {
	OnInvalidate(key string)
}

// Recorder receives cache events. metrics.Metrics implements it.
type Recorder interface {
	CacheHit(key string)
	CacheMiss(key string)
	CacheFetch(key string, d time.Duration, err error)
	CacheStorageError(op string)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit(string)                          {}
func (nopRecorder) CacheMiss(string)                         {}
func (nopRecorder) CacheFetch(string, time.Duration, error) {}
func (nopRecorder) CacheStorageError(string)                 {}

// Cache is the shared cache context. Create one per process with New and
// pass it to the services that need it.
type Cache struct {
	storage  Storage
	prefix   string
	now      func() time.Time
	recorder Recorder

	mu       sync.Mutex
	watchers map[string]map[uint64]func(key string)
	nextID   uint64
}

type Option func(*Cache)

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPrefix sets the namespace prepended to every storage key.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

func WithRecorder(r Recorder) Option {
	return func(c *Cache) {
		if r != nil {
			c.recorder = r
		}
	}
}

func New(storage Storage, opts ...Option) *Cache {
	c := &Cache{
		storage:  storage,
		prefix:   DefaultPrefix,
		now:      time.Now,
		recorder: nopRecorder{},
		watchers: make(map[string]map[uint64]func(string)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init prepares the underlying storage.
func (c *Cache) Init(ctx context.Context) error {
	if in, ok := c.storage.(Initializer); ok {
		if err := in.Init(ctx); err != nil {
			return apperrors.NewStorage("init", err)
		}
	}
	return nil
}

// Dispose drops all watchers and closes the storage if it holds resources.
func (c *Cache) Dispose() error {
	c.mu.Lock()
	c.watchers = make(map[string]map[uint64]func(string))
	c.mu.Unlock()

	if closer, ok := c.storage.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Now returns the cache's current time.
func (c *Cache) Now() time.Time {
	return c.now()
}

func (c *Cache) storageKey(key string) string {
	return c.prefix + key
}

func (c *Cache) storageError(op, key string, err error) {
	c.recorder.CacheStorageError(op)
	logger.Log.Warn("Cache storage error",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

func readEntry[T any](ctx context.Context, c *Cache, key string) (*Entry[T], bool) {
	raw, ok, err := c.storage.GetItem(ctx, c.storageKey(key))
	if err != nil {
		c.storageError("get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	entry, err := decodeEntry[T](key, raw)
	if err != nil {
		c.storageError("decode", key, err)
		if err := c.storage.RemoveItem(ctx, c.storageKey(key)); err != nil {
			c.storageError("remove", key, err)
		}
		return nil, false
	}
	return entry, true
}

func writeEntry[T any](ctx context.Context, c *Cache, key string, data []T, ts time.Time) {
	raw, err := encodeEntry(data, ts)
	if err != nil {
		c.storageError("encode", key, err)
		return
	}
	if err := c.storage.SetItem(ctx, c.storageKey(key), raw); err != nil {
		c.storageError("set", key, err)
	}
}

// Get returns the cached list for key when it is younger than maxAge. It
// never fetches.
func Get[T any](ctx context.Context, c *Cache, key string, maxAge time.Duration) ([]T, bool) {
	entry, ok := readEntry[T](ctx, c, key)
	if !ok || !entry.FreshAt(c.now(), maxAge) {
		return nil, false
	}
	return entry.Data, true
}

// Peek returns the stored entry for key regardless of its age.
func Peek[T any](ctx context.Context, c *Cache, key string) (*Entry[T], bool) {
	return readEntry[T](ctx, c, key)
}

// Load returns the list for key, fetching it when the stored entry is
// missing, stale or empty. Any stored entry is passed to onCached before
// the fetch is issued so callers can show it while revalidating. A failed
// fetch leaves the stored entry untouched.
func Load[T any](ctx context.Context, c *Cache, key string, fetch FetchFunc[T], ttl time.Duration, onCached func([]T)) ([]T, error) {
	entry, ok := readEntry[T](ctx, c, key)
	if ok {
		if onCached != nil {
			onCached(entry.Data)
		}
		if entry.FreshAt(c.now(), ttl) && len(entry.Data) > 0 {
			c.recorder.CacheHit(key)
			return entry.Data, nil
		}
	}
	c.recorder.CacheMiss(key)

	return refresh(ctx, c, key, fetch)
}

func refresh[T any](ctx context.Context, c *Cache, key string, fetch FetchFunc[T]) ([]T, error) {
	start := time.Now()
	data, err := fetch(ctx)
	c.recorder.CacheFetch(key, time.Since(start), err)
	if err != nil {
		logger.Log.Warn("Cache fetch failed", zap.String("key", key), zap.Error(err))
		return nil, apperrors.NewFetch(key, err)
	}
	if data == nil {
		data = []T{}
	}

	writeEntry(ctx, c, key, data, c.now())
	return data, nil
}

// Update overwrites the list for key and stamps it with the current time.
func Update[T any](ctx context.Context, c *Cache, key string, data []T) {
	writeEntry(ctx, c, key, data, c.now())
}

// Clear removes the entry for key so the next Load fetches.
func (c *Cache) Clear(ctx context.Context, key string) {
	if err := c.storage.RemoveItem(ctx, c.storageKey(key)); err != nil {
		c.storageError("remove", key, err)
	}
}

// Info describes a stored entry without decoding its elements. Timestamp
// is zero for an invalidated entry.
type Info struct {
	Key       string
	Items     int
	Timestamp time.Time
	Age       time.Duration
}

// Inspect reports the size and age of the entry for key.
func (c *Cache) Inspect(ctx context.Context, key string) (*Info, bool) {
	raw, ok, err := c.storage.GetItem(ctx, c.storageKey(key))
	if err != nil {
		c.storageError("get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var env struct {
		Data      []jsoniter.RawMessage `json:"data"`
		Timestamp int64                 `json:"timestamp"`
	}
	if err := json.UnmarshalFromString(raw, &env); err != nil {
		c.storageError("decode", key, err)
		return nil, false
	}

	info := &Info{Key: key, Items: len(env.Data)}
	if env.Timestamp == 0 {
		// Invalidated entries are infinitely old.
		info.Age = time.Duration(math.MaxInt64)
		return info, true
	}
	info.Timestamp = time.UnixMilli(env.Timestamp)
	info.Age = c.now().Sub(info.Timestamp)
	return info, true
}

// Invalidate marks the entry for key as stale while keeping its data for
// display, then notifies the watchers of key.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	raw, ok, err := c.storage.GetItem(ctx, c.storageKey(key))
	if err != nil {
		c.storageError("get", key, err)
	} else if ok {
		var env rawEnvelope
		if err := json.UnmarshalFromString(raw, &env); err != nil {
			c.storageError("decode", key, err)
			c.Clear(ctx, key)
		} else {
			env.Timestamp = 0
			if out, err := json.MarshalToString(env); err != nil {
				c.storageError("encode", key, err)
			} else if err := c.storage.SetItem(ctx, c.storageKey(key), out); err != nil {
				c.storageError("set", key, err)
			}
		}
	}

	logger.Log.Debug("Cache key invalidated", zap.String("key", key))

	for _, fn := range c.watchersFor(key) {
		fn(key)
	}
}

// OnInvalidate implements Invalidator.
func (c *Cache) OnInvalidate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Invalidate(ctx, key)
}

// Watch registers fn to run after key is invalidated. Watchers run on the
// invalidating goroutine and should hand long work off. The returned
// function removes the watcher.
func (c *Cache) Watch(key string, fn func(key string)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	if c.watchers[key] == nil {
		c.watchers[key] = make(map[uint64]func(string))
	}
	c.watchers[key][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers[key], id)
	}
}

func (c *Cache) watchersFor(key string) []func(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fns := make([]func(string), 0, len(c.watchers[key]))
	for _, fn := range c.watchers[key] {
		fns = append(fns, fn)
	}
	return fns
}
