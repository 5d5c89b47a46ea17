package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/betterme/betterme/internal/errors"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
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

// failingStorage fails every operation.
type failingStorage struct{}

var errQuota = errors.New("quota exceeded")

func (failingStorage) GetItem(context.Context, string) (string, bool, error) { return "", false, errQuota }
func (failingStorage) SetItem(context.Context, string, string) error         { return errQuota }
func (failingStorage) RemoveItem(context.Context, string) error              { return errQuota }

type countingFetch struct {
	mu    sync.Mutex
	calls int
	data  []item
	err   error
}

func (f *countingFetch) Fetch(context.Context) ([]item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *countingFetch) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCache(t *testing.T) (*Cache, *MemoryStorage, *fakeClock) {
	t.Helper()
	storage := NewMemoryStorage()
	clock := newFakeClock()
	c := New(storage, WithClock(clock.Now))
	require.NoError(t, c.Init(context.Background()))
	return c, storage, clock
}

func TestFreshnessBoundary(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)
	ttl := 30 * time.Second

	Update(ctx, c, "posts", []item{{ID: "1"}})

	clock.Advance(ttl - time.Millisecond)
	got, ok := Get[item](ctx, c, "posts", ttl)
	require.True(t, ok)
	assert.Equal(t, []item{{ID: "1"}}, got)

	fetch := &countingFetch{data: []item{{ID: "2"}}}
	got, err := Load(ctx, c, "posts", fetch.Fetch, ttl, nil)
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: "1"}}, got)
	assert.Equal(t, 0, fetch.Calls())

	clock.Advance(2 * time.Millisecond)
	_, ok = Get[item](ctx, c, "posts", ttl)
	assert.False(t, ok)

	got, err = Load(ctx, c, "posts", fetch.Fetch, ttl, nil)
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: "2"}}, got)
	assert.Equal(t, 1, fetch.Calls())
}

func TestExactlyTTLIsStale(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)

	Update(ctx, c, "k", []item{{ID: "1"}})
	clock.Advance(time.Minute)

	_, ok := Get[item](ctx, c, "k", time.Minute)
	assert.False(t, ok)
}

func TestGetMissing(t *testing.T) {
	c, _, _ := newTestCache(t)
	got, ok := Get[item](context.Background(), c, "nothing", time.Hour)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCorruptEntryIsRemoved(t *testing.T) {
	ctx := context.Background()
	c, storage, _ := newTestCache(t)
	require.NoError(t, storage.SetItem(ctx, DefaultPrefix+"posts", "{not json"))

	_, ok := Get[item](ctx, c, "posts", time.Hour)
	assert.False(t, ok)
	assert.Equal(t, 0, storage.Len())
}

func TestLoadFreshEmptyRefetches(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	Update(ctx, c, "posts", []item{})

	fetch := &countingFetch{data: []item{{ID: "1"}}}
	got, err := Load(ctx, c, "posts", fetch.Fetch, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fetch.Calls())
	assert.Len(t, got, 1)
}

func TestLoadCallsOnCachedBeforeFetch(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)
	Update(ctx, c, "posts", []item{{ID: "old"}})
	clock.Advance(time.Hour)

	var order []string
	fetch := func(context.Context) ([]item, error) {
		order = append(order, "fetch")
		return []item{{ID: "new"}}, nil
	}
	onCached := func(data []item) {
		order = append(order, "cached:"+data[0].ID)
	}

	got, err := Load(ctx, c, "posts", fetch, time.Minute, onCached)
	require.NoError(t, err)
	assert.Equal(t, []string{"cached:old", "fetch"}, order)
	assert.Equal(t, []item{{ID: "new"}}, got)
}

func TestStaleWhileRevalidate(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)
	Update(ctx, c, "posts", []item{{ID: "stale"}})
	clock.Advance(time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) ([]item, error) {
		close(started)
		<-release
		return []item{{ID: "fresh"}}, nil
	}

	done := make(chan []item)
	go func() {
		data, err := Load(ctx, c, "posts", fetch, time.Minute, nil)
		assert.NoError(t, err)
		done <- data
	}()

	<-started
	entry, ok := Peek[item](ctx, c, "posts")
	require.True(t, ok)
	assert.Equal(t, []item{{ID: "stale"}}, entry.Data)

	close(release)
	assert.Equal(t, []item{{ID: "fresh"}}, <-done)

	entry, ok = Peek[item](ctx, c, "posts")
	require.True(t, ok)
	assert.Equal(t, []item{{ID: "fresh"}}, entry.Data)
	assert.Equal(t, clock.Now().UnixMilli(), entry.Timestamp.UnixMilli())
}

func TestFetchFailurePreservesStale(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)
	Update(ctx, c, "connections", []item{{ID: "c1"}})
	clock.Advance(time.Hour)

	boom := errors.New("network down")
	fetch := &countingFetch{err: boom}

	got, err := Load(ctx, c, "connections", fetch.Fetch, time.Minute, nil)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, boom)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeFetch))

	entry, ok := Peek[item](ctx, c, "connections")
	require.True(t, ok)
	assert.Equal(t, []item{{ID: "c1"}}, entry.Data)
}

func TestStorageErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	c := New(failingStorage{})

	_, ok := Get[item](ctx, c, "posts", time.Hour)
	assert.False(t, ok)

	Update(ctx, c, "posts", []item{{ID: "1"}})
	c.Clear(ctx, "posts")

	fetch := &countingFetch{data: []item{{ID: "1"}}}
	got, err := Load(ctx, c, "posts", fetch.Fetch, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: "1"}}, got)
	assert.Equal(t, 1, fetch.Calls())
}

func TestUpdateRefreshesTimestamp(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)
	Update(ctx, c, "k", []item{{ID: "1"}})
	clock.Advance(2 * time.Minute)

	Update(ctx, c, "k", []item{{ID: "2"}})
	got, ok := Get[item](ctx, c, "k", time.Minute)
	require.True(t, ok)
	assert.Equal(t, []item{{ID: "2"}}, got)
}

func TestClearForcesMiss(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	Update(ctx, c, "k", []item{{ID: "1"}})

	c.Clear(ctx, "k")
	_, ok := Peek[item](ctx, c, "k")
	assert.False(t, ok)
}

func TestKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	Update(ctx, c, "posts", []item{{ID: "p"}})
	Update(ctx, c, "profiles", []item{{ID: "u"}})

	posts, _ := Get[item](ctx, c, "posts", time.Hour)
	profiles, _ := Get[item](ctx, c, "profiles", time.Hour)
	assert.Equal(t, "p", posts[0].ID)
	assert.Equal(t, "u", profiles[0].ID)
}

func TestInvalidateKeepsDataAndNotifies(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	Update(ctx, c, "posts", []item{{ID: "1"}})

	var notified []string
	cancel := c.Watch("posts", func(key string) { notified = append(notified, key) })
	c.Watch("connections", func(key string) { t.Fatalf("unexpected notification for %s", key) })

	c.OnInvalidate("posts")

	_, ok := Get[item](ctx, c, "posts", time.Hour)
	assert.False(t, ok, "invalidated entry must be stale")

	entry, ok := Peek[item](ctx, c, "posts")
	require.True(t, ok)
	assert.Equal(t, []item{{ID: "1"}}, entry.Data)
	assert.Equal(t, []string{"posts"}, notified)

	cancel()
	c.OnInvalidate("posts")
	assert.Len(t, notified, 1)
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)
	Update(ctx, c, "posts", []item{{ID: "1"}, {ID: "2"}})
	clock.Advance(10 * time.Second)

	info, ok := c.Inspect(ctx, "posts")
	require.True(t, ok)
	assert.Equal(t, 2, info.Items)
	assert.Equal(t, 10*time.Second, info.Age)

	c.Invalidate(ctx, "posts")
	info, ok = c.Inspect(ctx, "posts")
	require.True(t, ok)
	assert.Equal(t, 2, info.Items)
	assert.True(t, info.Timestamp.IsZero())
	assert.Greater(t, info.Age, 24*time.Hour)
}

func TestDisposeClosesStorage(t *testing.T) {
	s := &closingStorage{MemoryStorage: NewMemoryStorage()}
	c := New(s)
	c.Watch("k", func(string) {})

	require.NoError(t, c.Dispose())
	assert.True(t, s.closed)
	assert.Empty(t, c.watchersFor("k"))
}

type closingStorage struct {
	*MemoryStorage
	closed bool
}

func (s *closingStorage) Close() error {
	s.closed = true
	return nil
}
