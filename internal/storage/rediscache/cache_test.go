package rediscache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/storage/memory"
)

type fakeSet struct {
	mu      sync.Mutex
	sets    map[string]map[string]bool
	lookups int
	fail    error
}

func newFakeSet() *fakeSet { return &fakeSet{sets: make(map[string]map[string]bool)} }

func (f *fakeSet) has(key, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[key][id]
}

func (f *fakeSet) SIsMember(_ context.Context, key string, member any) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.fail != nil {
		return redis.NewBoolResult(false, f.fail)
	}
	return redis.NewBoolResult(f.sets[key][member.(string)], nil)
}

func (f *fakeSet) SAdd(_ context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return redis.NewIntResult(0, f.fail)
	}
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		f.sets[key][m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

type countingStore struct {
	*memory.JobStore
	exists int
}

func (c *countingStore) Exists(ctx context.Context, id string) (bool, error) {
	c.exists++
	return c.JobStore.Exists(ctx, id)
}

func TestCacheShortCircuitsKnownIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := &countingStore{JobStore: memory.NewJobStore()}
	set := newFakeSet()
	store := Wrap(inner, set, "", nil)

	ok, err := store.Exists(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, inner.exists)

	require.NoError(t, store.Insert(ctx, crawler.StoredJob{JobRecord: crawler.JobRecord{ID: "a"}}))
	require.True(t, set.has(DefaultKey, "a"))

	ok, err = store.Exists(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, inner.exists, "cache hit skips the store")

	require.ErrorIs(t, store.Insert(ctx, crawler.StoredJob{JobRecord: crawler.JobRecord{ID: "a"}}),
		crawler.ErrDuplicate)
}

func TestCacheBackfillsFromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := memory.NewJobStore()
	require.NoError(t, inner.Insert(ctx, crawler.StoredJob{JobRecord: crawler.JobRecord{ID: "old"}}))
	set := newFakeSet()
	store := Wrap(inner, set, "k", nil)

	ok, err := store.Exists(ctx, "old")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, set.has("k", "old"))
}

func TestIDsKnownToAnotherStoreAreNotTrusted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	set := newFakeSet()
	oldKey := KeyFor("", "sqlite", "/var/lib/jobharvest/jobs.db", "jobs")
	newKey := KeyFor("", "sqlite", "/tmp/fresh.db", "jobs")
	require.NotEqual(t, oldKey, newKey)

	previous := Wrap(memory.NewJobStore(), set, oldKey, nil)
	require.NoError(t, previous.Insert(ctx, crawler.StoredJob{JobRecord: crawler.JobRecord{ID: "job-1"}}))

	fresh := memory.NewJobStore()
	store := Wrap(fresh, set, newKey, nil)
	ok, err := store.Exists(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Insert(ctx, crawler.StoredJob{JobRecord: crawler.JobRecord{ID: "job-1"}}))
	require.Equal(t, 1, fresh.Len())
	require.True(t, set.has(newKey, "job-1"))
}

func TestKeyForScopesByStoreAndHidesDSN(t *testing.T) {
	t.Parallel()

	dsn := "postgres://harvest:s3cret@db:5432/jobs"
	key := KeyFor("", "postgres", dsn, "jobs")
	require.True(t, strings.HasPrefix(key, DefaultKey+":postgres:"))
	require.NotContains(t, key, "s3cret")
	require.Equal(t, key, KeyFor("", "postgres", dsn, "jobs"))
	require.NotEqual(t, key, KeyFor("", "postgres", dsn, "jobs_archive"))
	require.True(t, strings.HasPrefix(KeyFor("team", "sqlite", "jobs.db", "jobs"), "team:sqlite:"))
}

func TestCacheFallsThroughOnRedisErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := memory.NewJobStore()
	set := newFakeSet()
	set.fail = errors.New("connection refused")
	store := Wrap(inner, set, "", nil)

	require.NoError(t, store.Insert(ctx, crawler.StoredJob{JobRecord: crawler.JobRecord{ID: "x"}}))
	ok, err := store.Exists(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "x", got.ID)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), "not-a-url")
	require.Error(t, err)
}
