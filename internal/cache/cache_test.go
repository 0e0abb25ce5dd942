package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sift/internal/models"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(ttl time.Duration, size int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := New(ttl, size)
	c.now = clock.now
	return c, clock
}

func eval(t *testing.T, rel int) models.AIEvaluation {
	t.Helper()
	e, err := models.NewAIEvaluation(rel, 5, 5, "ok", 0.9)
	require.NoError(t, err)
	return e
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("Title", "Summary"), Key("  Title ", "Summary\n"))
	assert.NotEqual(t, Key("Title", "Summary"), Key("Title", "Other"))
	assert.Len(t, Key("a", "b"), 64)
}

func TestRoundTripAndExpiry(t *testing.T) {
	c, clock := newTestCache(time.Hour, 10)
	v := eval(t, 7)

	c.Set("k", v)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, v, got)

	clock.advance(time.Hour + time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on access")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestEvictsOldestInserted(t *testing.T) {
	c, clock := newTestCache(time.Hour, 2)
	c.Set("a", eval(t, 1))
	clock.advance(time.Second)
	c.Set("b", eval(t, 2))
	clock.advance(time.Second)

	// Reading "a" does not protect it: eviction is by insertion, not access.
	_, _ = c.Get("a")
	c.Set("c", eval(t, 3))

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(time.Hour, 2)
	c.Set("a", eval(t, 1))
	c.Set("b", eval(t, 2))
	c.Set("b", eval(t, 9))

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 9, got.RelevanceScore)
}

func TestCleanupExpiredAndClear(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	c.Set("old", eval(t, 1))
	clock.advance(2 * time.Minute)
	c.Set("new", eval(t, 2))

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Zero(t, c.Stats().Hits)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Hour, 50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("%d-%d", w, i%80)
				c.Set(k, models.AIEvaluation{RelevanceScore: i % 10})
				c.Get(k)
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestSnapshotRestore(t *testing.T) {
	src, clock := newTestCache(time.Hour, 10)
	src.Set("first", eval(t, 1))
	clock.advance(time.Minute)
	src.Set("second", eval(t, 2))

	snap := src.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "first", snap[0].Key)

	dst, dstClock := newTestCache(time.Hour, 10)
	dstClock.t = clock.t
	assert.Equal(t, 2, dst.Restore(snap))
	got, ok := dst.Get("second")
	require.True(t, ok)
	assert.Equal(t, 2, got.RelevanceScore)

	stale, staleClock := newTestCache(time.Hour, 10)
	staleClock.t = clock.t.Add(2 * time.Hour)
	assert.Equal(t, 0, stale.Restore(snap))
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	src := New(time.Hour, 10)
	src.Set(Key("AI news", "summary"), eval(t, 8))
	src.Set(Key("Chips", "summary"), eval(t, 6))
	require.NoError(t, store.Save(ctx, src))

	dst := New(time.Hour, 10)
	n, err := store.Load(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok := dst.Get(Key("AI news", "summary"))
	require.True(t, ok)
	assert.Equal(t, 8, got.RelevanceScore)
	assert.Equal(t, 18, got.TotalScore)

	// Saving again replaces rather than appends.
	src.Clear()
	require.NoError(t, store.Save(ctx, src))
	empty := New(time.Hour, 10)
	n, err = store.Load(ctx, empty)
	require.NoError(t, err)
	assert.Zero(t, n)
}
