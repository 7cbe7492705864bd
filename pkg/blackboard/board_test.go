package blackboard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for expiry tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func TestWriteRead(t *testing.T) {
	board := New()

	t.Run("read returns written value", func(t *testing.T) {
		ok := board.Write("k", "v", "a")
		assert.True(t, ok)

		value, found := board.Read("k")
		require.True(t, found)
		assert.Equal(t, "v", value)
	})

	t.Run("missing key", func(t *testing.T) {
		value, found := board.Read("missing")
		assert.False(t, found)
		assert.Nil(t, value)
	})

	t.Run("overwrite is last write wins", func(t *testing.T) {
		board.Write("k2", 1, "a")
		board.Write("k2", 2, "b")

		entry, found := board.ReadEntry("k2")
		require.True(t, found)
		assert.Equal(t, 2, entry.Value)
		assert.Equal(t, "b", entry.SourceAgent)
	})

	t.Run("write applies options", func(t *testing.T) {
		board.Write("opts", "x", "a", WithTTL(time.Minute), WithTags("t1", "t2"), WithPriority(7))

		entry, found := board.ReadEntry("opts")
		require.True(t, found)
		assert.Equal(t, time.Minute, entry.TTL)
		assert.Equal(t, []string{"t1", "t2"}, entry.Tags)
		assert.Equal(t, 7, entry.Priority)
	})

	t.Run("default ttl", func(t *testing.T) {
		board.Write("dflt", "x", "a", WithTTL(0))
		entry, found := board.ReadEntry("dflt")
		require.True(t, found)
		assert.Equal(t, DefaultTTL, entry.TTL)
	})
}

func TestReadIncrementsAccessCount(t *testing.T) {
	board := New()
	board.Write("k", "v", "a")

	board.Read("k")
	board.Read("k")
	entry, found := board.ReadEntry("k")
	require.True(t, found)
	assert.Equal(t, 3, entry.AccessCount)

	// Queries do not count as accesses
	results := board.QueryByAgent("a")
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].AccessCount)
}

func TestExpiry(t *testing.T) {
	clock := newFakeClock()
	board := New(WithClock(clock.Now))

	board.Write("k", "v", "a", WithTTL(10*time.Second))

	t.Run("live before ttl", func(t *testing.T) {
		clock.Advance(10 * time.Second)
		_, found := board.Read("k")
		assert.True(t, found, "entry is expired only once now - created_at > ttl")
	})

	t.Run("queries skip expired entries without deleting", func(t *testing.T) {
		clock.Advance(time.Second)
		assert.Empty(t, board.QueryRecent(time.Hour, 0))
		assert.Empty(t, board.QueryByAgent("a"))
		assert.Equal(t, 1, board.Len())
	})

	t.Run("read deletes expired entry", func(t *testing.T) {
		value, found := board.Read("k")
		assert.False(t, found)
		assert.Nil(t, value)
		assert.Equal(t, 0, board.Len())
	})
}

func TestCleanup(t *testing.T) {
	clock := newFakeClock()
	board := New(WithClock(clock.Now))

	board.Write("short", 1, "a", WithTTL(time.Second))
	board.Write("long", 2, "a", WithTTL(time.Hour))
	clock.Advance(2 * time.Second)

	stats := board.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.ExpiredPending)

	removed := board.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"long"}, board.Keys())
}

func TestCleanupLoop(t *testing.T) {
	clock := newFakeClock()
	board := New(WithClock(clock.Now), WithCleanupInterval(10*time.Millisecond))

	board.Write("k", 1, "a", WithTTL(time.Second))
	clock.Advance(2 * time.Second)

	board.Start(context.Background())
	defer board.Stop()

	assert.True(t, board.Stats().CleanupRunning)
	assert.Eventually(t, func() bool {
		return board.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	board := New(WithCleanupInterval(time.Millisecond))
	board.Stop()

	board.Start(context.Background())
	board.Start(context.Background())
	board.Stop()
	board.Stop()

	assert.False(t, board.Stats().CleanupRunning)
}

func TestDelete(t *testing.T) {
	board := New()
	board.Write("k", "v", "a")

	assert.True(t, board.Delete("k"))
	assert.False(t, board.Delete("k"))

	_, found := board.Read("k")
	assert.False(t, found)
}

func TestQueries(t *testing.T) {
	clock := newFakeClock()
	board := New(WithClock(clock.Now))

	board.Write("researcher:finding:1", 1, "researcher", WithTags("research"))
	clock.Advance(time.Second)
	board.Write("researcher:finding:2", 2, "researcher", WithTags("research", "urgent"))
	clock.Advance(time.Second)
	board.Write("auditor:report", 3, "auditor", WithTags("audit"))

	t.Run("by agent", func(t *testing.T) {
		results := board.QueryByAgent("researcher")
		require.Len(t, results, 2)
		assert.Equal(t, "researcher:finding:2", results[0].Key)
	})

	t.Run("by tag", func(t *testing.T) {
		results := board.QueryByTag("urgent")
		require.Len(t, results, 1)
		assert.Equal(t, 2, results[0].Value)
	})

	t.Run("by prefix", func(t *testing.T) {
		results := board.QueryByPrefix("researcher:")
		assert.Len(t, results, 2)
		assert.Empty(t, board.QueryByPrefix("nobody:"))
	})

	t.Run("recent is newest first and limited", func(t *testing.T) {
		results := board.QueryRecent(time.Hour, 2)
		require.Len(t, results, 2)
		assert.Equal(t, "auditor:report", results[0].Key)
		assert.Equal(t, "researcher:finding:2", results[1].Key)
	})

	t.Run("recent respects max age", func(t *testing.T) {
		results := board.QueryRecent(1500*time.Millisecond, 0)
		require.Len(t, results, 2)
		assert.Equal(t, "auditor:report", results[0].Key)
	})

	t.Run("stats by agent", func(t *testing.T) {
		stats := board.Stats()
		assert.Equal(t, 3, stats.Entries)
		assert.Equal(t, 2, stats.ByAgent["researcher"])
		assert.Equal(t, 1, stats.ByAgent["auditor"])
	})
}

func TestQueryResultsAreCopies(t *testing.T) {
	board := New()
	board.Write("k", "v", "a", WithTags("x"))

	results := board.QueryByTag("x")
	require.Len(t, results, 1)
	results[0].Tags[0] = "mutated"

	entry, found := board.ReadEntry("k")
	require.True(t, found)
	assert.Equal(t, []string{"x"}, entry.Tags)
}

func TestConcurrentWriters(t *testing.T) {
	board := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("agent-%d:%d", i, j)
				board.Write(key, j, fmt.Sprintf("agent-%d", i))
				board.Read(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, board.Len())
}
