package blackboard

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Board is the in-process blackboard store.
// It is safe for concurrent use. The entry lock is held only for the duration
// of a single map mutation, never while subscribers run.
type Board struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	subs subscriptions

	cleanupInterval time.Duration
	now             func() time.Time

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Board at construction time.
type Option func(*Board)

// WithCleanupInterval sets the period of the background expiry sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(b *Board) {
		if d > 0 {
			b.cleanupInterval = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests that exercise expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Board) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates an empty Board. The cleanup loop is not running until Start is called.
func New(opts ...Option) *Board {
	b := &Board{
		entries:         make(map[string]*Entry),
		subs:            newSubscriptions(),
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Write stores value under key, replacing any existing entry, and then
// notifies every matching subscriber exactly once.
// Write is best-effort and always reports true.
func (b *Board) Write(key string, value any, sourceAgent string, opts ...WriteOption) bool {
	wo := writeOptions{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&wo)
	}

	now := b.now()
	entry := &Entry{
		Key:         key,
		Value:       value,
		SourceAgent: sourceAgent,
		CreatedAt:   now,
		UpdatedAt:   now,
		TTL:         wo.ttl,
		Tags:        wo.tags,
		Priority:    wo.priority,
	}

	b.mu.Lock()
	b.entries[key] = entry
	snapshot := entry.clone()
	b.mu.Unlock()

	b.subs.notify(key, snapshot)
	return true
}

// Read returns the value stored under key.
// An expired entry is deleted and reported as missing. A live entry has its
// access count incremented.
func (b *Board) Read(key string) (any, bool) {
	entry, ok := b.ReadEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// ReadEntry is Read for callers that need the entry metadata.
// The returned access count already includes this read.
func (b *Board) ReadEntry(key string) (Entry, bool) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return Entry{}, false
	}
	if entry.IsExpired(now) {
		delete(b.entries, key)
		return Entry{}, false
	}
	entry.AccessCount++
	return entry.clone(), true
}

// Delete removes key. Returns false if the key was not present.
func (b *Board) Delete(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[key]; !ok {
		return false
	}
	delete(b.entries, key)
	return true
}

// QueryByAgent returns the live entries written by the named agent, newest first.
func (b *Board) QueryByAgent(agentName string) []Entry {
	return b.query(func(e *Entry) bool { return e.SourceAgent == agentName })
}

// QueryByTag returns the live entries carrying tag, newest first.
func (b *Board) QueryByTag(tag string) []Entry {
	return b.query(func(e *Entry) bool { return e.HasTag(tag) })
}

// QueryByPrefix returns the live entries whose key starts with prefix, newest first.
func (b *Board) QueryByPrefix(prefix string) []Entry {
	return b.query(func(e *Entry) bool { return strings.HasPrefix(e.Key, prefix) })
}

// QueryRecent returns live entries created within maxAge, newest first.
// A non-positive limit returns all matches.
func (b *Board) QueryRecent(maxAge time.Duration, limit int) []Entry {
	cutoff := b.now().Add(-maxAge)
	out := b.query(func(e *Entry) bool { return !e.CreatedAt.Before(cutoff) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// query collects clones of live entries matching fn.
// Expired entries are skipped but left in place for Read or Cleanup to remove.
func (b *Board) query(match func(*Entry) bool) []Entry {
	now := b.now()

	b.mu.RLock()
	out := make([]Entry, 0)
	for _, entry := range b.entries {
		if entry.IsExpired(now) || !match(entry) {
			continue
		}
		out = append(out, entry.clone())
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Keys returns the keys of all live entries in lexical order.
func (b *Board) Keys() []string {
	now := b.now()

	b.mu.RLock()
	keys := make([]string, 0, len(b.entries))
	for key, entry := range b.entries {
		if !entry.IsExpired(now) {
			keys = append(keys, key)
		}
	}
	b.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of stored entries, including expired ones not yet cleaned up.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Cleanup removes every expired entry and returns how many were removed.
func (b *Board) Cleanup() int {
	now := b.now()

	b.mu.Lock()
	removed := 0
	for key, entry := range b.entries {
		if entry.IsExpired(now) {
			delete(b.entries, key)
			removed++
		}
	}
	b.mu.Unlock()

	return removed
}

// Stats returns a snapshot of the board's size and subscriptions.
func (b *Board) Stats() Stats {
	now := b.now()
	stats := Stats{ByAgent: make(map[string]int)}

	b.mu.RLock()
	for _, entry := range b.entries {
		if entry.IsExpired(now) {
			stats.ExpiredPending++
			continue
		}
		stats.Entries++
		stats.ByAgent[entry.SourceAgent]++
	}
	b.mu.RUnlock()

	stats.Subscriptions = b.subs.count()

	b.loopMu.Lock()
	stats.CleanupRunning = b.cancel != nil
	b.loopMu.Unlock()

	return stats
}

// Start launches the background cleanup loop. Calling Start on a running
// board is a no-op.
func (b *Board) Start(ctx context.Context) {
	b.loopMu.Lock()
	defer b.loopMu.Unlock()

	if b.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.cleanupLoop(loopCtx, b.done)
}

// Stop cancels the cleanup loop and waits for it to exit.
func (b *Board) Stop() {
	b.loopMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *Board) cleanupLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()

	log.Printf("[Blackboard] Cleanup loop started (interval=%s)", b.cleanupInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Blackboard] Cleanup loop stopped")
			return
		case <-ticker.C:
			if removed := b.Cleanup(); removed > 0 {
				log.Printf("[Blackboard] Cleanup removed %d expired entries", removed)
			}
		}
	}
}
