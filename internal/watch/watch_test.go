package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/warren/internal/hoard"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMirror(t *testing.T) *blackboard.Mirror {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	mirror, err := blackboard.NewMirror(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { mirror.Close() })
	return mirror
}

func testEntry(key, agent string, value any, tags ...string) blackboard.Entry {
	now := time.Now()
	return blackboard.Entry{
		Key:         key,
		Value:       value,
		SourceAgent: agent,
		CreatedAt:   now,
		UpdatedAt:   now,
		TTL:         time.Hour,
		Tags:        tags,
	}
}

func TestPollForEntry(t *testing.T) {
	mirror := newMirror(t)
	ctx := context.Background()

	t.Run("returns entry when found immediately", func(t *testing.T) {
		require.NoError(t, mirror.Store(ctx, testEntry("qa:finding:0", "qa", "x")))

		entry, err := PollForEntry(ctx, mirror, "qa:finding:0", 2*time.Second)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, "qa", entry.SourceAgent)
	})

	t.Run("returns entry when written after delay", func(t *testing.T) {
		go func() {
			time.Sleep(300 * time.Millisecond)
			mirror.Store(context.Background(), testEntry("late:heartbeat", "late", 1))
		}()

		entry, err := PollForEntry(ctx, mirror, "late:heartbeat", 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "late:heartbeat", entry.Key)
	})

	t.Run("times out", func(t *testing.T) {
		start := time.Now()
		_, err := PollForEntry(ctx, mirror, "never", 500*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout waiting for entry never")
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := PollForEntry(cctx, mirror, "never", time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("returns read errors", func(t *testing.T) {
		_, err := PollForEntry(ctx, failingGetter{}, "k", time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read entry: boom")
	})
}

type failingGetter struct{}

func (failingGetter) Get(context.Context, string) (*blackboard.Entry, error) {
	return nil, errors.New("boom")
}

type fakeSource struct {
	events chan *blackboard.Entry
	errors chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan *blackboard.Entry, 10), errors: make(chan error, 10)}
}

func (s *fakeSource) Events() <-chan *blackboard.Entry { return s.events }
func (s *fakeSource) Errors() <-chan error             { return s.errors }

func TestStreamEntries(t *testing.T) {
	t.Run("default format with filter", func(t *testing.T) {
		src := newFakeSource()
		e1 := testEntry("pulse:heartbeat", "pulse", map[string]any{"seq": 1}, "heartbeat")
		e2 := testEntry("qa:finding:0", "qa", "x", "on_demand")
		e3 := testEntry("supervisor:error:qa:1", "supervisor", map[string]any{"error": "timeout after 1s"}, "error", "agent_failure")
		src.events <- &e1
		src.events <- &e2
		src.events <- &e3
		src.errors <- errors.New("bad payload")
		close(src.events)

		var buf bytes.Buffer
		err := StreamEntries(context.Background(), src, OutputFormatDefault, &buf, &hoard.FilterCriteria{KeyGlob: "*:*:*"})
		require.NoError(t, err)

		output := buf.String()
		assert.NotContains(t, output, "pulse:heartbeat", "filtered out")
		assert.Contains(t, output, "🔎 Finding: key=qa:finding:0 by=qa tags=on_demand")
		assert.Contains(t, output, `❌ Agent failed: key=supervisor:error:qa:1 by=supervisor error="timeout after 1s"`)
	})

	t.Run("json format", func(t *testing.T) {
		src := newFakeSource()
		e := testEntry("pulse:heartbeat", "pulse", 1, "heartbeat")
		src.events <- &e
		close(src.events)

		var buf bytes.Buffer
		require.NoError(t, StreamEntries(context.Background(), src, OutputFormatJSON, &buf, nil))

		var decoded blackboard.Entry
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "pulse:heartbeat", decoded.Key)
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- StreamEntries(ctx, newFakeSource(), OutputFormatDefault, &bytes.Buffer{}, nil) }()

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("StreamEntries did not return")
		}
	})

	t.Run("streams mirrored writes", func(t *testing.T) {
		mirror := newMirror(t)
		board := blackboard.New()
		mirror.Attach(board)
		defer mirror.Detach()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sub, err := mirror.SubscribeEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		var buf syncBuffer
		done := make(chan error, 1)
		go func() { done <- StreamEntries(ctx, sub, OutputFormatDefault, &buf, nil) }()

		board.Write("pulse:heartbeat", map[string]any{"seq": 1}, "pulse", blackboard.WithTags("heartbeat"))

		assert.Eventually(t, func() bool {
			return strings.Contains(buf.String(), "💓 Heartbeat: key=pulse:heartbeat by=pulse")
		}, 2*time.Second, 20*time.Millisecond)

		cancel()
		<-done
	})
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		entry    blackboard.Entry
		expected string
	}{
		{testEntry("supervisor:error:a:1", "supervisor", nil, "error", "agent_failure"), "❌ Agent failed:"},
		{testEntry("a:heartbeat", "a", nil, "heartbeat"), "💓 Heartbeat:"},
		{testEntry("a:finding:3", "a", nil), "🔎 Finding:"},
		{testEntry("a:notes", "a", nil), "✨ Entry written:"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, describe(&tt.entry), tt.entry.Key)
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
