package commands

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/statusserver"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHoardFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		hoardOutputFormat, hoardSince, hoardUntil = "default", "", ""
		hoardPrefix, hoardKey, hoardTag, hoardAgent = "", "", "", ""
		hoardLimit, hoardMirror = 100, false
		statusAddr = DefaultStatusAddr
		rootCmd.SetArgs(nil)
	})
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestHoardCommand(t *testing.T) {
	resetHoardFlags(t)

	sup := supervisor.New(supervisor.DefaultOptions())
	_, err := sup.RegisterAgent(replyAgent{}, agent.Config{Name: "reply"})
	require.NoError(t, err)
	board := sup.Blackboard()
	board.Write("qa:finding:0", "missing test", "qa", blackboard.WithTags("on_demand"))
	board.Write("qa:finding:1", "flaky", "qa", blackboard.WithTags("on_demand"))
	board.Write("pulse:heartbeat", map[string]any{"seq": 1}, "pulse", blackboard.WithTags("heartbeat"))

	ts := httptest.NewServer(statusserver.New(":0", sup).Handler())
	defer ts.Close()

	t.Run("list as jsonl with key filter", func(t *testing.T) {
		out, err := executeRoot(t, "hoard", "--addr", ts.URL, "-o", "jsonl", "--agent", "qa", "--key", "*:1")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
		require.Len(t, lines, 1)
		var entry blackboard.Entry
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
		assert.Equal(t, "qa:finding:1", entry.Key)
	})

	t.Run("list as table", func(t *testing.T) {
		out, err := executeRoot(t, "hoard", "--addr", ts.URL, "-o", "default", "--agent", "", "--key", "", "--prefix", "pulse:")
		require.NoError(t, err)
		assert.Contains(t, out, "pulse:heartbeat")
		assert.Contains(t, out, "1 entry found")
	})

	t.Run("get mode", func(t *testing.T) {
		out, err := executeRoot(t, "hoard", "--addr", ts.URL, "qa:finding:0")
		require.NoError(t, err)
		assert.Contains(t, out, `"value": "missing test"`)
	})

	t.Run("get missing key", func(t *testing.T) {
		_, err := executeRoot(t, "hoard", "--addr", ts.URL, "nope")
		require.Error(t, err)
		assert.Equal(t, "entry 'nope' not found", err.Error())
	})

	t.Run("invalid output format", func(t *testing.T) {
		_, err := executeRoot(t, "hoard", "--addr", ts.URL, "--prefix", "", "-o", "yaml")
		require.Error(t, err)
		assert.Equal(t, "invalid output format", err.Error())
	})
}

func TestHoardMirror(t *testing.T) {
	resetHoardFlags(t)
	t.Cleanup(func() { configPath = DefaultConfigPath })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	path := filepath.Join(t.TempDir(), "warren.yml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(testConfig, "  cleanup_interval: 1m\n", `  cleanup_interval: 1m
  redis:
    url: redis://`+mr.Addr()+`/0
    instance: test
`, 1)), 0644))

	seed, err := blackboard.NewMirror(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	board := blackboard.New()
	seed.Attach(board)
	board.Write("pulse:heartbeat", map[string]any{"seq": 1}, "pulse", blackboard.WithTags("heartbeat"))
	board.Write("qa:finding:0", "missing test", "qa")
	require.NoError(t, seed.Close())

	t.Run("list", func(t *testing.T) {
		out, err := executeRoot(t, "hoard", "-f", path, "--mirror", "--tag", "heartbeat")
		require.NoError(t, err)
		assert.Contains(t, out, "pulse:heartbeat")
		assert.NotContains(t, out, "qa:finding:0")
		assert.Contains(t, out, "1 entry found")
	})

	t.Run("get", func(t *testing.T) {
		out, err := executeRoot(t, "hoard", "-f", path, "--mirror", "--tag", "", "qa:finding:0")
		require.NoError(t, err)
		assert.Contains(t, out, `"value": "missing test"`)

		_, err = executeRoot(t, "hoard", "-f", path, "--mirror", "nope")
		require.Error(t, err)
		assert.Equal(t, "entry 'nope' not found", err.Error())
	})
}

func TestHoardQuery(t *testing.T) {
	resetHoardFlags(t)

	hoardSince, hoardLimit = "2h", 10
	assert.Equal(t, "limit=10&since=2h", hoardQuery().Encode())

	hoardAgent = "qa"
	assert.Equal(t, "agent=qa", hoardQuery().Encode())

	hoardTag = "error"
	assert.Equal(t, "tag=error", hoardQuery().Encode(), "tag is narrower than agent")

	hoardPrefix = "qa:"
	assert.Equal(t, "prefix=qa%3A", hoardQuery().Encode())
}

func TestHoardCriteria(t *testing.T) {
	resetHoardFlags(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	hoardSince, hoardUntil, hoardKey = "2h", "2026-03-01T11:30:00Z", "*:finding:*"
	criteria, err := hoardCriteria(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), criteria.Since)
	assert.Equal(t, now.Add(-30*time.Minute), criteria.Until)
	assert.Equal(t, "*:finding:*", criteria.KeyGlob)

	hoardSince = "sometime"
	_, err = hoardCriteria(now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since")
}
