package printer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestErrorWithContext(t *testing.T) {
	context := map[string]string{
		"Config":   "warren.yml",
		"Agent":    "researcher",
		"Instance": "default",
	}
	err := ErrorWithContext("Test Error", "Explanation", context, []string{"Fix it"})
	require.Error(t, err)
	require.Equal(t, "Test Error", err.Error())
}

func TestWriteError(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	writeError(&buf, "Config invalid", "Something is wrong", map[string]string{"b": "2", "a": "1"}, []string{"one", "two"})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Config invalid\n\n"))
	assert.Contains(t, out, "Something is wrong\n")
	assert.Less(t, strings.Index(out, "  a: 1"), strings.Index(out, "  b: 2"), "context sorted")
	assert.Contains(t, out, "Either:\n  1. one\n  2. two\n")

	buf.Reset()
	writeError(&buf, "T", "", nil, []string{"only"})
	assert.Equal(t, "T\n\n\nonly\n", buf.String())
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	err := Table(&buf, []string{"name", "type"}, [][]string{
		{"heartbeat", "persistent"},
		{"qa", "on_demand"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "NAME       TYPE", lines[0])
	assert.Equal(t, "heartbeat  persistent", lines[1])
	assert.Equal(t, "qa         on_demand", lines[2])
}

func TestStatus(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	for _, s := range []string{"idle", "running", "paused", "error", "stopped"} {
		assert.Equal(t, s, Status(s))
	}
}
