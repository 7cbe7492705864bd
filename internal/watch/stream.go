package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/hoard"
	"github.com/dyluth/warren/pkg/blackboard"
)

// OutputFormat specifies how streamed entries are written.
type OutputFormat string

const (
	// OutputFormatDefault is human-readable output with timestamps and emojis
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is line-delimited JSON for programmatic processing
	OutputFormatJSON OutputFormat = "json"
)

// EventSource delivers mirrored entries; *blackboard.EventSubscription implements it.
type EventSource interface {
	Events() <-chan *blackboard.Entry
	Errors() <-chan error
}

type formatter interface {
	FormatEntry(entry *blackboard.Entry) error
}

// StreamEntries writes every entry from source that matches filter until
// ctx is cancelled or the source closes. filter may be nil.
func StreamEntries(ctx context.Context, source EventSource, format OutputFormat, w io.Writer, filter *hoard.FilterCriteria) error {
	var f formatter
	switch format {
	case OutputFormatJSON:
		f = &jsonFormatter{encoder: json.NewEncoder(w)}
	default:
		f = &defaultFormatter{writer: w}
	}

	events := source.Events()
	errs := source.Errors()

	for {
		select {
		case <-ctx.Done():
			return nil

		case entry, ok := <-events:
			if !ok {
				return nil
			}
			if filter != nil && !filter.Matches(entry) {
				continue
			}
			if err := f.FormatEntry(entry); err != nil {
				return fmt.Errorf("failed to write entry: %w", err)
			}

		case err, ok := <-errs:
			if !ok {
				// Errors closes together with events; drain the rest there
				errs = nil
				continue
			}
			log.Printf("[Watch] [WARN] %v", err)
		}
	}
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatEntry(e *blackboard.Entry) error {
	ts := e.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := fmt.Fprintf(f.writer, "[%s] %s key=%s by=%s%s\n",
		ts.Local().Format("15:04:05"),
		describe(e),
		e.Key,
		e.SourceAgent,
		formatDetail(e),
	)
	return err
}

// describe labels an entry by what wrote it.
func describe(e *blackboard.Entry) string {
	switch {
	case e.HasTag("agent_failure"):
		return "❌ Agent failed:"
	case e.HasTag("heartbeat"):
		return "💓 Heartbeat:"
	case strings.Contains(e.Key, ":finding:"):
		return "🔎 Finding:"
	default:
		return "✨ Entry written:"
	}
}

func formatDetail(e *blackboard.Entry) string {
	if m, ok := e.Value.(map[string]any); ok {
		if msg, ok := m["error"].(string); ok && msg != "" {
			return fmt.Sprintf(" error=%q", msg)
		}
	}
	if len(e.Tags) > 0 {
		return " tags=" + strings.Join(e.Tags, ",")
	}
	return ""
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) FormatEntry(e *blackboard.Entry) error {
	return f.encoder.Encode(e)
}
