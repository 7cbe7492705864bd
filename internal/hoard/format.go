package hoard

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
)

// OutputFormat specifies how to format an entry listing.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated values
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete entries as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSONL:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// Write formats entries in the requested format.
func Write(w io.Writer, entries []blackboard.Entry, format OutputFormat, source string, now time.Time) error {
	if format == OutputFormatJSONL {
		return FormatJSONL(w, entries)
	}
	FormatTable(w, entries, source, now)
	return nil
}

// FormatTable writes entries as a formatted table to the provided writer.
// The table includes columns: KEY, BY, TAGS, AGE, EXPIRES and VALUE (truncated).
// Returns the number of entries formatted.
func FormatTable(w io.Writer, entries []blackboard.Entry, source string, now time.Time) int {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No entries found on %s\n", source)
		return 0
	}

	fmt.Fprintf(w, "Blackboard entries on %s:\n\n", source)

	fmt.Fprintf(w, "%-32s %-14s %-18s %-8s %-8s %s\n",
		"KEY", "BY", "TAGS", "AGE", "EXPIRES", "VALUE")
	fmt.Fprintf(w, "%-32s %-14s %-18s %-8s %-8s %s\n",
		strings.Repeat("-", 32), strings.Repeat("-", 14), strings.Repeat("-", 18), "--------", "--------", strings.Repeat("-", 40))

	for _, e := range entries {
		fmt.Fprintf(w, "%-32s %-14s %-18s %-8s %-8s %s\n",
			formatKey(e.Key),
			formatSource(e.SourceAgent),
			formatTags(e.Tags),
			formatAge(e.UpdatedAt, now),
			formatExpiry(e, now),
			formatValue(e.Value),
		)
	}

	countMsg := "entry"
	if len(entries) != 1 {
		countMsg = "entries"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(entries), countMsg)

	return len(entries)
}

// FormatJSONL writes entries as line-delimited JSON (JSONL) to the provided writer.
// This format is ideal for streaming and processing with tools like jq.
func FormatJSONL(w io.Writer, entries []blackboard.Entry) error {
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}

	return nil
}

// FormatSingleJSON writes a single entry as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, entry blackboard.Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)

	return nil
}

// formatKey keeps the tail of long keys, where the distinguishing part is.
func formatKey(key string) string {
	if len(key) > 32 {
		return "..." + key[len(key)-29:]
	}
	return key
}

func formatSource(agent string) string {
	if agent == "" {
		return "-"
	}
	if len(agent) > 14 {
		return agent[:11] + "..."
	}
	return agent
}

func formatTags(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	joined := strings.Join(tags, ",")
	if len(joined) > 18 {
		return joined[:15] + "..."
	}
	return joined
}

// formatValue renders the value as compact JSON, first line only, max 40 characters.
func formatValue(value any) string {
	if value == nil {
		return "-"
	}

	var text string
	if s, ok := value.(string); ok {
		text = s
	} else {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		text = string(data)
	}

	var firstLine string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			firstLine = trimmed
			break
		}
	}
	if firstLine == "" {
		return "-"
	}

	if len(firstLine) > 40 {
		return firstLine[:37] + "..."
	}
	return firstLine
}

// formatAge shows relative time like "2m ago", "1h ago", etc.
func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return formatDuration(now.Sub(t)) + " ago"
}

// formatExpiry shows the remaining lifetime.
func formatExpiry(e blackboard.Entry, now time.Time) string {
	if e.TTL <= 0 || e.CreatedAt.IsZero() {
		return "-"
	}
	remaining := e.ExpiresAt().Sub(now)
	if remaining <= 0 {
		return "expired"
	}
	return formatDuration(remaining)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
