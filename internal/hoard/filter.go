// Package hoard filters and formats blackboard entries for the CLI.
package hoard

import (
	"path/filepath"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
)

// FilterCriteria defines client-side filtering options.
// All filters are ANDed together.
type FilterCriteria struct {
	Since   time.Time // zero = no filter
	Until   time.Time // zero = no filter
	KeyGlob string    // glob pattern for the key, empty = no filter
	Agent   string    // exact match for source_agent, empty = no filter
	Tag     string    // entry must carry the tag, empty = no filter
}

// Matches returns true if the entry matches all filter criteria.
func (fc *FilterCriteria) Matches(e *blackboard.Entry) bool {
	if !fc.Since.IsZero() && e.UpdatedAt.Before(fc.Since) {
		return false
	}
	if !fc.Until.IsZero() && e.UpdatedAt.After(fc.Until) {
		return false
	}

	if fc.KeyGlob != "" {
		matched, err := filepath.Match(fc.KeyGlob, e.Key)
		if err != nil || !matched {
			return false
		}
	}

	if fc.Agent != "" && e.SourceAgent != fc.Agent {
		return false
	}

	if fc.Tag != "" && !e.HasTag(fc.Tag) {
		return false
	}

	return true
}

// Filter returns the entries that match, preserving order.
func (fc *FilterCriteria) Filter(entries []blackboard.Entry) []blackboard.Entry {
	out := make([]blackboard.Entry, 0, len(entries))
	for i := range entries {
		if fc.Matches(&entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out
}
