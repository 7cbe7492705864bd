// Package resolver expands abbreviated agent names typed on the command line.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ResolveAgentName resolves input to one of names.
// An exact match always wins; otherwise input must be a prefix of exactly
// one name.
func ResolveAgentName(names []string, input string) (string, error) {
	if input == "" {
		return "", &NotFoundError{Input: input}
	}

	var matches []string
	for _, name := range names {
		if name == input {
			return name, nil
		}
		if strings.HasPrefix(name, input) {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Input: input}
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", &AmbiguousError{Input: input, Matches: matches}
	}
}

// NotFoundError indicates no agent matched the input.
type NotFoundError struct {
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no agent matching '%s'", e.Input)
}

// AmbiguousError indicates multiple agents matched the input.
type AmbiguousError struct {
	Input   string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous agent name '%s' matches %d agents", e.Input, len(e.Matches))
}

// FormatAmbiguousError creates a user-friendly message listing the matches
// (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	msg := fmt.Sprintf("'%s' matches %d agents:\n", err.Input, len(err.Matches))

	displayCount := min(len(err.Matches), 10)
	for i := 0; i < displayCount; i++ {
		msg += fmt.Sprintf("  %s\n", err.Matches[i])
	}

	if len(err.Matches) > 10 {
		msg += fmt.Sprintf("  ...and %d more\n", len(err.Matches)-10)
	}

	msg += "\nUse a longer prefix to uniquely identify the agent."
	return msg
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var amb *AmbiguousError
	return errors.As(err, &amb)
}
