// Package watch follows blackboard writes mirrored to Redis.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
)

// EntryGetter reads a single mirrored entry.
type EntryGetter interface {
	Get(ctx context.Context, key string) (*blackboard.Entry, error)
}

// PollForEntry polls for key to appear in the mirror.
// Returns the entry or an error if timeout occurs.
// Polls every 200ms for the specified timeout duration.
func PollForEntry(ctx context.Context, getter EntryGetter, key string, timeout time.Duration) (*blackboard.Entry, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for entry %s after %v", key, timeout)

		case <-ticker.C:
			entry, err := getter.Get(ctx, key)
			if err != nil {
				if blackboard.IsNotFound(err) {
					// Not written yet, continue polling
					continue
				}
				return nil, fmt.Errorf("failed to read entry: %w", err)
			}

			return entry, nil
		}
	}
}
