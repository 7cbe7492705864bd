package blackboard

import (
	"time"
)

const (
	// DefaultTTL is applied to writes that do not specify a TTL.
	DefaultTTL = time.Hour

	// DefaultCleanupInterval is the period of the background expiry sweep.
	DefaultCleanupInterval = 300 * time.Second

	// Wildcard matches every key when used as a pattern, or every key with the
	// given prefix when used as a pattern suffix.
	Wildcard = "*"
)

// Entry is a single value stored on the blackboard together with its
// provenance and lifetime metadata.
type Entry struct {
	Key         string        `json:"key"`
	Value       any           `json:"value"`
	SourceAgent string        `json:"source_agent"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	TTL         time.Duration `json:"ttl"`
	AccessCount int           `json:"access_count"`
	Tags        []string      `json:"tags"`
	Priority    int           `json:"priority"` // higher = more important
}

// IsExpired reports whether the entry's TTL has elapsed at the given time.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// HasTag reports whether the entry carries the given tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ExpiresAt returns the instant after which the entry is expired.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// clone returns a copy that callers may keep without racing the store.
// Value is shared; callers must treat it as read-only.
func (e *Entry) clone() Entry {
	out := *e
	if e.Tags != nil {
		out.Tags = make([]string, len(e.Tags))
		copy(out.Tags, e.Tags)
	}
	return out
}

// Stats summarises the current contents of a Board.
type Stats struct {
	Entries        int            `json:"entries"`
	ExpiredPending int            `json:"expired_pending"`
	Subscriptions  int            `json:"subscriptions"`
	ByAgent        map[string]int `json:"by_agent"`
	CleanupRunning bool           `json:"cleanup_running"`
}

// WriteOption customises a single Write call.
type WriteOption func(*writeOptions)

type writeOptions struct {
	ttl      time.Duration
	tags     []string
	priority int
}

// WithTTL overrides DefaultTTL for the written entry. Non-positive values are ignored.
func WithTTL(ttl time.Duration) WriteOption {
	return func(o *writeOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithTags attaches tags to the written entry.
func WithTags(tags ...string) WriteOption {
	return func(o *writeOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithPriority sets the entry priority.
func WithPriority(priority int) WriteOption {
	return func(o *writeOptions) {
		o.priority = priority
	}
}
