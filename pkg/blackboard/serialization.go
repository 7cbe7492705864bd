package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting entries to and from Redis hashes.
//
// Redis stores data as string-to-string maps (hashes). Scalar metadata is kept
// in individual fields; the value and tags are JSON-encoded into single fields.

// EntryToHash converts an Entry to a Redis hash.
// Returns an error if the value cannot be JSON-encoded.
func EntryToHash(e Entry) (map[string]interface{}, error) {
	valueJSON, err := json.Marshal(e.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	return map[string]interface{}{
		"key":           e.Key,
		"value":         string(valueJSON),
		"source_agent":  e.SourceAgent,
		"created_at_ms": e.CreatedAt.UnixMilli(),
		"updated_at_ms": e.UpdatedAt.UnixMilli(),
		"ttl_ms":        e.TTL.Milliseconds(),
		"access_count":  e.AccessCount,
		"tags":          string(tagsJSON),
		"priority":      e.Priority,
	}, nil
}

// HashToEntry converts a Redis hash back to an Entry.
// The value is decoded into its generic JSON form (map, slice, float64, ...).
func HashToEntry(hash map[string]string) (*Entry, error) {
	createdMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}
	updatedMs, err := strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at_ms field: %w", err)
	}
	ttlMs, err := strconv.ParseInt(hash["ttl_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ttl_ms field: %w", err)
	}
	accessCount, err := strconv.Atoi(hash["access_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid access_count field: %w", err)
	}
	priority, err := strconv.Atoi(hash["priority"])
	if err != nil {
		return nil, fmt.Errorf("invalid priority field: %w", err)
	}

	var value any
	if raw := hash["value"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal value: %w", err)
		}
	}

	tags := []string{}
	if raw := hash["tags"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return &Entry{
		Key:         hash["key"],
		Value:       value,
		SourceAgent: hash["source_agent"],
		CreatedAt:   time.UnixMilli(createdMs),
		UpdatedAt:   time.UnixMilli(updatedMs),
		TTL:         time.Duration(ttlMs) * time.Millisecond,
		AccessCount: accessCount,
		Tags:        tags,
		Priority:    priority,
	}, nil
}
