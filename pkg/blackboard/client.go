package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// mirrorWriteTimeout bounds each Redis round trip made on behalf of a write.
const mirrorWriteTimeout = 2 * time.Second

// MirrorQueueSize is the number of writes that may wait for Redis before
// further writes are dropped from the mirror.
const MirrorQueueSize = 256

// Mirror copies blackboard writes into Redis for observers outside the process.
// All keys and channels are namespaced with the instance name.
// The mirror is thread-safe; Redis failures are logged and swallowed.
// Writes are queued and stored by a single goroutine, so a slow Redis never
// blocks the board's writers.
type Mirror struct {
	rdb          *redis.Client
	instanceName string

	mu      sync.Mutex
	board   *Board
	sub     *Subscription
	queue   chan Entry
	drained chan struct{}
	abort   context.CancelFunc
}

// NewMirror creates a Redis mirror for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: warren instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewMirror(redisOpts *redis.Options, instanceName string) (*Mirror, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Mirror{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close detaches the mirror and closes the Redis connection. Implements io.Closer.
func (m *Mirror) Close() error {
	m.Detach()
	return m.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Attach subscribes the mirror to every write on board.
// Attaching to a second board detaches from the first.
func (m *Mirror) Attach(board *Board) {
	m.Detach()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.board = board
	m.queue = make(chan Entry, MirrorQueueSize)
	m.drained = make(chan struct{})
	var ctx context.Context
	ctx, m.abort = context.WithCancel(context.Background())
	go m.drain(ctx, m.queue, m.drained)
	m.sub = board.Subscribe(Wildcard, m.handleWrite)
	log.Printf("[Blackboard] Mirroring writes to Redis for instance '%s'", m.instanceName)
}

// Detach stops mirroring and waits for queued writes to be stored. Writes
// still queued after mirrorWriteTimeout are abandoned.
// Safe to call when not attached.
func (m *Mirror) Detach() {
	m.mu.Lock()
	if m.board != nil && m.sub != nil {
		m.board.Unsubscribe(m.sub)
	}
	queue, drained, abort := m.queue, m.drained, m.abort
	m.board, m.sub, m.queue, m.drained, m.abort = nil, nil, nil, nil, nil
	if queue != nil {
		close(queue)
	}
	m.mu.Unlock()

	if drained == nil {
		return
	}
	timer := time.NewTimer(mirrorWriteTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		log.Printf("[Blackboard] [WARN] Mirror did not drain in %s, dropping %d queued writes", mirrorWriteTimeout, len(queue))
		abort()
		<-drained
	}
	abort()
}

func (m *Mirror) handleWrite(key string, entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue == nil {
		return
	}
	select {
	case m.queue <- entry:
	default:
		log.Printf("[Blackboard] [WARN] Mirror queue full, dropping write for key %s", key)
	}
}

func (m *Mirror) drain(ctx context.Context, queue <-chan Entry, drained chan<- struct{}) {
	defer close(drained)
	for entry := range queue {
		if ctx.Err() != nil {
			continue
		}
		writeCtx, cancel := context.WithTimeout(ctx, mirrorWriteTimeout)
		if err := m.Store(writeCtx, entry); err != nil {
			log.Printf("[Blackboard] [WARN] Mirror write failed for key %s: %v", entry.Key, err)
		}
		cancel()
	}
}

// Store writes entry to Redis with the entry's remaining lifetime as expiry
// and publishes it on the instance's blackboard events channel.
func (m *Mirror) Store(ctx context.Context, entry Entry) error {
	hash, err := EntryToHash(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize entry: %w", err)
	}

	remaining := time.Until(entry.ExpiresAt())
	if remaining <= 0 {
		return nil
	}

	key := MirrorKey(m.instanceName, entry.Key)
	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, hash)
	pipe.PExpire(ctx, key, remaining)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write entry to Redis: %w", err)
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry for event: %w", err)
	}

	channel := BlackboardEventsChannel(m.instanceName)
	if err := m.rdb.Publish(ctx, channel, entryJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish blackboard event: %w", err)
	}

	return nil
}

// Get retrieves the mirrored copy of a blackboard entry.
// Returns (nil, redis.Nil) if the key doesn't exist or has expired.
// Use IsNotFound() to check for not-found errors.
func (m *Mirror) Get(ctx context.Context, key string) (*Entry, error) {
	hashData, err := m.rdb.HGetAll(ctx, MirrorKey(m.instanceName, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read entry from Redis: %w", err)
	}

	// HGetAll returns an empty map for missing keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	entry, err := HashToEntry(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize entry: %w", err)
	}
	return entry, nil
}

// Entries returns every mirrored entry of the instance, newest first.
// Keys that expire during the scan are skipped.
func (m *Mirror) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	iter := m.rdb.Scan(ctx, 0, MirrorKeyPattern(m.instanceName), 100).Iterator()
	for iter.Next(ctx) {
		hashData, err := m.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read entry from Redis: %w", err)
		}
		if len(hashData) == 0 {
			continue
		}
		entry, err := HashToEntry(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize %s: %w", iter.Val(), err)
		}
		entries = append(entries, *entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan mirrored keys: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// EventSubscription represents an active Pub/Sub subscription to mirrored writes.
// Caller must call Close() when done to clean up resources.
type EventSubscription struct {
	events <-chan *Entry
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of mirrored entries.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *EventSubscription) Events() <-chan *Entry {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
func (s *EventSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *EventSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to mirrored blackboard writes for this instance.
// Events are delivered on a buffered channel (size 10); Redis Pub/Sub is
// at-most-once, so a slow consumer may miss events.
func (m *Mirror) SubscribeEvents(ctx context.Context) (*EventSubscription, error) {
	pubsub := m.rdb.Subscribe(ctx, BlackboardEventsChannel(m.instanceName))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to blackboard events: %w", err)
	}

	eventsChan := make(chan *Entry, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var entry Entry
				if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal blackboard event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &entry:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &EventSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
