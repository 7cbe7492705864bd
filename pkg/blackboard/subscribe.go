package blackboard

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Callback receives every write matching a subscription's pattern.
// The entry is a copy; Value is shared and must be treated as read-only.
type Callback func(key string, entry Entry)

// Subscription is the handle returned by Subscribe. Pass it to Unsubscribe
// to stop delivery.
type Subscription struct {
	id      uint64
	pattern string
	fn      Callback
}

// Pattern returns the pattern the subscription was registered with.
func (s *Subscription) Pattern() string {
	return s.pattern
}

// Subscribe registers fn for writes matching pattern.
// A pattern is an exact key, a prefix followed by Wildcard, or Wildcard alone.
func (b *Board) Subscribe(pattern string, fn Callback) *Subscription {
	return b.subs.add(pattern, fn)
}

// Unsubscribe removes a subscription. Returns false if it was not registered.
func (b *Board) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	return b.subs.remove(sub)
}

// subscriptions indexes subscribers by pattern kind so a write only has to
// look at its exact key, the registered prefixes and the global list.
type subscriptions struct {
	mu     sync.RWMutex
	nextID uint64
	exact  map[string][]*Subscription
	prefix map[string][]*Subscription
	global []*Subscription
}

func newSubscriptions() subscriptions {
	return subscriptions{
		exact:  make(map[string][]*Subscription),
		prefix: make(map[string][]*Subscription),
	}
}

func (s *subscriptions) add(pattern string, fn Callback) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &Subscription{id: s.nextID, pattern: pattern, fn: fn}

	switch {
	case pattern == Wildcard:
		s.global = append(s.global, sub)
	case strings.HasSuffix(pattern, Wildcard):
		p := strings.TrimSuffix(pattern, Wildcard)
		s.prefix[p] = append(s.prefix[p], sub)
	default:
		s.exact[pattern] = append(s.exact[pattern], sub)
	}
	return sub
}

func (s *subscriptions) remove(sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case sub.pattern == Wildcard:
		var ok bool
		s.global, ok = without(s.global, sub.id)
		return ok
	case strings.HasSuffix(sub.pattern, Wildcard):
		p := strings.TrimSuffix(sub.pattern, Wildcard)
		list, ok := without(s.prefix[p], sub.id)
		if len(list) == 0 {
			delete(s.prefix, p)
		} else {
			s.prefix[p] = list
		}
		return ok
	default:
		list, ok := without(s.exact[sub.pattern], sub.id)
		if len(list) == 0 {
			delete(s.exact, sub.pattern)
		} else {
			s.exact[sub.pattern] = list
		}
		return ok
	}
}

func (s *subscriptions) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.global)
	for _, list := range s.exact {
		n += len(list)
	}
	for _, list := range s.prefix {
		n += len(list)
	}
	return n
}

// matching returns exact ∪ prefix ∪ global for key.
func (s *subscriptions) matching(key string) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Subscription, 0, len(s.exact[key])+len(s.global))
	out = append(out, s.exact[key]...)
	for p, list := range s.prefix {
		if strings.HasPrefix(key, p) {
			out = append(out, list...)
		}
	}
	out = append(out, s.global...)
	return out
}

func (s *subscriptions) notify(key string, entry Entry) {
	for _, sub := range s.matching(key) {
		deliver(sub, key, entry)
	}
}

func deliver(sub *Subscription, key string, entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Blackboard] [ERROR] Subscriber %q panicked on key %s: %v", sub.pattern, key, r)
		}
	}()
	sub.fn(key, entry.clone())
}

func without(list []*Subscription, id uint64) ([]*Subscription, bool) {
	for i, sub := range list {
		if sub.id == id {
			out := make([]*Subscription, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), true
		}
	}
	return list, false
}

func (s *Subscription) String() string {
	return fmt.Sprintf("subscription(%d, %s)", s.id, s.pattern)
}
