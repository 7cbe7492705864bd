// Package blackboard provides the shared, TTL-expiring key/value store that
// warren agents use to communicate with each other.
//
// # Overview
//
// The blackboard is the central shared state of a warren process. Agents never
// call each other directly: they publish findings, errors and intermediate
// state as entries, and other agents (or dashboards) read or subscribe to
// them. It implements the Blackboard architectural pattern inside a single
// process.
//
// # Entries
//
// Every write stores an Entry carrying the value, the writing agent, tags, a
// priority and a time-to-live. An entry is expired once
//
//	now - CreatedAt > TTL
//
// Expired entries are never returned. Read and ReadEntry delete them lazily;
// query operations skip them; the background cleanup loop removes them in bulk.
//
// # Subscriptions
//
// Subscribe accepts three pattern forms:
//
//	"agent:finding:1"   exact key
//	"agent:*"           every key starting with "agent:"
//	"*"                 every write
//
// Each matching subscription is invoked exactly once per write, outside the
// store lock. A panicking subscriber is logged and does not affect the writer
// or other subscribers.
//
// # Usage Example
//
//	board := blackboard.New()
//	board.Start(ctx)
//	defer board.Stop()
//
//	board.Subscribe("supervisor:error:*", func(key string, e blackboard.Entry) {
//		log.Printf("agent %s failed: %v", e.SourceAgent, e.Value)
//	})
//
//	board.Write("researcher:summary", summary, "researcher",
//		blackboard.WithTTL(24*time.Hour),
//		blackboard.WithTags("research"))
//
// # Redis Mirror
//
// Mirror optionally copies every write into Redis so that processes outside
// warren can observe the board. Keys follow warren:{instance}:bb:{key} and
// events are published on warren:{instance}:blackboard_events. The mirror is
// best-effort and never feeds data back into the in-process store.
package blackboard
