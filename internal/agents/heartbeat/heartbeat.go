// Package heartbeat implements a liveness agent that publishes a heartbeat
// entry onto the blackboard on every run.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/pkg/blackboard"
)

// DefaultTTL is how long a heartbeat entry stays readable.
const DefaultTTL = 3 * time.Minute

// Pinger is implemented by external dependencies the heartbeat probes,
// such as the blackboard's Redis mirror.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Agent writes "<name>:heartbeat" on every run
type Agent struct {
	name   string
	board  *blackboard.Board
	pinger Pinger
	ttl    time.Duration

	mu       sync.Mutex
	seq      int
	lastBeat time.Time
	lastErr  string
}

// New creates a heartbeat agent. pinger may be nil.
func New(name string, board *blackboard.Board, pinger Pinger, ttl time.Duration) *Agent {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Agent{name: name, board: board, pinger: pinger, ttl: ttl}
}

// Key returns the blackboard key the agent writes.
func (a *Agent) Key() string {
	return a.name + ":heartbeat"
}

// Capabilities describes the agent.
func (a *Agent) Capabilities() map[string]any {
	return map[string]any{
		"kind":  "heartbeat",
		"key":   a.Key(),
		"probe": a.pinger != nil,
	}
}

// Execute publishes one heartbeat. A failing probe is reported as an
// unsuccessful result; the heartbeat is still written.
func (a *Agent) Execute(ctx context.Context, _ *agent.Task) (*agent.Result, error) {
	if a.board == nil {
		return nil, fmt.Errorf("heartbeat agent '%s' has no blackboard", a.name)
	}

	probe := "skipped"
	var probeErr error
	if a.pinger != nil {
		if probeErr = a.pinger.Ping(ctx); probeErr != nil {
			probe = "failed"
		} else {
			probe = "ok"
		}
	}

	hostname, _ := os.Hostname()
	now := time.Now()

	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.lastBeat = now
	a.lastErr = ""
	if probeErr != nil {
		a.lastErr = probeErr.Error()
	}
	a.mu.Unlock()

	a.board.Write(a.Key(), map[string]any{
		"seq":       seq,
		"timestamp": now.UTC().Format(time.RFC3339Nano),
		"hostname":  hostname,
		"pid":       os.Getpid(),
		"probe":     probe,
	}, a.name, blackboard.WithTTL(a.ttl), blackboard.WithTags("heartbeat"))

	result := &agent.Result{
		Success:  probeErr == nil,
		Output:   seq,
		Metadata: map[string]any{"probe": probe},
	}
	if probeErr != nil {
		result.Error = fmt.Sprintf("probe failed: %v", probeErr)
	}
	return result, nil
}

// HealthCheck reports the last heartbeat.
func (a *Agent) HealthCheck() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := map[string]any{"beats": a.seq}
	if !a.lastBeat.IsZero() {
		report["last_beat"] = a.lastBeat.UTC().Format(time.RFC3339)
	}
	if a.lastErr != "" {
		report["probe_error"] = a.lastErr
	}
	return report
}
