// Package agent defines the contract every warren agent implements and the
// Runner that wraps an implementation with timeouts, bookkeeping, callbacks
// and a task queue.
//
// An implementation only has to provide Execute and Capabilities. The
// optional interfaces below are detected with type assertions; an agent that
// does not implement one gets the documented default.
package agent

import "context"

// Agent is the contract implemented by concrete agents.
type Agent interface {
	// Execute runs the agent's domain logic for one task. task is nil when the
	// queue was empty. Execute should honour ctx cancellation; the Runner stops
	// waiting once the agent's MaxRuntime has elapsed regardless.
	Execute(ctx context.Context, task *Task) (*Result, error)

	// Capabilities returns a static self-description. It must have no side effects.
	Capabilities() map[string]any
}

// Setupper is implemented by agents that need one-time initialisation.
// Default: setup succeeds. An error marks the agent errored and its loop is not started.
type Setupper interface {
	Setup(ctx context.Context) error
}

// Teardowner is implemented by agents holding resources.
// Teardown is called on every stop, including when Setup never ran.
// Default: no-op.
type Teardowner interface {
	Teardown(ctx context.Context)
}

// ErrorHandler is notified after a failed run.
// The Runner has already incremented its error counter and fired the error
// callbacks when OnError is called. Default: no-op.
type ErrorHandler interface {
	OnError(ctx context.Context, err error)
}

// HealthChecker contributes agent-specific fields to Runner.HealthCheck.
// Default: only the Runner's own status and counters are reported.
type HealthChecker interface {
	HealthCheck() map[string]any
}
