package agent

import (
	"errors"
	"fmt"
	"log"
)

// ErrInvalidEvent is returned when registering a callback for an unknown event.
var ErrInvalidEvent = errors.New("agent: invalid callback event")

// Event names a point in the Runner lifecycle that callbacks can observe.
type Event string

const (
	// EventStart fires when a run begins, before a task is dequeued.
	EventStart Event = "start"

	// EventComplete fires after every run, successful or not.
	EventComplete Event = "complete"

	// EventError fires when execution fails or times out.
	EventError Event = "error"
)

// Validate checks that the event is one of the defined values.
func (e Event) Validate() error {
	switch e {
	case EventStart, EventComplete, EventError:
		return nil
	default:
		return fmt.Errorf("%w: %q (must be 'start', 'complete', or 'error')", ErrInvalidEvent, string(e))
	}
}

// Callback observes a Runner event.
// result is set for EventComplete, err for EventError; both are nil for EventStart.
type Callback func(r *Runner, result *Result, err error)

// RegisterCallback adds fn to the callbacks for event.
// Returns ErrInvalidEvent for an unknown event.
func (r *Runner) RegisterCallback(event Event, fn Callback) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("agent '%s': nil callback for event %s", r.cfg.Name, event)
	}

	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks[event] = append(r.callbacks[event], fn)
	return nil
}

// fire invokes every callback for event. Each callback is isolated from the
// others: a panic is logged and the remaining callbacks still run.
func (r *Runner) fire(event Event, result *Result, err error) {
	r.cbMu.RLock()
	fns := make([]Callback, len(r.callbacks[event]))
	copy(fns, r.callbacks[event])
	r.cbMu.RUnlock()

	for i, fn := range fns {
		r.invoke(event, i, fn, result, err)
	}
}

func (r *Runner) invoke(event Event, index int, fn Callback, result *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Agent:%s] [ERROR] %s callback #%d panicked: %v", r.cfg.Name, event, index, p)
		}
	}()
	fn(r, result, err)
}
