package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
)

// MaxHistory is the number of results a Runner keeps; older results are evicted first.
const MaxHistory = 100

// Runner is the execution wrapper around one Agent implementation.
// Run is the only path through which the kernel invokes Agent.Execute.
// A Runner is safe for concurrent use; concurrent Run calls are serialized.
type Runner struct {
	cfg  Config
	impl Agent
	now  func() time.Time

	execMu sync.Mutex // held for the whole of Run

	mu           sync.Mutex
	status       Status
	queue        []*Task
	history      []*Result
	errorCount   int
	totalRuns    int
	totalTokens  int
	lastRun      time.Time
	runStartedAt time.Time
	board        *blackboard.Board

	cbMu      sync.RWMutex
	callbacks map[Event][]Callback
}

// NewRunner wraps impl with the given configuration.
// Zero-valued limits in cfg are replaced with defaults before validation.
func NewRunner(impl Agent, cfg Config) (*Runner, error) {
	if impl == nil {
		return nil, fmt.Errorf("agent implementation cannot be nil")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Runner{
		cfg:       cfg,
		impl:      impl,
		now:       time.Now,
		status:    StatusIdle,
		callbacks: make(map[Event][]Callback),
	}, nil
}

// Name returns the agent's unique name.
func (r *Runner) Name() string {
	return r.cfg.Name
}

// Config returns the agent's configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Agent returns the wrapped implementation.
func (r *Runner) Agent() Agent {
	return r.impl
}

// Capabilities forwards to the wrapped implementation.
func (r *Runner) Capabilities() map[string]any {
	return r.impl.Capabilities()
}

// Run executes at most one queued task and returns its Result.
//
// Run never panics and never returns nil. Execution is bounded by the agent's
// MaxRuntime: once it elapses Run returns a timeout failure without waiting
// for the underlying work. A paused agent can be run directly and stays
// paused afterwards. Failures are recorded through the error path
// (error counter, error callbacks, ErrorHandler) before the completion
// bookkeeping that every run performs.
func (r *Runner) Run(ctx context.Context) *Result {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	return r.run(ctx)
}

// TryRun is Run for callers that must not wait: it returns false without
// running when another run is in flight.
func (r *Runner) TryRun(ctx context.Context) (*Result, bool) {
	if !r.execMu.TryLock() {
		return nil, false
	}
	defer r.execMu.Unlock()
	return r.run(ctx), true
}

func (r *Runner) run(ctx context.Context) (result *Result) {
	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Agent:%s] [ERROR] Run panicked: %v", r.cfg.Name, p)
			result = Failure("panic: %v", p)
			r.setStatusIf(StatusRunning, StatusIdle)
		}
	}()

	r.mu.Lock()
	resumeStatus := StatusIdle
	if r.status == StatusPaused {
		resumeStatus = StatusPaused
	}
	r.status = StatusRunning
	r.runStartedAt = start
	r.mu.Unlock()

	r.fire(EventStart, nil, nil)

	task := r.dequeue(start)
	result, runErr := r.execute(ctx, task)

	if runErr != nil {
		log.Printf("[Agent:%s] [WARN] Run failed: %v", r.cfg.Name, runErr)
		r.handleError(ctx, runErr)
	}

	now := r.now()
	result.DurationMs = now.Sub(start).Milliseconds()
	if result.Timestamp.IsZero() {
		result.Timestamp = now
	}

	r.mu.Lock()
	r.totalRuns++
	r.totalTokens += result.TokensUsed
	r.lastRun = now
	r.history = append(r.history, result)
	if len(r.history) > MaxHistory {
		r.history = append([]*Result(nil), r.history[len(r.history)-MaxHistory:]...)
	}
	if r.status == StatusRunning {
		r.status = resumeStatus
	}
	r.mu.Unlock()

	if !result.Success {
		r.requeueForRetry(task, now)
	}

	r.fire(EventComplete, result, nil)
	return result
}

// execute invokes the implementation under the agent's MaxRuntime.
// The returned error is non-nil for timeouts, execution errors and panics.
func (r *Runner) execute(ctx context.Context, task *Task) (*Result, error) {
	if task != nil && task.Deadline != nil && r.now().After(*task.Deadline) {
		err := fmt.Errorf("task %s deadline exceeded", task.ID)
		return Failure("%s", err.Error()), err
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.MaxRuntime)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	// Buffered so an abandoned execution can still deliver and exit.
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := r.impl.Execute(execCtx, task)
		done <- outcome{result: res, err: err}
	}()

	timer := time.NewTimer(r.cfg.MaxRuntime)
	defer timer.Stop()

	select {
	case out := <-done:
		// The work may notice its expired context before the timer fires.
		if ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return r.timeoutFailure()
		}
		if out.err != nil {
			return Failure("%s", out.err.Error()), out.err
		}
		if out.result == nil {
			err := fmt.Errorf("agent returned no result")
			return Failure("%s", err.Error()), err
		}
		for _, tool := range out.result.ToolsUsed {
			if !r.cfg.AllowsTool(tool) {
				err := fmt.Errorf("tool %q is not allowed for agent %s", tool, r.cfg.Name)
				return Failure("%s", err.Error()), err
			}
		}
		return out.result, nil

	case <-timer.C:
		return r.timeoutFailure()
	}
}

func (r *Runner) timeoutFailure() (*Result, error) {
	err := fmt.Errorf("timeout after %s", formatSeconds(r.cfg.MaxRuntime))
	return Failure("%s", err.Error()), err
}

// handleError performs the error bookkeeping and then lets the
// implementation react.
func (r *Runner) handleError(ctx context.Context, err error) {
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()

	r.fire(EventError, nil, err)

	handler, ok := r.impl.(ErrorHandler)
	if !ok {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Agent:%s] [ERROR] OnError panicked: %v", r.cfg.Name, p)
		}
	}()
	handler.OnError(ctx, err)
}

// Status returns the current lifecycle state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus forces the lifecycle state. Used by the supervisor.
func (r *Runner) SetStatus(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

// setStatusIf changes the status only when it currently equals from.
func (r *Runner) setStatusIf(from, to Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != from {
		return false
	}
	r.status = to
	return true
}

// Pause marks the agent paused. A run in flight completes and leaves the status paused.
func (r *Runner) Pause() {
	r.SetStatus(StatusPaused)
}

// Resume returns a paused agent to idle. Returns false if it was not paused.
func (r *Runner) Resume() bool {
	return r.setStatusIf(StatusPaused, StatusIdle)
}

// LastRun returns when the most recent run finished (zero if never).
func (r *Runner) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// RunningSince returns when the current run started, or zero if not running.
func (r *Runner) RunningSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusRunning {
		return time.Time{}
	}
	return r.runStartedAt
}

// ErrorCount returns the number of failed runs.
func (r *Runner) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorCount
}

// History returns a copy of the retained results, oldest first.
func (r *Runner) History() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Result, len(r.history))
	for i, res := range r.history {
		out[i] = *res
	}
	return out
}

// Stats is a point-in-time snapshot of a Runner's counters.
type Stats struct {
	Name        string     `json:"name"`
	Type        Type       `json:"type"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	ErrorCount  int        `json:"error_count"`
	TotalRuns   int        `json:"total_runs"`
	TotalTokens int        `json:"total_tokens"`
	QueueLength int        `json:"queue_length"`
	HistorySize int        `json:"history_size"`
	SuccessRate float64    `json:"success_rate"`
	LastRun     *time.Time `json:"last_run,omitempty"`
}

// Stats returns a snapshot of the Runner's counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		Name:        r.cfg.Name,
		Type:        r.cfg.Type,
		Priority:    r.cfg.Priority,
		Status:      r.status,
		ErrorCount:  r.errorCount,
		TotalRuns:   r.totalRuns,
		TotalTokens: r.totalTokens,
		QueueLength: len(r.queue),
		HistorySize: len(r.history),
	}
	if len(r.history) > 0 {
		succeeded := 0
		for _, res := range r.history {
			if res.Success {
				succeeded++
			}
		}
		stats.SuccessRate = float64(succeeded) / float64(len(r.history))
	}
	if !r.lastRun.IsZero() {
		lastRun := r.lastRun
		stats.LastRun = &lastRun
	}
	return stats
}

// HealthCheck reports the Runner's state merged with the implementation's
// own HealthCheck, if it has one. Runner fields take precedence.
func (r *Runner) HealthCheck() map[string]any {
	stats := r.Stats()
	report := map[string]any{}

	if checker, ok := r.impl.(HealthChecker); ok {
		for k, v := range checker.HealthCheck() {
			report[k] = v
		}
	}

	report["name"] = stats.Name
	report["status"] = string(stats.Status)
	report["healthy"] = stats.Status != StatusError
	report["error_count"] = stats.ErrorCount
	report["total_runs"] = stats.TotalRuns
	report["queue_length"] = stats.QueueLength
	if stats.LastRun != nil {
		report["last_run"] = stats.LastRun.Format(time.RFC3339)
	}
	return report
}

// AttachBlackboard sets the board used by the blackboard helpers.
func (r *Runner) AttachBlackboard(board *blackboard.Board) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.board = board
}

// Blackboard returns the attached board, or nil.
func (r *Runner) Blackboard() *blackboard.Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board
}

// WriteToBlackboard writes value under "<agent name>:<key>".
// Returns false when no board is attached.
func (r *Runner) WriteToBlackboard(key string, value any, ttl time.Duration, opts ...blackboard.WriteOption) bool {
	board := r.Blackboard()
	if board == nil {
		return false
	}
	opts = append([]blackboard.WriteOption{blackboard.WithTTL(ttl)}, opts...)
	return board.Write(r.cfg.Name+":"+key, value, r.cfg.Name, opts...)
}

// ReadFromBlackboard reads "<sourceAgent>:<key>", or key itself when
// sourceAgent is empty. Reports false when no board is attached.
func (r *Runner) ReadFromBlackboard(key, sourceAgent string) (any, bool) {
	board := r.Blackboard()
	if board == nil {
		return nil, false
	}
	if sourceAgent != "" {
		key = sourceAgent + ":" + key
	}
	return board.Read(key)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}
