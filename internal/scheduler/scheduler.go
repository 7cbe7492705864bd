// Package scheduler triggers named agents on a fixed interval, on a cron
// expression, or once at startup.
//
// The scheduler never holds agent references. Callers register a TriggerFunc
// per agent name and the scheduler invokes it when a schedule for that agent
// becomes due. Timing is best effort with poll-interval granularity.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultPollInterval is how often due schedules are checked.
	DefaultPollInterval = 10 * time.Second

	// MaxExecutionHistory bounds the execution log; oldest records are dropped first.
	MaxExecutionHistory = 1000
)

var (
	// ErrScheduleExists is returned when adding a schedule whose name is taken.
	ErrScheduleExists = errors.New("scheduler: schedule already exists")

	// ErrUnknownSchedule is returned for operations on a schedule that does not exist.
	ErrUnknownSchedule = errors.New("scheduler: unknown schedule")
)

// TriggerFunc runs the named agent once. A non-nil error is recorded as a
// failed execution.
type TriggerFunc func(ctx context.Context, agentName string) error

// Schedule describes when an agent should be triggered.
// Interval takes precedence over Cron when both are set.
type Schedule struct {
	Name           string        `json:"name"`
	AgentName      string        `json:"agent_name"`
	Interval       time.Duration `json:"interval"`
	Cron           string        `json:"cron,omitempty"`
	Enabled        bool          `json:"enabled"`
	RunImmediately bool          `json:"run_immediately"`
	LastRun        time.Time     `json:"last_run"`
	NextRun        time.Time     `json:"next_run"`

	cron cron.Schedule
}

// next computes the run time following from.
func (s *Schedule) next(from time.Time) time.Time {
	if s.Interval > 0 {
		return from.Add(s.Interval)
	}
	return s.cron.Next(from)
}

// Execution records one trigger of a schedule.
type Execution struct {
	ScheduleName string    `json:"schedule_name"`
	AgentName    string    `json:"agent_name"`
	Time         time.Time `json:"time"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// Scheduler holds named schedules and fires their agents' trigger callbacks.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
	triggers  map[string]TriggerFunc
	history   []Execution

	pollInterval time.Duration
	now          func() time.Time

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval overrides DefaultPollInterval. Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		schedules:    make(map[string]*Schedule),
		triggers:     make(map[string]TriggerFunc),
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseCron validates a standard five-field cron expression (descriptors
// such as "@daily" are accepted).
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// AddSchedule registers a schedule. If NextRun is zero it is set one
// period from now.
func (s *Scheduler) AddSchedule(sched Schedule) error {
	if sched.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if sched.AgentName == "" {
		return fmt.Errorf("schedule '%s': agent name is required", sched.Name)
	}
	if sched.Interval < 0 {
		return fmt.Errorf("schedule '%s': interval must be >= 0", sched.Name)
	}
	if sched.Interval == 0 {
		if sched.Cron == "" {
			return fmt.Errorf("schedule '%s': either interval or cron is required", sched.Name)
		}
		parsed, err := ParseCron(sched.Cron)
		if err != nil {
			return fmt.Errorf("schedule '%s': %w", sched.Name, err)
		}
		sched.cron = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sched.Name]; exists {
		return fmt.Errorf("%w: %s", ErrScheduleExists, sched.Name)
	}
	if sched.NextRun.IsZero() {
		sched.NextRun = sched.next(s.now())
	}
	s.schedules[sched.Name] = &sched

	log.Printf("[Scheduler] Added schedule '%s' for agent '%s' (next run %s)",
		sched.Name, sched.AgentName, sched.NextRun.Format(time.RFC3339))
	return nil
}

// RemoveSchedule deletes a schedule.
func (s *Scheduler) RemoveSchedule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	delete(s.schedules, name)
	return nil
}

// EnableSchedule turns a schedule on.
func (s *Scheduler) EnableSchedule(name string) error {
	return s.setEnabled(name, true)
}

// DisableSchedule turns a schedule off. It stays registered.
func (s *Scheduler) DisableSchedule(name string) error {
	return s.setEnabled(name, false)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, exists := s.schedules[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	sched.Enabled = enabled
	return nil
}

// Get returns a copy of the named schedule.
func (s *Scheduler) Get(name string) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, exists := s.schedules[name]
	if !exists {
		return Schedule{}, false
	}
	return *sched, true
}

// Schedules returns copies of all schedules sorted by name.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterTriggerCallback sets the function used to trigger agentName,
// replacing any previous one.
func (s *Scheduler) RegisterTriggerCallback(agentName string, fn TriggerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[agentName] = fn
}

// UnregisterTriggerCallback removes the trigger for agentName.
func (s *Scheduler) UnregisterTriggerCallback(agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggers, agentName)
}

// History returns a copy of the execution log, oldest first.
func (s *Scheduler) History() []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Execution(nil), s.history...)
}

// Start fires every enabled RunImmediately schedule once and then polls for
// due schedules until ctx is cancelled or Stop is called. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)
	log.Printf("[Scheduler] Started (poll interval %s)", s.pollInterval)
}

// Stop cancels the poll loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[Scheduler] Stopped")
}

// Running reports whether the poll loop is active.
func (s *Scheduler) Running() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.RunImmediate(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunImmediate fires every enabled schedule marked RunImmediately,
// regardless of its next run time. Returns the number fired.
func (s *Scheduler) RunImmediate(ctx context.Context) int {
	return s.fire(ctx, func(sched *Schedule, _ time.Time) bool {
		return sched.RunImmediately
	})
}

// RunDue performs one poll pass, firing every enabled schedule whose next
// run time has passed. Returns the number fired.
func (s *Scheduler) RunDue(ctx context.Context) int {
	return s.fire(ctx, func(sched *Schedule, now time.Time) bool {
		return !sched.NextRun.After(now)
	})
}

type pending struct {
	name      string
	agentName string
	trigger   TriggerFunc
}

func (s *Scheduler) fire(ctx context.Context, selectFn func(*Schedule, time.Time) bool) int {
	now := s.now()

	s.mu.Lock()
	var due []pending
	for _, sched := range s.schedules {
		if !sched.Enabled || !selectFn(sched, now) {
			continue
		}
		trigger, ok := s.triggers[sched.AgentName]
		if !ok {
			sched.NextRun = sched.next(now)
			log.Printf("[Scheduler] [WARN] No trigger callback for agent '%s' (schedule '%s'), skipping until %s",
				sched.AgentName, sched.Name, sched.NextRun.Format(time.RFC3339))
			continue
		}
		due = append(due, pending{name: sched.Name, agentName: sched.AgentName, trigger: trigger})
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].name < due[j].name })

	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		err := s.invoke(ctx, p)
		s.record(p, err)
	}
	return len(due)
}

func (s *Scheduler) invoke(ctx context.Context, p pending) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger panicked: %v", r)
		}
	}()
	log.Printf("[Scheduler] Triggering agent '%s' (schedule '%s')", p.agentName, p.name)
	return p.trigger(ctx, p.agentName)
}

func (s *Scheduler) record(p pending, err error) {
	now := s.now()
	exec := Execution{
		ScheduleName: p.name,
		AgentName:    p.agentName,
		Time:         now,
		Success:      err == nil,
	}
	if err != nil {
		exec.Error = err.Error()
		log.Printf("[Scheduler] [WARN] Schedule '%s' failed: %v", p.name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, exec)
	if len(s.history) > MaxExecutionHistory {
		s.history = append([]Execution(nil), s.history[len(s.history)-MaxExecutionHistory:]...)
	}

	// the schedule may have been removed while its trigger ran
	if sched, exists := s.schedules[p.name]; exists {
		sched.LastRun = now
		sched.NextRun = sched.next(now)
	}
}
