// Package supervisor owns a registry of agents and drives their lifecycles.
//
// A Supervisor wires every registered agent to one shared blackboard, runs
// background loops for persistent and scheduled agents, monitors health and
// restarts failed or stuck agents within a bounded budget. On-demand and
// reactive agents get no loop; they run through TriggerAgent.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/scheduler"
	"github.com/dyluth/warren/pkg/blackboard"
)

const (
	DefaultHealthInterval         = 60 * time.Second
	DefaultMaxRestarts            = 5
	DefaultPersistentPause        = 1 * time.Second
	DefaultPersistentErrorBackoff = 10 * time.Second
	DefaultScheduledErrorBackoff  = 60 * time.Second
	DefaultScheduleInterval       = 1 * time.Hour
	DefaultStopTimeout            = 30 * time.Second

	// ErrorEntryTTL is how long agent failures stay on the blackboard.
	ErrorEntryTTL = 24 * time.Hour

	errorSource = "supervisor"
)

var (
	// ErrAgentExists is returned when registering a name that is already taken.
	ErrAgentExists = errors.New("supervisor: agent already registered")

	// ErrUnknownAgent is returned for operations on an unregistered agent.
	ErrUnknownAgent = errors.New("supervisor: unknown agent")
)

// Options configures a Supervisor. Zero durations and MaxRestarts fall back
// to the package defaults; start from DefaultOptions to keep AutoRestart on.
type Options struct {
	HealthInterval          time.Duration
	AutoRestart             bool
	MaxRestarts             int
	PersistentPause         time.Duration
	PersistentErrorBackoff  time.Duration
	ScheduledErrorBackoff   time.Duration
	DefaultScheduleInterval time.Duration
	StopTimeout             time.Duration

	// Blackboard is used instead of a fresh one when set.
	Blackboard *blackboard.Board

	// Scheduler, when set, receives a trigger callback for every registered
	// agent and is started and stopped with the supervisor.
	Scheduler *scheduler.Scheduler

	// Metrics may be nil.
	Metrics *Metrics
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		HealthInterval:          DefaultHealthInterval,
		AutoRestart:             true,
		MaxRestarts:             DefaultMaxRestarts,
		PersistentPause:         DefaultPersistentPause,
		PersistentErrorBackoff:  DefaultPersistentErrorBackoff,
		ScheduledErrorBackoff:   DefaultScheduledErrorBackoff,
		DefaultScheduleInterval: DefaultScheduleInterval,
		StopTimeout:             DefaultStopTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = DefaultMaxRestarts
	}
	if o.PersistentPause <= 0 {
		o.PersistentPause = DefaultPersistentPause
	}
	if o.PersistentErrorBackoff <= 0 {
		o.PersistentErrorBackoff = DefaultPersistentErrorBackoff
	}
	if o.ScheduledErrorBackoff <= 0 {
		o.ScheduledErrorBackoff = DefaultScheduledErrorBackoff
	}
	if o.DefaultScheduleInterval <= 0 {
		o.DefaultScheduleInterval = DefaultScheduleInterval
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	return o
}

// managed is the supervisor's per-agent state.
type managed struct {
	runner *agent.Runner

	// lifecycle serializes start/stop/restart of this agent
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   bool
	restarts  int
	gaveUp    bool
}

// Supervisor manages agent registration, lifecycle and health.
type Supervisor struct {
	opts      Options
	board     *blackboard.Board
	scheduler *scheduler.Scheduler
	metrics   *Metrics
	now       func() time.Time

	mu      sync.RWMutex
	agents  map[string]*managed
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	healthW sync.WaitGroup
}

// New creates a Supervisor owning one blackboard.
func New(opts Options) *Supervisor {
	opts = opts.withDefaults()

	board := opts.Blackboard
	if board == nil {
		board = blackboard.New()
	}

	return &Supervisor{
		opts:      opts,
		board:     board,
		scheduler: opts.Scheduler,
		metrics:   opts.Metrics,
		now:       time.Now,
		agents:    make(map[string]*managed),
	}
}

// Blackboard returns the shared board.
func (s *Supervisor) Blackboard() *blackboard.Board {
	return s.board
}

// Scheduler returns the configured scheduler, or nil.
func (s *Supervisor) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// Running reports whether Start has been called without a matching Stop.
func (s *Supervisor) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RegisterAgent wraps impl in a Runner, wires it to the blackboard and the
// supervisor's callbacks, and adds it to the registry. If the supervisor is
// running the agent is started immediately.
func (s *Supervisor) RegisterAgent(impl agent.Agent, cfg agent.Config) (*agent.Runner, error) {
	runner, err := agent.NewRunner(impl, cfg)
	if err != nil {
		return nil, err
	}
	name := runner.Name()

	runner.AttachBlackboard(s.board)
	if err := runner.RegisterCallback(agent.EventError, s.publishError); err != nil {
		return nil, err
	}
	if err := runner.RegisterCallback(agent.EventComplete, s.publishFindings); err != nil {
		return nil, err
	}

	m := &managed{runner: runner, stopped: true}

	s.mu.Lock()
	if _, exists := s.agents[name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, name)
	}
	s.agents[name] = m
	running, baseCtx := s.running, s.baseCtx
	s.mu.Unlock()

	if s.scheduler != nil {
		s.scheduler.RegisterTriggerCallback(name, s.scheduledTrigger)
	}

	logEvent("agent_registered", map[string]interface{}{
		"agent_name": name,
		"agent_type": string(runner.Config().Type),
		"priority":   string(runner.Config().Priority),
	})

	if running {
		s.startAgent(baseCtx, m)
	}
	return runner, nil
}

// UnregisterAgent stops the agent and removes it. Returns false if unknown.
func (s *Supervisor) UnregisterAgent(ctx context.Context, name string) bool {
	s.mu.Lock()
	m, exists := s.agents[name]
	if exists {
		delete(s.agents, name)
	}
	s.mu.Unlock()

	if !exists {
		return false
	}

	if s.scheduler != nil {
		s.scheduler.UnregisterTriggerCallback(name)
	}
	s.stopAgent(ctx, m)

	logEvent("agent_unregistered", map[string]interface{}{"agent_name": name})
	return true
}

// GetAgent returns the named agent's Runner.
func (s *Supervisor) GetAgent(name string) (*agent.Runner, bool) {
	m, ok := s.lookup(name)
	if !ok {
		return nil, false
	}
	return m.runner, true
}

// ListAgents returns every registered Runner ordered by priority, then name.
func (s *Supervisor) ListAgents() []*agent.Runner {
	s.mu.RLock()
	runners := make([]*agent.Runner, 0, len(s.agents))
	for _, m := range s.agents {
		runners = append(runners, m.runner)
	}
	s.mu.RUnlock()

	sort.Slice(runners, func(i, j int) bool {
		pi, pj := runners[i].Config().Priority.Rank(), runners[j].Config().Priority.Rank()
		if pi != pj {
			return pi < pj
		}
		return runners[i].Name() < runners[j].Name()
	})
	return runners
}

// TriggerAgent runs the named agent once, enqueuing task first when it is
// non-nil. Returns nil when the agent is unknown or already running.
func (s *Supervisor) TriggerAgent(ctx context.Context, name string, task *agent.Task) *agent.Result {
	m, ok := s.lookup(name)
	if !ok {
		log.Printf("[Supervisor] [WARN] Trigger for unknown agent '%s'", name)
		return nil
	}

	runner := m.runner
	if runner.Status() == agent.StatusRunning {
		log.Printf("[Supervisor] [WARN] Agent '%s' is already running, trigger ignored", name)
		return nil
	}

	if task != nil {
		runner.AddTask(task)
	}
	result, ok := runner.TryRun(ctx)
	if !ok {
		log.Printf("[Supervisor] [WARN] Agent '%s' started running before the trigger, trigger ignored", name)
		return nil
	}
	return result
}

// PauseAgent marks the agent paused; its loop skips runs until resumed.
func (s *Supervisor) PauseAgent(name string) bool {
	m, ok := s.lookup(name)
	if !ok {
		return false
	}
	m.runner.Pause()
	logEvent("agent_paused", map[string]interface{}{"agent_name": name})
	return true
}

// ResumeAgent returns a paused agent to idle. Returns false if the agent is
// unknown or not paused.
func (s *Supervisor) ResumeAgent(name string) bool {
	m, ok := s.lookup(name)
	if !ok {
		return false
	}
	if !m.runner.Resume() {
		return false
	}
	logEvent("agent_resumed", map[string]interface{}{"agent_name": name})
	return true
}

// RestartCount returns how many automatic error restarts the agent has used.
func (s *Supervisor) RestartCount(name string) int {
	m, ok := s.lookup(name)
	if !ok {
		return 0
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.restarts
}

// Start starts the blackboard cleanup loop, every registered agent, the
// scheduler (if any) and the health monitor. Calling Start twice is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.running = true
	baseCtx := s.baseCtx
	agents := s.snapshotLocked()
	s.mu.Unlock()

	s.board.Start(baseCtx)

	for _, m := range agents {
		s.startAgent(baseCtx, m)
	}

	if s.scheduler != nil {
		s.scheduler.Start(baseCtx)
	}

	s.healthW.Add(1)
	go s.healthLoop(baseCtx)

	logEvent("supervisor_started", map[string]interface{}{
		"agents":          len(agents),
		"auto_restart":    s.opts.AutoRestart,
		"health_interval": s.opts.HealthInterval.String(),
	})
	return nil
}

// Stop cancels every loop, waits for them (bounded by StopTimeout per agent)
// and tears down every agent exactly once.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	agents := s.snapshotLocked()
	s.mu.Unlock()

	cancel()
	s.healthW.Wait()

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	var wg sync.WaitGroup
	for _, m := range agents {
		wg.Add(1)
		go func(m *managed) {
			defer wg.Done()
			s.stopAgent(ctx, m)
		}(m)
	}
	wg.Wait()

	s.board.Stop()

	logEvent("supervisor_stopped", map[string]interface{}{"agents": len(agents)})
	return nil
}

func (s *Supervisor) lookup(name string) (*managed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.agents[name]
	return m, ok
}

// snapshotLocked returns the managed agents sorted by name. Caller holds s.mu.
func (s *Supervisor) snapshotLocked() []*managed {
	out := make([]*managed, 0, len(s.agents))
	for _, m := range s.agents {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].runner.Name() < out[j].runner.Name() })
	return out
}

func (s *Supervisor) snapshot() []*managed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// scheduledTrigger adapts TriggerAgent to the scheduler's callback contract.
// The run is detached from ctx so stopping the scheduler lets it complete.
func (s *Supervisor) scheduledTrigger(ctx context.Context, agentName string) error {
	result := s.TriggerAgent(context.WithoutCancel(ctx), agentName, nil)
	if result == nil {
		return fmt.Errorf("agent '%s' is unavailable", agentName)
	}
	if !result.Success {
		return errors.New(result.Error)
	}
	return nil
}
