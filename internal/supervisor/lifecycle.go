package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/warren/internal/agent"
)

// startAgent runs Setup and, for looping types, launches the background loop.
// A Setup failure leaves the agent in the error state with no loop.
func (s *Supervisor) startAgent(ctx context.Context, m *managed) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	s.startLocked(ctx, m)
}

func (s *Supervisor) startLocked(ctx context.Context, m *managed) {
	runner := m.runner
	name := runner.Name()
	cfg := runner.Config()

	if m.cancel != nil {
		return
	}
	m.stopped = false

	if err := s.setup(ctx, runner); err != nil {
		runner.SetStatus(agent.StatusError)
		log.Printf("[Supervisor] [ERROR] Setup failed for agent '%s': %v", name, err)
		logLevel("error", "agent_setup_failed", map[string]interface{}{
			"agent_name": name,
			"error":      err.Error(),
		})
		return
	}

	if runner.Status() != agent.StatusPaused {
		runner.SetStatus(agent.StatusIdle)
	}

	if !cfg.Type.HasLoop() {
		logEvent("agent_started", map[string]interface{}{
			"agent_name": name,
			"agent_type": string(cfg.Type),
			"loop":       false,
		})
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	switch cfg.Type {
	case agent.TypePersistent:
		go s.persistentLoop(loopCtx, runner, done)
	case agent.TypeScheduled:
		go s.scheduledLoop(loopCtx, runner, done)
	}

	logEvent("agent_started", map[string]interface{}{
		"agent_name": name,
		"agent_type": string(cfg.Type),
		"loop":       true,
	})
}

// stopAgent cancels the agent's loop, waits for it (bounded by StopTimeout)
// and calls Teardown. Stopping an already stopped agent does nothing.
func (s *Supervisor) stopAgent(ctx context.Context, m *managed) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	s.stopLocked(ctx, m)
}

func (s *Supervisor) stopLocked(ctx context.Context, m *managed) {
	if m.stopped {
		return
	}
	runner := m.runner
	name := runner.Name()

	if m.cancel != nil {
		m.cancel()

		timer := time.NewTimer(s.opts.StopTimeout)
		select {
		case <-m.done:
		case <-timer.C:
			log.Printf("[Supervisor] [WARN] Agent '%s' loop did not exit within %s", name, s.opts.StopTimeout)
		}
		timer.Stop()
		m.cancel, m.done = nil, nil
	}

	s.teardown(ctx, runner)
	runner.SetStatus(agent.StatusStopped)
	m.stopped = true

	logEvent("agent_stopped", map[string]interface{}{"agent_name": name})
}

func (s *Supervisor) setup(ctx context.Context, runner *agent.Runner) (err error) {
	setupper, ok := runner.Agent().(agent.Setupper)
	if !ok {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("setup panicked: %v", p)
		}
	}()
	return setupper.Setup(ctx)
}

func (s *Supervisor) teardown(ctx context.Context, runner *agent.Runner) {
	teardowner, ok := runner.Agent().(agent.Teardowner)
	if !ok {
		return
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StopTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Supervisor] [ERROR] Teardown panicked for agent '%s': %v", runner.Name(), p)
		}
	}()
	teardowner.Teardown(tctx)
}

// persistentLoop runs the agent continuously with a short pause between
// runs and a longer backoff after a failed run.
func (s *Supervisor) persistentLoop(ctx context.Context, runner *agent.Runner, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		pause := s.opts.PersistentPause
		if runner.Status() != agent.StatusPaused && !s.runOnce(ctx, runner) {
			pause = s.opts.PersistentErrorBackoff
		}

		if !sleep(ctx, pause) {
			return
		}
	}
}

// scheduledLoop runs the agent, then sleeps for its schedule interval.
func (s *Supervisor) scheduledLoop(ctx context.Context, runner *agent.Runner, done chan struct{}) {
	defer close(done)

	interval := runner.Config().ScheduleInterval
	if interval <= 0 {
		interval = s.opts.DefaultScheduleInterval
	}

	for {
		if ctx.Err() != nil {
			return
		}

		pause := interval
		if runner.Status() != agent.StatusPaused && !s.runOnce(ctx, runner) {
			pause = s.opts.ScheduledErrorBackoff
		}

		if !sleep(ctx, pause) {
			return
		}
	}
}

// runOnce performs one loop iteration and reports whether it succeeded.
// A run in flight is not interrupted by loop cancellation.
func (s *Supervisor) runOnce(ctx context.Context, runner *agent.Runner) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Supervisor] [ERROR] Loop for agent '%s' panicked: %v", runner.Name(), p)
			runner.SetStatus(agent.StatusError)
			ok = false
		}
	}()

	result := runner.Run(context.WithoutCancel(ctx))
	return result.Success
}

// sleep waits for d or until ctx is cancelled. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
