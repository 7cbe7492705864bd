package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/dyluth/warren/internal/agent"
)

// healthLoop runs CheckHealth every HealthInterval until ctx is cancelled.
func (s *Supervisor) healthLoop(ctx context.Context) {
	defer s.healthW.Done()

	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckHealth(ctx)
		}
	}
}

// CheckHealth performs one health pass over every agent.
//
// A running agent whose current run has lasted longer than twice its
// MaxRuntime is stuck: it is stopped and, with AutoRestart, started again.
// Stuck restarts do not consume the restart budget. An agent in the error
// state is restarted while it has used fewer than MaxRestarts restarts; the
// count is never reset, so after the limit the agent stays errored until it
// is unregistered.
func (s *Supervisor) CheckHealth(ctx context.Context) {
	now := s.now()

	for _, m := range s.snapshot() {
		s.checkAgent(ctx, m, now)
	}

	s.updateGauges()
}

func (s *Supervisor) checkAgent(ctx context.Context, m *managed, now time.Time) {
	runner := m.runner
	name := runner.Name()

	switch runner.Status() {
	case agent.StatusRunning:
		since := runner.RunningSince()
		limit := 2 * runner.Config().MaxRuntime
		if since.IsZero() || now.Sub(since) <= limit {
			return
		}

		log.Printf("[Supervisor] [WARN] Agent '%s' stuck: running for %s (limit %s)",
			name, now.Sub(since).Round(time.Second), limit)
		logLevel("warn", "agent_stuck", map[string]interface{}{
			"agent_name":      name,
			"running_seconds": now.Sub(since).Seconds(),
		})

		m.lifecycle.Lock()
		defer m.lifecycle.Unlock()

		s.stopLocked(ctx, m)
		if s.opts.AutoRestart {
			s.restartLocked(m, "stuck")
		}

	case agent.StatusError:
		if !s.opts.AutoRestart {
			return
		}

		m.lifecycle.Lock()
		defer m.lifecycle.Unlock()

		if m.restarts >= s.opts.MaxRestarts {
			if !m.gaveUp {
				m.gaveUp = true
				log.Printf("[Supervisor] [ERROR] Agent '%s' reached max restarts (%d), leaving it in error state",
					name, s.opts.MaxRestarts)
				logLevel("error", "agent_restart_limit", map[string]interface{}{
					"agent_name":   name,
					"max_restarts": s.opts.MaxRestarts,
				})
			}
			return
		}

		m.restarts++
		log.Printf("[Supervisor] Restarting agent '%s' (attempt %d/%d)", name, m.restarts, s.opts.MaxRestarts)
		s.stopLocked(ctx, m)
		s.restartLocked(m, "error")
	}
}

// restartLocked starts a stopped agent again under the supervisor's context.
// Caller holds m.lifecycle.
func (s *Supervisor) restartLocked(m *managed, reason string) {
	s.mu.RLock()
	running, baseCtx := s.running, s.baseCtx
	s.mu.RUnlock()

	if !running {
		return
	}

	s.startLocked(baseCtx, m)
	s.metrics.IncRestart(m.runner.Name(), reason)

	logEvent("agent_restarted", map[string]interface{}{
		"agent_name": m.runner.Name(),
		"reason":     reason,
		"restarts":   m.restarts,
	})
}

func (s *Supervisor) updateGauges() {
	if s.metrics == nil {
		return
	}
	counts := make(map[agent.Status]int)
	for _, runner := range s.ListAgents() {
		counts[runner.Status()]++
	}
	s.metrics.SetAgentStatuses(counts)
	s.metrics.SetBlackboardEntries(s.board.Len())
}
