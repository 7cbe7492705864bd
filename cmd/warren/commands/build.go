package commands

import (
	"fmt"
	"log"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/agents/command"
	"github.com/dyluth/warren/internal/agents/heartbeat"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/scheduler"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// stack holds everything built from one warren.yml
type stack struct {
	cfg        *config.WarrenConfig
	board      *blackboard.Board
	mirror     *blackboard.Mirror // nil unless blackboard.redis is set
	scheduler  *scheduler.Scheduler
	registry   *prometheus.Registry
	supervisor *supervisor.Supervisor
}

// buildStack wires the blackboard, mirror, scheduler, metrics and
// supervisor, then registers every configured agent and schedule.
// Nothing is started.
func buildStack(cfg *config.WarrenConfig) (*stack, error) {
	st := &stack{cfg: cfg, registry: prometheus.NewRegistry()}
	st.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var boardOpts []blackboard.Option
	if cfg.Blackboard != nil && cfg.Blackboard.CleanupInterval.D() > 0 {
		boardOpts = append(boardOpts, blackboard.WithCleanupInterval(cfg.Blackboard.CleanupInterval.D()))
	}
	st.board = blackboard.New(boardOpts...)

	if cfg.Blackboard != nil && cfg.Blackboard.Redis != nil {
		redisOpts, err := redis.ParseURL(cfg.Blackboard.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid blackboard redis url: %w", err)
		}
		mirror, err := blackboard.NewMirror(redisOpts, cfg.Blackboard.Redis.Instance)
		if err != nil {
			return nil, fmt.Errorf("failed to create blackboard mirror: %w", err)
		}
		mirror.Attach(st.board)
		st.mirror = mirror
	}

	var schedOpts []scheduler.Option
	if cfg.Scheduler != nil && cfg.Scheduler.PollInterval.D() > 0 {
		schedOpts = append(schedOpts, scheduler.WithPollInterval(cfg.Scheduler.PollInterval.D()))
	}
	st.scheduler = scheduler.New(schedOpts...)

	opts := supervisorOptions(cfg)
	opts.Blackboard = st.board
	opts.Scheduler = st.scheduler
	opts.Metrics = supervisor.MustNewMetrics(st.registry)
	st.supervisor = supervisor.New(opts)

	for _, name := range cfg.AgentNames() {
		entry := cfg.Agents[name]
		impl, err := st.newAgent(name, entry)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("agent '%s': %w", name, err)
		}
		if _, err := st.supervisor.RegisterAgent(impl, entry.AgentConfig(name)); err != nil {
			st.close()
			return nil, fmt.Errorf("agent '%s': %w", name, err)
		}
	}

	for _, sched := range cfg.Schedules {
		if err := st.scheduler.AddSchedule(sched.SchedulerSchedule()); err != nil {
			st.close()
			return nil, fmt.Errorf("schedule '%s': %w", sched.Name, err)
		}
	}

	log.Printf("[Warren] Built %d agents, %d schedules (mirror: %t)", len(cfg.Agents), len(cfg.Schedules), st.mirror != nil)
	return st, nil
}

func (st *stack) newAgent(name string, entry config.Agent) (agent.Agent, error) {
	switch entry.Kind {
	case config.KindCommand:
		return command.New(name, command.Config{
			Command:       entry.Command,
			Environment:   entry.Environment,
			WorkDir:       entry.WorkDir,
			ContextWindow: entry.ContextWindow.D(),
			ContextLimit:  entry.ContextLimit,
			AllowedTools:  entry.AllowedTools,
			Board:         st.board,
		})
	case config.KindHeartbeat:
		var pinger heartbeat.Pinger
		if st.mirror != nil {
			pinger = st.mirror
		}
		return heartbeat.New(name, st.board, pinger, entry.HeartbeatTTL.D()), nil
	default:
		return nil, fmt.Errorf("unsupported kind: %s", entry.Kind)
	}
}

// close releases the mirror connection. The supervisor must be stopped first.
func (st *stack) close() {
	if st.mirror == nil {
		return
	}
	st.mirror.Detach()
	if err := st.mirror.Close(); err != nil {
		log.Printf("[Warren] [WARN] Failed to close blackboard mirror: %v", err)
	}
}

// supervisorOptions applies the supervisor section over the defaults.
func supervisorOptions(cfg *config.WarrenConfig) supervisor.Options {
	opts := supervisor.DefaultOptions()
	sc := cfg.Supervisor
	if sc == nil {
		return opts
	}

	if sc.AutoRestart != nil {
		opts.AutoRestart = *sc.AutoRestart
	}
	if sc.MaxRestarts > 0 {
		opts.MaxRestarts = sc.MaxRestarts
	}
	if d := sc.HealthInterval.D(); d > 0 {
		opts.HealthInterval = d
	}
	if d := sc.PersistentPause.D(); d > 0 {
		opts.PersistentPause = d
	}
	if d := sc.PersistentErrorBackoff.D(); d > 0 {
		opts.PersistentErrorBackoff = d
	}
	if d := sc.ScheduledErrorBackoff.D(); d > 0 {
		opts.ScheduledErrorBackoff = d
	}
	if d := sc.DefaultScheduleInterval.D(); d > 0 {
		opts.DefaultScheduleInterval = d
	}
	if d := sc.StopTimeout.D(); d > 0 {
		opts.StopTimeout = d
	}
	return opts
}
