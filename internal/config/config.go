package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/scheduler"
	"github.com/dyluth/warren/internal/timespec"
	"gopkg.in/yaml.v3"
)

// Agent kinds supported by warren.yml
const (
	KindCommand   = "command"
	KindHeartbeat = "heartbeat"
)

// Duration is a time.Duration that unmarshals from timespec strings ("90s", "300").
type Duration time.Duration

// UnmarshalYAML parses the node with timespec.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := timespec.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// WarrenConfig represents the top-level warren.yml configuration
type WarrenConfig struct {
	Version    string            `yaml:"version"`
	Supervisor *SupervisorConfig `yaml:"supervisor,omitempty"`
	Scheduler  *SchedulerConfig  `yaml:"scheduler,omitempty"`
	Blackboard *BlackboardConfig `yaml:"blackboard,omitempty"`
	Status     *StatusConfig     `yaml:"status,omitempty"`
	Agents     map[string]Agent  `yaml:"agents"`
	Schedules  []Schedule        `yaml:"schedules,omitempty"`
}

// SupervisorConfig overrides supervisor defaults. Omitted fields keep the defaults.
type SupervisorConfig struct {
	HealthInterval          Duration `yaml:"health_interval,omitempty"`
	AutoRestart             *bool    `yaml:"auto_restart,omitempty"` // default true
	MaxRestarts             int      `yaml:"max_restarts,omitempty"`
	PersistentPause         Duration `yaml:"persistent_pause,omitempty"`
	PersistentErrorBackoff  Duration `yaml:"persistent_error_backoff,omitempty"`
	ScheduledErrorBackoff   Duration `yaml:"scheduled_error_backoff,omitempty"`
	DefaultScheduleInterval Duration `yaml:"default_schedule_interval,omitempty"`
	StopTimeout             Duration `yaml:"stop_timeout,omitempty"`
}

// SchedulerConfig configures the interval scheduler
type SchedulerConfig struct {
	PollInterval Duration `yaml:"poll_interval,omitempty"`
}

// BlackboardConfig configures the shared blackboard
type BlackboardConfig struct {
	CleanupInterval Duration     `yaml:"cleanup_interval,omitempty"`
	Redis           *RedisConfig `yaml:"redis,omitempty"` // optional mirror
}

// RedisConfig points the blackboard mirror at a Redis server
type RedisConfig struct {
	URL      string `yaml:"url"`
	Instance string `yaml:"instance"`
}

// StatusConfig configures the HTTP status server
type StatusConfig struct {
	Listen string `yaml:"listen"` // e.g. ":8080"
}

// Agent represents a single agent configuration
type Agent struct {
	Kind     string `yaml:"kind"` // command or heartbeat
	Type     string `yaml:"type"`
	Priority string `yaml:"priority,omitempty"`

	// Kind-specific settings
	Command     []string `yaml:"command,omitempty"`
	Environment []string `yaml:"environment,omitempty"`
	WorkDir     string   `yaml:"workdir,omitempty"`

	// Blackboard context handed to command agents
	ContextWindow Duration `yaml:"context_window,omitempty"`
	ContextLimit  int      `yaml:"context_limit,omitempty"`

	// Heartbeat entry lifetime
	HeartbeatTTL Duration `yaml:"heartbeat_ttl,omitempty"`

	// Limits
	MaxTokensPerRun int      `yaml:"max_tokens_per_run,omitempty"`
	MaxRuntime      Duration `yaml:"max_runtime,omitempty"`
	MaxMemoryMB     int      `yaml:"max_memory_mb,omitempty"`

	// Scheduling
	ScheduleCron     string   `yaml:"schedule_cron,omitempty"`
	ScheduleInterval Duration `yaml:"schedule_interval,omitempty"`

	// Capabilities and permissions
	AllowedTools      []string `yaml:"allowed_tools,omitempty"`
	CanModifyPrompts  bool     `yaml:"can_modify_prompts,omitempty"`
	CanModifyRouting  bool     `yaml:"can_modify_routing,omitempty"`
	CanAccessUserData bool     `yaml:"can_access_user_data,omitempty"`

	MemoryNamespace string   `yaml:"memory_namespace,omitempty"`
	PersistState    bool     `yaml:"persist_state,omitempty"`
	MaxRetries      *int     `yaml:"max_retries,omitempty"` // default 3
	RetryDelay      Duration `yaml:"retry_delay,omitempty"`
}

// Schedule represents a scheduler entry
type Schedule struct {
	Name           string   `yaml:"name"`
	Agent          string   `yaml:"agent"`
	Interval       Duration `yaml:"interval,omitempty"`
	Cron           string   `yaml:"cron,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"` // default true
	RunImmediately bool     `yaml:"run_immediately,omitempty"`
}

// Validate performs strict validation on the configuration
func (c *WarrenConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: at least one agent
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}

	for _, name := range c.AgentNames() {
		a := c.Agents[name]
		if err := a.Validate(name); err != nil {
			return err
		}
	}

	if c.Supervisor != nil && c.Supervisor.MaxRestarts < 0 {
		return fmt.Errorf("supervisor.max_restarts must be >= 0, got %d", c.Supervisor.MaxRestarts)
	}

	if c.Blackboard != nil && c.Blackboard.Redis != nil {
		if c.Blackboard.Redis.URL == "" {
			return fmt.Errorf("blackboard.redis.url is required when blackboard.redis is set")
		}
		if c.Blackboard.Redis.Instance == "" {
			c.Blackboard.Redis.Instance = "default"
		}
	}

	if c.Status != nil && c.Status.Listen == "" {
		return fmt.Errorf("status.listen is required when status is set")
	}

	namesSeen := make(map[string]bool)
	for i, sched := range c.Schedules {
		if sched.Name == "" {
			return fmt.Errorf("schedules[%d]: name is required", i)
		}
		if namesSeen[sched.Name] {
			return fmt.Errorf("duplicate schedule name '%s'", sched.Name)
		}
		namesSeen[sched.Name] = true

		if _, exists := c.Agents[sched.Agent]; !exists {
			return fmt.Errorf("schedule '%s': unknown agent '%s'", sched.Name, sched.Agent)
		}
		if sched.Interval == 0 && sched.Cron == "" {
			return fmt.Errorf("schedule '%s': either interval or cron is required", sched.Name)
		}
		if sched.Interval == 0 {
			if _, err := scheduler.ParseCron(sched.Cron); err != nil {
				return fmt.Errorf("schedule '%s': %w", sched.Name, err)
			}
		}
	}

	return nil
}

// Validate performs validation on a single agent configuration
func (a *Agent) Validate(name string) error {
	switch a.Kind {
	case KindCommand:
		if len(a.Command) == 0 {
			return fmt.Errorf("agent '%s': command is required for kind '%s'", name, KindCommand)
		}
	case KindHeartbeat:
	case "":
		return fmt.Errorf("agent '%s': kind is required", name)
	default:
		return fmt.Errorf("agent '%s': invalid kind: %s (must be '%s' or '%s')", name, a.Kind, KindCommand, KindHeartbeat)
	}

	if a.Type == "" {
		return fmt.Errorf("agent '%s': type is required", name)
	}

	if a.ScheduleCron != "" {
		if _, err := scheduler.ParseCron(a.ScheduleCron); err != nil {
			return fmt.Errorf("agent '%s': schedule_cron: %w", name, err)
		}
	}

	if a.ContextLimit < 0 {
		return fmt.Errorf("agent '%s': context_limit must be >= 0", name)
	}

	if a.MaxRetries != nil && *a.MaxRetries < 0 {
		return fmt.Errorf("agent '%s': max_retries must be >= 0", name)
	}

	cfg := a.AgentConfig(name)
	return cfg.WithDefaults().Validate()
}

// AgentConfig converts the YAML entry into an agent.Config.
func (a *Agent) AgentConfig(name string) agent.Config {
	maxRetries := agent.DefaultMaxRetries
	if a.MaxRetries != nil {
		maxRetries = *a.MaxRetries
	}

	var tools map[string]bool
	if len(a.AllowedTools) > 0 {
		tools = make(map[string]bool, len(a.AllowedTools))
		for _, tool := range a.AllowedTools {
			tools[tool] = true
		}
	}

	return agent.Config{
		Name:              name,
		Type:              agent.Type(a.Type),
		Priority:          agent.Priority(a.Priority),
		MaxTokensPerRun:   a.MaxTokensPerRun,
		MaxRuntime:        a.MaxRuntime.D(),
		MaxMemoryMB:       a.MaxMemoryMB,
		ScheduleCron:      a.ScheduleCron,
		ScheduleInterval:  a.ScheduleInterval.D(),
		AllowedTools:      tools,
		CanModifyPrompts:  a.CanModifyPrompts,
		CanModifyRouting:  a.CanModifyRouting,
		CanAccessUserData: a.CanAccessUserData,
		MemoryNamespace:   a.MemoryNamespace,
		PersistState:      a.PersistState,
		MaxRetries:        maxRetries,
		RetryDelay:        a.RetryDelay.D(),
	}
}

// SchedulerSchedule converts the YAML entry into a scheduler.Schedule.
func (s Schedule) SchedulerSchedule() scheduler.Schedule {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return scheduler.Schedule{
		Name:           s.Name,
		AgentName:      s.Agent,
		Interval:       s.Interval.D(),
		Cron:           s.Cron,
		Enabled:        enabled,
		RunImmediately: s.RunImmediately,
	}
}

// AgentNames returns the configured agent names in sorted order.
func (c *WarrenConfig) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and validates warren.yml from the specified path
func Load(path string) (*WarrenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config WarrenConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
