package agent

import (
	"fmt"
	"time"
)

// Type determines how the supervisor drives an agent.
type Type string

const (
	// TypePersistent agents run in a continuous loop with a short pause between runs.
	TypePersistent Type = "persistent"

	// TypeScheduled agents run, then sleep for their schedule interval.
	TypeScheduled Type = "scheduled"

	// TypeOnDemand agents only run when triggered.
	TypeOnDemand Type = "on_demand"

	// TypeReactive agents only run when triggered, typically from a blackboard subscription.
	TypeReactive Type = "reactive"
)

// Validate checks that the type is one of the defined values.
func (t Type) Validate() error {
	switch t {
	case TypePersistent, TypeScheduled, TypeOnDemand, TypeReactive:
		return nil
	default:
		return fmt.Errorf("invalid agent type: %q (must be 'persistent', 'scheduled', 'on_demand', or 'reactive')", string(t))
	}
}

// HasLoop reports whether the supervisor runs a background loop for this type.
func (t Type) HasLoop() bool {
	switch t {
	case TypePersistent, TypeScheduled:
		return true
	case TypeOnDemand, TypeReactive:
		return false
	default:
		return false
	}
}

// Priority orders agents for listing and reporting.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Validate checks that the priority is one of the defined values.
func (p Priority) Validate() error {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return nil
	default:
		return fmt.Errorf("invalid priority: %q (must be 'critical', 'high', 'medium', or 'low')", string(p))
	}
}

// Rank returns 0 for critical through 3 for low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Status is the lifecycle state of a Runner.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
	StatusWaiting Status = "waiting"
)

// Default limits applied by Config.WithDefaults.
const (
	DefaultMaxRuntime      = 300 * time.Second
	DefaultMaxTokensPerRun = 10000
	DefaultMaxMemoryMB     = 512
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 60 * time.Second
)

// Config is the immutable description of an agent, fixed at registration.
type Config struct {
	Name     string
	Type     Type
	Priority Priority

	// Resource limits
	MaxTokensPerRun int
	MaxRuntime      time.Duration
	MaxMemoryMB     int

	// Scheduling. ScheduleCron is advisory; ScheduleInterval drives scheduled loops.
	ScheduleCron     string
	ScheduleInterval time.Duration

	// Capabilities and permissions
	AllowedTools      map[string]bool
	CanModifyPrompts  bool
	CanModifyRouting  bool
	CanAccessUserData bool

	// State
	MemoryNamespace string
	PersistState    bool

	// Retry policy for failed tasks
	MaxRetries int
	RetryDelay time.Duration
}

// WithDefaults returns a copy of c with zero-valued limits replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Type == "" {
		c.Type = TypeOnDemand
	}
	if c.Priority == "" {
		c.Priority = PriorityMedium
	}
	if c.MaxTokensPerRun == 0 {
		c.MaxTokensPerRun = DefaultMaxTokensPerRun
	}
	if c.MaxRuntime == 0 {
		c.MaxRuntime = DefaultMaxRuntime
	}
	if c.MaxMemoryMB == 0 {
		c.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if c.MemoryNamespace == "" {
		c.MemoryNamespace = c.Name
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Validate checks the configuration for programming mistakes.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if err := c.Type.Validate(); err != nil {
		return fmt.Errorf("agent '%s': %w", c.Name, err)
	}
	if err := c.Priority.Validate(); err != nil {
		return fmt.Errorf("agent '%s': %w", c.Name, err)
	}
	if c.MaxRuntime <= 0 {
		return fmt.Errorf("agent '%s': max runtime must be positive", c.Name)
	}
	if c.MaxTokensPerRun < 0 || c.MaxMemoryMB < 0 {
		return fmt.Errorf("agent '%s': resource limits must be >= 0", c.Name)
	}
	if c.ScheduleInterval < 0 {
		return fmt.Errorf("agent '%s': schedule interval must be >= 0", c.Name)
	}
	if c.MaxRetries < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("agent '%s': retry settings must be >= 0", c.Name)
	}
	return nil
}

// AllowsTool reports whether the named tool is in the agent's allowed set.
// An agent without an allowed set may use any tool.
func (c Config) AllowsTool(name string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	return c.AllowedTools[name]
}

// Task is a unit of queued work for an agent.
type Task struct {
	ID         string
	Type       string // interpreted by the concrete agent
	Payload    map[string]any
	Priority   Priority
	Deadline   *time.Time
	RetryCount int
	CreatedAt  time.Time

	// NotBefore delays a retried task until the retry delay has passed.
	NotBefore time.Time
}

// Result is produced exactly once per Runner.Run.
type Result struct {
	Success         bool             `json:"success"`
	Output          any              `json:"output,omitempty"`
	Error           string           `json:"error,omitempty"`
	DurationMs      int64            `json:"duration_ms"`
	TokensUsed      int              `json:"tokens_used"`
	Findings        []map[string]any `json:"findings,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	ToolsUsed       []string         `json:"tools_used,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Failure builds an unsuccessful Result with the given error message.
func Failure(format string, args ...any) *Result {
	return &Result{
		Success:   false,
		Error:     fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}
