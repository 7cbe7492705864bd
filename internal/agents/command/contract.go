package command

import (
	"fmt"

	"github.com/dyluth/warren/internal/agent"
)

// ToolInput represents the JSON structure passed to the command via stdin.
//
// Contract: the agent marshals this struct to JSON, writes it to the
// command's stdin and immediately closes the pipe.
//
// Example JSON:
//
//	{
//	  "agent": "researcher",
//	  "task": {"id": "abc-123", "type": "scan", "payload": {"topic": "llm"}},
//	  "context": [{"key": "auditor:finding:1", "value": {...}, "source_agent": "auditor"}]
//	}
type ToolInput struct {
	// Agent is the name the command is registered under
	Agent string `json:"agent"`

	// Task is the dequeued task, or null for a periodic run with no queued work
	Task *TaskInput `json:"task"`

	// Context holds recent blackboard entries, newest first
	Context []ContextEntry `json:"context"`

	// AllowedTools lists the tools the command may use; empty means any
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// TaskInput is the task as seen by the command
type TaskInput struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	RetryCount int            `json:"retry_count"`
}

// ContextEntry is a blackboard entry as seen by the command
type ContextEntry struct {
	Key         string   `json:"key"`
	Value       any      `json:"value"`
	SourceAgent string   `json:"source_agent"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

// ToolOutput represents the JSON structure that the command writes to stdout.
//
// Contract: the command must write exactly ONE JSON object to stdout and
// exit 0. Anything else is a failed run.
//
// Example JSON:
//
//	{
//	  "success": true,
//	  "summary": "scanned 12 sources",
//	  "findings": [{"topic": "retrieval", "score": 0.9}],
//	  "tokens_used": 1200,
//	  "tools_used": ["web_search"]
//	}
type ToolOutput struct {
	// Success defaults to true when omitted
	Success *bool `json:"success,omitempty"`

	// Summary is a human-readable description of what the command did.
	// Required - must be non-empty string.
	Summary string `json:"summary"`

	Output          any              `json:"output,omitempty"`
	Error           string           `json:"error,omitempty"`
	TokensUsed      int              `json:"tokens_used,omitempty"`
	Findings        []map[string]any `json:"findings,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`

	// ToolsUsed is checked against the agent's allowed tools by the runner
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// Validate checks that the ToolOutput has all required fields and valid values.
func (o *ToolOutput) Validate() error {
	if o.Summary == "" {
		return fmt.Errorf("summary is required and cannot be empty")
	}
	if o.TokensUsed < 0 {
		return fmt.Errorf("tokens_used must be >= 0, got %d", o.TokensUsed)
	}
	if o.Success != nil && !*o.Success && o.Error == "" {
		return fmt.Errorf("error is required when success is false")
	}
	return nil
}

// Result converts the output into an agent.Result.
func (o *ToolOutput) Result() *agent.Result {
	success := true
	if o.Success != nil {
		success = *o.Success
	}

	metadata := make(map[string]any, len(o.Metadata)+1)
	for k, v := range o.Metadata {
		metadata[k] = v
	}
	metadata["summary"] = o.Summary

	output := o.Output
	if output == nil {
		output = o.Summary
	}

	return &agent.Result{
		Success:         success,
		Output:          output,
		Error:           o.Error,
		TokensUsed:      o.TokensUsed,
		Findings:        o.Findings,
		Recommendations: o.Recommendations,
		Metadata:        metadata,
		ToolsUsed:       o.ToolsUsed,
	}
}

// FailureData is attached to the error of a failed run for diagnostics
type FailureData struct {
	Reason   string `json:"reason"`
	ExitCode int    `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Error implements error.
func (f *FailureData) Error() string {
	if f.Stderr != "" {
		return fmt.Sprintf("%s (exit code %d): %s", f.Reason, f.ExitCode, truncate(f.Stderr, 500))
	}
	return fmt.Sprintf("%s (exit code %d)", f.Reason, f.ExitCode)
}
