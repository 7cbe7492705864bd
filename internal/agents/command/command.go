// Package command implements an agent that runs an external command per run.
//
// The command receives a ToolInput JSON document on stdin and must write a
// ToolOutput JSON document to stdout. It is killed when the run's MaxRuntime
// elapses.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/pkg/blackboard"
)

const (
	// maxOutputSize is the maximum number of bytes read from stdout/stderr (10MB)
	maxOutputSize = 10 * 1024 * 1024

	// DefaultContextWindow is how far back blackboard context reaches
	DefaultContextWindow = time.Hour

	// DefaultContextLimit caps the number of context entries passed to the command
	DefaultContextLimit = 20
)

// Config configures a command agent
type Config struct {
	Command       []string
	Environment   []string // KEY=VALUE, appended to the process environment
	WorkDir       string
	ContextWindow time.Duration
	ContextLimit  int
	AllowedTools  []string

	// Board supplies context entries; may be nil
	Board *blackboard.Board
}

// Agent runs Config.Command once per Execute
type Agent struct {
	name   string
	config Config

	mu           sync.Mutex
	lastExitCode int
	lastDuration time.Duration
	executions   int
}

// New creates a command agent registered as name.
func New(name string, config Config) (*Agent, error) {
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("command array is empty")
	}
	if config.ContextWindow <= 0 {
		config.ContextWindow = DefaultContextWindow
	}
	if config.ContextLimit <= 0 {
		config.ContextLimit = DefaultContextLimit
	}
	return &Agent{name: name, config: config, lastExitCode: -1}, nil
}

// Setup verifies the executable can be found.
func (a *Agent) Setup(context.Context) error {
	if _, err := exec.LookPath(a.config.Command[0]); err != nil {
		return fmt.Errorf("command %q not found: %w", a.config.Command[0], err)
	}
	if a.config.WorkDir != "" {
		if _, err := os.Stat(a.config.WorkDir); err != nil {
			return fmt.Errorf("workdir does not exist: %s", a.config.WorkDir)
		}
	}
	return nil
}

// Capabilities describes the command.
func (a *Agent) Capabilities() map[string]any {
	return map[string]any{
		"kind":    "command",
		"command": append([]string(nil), a.config.Command...),
	}
}

// HealthCheck reports the outcome of the most recent execution.
func (a *Agent) HealthCheck() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		"executions":       a.executions,
		"last_exit_code":   a.lastExitCode,
		"last_duration_ms": a.lastDuration.Milliseconds(),
	}
}

// Execute runs the command with task as input.
//
// Workflow:
//  1. Prepare tool input JSON (task plus recent blackboard context)
//  2. Execute the subprocess, bounded by ctx
//  3. Parse and validate stdout JSON
func (a *Agent) Execute(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	inputJSON, err := a.prepareInput(task)
	if err != nil {
		return nil, err
	}

	log.Printf("[Agent:%s] [DEBUG] Executing command: %v", a.name, a.config.Command)
	start := time.Now()
	exitCode, stdout, stderr, err := a.runSubprocess(ctx, inputJSON)
	duration := time.Since(start)

	a.mu.Lock()
	a.executions++
	a.lastExitCode = exitCode
	a.lastDuration = duration
	a.mu.Unlock()

	if err != nil {
		return nil, &FailureData{
			Reason:   err.Error(),
			ExitCode: exitCode,
			Stdout:   truncate(stdout, 5000),
			Stderr:   truncate(stderr, 5000),
		}
	}

	output, err := parseOutput(stdout)
	if err != nil {
		log.Printf("[Agent:%s] [ERROR] Failed to parse command output: %v stdout=%s", a.name, err, truncate(stdout, 200))
		return nil, fmt.Errorf("failed to parse command output: %w", err)
	}

	return output.Result(), nil
}

// prepareInput builds the stdin document.
func (a *Agent) prepareInput(task *agent.Task) ([]byte, error) {
	input := &ToolInput{
		Agent:        a.name,
		Context:      []ContextEntry{},
		AllowedTools: a.config.AllowedTools,
	}

	if task != nil {
		input.Task = &TaskInput{
			ID:         task.ID,
			Type:       task.Type,
			Payload:    task.Payload,
			Priority:   string(task.Priority),
			RetryCount: task.RetryCount,
		}
	}

	if a.config.Board != nil {
		for _, entry := range a.config.Board.QueryRecent(a.config.ContextWindow, a.config.ContextLimit) {
			input.Context = append(input.Context, ContextEntry{
				Key:         entry.Key,
				Value:       entry.Value,
				SourceAgent: entry.SourceAgent,
				Tags:        entry.Tags,
				CreatedAt:   entry.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool input: %w", err)
	}
	return data, nil
}

// runSubprocess runs the command with output limits.
// Returns (exitCode, stdout, stderr, error) where exitCode is -1 when the
// process could not be started or was killed.
func (a *Agent) runSubprocess(ctx context.Context, input []byte) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, a.config.Command[0], a.config.Command[1:]...)
	cmd.Dir = a.config.WorkDir
	cmd.WaitDelay = time.Second
	if len(a.config.Environment) > 0 {
		cmd.Env = append(os.Environ(), a.config.Environment...)
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return -1, "", "", fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	if err := cmd.Start(); err != nil {
		return -1, "", "", fmt.Errorf("failed to start process: %w", err)
	}

	go func() {
		defer stdinPipe.Close()
		if _, err := stdinPipe.Write(input); err != nil && !errors.Is(err, os.ErrClosed) {
			log.Printf("[Agent:%s] [WARN] Failed to write to stdin: %v", a.name, err)
		}
	}()

	err = cmd.Wait()

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	if stdoutBuf.Len() >= maxOutputSize || stderrBuf.Len() >= maxOutputSize {
		return -1, stdout, stderr, fmt.Errorf("command output exceeded 10MB limit")
	}

	if err != nil {
		if ctx.Err() != nil {
			return -1, stdout, stderr, fmt.Errorf("command cancelled: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), stdout, stderr, fmt.Errorf("process exited with code %d", exitErr.ExitCode())
		}
		return -1, stdout, stderr, err
	}

	return 0, stdout, stderr, nil
}

// parseOutput unmarshals and validates the command's stdout JSON.
func parseOutput(stdout string) (*ToolOutput, error) {
	if len(stdout) == 0 {
		return nil, fmt.Errorf("command produced no output on stdout")
	}

	var output ToolOutput
	if err := json.Unmarshal([]byte(stdout), &output); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := output.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &output, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

// truncate limits a string to maxLen characters, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
