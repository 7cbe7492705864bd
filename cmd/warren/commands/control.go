package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/resolver"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/spf13/cobra"
)

var (
	statusAddr     string
	triggerType    string
	triggerPayload string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status from a running warren",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats supervisor.Stats
		if err := newStatusClient(statusAddr).do(cmd.Context(), http.MethodGet, "/stats", nil, &stats); err != nil {
			return clientError(err)
		}
		return writeStatus(cmd.OutOrStdout(), stats)
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger AGENT",
	Short: "Run an agent once and print its result",
	Long: `Run an agent once through the status server and print the result as JSON.

Examples:
  warren trigger qa
  warren trigger researcher --type topic --payload '{"query":"llm evals"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if triggerType != "" {
			body["type"] = triggerType
		}
		if triggerPayload != "" {
			var payload map[string]any
			if err := json.Unmarshal([]byte(triggerPayload), &payload); err != nil {
				return printer.Error("invalid payload", err.Error(), []string{"Pass a JSON object, e.g. --payload '{\"key\":\"value\"}'"})
			}
			body["payload"] = payload
		}

		client := newStatusClient(statusAddr)
		name, err := resolveAgent(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		var result agent.Result
		if err := client.do(cmd.Context(), http.MethodPost, agentPath(name, "trigger"), body, &result); err != nil {
			return clientError(err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("agent %s failed: %s", name, result.Error)
		}
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause AGENT",
	Short: "Pause an agent's background loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newStatusClient(statusAddr)
		name, err := resolveAgent(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		if err := client.do(cmd.Context(), http.MethodPost, agentPath(name, "pause"), nil, nil); err != nil {
			return clientError(err)
		}
		printer.Success("Paused %s\n", name)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume AGENT",
	Short: "Resume a paused agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newStatusClient(statusAddr)
		name, err := resolveAgent(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		if err := client.do(cmd.Context(), http.MethodPost, agentPath(name, "resume"), nil, nil); err != nil {
			return clientError(err)
		}
		printer.Success("Resumed %s\n", name)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, triggerCmd, pauseCmd, resumeCmd} {
		c.Flags().StringVar(&statusAddr, "addr", DefaultStatusAddr, "Status server address")
		rootCmd.AddCommand(c)
	}
	triggerCmd.Flags().StringVar(&triggerType, "type", "", "Task type")
	triggerCmd.Flags().StringVar(&triggerPayload, "payload", "", "Task payload as a JSON object")
}

func writeStatus(w io.Writer, stats supervisor.Stats) error {
	state := "running"
	if !stats.Running {
		state = "stopped"
	}
	fmt.Fprintf(w, "Supervisor %s: %d agents, %d runs, %d errors, %d blackboard entries\n\n",
		state, stats.TotalAgents, stats.TotalRuns, stats.TotalErrors, stats.Blackboard.Entries)

	rows := make([][]string, 0, len(stats.Agents))
	for _, a := range stats.Agents {
		lastRun := "never"
		if a.LastRun != nil {
			lastRun = a.LastRun.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			a.Name,
			string(a.Type),
			strconv.Itoa(a.TotalRuns),
			strconv.Itoa(a.ErrorCount),
			strconv.FormatFloat(a.SuccessRate*100, 'f', 0, 64) + "%",
			strconv.Itoa(stats.Restarts[a.Name]),
			lastRun,
			// last column, so color codes don't skew alignment
			printer.Status(string(a.Status)),
		})
	}
	return printer.Table(w, []string{"name", "type", "runs", "errors", "success", "restarts", "last run", "status"}, rows)
}

// resolveAgent expands an abbreviated agent name against the running agents.
func resolveAgent(ctx context.Context, client *statusClient, input string) (string, error) {
	var agents []agent.Stats
	if err := client.do(ctx, http.MethodGet, "/agents", nil, &agents); err != nil {
		return "", clientError(err)
	}

	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
	}

	name, err := resolver.ResolveAgentName(names, input)
	if err != nil {
		var amb *resolver.AmbiguousError
		if errors.As(err, &amb) {
			return "", printer.Error("ambiguous agent name", resolver.FormatAmbiguousError(amb), nil)
		}
		return "", printer.Error("unknown agent", err.Error(), []string{"List running agents:\n  warren status"})
	}
	return name, nil
}

func clientError(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return printer.Error("status server unreachable", err.Error(), []string{
			"Start warren with status.listen set:\n  warren run",
			"Point at the right server:\n  --addr http://host:port",
		})
	}

	switch apiErr.Status {
	case http.StatusNotFound:
		return printer.Error("unknown agent", apiErr.Message, []string{"List configured agents:\n  warren agents"})
	case http.StatusConflict:
		return printer.Error("agent busy", apiErr.Message, nil)
	default:
		return printer.Error("request failed", apiErr.Error(), nil)
	}
}
