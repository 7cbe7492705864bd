package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/printer"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check warren.yml without starting anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		printer.Success("%s is valid: %d agents, %d schedules\n", configPath, len(cfg.Agents), len(cfg.Schedules))
		return nil
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents declared in warren.yml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		return writeAgentTable(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(agentsCmd)
}

func writeAgentTable(w io.Writer, cfg *config.WarrenConfig) error {
	rows := make([][]string, 0, len(cfg.Agents))
	for _, name := range cfg.AgentNames() {
		a := cfg.Agents[name]
		ac := a.AgentConfig(name).WithDefaults()
		rows = append(rows, []string{
			name,
			a.Kind,
			string(ac.Type),
			string(ac.Priority),
			scheduleSummary(cfg, name, a),
			ac.MaxRuntime.String(),
			strconv.Itoa(ac.MaxRetries),
		})
	}
	return printer.Table(w, []string{"name", "kind", "type", "priority", "schedule", "max runtime", "retries"}, rows)
}

// scheduleSummary describes what drives an agent besides manual triggers.
func scheduleSummary(cfg *config.WarrenConfig, name string, a config.Agent) string {
	var parts []string
	switch {
	case a.ScheduleInterval.D() > 0:
		parts = append(parts, "every "+a.ScheduleInterval.D().String())
	case a.ScheduleCron != "":
		parts = append(parts, "cron "+a.ScheduleCron)
	}
	for _, s := range cfg.Schedules {
		if s.Agent == name {
			parts = append(parts, fmt.Sprintf("[%s]", s.Name))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}
