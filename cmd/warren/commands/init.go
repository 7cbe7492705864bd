package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new warren project",
	Long: `Initialize a new warren project with default configuration and an example agent.

Creates:
  • warren.yml - Supervisor and agent configuration
  • agents/example-agent/ - Example command agent demonstrating the stdin/stdout contract

Use --force to reinitialize an existing project (WARNING: destroys existing configuration).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	// Note: Cannot use -f shorthand because it conflicts with global --config flag
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing warren.yml and agents/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	if !forceInit {
		if err := scaffold.CheckExisting(dir); err != nil {
			return printer.Error("cannot initialize", err.Error(), nil)
		}
	}

	if err := scaffold.Initialize(dir, forceInit, cmd.OutOrStdout()); err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	scaffold.PrintSuccess(cmd.OutOrStdout())
	return nil
}
