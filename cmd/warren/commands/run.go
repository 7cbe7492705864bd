package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/statusserver"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the supervisor and all configured agents",
	Long: `Start the supervisor with every agent from warren.yml.

Persistent and scheduled agents start their loops immediately; on-demand
and reactive agents wait for a trigger. When status.listen is configured
the HTTP status server is started alongside.

Warren runs until interrupted (SIGINT/SIGTERM), then stops every agent
and runs their teardown before exiting.

Examples:
  # Run with ./warren.yml
  warren run

  # Run with an explicit config
  warren run -f deploy/warren.yml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := buildStack(cfg)
	if err != nil {
		return printer.ErrorWithContext(
			"failed to build supervisor",
			err.Error(),
			map[string]string{"Config": configPath},
			nil,
		)
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if st.mirror != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := st.mirror.Ping(pingCtx)
		cancel()
		if err != nil {
			return printer.ErrorWithContext(
				"Redis not accessible",
				err.Error(),
				map[string]string{"URL": cfg.Blackboard.Redis.URL},
				[]string{"Start Redis or remove blackboard.redis from warren.yml"},
			)
		}
	}

	return serve(ctx, st)
}

// serve starts the supervisor and the optional status server, blocks
// until ctx is cancelled or the status server fails, then stops everything.
func serve(ctx context.Context, st *stack) error {
	if err := st.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	printer.Success("Warren started with %d agents\n", len(st.cfg.Agents))

	g, gctx := errgroup.WithContext(ctx)
	if st.cfg.Status != nil {
		var opts []statusserver.Option
		opts = append(opts, statusserver.WithGatherer(st.registry))
		if st.mirror != nil {
			opts = append(opts, statusserver.WithPinger(st.mirror))
		}
		srv := statusserver.New(st.cfg.Status.Listen, st.supervisor, opts...)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		printer.Info("Status server on %s\n", st.cfg.Status.Listen)
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()

	printer.Step("Stopping agents...\n")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopBudget(st))
	defer cancel()
	if err := st.supervisor.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop supervisor: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("status server: %w", runErr)
	}

	printer.Success("Warren stopped\n")
	return nil
}

// stopBudget leaves room for every agent's stop timeout plus teardown.
func stopBudget(st *stack) time.Duration {
	return 2*supervisorOptions(st.cfg).StopTimeout + 5*time.Second
}

// loadConfig loads warren.yml and prints a formatted error on failure.
func loadConfig(path string) (*config.WarrenConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": path},
			[]string{"Check the file with:\n  warren validate -f " + path},
		)
	}
	return cfg, nil
}
