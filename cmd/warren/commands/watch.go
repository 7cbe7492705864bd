package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/warren/internal/hoard"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/watch"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	watchOutputFormat string
	watchKey          string
	watchTag          string
	watchAgent        string
	watchWait         string
	watchTimeout      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream blackboard writes in real time",
	Long: `Stream blackboard writes as they are mirrored to Redis.

Requires blackboard.redis in warren.yml; the in-memory blackboard of a
running warren is only observable through its mirror.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch everything
  warren watch

  # Only failures, as JSON
  warren watch --tag=agent_failure --output=json > failures.jsonl

  # Block until a key is written
  warren watch --wait pulse:heartbeat --timeout 5m`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchKey, "key", "", "Filter by key (glob pattern)")
	watchCmd.Flags().StringVar(&watchTag, "tag", "", "Filter by tag")
	watchCmd.Flags().StringVar(&watchAgent, "agent", "", "Filter by source agent")
	watchCmd.Flags().StringVar(&watchWait, "wait", "", "Wait for KEY to be written, print it and exit")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", time.Minute, "How long --wait polls")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	mirror, instance, err := openMirror(ctx, "watch")
	if err != nil {
		return err
	}
	defer mirror.Close()

	if watchWait != "" {
		entry, err := watch.PollForEntry(ctx, mirror, watchWait, watchTimeout)
		if err != nil {
			return printer.Error("entry not written", err.Error(), nil)
		}
		return hoard.FormatSingleJSON(cmd.OutOrStdout(), *entry)
	}

	sub, err := mirror.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	if outputFormat == watch.OutputFormatDefault {
		fmt.Fprintf(os.Stderr, "Watching instance '%s' (Ctrl+C to stop)\n", instance)
	}

	filter := &hoard.FilterCriteria{KeyGlob: watchKey, Tag: watchTag, Agent: watchAgent}
	return watch.StreamEntries(ctx, sub, outputFormat, cmd.OutOrStdout(), filter)
}

// openMirror connects to the Redis mirror configured in warren.yml.
// The caller closes the returned mirror.
func openMirror(ctx context.Context, command string) (*blackboard.Mirror, string, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, "", err
	}
	if cfg.Blackboard == nil || cfg.Blackboard.Redis == nil {
		return nil, "", printer.ErrorWithContext(
			"no blackboard mirror configured",
			fmt.Sprintf("warren %s reads the Redis mirror, but blackboard.redis is not set.", command),
			map[string]string{"Config": configPath},
			[]string{"Add a mirror to warren.yml:\n  blackboard:\n    redis:\n      url: redis://localhost:6379/0"},
		)
	}

	redisOpts, err := redis.ParseURL(cfg.Blackboard.Redis.URL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	mirror, err := blackboard.NewMirror(redisOpts, cfg.Blackboard.Redis.Instance)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create blackboard mirror: %w", err)
	}

	if err := mirror.Ping(ctx); err != nil {
		mirror.Close()
		return nil, "", printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Blackboard.Redis.URL),
			nil,
			[]string{"Check that Redis is running and the url in warren.yml is correct"},
		)
	}
	return mirror, cfg.Blackboard.Redis.Instance, nil
}
