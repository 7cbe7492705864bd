package commands

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/hoard"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/timespec"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	hoardOutputFormat string
	hoardSince        string
	hoardUntil        string
	hoardPrefix       string
	hoardKey          string
	hoardTag          string
	hoardAgent        string
	hoardLimit        int
	hoardMirror       bool
)

var hoardCmd = &cobra.Command{
	Use:   "hoard [KEY]",
	Short: "Inspect blackboard entries of a running warren",
	Long: `Inspect blackboard entries in list or get mode.

List Mode (no KEY):
  Displays entries matching filters as a table or JSONL stream.

Get Mode (with KEY):
  Displays the complete entry as pretty-printed JSON.

Filters (list mode only, ANDed together):
  --since   - Entries written after this time (duration or RFC3339)
  --until   - Entries written before this time (duration or RFC3339)
  --prefix  - Key prefix ("researcher:")
  --key     - Key glob pattern ("*:finding:*")
  --tag     - Entries carrying the tag
  --agent   - Entries written by the agent

Examples:
  # Recent entries
  warren hoard --since=1h

  # Failures recorded by the supervisor as JSONL for jq
  warren hoard --tag=agent_failure --output=jsonl | jq .value.error

  # One entry
  warren hoard pulse:heartbeat

  # Read the Redis mirror instead of the status server
  warren hoard --mirror --tag=heartbeat`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHoard,
}

func init() {
	hoardCmd.Flags().StringVar(&statusAddr, "addr", DefaultStatusAddr, "Status server address")
	hoardCmd.Flags().StringVarP(&hoardOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")

	hoardCmd.Flags().StringVar(&hoardSince, "since", "", "Show entries after time (duration or RFC3339)")
	hoardCmd.Flags().StringVar(&hoardUntil, "until", "", "Show entries before time (duration or RFC3339)")
	hoardCmd.Flags().IntVar(&hoardLimit, "limit", 100, "Maximum entries fetched")

	hoardCmd.Flags().StringVar(&hoardPrefix, "prefix", "", "Filter by key prefix")
	hoardCmd.Flags().StringVar(&hoardKey, "key", "", "Filter by key (glob pattern)")
	hoardCmd.Flags().StringVar(&hoardTag, "tag", "", "Filter by tag")
	hoardCmd.Flags().StringVar(&hoardAgent, "agent", "", "Filter by source agent")
	hoardCmd.Flags().BoolVar(&hoardMirror, "mirror", false, "Read the Redis mirror configured in warren.yml")

	rootCmd.AddCommand(hoardCmd)
}

func runHoard(cmd *cobra.Command, args []string) error {
	if hoardMirror {
		return runHoardMirror(cmd, args)
	}

	ctx := cmd.Context()
	client := newStatusClient(statusAddr)

	if len(args) == 1 {
		var entry blackboard.Entry
		if err := client.do(ctx, http.MethodGet, "/blackboard/"+url.PathEscape(args[0]), nil, &entry); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				return printer.Error(
					fmt.Sprintf("entry '%s' not found", args[0]),
					"The key does not exist or its TTL has elapsed.",
					[]string{"List recent entries:\n  warren hoard --since=1h"},
				)
			}
			return clientError(err)
		}
		return hoard.FormatSingleJSON(cmd.OutOrStdout(), entry)
	}

	now := time.Now()
	format, criteria, err := hoardListOptions(now)
	if err != nil {
		return err
	}

	var entries []blackboard.Entry
	if err := client.do(ctx, http.MethodGet, "/blackboard?"+hoardQuery().Encode(), nil, &entries); err != nil {
		return clientError(err)
	}

	return hoard.Write(cmd.OutOrStdout(), criteria.Filter(entries), format, client.base, now)
}

// runHoardMirror serves both modes from the Redis mirror, which outlives the
// warren process for as long as the entries' TTLs.
func runHoardMirror(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mirror, instance, err := openMirror(ctx, "hoard --mirror")
	if err != nil {
		return err
	}
	defer mirror.Close()

	if len(args) == 1 {
		entry, err := mirror.Get(ctx, args[0])
		if blackboard.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("entry '%s' not found", args[0]),
				"The key was never mirrored or its TTL has elapsed.",
				[]string{"List mirrored entries:\n  warren hoard --mirror"},
			)
		}
		if err != nil {
			return err
		}
		return hoard.FormatSingleJSON(cmd.OutOrStdout(), *entry)
	}

	now := time.Now()
	format, criteria, err := hoardListOptions(now)
	if err != nil {
		return err
	}

	all, err := mirror.Entries(ctx)
	if err != nil {
		return err
	}
	var entries []blackboard.Entry
	for _, e := range criteria.Filter(all) {
		if hoardPrefix != "" && !strings.HasPrefix(e.Key, hoardPrefix) {
			continue
		}
		entries = append(entries, e)
		if len(entries) == hoardLimit {
			break
		}
	}

	return hoard.Write(cmd.OutOrStdout(), entries, format, fmt.Sprintf("mirror '%s'", instance), now)
}

func hoardListOptions(now time.Time) (hoard.OutputFormat, *hoard.FilterCriteria, error) {
	format, err := hoard.ParseOutputFormat(hoardOutputFormat)
	if err != nil {
		return "", nil, printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}

	criteria, err := hoardCriteria(now)
	if err != nil {
		return "", nil, printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration (90s, 2h) or an RFC3339 timestamp",
		})
	}
	return format, criteria, nil
}

// hoardQuery picks the narrowest server-side query; the rest is filtered locally.
func hoardQuery() url.Values {
	q := url.Values{}
	switch {
	case hoardPrefix != "":
		q.Set("prefix", hoardPrefix)
	case hoardTag != "":
		q.Set("tag", hoardTag)
	case hoardAgent != "":
		q.Set("agent", hoardAgent)
	default:
		if hoardSince != "" {
			q.Set("since", hoardSince)
		}
		q.Set("limit", strconv.Itoa(hoardLimit))
	}
	return q
}

func hoardCriteria(now time.Time) (*hoard.FilterCriteria, error) {
	criteria := &hoard.FilterCriteria{
		KeyGlob: hoardKey,
		Tag:     hoardTag,
		Agent:   hoardAgent,
	}

	if hoardSince != "" {
		age, err := timespec.ParseAge(hoardSince, now)
		if err != nil {
			return nil, fmt.Errorf("--since: %w", err)
		}
		criteria.Since = now.Add(-age)
	}
	if hoardUntil != "" {
		age, err := timespec.ParseAge(hoardUntil, now)
		if err != nil {
			return nil, fmt.Errorf("--until: %w", err)
		}
		criteria.Until = now.Add(-age)
	}
	return criteria, nil
}
