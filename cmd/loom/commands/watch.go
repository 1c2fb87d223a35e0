package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/loomnotes/loom/internal/printer"
	"github.com/loomnotes/loom/internal/watch"
	"github.com/spf13/cobra"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream committed canvas changes",
	Long: `Stream committed canvas changes as they are published on the change feed.

Shows note and edge creations, updates, and deletions from every connected
collaborator and CLI invocation.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the default canvas
  loom watch

  # Watch a specific canvas
  loom watch --canvas team-retro

  # Export events as JSON
  loom watch --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			"Unknown format: "+watchOutputFormat,
			[]string{"Valid formats: default, json"},
		)
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	// Stream until interrupted
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watch.StreamActivity(ctx, store, outputFormat, os.Stdout)
}
