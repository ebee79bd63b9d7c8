package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/drafthaus/frame-exporter/internal/design"
	"github.com/drafthaus/frame-exporter/internal/export"
	"github.com/drafthaus/frame-exporter/internal/watch"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <file-key>",
	Short: "Re-export a document whenever its version changes",
	Long: `Watch polls the document's version on an interval and runs a full
export every time it moves. The first poll always exports, so a fresh
watch starts from a complete output directory.

The process runs until interrupted. Export flags from the config file
apply to every triggered run.

Examples:
  frame-exporter watch a1b2c3
  frame-exporter watch a1b2c3 --interval 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from config, 60s)")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fileKey := args[0]

	interval := time.Duration(cfg.Watch.IntervalSeconds) * time.Second
	if cmd.Flags().Changed("interval") {
		interval = watchInterval
	}

	exp, cleanup, err := buildExporter(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := newServiceClient()
	if err != nil {
		return err
	}

	job := jobFromConfig(fileKey)
	run := func(ctx context.Context, file *design.File) error {
		report, err := exp.Export(ctx, job)
		if err != nil {
			// A document with no exportable nodes stays empty until its
			// version moves again; retrying the same version is pointless.
			if errors.Is(err, export.ErrNothingExported) && report != nil && report.Total == 0 {
				slog.Warn("no exportable nodes in this version", "version", file.Version)
				return nil
			}
			return err
		}
		slog.Info("triggered export finished",
			"version", file.Version,
			"succeeded", len(report.Succeeded),
			"failed", len(report.Failed))
		return nil
	}

	err = watch.New(client, fileKey, interval, run).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
