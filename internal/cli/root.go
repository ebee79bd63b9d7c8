// Package cli provides the frame-exporter command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/drafthaus/frame-exporter/internal/catalog"
	"github.com/drafthaus/frame-exporter/internal/checkpoint"
	"github.com/drafthaus/frame-exporter/internal/config"
	"github.com/drafthaus/frame-exporter/internal/design"
	"github.com/drafthaus/frame-exporter/internal/export"
	"github.com/drafthaus/frame-exporter/internal/logging"
	"github.com/drafthaus/frame-exporter/internal/metrics"
	"github.com/drafthaus/frame-exporter/internal/notify"
	"github.com/drafthaus/frame-exporter/internal/profile"
	"github.com/drafthaus/frame-exporter/internal/storage"
)

var (
	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// cfg is loaded once in PersistentPreRunE and shared by all commands.
	cfg config.Config

	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "frame-exporter",
	Short: "Batch asset exporter for design documents",
	Long: `Frame-exporter walks a design document's node tree, resolves render
URLs in bulk, and downloads every exportable frame through a bounded
worker pool that backs off as one when the service rate-limits.

Configuration layers in order: built-in defaults, the YAML config file,
FRAME_* environment variables, then flags. The access token is usually
supplied via FRAME_TOKEN so it stays out of files and shell history.`,
	Version:       export.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Version and help work without config or a token.
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format = logFormat
		}

		closeLog = logging.Setup(logging.Config{
			Format: cfg.Log.Format,
			Level:  cfg.Log.Level,
			File:   cfg.Log.File,
		})

		if cfg.Metrics.Enabled {
			metrics.Init("frame_exporter")
			go func() {
				if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
					slog.Error("metrics server failed", "error", err)
				}
			}()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute runs the CLI. ctx flows into every command, so cancelling it
// stops a run cooperatively.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
}

// newServiceClient builds the API client from the loaded config.
func newServiceClient() (*design.Client, error) {
	if cfg.API.Token == "" {
		return nil, errors.New("no access token: set FRAME_TOKEN or api.token in the config file")
	}
	return design.NewClient(design.Options{
		BaseURL:         cfg.API.BaseURL,
		Token:           cfg.API.Token,
		APITimeout:      time.Duration(cfg.API.APITimeoutSeconds) * time.Second,
		TransferTimeout: time.Duration(cfg.API.TransferTimeoutSeconds) * time.Second,
		MaxConnsPerHost: cfg.Export.Workers,
	}, slog.Default()), nil
}

// buildExporter assembles the full export pipeline from the loaded
// config. The returned cleanup closes every backend and must run after
// the last export.
func buildExporter(ctx context.Context, onProgress func(done, total int, label string)) (*export.Exporter, func(), error) {
	client, err := newServiceClient()
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewAssetStore(ctx, storage.Config{
		Backend: cfg.Storage.Backend,
		Dir:     cfg.Export.OutputDir,
		Bucket:  cfg.Storage.Bucket,
		Prefix:  cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create storage: %w", err)
	}

	cat, err := catalog.NewWriter(ctx, catalog.Config{
		Backend:     cfg.Catalog.Backend,
		PostgresDSN: cfg.Catalog.PostgresDSN,
		Dir:         cfg.Catalog.Dir,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("create catalog: %w", err)
	}

	emitter := notify.NewEmitter(notify.Config{
		Enabled:   cfg.Notify.Enabled,
		Endpoint:  cfg.Notify.Endpoint,
		BackupDir: cfg.Notify.BackupDir,
		StateDir:  cfg.Notify.StateDir,
	})

	checkpoints, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		store.Close()
		cat.Close()
		return nil, nil, fmt.Errorf("create checkpoint manager: %w", err)
	}

	router, err := profile.NewRouter(cfg.Profiles)
	if err != nil {
		store.Close()
		cat.Close()
		return nil, nil, err
	}

	exp, err := export.New(export.Options{
		Service:       client,
		Store:         store,
		Catalog:       cat,
		Notifier:      emitter,
		Checkpoints:   checkpoints,
		Profiles:      router,
		OnProgress:    onProgress,
		StrictCatalog: cfg.Catalog.Strict,
		StrictNotify:  cfg.Notify.Strict,
	})
	if err != nil {
		store.Close()
		cat.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := emitter.Close(); err != nil {
			slog.Warn("notifier close failed", "error", err)
		}
		if err := cat.Close(); err != nil {
			slog.Warn("catalog close failed", "error", err)
		}
		if err := store.Close(); err != nil {
			slog.Warn("storage close failed", "error", err)
		}
	}
	return exp, cleanup, nil
}
