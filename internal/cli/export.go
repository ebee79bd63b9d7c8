package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/drafthaus/frame-exporter/internal/bundle"
	"github.com/drafthaus/frame-exporter/internal/export"
)

var (
	exportOut           string
	exportFormat        string
	exportScale         float64
	exportWorkers       int
	exportBatchSize     int
	exportStrategy      string
	exportMaxRetries    int
	exportTypes         []string
	exportInclude       []string
	exportExclude       []string
	exportSkipUnchanged bool
	exportBundle        bool
	exportStrict        bool
)

var exportCmd = &cobra.Command{
	Use:   "export <file-key>",
	Short: "Export a document's frames as image assets",
	Long: `Export enumerates the document's node tree, resolves render URLs in
bulk batches, and downloads every matching node into the output
directory. A manifest describing the run is written alongside the
assets.

Examples:
  frame-exporter export a1b2c3
  frame-exporter export a1b2c3 --format svg --out ./icons
  frame-exporter export a1b2c3 --scale 2 --include "Marketing/**"
  frame-exporter export a1b2c3 --strategy conservative --skip-unchanged`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output directory")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "render format (png, jpg, svg, pdf)")
	exportCmd.Flags().Float64Var(&exportScale, "scale", 0, "render scale (0.01-4]")
	exportCmd.Flags().IntVarP(&exportWorkers, "workers", "w", 0, "concurrent download workers")
	exportCmd.Flags().IntVar(&exportBatchSize, "batch-size", 0, "node ids per render call")
	exportCmd.Flags().StringVar(&exportStrategy, "strategy", "", "preset defaults (fast, conservative)")
	exportCmd.Flags().IntVar(&exportMaxRetries, "max-retries", 0, "retry budget per operation")
	exportCmd.Flags().StringSliceVarP(&exportTypes, "types", "t", nil, "exportable node types")
	exportCmd.Flags().StringSliceVar(&exportInclude, "include", nil, "path glob patterns to include")
	exportCmd.Flags().StringSliceVar(&exportExclude, "exclude", nil, "path glob patterns to exclude")
	exportCmd.Flags().BoolVar(&exportSkipUnchanged, "skip-unchanged", false, "skip the run when the file version matches the last clean export")
	exportCmd.Flags().BoolVar(&exportBundle, "bundle", false, "pack the output directory into a tarball after a successful run")
	exportCmd.Flags().BoolVar(&exportStrict, "strict", false, "escalate catalog and notification failures into run failures")

	rootCmd.AddCommand(exportCmd)
}

// applyExportFlags layers changed flags over the loaded config, so the
// storage wiring and the job read the same values.
func applyExportFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("out") {
		cfg.Export.OutputDir = exportOut
	}
	if cmd.Flags().Changed("format") {
		cfg.Export.Format = exportFormat
	}
	if cmd.Flags().Changed("scale") {
		cfg.Export.Scale = exportScale
	}
	if cmd.Flags().Changed("workers") {
		cfg.Export.Workers = exportWorkers
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Export.BatchSize = exportBatchSize
	}
	if cmd.Flags().Changed("strategy") {
		cfg.Export.Strategy = exportStrategy
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.Export.MaxRetries = exportMaxRetries
	}
	if cmd.Flags().Changed("types") {
		cfg.Export.Types = exportTypes
	}
	if cmd.Flags().Changed("include") {
		cfg.Export.Include = exportInclude
	}
	if cmd.Flags().Changed("exclude") {
		cfg.Export.Exclude = exportExclude
	}
	if cmd.Flags().Changed("bundle") {
		cfg.Bundle.Enabled = exportBundle
	}
	if cmd.Flags().Changed("strict") {
		cfg.Catalog.Strict = exportStrict
		cfg.Notify.Strict = exportStrict
	}
	if cmd.Flags().Changed("skip-unchanged") {
		cfg.Checkpoint.SkipUnchanged = exportSkipUnchanged
	}
}

// jobFromConfig maps the effective config onto a job for one file.
func jobFromConfig(fileKey string) export.Job {
	return export.Job{
		FileKey:         fileKey,
		OutputDir:       cfg.Export.OutputDir,
		Format:          cfg.Export.Format,
		Scale:           cfg.Export.Scale,
		Workers:         cfg.Export.Workers,
		BatchSize:       cfg.Export.BatchSize,
		APITimeout:      time.Duration(cfg.API.APITimeoutSeconds) * time.Second,
		TransferTimeout: time.Duration(cfg.API.TransferTimeoutSeconds) * time.Second,
		MaxRetries:      cfg.Export.MaxRetries,
		Types:           cfg.Export.Types,
		Include:         cfg.Export.Include,
		Exclude:         cfg.Export.Exclude,
		Strategy:        export.Strategy(cfg.Export.Strategy),
		SkipUnchanged:   cfg.Checkpoint.SkipUnchanged,
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fileKey := args[0]
	applyExportFlags(cmd)

	exp, cleanup, err := buildExporter(ctx, progressLine)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := exp.Export(ctx, jobFromConfig(fileKey))
	fmt.Fprintln(os.Stderr)

	if errors.Is(err, export.ErrFileUnchanged) {
		fmt.Println("File unchanged since the last clean export; nothing to do.")
		return nil
	}
	if report != nil {
		printSummary(report)
	}
	if err != nil {
		return err
	}

	if cfg.Bundle.Enabled {
		if err := buildBundle(ctx, fileKey, report); err != nil {
			return err
		}
	}

	if n := len(report.Failed); n > 0 {
		return fmt.Errorf("%d of %d assets failed", n, report.Total)
	}
	return nil
}

// progressLine redraws one status line per completed node. The tracker
// serializes calls, so concurrent workers never interleave writes.
func progressLine(done, total int, label string) {
	fmt.Fprintf(os.Stderr, "\r[%d/%d] %-40.40s", done, total, label)
}

func printSummary(r *export.Report) {
	fmt.Printf("Exported %d/%d assets (%s) in %s\n",
		len(r.Succeeded), r.Total, humanBytes(r.Bytes()), r.Duration.Round(time.Millisecond))

	counts := r.FormatCounts()
	formats := make([]string, 0, len(counts))
	for format := range counts {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	for _, format := range formats {
		fmt.Printf("  %-4s %d\n", format, counts[format])
	}

	if len(r.Failed) > 0 {
		fmt.Printf("\n%d nodes failed:\n", len(r.Failed))
		for _, res := range r.Failed {
			fmt.Printf("  %-12s %-30.30s %v\n", res.Node.ID, res.Node.Name, res.Err)
		}
	}
}

// buildBundle packs the local output directory into a tarball named
// after the run, so the archive stays traceable to its manifest.
func buildBundle(ctx context.Context, fileKey string, report *export.Report) error {
	if cfg.Storage.Backend == "blob" {
		fmt.Fprintln(os.Stderr, "Warning: bundling skipped, output went to blob storage")
		return nil
	}

	dir := cfg.Bundle.Dir
	if dir == "" {
		dir = "."
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s-%s.tar.zst", fileKey, report.RunID))

	res, err := bundle.Build(ctx, cfg.Export.OutputDir, dest)
	if err != nil {
		return fmt.Errorf("build bundle: %w", err)
	}
	fmt.Printf("Bundled %d files into %s (%s)\n", res.Files, res.Path, humanBytes(res.Bytes))
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
