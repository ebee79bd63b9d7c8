package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drafthaus/frame-exporter/internal/export"
)

var (
	nodesTypes   []string
	nodesInclude []string
	nodesExclude []string
)

var nodesCmd = &cobra.Command{
	Use:   "nodes <file-key>",
	Short: "List the nodes an export would cover",
	Long: `Nodes enumerates the document tree with the same traversal, type
filter, and path filter the export uses, then prints what it found
without downloading anything. Useful for checking patterns before a
large run.

Examples:
  frame-exporter nodes a1b2c3
  frame-exporter nodes a1b2c3 --types FRAME,COMPONENT --include "Icons/**"`,
	Args: cobra.ExactArgs(1),
	RunE: runNodes,
}

func init() {
	nodesCmd.Flags().StringSliceVarP(&nodesTypes, "types", "t", nil, "exportable node types")
	nodesCmd.Flags().StringSliceVar(&nodesInclude, "include", nil, "path glob patterns to include")
	nodesCmd.Flags().StringSliceVar(&nodesExclude, "exclude", nil, "path glob patterns to exclude")

	rootCmd.AddCommand(nodesCmd)
}

func runNodes(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fileKey := args[0]

	if cmd.Flags().Changed("types") {
		cfg.Export.Types = nodesTypes
	}
	if cmd.Flags().Changed("include") {
		cfg.Export.Include = nodesInclude
	}
	if cmd.Flags().Changed("exclude") {
		cfg.Export.Exclude = nodesExclude
	}

	client, err := newServiceClient()
	if err != nil {
		return err
	}
	filter, err := export.NewPathFilter(cfg.Export.Include, cfg.Export.Exclude)
	if err != nil {
		return err
	}

	file, nodes, err := export.NewEnumerator(client, cfg.Export.Types, filter).Enumerate(ctx, fileKey)
	if err != nil {
		return err
	}

	fmt.Printf("%s (version %s): %d exportable nodes\n\n", file.Name, file.Version, len(nodes))
	if len(nodes) == 0 {
		return nil
	}

	fmt.Printf("%-14s %s\n", "ID", "PATH")
	for _, n := range nodes {
		fmt.Printf("%-14s %s\n", n.ID, n.PathString())
	}
	return nil
}
