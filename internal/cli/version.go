package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/drafthaus/frame-exporter/internal/export"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("frame-exporter %s (%s) %s\n", export.Version, export.GitSHA, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
