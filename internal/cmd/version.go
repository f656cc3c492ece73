package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		version := versionInfo.Version
		if version == "" {
			version = "dev"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "secguard %s (commit %s, built %s)\n", version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
