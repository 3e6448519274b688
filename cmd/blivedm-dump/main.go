// Command blivedm-dump records the chat of every room listed in a file.
//
// Usage:
//
//	blivedm-dump run --config dump.yaml
//	blivedm-dump validate-cookies cookies.json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blivedm-dump",
		Short: "Dump live chat of many rooms to disk, PostgreSQL and S3",
		Long: `blivedm-dump keeps one chat connection per room listed in a room file,
and appends every command to daily JSONL files per room.

Rooms are re-read from the file periodically; rooms added to the file are
joined and rooms removed from it are left.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		validateCookiesCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blivedm-dump %s (%s)\n", version, commit)
		},
	}
}
