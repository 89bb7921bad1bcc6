package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	jsonOutput   bool
	outputFormat string
	metricsFile  string

	buildVersion = "dev"
)

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr, version, commit, buildDate)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, version, commit, buildDate string) int {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		renderError(stdout, stderr, err)
		return exitCode(err)
	}
	return ExitOK
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quality",
		Short: "Apply code-quality fixes without regressing diagnostics",
		Long: `quality applies batch fixes to a codebase and keeps them only when the
measured lint and type diagnostics do not increase.

Every apply:
  - counts diagnostics per file with the configured tools
  - snapshots the targets
  - runs the fix operation
  - counts again and compares file by file
  - restores the snapshot if any file got worse or any step failed

Exit codes: 0 success, 1 error, 2 ratchet or baseline violation,
3 validation failure (a diagnostic tool could not run).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			switch format() {
			case formatText, formatJSON, formatYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (want text, json or yaml)", outputFormat)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default .quality.{yaml,toml,json})")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatText, "output format: text, json or yaml")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics to this file on exit")

	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDiagnosticCountCommand())
	rootCmd.AddCommand(newBaselineCommand())
	rootCmd.AddCommand(newBackupsCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
