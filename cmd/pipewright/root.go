package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configPath string
	projectDir string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "pipewright",
	Short: "Dependency-ordered workflow runner",
	Long: `pipewright runs workflows of interdependent tasks.

Tasks run in dependency order, share their outputs through a versioned
store, and recover from failures without aborting the whole run:
transient errors are retried with exponential backoff, non-critical
failures are skipped, and critical failures get a fallback pass and,
if configured, a decision from you.

Runs are checkpointed to a local SQLite database after every task, so an
interrupted run can be resumed where it stopped.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .pipewright.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", "", "Project directory for state and signals (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
