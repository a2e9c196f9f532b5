package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/pipewright/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:   "signal <cancel|pause|resume|clear>",
	Short: "Control a running workflow from another shell",
	Long: `Send a control signal to the run in this project.

  cancel  stop dispatching; in-flight tasks finish, the rest are skipped
  pause   stop dispatching new tasks until resumed
  resume  continue dispatching after a pause
  clear   remove any pending signal files`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"cancel", "pause", "resume", "clear"},
	RunE:      runSignal,
}

func runSignal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	root, err := projectRoot()
	if err != nil {
		return err
	}
	dir := signalsDir(cfg, root)

	var send func(string) error
	var done string
	switch args[0] {
	case "cancel":
		send, done = signals.SendCancel, "Cancel requested"
	case "pause":
		send, done = signals.SendPause, "Pause requested"
	case "resume":
		send, done = signals.SendResume, "Resume requested"
	case "clear":
		send, done = signals.Clear, "Signals cleared"
	default:
		return fmt.Errorf("unknown signal %q (want cancel, pause, resume or clear)", args[0])
	}

	if err := send(dir); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	printStatus(cmd.OutOrStdout(), "✓", done, color.FgGreen)
	return nil
}
