package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/pipewright/internal/state"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

var (
	runParallel       int
	runHeadless       bool
	runSets           []string
	runMetricsAddr    string
	runDebugLog       string
	runNoIntervention bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Run a workflow",
	Long: `Run every task of a workflow in dependency order.

Progress is shown in an interactive view unless --headless is given or
stdout is not a terminal. In the view, p pauses dispatching, q cancels
the run and a second q exits immediately.

The run can also be controlled from another shell:

  pipewright signal pause
  pipewright signal cancel

Every finished task is checkpointed. If the run is interrupted, continue
it with 'pipewright resume'.

Examples:
  pipewright run release.yaml
  pipewright run release.yaml --parallel 4 --set env=prod
  pipewright run release.yaml --headless --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	runCmd.Flags().StringArrayVar(&runSets, "set", nil, "Override a workflow global (key=value, value may be JSON)")
}

// addRunFlags registers the flags shared by run and resume.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&runParallel, "parallel", "p", 0, "Max tasks to run at once (default from config)")
	cmd.Flags().BoolVar(&runHeadless, "headless", false, "Print events as lines instead of the interactive view")
	cmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&runDebugLog, "debug-log", "", "Write coordinator debug logging to this file (PIPEWRIGHT_DEBUG=1 logs under .pipewright/logs)")
	cmd.Flags().BoolVar(&runNoIntervention, "no-intervention", false, "Abort instead of asking when a critical task fails")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	globals, err := workflowGlobals(sess.wf, runSets)
	if err != nil {
		return err
	}

	warnInterrupted(cmd, sess.db, sess.wf.Name)

	return sess.execute(ctx, func(ctx context.Context) (*models.RunResult, error) {
		return sess.coord.Run(ctx, globals)
	})
}

// warnInterrupted points at earlier runs of the same workflow that died
// without finishing.
func warnInterrupted(cmd *cobra.Command, db *state.DB, workflowName string) {
	interrupted, err := state.NewRecoveryManager(db).CheckForInterrupted()
	if err != nil {
		return
	}
	for _, r := range interrupted {
		if r.Workflow != workflowName {
			continue
		}
		printStatus(cmd.ErrOrStderr(), "!",
			fmt.Sprintf("Run %s was interrupted %s ago; 'pipewright resume' continues it",
				r.RunID, formatDuration(time.Since(r.LastActivity))),
			color.FgYellow)
	}
}
