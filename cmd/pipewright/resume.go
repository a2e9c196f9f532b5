package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/pipewright/internal/state"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

var resumeAbandon bool

var resumeCmd = &cobra.Command{
	Use:   "resume <workflow.yaml> [run-id]",
	Short: "Continue an interrupted or aborted run",
	Long: `Continue a run from its last checkpoint.

Tasks that succeeded keep their outputs; every other task runs again.
The workflow must still define the same tasks as when the run started.

Without a run id, the most recent interrupted run of the workflow is used.
With --abandon, the run is marked aborted instead so it is no longer
offered for resumption.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runResume,
}

func init() {
	addRunFlags(resumeCmd)
	resumeCmd.Flags().BoolVar(&resumeAbandon, "abandon", false, "Mark the run aborted instead of resuming it")
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	runID := ""
	if len(args) > 1 {
		runID = args[1]
	}
	if runID == "" {
		if runID, err = latestInterrupted(sess.db, sess.wf.Name); err != nil {
			return err
		}
	}

	run, err := sess.db.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	if run.Status == models.RunStatusCompleted {
		return fmt.Errorf("run %s already completed", runID)
	}

	if resumeAbandon {
		if err := state.NewRecoveryManager(sess.db).Abandon(runID); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Run %s abandoned", runID), color.FgGreen)
		return nil
	}

	printStatus(cmd.OutOrStdout(), "→", fmt.Sprintf("Resuming run %s (%s)", runID, run.Status), color.FgCyan)
	return sess.execute(ctx, func(ctx context.Context) (*models.RunResult, error) {
		return sess.coord.ResumeRun(ctx, runID)
	})
}

// latestInterrupted picks the newest interrupted run of a workflow.
func latestInterrupted(db *state.DB, workflowName string) (string, error) {
	interrupted, err := state.NewRecoveryManager(db).CheckForInterrupted()
	if err != nil {
		return "", err
	}
	for _, r := range interrupted {
		if r.Workflow == workflowName {
			return r.RunID, nil
		}
	}

	// Aborted runs are resumable too; fall back to the newest one.
	runs, err := db.ListRuns(&state.RunFilter{Status: models.RunStatusAborted, Workflow: workflowName, Limit: 1})
	if err != nil {
		return "", err
	}
	if len(runs) > 0 {
		return runs[0].RunID, nil
	}
	return "", fmt.Errorf("no interrupted run of workflow %s; pass a run id", workflowName)
}
