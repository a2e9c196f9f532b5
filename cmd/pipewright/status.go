package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/pipewright/internal/orchestrator"
	"github.com/ShayCichocki/pipewright/internal/state"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

var (
	statusLimit    int
	statusWorkflow string
	statusPurge    time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recorded runs",
	Long: `List recent runs from the project's state database.

With a run id, show that run in detail: its checkpoints and the state of
every task at the last checkpoint, including outputs and errors.

Use --purge to delete finished runs older than a duration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to list")
	statusCmd.Flags().StringVarP(&statusWorkflow, "workflow", "w", "", "Only list runs of this workflow")
	statusCmd.Flags().DurationVar(&statusPurge, "purge", 0, "Delete finished runs older than this (e.g. 720h)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	root, err := projectRoot()
	if err != nil {
		return err
	}

	if _, err := os.Stat(statePath(cfg, root)); os.IsNotExist(err) {
		fmt.Fprintln(out, "No runs recorded. Run 'pipewright run <workflow.yaml>' to start.")
		return nil
	}

	db, err := openState(cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	if statusPurge > 0 {
		n, err := db.PurgeOldRuns(statusPurge)
		if err != nil {
			return err
		}
		printStatus(out, "✓", fmt.Sprintf("Purged %d runs older than %s", n, formatDuration(statusPurge)), color.FgGreen)
		return nil
	}

	if len(args) == 1 {
		return displayRun(cmd.Context(), out, db, args[0])
	}
	return displayRecentRuns(out, db)
}

func displayRecentRuns(w io.Writer, db *state.DB) error {
	runs, err := db.ListRuns(&state.RunFilter{Workflow: statusWorkflow, Limit: statusLimit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	interrupted := map[string]bool{}
	if list, err := state.NewRecoveryManager(db).CheckForInterrupted(); err == nil {
		for _, r := range list {
			interrupted[r.RunID] = true
		}
	}

	fmt.Fprintln(w, "Recent Runs:")
	for _, r := range runs {
		status := string(r.Status)
		if interrupted[r.RunID] {
			status = "interrupted"
		}
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = formatDuration(r.FinishedAt.Sub(r.StartedAt))
		}
		fmt.Fprintf(w, "  %s  %-16s %-12s %3d/%-3d ok  %s ago  (%s)\n",
			r.RunID, truncate(r.Workflow, 16), colorStatus(status),
			r.Succeeded, r.Total, formatDuration(time.Since(r.StartedAt)), duration)
	}
	return nil
}

func displayRun(ctx context.Context, w io.Writer, db *state.DB, runID string) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	fmt.Fprintf(w, "Run: %s\n", run.RunID)
	fmt.Fprintf(w, "  Workflow: %s\n", run.Workflow)
	fmt.Fprintf(w, "  Status:   %s\n", colorStatus(string(run.Status)))
	fmt.Fprintf(w, "  Started:  %s (%s ago)\n", run.StartedAt.Format(time.RFC3339), formatDuration(time.Since(run.StartedAt)))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}
	fmt.Fprintf(w, "  Tasks:    %d total, %d succeeded, %d failed, %d skipped\n",
		run.Total, run.Succeeded, run.Failed, run.Skipped)

	cps, err := db.ListCheckpoints(runID)
	if err != nil {
		return err
	}
	if len(cps) > 0 {
		last := cps[len(cps)-1]
		fmt.Fprintf(w, "  Checkpoints: %d (latest #%d, %d bytes, %s)\n",
			len(cps), last.Seq, last.Size, last.CreatedAt.Format(time.RFC3339))
	}

	blob, err := db.LoadCheckpoint(ctx, runID)
	if errors.Is(err, state.ErrNoCheckpoint) {
		return nil
	}
	if err != nil {
		return err
	}
	snap, st, err := orchestrator.DecodeCheckpoint(blob)
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tasks:")
	for _, id := range snap.Order {
		ts, _ := snap.Task(id)
		line := fmt.Sprintf("  %-24s %-10s", id, colorStatus(string(ts.Status)))
		if ts.Attempts > 1 {
			line += fmt.Sprintf(" %d attempts", ts.Attempts)
		}
		if ts.Strategy != "" {
			line += " via " + ts.Strategy
		}
		if ts.Cause != "" {
			line += ": " + firstLine(ts.Cause)
		}
		fmt.Fprintln(w, line)
		if ts.Output != nil {
			if v, ok := st.Value(ts.Output.Key); ok {
				fmt.Fprintf(w, "      output v%d: %s\n", ts.Output.Version, truncate(deliverableText(v), 100))
			}
		}
	}

	if len(snap.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, e := range snap.Errors {
			fmt.Fprintf(w, "  %s attempt %d (%s): %s\n", e.TaskID, e.Attempt, e.Kind, firstLine(e.Message))
		}
	}
	return nil
}

func colorStatus(status string) string {
	switch status {
	case string(models.RunStatusCompleted), string(models.TaskStatusSucceeded):
		return color.GreenString(status)
	case string(models.RunStatusAborted), string(models.TaskStatusFailed), "interrupted":
		return color.RedString(status)
	case string(models.TaskStatusSkipped):
		return color.YellowString(status)
	case string(models.RunStatusRunning):
		return color.CyanString(status)
	default:
		return status
	}
}
