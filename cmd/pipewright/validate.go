package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/pipewright/internal/llm"
	"github.com/ShayCichocki/pipewright/internal/orchestrator"
	"github.com/ShayCichocki/pipewright/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Check a workflow without running it",
	Long: `Parse a workflow, register its tasks and resolve the execution order.

Prints the order tasks will be considered in, the levels of tasks that
may run together, and any warnings. No task is executed and no API key
is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

// offlineLLM lets prompt tasks be built without credentials.
type offlineLLM struct{}

func (offlineLLM) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return nil, errors.New("completions are not available during validation")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	wf, err := workflow.Load(args[0])
	if err != nil {
		printStatus(out, "✗", err.Error(), color.FgRed)
		return err
	}
	reg, err := wf.Build(workflow.Env{LLM: offlineLLM{}, Critical: true})
	if err != nil {
		printStatus(out, "✗", err.Error(), color.FgRed)
		return err
	}

	coord := orchestrator.New(orchestrator.RequiredConfig{Registry: reg})
	defer coord.Close()
	report := coord.ValidateSetup()

	fmt.Fprintf(out, "Workflow %s: %d tasks\n", wf.Name, report.TaskCount)
	if len(report.ExecutionOrder) > 0 {
		fmt.Fprintf(out, "  Order:  %s\n", strings.Join(report.ExecutionOrder, " → "))
	}
	for i, level := range report.Levels {
		fmt.Fprintf(out, "  Level %d: %s\n", i, strings.Join(level, ", "))
	}
	for _, w := range report.Warnings {
		printStatus(out, "!", w, color.FgYellow)
	}
	for _, e := range report.Errors {
		printStatus(out, "✗", e, color.FgRed)
	}

	if !report.Valid {
		return fmt.Errorf("workflow %s is not valid", wf.Name)
	}
	printStatus(out, "✓", "Workflow is valid", color.FgGreen)
	return nil
}
