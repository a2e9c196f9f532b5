package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/template"

	"github.com/ShayCichocki/pipewright/internal/exec"
	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// ExitTempFail is the exit code (sysexits EX_TEMPFAIL) a command uses to ask
// for a retry.
const ExitTempFail = 75

// CommandConfig configures a shell command task.
type CommandConfig struct {
	ID string
	// Run is a text/template rendered into a shell script.
	Run string
	// Fallback is an optional script for the relaxed fallback pass.
	Fallback string
	// Dir is the working directory.
	Dir string
	// Env holds extra environment variables.
	Env map[string]string
	// Output selects how stdout is published.
	Output OutputFormat
	// Expect declares the kinds of dependency outputs the script relies on.
	Expect models.Schema
	Runner exec.CommandRunner
}

// Command runs a shell script. The script is rendered with the task input
// and also receives the input as JSON on stdin.
type Command struct {
	id       string
	run      *template.Template
	fallback *template.Template
	dir      string
	env      map[string]string
	output   OutputFormat
	expect   models.Schema
	runner   exec.CommandRunner
}

// commandResult is the raw result handed from Execute to FormatOutput.
type commandResult struct {
	stdout string
}

// NewCommand compiles the task's templates.
func NewCommand(cfg CommandConfig) (*Command, error) {
	if cfg.Run == "" {
		return nil, fmt.Errorf("command task %s: run is required", cfg.ID)
	}
	if cfg.Runner == nil {
		cfg.Runner = exec.NewRunner()
	}
	output, err := ParseOutputFormat(string(cfg.Output))
	if err != nil {
		return nil, fmt.Errorf("command task %s: %w", cfg.ID, err)
	}
	run, err := parseTemplate(cfg.ID+".run", cfg.Run)
	if err != nil {
		return nil, err
	}
	fallback, err := parseTemplate(cfg.ID+".fallback", cfg.Fallback)
	if err != nil {
		return nil, err
	}
	return &Command{
		id:       cfg.ID,
		run:      run,
		fallback: fallback,
		dir:      cfg.Dir,
		env:      cfg.Env,
		output:   output,
		expect:   cfg.Expect,
		runner:   cfg.Runner,
	}, nil
}

// ValidateInput implements task.Task.
func (c *Command) ValidateInput(in *task.Input) error {
	return checkInput(in, c.expect, c.run)
}

// Execute implements task.Task.
func (c *Command) Execute(ctx context.Context, in *task.Input) (any, error) {
	return c.runScript(ctx, c.run, in)
}

// ExecuteFallback implements task.Fallback.
func (c *Command) ExecuteFallback(ctx context.Context, in *task.Input) (any, error) {
	if c.fallback == nil {
		return nil, task.Permanentf("task %s has no fallback", c.id)
	}
	return c.runScript(ctx, c.fallback, in)
}

// HasFallback reports whether a fallback script was configured.
func (c *Command) HasFallback() bool {
	return c.fallback != nil
}

// FormatOutput implements task.Task.
func (c *Command) FormatOutput(raw any) (models.Value, error) {
	res, ok := raw.(commandResult)
	if !ok {
		return models.Value{}, fmt.Errorf("unexpected result type %T", raw)
	}
	return c.output.Parse(res.stdout)
}

func (c *Command) runScript(ctx context.Context, tmpl *template.Template, in *task.Input) (any, error) {
	script, err := render(tmpl, in)
	if err != nil {
		return nil, task.Permanent(fmt.Errorf("rendering script: %w", err))
	}
	stdin, err := inputDocument(in)
	if err != nil {
		return nil, task.Permanent(fmt.Errorf("encoding input: %w", err))
	}

	env := envFor(c.env)
	env = append(env,
		"PIPEWRIGHT_RUN_ID="+in.RunID,
		"PIPEWRIGHT_TASK_ID="+in.TaskID,
		"PIPEWRIGHT_ATTEMPT="+strconv.Itoa(in.Attempt),
		"PIPEWRIGHT_RELAXED="+strconv.FormatBool(in.Relaxed),
	)

	cmd := exec.Shell(c.dir, script)
	cmd.Env = env
	cmd.Stdin = stdin

	res, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return nil, classifyCommandError(err)
	}
	return commandResult{stdout: string(res.Stdout)}, nil
}

// classifyCommandError tags a runner error. Exit code 75 asks for a retry,
// other exit codes are permanent, and deadline errors are timeouts.
func classifyCommandError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return task.Timeout(err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode == ExitTempFail {
			return task.Transient(err)
		}
		return task.Permanent(err)
	}
	return task.Permanent(err)
}

var (
	_ task.Task     = (*Command)(nil)
	_ task.Fallback = (*Command)(nil)
)
