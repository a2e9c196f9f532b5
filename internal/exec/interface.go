// Package exec runs the external commands behind command tasks.
package exec

import (
	"context"
	"fmt"
	"time"
)

// Command describes one process invocation.
type Command struct {
	// Name is the program to run; Args are its arguments.
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string
	// Stdin is fed to the process when non-nil.
	Stdin []byte
}

// Shell returns a Command that runs script through "sh -c".
func Shell(dir, script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}, Dir: dir}
}

// Result is what a finished process produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError is returned when a process ran but exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s exited with code %d", e.Name, e.ExitCode)
}

// CommandRunner runs external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes cmd and waits for it. A non-zero exit yields a Result and
	// an *ExitError; failing to start yields a nil Result.
	Run(ctx context.Context, cmd Command) (*Result, error)
}
