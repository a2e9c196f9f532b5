package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/pipewright/internal/config"
	"github.com/ShayCichocki/pipewright/internal/signals"
	"github.com/ShayCichocki/pipewright/internal/state"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a pipewright project",
	Long: `Initialize a directory for use with pipewright.

This command sets up:
  - The .pipewright directory with its state database and signal directory
  - A .pipewright.yaml project config with default settings
  - An example workflow.yaml
  - A .gitignore entry for .pipewright/ if the directory has a .gitignore

Examples:
  pipewright init              # Initialize current directory
  pipewright init ./myproject  # Initialize specific directory
  pipewright init --force      # Overwrite the config and example workflow`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config and example workflow")
}

const exampleWorkflow = `name: example
description: Fetches a version, builds a changelog and summarizes it.

globals:
  project: demo

defaults:
  max_retries: 2
  backoff:
    base_delay: 500ms
    multiplier: 2
    max_delay: 10s

tasks:
  - id: version
    value: "1.0.0"

  - id: changes
    depends_on: [version]
    output: json
    run: |
      echo '{"version": "{{ .Deps.version }}", "items": ["fix login", "faster builds"]}'

  - id: notes
    depends_on: [changes]
    run: |
      echo "{{ .Globals.project }} {{ .Deps.changes.version }}: {{ len .Deps.changes.items }} changes"

  - id: announce
    critical: false
    depends_on: [notes]
    optional_depends_on: [extra]
    defaults:
      extra: "none"
    run: echo announcing {{ quote .Deps.notes }} with extra {{ quote .Deps.extra }}

  - id: extra
    critical: false
    run: exit 1
`

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	} else if projectDir != "" {
		targetDir = projectDir
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Fprintf(out, "Initializing pipewright in %s...\n\n", absPath)

	if err := os.MkdirAll(signals.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("creating .pipewright directory: %w", err)
	}
	db, err := state.OpenProject(absPath)
	if err != nil {
		return fmt.Errorf("creating state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrating state database: %w", err)
	}
	db.Close()
	printStatus(out, "✓", "Created .pipewright directory and state database", color.FgGreen)

	cfgPath := filepath.Join(absPath, config.ProjectConfigName)
	if wrote, err := writeIfAbsent(cfgPath, func() error { return config.SaveTo(cfgPath, config.Default()) }); err != nil {
		return fmt.Errorf("writing project config: %w", err)
	} else if wrote {
		printStatus(out, "✓", "Created "+config.ProjectConfigName, color.FgGreen)
	} else {
		printStatus(out, "-", config.ProjectConfigName+" exists (use --force to overwrite)", color.FgYellow)
	}

	wfPath := filepath.Join(absPath, "workflow.yaml")
	if wrote, err := writeIfAbsent(wfPath, func() error { return os.WriteFile(wfPath, []byte(exampleWorkflow), 0644) }); err != nil {
		return fmt.Errorf("writing example workflow: %w", err)
	} else if wrote {
		printStatus(out, "✓", "Created example workflow.yaml", color.FgGreen)
	} else {
		printStatus(out, "-", "workflow.yaml exists (use --force to overwrite)", color.FgYellow)
	}

	if updated, err := updateGitignore(absPath); err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	} else if updated {
		printStatus(out, "✓", "Added .pipewright/ to .gitignore", color.FgGreen)
	}

	fmt.Fprintf(out, "\n%s pipewright initialization complete!\n\n", color.GreenString("✓"))
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Check the example workflow:")
	fmt.Fprintln(out, "     pipewright validate workflow.yaml")
	fmt.Fprintln(out, "  2. Run it:")
	fmt.Fprintln(out, "     pipewright run workflow.yaml")
	return nil
}

// writeIfAbsent calls write unless path exists and --force is not set.
func writeIfAbsent(path string, write func() error) (bool, error) {
	if _, err := os.Stat(path); err == nil && !initForce {
		return false, nil
	}
	return true, write()
}

// updateGitignore appends .pipewright/ to an existing .gitignore.
func updateGitignore(dir string) (bool, error) {
	path := filepath.Join(dir, ".gitignore")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == ".pipewright/" || strings.TrimSpace(line) == ".pipewright" {
			return false, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()
	entry := ".pipewright/\n"
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		entry = "\n" + entry
	}
	_, err = f.WriteString(entry)
	return err == nil, err
}
