// Package orchestrator drives workflow runs.
//
// A Coordinator takes a frozen registry of tasks and executes them in
// dependency order:
//   - Dependency resolution: tasks run only after every declared dependency
//     has reached a terminal state, in the registry's resolved order
//   - Retry and backoff: transient and timeout failures are retried with
//     exponential backoff, permanent and validation failures are not
//   - Recovery: non-critical tasks are skipped, critical tasks get a
//     fallback pass and an optional user intervention before the run aborts
//   - Shared state: outputs are published to a per-run versioned store
//     that downstream tasks read from
//
// Independent tasks may run concurrently up to a configured limit. Runs can
// be cancelled, paused, checkpointed and resumed.
//
// Example usage:
//
//	reg := registry.New()
//	reg.Register(models.TaskDescriptor{ID: "fetch"}, fetchTask)
//	reg.Register(models.TaskDescriptor{ID: "report", Dependencies: []string{"fetch"}}, reportTask)
//	reg.Freeze()
//
//	coord := orchestrator.New(orchestrator.RequiredConfig{Registry: reg})
//	result, err := coord.Run(ctx, nil)
package orchestrator
