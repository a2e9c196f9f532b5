package registry

import (
	"fmt"
)

// SetupReport describes whether a registry is ready to run.
type SetupReport struct {
	Valid          bool       `json:"valid"`
	Errors         []string   `json:"errors"`
	Warnings       []string   `json:"warnings"`
	TaskCount      int        `json:"task_count"`
	ExecutionOrder []string   `json:"execution_order"`
	Levels         [][]string `json:"levels"`
}

// ValidateSetup checks the registry for problems that would surprise a run.
// Errors make the setup unusable; warnings are advisory.
func (r *Registry) ValidateSetup() SetupReport {
	report := SetupReport{TaskCount: r.Len()}

	if report.TaskCount == 0 {
		report.Warnings = append(report.Warnings, "no tasks registered")
	}
	if !r.Frozen() {
		report.Warnings = append(report.Warnings, "registry is not frozen; call Freeze before running")
	}

	order, err := r.ResolveOrder()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("cannot resolve execution order: %v", err))
	} else {
		report.ExecutionOrder = order
	}
	if levels, err := r.graph.Levels(); err == nil {
		report.Levels = levels
	}

	r.mu.RLock()
	for _, id := range order {
		desc := r.descs[id]
		for _, dep := range desc.OptionalDependencies {
			depDesc := r.descs[dep]
			if depDesc.Critical {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("task %s: optional dependency %s is critical, its failure aborts the run anyway", id, dep))
			}
		}
		if desc.RequiresIntervention && !desc.Critical {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("task %s: requires_intervention has no effect on a non-critical task", id))
		}
		if _, ok := r.tasks[id]; !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("task %s has no implementation", id))
		}
	}
	r.mu.RUnlock()

	report.Valid = len(report.Errors) == 0
	return report
}
