package orchestrator

import (
	"fmt"

	"github.com/makeasinger/panelcast/internal/model"
)

var allowedTransitions = map[model.JobStatus]map[model.JobStatus]struct{}{
	model.JobStatusPending: {
		model.JobStatusRunning: {},
		// script stage failed before any panel existed
		model.JobStatusFailed: {},
	},
	model.JobStatusRunning: {
		model.JobStatusCompleted:           {},
		model.JobStatusCompletedWithErrors: {},
		model.JobStatusFailed:              {},
	},
	model.JobStatusCompleted:           {},
	model.JobStatusCompletedWithErrors: {},
	model.JobStatusFailed:              {},
}

func ValidateJobStatus(status model.JobStatus) error {
	if _, ok := allowedTransitions[status]; !ok {
		return fmt.Errorf("invalid job status: %q", status)
	}
	return nil
}

func ValidateTransition(from, to model.JobStatus) error {
	if err := ValidateJobStatus(from); err != nil {
		return err
	}
	if err := ValidateJobStatus(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid job transition: %s -> %s", from, to)
	}
	return nil
}

// finalStatus is the terminal status of a job whose panels all resolved.
func finalStatus(panels []model.PanelRecord) model.JobStatus {
	for _, p := range panels {
		if p.Status == model.PanelStatusDegraded {
			return model.JobStatusCompletedWithErrors
		}
	}
	return model.JobStatusCompleted
}
