// Package pipeline runs an ordered list of actions in two passes.
//
// Every action's Test runs first; Test must not change anything. A single
// failing test vetoes the run before anything is executed. When all tests
// pass, Execute runs in order and the first error stops the run. Actions
// clean up after themselves; the pipeline never rolls back an action that
// already succeeded.
//
// Example usage:
//
//	report, err := pipeline.Run(ctx, []pipeline.Action{check, storage, domain}, log)
//	if err != nil {
//	    log.Errorf("run %s: %v", report.Phase, err)
//	}
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/status"
)

// Action is one step of a run.
type Action interface {
	Name() string
	// Test returns nil when Execute can proceed. It must not mutate state.
	Test(ctx context.Context) error
	Execute(ctx context.Context) error
}

// Run tests then executes actions. The report is returned in every case;
// the error is the vetoing test's or the failing action's.
func Run(ctx context.Context, actions []Action, log logrus.FieldLogger) (*status.Report, error) {
	log = logging.OrDiscard(log)

	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.Name())
	}
	report := status.NewReport(names)

	if err := status.TransitionToTesting(report); err != nil {
		return report, err
	}

	for _, a := range actions {
		alog := log.WithField("action", a.Name())
		alog.Debugf("Testing %s", a.Name())

		if err := a.Test(ctx); err != nil {
			alog.Errorf("Action %s vetoed the run: %v", a.Name(), err)
			if terr := status.TransitionToAborted(report, a.Name(), err.Error()); terr != nil {
				return report, terr
			}
			return report, fmt.Errorf("%s: %w", a.Name(), err)
		}
		status.SetAction(report, a.Name(), status.ActionTested, "")
	}

	if err := status.TransitionToExecuting(report); err != nil {
		return report, err
	}

	for _, a := range actions {
		alog := log.WithField("action", a.Name())
		alog.Infof("Executing %s", a.Name())
		status.SetAction(report, a.Name(), status.ActionRunning, "")

		if err := a.Execute(ctx); err != nil {
			alog.Errorf("Action %s failed: %v", a.Name(), err)
			if terr := status.TransitionToFailed(report, a.Name(), err.Error()); terr != nil {
				return report, terr
			}
			return report, fmt.Errorf("%s: %w", a.Name(), err)
		}
		status.SetAction(report, a.Name(), status.ActionSucceeded, "")
	}

	if err := status.TransitionToDone(report); err != nil {
		return report, err
	}
	log.Info("All actions completed")
	return report, nil
}
