package status

import "fmt"

// Phase is the state of a whole run.
//
// Init -> Testing -> (Aborted | Executing) -> (Done | Failed)
type Phase string

const (
	PhaseInit      Phase = "Init"
	PhaseTesting   Phase = "Testing"
	PhaseAborted   Phase = "Aborted"
	PhaseExecuting Phase = "Executing"
	PhaseDone      Phase = "Done"
	PhaseFailed    Phase = "Failed"
)

// TransitionToTesting starts the pre-flight tests.
func TransitionToTesting(r *Report) error {
	if r.Phase != PhaseInit {
		return fmt.Errorf("cannot transition to Testing from phase %s", r.Phase)
	}
	r.Phase = PhaseTesting
	return nil
}

// TransitionToAborted records that action vetoed the run. Nothing was
// executed, so every other action is skipped.
func TransitionToAborted(r *Report, action, message string) error {
	if r.Phase != PhaseTesting {
		return fmt.Errorf("cannot transition to Aborted from phase %s", r.Phase)
	}
	r.Phase = PhaseAborted
	r.Message = message
	SetAction(r, action, ActionVetoed, message)
	SkipPending(r, "run aborted by "+action)
	r.FinishedAt = r.clock()
	return nil
}

// TransitionToExecuting starts execution once every test passed.
func TransitionToExecuting(r *Report) error {
	if r.Phase != PhaseTesting {
		return fmt.Errorf("cannot transition to Executing from phase %s", r.Phase)
	}
	if pending := ActionsIn(r, ActionPending); len(pending) > 0 {
		return fmt.Errorf("cannot transition to Executing with untested actions %v", pending)
	}
	r.Phase = PhaseExecuting
	return nil
}

// TransitionToDone finishes a run in which every action succeeded.
func TransitionToDone(r *Report) error {
	if r.Phase != PhaseExecuting {
		return fmt.Errorf("cannot transition to Done from phase %s", r.Phase)
	}
	r.Phase = PhaseDone
	r.FinishedAt = r.clock()
	return nil
}

// TransitionToFailed records that action failed during execution. The
// actions after it are skipped.
func TransitionToFailed(r *Report, action, message string) error {
	if r.Phase != PhaseExecuting {
		return fmt.Errorf("cannot transition to Failed from phase %s", r.Phase)
	}
	r.Phase = PhaseFailed
	r.Message = message
	SetAction(r, action, ActionFailed, message)
	SkipPending(r, "not run after "+action+" failed")
	r.FinishedAt = r.clock()
	return nil
}

// IsTerminal returns true for phases a run never leaves.
func IsTerminal(phase Phase) bool {
	return phase == PhaseAborted || phase == PhaseDone || phase == PhaseFailed
}

// IsSuccess returns true only for a run that executed every action.
func IsSuccess(phase Phase) bool {
	return phase == PhaseDone
}
