// Package status tracks the phase of a provisioning run and the outcome of
// each of its actions.
package status

import (
	"slices"
	"time"
)

// ActionPhase is the state of a single action.
type ActionPhase string

const (
	ActionPending   ActionPhase = "Pending"   // Not tested yet
	ActionTested    ActionPhase = "Tested"    // Test passed
	ActionVetoed    ActionPhase = "Vetoed"    // Test failed, run aborted
	ActionRunning   ActionPhase = "Running"   // Execute in progress
	ActionSucceeded ActionPhase = "Succeeded" // Execute returned nil
	ActionFailed    ActionPhase = "Failed"    // Execute returned an error
	ActionSkipped   ActionPhase = "Skipped"   // Never executed because an earlier action failed
)

// IsFinished reports whether p is final for the action.
func (p ActionPhase) IsFinished() bool {
	switch p {
	case ActionVetoed, ActionSucceeded, ActionFailed, ActionSkipped:
		return true
	}
	return false
}

// ActionStatus is the record of one action.
type ActionStatus struct {
	Name       string      `json:"name" yaml:"name"`
	Phase      ActionPhase `json:"phase" yaml:"phase"`
	Message    string      `json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt  time.Time   `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	FinishedAt time.Time   `json:"finishedAt,omitzero" yaml:"finishedAt,omitempty"`
}

// Report is the status of a run.
type Report struct {
	Phase      Phase          `json:"phase" yaml:"phase"`
	Message    string         `json:"message,omitempty" yaml:"message,omitempty"`
	Actions    []ActionStatus `json:"actions" yaml:"actions"`
	StartedAt  time.Time      `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt,omitzero" yaml:"finishedAt,omitempty"`

	now func() time.Time
}

// NewReport returns a report in PhaseInit with every action pending.
func NewReport(actions []string) *Report {
	r := &Report{Phase: PhaseInit, now: time.Now}
	r.StartedAt = r.now()
	for _, name := range actions {
		r.Actions = append(r.Actions, ActionStatus{Name: name, Phase: ActionPending})
	}
	return r
}

func (r *Report) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

// SetAction updates the record of the named action. StartedAt is set on the
// first change away from pending, FinishedAt when the phase is final.
// Unknown names are ignored.
func SetAction(r *Report, name string, phase ActionPhase, message string) {
	a := GetAction(r, name)
	if a == nil {
		return
	}

	now := r.clock()
	if a.StartedAt.IsZero() && phase != ActionPending {
		a.StartedAt = now
	}
	if phase.IsFinished() {
		a.FinishedAt = now
	}
	a.Phase = phase
	a.Message = message
}

// GetAction returns the record of the named action, or nil.
func GetAction(r *Report, name string) *ActionStatus {
	for i := range r.Actions {
		if r.Actions[i].Name == name {
			return &r.Actions[i]
		}
	}
	return nil
}

// ActionsIn returns the names of the actions in phase, in order.
func ActionsIn(r *Report, phase ActionPhase) []string {
	var names []string
	for _, a := range r.Actions {
		if a.Phase == phase {
			names = append(names, a.Name)
		}
	}
	return names
}

// SkipPending marks every action that has not finished as skipped.
func SkipPending(r *Report, message string) {
	for _, a := range slices.Clone(r.Actions) {
		if !a.Phase.IsFinished() {
			SetAction(r, a.Name, ActionSkipped, message)
		}
	}
}
