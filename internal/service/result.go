package service

import "fmt"

// Outcome classifies how a flow step ended.
type Outcome string

const (
	OutcomeCommitted        Outcome = "committed"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeBestEffortFailed Outcome = "best_effort_failed"
)

// Step names recorded in reports.
const (
	StepCreateTicket        = "create_ticket"
	StepUpdateTicket        = "update_ticket"
	StepDeleteTicket        = "delete_ticket"
	StepResolveParticipants = "resolve_participants"
	StepCreateGroup         = "create_group"
	StepAddGroupMember      = "add_group_member"
	StepDeleteGroup         = "delete_group"
	StepCreateStorage       = "create_storage"
	StepShareStorage        = "share_storage"
	StepDeleteStorage       = "delete_storage"
	StepCreateDocument      = "create_document"
	StepUpdateDocument      = "update_document"
	StepCreateConversation  = "create_conversation"
	StepAddParticipants     = "add_participants"
	StepConversationMembers = "add_conversation_members"
	StepUpdateConversation  = "update_conversation"
	StepAssignRole          = "assign_role"
	StepPage                = "page_assignee"
)

// StepResult records the outcome of one step. Best-effort failures carry
// the failure text in Reason and never stop the enclosing flow.
type StepResult struct {
	Step    string
	Outcome Outcome
	Reason  string
}

func committed(step string) StepResult {
	return StepResult{Step: step, Outcome: OutcomeCommitted}
}

func skipped(step, reason string) StepResult {
	return StepResult{Step: step, Outcome: OutcomeSkipped, Reason: reason}
}

func bestEffortFailed(step string, err error) StepResult {
	return StepResult{Step: step, Outcome: OutcomeBestEffortFailed, Reason: err.Error()}
}

// Committed reports whether the step changed external or local state.
func (r StepResult) Committed() bool { return r.Outcome == OutcomeCommitted }

// Failed reports whether a best-effort step failed.
func (r StepResult) Failed() bool { return r.Outcome == OutcomeBestEffortFailed }

func (r StepResult) String() string {
	if r.Reason == "" {
		return fmt.Sprintf("%s: %s", r.Step, r.Outcome)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Step, r.Outcome, r.Reason)
}

// Report collects the step results of a flow in execution order.
type Report struct {
	Steps []StepResult
}

// Add appends results.
func (r *Report) Add(results ...StepResult) {
	r.Steps = append(r.Steps, results...)
}

// Merge appends every step of other.
func (r *Report) Merge(other Report) {
	r.Steps = append(r.Steps, other.Steps...)
}

// Find returns the last result recorded for step.
func (r Report) Find(step string) (StepResult, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Step == step {
			return r.Steps[i], true
		}
	}
	return StepResult{}, false
}

// Failures returns the best-effort steps that failed.
func (r Report) Failures() []StepResult {
	var failed []StepResult
	for _, step := range r.Steps {
		if step.Failed() {
			failed = append(failed, step)
		}
	}
	return failed
}
