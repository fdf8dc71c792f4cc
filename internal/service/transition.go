package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
)

// TransitionAction is one side effect of a status transition.
type TransitionAction string

const (
	ActionStampTriage    TransitionAction = "stamp_triage"
	ActionStampEscalated TransitionAction = "stamp_escalated"
	ActionStampClosed    TransitionAction = "stamp_closed"
	ActionPromote        TransitionAction = "promote"
)

type transitionKey struct {
	current  domain.CaseStatus
	previous domain.CaseStatus
}

// transitionTable holds every (current, previous) pair. Diagonal and
// reverse cells are intentionally empty.
var transitionTable = map[transitionKey][]TransitionAction{
	{domain.CaseStatusNew, domain.CaseStatusNew}:       nil,
	{domain.CaseStatusNew, domain.CaseStatusTriage}:    nil,
	{domain.CaseStatusNew, domain.CaseStatusEscalated}: nil,
	{domain.CaseStatusNew, domain.CaseStatusClosed}:    nil,

	{domain.CaseStatusTriage, domain.CaseStatusNew}:       {ActionStampTriage},
	{domain.CaseStatusTriage, domain.CaseStatusTriage}:    nil,
	{domain.CaseStatusTriage, domain.CaseStatusEscalated}: nil,
	{domain.CaseStatusTriage, domain.CaseStatusClosed}:    nil,

	{domain.CaseStatusEscalated, domain.CaseStatusNew}:       {ActionStampTriage, ActionStampEscalated, ActionPromote},
	{domain.CaseStatusEscalated, domain.CaseStatusTriage}:    {ActionStampEscalated, ActionPromote},
	{domain.CaseStatusEscalated, domain.CaseStatusEscalated}: nil,
	{domain.CaseStatusEscalated, domain.CaseStatusClosed}:    nil,

	{domain.CaseStatusClosed, domain.CaseStatusNew}:       {ActionStampTriage, ActionStampClosed},
	{domain.CaseStatusClosed, domain.CaseStatusTriage}:    {ActionStampClosed},
	{domain.CaseStatusClosed, domain.CaseStatusEscalated}: {ActionStampClosed},
	{domain.CaseStatusClosed, domain.CaseStatusClosed}:    nil,
}

// TransitionActions returns the ordered actions for a status change.
// Unknown statuses yield no actions.
func TransitionActions(current, previous domain.CaseStatus) []TransitionAction {
	actions := transitionTable[transitionKey{current: current, previous: previous}]
	out := make([]TransitionAction, len(actions))
	copy(out, actions)
	return out
}

// AppliedAction is a transition action together with what it did.
type AppliedAction struct {
	Action TransitionAction
	Result StepResult
}

// TransitionService applies the status transition table.
type TransitionService struct {
	rt         *flowRuntime
	escalation *EscalationService
}

// NewTransitionService creates the service.
func NewTransitionService(deps FlowDependencies, escalation *EscalationService) *TransitionService {
	return &TransitionService{rt: newFlowRuntime(deps), escalation: escalation}
}

// Dispatch applies the actions defined for (current, previous) in order.
func (s *TransitionService) Dispatch(ctx context.Context, caseID string, current, previous domain.CaseStatus) ([]AppliedAction, error) {
	actions := TransitionActions(current, previous)
	if len(actions) == 0 {
		s.rt.caseLogger(caseID).Debug("no transition actions",
			zap.String("current", string(current)), zap.String("previous", string(previous)))
		return nil, nil
	}
	return s.Run(ctx, caseID, actions...)
}

// Run applies actions in order, stopping at the first error.
func (s *TransitionService) Run(ctx context.Context, caseID string, actions ...TransitionAction) ([]AppliedAction, error) {
	applied := make([]AppliedAction, 0, len(actions))
	for _, action := range actions {
		result, err := s.apply(ctx, caseID, action)
		if err != nil {
			return applied, fmt.Errorf("%s: %w", action, err)
		}
		applied = append(applied, AppliedAction{Action: action, Result: result})
	}
	return applied, nil
}

func (s *TransitionService) apply(ctx context.Context, caseID string, action TransitionAction) (StepResult, error) {
	switch action {
	case ActionStampTriage, ActionStampEscalated, ActionStampClosed:
		return s.rt.stamp(ctx, caseID, action)
	case ActionPromote:
		if s.escalation == nil {
			return skipped(string(action), "escalation disabled"), nil
		}
		incident, err := s.escalation.Promote(ctx, caseID)
		if err != nil {
			return StepResult{}, err
		}
		if incident == nil {
			return skipped(string(action), "escalation preconditions not met"), nil
		}
		return committed(string(action)), nil
	default:
		return StepResult{}, fmt.Errorf("unknown transition action %q", action)
	}
}

// stamp sets the action's timestamp if unset and writes it together with
// the status. An already set timestamp performs no write.
func (r *flowRuntime) stamp(ctx context.Context, caseID string, action TransitionAction) (StepResult, error) {
	result := skipped(string(action), "already stamped")
	err := r.withCase(ctx, caseID, func(c *domain.Case) error {
		var field **time.Time
		switch action {
		case ActionStampTriage:
			field = &c.TriageAt
		case ActionStampEscalated:
			field = &c.EscalatedAt
		case ActionStampClosed:
			field = &c.ClosedAt
		default:
			return fmt.Errorf("not a stamp action %q", action)
		}
		if *field != nil {
			return nil
		}
		now := r.now().UTC()
		*field = &now
		if err := r.cases.UpdateLifecycle(ctx, c); err != nil {
			return fmt.Errorf("persist %s: %w", action, err)
		}
		r.caseLogger(caseID).Info("case lifecycle stamped", zap.String("action", string(action)), zap.Time("at", now))
		result = committed(string(action))
		return nil
	})
	return result, err
}
