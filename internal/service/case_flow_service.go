package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/lock"
	"github.com/spec-kit/case-service/internal/plugin"
	apperrors "github.com/spec-kit/case-service/pkg/util/errorutil"
)

// Flow names used for metrics and logs.
const (
	FlowNewCreate      = "case_new_create"
	FlowCreate         = "case_create"
	FlowUpdate         = "case_update"
	FlowStatus         = "case_status"
	FlowEscalate       = "case_escalate"
	FlowDelete         = "case_delete"
	FlowAddParticipant = "case_add_participant"
)

// CaseFlowService runs the top level case flows.
type CaseFlowService struct {
	rt           *flowRuntime
	participants *ParticipantService
	provisioning *ProvisioningService
	transitions  *TransitionService
	escalation   *EscalationService
}

// CreateFlowInput describes a case creation trigger.
type CreateFlowInput struct {
	CaseID             string
	ConversationTarget string
	ServiceID          string
	CreateResources    bool
}

// UpdateFlowInput describes a case update trigger.
type UpdateFlowInput struct {
	CaseID         string
	PreviousStatus domain.CaseStatus
	ReporterEmail  string
	AssigneeEmail  string
}

// NewCaseFlowService wires the case services together.
// Services share one locker so a case is serialized across all of them.
func NewCaseFlowService(deps FlowDependencies) *CaseFlowService {
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyedMutex()
	}
	participants := NewParticipantService(deps)
	escalation := NewEscalationService(deps)
	return &CaseFlowService{
		rt:           newFlowRuntime(deps),
		participants: participants,
		provisioning: NewProvisioningService(deps, participants),
		transitions:  NewTransitionService(deps, escalation),
		escalation:   escalation,
	}
}

// Participants exposes the participant service.
func (s *CaseFlowService) Participants() *ParticipantService { return s.participants }

// Provisioning exposes the provisioning service.
func (s *CaseFlowService) Provisioning() *ProvisioningService { return s.provisioning }

// Transitions exposes the transition service.
func (s *CaseFlowService) Transitions() *TransitionService { return s.transitions }

// Escalation exposes the escalation service.
func (s *CaseFlowService) Escalation() *EscalationService { return s.escalation }

// NewCreateFlow creates the ticket, resolves participants, provisions the
// case resources and pages the assignee when the priority asks for it.
func (s *CaseFlowService) NewCreateFlow(ctx context.Context, in CreateFlowInput) (report Report, err error) {
	defer func(started time.Time) { s.rt.observe(FlowNewCreate, in.CaseID, started, err) }(time.Now())

	ticket, err := s.provisioning.CreateTicket(ctx, in.CaseID)
	if err != nil {
		return report, err
	}
	report.Add(ticket)

	c, err := s.rt.load(ctx, in.CaseID)
	if err != nil {
		return report, err
	}
	individuals, teams, resolved := s.participants.ResolveCaseParticipants(ctx, c)
	report.Add(resolved)

	provisioned, err := s.provisioning.Provision(ctx, ProvisionInput{
		CaseID:             in.CaseID,
		Individuals:        individuals,
		Teams:              teams,
		ConversationTarget: in.ConversationTarget,
		CreateResources:    in.CreateResources,
	})
	report.Merge(provisioned)
	if err != nil {
		return report, err
	}

	paged, err := s.pageAssignee(ctx, in.CaseID, in.ServiceID)
	if err != nil {
		return report, err
	}
	report.Add(paged)
	return report, nil
}

// CreateFlow runs NewCreateFlow, then the transition from New into the
// case's stored status.
func (s *CaseFlowService) CreateFlow(ctx context.Context, in CreateFlowInput) (report Report, err error) {
	defer func(started time.Time) { s.rt.observe(FlowCreate, in.CaseID, started, err) }(time.Now())

	if report, err = s.NewCreateFlow(ctx, in); err != nil {
		return report, err
	}
	c, err := s.rt.load(ctx, in.CaseID)
	if err != nil {
		return report, err
	}
	applied, err := s.transitions.Dispatch(ctx, in.CaseID, c.Status, domain.CaseStatusNew)
	report.Add(appliedResults(applied)...)
	return report, err
}

// UpdateFlow converges roles, applies the status transition and refreshes
// the ticket, document, tactical group and conversation.
func (s *CaseFlowService) UpdateFlow(ctx context.Context, in UpdateFlowInput) (report Report, err error) {
	defer func(started time.Time) { s.rt.observe(FlowUpdate, in.CaseID, started, err) }(time.Now())

	if !in.PreviousStatus.Valid() {
		return report, apperrors.NewValidationError("unknown previous status", map[string]any{"previous_status": in.PreviousStatus})
	}
	for _, assignment := range []struct {
		email string
		role  domain.ParticipantRoleType
	}{
		{in.ReporterEmail, domain.ParticipantRoleReporter},
		{in.AssigneeEmail, domain.ParticipantRoleAssignee},
	} {
		result, err := s.participants.AssignRole(ctx, in.CaseID, assignment.email, assignment.role)
		if err != nil {
			return report, err
		}
		report.Add(result)
	}

	c, err := s.rt.load(ctx, in.CaseID)
	if err != nil {
		return report, err
	}
	applied, err := s.transitions.Dispatch(ctx, in.CaseID, c.Status, in.PreviousStatus)
	report.Add(appliedResults(applied)...)
	if err != nil {
		return report, err
	}

	ticket, err := s.provisioning.UpdateTicket(ctx, in.CaseID)
	if err != nil {
		return report, err
	}
	report.Add(ticket)

	if c.Status == domain.CaseStatusEscalated || c.Status == domain.CaseStatusClosed {
		document, err := s.provisioning.UpdateDocument(ctx, in.CaseID)
		if err != nil {
			return report, err
		}
		report.Add(document)
	}

	for _, member := range uniqueEmails([]string{in.ReporterEmail, in.AssigneeEmail}) {
		added, err := s.provisioning.AddGroupMember(ctx, in.CaseID, member)
		if err != nil {
			return report, err
		}
		report.Add(added)
	}

	conversation, err := s.provisioning.UpdateConversation(ctx, in.CaseID)
	if err != nil {
		return report, err
	}
	report.Add(conversation)
	return report, nil
}

// StatusFlow applies the transition from previous into the stored status.
func (s *CaseFlowService) StatusFlow(ctx context.Context, caseID string, previous domain.CaseStatus) (applied []AppliedAction, err error) {
	defer func(started time.Time) { s.rt.observe(FlowStatus, caseID, started, err) }(time.Now())

	if !previous.Valid() {
		return nil, apperrors.NewValidationError("unknown previous status", map[string]any{"previous_status": previous})
	}
	c, err := s.rt.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.transitions.Dispatch(ctx, caseID, c.Status, previous)
}

// EscalateFlow escalates the case into incidentID, or into a new incident.
func (s *CaseFlowService) EscalateFlow(ctx context.Context, caseID, incidentID string) (incident *domain.Incident, err error) {
	defer func(started time.Time) { s.rt.observe(FlowEscalate, caseID, started, err) }(time.Now())
	return s.escalation.EscalateToIncident(ctx, caseID, incidentID)
}

// DeleteFlow tears down the case resources.
func (s *CaseFlowService) DeleteFlow(ctx context.Context, caseID string) (report Report, err error) {
	defer func(started time.Time) { s.rt.observe(FlowDelete, caseID, started, err) }(time.Now())
	return s.provisioning.Teardown(ctx, caseID)
}

// AddParticipantFlow adds the participant and, for reporter or assignee,
// hands them the role.
func (s *CaseFlowService) AddParticipantFlow(ctx context.Context, in AddParticipantInput) (participant *domain.Participant, err error) {
	defer func(started time.Time) { s.rt.observe(FlowAddParticipant, in.CaseID, started, err) }(time.Now())

	if !in.Role.SingleHolder() {
		return s.participants.AddOrReactivate(ctx, in)
	}
	role := in.Role
	in.Role = domain.ParticipantRoleParticipant
	if participant, err = s.participants.AddOrReactivate(ctx, in); err != nil {
		return nil, err
	}
	if _, err = s.participants.AssignRole(ctx, in.CaseID, in.Email, role); err != nil {
		return nil, err
	}
	return participant, nil
}

// pageAssignee pages the oncall service when the case priority asks for it.
// Missing configuration is a warning; a page failure is best-effort.
func (s *CaseFlowService) pageAssignee(ctx context.Context, caseID, serviceID string) (StepResult, error) {
	c, err := s.rt.load(ctx, caseID)
	if err != nil {
		return StepResult{}, err
	}
	if !c.CasePriority.PageAssignee {
		return skipped(StepPage, "priority does not page"), nil
	}
	logger := s.rt.caseLogger(c.ID)
	if serviceID == "" {
		if c.CaseType.OncallService == nil {
			logger.Warn("case assignee not paged, no relationship between case type and an oncall service")
			return skipped(StepPage, "no oncall service"), nil
		}
		serviceID = c.CaseType.OncallService.ExternalID
	}
	provider, ok, err := s.rt.registry.Oncall(ctx, c.Project.ID)
	if err != nil {
		logger.Error("resolve oncall plugin", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Paging the case assignee failed.", err))
		return bestEffortFailed(StepPage, err), nil
	}
	if !ok {
		logger.Warn("case assignee not paged, no plugin of type oncall enabled")
		return skipped(StepPage, "no oncall plugin enabled"), nil
	}
	err = s.rt.call(ctx, plugin.KindOncall, "page", func(ctx context.Context) error {
		return provider.Page(ctx, serviceID, c.Name, c.Title, c.Description)
	})
	if err != nil {
		logger.Error("page case assignee", zap.String("service_id", serviceID), zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Paging the case assignee failed.", err))
		return bestEffortFailed(StepPage, err), nil
	}
	s.rt.audit.Record(ctx, c.ID, provider.Title(), "Case assignee paged")
	return committed(StepPage), nil
}

func appliedResults(applied []AppliedAction) []StepResult {
	results := make([]StepResult, 0, len(applied))
	for _, action := range applied {
		results = append(results, action.Result)
	}
	return results
}
