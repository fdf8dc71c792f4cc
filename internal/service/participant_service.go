package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/plugin"
	"github.com/spec-kit/case-service/internal/repository"
	apperrors "github.com/spec-kit/case-service/pkg/util/errorutil"
)

// ParticipantService adds participants to cases and assigns their roles.
type ParticipantService struct {
	rt           *flowRuntime
	participants repository.ParticipantRepository
}

// AddParticipantInput describes a participant to add or reactivate.
type AddParticipantInput struct {
	Email             string
	CaseID            string
	Role              domain.ParticipantRoleType
	ServiceID         string
	AddToConversation bool
}

// NewParticipantService creates the service.
func NewParticipantService(deps FlowDependencies) *ParticipantService {
	return &ParticipantService{
		rt:           newFlowRuntime(deps),
		participants: deps.ParticipantRepo,
	}
}

// ResolveCaseParticipants asks the participant provider who should be
// engaged on an open case. A resolver failure yields empty lists.
func (s *ParticipantService) ResolveCaseParticipants(ctx context.Context, c *domain.Case) ([]string, []string, StepResult) {
	if c.Visibility != domain.VisibilityOpen {
		return nil, nil, skipped(StepResolveParticipants, "case visibility is restricted")
	}
	provider, ok, err := s.rt.registry.Participant(ctx, c.Project.ID)
	if err != nil {
		s.rt.caseLogger(c.ID).Error("resolve participant plugin", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Resolving case participants failed.", err))
		return nil, nil, bestEffortFailed(StepResolveParticipants, err)
	}
	if !ok {
		return nil, nil, skipped(StepResolveParticipants, "no participant plugin enabled")
	}

	var (
		individuals []domain.IndividualContact
		teams       []domain.TeamContact
	)
	err = s.rt.call(ctx, plugin.KindParticipant, "resolve", func(ctx context.Context) error {
		var callErr error
		individuals, teams, callErr = provider.Resolve(ctx, c, c.Project.ID)
		return callErr
	})
	if err != nil {
		s.rt.caseLogger(c.ID).Error("resolve case participants", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Resolving case participants failed.", err))
		return nil, nil, bestEffortFailed(StepResolveParticipants, err)
	}
	s.rt.audit.Record(ctx, c.ID, provider.Title(), "Case participants resolved")

	individualEmails := make([]string, 0, len(individuals))
	for _, contact := range individuals {
		individualEmails = append(individualEmails, contact.Email)
	}
	teamEmails := make([]string, 0, len(teams))
	for _, contact := range teams {
		teamEmails = append(teamEmails, contact.Email)
	}
	return uniqueEmails(individualEmails), uniqueEmails(teamEmails), committed(StepResolveParticipants)
}

// AddOrReactivate ensures the email participates in the case. A participant
// that already holds an active role is returned without any write.
func (s *ParticipantService) AddOrReactivate(ctx context.Context, in AddParticipantInput) (*domain.Participant, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return nil, apperrors.NewValidationError("participant email is required", map[string]any{"case_id": in.CaseID})
	}
	role := in.Role
	if role == "" {
		role = domain.ParticipantRoleParticipant
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("unknown participant role", map[string]any{"role": role})
	}
	logger := s.rt.caseLogger(in.CaseID).With(zap.String("email", email))

	var (
		participant *domain.Participant
		subject     *domain.Case
		unchanged   bool
	)
	err := s.rt.withCase(ctx, in.CaseID, func(c *domain.Case) error {
		subject = c
		if in.ServiceID != "" {
			engaged, err := s.participants.GetByCaseAndService(ctx, c.ID, in.ServiceID)
			switch {
			case err == nil:
				logger.Debug("oncall service member already engaged", zap.String("service_id", in.ServiceID))
				participant, unchanged = engaged, true
				return nil
			case !apperrors.IsNotFound(err):
				return fmt.Errorf("lookup service participant: %w", err)
			}
		}

		existing, err := s.participants.GetByCaseAndEmail(ctx, c.ID, email)
		switch {
		case err == nil && len(existing.ActiveRoles()) > 0:
			participant, unchanged = existing, true
			return nil
		case err == nil:
			participant = existing
			if c.Status == domain.CaseStatusClosed {
				return nil
			}
			assigned, err := s.participants.AddRole(ctx, existing.ID, role)
			if err != nil {
				return fmt.Errorf("reactivate participant: %w", err)
			}
			existing.Roles = append(existing.Roles, *assigned)
			if in.ServiceID != "" && existing.ServiceID != in.ServiceID {
				if err := s.participants.SetService(ctx, existing.ID, in.ServiceID); err != nil {
					return fmt.Errorf("bind participant service: %w", err)
				}
				existing.ServiceID = in.ServiceID
			}
			logger.Info("participant reactivated", zap.String("role", string(role)))
			return nil
		case apperrors.IsNotFound(err):
			created := &domain.Participant{CaseID: c.ID, Email: email, ServiceID: in.ServiceID}
			if err := s.participants.Create(ctx, created, role); err != nil {
				return fmt.Errorf("create participant: %w", err)
			}
			participant = created
			logger.Info("participant added", zap.String("role", string(role)))
			return nil
		default:
			return fmt.Errorf("lookup participant: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}
	if unchanged {
		return participant, nil
	}

	if group := subject.TacticalGroup(); group != nil {
		if err := s.addGroupMember(ctx, subject, *group, participant.Email); err != nil {
			return nil, err
		}
	}
	if subject.Status != domain.CaseStatusClosed && in.AddToConversation {
		s.AddToConversation(ctx, subject, []string{participant.Email})
	}
	return participant, nil
}

// AssignRole converges the case so that email holds role. Calling it again
// once the role is held performs no writes.
func (s *ParticipantService) AssignRole(ctx context.Context, caseID, email string, role domain.ParticipantRoleType) (StepResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return skipped(StepAssignRole, "no email given"), nil
	}
	if !role.Valid() {
		return StepResult{}, apperrors.NewValidationError("unknown participant role", map[string]any{"role": role})
	}
	if _, err := s.AddOrReactivate(ctx, AddParticipantInput{Email: email, CaseID: caseID, AddToConversation: true}); err != nil {
		return StepResult{}, err
	}

	result := skipped(StepAssignRole, "role already held")
	err := s.rt.withCase(ctx, caseID, func(c *domain.Case) error {
		holder, err := s.participants.GetByCaseAndEmail(ctx, c.ID, email)
		if err != nil {
			return fmt.Errorf("lookup participant: %w", err)
		}
		if holder.HasActiveRole(role) {
			return nil
		}

		now := s.rt.now().UTC()
		if role.SingleHolder() {
			if err := s.renouncePreviousHolder(ctx, c.ID, holder.ID, role); err != nil {
				return err
			}
		}
		if _, err := s.participants.AddRole(ctx, holder.ID, role); err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		if role != domain.ParticipantRoleParticipant {
			if plain, ok := holder.ActiveRole(domain.ParticipantRoleParticipant); ok {
				if err := s.participants.RenounceRole(ctx, plain.ID, now); err != nil {
					return fmt.Errorf("renounce participant role: %w", err)
				}
			}
		}
		if role.SingleHolder() {
			if err := s.rt.cases.SetRoleHolder(ctx, c.ID, role, holder.ID); err != nil {
				return fmt.Errorf("set case %s: %w", role, err)
			}
		}
		result = committed(StepAssignRole)
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}
	if result.Committed() {
		s.rt.audit.Record(ctx, caseID, SourceCore, fmt.Sprintf("%s has been assigned the role of %s", email, role))
	}
	return result, nil
}

// renouncePreviousHolder strips role from whoever else holds it. A holder
// left without any active role falls back to a plain participant role.
func (s *ParticipantService) renouncePreviousHolder(ctx context.Context, caseID, newHolderID string, role domain.ParticipantRoleType) error {
	previous, err := s.participants.GetByCaseAndRole(ctx, caseID, role)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", role, err)
	}
	if previous.ID == newHolderID {
		return nil
	}
	held, ok := previous.ActiveRole(role)
	if !ok {
		return nil
	}
	if err := s.participants.RenounceRole(ctx, held.ID, s.rt.now().UTC()); err != nil {
		return fmt.Errorf("renounce %s: %w", role, err)
	}
	if len(previous.ActiveRoles()) == 1 {
		if _, err := s.participants.AddRole(ctx, previous.ID, domain.ParticipantRoleParticipant); err != nil {
			return fmt.Errorf("fallback participant role: %w", err)
		}
	}
	return nil
}

// AddToConversation pushes emails to the case conversation in one call.
func (s *ParticipantService) AddToConversation(ctx context.Context, c *domain.Case, emails []string) StepResult {
	logger := s.rt.caseLogger(c.ID)
	emails = uniqueEmails(emails)
	if len(emails) == 0 {
		return skipped(StepConversationMembers, "no participants to add")
	}
	if c.Conversation == nil {
		logger.Warn("case participant(s) not added to conversation, no conversation available for this case")
		return skipped(StepConversationMembers, "no conversation available")
	}
	provider, ok, err := s.rt.registry.Conversation(ctx, c.Project.ID)
	if err != nil {
		logger.Error("resolve conversation plugin", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Adding participant(s) to case conversation failed.", err))
		return bestEffortFailed(StepConversationMembers, err)
	}
	if !ok {
		logger.Warn("case participant(s) not added to conversation, no conversation plugin enabled")
		return skipped(StepConversationMembers, "no conversation plugin enabled")
	}

	conversation := *c.Conversation
	err = s.rt.call(ctx, plugin.KindConversation, "add_members", func(ctx context.Context) error {
		return provider.AddMembers(ctx, conversation.ChannelID, conversation.ThreadID, emails)
	})
	if err != nil {
		logger.Error("add participants to conversation", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Adding participant(s) to case conversation failed.", err))
		return bestEffortFailed(StepConversationMembers, err)
	}
	return committed(StepConversationMembers)
}

// addGroupMember adds member to group. Failures are critical.
func (s *ParticipantService) addGroupMember(ctx context.Context, c *domain.Case, group domain.Group, member string) error {
	provider, ok, err := s.rt.registry.Group(ctx, c.Project.ID)
	if err != nil {
		return err
	}
	if !ok {
		s.rt.caseLogger(c.ID).Warn("group member not added, no participant group plugin enabled", zap.String("member", member))
		return nil
	}
	err = s.rt.call(ctx, plugin.KindGroup, "update_group", func(ctx context.Context) error {
		return provider.UpdateGroup(ctx, c, group, domain.GroupActionAddMember, member)
	})
	if err != nil {
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason(fmt.Sprintf("Adding %s to the tactical group failed.", member), err))
		return err
	}
	return nil
}
