package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/plugin"
)

// IncidentSubsystem is the boundary to incident management.
type IncidentSubsystem interface {
	Create(ctx context.Context, in domain.IncidentCreate) (*domain.Incident, error)
	RunCreateFlow(ctx context.Context, incidentID string) (*domain.Incident, error)
}

// EscalationService promotes cases into incidents.
type EscalationService struct {
	rt        *flowRuntime
	incidents IncidentSubsystem
}

// NewEscalationService creates the service.
func NewEscalationService(deps FlowDependencies) *EscalationService {
	return &EscalationService{rt: newFlowRuntime(deps), incidents: deps.Incidents}
}

// Promote creates and links an incident for the case. It returns nil
// without side effects when the case already has an incident or its type
// maps to no incident type.
func (s *EscalationService) Promote(ctx context.Context, caseID string) (*domain.Incident, error) {
	logger := s.rt.caseLogger(caseID)
	var (
		subject  *domain.Case
		incident *domain.Incident
	)
	err := s.rt.withCase(ctx, caseID, func(c *domain.Case) error {
		subject = c
		if len(c.Incidents) > 0 {
			logger.Debug("case already linked to an incident")
			return nil
		}
		incidentType := c.CaseType.IncidentType
		if incidentType == nil {
			logger.Warn("case not escalated, case type is not mapped to an incident type",
				zap.String("case_type", c.CaseType.Name))
			return nil
		}

		// the case assignee becomes the incident reporter
		reporter := c.AssigneeEmail()
		if reporter == "" {
			reporter = c.ReporterEmail()
		}
		created, err := s.incidents.Create(ctx, domain.IncidentCreate{
			Title:         c.Title,
			Description:   provenanceDescription(c),
			Status:        domain.IncidentStatusActive,
			IncidentType:  *incidentType,
			Priority:      c.CasePriority.Name,
			Project:       incidentType.Project,
			ReporterEmail: reporter,
			CaseID:        c.ID,
		})
		if err != nil {
			return fmt.Errorf("create incident: %w", err)
		}
		if err := s.rt.cases.LinkIncident(ctx, c.ID, created.ID); err != nil {
			return fmt.Errorf("link incident: %w", err)
		}
		incident = created
		return nil
	})
	if err != nil || incident == nil {
		return nil, err
	}

	incident = s.runIncidentCreateFlow(ctx, caseID, incident)
	s.rt.audit.Record(ctx, caseID, SourceCore, linkedDescription(incident))
	s.shareStorage(ctx, subject, incident)
	return incident, nil
}

// EscalateToIncident escalates the case into an existing incident, or
// promotes it into a new one when incidentID is empty.
func (s *EscalationService) EscalateToIncident(ctx context.Context, caseID, incidentID string) (*domain.Incident, error) {
	if err := s.markEscalated(ctx, caseID); err != nil {
		return nil, err
	}
	if incidentID == "" {
		return s.Promote(ctx, caseID)
	}

	incident, err := s.incidents.RunCreateFlow(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("run incident create flow: %w", err)
	}

	var (
		subject *domain.Case
		linked  bool
	)
	err = s.rt.withCase(ctx, caseID, func(c *domain.Case) error {
		subject = c
		if c.HasIncident(incident.ID) {
			return nil
		}
		if err := s.rt.cases.LinkIncident(ctx, c.ID, incident.ID); err != nil {
			return fmt.Errorf("link incident: %w", err)
		}
		linked = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if linked {
		s.rt.audit.Record(ctx, caseID, SourceCore, linkedDescription(incident))
	}
	s.shareStorage(ctx, subject, incident)
	return incident, nil
}

// markEscalated stamps triage and escalation and sets the Escalated status
// in one write.
func (s *EscalationService) markEscalated(ctx context.Context, caseID string) error {
	return s.rt.withCase(ctx, caseID, func(c *domain.Case) error {
		if c.Status == domain.CaseStatusEscalated && c.TriageAt != nil && c.EscalatedAt != nil {
			return nil
		}
		now := s.rt.now().UTC()
		if c.TriageAt == nil {
			c.TriageAt = &now
		}
		if c.EscalatedAt == nil {
			c.EscalatedAt = &now
		}
		c.Status = domain.CaseStatusEscalated
		if err := s.rt.cases.UpdateLifecycle(ctx, c); err != nil {
			return fmt.Errorf("persist escalation: %w", err)
		}
		return nil
	})
}

func (s *EscalationService) runIncidentCreateFlow(ctx context.Context, caseID string, incident *domain.Incident) *domain.Incident {
	ran, err := s.incidents.RunCreateFlow(ctx, incident.ID)
	if err != nil {
		s.rt.caseLogger(caseID).Error("incident create flow", zap.String("incident_id", incident.ID), zap.Error(err))
		s.rt.audit.Record(ctx, caseID, SourceCore, failureReason(fmt.Sprintf("Running the create flow of incident %s failed.", incident.Name), err))
		return incident
	}
	if ran == nil {
		return incident
	}
	return ran
}

// shareStorage grants the incident's tactical group access to the case
// storage. Best-effort.
func (s *EscalationService) shareStorage(ctx context.Context, c *domain.Case, incident *domain.Incident) StepResult {
	if c == nil || c.Storage == nil || incident.TacticalGroup == nil {
		return skipped(StepShareStorage, "no storage or incident tactical group")
	}
	logger := s.rt.caseLogger(c.ID)
	provider, ok, err := s.rt.registry.Storage(ctx, c.Project.ID)
	if err != nil {
		logger.Error("resolve storage plugin", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore,
			failureReason("Giving the incident's tactical group access to the case's storage folder failed.", err))
		return bestEffortFailed(StepShareStorage, err)
	}
	if !ok {
		logger.Warn("case storage not shared, no storage plugin enabled")
		return skipped(StepShareStorage, "no storage plugin enabled")
	}

	storage := *c.Storage
	members := []string{incident.TacticalGroup.Email}
	err = s.rt.call(ctx, plugin.KindStorage, "update_storage", func(ctx context.Context) error {
		return provider.UpdateStorage(ctx, c, storage, domain.StorageActionAddMembers, members)
	})
	if err != nil {
		logger.Error("share case storage", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore,
			failureReason("Giving the incident's tactical group access to the case's storage folder failed.", err))
		return bestEffortFailed(StepShareStorage, err)
	}
	s.rt.audit.Record(ctx, c.ID, SourceCore, fmt.Sprintf(
		"The members of the incident's tactical group %s have been given permission to access the case's storage folder",
		incident.TacticalGroup.Email))
	return committed(StepShareStorage)
}

func provenanceDescription(c *domain.Case) string {
	return fmt.Sprintf("%s\n\nThis incident was the result of escalating case %s in the %s project. "+
		"Check out the case for additional context.", c.Description, c.Name, c.Project.Name)
}

func linkedDescription(incident *domain.Incident) string {
	return fmt.Sprintf("The case has been linked to incident %s in the %s project", incident.Name, incident.Project.Name)
}
