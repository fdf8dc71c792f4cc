package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/events"
	"github.com/spec-kit/case-service/internal/repository"
	apperrors "github.com/spec-kit/case-service/pkg/util/errorutil"
)

// IncidentGateway persists incidents and hands their create flow to the
// incident subsystem through the event dispatcher.
type IncidentGateway struct {
	incidents  repository.IncidentRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewIncidentGateway creates the gateway.
func NewIncidentGateway(incidents repository.IncidentRepository, dispatcher events.Dispatcher, logger *zap.Logger) *IncidentGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IncidentGateway{incidents: incidents, dispatcher: dispatcher, logger: logger}
}

var _ IncidentSubsystem = (*IncidentGateway)(nil)

// Create stores a new incident.
func (g *IncidentGateway) Create(ctx context.Context, in domain.IncidentCreate) (*domain.Incident, error) {
	incident, err := g.incidents.Create(ctx, in)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	g.logger.Info("incident created", zap.String("incident_id", incident.ID), zap.String("case_id", in.CaseID))
	return incident, nil
}

// RunCreateFlow loads the incident and announces it to the incident subsystem.
func (g *IncidentGateway) RunCreateFlow(ctx context.Context, incidentID string) (*domain.Incident, error) {
	incident, err := g.incidents.GetByID(ctx, incidentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("incident", map[string]any{"incident_id": incidentID})
		}
		return nil, fmt.Errorf("load incident %s: %w", incidentID, err)
	}
	if g.dispatcher != nil {
		event := events.NewEvent(events.EventIncidentCreated, "", events.Payload{IncidentID: incident.ID})
		if err := g.dispatcher.Publish(ctx, event); err != nil {
			return nil, fmt.Errorf("publish incident created: %w", err)
		}
	}
	return incident, nil
}
