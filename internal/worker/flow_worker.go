package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/events"
	"github.com/spec-kit/case-service/internal/service"
)

// CaseFlows is the set of flows driven by lifecycle events.
type CaseFlows interface {
	CreateFlow(ctx context.Context, in service.CreateFlowInput) (service.Report, error)
	UpdateFlow(ctx context.Context, in service.UpdateFlowInput) (service.Report, error)
	StatusFlow(ctx context.Context, caseID string, previous domain.CaseStatus) ([]service.AppliedAction, error)
	EscalateFlow(ctx context.Context, caseID, incidentID string) (*domain.Incident, error)
	DeleteFlow(ctx context.Context, caseID string) (service.Report, error)
	AddParticipantFlow(ctx context.Context, in service.AddParticipantInput) (*domain.Participant, error)
}

var _ CaseFlows = (*service.CaseFlowService)(nil)

// FlowWorker runs case flows for dispatched events. Handler errors go back
// to the dispatcher, which decides about retries.
type FlowWorker struct {
	dispatcher events.Dispatcher
	flows      CaseFlows
	logger     *zap.Logger
}

// NewFlowWorker creates the worker.
func NewFlowWorker(dispatcher events.Dispatcher, flows CaseFlows, logger *zap.Logger) *FlowWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlowWorker{dispatcher: dispatcher, flows: flows, logger: logger}
}

// StartFlowWorker registers the flow handlers.
func StartFlowWorker(w *FlowWorker) {
	if w == nil {
		return
	}
	w.RegisterHandlers()
}

// RegisterHandlers subscribes to events.
func (w *FlowWorker) RegisterHandlers() {
	if w.dispatcher == nil || w.flows == nil {
		return
	}
	w.dispatcher.Subscribe(events.EventCaseCreated, w.handleCaseCreated)
	w.dispatcher.Subscribe(events.EventCaseUpdated, w.handleCaseUpdated)
	w.dispatcher.Subscribe(events.EventCaseStatusChanged, w.handleCaseStatusChanged)
	w.dispatcher.Subscribe(events.EventCaseEscalateRequested, w.handleEscalateRequested)
	w.dispatcher.Subscribe(events.EventCaseParticipantAdded, w.handleParticipantAdded)
	w.dispatcher.Subscribe(events.EventCaseDeleted, w.handleCaseDeleted)
	w.dispatcher.Subscribe(events.EventIncidentCreated, w.handleIncidentCreated)
}

func (w *FlowWorker) eventLogger(event events.Event) *zap.Logger {
	return w.logger.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("case_id", event.CaseID),
		zap.Int("attempt", event.Attempt))
}

func (w *FlowWorker) logReport(event events.Event, report service.Report) {
	logger := w.eventLogger(event)
	for _, failed := range report.Failures() {
		logger.Warn("best-effort step failed", zap.String("step", failed.Step), zap.String("reason", failed.Reason))
	}
	logger.Info("case flow completed", zap.Int("steps", len(report.Steps)))
}

func (w *FlowWorker) handleCaseCreated(ctx context.Context, event events.Event) error {
	report, err := w.flows.CreateFlow(ctx, service.CreateFlowInput{
		CaseID:             event.CaseID,
		ConversationTarget: event.Payload.ConversationTarget,
		ServiceID:          event.Payload.ServiceID,
		CreateResources:    !event.Payload.RecordOnly,
	})
	if err != nil {
		return err
	}
	w.logReport(event, report)
	return nil
}

func (w *FlowWorker) handleCaseUpdated(ctx context.Context, event events.Event) error {
	report, err := w.flows.UpdateFlow(ctx, service.UpdateFlowInput{
		CaseID:         event.CaseID,
		PreviousStatus: event.Payload.PreviousStatus,
		ReporterEmail:  event.Payload.ReporterEmail,
		AssigneeEmail:  event.Payload.AssigneeEmail,
	})
	if err != nil {
		return err
	}
	w.logReport(event, report)
	return nil
}

func (w *FlowWorker) handleCaseStatusChanged(ctx context.Context, event events.Event) error {
	applied, err := w.flows.StatusFlow(ctx, event.CaseID, event.Payload.PreviousStatus)
	if err != nil {
		return err
	}
	w.eventLogger(event).Info("case status flow completed", zap.Int("actions", len(applied)))
	return nil
}

func (w *FlowWorker) handleEscalateRequested(ctx context.Context, event events.Event) error {
	incident, err := w.flows.EscalateFlow(ctx, event.CaseID, event.Payload.IncidentID)
	if err != nil {
		return err
	}
	logger := w.eventLogger(event)
	if incident == nil {
		logger.Info("case escalated without incident")
		return nil
	}
	logger.Info("case escalated", zap.String("incident_id", incident.ID))
	return nil
}

func (w *FlowWorker) handleParticipantAdded(ctx context.Context, event events.Event) error {
	participant, err := w.flows.AddParticipantFlow(ctx, service.AddParticipantInput{
		Email:             event.Payload.ParticipantEmail,
		CaseID:            event.CaseID,
		Role:              event.Payload.ParticipantRole,
		ServiceID:         event.Payload.ServiceID,
		AddToConversation: true,
	})
	if err != nil {
		return err
	}
	w.eventLogger(event).Info("case participant added", zap.String("participant_id", participant.ID))
	return nil
}

func (w *FlowWorker) handleCaseDeleted(ctx context.Context, event events.Event) error {
	report, err := w.flows.DeleteFlow(ctx, event.CaseID)
	if err != nil {
		return err
	}
	w.logReport(event, report)
	return nil
}

// handleIncidentCreated marks the hand-off point to the incident subsystem.
func (w *FlowWorker) handleIncidentCreated(_ context.Context, event events.Event) error {
	w.eventLogger(event).Info("incident create flow requested", zap.String("incident_id", event.Payload.IncidentID))
	return nil
}
