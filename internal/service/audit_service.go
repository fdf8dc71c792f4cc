package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/repository"
)

// SourceCore attributes audit entries written by the orchestrator itself.
const SourceCore = "Case orchestrator"

// AuditService appends case events. Recording never fails the caller.
type AuditService struct {
	events repository.EventRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService creates the service.
func NewAuditService(events repository.EventRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{events: events, logger: logger, now: time.Now}
}

// Record appends one event against the case.
func (a *AuditService) Record(ctx context.Context, caseID, source, description string) {
	if a == nil || a.events == nil {
		return
	}
	event := &domain.Event{
		CaseID:      caseID,
		Source:      source,
		Description: description,
		StartedAt:   a.now().UTC(),
	}
	if err := a.events.Create(ctx, event); err != nil {
		a.logger.Error("record case event",
			zap.String("case_id", caseID),
			zap.String("source", source),
			zap.String("description", description),
			zap.Error(err))
	}
}

// List returns the audit trail of a case, oldest first.
func (a *AuditService) List(ctx context.Context, caseID string, limit, offset int) ([]domain.Event, error) {
	return a.events.ListByCase(ctx, caseID, limit, offset)
}
