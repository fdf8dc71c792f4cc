package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/lock"
	"github.com/spec-kit/case-service/internal/observability"
	"github.com/spec-kit/case-service/internal/plugin"
	"github.com/spec-kit/case-service/internal/repository"
	apperrors "github.com/spec-kit/case-service/pkg/util/errorutil"
)

// FlowDependencies bundles collaborators shared by the case services.
type FlowDependencies struct {
	CaseRepo        repository.CaseRepository
	ParticipantRepo repository.ParticipantRepository
	ResourceRepo    repository.ResourceRepository
	Incidents       IncidentSubsystem
	Registry        *plugin.Registry
	Locker          lock.Locker
	Audit           *AuditService
	Logger          *zap.Logger
	Metrics         *observability.Metrics
	ProviderTimeout time.Duration
	Now             func() time.Time
}

type flowRuntime struct {
	cases    repository.CaseRepository
	registry *plugin.Registry
	locker   lock.Locker
	audit    *AuditService
	logger   *zap.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
	now      func() time.Time
}

func newFlowRuntime(deps FlowDependencies) *flowRuntime {
	rt := &flowRuntime{
		cases:    deps.CaseRepo,
		registry: deps.Registry,
		locker:   deps.Locker,
		audit:    deps.Audit,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		timeout:  deps.ProviderTimeout,
		now:      deps.Now,
	}
	if rt.locker == nil {
		rt.locker = lock.NewKeyedMutex()
	}
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	if rt.timeout <= 0 {
		rt.timeout = 30 * time.Second
	}
	if rt.now == nil {
		rt.now = time.Now
	}
	return rt
}

func caseLockKey(caseID string) string {
	return "case:" + caseID
}

func (r *flowRuntime) load(ctx context.Context, caseID string) (*domain.Case, error) {
	c, err := r.cases.GetByID(ctx, caseID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("case", map[string]any{"case_id": caseID})
		}
		return nil, fmt.Errorf("load case %s: %w", caseID, err)
	}
	return c, nil
}

// withCase runs fn against a freshly loaded case while holding its lock.
func (r *flowRuntime) withCase(ctx context.Context, caseID string, fn func(*domain.Case) error) error {
	release, err := r.locker.Lock(ctx, caseLockKey(caseID))
	if err != nil {
		return fmt.Errorf("lock case %s: %w", caseID, err)
	}
	defer release()

	c, err := r.load(ctx, caseID)
	if err != nil {
		return err
	}
	return fn(c)
}

// call runs one provider operation under the provider timeout.
func (r *flowRuntime) call(ctx context.Context, kind plugin.Kind, operation string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := fn(callCtx); err != nil {
		r.metrics.RecordProviderCall(string(kind), operation, observability.OutcomeFailure)
		return apperrors.NewProviderError(string(kind), operation, err)
	}
	r.metrics.RecordProviderCall(string(kind), operation, observability.OutcomeSuccess)
	return nil
}

// observe records a finished flow.
func (r *flowRuntime) observe(flow, caseID string, started time.Time, err error) {
	r.metrics.RecordFlow(flow, err, time.Since(started))
	if err != nil {
		r.logger.Error("case flow failed", zap.String("flow", flow), zap.String("case_id", caseID), zap.Error(err))
		return
	}
	r.logger.Info("case flow finished", zap.String("flow", flow), zap.String("case_id", caseID),
		zap.Duration("duration", time.Since(started)))
}

func (r *flowRuntime) caseLogger(caseID string) *zap.Logger {
	return r.logger.With(zap.String("case_id", caseID))
}

func failureReason(message string, err error) string {
	return fmt.Sprintf("%s Reason: %v", message, err)
}

// uniqueEmails normalizes emails and drops blanks and duplicates, keeping order.
func uniqueEmails(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range groups {
		for _, email := range group {
			normalized := domain.NormalizeEmail(email)
			if normalized == "" {
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			out = append(out, normalized)
		}
	}
	return out
}
