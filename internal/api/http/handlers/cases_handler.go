package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-service/internal/api/dto"
	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/events"
	apperrors "github.com/spec-kit/case-service/pkg/util/errorutil"
)

// EventLister reads the audit trail of a case.
type EventLister interface {
	List(ctx context.Context, caseID string, limit, offset int) ([]domain.Event, error)
}

// CasesHandler accepts case flow triggers and serves the audit trail.
type CasesHandler struct {
	dispatcher events.Dispatcher
	audit      EventLister
}

// NewCasesHandler constructs handler.
func NewCasesHandler(dispatcher events.Dispatcher, audit EventLister) *CasesHandler {
	return &CasesHandler{dispatcher: dispatcher, audit: audit}
}

// CreateFlow POST /cases/:id/flows/create.
func (h *CasesHandler) CreateFlow(c *fiber.Ctx) error {
	var req dto.CreateFlowRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	createResources := req.CreateResources == nil || *req.CreateResources
	return h.publish(c, events.EventCaseCreated, events.Payload{
		ConversationTarget: strings.TrimSpace(req.ConversationTarget),
		ServiceID:          strings.TrimSpace(req.ServiceID),
		RecordOnly:         !createResources,
	})
}

// UpdateFlow POST /cases/:id/flows/update.
func (h *CasesHandler) UpdateFlow(c *fiber.Ctx) error {
	var req dto.UpdateFlowRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !req.PreviousStatus.Valid() {
		return apperrors.NewValidationError("previous_status must be one of New, Triage, Escalated, Closed", nil)
	}
	return h.publish(c, events.EventCaseUpdated, events.Payload{
		PreviousStatus: req.PreviousStatus,
		ReporterEmail:  domain.NormalizeEmail(req.ReporterEmail),
		AssigneeEmail:  domain.NormalizeEmail(req.AssigneeEmail),
	})
}

// StatusFlow POST /cases/:id/flows/status.
func (h *CasesHandler) StatusFlow(c *fiber.Ctx) error {
	var req dto.StatusFlowRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !req.PreviousStatus.Valid() {
		return apperrors.NewValidationError("previous_status must be one of New, Triage, Escalated, Closed", nil)
	}
	return h.publish(c, events.EventCaseStatusChanged, events.Payload{PreviousStatus: req.PreviousStatus})
}

// Escalate POST /cases/:id/escalate.
func (h *CasesHandler) Escalate(c *fiber.Ctx) error {
	var req dto.EscalateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return h.publish(c, events.EventCaseEscalateRequested, events.Payload{IncidentID: strings.TrimSpace(req.IncidentID)})
}

// AddParticipant POST /cases/:id/participants.
func (h *CasesHandler) AddParticipant(c *fiber.Ctx) error {
	var req dto.AddParticipantRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	email := domain.NormalizeEmail(req.Email)
	if email == "" {
		return apperrors.NewValidationError("email required", nil)
	}
	if req.Role != "" && !req.Role.Valid() {
		return apperrors.NewValidationError("unknown role", map[string]any{"role": req.Role})
	}
	return h.publish(c, events.EventCaseParticipantAdded, events.Payload{
		ParticipantEmail: email,
		ParticipantRole:  req.Role,
		ServiceID:        strings.TrimSpace(req.ServiceID),
	})
}

// DeleteResources DELETE /cases/:id/resources.
func (h *CasesHandler) DeleteResources(c *fiber.Ctx) error {
	return h.publish(c, events.EventCaseDeleted, events.Payload{})
}

// ListEvents GET /cases/:id/events.
func (h *CasesHandler) ListEvents(c *fiber.Ctx) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	list, err := h.audit.List(c.UserContext(), caseID, limit, offset)
	if err != nil {
		return apperrors.MapError(err)
	}
	items := make([]dto.CaseEventResponse, 0, len(list))
	for _, event := range list {
		items = append(items, dto.CaseEventResponse{
			ID:          event.ID,
			Source:      event.Source,
			Description: event.Description,
			StartedAt:   event.StartedAt,
			CreatedAt:   event.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items, "limit": limit, "offset": offset})
}

func (h *CasesHandler) publish(c *fiber.Ctx, eventType events.EventType, payload events.Payload) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}
	event := events.NewEvent(eventType, caseID, payload)
	if err := h.dispatcher.Publish(c.UserContext(), event); err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": dto.AcceptedResponse{
		EventID: event.ID,
		Type:    string(event.Type),
		CaseID:  caseID,
	}})
}

func caseIDParam(c *fiber.Ctx) (string, error) {
	caseID := strings.TrimSpace(c.Params("id"))
	if caseID == "" {
		return "", apperrors.NewValidationError("case id required", nil)
	}
	return caseID, nil
}

// parseBody decodes a JSON body. An empty body leaves out untouched.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}
