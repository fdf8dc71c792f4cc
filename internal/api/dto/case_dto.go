package dto

import (
	"time"

	"github.com/spec-kit/case-service/internal/domain"
)

// CreateFlowRequest payload. CreateResources defaults to true.
type CreateFlowRequest struct {
	ConversationTarget string `json:"conversation_target"`
	ServiceID          string `json:"service_id"`
	CreateResources    *bool  `json:"create_resources"`
}

// UpdateFlowRequest payload.
type UpdateFlowRequest struct {
	PreviousStatus domain.CaseStatus `json:"previous_status"`
	ReporterEmail  string            `json:"reporter_email"`
	AssigneeEmail  string            `json:"assignee_email"`
}

// StatusFlowRequest payload.
type StatusFlowRequest struct {
	PreviousStatus domain.CaseStatus `json:"previous_status"`
}

// EscalateRequest payload. An empty IncidentID promotes into a new incident.
type EscalateRequest struct {
	IncidentID string `json:"incident_id"`
}

// AddParticipantRequest payload.
type AddParticipantRequest struct {
	Email     string                     `json:"email"`
	Role      domain.ParticipantRoleType `json:"role"`
	ServiceID string                     `json:"service_id"`
}

// AcceptedResponse acknowledges a queued flow.
type AcceptedResponse struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	CaseID  string `json:"case_id"`
}

// CaseEventResponse is one audit trail entry.
type CaseEventResponse struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
	CreatedAt   time.Time `json:"created_at"`
}
