package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/case-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCaseCreated           EventType = "case_created"
	EventCaseUpdated           EventType = "case_updated"
	EventCaseStatusChanged     EventType = "case_status_changed"
	EventCaseEscalateRequested EventType = "case_escalate_requested"
	EventCaseParticipantAdded  EventType = "case_participant_added"
	EventCaseDeleted           EventType = "case_deleted"
	EventIncidentCreated       EventType = "incident_created"
)

// EventTypes lists every event type.
var EventTypes = []EventType{
	EventCaseCreated,
	EventCaseUpdated,
	EventCaseStatusChanged,
	EventCaseEscalateRequested,
	EventCaseParticipantAdded,
	EventCaseDeleted,
	EventIncidentCreated,
}

// Event is a lifecycle trigger for a background flow.
type Event struct {
	ID        string    `cbor:"id" json:"id"`
	Type      EventType `cbor:"type" json:"type"`
	CaseID    string    `cbor:"case_id" json:"case_id"`
	Timestamp time.Time `cbor:"timestamp" json:"timestamp"`
	Attempt   int       `cbor:"attempt,omitempty" json:"attempt,omitempty"`
	Payload   Payload   `cbor:"payload" json:"payload"`
}

// Payload carries the flow arguments. Fields not used by a type stay empty.
type Payload struct {
	PreviousStatus     domain.CaseStatus          `cbor:"previous_status,omitempty" json:"previous_status,omitempty"`
	ConversationTarget string                     `cbor:"conversation_target,omitempty" json:"conversation_target,omitempty"`
	ServiceID          string                     `cbor:"service_id,omitempty" json:"service_id,omitempty"`
	RecordOnly         bool                       `cbor:"record_only,omitempty" json:"record_only,omitempty"`
	ReporterEmail      string                     `cbor:"reporter_email,omitempty" json:"reporter_email,omitempty"`
	AssigneeEmail      string                     `cbor:"assignee_email,omitempty" json:"assignee_email,omitempty"`
	ParticipantEmail   string                     `cbor:"participant_email,omitempty" json:"participant_email,omitempty"`
	ParticipantRole    domain.ParticipantRoleType `cbor:"participant_role,omitempty" json:"participant_role,omitempty"`
	IncidentID         string                     `cbor:"incident_id,omitempty" json:"incident_id,omitempty"`
}

// NewEvent stamps a new event with an id and the current time.
func NewEvent(eventType EventType, caseID string, payload Payload) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		CaseID:    caseID,
		Timestamp: time.Now().UTC(),
		Attempt:   1,
		Payload:   payload,
	}
}
