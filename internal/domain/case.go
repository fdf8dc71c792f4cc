package domain

import "time"

// CaseStatus enumerates lifecycle states for cases.
type CaseStatus string

const (
	CaseStatusNew       CaseStatus = "New"
	CaseStatusTriage    CaseStatus = "Triage"
	CaseStatusEscalated CaseStatus = "Escalated"
	CaseStatusClosed    CaseStatus = "Closed"
)

// CaseStatuses lists every status in lifecycle order.
var CaseStatuses = []CaseStatus{CaseStatusNew, CaseStatusTriage, CaseStatusEscalated, CaseStatusClosed}

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	for _, candidate := range CaseStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Visibility controls whether participants are resolved automatically.
type Visibility string

const (
	VisibilityOpen       Visibility = "Open"
	VisibilityRestricted Visibility = "Restricted"
)

// Project scopes plugin activation.
type Project struct {
	ID   string
	Name string
}

// Service is an oncall service known to the paging provider.
type Service struct {
	ID         string
	Name       string
	ExternalID string
}

// IncidentType is the incident classification a case type escalates into.
type IncidentType struct {
	ID      string
	Name    string
	Project Project
}

// CaseType classifies a case and drives its escalation and templates.
type CaseType struct {
	ID               string
	Name             string
	IncidentType     *IncidentType
	TemplateDocument *Document
	OncallService    *Service
}

// CasePriority describes urgency and whether the assignee is paged.
type CasePriority struct {
	ID           string
	Name         string
	PageAssignee bool
}

// IncidentRef links a case to an incident created from it.
type IncidentRef struct {
	ID   string
	Name string
}

// Case is the aggregate whose lifecycle the orchestrator drives.
type Case struct {
	ID           string
	Name         string
	Title        string
	Description  string
	Project      Project
	Status       CaseStatus
	Visibility   Visibility
	CaseType     CaseType
	CasePriority CasePriority
	Assignee     *Participant
	Reporter     *Participant
	Ticket       *Ticket
	Conversation *Conversation
	Groups       []Group
	Storage      *Storage
	CaseDocument *Document
	Incidents    []IncidentRef
	TriageAt     *time.Time
	EscalatedAt  *time.Time
	ClosedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TacticalGroup returns the case's tactical group, if one was created.
func (c *Case) TacticalGroup() *Group {
	for i := range c.Groups {
		if c.Groups[i].Type == GroupTypeTactical {
			return &c.Groups[i]
		}
	}
	return nil
}

// AssigneeEmail returns the email of the assignee or an empty string.
func (c *Case) AssigneeEmail() string {
	if c.Assignee == nil {
		return ""
	}
	return c.Assignee.Email
}

// ReporterEmail returns the email of the reporter or an empty string.
func (c *Case) ReporterEmail() string {
	if c.Reporter == nil {
		return ""
	}
	return c.Reporter.Email
}

// HasIncident reports whether the incident is already linked.
func (c *Case) HasIncident(incidentID string) bool {
	for _, ref := range c.Incidents {
		if ref.ID == incidentID {
			return true
		}
	}
	return false
}
