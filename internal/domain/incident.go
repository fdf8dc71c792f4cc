package domain

import "time"

// IncidentStatus enumerates incident states.
type IncidentStatus string

const (
	IncidentStatusActive IncidentStatus = "Active"
	IncidentStatusStable IncidentStatus = "Stable"
	IncidentStatusClosed IncidentStatus = "Closed"
)

// Incident is the higher-severity entity a case escalates into.
type Incident struct {
	ID            string
	Name          string
	Title         string
	Description   string
	Status        IncidentStatus
	IncidentType  IncidentType
	Priority      string
	Project       Project
	ReporterEmail string
	TacticalGroup *Group
	CreatedAt     time.Time
}

// IncidentCreate describes an incident to be created from a case.
type IncidentCreate struct {
	Title         string
	Description   string
	Status        IncidentStatus
	IncidentType  IncidentType
	Priority      string
	Project       Project
	ReporterEmail string
	CaseID        string
}
