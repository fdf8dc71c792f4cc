package domain

import "time"

// Event is an append-only audit record attached to a case.
type Event struct {
	ID          string
	CaseID      string
	Source      string
	Description string
	StartedAt   time.Time
	CreatedAt   time.Time
}
