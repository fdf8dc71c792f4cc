package domain

import (
	"strings"
	"time"
)

// ParticipantRoleType enumerates roles a participant can hold on a case.
type ParticipantRoleType string

const (
	ParticipantRoleReporter    ParticipantRoleType = "Reporter"
	ParticipantRoleAssignee    ParticipantRoleType = "Assignee"
	ParticipantRoleParticipant ParticipantRoleType = "Participant"
	ParticipantRoleOncall      ParticipantRoleType = "Oncall"
)

// Valid reports whether r is a known role.
func (r ParticipantRoleType) Valid() bool {
	switch r {
	case ParticipantRoleReporter, ParticipantRoleAssignee, ParticipantRoleParticipant, ParticipantRoleOncall:
		return true
	}
	return false
}

// SingleHolder reports whether at most one participant may hold the role at a time.
func (r ParticipantRoleType) SingleHolder() bool {
	return r == ParticipantRoleReporter || r == ParticipantRoleAssignee
}

// ParticipantRole is one role assignment; it is active until renounced.
type ParticipantRole struct {
	ID          string
	Role        ParticipantRoleType
	AssumedAt   time.Time
	RenouncedAt *time.Time
}

// Active reports whether the assignment has not been renounced.
func (r ParticipantRole) Active() bool {
	return r.RenouncedAt == nil
}

// Participant is an individual engaged on a case, unique per (case, email).
type Participant struct {
	ID        string
	CaseID    string
	Email     string
	ServiceID string
	Roles     []ParticipantRole
	CreatedAt time.Time
}

// ActiveRoles returns the role assignments currently in effect.
func (p *Participant) ActiveRoles() []ParticipantRole {
	active := make([]ParticipantRole, 0, len(p.Roles))
	for _, role := range p.Roles {
		if role.Active() {
			active = append(active, role)
		}
	}
	return active
}

// ActiveRole returns the active assignment of the given type.
func (p *Participant) ActiveRole(role ParticipantRoleType) (ParticipantRole, bool) {
	for _, r := range p.Roles {
		if r.Role == role && r.Active() {
			return r, true
		}
	}
	return ParticipantRole{}, false
}

// HasActiveRole reports whether the participant currently holds role.
func (p *Participant) HasActiveRole(role ParticipantRoleType) bool {
	_, ok := p.ActiveRole(role)
	return ok
}

// IndividualContact is a person returned by participant resolution.
type IndividualContact struct {
	Email string
	Name  string
}

// TeamContact is a team mailbox returned by participant resolution.
type TeamContact struct {
	Email string
	Name  string
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
