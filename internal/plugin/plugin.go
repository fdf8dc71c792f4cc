// Package plugin defines the capability provider interfaces and the
// registry that picks the active provider for a project.
package plugin

import (
	"context"

	"github.com/spec-kit/case-service/internal/domain"
)

// Kind enumerates capability kinds.
type Kind string

const (
	KindTicket       Kind = "ticket"
	KindConversation Kind = "conversation"
	KindGroup        Kind = "participant-group"
	KindStorage      Kind = "storage"
	KindDocument     Kind = "document"
	KindOncall       Kind = "oncall"
	KindParticipant  Kind = "participant"
)

// Kinds lists every capability kind.
var Kinds = []Kind{KindTicket, KindConversation, KindGroup, KindStorage, KindDocument, KindOncall, KindParticipant}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, candidate := range Kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// Plugin is implemented by every provider.
type Plugin interface {
	Slug() string
	Title() string
	Kind() Kind
}

// TicketProvider manages the external tracking ticket.
type TicketProvider interface {
	Plugin
	CreateTicket(ctx context.Context, c *domain.Case) (*domain.Ticket, error)
	UpdateTicket(ctx context.Context, c *domain.Case) error
	DeleteTicket(ctx context.Context, ticket domain.Ticket) error
}

// ConversationProvider manages the case conversation thread.
type ConversationProvider interface {
	Plugin
	CreateConversation(ctx context.Context, c *domain.Case, target string) (*domain.Conversation, error)
	AddMembers(ctx context.Context, channelID, threadID string, emails []string) error
	UpdateThread(ctx context.Context, c *domain.Case, channelID, threadID string) error
}

// GroupProvider manages membership groups.
type GroupProvider interface {
	Plugin
	CreateGroup(ctx context.Context, subject *domain.Case, groupType domain.GroupType, members []string) (*domain.Group, error)
	UpdateGroup(ctx context.Context, subject *domain.Case, group domain.Group, action domain.GroupAction, member string) error
	DeleteGroup(ctx context.Context, group domain.Group) error
}

// StorageProvider manages shared storage folders.
type StorageProvider interface {
	Plugin
	CreateStorage(ctx context.Context, subject *domain.Case, members []string) (*domain.Storage, error)
	UpdateStorage(ctx context.Context, subject *domain.Case, storage domain.Storage, action domain.StorageAction, members []string) error
	DeleteStorage(ctx context.Context, storage domain.Storage) error
}

// DocumentProvider manages working documents.
type DocumentProvider interface {
	Plugin
	CreateDocument(ctx context.Context, subject *domain.Case, documentType domain.DocumentType, template *domain.Document) (*domain.Document, error)
	UpdateDocument(ctx context.Context, document domain.Document, projectID string) error
}

// OncallProvider pages an oncall service.
type OncallProvider interface {
	Plugin
	Page(ctx context.Context, serviceID, name, title, description string) error
}

// ParticipantProvider resolves who should be engaged on a case.
type ParticipantProvider interface {
	Plugin
	Resolve(ctx context.Context, subject *domain.Case, projectID string) ([]domain.IndividualContact, []domain.TeamContact, error)
}
