package domain

// ResourceKind names the external resource a handle points at.
type ResourceKind string

const (
	ResourceKindTicket       ResourceKind = "ticket"
	ResourceKindConversation ResourceKind = "conversation"
	ResourceKindGroup        ResourceKind = "group"
	ResourceKindStorage      ResourceKind = "storage"
	ResourceKindDocument     ResourceKind = "document"
)

// Resource holds the provider-assigned identity shared by every handle.
type Resource struct {
	ID           string
	ResourceID   string
	ResourceType string
	Weblink      string
}

// Ticket is the external tracking ticket.
type Ticket struct {
	Resource
}

// Conversation is the chat channel/thread bound to a case.
type Conversation struct {
	Resource
	ChannelID string
	ThreadID  string
}

// GroupType distinguishes group purposes.
type GroupType string

const (
	GroupTypeTactical      GroupType = "tactical"
	GroupTypeNotifications GroupType = "notifications"
)

// GroupAction enumerates membership changes supported by group providers.
type GroupAction string

const (
	GroupActionAddMember GroupAction = "add_member"
)

// Group is a membership group, e.g. the tactical group.
type Group struct {
	Resource
	Name  string
	Email string
	Type  GroupType
}

// StorageAction enumerates sharing changes supported by storage providers.
type StorageAction string

const (
	StorageActionAddMembers StorageAction = "add_members"
)

// Storage is a shared storage folder.
type Storage struct {
	Resource
}

// DocumentType distinguishes document purposes.
type DocumentType string

const (
	DocumentTypeCase     DocumentType = "dispatch-case-document"
	DocumentTypeTemplate DocumentType = "dispatch-case-document-template"
)

// Document is a working document, or a template to create one from.
type Document struct {
	Resource
	Name string
	Type DocumentType
}
