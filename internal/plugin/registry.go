package plugin

import (
	"context"
	"fmt"
	"sync"
)

// ActivationStore answers which provider slug is active for a project and kind.
type ActivationStore interface {
	ActiveSlug(ctx context.Context, projectID string, kind Kind) (string, bool, error)
}

// Registry resolves the single active provider per (project, kind).
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Plugin
	stores    []ActivationStore
}

// NewRegistry builds a registry consulting stores in order.
func NewRegistry(stores ...ActivationStore) *Registry {
	return &Registry{
		providers: make(map[string]Plugin),
		stores:    stores,
	}
}

// Register makes a provider available under its slug.
func (r *Registry) Register(p Plugin) error {
	if !p.Kind().Valid() {
		return fmt.Errorf("plugin %s: unknown kind %q", p.Slug(), p.Kind())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Slug()]; exists {
		return fmt.Errorf("plugin %s already registered", p.Slug())
	}
	r.providers[p.Slug()] = p
	return nil
}

// Resolve returns the active provider for the project and kind. A project
// without an active, registered provider of that kind yields ok=false.
func (r *Registry) Resolve(ctx context.Context, projectID string, kind Kind) (Plugin, bool, error) {
	for _, store := range r.stores {
		slug, ok, err := store.ActiveSlug(ctx, projectID, kind)
		if err != nil {
			return nil, false, fmt.Errorf("resolve %s plugin: %w", kind, err)
		}
		if !ok {
			continue
		}
		r.mu.RLock()
		p, registered := r.providers[slug]
		r.mu.RUnlock()
		if !registered || p.Kind() != kind {
			return nil, false, nil
		}
		return p, true, nil
	}
	return nil, false, nil
}

func resolveAs[T Plugin](ctx context.Context, r *Registry, projectID string, kind Kind) (T, bool, error) {
	var zero T
	p, ok, err := r.Resolve(ctx, projectID, kind)
	if err != nil || !ok {
		return zero, false, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, false, fmt.Errorf("plugin %s does not implement %s", p.Slug(), kind)
	}
	return typed, true, nil
}

func (r *Registry) Ticket(ctx context.Context, projectID string) (TicketProvider, bool, error) {
	return resolveAs[TicketProvider](ctx, r, projectID, KindTicket)
}

func (r *Registry) Conversation(ctx context.Context, projectID string) (ConversationProvider, bool, error) {
	return resolveAs[ConversationProvider](ctx, r, projectID, KindConversation)
}

func (r *Registry) Group(ctx context.Context, projectID string) (GroupProvider, bool, error) {
	return resolveAs[GroupProvider](ctx, r, projectID, KindGroup)
}

func (r *Registry) Storage(ctx context.Context, projectID string) (StorageProvider, bool, error) {
	return resolveAs[StorageProvider](ctx, r, projectID, KindStorage)
}

func (r *Registry) Document(ctx context.Context, projectID string) (DocumentProvider, bool, error) {
	return resolveAs[DocumentProvider](ctx, r, projectID, KindDocument)
}

func (r *Registry) Oncall(ctx context.Context, projectID string) (OncallProvider, bool, error) {
	return resolveAs[OncallProvider](ctx, r, projectID, KindOncall)
}

func (r *Registry) Participant(ctx context.Context, projectID string) (ParticipantProvider, bool, error) {
	return resolveAs[ParticipantProvider](ctx, r, projectID, KindParticipant)
}
