package service_test

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/gomega"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/lock"
	"github.com/spec-kit/case-service/internal/plugin"
	"github.com/spec-kit/case-service/internal/service"
)

var fixedNow = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

type harness struct {
	store       *memoryStore
	incidents   *fakeIncidents
	activations *plugin.StaticActivations
	lookups     *failingLookups
	registry    *plugin.Registry

	ticket       *fakeTicket
	conversation *fakeConversation
	group        *fakeGroup
	storage      *fakeStorage
	document     *fakeDocument
	oncall       *fakeOncall
	resolver     *fakeResolver

	flows *service.CaseFlowService
	cases int
}

func newHarness() *harness {
	store := newMemoryStore()
	h := &harness{
		store:        store,
		incidents:    &fakeIncidents{store: store},
		activations:  plugin.NewStaticActivations(),
		lookups:      &failingLookups{},
		ticket:       &fakeTicket{basePlugin: basePlugin{slug: "jira", kind: plugin.KindTicket}},
		conversation: &fakeConversation{basePlugin: basePlugin{slug: "slack", kind: plugin.KindConversation}},
		group:        &fakeGroup{basePlugin: basePlugin{slug: "google-groups", kind: plugin.KindGroup}},
		storage:      &fakeStorage{basePlugin: basePlugin{slug: "google-drive", kind: plugin.KindStorage}},
		document:     &fakeDocument{basePlugin: basePlugin{slug: "google-docs", kind: plugin.KindDocument}},
		oncall:       &fakeOncall{basePlugin: basePlugin{slug: "pagerduty", kind: plugin.KindOncall}},
		resolver:     &fakeResolver{basePlugin: basePlugin{slug: "contacts", kind: plugin.KindParticipant}},
	}
	h.registry = plugin.NewRegistry(h.lookups, h.activations)
	for _, p := range []plugin.Plugin{h.ticket, h.conversation, h.group, h.storage, h.document, h.oncall, h.resolver} {
		Expect(h.registry.Register(p)).To(Succeed())
		h.activations.Activate(projectID, p.Kind(), p.Slug())
	}
	h.flows = service.NewCaseFlowService(h.deps())
	return h
}

func (h *harness) deps() service.FlowDependencies {
	return service.FlowDependencies{
		CaseRepo:        h.store,
		ParticipantRepo: participantView{h.store},
		ResourceRepo:    h.store,
		Incidents:       h.incidents,
		Registry:        h.registry,
		Locker:          lock.NewKeyedMutex(),
		Audit:           service.NewAuditService(auditEvents{h.store}, nil),
		ProviderTimeout: time.Second,
		Now:             func() time.Time { return fixedNow },
	}
}

func (h *harness) deactivate(kind plugin.Kind) {
	h.activations.Activate(projectID, kind, "")
}

// failLookup makes resolving the active plugin of kind return an error.
func (h *harness) failLookup(kind plugin.Kind) {
	h.lookups.fail(kind, errors.New("plugin_instances unavailable"))
}

// seedCase stores an open New case and returns its ID.
func (h *harness) seedCase(mutate ...func(*domain.Case)) string {
	h.cases++
	c := &domain.Case{
		ID:           fmt.Sprintf("case-%d", h.cases),
		Name:         fmt.Sprintf("SEC-%d", h.cases),
		Title:        "Suspicious login",
		Description:  "Login from an unknown device",
		Project:      domain.Project{ID: projectID, Name: "Security"},
		Status:       domain.CaseStatusNew,
		Visibility:   domain.VisibilityOpen,
		CaseType:     domain.CaseType{ID: "type-1", Name: "Account compromise"},
		CasePriority: domain.CasePriority{ID: "prio-1", Name: "Low"},
		CreatedAt:    fixedNow,
	}
	for _, fn := range mutate {
		fn(c)
	}
	h.store.putCase(c)
	return c.ID
}

func withStatus(status domain.CaseStatus) func(*domain.Case) {
	return func(c *domain.Case) { c.Status = status }
}

func withIncidentType() func(*domain.Case) {
	return func(c *domain.Case) {
		c.CaseType.IncidentType = &domain.IncidentType{
			ID:      "itype-1",
			Name:    "Security Incident",
			Project: domain.Project{ID: "proj-ir", Name: "IR"},
		}
	}
}

func withTacticalGroup() func(*domain.Case) {
	return func(c *domain.Case) {
		c.Groups = append(c.Groups, domain.Group{
			Resource: domain.Resource{ID: "res-group-" + c.ID, ResourceID: c.Name + "-tactical"},
			Name:     c.Name + "-tactical",
			Email:    c.Name + "-tactical@groups.example.com",
			Type:     domain.GroupTypeTactical,
		})
	}
}

func withConversation() func(*domain.Case) {
	return func(c *domain.Case) {
		c.Conversation = &domain.Conversation{
			Resource:  domain.Resource{ID: "res-conv-" + c.ID, ResourceID: "C1/" + c.ID},
			ChannelID: "C1",
			ThreadID:  "T-" + c.ID,
		}
	}
}

func withTicket() func(*domain.Case) {
	return func(c *domain.Case) {
		c.Ticket = &domain.Ticket{Resource: domain.Resource{ID: "res-ticket-" + c.ID, ResourceID: "TCK-" + c.ID}}
	}
}

func withStorage() func(*domain.Case) {
	return func(c *domain.Case) {
		c.Storage = &domain.Storage{Resource: domain.Resource{ID: "res-storage-" + c.ID, ResourceID: "folder-" + c.ID}}
	}
}

func withDocument() func(*domain.Case) {
	return func(c *domain.Case) {
		c.CaseDocument = &domain.Document{
			Resource: domain.Resource{ID: "res-doc-" + c.ID, ResourceID: "doc-" + c.ID},
			Type:     domain.DocumentTypeCase,
		}
	}
}
