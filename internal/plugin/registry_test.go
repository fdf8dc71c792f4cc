package plugin_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/plugin"
)

type fakeTicketPlugin struct {
	slug string
}

func (f *fakeTicketPlugin) Slug() string {
	return f.slug
}

func (f *fakeTicketPlugin) Title() string {
	return "Fake " + f.slug
}

func (f *fakeTicketPlugin) Kind() plugin.Kind {
	return plugin.KindTicket
}

func (f *fakeTicketPlugin) CreateTicket(context.Context, *domain.Case) (*domain.Ticket, error) {
	return &domain.Ticket{}, nil
}

func (f *fakeTicketPlugin) UpdateTicket(context.Context, *domain.Case) error {
	return nil
}

func (f *fakeTicketPlugin) DeleteTicket(context.Context, domain.Ticket) error {
	return nil
}

type fakeOncallPlugin struct{}

func (fakeOncallPlugin) Slug() string {
	return "pager"
}

func (fakeOncallPlugin) Title() string {
	return "Pager"
}

func (fakeOncallPlugin) Kind() plugin.Kind {
	return plugin.KindOncall
}

func (fakeOncallPlugin) Page(context.Context, string, string, string, string) error {
	return nil
}

type failingStore struct{}

func (failingStore) ActiveSlug(context.Context, string, plugin.Kind) (string, bool, error) {
	return "", false, errors.New("db down")
}

var _ = Describe("Registry", func() {
	var (
		ctx         context.Context
		activations *plugin.StaticActivations
		registry    *plugin.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		activations = plugin.NewStaticActivations()
		registry = plugin.NewRegistry(activations)
		Expect(registry.Register(&fakeTicketPlugin{slug: "jira"})).To(Succeed())
		Expect(registry.Register(fakeOncallPlugin{})).To(Succeed())
	})

	It("returns absent when the project has no active provider", func() {
		p, ok, err := registry.Ticket(ctx, "proj-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(p).To(BeNil())
	})

	It("resolves the active provider per project", func() {
		activations.Activate("proj-1", plugin.KindTicket, "jira")

		p, ok, err := registry.Ticket(ctx, "proj-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(p.Slug()).To(Equal("jira"))

		_, ok, err = registry.Ticket(ctx, "proj-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("treats an activation of the wrong kind as absent", func() {
		activations.Activate("proj-1", plugin.KindTicket, "pager")

		_, ok, err := registry.Ticket(ctx, "proj-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("treats an unregistered slug as absent", func() {
		activations.Activate("proj-1", plugin.KindOncall, "opsgenie")

		_, ok, err := registry.Oncall(ctx, "proj-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects duplicate slugs", func() {
		Expect(registry.Register(&fakeTicketPlugin{slug: "jira"})).To(HaveOccurred())
	})

	It("falls through stores in order", func() {
		fallback := plugin.NewStaticActivations()
		fallback.Activate("proj-1", plugin.KindOncall, "pager")
		registry = plugin.NewRegistry(plugin.NewStaticActivations(), fallback)
		Expect(registry.Register(fakeOncallPlugin{})).To(Succeed())

		p, ok, err := registry.Oncall(ctx, "proj-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(p.Title()).To(Equal("Pager"))
	})

	It("propagates store errors", func() {
		registry = plugin.NewRegistry(failingStore{})
		_, _, err := registry.Resolve(ctx, "proj-1", plugin.KindTicket)
		Expect(err).To(MatchError(ContainSubstring("db down")))
	})
})

var _ = Describe("StaticActivations", func() {
	It("parses a YAML activation file", func() {
		raw := []byte(`
projects:
  proj-1:
    ticket: jira
    conversation: slack
  proj-2:
    storage: drive
`)
		activations, err := plugin.ParseStaticActivations(raw)
		Expect(err).NotTo(HaveOccurred())

		slug, ok, err := activations.ActiveSlug(context.Background(), "proj-1", plugin.KindConversation)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(slug).To(Equal("slack"))

		_, ok, _ = activations.ActiveSlug(context.Background(), "proj-2", plugin.KindTicket)
		Expect(ok).To(BeFalse())
	})

	It("rejects unknown kinds", func() {
		_, err := plugin.ParseStaticActivations([]byte("projects:\n  p:\n    fax: machine\n"))
		Expect(err).To(MatchError(ContainSubstring("unknown plugin kind")))
	})
})
