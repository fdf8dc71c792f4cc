package service_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/plugin"
	"github.com/spec-kit/case-service/internal/service"
	apperrors "github.com/spec-kit/case-service/pkg/util/errorutil"
)

var _ = Describe("CaseFlowService", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness()
	})

	Describe("CreateFlow", func() {
		It("provisions a new case end to end", func() {
			caseID := h.seedCase()
			h.store.seedParticipant(caseID, "owner@example.com", domain.ParticipantRoleAssignee)
			h.resolver.individuals = []domain.IndividualContact{{Email: "analyst@example.com"}}
			h.resolver.teams = []domain.TeamContact{{Email: "soc@example.com"}}

			report, err := h.flows.CreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, CreateResources: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Failures()).To(BeEmpty())

			stored := h.store.snapshot(caseID)
			Expect(stored.Ticket).NotTo(BeNil())
			Expect(stored.TacticalGroup()).NotTo(BeNil())
			Expect(stored.Storage).NotTo(BeNil())
			Expect(stored.CaseDocument).NotTo(BeNil())
			Expect(stored.Conversation).NotTo(BeNil())
			Expect(stored.Status).To(Equal(domain.CaseStatusNew))
			Expect(stored.TriageAt).To(BeNil())
			Expect(h.conversation.pushed()).To(Equal([][]string{{"analyst@example.com", "owner@example.com"}}))

			paged, _ := report.Find(service.StepPage)
			Expect(paged.Outcome).To(Equal(service.OutcomeSkipped))
		})

		It("applies the transition into an escalated status", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusEscalated), withIncidentType())
			h.store.seedParticipant(caseID, "owner@example.com", domain.ParticipantRoleAssignee)
			h.incidents.tacticalGroup = &domain.Group{Email: "ir-tactical@groups.example.com", Type: domain.GroupTypeTactical}

			_, err := h.flows.CreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, CreateResources: true})
			Expect(err).NotTo(HaveOccurred())

			stored := h.store.snapshot(caseID)
			Expect(stored.TriageAt).NotTo(BeNil())
			Expect(stored.EscalatedAt).NotTo(BeNil())
			Expect(stored.Incidents).To(HaveLen(1))
			Expect(h.incidents.created[0].ReporterEmail).To(Equal("owner@example.com"))
			Expect(h.incidents.created[0].Description).To(ContainSubstring("escalating case " + stored.Name))
			Expect(h.storage.shared).To(Equal([][]string{{"ir-tactical@groups.example.com"}}))
			Expect(h.store.descriptions(caseID)).To(ContainElement(
				"The case has been linked to incident " + stored.Incidents[0].Name + " in the IR project"))
		})

		It("provisions each resource once under duplicate create triggers", func() {
			caseID := h.seedCase()
			h.store.seedParticipant(caseID, "owner@example.com", domain.ParticipantRoleAssignee)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := h.flows.CreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, CreateResources: true})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			ticketCreates, _, _ := h.ticket.counts()
			Expect(ticketCreates).To(Equal(1))
			Expect(h.group.creates).To(Equal(1))
			Expect(h.storage.creates).To(Equal(1))
			Expect(h.conversation.creates).To(Equal(1))
			docCreates, _ := h.document.counts()
			Expect(docCreates).To(Equal(1))
			Expect(h.store.snapshot(caseID).Groups).To(HaveLen(1))
		})

		It("stops when the ticket cannot be created", func() {
			caseID := h.seedCase()
			h.ticket.createErr = errors.New("jira unavailable")

			_, err := h.flows.CreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, CreateResources: true})
			Expect(err).To(HaveOccurred())
			Expect(h.group.creates).To(Equal(0))
		})

		It("succeeds when audit events cannot be stored", func() {
			caseID := h.seedCase()
			h.store.failEvents = true

			_, err := h.flows.CreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, CreateResources: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(h.store.snapshot(caseID).Ticket).NotTo(BeNil())
		})

		It("reports an unknown case as not found", func() {
			_, err := h.flows.CreateFlow(ctx, service.CreateFlowInput{CaseID: "missing", CreateResources: true})
			Expect(apperrors.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("paging the assignee", func() {
		paging := func(c *domain.Case) { c.CasePriority.PageAssignee = true }

		It("pages the service given with the trigger", func() {
			caseID := h.seedCase(paging)

			report, err := h.flows.NewCreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, ServiceID: "svc-9"})
			Expect(err).NotTo(HaveOccurred())
			result, _ := report.Find(service.StepPage)
			Expect(result.Committed()).To(BeTrue())
			Expect(h.oncall.paged).To(Equal([]string{"svc-9"}))
			Expect(h.store.descriptions(caseID)).To(ContainElement("Case assignee paged"))
		})

		It("falls back to the oncall service of the case type", func() {
			caseID := h.seedCase(paging, func(c *domain.Case) {
				c.CaseType.OncallService = &domain.Service{ID: "svc-row", ExternalID: "PD-123"}
			})

			_, err := h.flows.NewCreateFlow(ctx, service.CreateFlowInput{CaseID: caseID})
			Expect(err).NotTo(HaveOccurred())
			Expect(h.oncall.paged).To(Equal([]string{"PD-123"}))
		})

		It("skips without a service", func() {
			caseID := h.seedCase(paging)

			report, err := h.flows.NewCreateFlow(ctx, service.CreateFlowInput{CaseID: caseID})
			Expect(err).NotTo(HaveOccurred())
			result, _ := report.Find(service.StepPage)
			Expect(result.Reason).To(Equal("no oncall service"))
			Expect(h.oncall.paged).To(BeEmpty())
		})

		It("skips without an oncall plugin", func() {
			caseID := h.seedCase(paging)
			h.deactivate(plugin.KindOncall)

			report, err := h.flows.NewCreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, ServiceID: "svc-9"})
			Expect(err).NotTo(HaveOccurred())
			result, _ := report.Find(service.StepPage)
			Expect(result.Reason).To(Equal("no oncall plugin enabled"))
		})

		It("treats a page failure as best-effort", func() {
			caseID := h.seedCase(paging)
			h.oncall.err = errors.New("pagerduty down")

			report, err := h.flows.NewCreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, ServiceID: "svc-9"})
			Expect(err).NotTo(HaveOccurred())
			result, _ := report.Find(service.StepPage)
			Expect(result.Failed()).To(BeTrue())
			Expect(h.store.descriptions(caseID)).To(ContainElement(ContainSubstring("Paging the case assignee failed. Reason:")))
		})

		It("records a failed oncall lookup and still applies the status transition", func() {
			caseID := h.seedCase(paging, withStatus(domain.CaseStatusTriage))
			h.failLookup(plugin.KindOncall)

			report, err := h.flows.CreateFlow(ctx, service.CreateFlowInput{CaseID: caseID, ServiceID: "svc-9", CreateResources: true})
			Expect(err).NotTo(HaveOccurred())
			result, found := report.Find(service.StepPage)
			Expect(found).To(BeTrue())
			Expect(result.Failed()).To(BeTrue())
			Expect(h.oncall.paged).To(BeEmpty())
			Expect(h.store.descriptions(caseID)).To(ContainElement(
				ContainSubstring("Paging the case assignee failed. Reason: resolve oncall plugin: plugin_instances unavailable")))
			Expect(h.store.snapshot(caseID).TriageAt).NotTo(BeNil())
		})
	})

	Describe("UpdateFlow", func() {
		It("converges roles, stamps and refreshes resources", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusClosed), withTicket(), withDocument(), withTacticalGroup(), withConversation())

			report, err := h.flows.UpdateFlow(ctx, service.UpdateFlowInput{
				CaseID:         caseID,
				PreviousStatus: domain.CaseStatusTriage,
				ReporterEmail:  "reporter@example.com",
				AssigneeEmail:  "assignee@example.com",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Failures()).To(BeEmpty())

			stored := h.store.snapshot(caseID)
			Expect(stored.ReporterEmail()).To(Equal("reporter@example.com"))
			Expect(stored.AssigneeEmail()).To(Equal("assignee@example.com"))
			Expect(stored.ClosedAt).NotTo(BeNil())
			Expect(stored.TriageAt).To(BeNil())

			_, ticketUpdates, _ := h.ticket.counts()
			Expect(ticketUpdates).To(Equal(1))
			_, docUpdates := h.document.counts()
			Expect(docUpdates).To(Equal(1))
			Expect(h.group.addedMembers()).To(ContainElements("reporter@example.com", "assignee@example.com"))
			Expect(h.conversation.threadUpdates).To(Equal(1))
		})

		It("does not refresh the document of an open case", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusTriage), withTicket(), withDocument())

			_, err := h.flows.UpdateFlow(ctx, service.UpdateFlowInput{CaseID: caseID, PreviousStatus: domain.CaseStatusNew})
			Expect(err).NotTo(HaveOccurred())
			_, docUpdates := h.document.counts()
			Expect(docUpdates).To(Equal(0))
			Expect(h.store.snapshot(caseID).TriageAt).NotTo(BeNil())
		})

		It("rejects an unknown previous status", func() {
			caseID := h.seedCase()
			_, err := h.flows.UpdateFlow(ctx, service.UpdateFlowInput{CaseID: caseID, PreviousStatus: "Archived"})
			Expect(apperrors.ToDomainError(err).Code).To(Equal(apperrors.CodeValidation))
		})
	})

	Describe("StatusFlow", func() {
		It("makes no write when triage was already stamped", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusTriage), func(c *domain.Case) { c.TriageAt = &fixedNow })

			applied, err := h.flows.StatusFlow(ctx, caseID, domain.CaseStatusNew)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(HaveLen(1))
			Expect(applied[0].Result.Outcome).To(Equal(service.OutcomeSkipped))
			Expect(h.store.writeCount()).To(Equal(0))
		})
	})

	Describe("EscalateFlow", func() {
		It("links an existing incident once and shares the storage", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusTriage), withStorage())
			incident := h.incidents.addExisting("incidents-7")
			h.incidents.tacticalGroup = &domain.Group{Email: "incident-7@groups.example.com", Type: domain.GroupTypeTactical}

			linked, err := h.flows.EscalateFlow(ctx, caseID, incident.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(linked.ID).To(Equal(incident.ID))

			_, err = h.flows.EscalateFlow(ctx, caseID, incident.ID)
			Expect(err).NotTo(HaveOccurred())

			stored := h.store.snapshot(caseID)
			Expect(stored.Status).To(Equal(domain.CaseStatusEscalated))
			Expect(stored.TriageAt).NotTo(BeNil())
			Expect(stored.EscalatedAt).NotTo(BeNil())
			Expect(stored.Incidents).To(Equal([]domain.IncidentRef{{ID: incident.ID, Name: "incidents-7"}}))
			Expect(h.incidents.created).To(BeEmpty())

			linkedAudits := 0
			for _, description := range h.store.descriptions(caseID) {
				if description == "The case has been linked to incident incidents-7 in the Incidents project" {
					linkedAudits++
				}
			}
			Expect(linkedAudits).To(Equal(1))
			Expect(h.storage.shared).NotTo(BeEmpty())
			Expect(h.storage.shared[0]).To(Equal([]string{"incident-7@groups.example.com"}))
		})

		It("promotes into a new incident when none is given", func() {
			caseID := h.seedCase(withIncidentType())
			h.store.seedParticipant(caseID, "reporter@example.com", domain.ParticipantRoleReporter)

			incident, err := h.flows.EscalateFlow(ctx, caseID, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(incident).NotTo(BeNil())
			Expect(h.incidents.created[0].ReporterEmail).To(Equal("reporter@example.com"))
			Expect(h.incidents.created[0].Project.Name).To(Equal("IR"))
			Expect(h.store.snapshot(caseID).Status).To(Equal(domain.CaseStatusEscalated))
		})

		It("records a failed storage lookup when linking an incident", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusTriage), withStorage())
			incident := h.incidents.addExisting("incidents-8")
			h.incidents.tacticalGroup = &domain.Group{Email: "incident-8@groups.example.com", Type: domain.GroupTypeTactical}
			h.failLookup(plugin.KindStorage)

			_, err := h.flows.EscalateFlow(ctx, caseID, incident.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.store.snapshot(caseID).Incidents).To(HaveLen(1))
			Expect(h.storage.shared).To(BeEmpty())
			Expect(h.store.descriptions(caseID)).To(ContainElement(ContainSubstring(
				"Giving the incident's tactical group access to the case's storage folder failed. Reason:")))
		})

		It("fails for an unknown incident", func() {
			caseID := h.seedCase()
			_, err := h.flows.EscalateFlow(ctx, caseID, "incident-missing")
			Expect(err).To(HaveOccurred())
			Expect(h.store.snapshot(caseID).Incidents).To(BeEmpty())
		})
	})

	Describe("Promote", func() {
		It("creates one incident under concurrent calls", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusEscalated), withIncidentType())

			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := h.flows.Escalation().Promote(ctx, caseID)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			Expect(h.incidents.createdCount()).To(Equal(1))
			Expect(h.store.snapshot(caseID).Incidents).To(HaveLen(1))
		})

		It("keeps the link when the incident create flow fails", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusEscalated), withIncidentType())
			h.incidents.runErr = errors.New("incident flow crashed")

			incident, err := h.flows.Escalation().Promote(ctx, caseID)
			Expect(err).NotTo(HaveOccurred())
			Expect(incident).NotTo(BeNil())
			Expect(h.store.snapshot(caseID).Incidents).To(HaveLen(1))
			Expect(h.store.descriptions(caseID)).To(ContainElement(ContainSubstring("Running the create flow of incident")))
		})
	})

	Describe("AddParticipantFlow", func() {
		It("hands a single-holder role to the new participant", func() {
			caseID := h.seedCase()

			p, err := h.flows.AddParticipantFlow(ctx, service.AddParticipantInput{
				Email:  "lead@example.com",
				CaseID: caseID,
				Role:   domain.ParticipantRoleAssignee,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Email).To(Equal("lead@example.com"))
			Expect(h.store.snapshot(caseID).AssigneeEmail()).To(Equal("lead@example.com"))
		})
	})

	Describe("DeleteFlow", func() {
		It("tears the case resources down", func() {
			caseID := h.seedCase(withTicket(), withStorage())

			report, err := h.flows.DeleteFlow(ctx, caseID)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Steps).To(HaveLen(2))
			Expect(h.store.snapshot(caseID).Ticket).To(BeNil())
		})
	})
})
