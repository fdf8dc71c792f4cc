package service_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/service"
	apperrors "github.com/spec-kit/case-service/pkg/util/errorutil"
)

var _ = Describe("TransitionActions", func() {
	DescribeTable("maps (current, previous) to ordered actions",
		func(current, previous domain.CaseStatus, expected []service.TransitionAction) {
			Expect(service.TransitionActions(current, previous)).To(Equal(expected))
		},
		Entry("triage from new", domain.CaseStatusTriage, domain.CaseStatusNew,
			[]service.TransitionAction{service.ActionStampTriage}),
		Entry("escalated from new", domain.CaseStatusEscalated, domain.CaseStatusNew,
			[]service.TransitionAction{service.ActionStampTriage, service.ActionStampEscalated, service.ActionPromote}),
		Entry("escalated from triage", domain.CaseStatusEscalated, domain.CaseStatusTriage,
			[]service.TransitionAction{service.ActionStampEscalated, service.ActionPromote}),
		Entry("closed from new", domain.CaseStatusClosed, domain.CaseStatusNew,
			[]service.TransitionAction{service.ActionStampTriage, service.ActionStampClosed}),
		Entry("closed from triage", domain.CaseStatusClosed, domain.CaseStatusTriage,
			[]service.TransitionAction{service.ActionStampClosed}),
		Entry("closed from escalated", domain.CaseStatusClosed, domain.CaseStatusEscalated,
			[]service.TransitionAction{service.ActionStampClosed}),
	)

	It("defines no actions for the diagonal or for moving back", func() {
		for _, status := range domain.CaseStatuses {
			Expect(service.TransitionActions(status, status)).To(BeEmpty())
			Expect(service.TransitionActions(domain.CaseStatusNew, status)).To(BeEmpty())
		}
		Expect(service.TransitionActions(domain.CaseStatusTriage, domain.CaseStatusEscalated)).To(BeEmpty())
		Expect(service.TransitionActions(domain.CaseStatusTriage, domain.CaseStatusClosed)).To(BeEmpty())
		Expect(service.TransitionActions(domain.CaseStatusEscalated, domain.CaseStatusClosed)).To(BeEmpty())
	})

	It("yields no actions for unknown statuses", func() {
		Expect(service.TransitionActions("Archived", domain.CaseStatusNew)).To(BeEmpty())
	})

	It("returns a copy the caller may modify", func() {
		actions := service.TransitionActions(domain.CaseStatusTriage, domain.CaseStatusNew)
		actions[0] = service.ActionPromote
		Expect(service.TransitionActions(domain.CaseStatusTriage, domain.CaseStatusNew)).To(Equal(
			[]service.TransitionAction{service.ActionStampTriage}))
	})
})

var _ = Describe("TransitionService", func() {
	var (
		ctx         context.Context
		h           *harness
		transitions *service.TransitionService
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness()
		transitions = h.flows.Transitions()
	})

	It("does nothing for an undefined cell", func() {
		caseID := h.seedCase(withStatus(domain.CaseStatusTriage))

		applied, err := transitions.Dispatch(ctx, caseID, domain.CaseStatusTriage, domain.CaseStatusEscalated)
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(BeEmpty())
		Expect(h.store.writeCount()).To(Equal(0))
	})

	It("stamps triage once and skips when already stamped", func() {
		caseID := h.seedCase(withStatus(domain.CaseStatusTriage))

		applied, err := transitions.Dispatch(ctx, caseID, domain.CaseStatusTriage, domain.CaseStatusNew)
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(HaveLen(1))
		Expect(applied[0].Result.Committed()).To(BeTrue())

		stored := h.store.snapshot(caseID)
		Expect(stored.TriageAt).NotTo(BeNil())
		Expect(*stored.TriageAt).To(Equal(fixedNow))
		Expect(stored.Status).To(Equal(domain.CaseStatusTriage))

		applied, err = transitions.Dispatch(ctx, caseID, domain.CaseStatusTriage, domain.CaseStatusNew)
		Expect(err).NotTo(HaveOccurred())
		Expect(applied[0].Result.Outcome).To(Equal(service.OutcomeSkipped))
		Expect(h.store.lifecycleWriteCount()).To(Equal(1))
	})

	It("makes no write when the triage stamp is already present", func() {
		earlier := fixedNow.Add(-time.Hour)
		caseID := h.seedCase(withStatus(domain.CaseStatusTriage), func(c *domain.Case) { c.TriageAt = &earlier })

		applied, err := transitions.Dispatch(ctx, caseID, domain.CaseStatusTriage, domain.CaseStatusNew)
		Expect(err).NotTo(HaveOccurred())
		Expect(applied[0].Result.Reason).To(Equal("already stamped"))
		Expect(h.store.writeCount()).To(Equal(0))
		Expect(*h.store.snapshot(caseID).TriageAt).To(Equal(earlier))
	})

	It("stamps triage and closed and keeps the stored status", func() {
		caseID := h.seedCase(withStatus(domain.CaseStatusClosed))

		_, err := transitions.Dispatch(ctx, caseID, domain.CaseStatusClosed, domain.CaseStatusNew)
		Expect(err).NotTo(HaveOccurred())

		stored := h.store.snapshot(caseID)
		Expect(stored.Status).To(Equal(domain.CaseStatusClosed))
		Expect(stored.TriageAt).NotTo(BeNil())
		Expect(stored.ClosedAt).NotTo(BeNil())
		Expect(stored.EscalatedAt).To(BeNil())
	})

	Context("escalating from New", func() {
		It("stamps but does not promote without an incident type", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusEscalated))

			applied, err := transitions.Dispatch(ctx, caseID, domain.CaseStatusEscalated, domain.CaseStatusNew)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(HaveLen(3))
			Expect(applied[2].Action).To(Equal(service.ActionPromote))
			Expect(applied[2].Result.Outcome).To(Equal(service.OutcomeSkipped))
			Expect(h.incidents.createdCount()).To(Equal(0))

			stored := h.store.snapshot(caseID)
			Expect(stored.TriageAt).NotTo(BeNil())
			Expect(stored.EscalatedAt).NotTo(BeNil())
			Expect(stored.Incidents).To(BeEmpty())
		})

		It("promotes into one incident however often it runs", func() {
			caseID := h.seedCase(withStatus(domain.CaseStatusEscalated), withIncidentType())

			applied, err := transitions.Dispatch(ctx, caseID, domain.CaseStatusEscalated, domain.CaseStatusNew)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied[2].Result.Committed()).To(BeTrue())

			applied, err = transitions.Dispatch(ctx, caseID, domain.CaseStatusEscalated, domain.CaseStatusNew)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied[2].Result.Outcome).To(Equal(service.OutcomeSkipped))

			Expect(h.incidents.createdCount()).To(Equal(1))
			Expect(h.store.snapshot(caseID).Incidents).To(HaveLen(1))
		})
	})

	It("fails on an unknown case", func() {
		_, err := transitions.Run(ctx, "missing", service.ActionStampTriage)
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsNotFound(err)).To(BeTrue())
	})
})
