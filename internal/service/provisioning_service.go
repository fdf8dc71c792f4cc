package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/plugin"
	"github.com/spec-kit/case-service/internal/repository"
	apperrors "github.com/spec-kit/case-service/pkg/util/errorutil"
)

var errEmptyHandle = errors.New("provider returned no resource")

// ProvisioningService creates, refreshes and tears down the external
// resources of a case. Creation is idempotent on handle presence.
type ProvisioningService struct {
	rt           *flowRuntime
	resources    repository.ResourceRepository
	participants *ParticipantService
}

// ProvisionInput describes one provisioning pass.
type ProvisionInput struct {
	CaseID             string
	Individuals        []string
	Teams              []string
	ConversationTarget string
	CreateResources    bool
}

// NewProvisioningService creates the service.
func NewProvisioningService(deps FlowDependencies, participants *ParticipantService) *ProvisioningService {
	return &ProvisioningService{
		rt:           newFlowRuntime(deps),
		resources:    deps.ResourceRepo,
		participants: participants,
	}
}

// ensure runs create under the case lock unless present reports the
// resource already exists.
func (s *ProvisioningService) ensure(ctx context.Context, caseID, step string, present func(*domain.Case) bool, create func(*domain.Case) (StepResult, error)) (StepResult, error) {
	var result StepResult
	err := s.rt.withCase(ctx, caseID, func(c *domain.Case) error {
		if present(c) {
			s.rt.caseLogger(caseID).Debug("resource already exists", zap.String("step", step))
			result = skipped(step, "already exists")
			return nil
		}
		var err error
		result, err = create(c)
		return err
	})
	return result, err
}

// CreateTicket creates the case ticket if it does not exist yet.
func (s *ProvisioningService) CreateTicket(ctx context.Context, caseID string) (StepResult, error) {
	return s.ensure(ctx, caseID, StepCreateTicket,
		func(c *domain.Case) bool { return c.Ticket != nil },
		func(c *domain.Case) (StepResult, error) {
			provider, ok, err := s.rt.registry.Ticket(ctx, c.Project.ID)
			if err != nil {
				return StepResult{}, err
			}
			if !ok {
				s.rt.caseLogger(c.ID).Warn("case ticket not created, no ticket plugin enabled")
				return skipped(StepCreateTicket, "no ticket plugin enabled"), nil
			}
			var ticket *domain.Ticket
			err = s.rt.call(ctx, plugin.KindTicket, "create_ticket", func(ctx context.Context) error {
				var callErr error
				if ticket, callErr = provider.CreateTicket(ctx, c); callErr == nil && ticket == nil {
					callErr = errEmptyHandle
				}
				return callErr
			})
			if err != nil {
				s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Creation of case ticket failed.", err))
				return StepResult{}, err
			}
			if err := s.resources.CreateTicket(ctx, c.ID, ticket); err != nil {
				return StepResult{}, fmt.Errorf("persist ticket: %w", err)
			}
			s.rt.audit.Record(ctx, c.ID, provider.Title(), "Case ticket created")
			return committed(StepCreateTicket), nil
		})
}

// Provision ensures group, storage and document exist, refreshes the
// document and the ticket, then sets up the conversation. The
// conversation block is best-effort; every earlier step is critical.
func (s *ProvisioningService) Provision(ctx context.Context, in ProvisionInput) (Report, error) {
	var report Report
	c, err := s.rt.load(ctx, in.CaseID)
	if err != nil {
		return report, err
	}

	if !in.CreateResources {
		result, err := s.UpdateTicket(ctx, in.CaseID)
		report.Add(result)
		return report, err
	}

	direct := uniqueEmails(in.Individuals, []string{c.AssigneeEmail()})

	steps := []func() (StepResult, error){
		func() (StepResult, error) { return s.createGroup(ctx, in.CaseID, uniqueEmails(direct, in.Teams)) },
		func() (StepResult, error) { return s.createStorage(ctx, in.CaseID, direct) },
		func() (StepResult, error) { return s.createDocument(ctx, in.CaseID) },
		func() (StepResult, error) { return s.UpdateDocument(ctx, in.CaseID) },
		func() (StepResult, error) { return s.UpdateTicket(ctx, in.CaseID) },
	}
	for _, step := range steps {
		result, err := step()
		if err != nil {
			return report, err
		}
		report.Add(result)
	}

	report.Add(s.provisionConversation(ctx, in.CaseID, in.ConversationTarget, direct)...)
	return report, nil
}

func (s *ProvisioningService) createGroup(ctx context.Context, caseID string, members []string) (StepResult, error) {
	return s.ensure(ctx, caseID, StepCreateGroup,
		func(c *domain.Case) bool { return c.TacticalGroup() != nil },
		func(c *domain.Case) (StepResult, error) {
			provider, ok, err := s.rt.registry.Group(ctx, c.Project.ID)
			if err != nil {
				return StepResult{}, err
			}
			if !ok {
				s.rt.caseLogger(c.ID).Warn("tactical group not created, no participant group plugin enabled")
				return skipped(StepCreateGroup, "no participant group plugin enabled"), nil
			}
			var group *domain.Group
			err = s.rt.call(ctx, plugin.KindGroup, "create_group", func(ctx context.Context) error {
				var callErr error
				if group, callErr = provider.CreateGroup(ctx, c, domain.GroupTypeTactical, members); callErr == nil && group == nil {
					callErr = errEmptyHandle
				}
				return callErr
			})
			if err != nil {
				s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Creation of tactical group failed.", err))
				return StepResult{}, err
			}
			group.Type = domain.GroupTypeTactical
			if err := s.resources.CreateGroup(ctx, c.ID, group); err != nil {
				return StepResult{}, fmt.Errorf("persist group: %w", err)
			}
			s.rt.audit.Record(ctx, c.ID, provider.Title(), "Case tactical group created")
			return committed(StepCreateGroup), nil
		})
}

func (s *ProvisioningService) createStorage(ctx context.Context, caseID string, direct []string) (StepResult, error) {
	return s.ensure(ctx, caseID, StepCreateStorage,
		func(c *domain.Case) bool { return c.Storage != nil },
		func(c *domain.Case) (StepResult, error) {
			provider, ok, err := s.rt.registry.Storage(ctx, c.Project.ID)
			if err != nil {
				return StepResult{}, err
			}
			if !ok {
				s.rt.caseLogger(c.ID).Warn("storage not created, no storage plugin enabled")
				return skipped(StepCreateStorage, "no storage plugin enabled"), nil
			}
			members := direct
			if group := c.TacticalGroup(); group != nil {
				members = []string{group.Email}
			}
			var storage *domain.Storage
			err = s.rt.call(ctx, plugin.KindStorage, "create_storage", func(ctx context.Context) error {
				var callErr error
				if storage, callErr = provider.CreateStorage(ctx, c, members); callErr == nil && storage == nil {
					callErr = errEmptyHandle
				}
				return callErr
			})
			if err != nil {
				s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Creation of case storage failed.", err))
				return StepResult{}, err
			}
			if err := s.resources.CreateStorage(ctx, c.ID, storage); err != nil {
				return StepResult{}, fmt.Errorf("persist storage: %w", err)
			}
			s.rt.audit.Record(ctx, c.ID, provider.Title(), "Case storage folder created")
			return committed(StepCreateStorage), nil
		})
}

func (s *ProvisioningService) createDocument(ctx context.Context, caseID string) (StepResult, error) {
	return s.ensure(ctx, caseID, StepCreateDocument,
		func(c *domain.Case) bool { return c.CaseDocument != nil },
		func(c *domain.Case) (StepResult, error) {
			provider, ok, err := s.rt.registry.Document(ctx, c.Project.ID)
			if err != nil {
				return StepResult{}, err
			}
			if !ok {
				s.rt.caseLogger(c.ID).Warn("case document not created, no document plugin enabled")
				return skipped(StepCreateDocument, "no document plugin enabled"), nil
			}
			var document *domain.Document
			err = s.rt.call(ctx, plugin.KindDocument, "create_document", func(ctx context.Context) error {
				var callErr error
				document, callErr = provider.CreateDocument(ctx, c, domain.DocumentTypeCase, c.CaseType.TemplateDocument)
				if callErr == nil && document == nil {
					callErr = errEmptyHandle
				}
				return callErr
			})
			if err != nil {
				s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Creation of case document failed.", err))
				return StepResult{}, err
			}
			document.Type = domain.DocumentTypeCase
			if err := s.resources.CreateDocument(ctx, c.ID, document); err != nil {
				return StepResult{}, fmt.Errorf("persist document: %w", err)
			}
			s.rt.audit.Record(ctx, c.ID, provider.Title(), "Case document created")
			return committed(StepCreateDocument), nil
		})
}

// UpdateDocument refreshes the case document content. Critical.
func (s *ProvisioningService) UpdateDocument(ctx context.Context, caseID string) (StepResult, error) {
	c, err := s.rt.load(ctx, caseID)
	if err != nil {
		return StepResult{}, err
	}
	if c.CaseDocument == nil {
		return skipped(StepUpdateDocument, "no case document"), nil
	}
	provider, ok, err := s.rt.registry.Document(ctx, c.Project.ID)
	if err != nil {
		return StepResult{}, err
	}
	if !ok {
		s.rt.caseLogger(c.ID).Warn("case document not updated, no document plugin enabled")
		return skipped(StepUpdateDocument, "no document plugin enabled"), nil
	}
	document := *c.CaseDocument
	err = s.rt.call(ctx, plugin.KindDocument, "update_document", func(ctx context.Context) error {
		return provider.UpdateDocument(ctx, document, c.Project.ID)
	})
	if err != nil {
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Updating case document failed.", err))
		return StepResult{}, err
	}
	return committed(StepUpdateDocument), nil
}

// UpdateTicket pushes the current case state to the ticket. Critical.
func (s *ProvisioningService) UpdateTicket(ctx context.Context, caseID string) (StepResult, error) {
	c, err := s.rt.load(ctx, caseID)
	if err != nil {
		return StepResult{}, err
	}
	if c.Ticket == nil {
		s.rt.caseLogger(c.ID).Warn("case ticket not updated, case has no ticket")
		return skipped(StepUpdateTicket, "no ticket"), nil
	}
	provider, ok, err := s.rt.registry.Ticket(ctx, c.Project.ID)
	if err != nil {
		return StepResult{}, err
	}
	if !ok {
		s.rt.caseLogger(c.ID).Warn("case ticket not updated, no ticket plugin enabled")
		return skipped(StepUpdateTicket, "no ticket plugin enabled"), nil
	}
	err = s.rt.call(ctx, plugin.KindTicket, "update_ticket", func(ctx context.Context) error {
		return provider.UpdateTicket(ctx, c)
	})
	if err != nil {
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Updating case ticket failed.", err))
		return StepResult{}, err
	}
	return committed(StepUpdateTicket), nil
}

// UpdateConversation refreshes the conversation thread. Best-effort.
func (s *ProvisioningService) UpdateConversation(ctx context.Context, caseID string) (StepResult, error) {
	c, err := s.rt.load(ctx, caseID)
	if err != nil {
		return StepResult{}, err
	}
	logger := s.rt.caseLogger(c.ID)
	if c.Conversation == nil {
		return skipped(StepUpdateConversation, "no conversation"), nil
	}
	provider, ok, err := s.rt.registry.Conversation(ctx, c.Project.ID)
	if err != nil {
		logger.Error("resolve conversation plugin", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Updating case conversation failed.", err))
		return bestEffortFailed(StepUpdateConversation, err), nil
	}
	if !ok {
		logger.Warn("case conversation not updated, no conversation plugin enabled")
		return skipped(StepUpdateConversation, "no conversation plugin enabled"), nil
	}
	conversation := *c.Conversation
	err = s.rt.call(ctx, plugin.KindConversation, "update_thread", func(ctx context.Context) error {
		return provider.UpdateThread(ctx, c, conversation.ChannelID, conversation.ThreadID)
	})
	if err != nil {
		logger.Error("update case conversation", zap.Error(err))
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason("Updating case conversation failed.", err))
		return bestEffortFailed(StepUpdateConversation, err), nil
	}
	s.rt.audit.Record(ctx, c.ID, provider.Title(), "Case conversation updated.")
	return committed(StepUpdateConversation), nil
}

// AddGroupMember adds member to the tactical group. Critical.
func (s *ProvisioningService) AddGroupMember(ctx context.Context, caseID, member string) (StepResult, error) {
	member = domain.NormalizeEmail(member)
	if member == "" {
		return skipped(StepAddGroupMember, "no member given"), nil
	}
	c, err := s.rt.load(ctx, caseID)
	if err != nil {
		return StepResult{}, err
	}
	group := c.TacticalGroup()
	if group == nil {
		return skipped(StepAddGroupMember, "no tactical group"), nil
	}
	if err := s.participants.addGroupMember(ctx, c, *group, member); err != nil {
		return StepResult{}, err
	}
	return committed(StepAddGroupMember), nil
}

// provisionConversation creates or resolves the conversation, registers the
// direct participants without individual pushes, then adds them all in one
// batched call. Failures are audited and never returned.
func (s *ProvisioningService) provisionConversation(ctx context.Context, caseID, target string, direct []string) []StepResult {
	logger := s.rt.caseLogger(caseID)
	results := make([]StepResult, 0, 3)

	created, err := s.ensure(ctx, caseID, StepCreateConversation,
		func(c *domain.Case) bool { return c.Conversation != nil },
		func(c *domain.Case) (StepResult, error) {
			provider, ok, err := s.rt.registry.Conversation(ctx, c.Project.ID)
			if err != nil {
				return StepResult{}, err
			}
			if !ok {
				logger.Warn("case conversation not created, no conversation plugin enabled")
				return skipped(StepCreateConversation, "no conversation plugin enabled"), nil
			}
			var conversation *domain.Conversation
			err = s.rt.call(ctx, plugin.KindConversation, "create_conversation", func(ctx context.Context) error {
				var callErr error
				if conversation, callErr = provider.CreateConversation(ctx, c, target); callErr == nil && conversation == nil {
					callErr = errEmptyHandle
				}
				return callErr
			})
			if err != nil {
				return StepResult{}, err
			}
			if err := s.resources.CreateConversation(ctx, c.ID, conversation); err != nil {
				return StepResult{}, fmt.Errorf("persist conversation: %w", err)
			}
			s.rt.audit.Record(ctx, c.ID, SourceCore, "Conversation added to case")
			return committed(StepCreateConversation), nil
		})
	if err != nil {
		logger.Error("create case conversation", zap.Error(err))
		s.rt.audit.Record(ctx, caseID, SourceCore, failureReason("Creation of case conversation failed.", err))
		return append(results, bestEffortFailed(StepCreateConversation, err))
	}
	results = append(results, created)

	for _, email := range direct {
		_, err := s.participants.AddOrReactivate(ctx, AddParticipantInput{
			Email:             email,
			CaseID:            caseID,
			Role:              domain.ParticipantRoleParticipant,
			AddToConversation: false,
		})
		if err != nil {
			logger.Error("add case participants", zap.Error(err))
			s.rt.audit.Record(ctx, caseID, SourceCore, failureReason("Adding participants to case failed.", err))
			return append(results, bestEffortFailed(StepAddParticipants, err))
		}
	}
	results = append(results, committed(StepAddParticipants))

	c, err := s.rt.load(ctx, caseID)
	if err != nil {
		logger.Error("reload case", zap.Error(err))
		return append(results, bestEffortFailed(StepConversationMembers, err))
	}
	pushed := s.participants.AddToConversation(ctx, c, uniqueEmails(direct, []string{c.AssigneeEmail()}))
	if pushed.Committed() {
		s.rt.audit.Record(ctx, caseID, SourceCore, "Case participants added to conversation.")
	}
	return append(results, pushed)
}

// Teardown deletes the ticket, every group and the storage of a case. Each
// deletion is attempted regardless of earlier failures; a handle is cleared
// only once its resource is deleted.
func (s *ProvisioningService) Teardown(ctx context.Context, caseID string) (Report, error) {
	var report Report
	c, err := s.rt.load(ctx, caseID)
	if err != nil {
		return report, err
	}

	var errs []error
	record := func(result StepResult, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		report.Add(result)
	}

	if c.Ticket != nil {
		ticket := *c.Ticket
		resolve := func(ctx context.Context) (plugin.Plugin, bool, error) {
			return s.rt.registry.Ticket(ctx, c.Project.ID)
		}
		remove := func(ctx context.Context, p plugin.Plugin) error {
			return p.(plugin.TicketProvider).DeleteTicket(ctx, ticket)
		}
		record(s.deleteResource(ctx, c, StepDeleteTicket, "case ticket", ticket.ID,
			plugin.KindTicket, "delete_ticket", resolve, remove))
	}
	for _, group := range c.Groups {
		resolve := func(ctx context.Context) (plugin.Plugin, bool, error) {
			return s.rt.registry.Group(ctx, c.Project.ID)
		}
		remove := func(ctx context.Context, p plugin.Plugin) error {
			return p.(plugin.GroupProvider).DeleteGroup(ctx, group)
		}
		label := fmt.Sprintf("%s group %s", group.Type, group.Email)
		record(s.deleteResource(ctx, c, StepDeleteGroup, label, group.ID,
			plugin.KindGroup, "delete_group", resolve, remove))
	}
	if c.Storage != nil {
		storage := *c.Storage
		resolve := func(ctx context.Context) (plugin.Plugin, bool, error) {
			return s.rt.registry.Storage(ctx, c.Project.ID)
		}
		remove := func(ctx context.Context, p plugin.Plugin) error {
			return p.(plugin.StorageProvider).DeleteStorage(ctx, storage)
		}
		record(s.deleteResource(ctx, c, StepDeleteStorage, "case storage folder", storage.ID,
			plugin.KindStorage, "delete_storage", resolve, remove))
	}
	return report, errors.Join(errs...)
}

func (s *ProvisioningService) deleteResource(
	ctx context.Context,
	c *domain.Case,
	step, label, handleID string,
	kind plugin.Kind,
	operation string,
	resolve func(context.Context) (plugin.Plugin, bool, error),
	remove func(context.Context, plugin.Plugin) error,
) (StepResult, error) {
	provider, ok, err := resolve(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("delete %s: %w", label, err)
	}
	if !ok {
		s.rt.caseLogger(c.ID).Warn("resource not deleted, no plugin enabled", zap.String("kind", string(kind)))
		return skipped(step, fmt.Sprintf("no %s plugin enabled", kind)), nil
	}
	err = s.rt.call(ctx, kind, operation, func(ctx context.Context) error { return remove(ctx, provider) })
	if err != nil {
		s.rt.audit.Record(ctx, c.ID, SourceCore, failureReason(fmt.Sprintf("Deletion of %s failed.", label), err))
		return StepResult{}, err
	}
	if err := s.resources.Delete(ctx, handleID); err != nil && !apperrors.IsNotFound(err) {
		return StepResult{}, fmt.Errorf("clear %s handle: %w", label, err)
	}
	s.rt.audit.Record(ctx, c.ID, provider.Title(), fmt.Sprintf("The %s has been deleted", label))
	return committed(step), nil
}
