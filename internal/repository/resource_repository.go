package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-service/internal/domain"
)

// ResourceRepository stores the handles of a case's external resources.
type ResourceRepository interface {
	CreateTicket(ctx context.Context, caseID string, ticket *domain.Ticket) error
	CreateConversation(ctx context.Context, caseID string, conversation *domain.Conversation) error
	CreateGroup(ctx context.Context, caseID string, group *domain.Group) error
	CreateStorage(ctx context.Context, caseID string, storage *domain.Storage) error
	CreateDocument(ctx context.Context, caseID string, document *domain.Document) error
	Delete(ctx context.Context, id string) error
}

type resourceRepository struct {
	pool *pgxpool.Pool
}

// NewResourceRepository builds repository.
func NewResourceRepository(pool *pgxpool.Pool) ResourceRepository {
	return &resourceRepository{pool: pool}
}

type resourceRow struct {
	kind         domain.ResourceKind
	resource     *domain.Resource
	name         string
	email        string
	channelID    string
	threadID     string
	groupType    domain.GroupType
	documentType domain.DocumentType
}

func (r *resourceRepository) insert(ctx context.Context, caseID string, row resourceRow) error {
	const query = `
        INSERT INTO case_resources (case_id, kind, resource_id, resource_type, weblink, name, email, channel_id, thread_id, group_type, document_type)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		caseID,
		row.kind,
		row.resource.ResourceID,
		row.resource.ResourceType,
		row.resource.Weblink,
		row.name,
		row.email,
		row.channelID,
		row.threadID,
		row.groupType,
		row.documentType,
	).Scan(&row.resource.ID)
}

func (r *resourceRepository) CreateTicket(ctx context.Context, caseID string, ticket *domain.Ticket) error {
	return r.insert(ctx, caseID, resourceRow{kind: domain.ResourceKindTicket, resource: &ticket.Resource})
}

func (r *resourceRepository) CreateConversation(ctx context.Context, caseID string, conversation *domain.Conversation) error {
	return r.insert(ctx, caseID, resourceRow{
		kind:      domain.ResourceKindConversation,
		resource:  &conversation.Resource,
		channelID: conversation.ChannelID,
		threadID:  conversation.ThreadID,
	})
}

func (r *resourceRepository) CreateGroup(ctx context.Context, caseID string, group *domain.Group) error {
	return r.insert(ctx, caseID, resourceRow{
		kind:      domain.ResourceKindGroup,
		resource:  &group.Resource,
		name:      group.Name,
		email:     group.Email,
		groupType: group.Type,
	})
}

func (r *resourceRepository) CreateStorage(ctx context.Context, caseID string, storage *domain.Storage) error {
	return r.insert(ctx, caseID, resourceRow{kind: domain.ResourceKindStorage, resource: &storage.Resource})
}

func (r *resourceRepository) CreateDocument(ctx context.Context, caseID string, document *domain.Document) error {
	return r.insert(ctx, caseID, resourceRow{
		kind:         domain.ResourceKindDocument,
		resource:     &document.Resource,
		name:         document.Name,
		documentType: document.Type,
	})
}

func (r *resourceRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM case_resources WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *resourceRepository) loadInto(ctx context.Context, c *domain.Case) error {
	const query = `
        SELECT id, kind, resource_id, resource_type, weblink, name, email, channel_id, thread_id, group_type, document_type
        FROM case_resources WHERE case_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			res          domain.Resource
			kind         domain.ResourceKind
			name, email  string
			channelID    string
			threadID     string
			groupType    domain.GroupType
			documentType domain.DocumentType
		)
		if err := rows.Scan(&res.ID, &kind, &res.ResourceID, &res.ResourceType, &res.Weblink,
			&name, &email, &channelID, &threadID, &groupType, &documentType); err != nil {
			return err
		}
		switch kind {
		case domain.ResourceKindTicket:
			c.Ticket = &domain.Ticket{Resource: res}
		case domain.ResourceKindConversation:
			c.Conversation = &domain.Conversation{Resource: res, ChannelID: channelID, ThreadID: threadID}
		case domain.ResourceKindGroup:
			c.Groups = append(c.Groups, domain.Group{Resource: res, Name: name, Email: email, Type: groupType})
		case domain.ResourceKindStorage:
			c.Storage = &domain.Storage{Resource: res}
		case domain.ResourceKindDocument:
			c.CaseDocument = &domain.Document{Resource: res, Name: name, Type: documentType}
		}
	}
	return rows.Err()
}
