package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-service/internal/domain"
)

// CaseRepository encapsulates case persistence.
type CaseRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	// UpdateLifecycle writes status and lifecycle timestamps in one statement.
	UpdateLifecycle(ctx context.Context, c *domain.Case) error
	SetRoleHolder(ctx context.Context, caseID string, role domain.ParticipantRoleType, participantID string) error
	LinkIncident(ctx context.Context, caseID, incidentID string) error
}

type caseRepository struct {
	pool         *pgxpool.Pool
	resources    *resourceRepository
	participants *participantRepository
}

// NewCaseRepository instantiates repository.
func NewCaseRepository(pool *pgxpool.Pool) CaseRepository {
	return &caseRepository{
		pool:         pool,
		resources:    &resourceRepository{pool: pool},
		participants: &participantRepository{pool: pool},
	}
}

func (r *caseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	const query = `
        SELECT c.id, c.name, c.title, c.description, c.project_id, c.project_name, c.status, c.visibility,
               c.assignee_id, c.reporter_id, c.triage_at, c.escalated_at, c.closed_at, c.created_at, c.updated_at,
               ct.id, ct.name, ct.template_resource_id, ct.template_resource_type, ct.template_weblink,
               ct.oncall_service_id, ct.oncall_service_name, ct.oncall_service_external_id,
               it.id, it.name, it.project_id, it.project_name,
               cp.id, cp.name, cp.page_assignee
        FROM cases c
        JOIN case_types ct ON ct.id = c.case_type_id
        LEFT JOIN incident_types it ON it.id = ct.incident_type_id
        JOIN case_priorities cp ON cp.id = c.case_priority_id
        WHERE c.id=$1`

	var (
		c                                         domain.Case
		assigneeID, reporterID                    *string
		templateID, templateType, templateLink    *string
		serviceID, serviceName, serviceExternalID *string
		incidentTypeID, incidentTypeName          *string
		incidentProjectID, incidentProjectName    *string
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Title, &c.Description, &c.Project.ID, &c.Project.Name, &c.Status, &c.Visibility,
		&assigneeID, &reporterID, &c.TriageAt, &c.EscalatedAt, &c.ClosedAt, &c.CreatedAt, &c.UpdatedAt,
		&c.CaseType.ID, &c.CaseType.Name, &templateID, &templateType, &templateLink,
		&serviceID, &serviceName, &serviceExternalID,
		&incidentTypeID, &incidentTypeName, &incidentProjectID, &incidentProjectName,
		&c.CasePriority.ID, &c.CasePriority.Name, &c.CasePriority.PageAssignee,
	); err != nil {
		return nil, err
	}

	if templateID != nil {
		c.CaseType.TemplateDocument = &domain.Document{
			Resource: domain.Resource{ResourceID: *templateID, ResourceType: deref(templateType), Weblink: deref(templateLink)},
			Type:     domain.DocumentTypeTemplate,
		}
	}
	if serviceExternalID != nil && *serviceExternalID != "" {
		c.CaseType.OncallService = &domain.Service{ID: deref(serviceID), Name: deref(serviceName), ExternalID: *serviceExternalID}
	}
	if incidentTypeID != nil {
		c.CaseType.IncidentType = &domain.IncidentType{
			ID:      *incidentTypeID,
			Name:    deref(incidentTypeName),
			Project: domain.Project{ID: deref(incidentProjectID), Name: deref(incidentProjectName)},
		}
	}

	if err := r.resources.loadInto(ctx, &c); err != nil {
		return nil, err
	}
	var err error
	if assigneeID != nil {
		if c.Assignee, err = r.participants.GetByID(ctx, *assigneeID); err != nil {
			return nil, err
		}
	}
	if reporterID != nil {
		if c.Reporter, err = r.participants.GetByID(ctx, *reporterID); err != nil {
			return nil, err
		}
	}
	if c.Incidents, err = r.listIncidents(ctx, c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *caseRepository) listIncidents(ctx context.Context, caseID string) ([]domain.IncidentRef, error) {
	const query = `
        SELECT i.id, i.name FROM case_incidents ci
        JOIN incidents i ON i.id = ci.incident_id
        WHERE ci.case_id=$1 ORDER BY ci.linked_at ASC`
	rows, err := r.pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.IncidentRef
	for rows.Next() {
		var ref domain.IncidentRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		result = append(result, ref)
	}
	return result, rows.Err()
}

func (r *caseRepository) UpdateLifecycle(ctx context.Context, c *domain.Case) error {
	const query = `
        UPDATE cases SET status=$1, triage_at=$2, escalated_at=$3, closed_at=$4, updated_at=NOW()
        WHERE id=$5
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query, c.Status, c.TriageAt, c.EscalatedAt, c.ClosedAt, c.ID).Scan(&c.UpdatedAt)
	return err
}

func (r *caseRepository) SetRoleHolder(ctx context.Context, caseID string, role domain.ParticipantRoleType, participantID string) error {
	var query string
	switch role {
	case domain.ParticipantRoleAssignee:
		query = `UPDATE cases SET assignee_id=$1, updated_at=NOW() WHERE id=$2`
	case domain.ParticipantRoleReporter:
		query = `UPDATE cases SET reporter_id=$1, updated_at=NOW() WHERE id=$2`
	default:
		return nil
	}
	cmd, err := r.pool.Exec(ctx, query, participantID, caseID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *caseRepository) LinkIncident(ctx context.Context, caseID, incidentID string) error {
	const query = `
        INSERT INTO case_incidents (case_id, incident_id) VALUES ($1,$2)
        ON CONFLICT (case_id, incident_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, caseID, incidentID)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
