package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-service/internal/domain"
)

// IncidentRepository persists incidents created from escalated cases.
type IncidentRepository interface {
	Create(ctx context.Context, in domain.IncidentCreate) (*domain.Incident, error)
	GetByID(ctx context.Context, id string) (*domain.Incident, error)
	SetTacticalGroup(ctx context.Context, incidentID string, group *domain.Group) error
}

type incidentRepository struct {
	pool *pgxpool.Pool
}

// NewIncidentRepository builds repository.
func NewIncidentRepository(pool *pgxpool.Pool) IncidentRepository {
	return &incidentRepository{pool: pool}
}

func (r *incidentRepository) Create(ctx context.Context, in domain.IncidentCreate) (*domain.Incident, error) {
	const query = `
        INSERT INTO incidents (id, name, title, description, status, incident_type_id, priority, project_id, project_name, reporter_email)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at`
	incident := &domain.Incident{
		ID:            uuid.NewString(),
		Title:         in.Title,
		Description:   in.Description,
		Status:        in.Status,
		IncidentType:  in.IncidentType,
		Priority:      in.Priority,
		Project:       in.Project,
		ReporterEmail: domain.NormalizeEmail(in.ReporterEmail),
	}
	if incident.Status == "" {
		incident.Status = domain.IncidentStatusActive
	}
	incident.Name = incidentName(in.Project, incident.ID)
	if err := r.pool.QueryRow(ctx, query,
		incident.ID,
		incident.Name,
		incident.Title,
		incident.Description,
		incident.Status,
		incident.IncidentType.ID,
		incident.Priority,
		incident.Project.ID,
		incident.Project.Name,
		incident.ReporterEmail,
	).Scan(&incident.CreatedAt); err != nil {
		return nil, err
	}
	return incident, nil
}

func (r *incidentRepository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	const query = `
        SELECT i.id, i.name, i.title, i.description, i.status, i.priority, i.project_id, i.project_name,
               i.reporter_email, i.tactical_group_resource_id, i.tactical_group_name, i.tactical_group_email, i.created_at,
               it.id, it.name
        FROM incidents i
        JOIN incident_types it ON it.id = i.incident_type_id
        WHERE i.id=$1`
	var (
		incident                       domain.Incident
		groupID, groupName, groupEmail *string
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&incident.ID, &incident.Name, &incident.Title, &incident.Description, &incident.Status, &incident.Priority,
		&incident.Project.ID, &incident.Project.Name, &incident.ReporterEmail,
		&groupID, &groupName, &groupEmail, &incident.CreatedAt,
		&incident.IncidentType.ID, &incident.IncidentType.Name,
	); err != nil {
		return nil, err
	}
	incident.IncidentType.Project = incident.Project
	if groupID != nil {
		incident.TacticalGroup = &domain.Group{
			Resource: domain.Resource{ResourceID: *groupID},
			Name:     deref(groupName),
			Email:    deref(groupEmail),
			Type:     domain.GroupTypeTactical,
		}
	}
	return &incident, nil
}

func (r *incidentRepository) SetTacticalGroup(ctx context.Context, incidentID string, group *domain.Group) error {
	const query = `
        UPDATE incidents SET tactical_group_resource_id=$1, tactical_group_name=$2, tactical_group_email=$3
        WHERE id=$4`
	_, err := r.pool.Exec(ctx, query, group.ResourceID, group.Name, group.Email, incidentID)
	return err
}

// incidentName derives a short, human readable name such as "payments-1a2b3c4d".
func incidentName(project domain.Project, id string) string {
	prefix := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(project.Name), " ", "-"))
	if prefix == "" {
		prefix = "incident"
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(id, "-", "")[:8])
}
