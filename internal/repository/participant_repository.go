package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-service/internal/domain"
)

// ParticipantRepository stores case participants and their role assignments.
type ParticipantRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Participant, error)
	GetByCaseAndEmail(ctx context.Context, caseID, email string) (*domain.Participant, error)
	GetByCaseAndService(ctx context.Context, caseID, serviceID string) (*domain.Participant, error)
	// GetByCaseAndRole returns the participant actively holding role.
	GetByCaseAndRole(ctx context.Context, caseID string, role domain.ParticipantRoleType) (*domain.Participant, error)
	Create(ctx context.Context, participant *domain.Participant, role domain.ParticipantRoleType) error
	AddRole(ctx context.Context, participantID string, role domain.ParticipantRoleType) (*domain.ParticipantRole, error)
	RenounceRole(ctx context.Context, roleID string, at time.Time) error
	SetService(ctx context.Context, participantID, serviceID string) error
}

type participantRepository struct {
	pool *pgxpool.Pool
}

// NewParticipantRepository builds repository.
func NewParticipantRepository(pool *pgxpool.Pool) ParticipantRepository {
	return &participantRepository{pool: pool}
}

const participantColumns = `p.id, p.case_id, p.email, p.service_id, p.created_at`

func (r *participantRepository) GetByID(ctx context.Context, id string) (*domain.Participant, error) {
	return r.fetchSingle(ctx, `SELECT `+participantColumns+` FROM participants p WHERE p.id=$1`, id)
}

func (r *participantRepository) GetByCaseAndEmail(ctx context.Context, caseID, email string) (*domain.Participant, error) {
	return r.fetchSingle(ctx, `SELECT `+participantColumns+` FROM participants p WHERE p.case_id=$1 AND p.email=$2`,
		caseID, domain.NormalizeEmail(email))
}

func (r *participantRepository) GetByCaseAndService(ctx context.Context, caseID, serviceID string) (*domain.Participant, error) {
	return r.fetchSingle(ctx, `SELECT `+participantColumns+` FROM participants p WHERE p.case_id=$1 AND p.service_id=$2 LIMIT 1`,
		caseID, serviceID)
}

func (r *participantRepository) GetByCaseAndRole(ctx context.Context, caseID string, role domain.ParticipantRoleType) (*domain.Participant, error) {
	const query = `
        SELECT ` + participantColumns + ` FROM participants p
        JOIN participant_roles pr ON pr.participant_id = p.id
        WHERE p.case_id=$1 AND pr.role=$2 AND pr.renounced_at IS NULL
        ORDER BY pr.assumed_at DESC LIMIT 1`
	return r.fetchSingle(ctx, query, caseID, role)
}

func (r *participantRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Participant, error) {
	var p domain.Participant
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&p.ID, &p.CaseID, &p.Email, &p.ServiceID, &p.CreatedAt); err != nil {
		return nil, err
	}
	roles, err := r.listRoles(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Roles = roles
	return &p, nil
}

func (r *participantRepository) listRoles(ctx context.Context, participantID string) ([]domain.ParticipantRole, error) {
	const query = `
        SELECT id, role, assumed_at, renounced_at FROM participant_roles
        WHERE participant_id=$1 ORDER BY assumed_at ASC`
	rows, err := r.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ParticipantRole
	for rows.Next() {
		var role domain.ParticipantRole
		if err := rows.Scan(&role.ID, &role.Role, &role.AssumedAt, &role.RenouncedAt); err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

func (r *participantRepository) Create(ctx context.Context, participant *domain.Participant, role domain.ParticipantRoleType) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	participant.Email = domain.NormalizeEmail(participant.Email)
	const insertParticipant = `
        INSERT INTO participants (case_id, email, service_id) VALUES ($1,$2,$3)
        RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertParticipant, participant.CaseID, participant.Email, participant.ServiceID).
		Scan(&participant.ID, &participant.CreatedAt); err != nil {
		return err
	}
	assigned, err := insertRole(ctx, tx, participant.ID, role)
	if err != nil {
		return err
	}
	participant.Roles = []domain.ParticipantRole{*assigned}
	return tx.Commit(ctx)
}

func (r *participantRepository) AddRole(ctx context.Context, participantID string, role domain.ParticipantRoleType) (*domain.ParticipantRole, error) {
	return insertRole(ctx, r.pool, participantID, role)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertRole(ctx context.Context, q queryRower, participantID string, role domain.ParticipantRoleType) (*domain.ParticipantRole, error) {
	const query = `
        INSERT INTO participant_roles (participant_id, role) VALUES ($1,$2)
        RETURNING id, assumed_at`
	assigned := &domain.ParticipantRole{Role: role}
	if err := q.QueryRow(ctx, query, participantID, role).Scan(&assigned.ID, &assigned.AssumedAt); err != nil {
		return nil, err
	}
	return assigned, nil
}

func (r *participantRepository) RenounceRole(ctx context.Context, roleID string, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE participant_roles SET renounced_at=$1 WHERE id=$2 AND renounced_at IS NULL`, at, roleID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *participantRepository) SetService(ctx context.Context, participantID, serviceID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE participants SET service_id=$1 WHERE id=$2`, serviceID, participantID)
	return err
}
