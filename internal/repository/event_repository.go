package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-service/internal/domain"
)

// EventRepository stores audit entries.
type EventRepository interface {
	Create(ctx context.Context, event *domain.Event) error
	ListByCase(ctx context.Context, caseID string, limit, offset int) ([]domain.Event, error)
}

type eventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository builds repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{pool: pool}
}

func (r *eventRepository) Create(ctx context.Context, event *domain.Event) error {
	const query = `
        INSERT INTO case_events (case_id, source, description, started_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		event.CaseID,
		event.Source,
		event.Description,
		event.StartedAt,
	).Scan(&event.ID, &event.CreatedAt)
}

func (r *eventRepository) ListByCase(ctx context.Context, caseID string, limit, offset int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT id, case_id, source, description, started_at, created_at
        FROM case_events WHERE case_id=$1 ORDER BY started_at ASC
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, caseID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		var event domain.Event
		if err := rows.Scan(
			&event.ID,
			&event.CaseID,
			&event.Source,
			&event.Description,
			&event.StartedAt,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}
