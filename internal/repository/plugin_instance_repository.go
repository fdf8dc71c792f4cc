package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-service/internal/plugin"
)

// PluginInstanceRepository reads per-project plugin activations.
type PluginInstanceRepository struct {
	pool *pgxpool.Pool
}

// NewPluginInstanceRepository builds repository.
func NewPluginInstanceRepository(pool *pgxpool.Pool) *PluginInstanceRepository {
	return &PluginInstanceRepository{pool: pool}
}

var _ plugin.ActivationStore = (*PluginInstanceRepository)(nil)

// ActiveSlug returns the enabled plugin slug for (project, kind).
func (r *PluginInstanceRepository) ActiveSlug(ctx context.Context, projectID string, kind plugin.Kind) (string, bool, error) {
	const query = `
        SELECT slug FROM plugin_instances
        WHERE project_id=$1 AND kind=$2 AND enabled`
	var slug string
	err := r.pool.QueryRow(ctx, query, projectID, string(kind)).Scan(&slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return slug, true, nil
}

// Enable activates slug for (project, kind), replacing any previously enabled instance.
func (r *PluginInstanceRepository) Enable(ctx context.Context, projectID string, kind plugin.Kind, slug string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE plugin_instances SET enabled=FALSE WHERE project_id=$1 AND kind=$2 AND enabled`,
		projectID, string(kind)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO plugin_instances (project_id, kind, slug) VALUES ($1,$2,$3)`,
		projectID, string(kind), slug); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
