package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type jobRunRepo struct{ pool *pgxpool.Pool }

func (r jobRunRepo) Create(ctx context.Context, run *store.JobRun) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO job_runs (id, job_id, triggered_by, status, payload, response, session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.JobID, run.TriggeredBy, run.Status, run.Payload, run.Response, run.SessionID, run.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("create job run", err)
	}
	return nil
}

func (r jobRunRepo) UpdateStatus(ctx context.Context, id string, status store.JobRunStatus, response *string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE job_runs SET status = $1, response = $2 WHERE id = $3`, status, response, id)
	if err != nil {
		return apperr.Internal("update job run status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("job_run", id)
	}
	return nil
}
