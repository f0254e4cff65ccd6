package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type jobRepo struct{ pool *pgxpool.Pool }

const jobColumns = `id, organization_id, name, trigger_type, cron_schedule, webhook_secret, prompt, auto_run_llm, is_enabled, last_run_at, created_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*store.Job, error) {
	var j store.Job
	err := row.Scan(&j.ID, &j.OrganizationID, &j.Name, &j.TriggerType, &j.CronSchedule, &j.WebhookSecret,
		&j.Prompt, &j.AutoRunLLM, &j.IsEnabled, &j.LastRunAt, &j.CreatedAt)
	return &j, err
}

func (r jobRepo) Get(ctx context.Context, organizationID, id string) (*store.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND organization_id = $2`, id, organizationID))
	if err != nil {
		return nil, notFoundOr(err, "job", id)
	}
	return j, nil
}

// GetByID resolves a job without an organization filter, for the webhook
// ingress path where tenancy is proven by the secret, not a session.
func (r jobRepo) GetByID(ctx context.Context, id string) (*store.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "job", id)
	}
	return j, nil
}

// ListEnabledCron returns every enabled cron-triggered job across all
// organizations, for the scheduler's poll loop to evaluate Next() against.
func (r jobRepo) ListEnabledCron(ctx context.Context) ([]*store.Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE trigger_type = 'cron' AND is_enabled`)
	if err != nil {
		return nil, apperr.Internal("list enabled cron jobs", err)
	}
	defer rows.Close()

	var out []*store.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Internal("scan job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateLastRunAt is written before the triggered work starts, acting as the
// dedup lock that keeps a minute-precision poll from double-firing a job.
func (r jobRepo) UpdateLastRunAt(ctx context.Context, id string, lastRunAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE jobs SET last_run_at = $1 WHERE id = $2`, lastRunAt, id)
	if err != nil {
		return apperr.Internal("update job last_run_at", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("job", id)
	}
	return nil
}
