package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type commandExecutionRepo struct{ pool *pgxpool.Pool }

func (r commandExecutionRepo) Create(ctx context.Context, e *store.CommandExecution) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO command_executions (id, host_id, user_id, session_id, command, exit_code, stdout, stderr, duration_ms, was_dry_run, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.HostID, e.UserID, e.SessionID, e.Command, e.ExitCode, e.Stdout, e.Stderr, e.DurationMs, e.WasDryRun, e.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("create command execution", err)
	}
	return nil
}
