package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type sessionRepo struct{ pool *pgxpool.Pool }

func (r sessionRepo) Get(ctx context.Context, organizationID, id string) (*store.Session, error) {
	var s store.Session
	err := r.pool.QueryRow(ctx,
		`SELECT id, organization_id, user_id, host_ids, title, is_job_run_session, total_tokens, total_cost, last_message_at, created_at
		 FROM sessions WHERE id = $1 AND organization_id = $2`, id, organizationID,
	).Scan(&s.ID, &s.OrganizationID, &s.UserID, &s.HostIDs, &s.Title, &s.IsJobRunSession, &s.TotalTokens, &s.TotalCost, &s.LastMessageAt, &s.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "session", id)
	}
	return &s, nil
}

func (r sessionRepo) Create(ctx context.Context, s *store.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, organization_id, user_id, host_ids, title, is_job_run_session, total_tokens, total_cost, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.OrganizationID, s.UserID, s.HostIDs, s.Title, s.IsJobRunSession, s.TotalTokens, s.TotalCost, s.LastMessageAt, s.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("create session", err)
	}
	return nil
}

func (r sessionRepo) UpdateUsage(ctx context.Context, id string, totalTokens int64, totalCost float64, lastMessageAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET total_tokens = $1, total_cost = $2, last_message_at = $3 WHERE id = $4`,
		totalTokens, totalCost, lastMessageAt, id,
	)
	if err != nil {
		return apperr.Internal("update session usage", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("session", id)
	}
	return nil
}

func (r sessionRepo) UpdateTitle(ctx context.Context, id, title string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET title = $1 WHERE id = $2`, title, id)
	if err != nil {
		return apperr.Internal("update session title", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("session", id)
	}
	return nil
}
