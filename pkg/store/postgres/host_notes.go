package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type hostNoteRepo struct{ pool *pgxpool.Pool }

func (r hostNoteRepo) Get(ctx context.Context, organizationID, hostID string) (*store.HostNote, error) {
	var n store.HostNote
	err := r.pool.QueryRow(ctx,
		`SELECT organization_id, host_id, content, updated_at FROM host_notes WHERE organization_id = $1 AND host_id = $2`,
		organizationID, hostID,
	).Scan(&n.OrganizationID, &n.HostID, &n.Content, &n.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "host_note", hostID)
	}
	return &n, nil
}

// Upsert is idempotent on (organization_id, host_id): repeated LLM note
// writes for the same host replace the previous content instead of
// accumulating rows.
func (r hostNoteRepo) Upsert(ctx context.Context, n *store.HostNote) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO host_notes (organization_id, host_id, content, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (organization_id, host_id) DO UPDATE SET content = $3, updated_at = $4`,
		n.OrganizationID, n.HostID, n.Content, n.UpdatedAt,
	)
	if err != nil {
		return apperr.Internal("upsert host note", err)
	}
	return nil
}
