package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/store"
)

type organizationRepo struct{ pool *pgxpool.Pool }

func (r organizationRepo) Get(ctx context.Context, id string) (*store.Organization, error) {
	var o store.Organization
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "organization", id)
	}
	return &o, nil
}
