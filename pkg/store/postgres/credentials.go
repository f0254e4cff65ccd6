package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type credentialRepo struct{ pool *pgxpool.Pool }

func (r credentialRepo) Get(ctx context.Context, organizationID, id string) (*store.Credential, error) {
	var c store.Credential
	err := r.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, kind, encrypted_value, created_at
		 FROM credentials WHERE id = $1 AND organization_id = $2`, id, organizationID,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Kind, &c.EncryptedValue, &c.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "credential", id)
	}
	return &c, nil
}

func (r credentialRepo) Create(ctx context.Context, c *store.Credential) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credentials (id, organization_id, name, kind, encrypted_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.OrganizationID, c.Name, c.Kind, c.EncryptedValue, c.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("create credential", err)
	}
	return nil
}

func (r credentialRepo) Delete(ctx context.Context, organizationID, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM credentials WHERE id = $1 AND organization_id = $2`, id, organizationID,
	)
	if err != nil {
		return apperr.Internal("delete credential", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("credential", id)
	}
	return nil
}
