package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type accessTokenRepo struct{ pool *pgxpool.Pool }

func (r accessTokenRepo) Create(ctx context.Context, t *store.AccessToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO access_tokens (id, organization_id, user_id, name, token_hash, expires_at, is_active, last_used_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.OrganizationID, t.UserID, t.Name, t.TokenHash, t.ExpiresAt, t.IsActive, t.LastUsedAt, t.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("create access token", err)
	}
	return nil
}

func (r accessTokenRepo) GetByHash(ctx context.Context, tokenHash string) (*store.AccessToken, error) {
	var t store.AccessToken
	err := r.pool.QueryRow(ctx,
		`SELECT id, organization_id, user_id, name, token_hash, expires_at, is_active, last_used_at, created_at
		 FROM access_tokens WHERE token_hash = $1 AND is_active`, tokenHash,
	).Scan(&t.ID, &t.OrganizationID, &t.UserID, &t.Name, &t.TokenHash, &t.ExpiresAt, &t.IsActive, &t.LastUsedAt, &t.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "access_token", tokenHash)
	}
	return &t, nil
}

func (r accessTokenRepo) Revoke(ctx context.Context, organizationID, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE access_tokens SET is_active = false WHERE id = $1 AND organization_id = $2`, id, organizationID,
	)
	if err != nil {
		return apperr.Internal("revoke access token", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("access_token", id)
	}
	return nil
}

func (r accessTokenRepo) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE access_tokens SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return apperr.Internal("touch access token", err)
	}
	return nil
}
