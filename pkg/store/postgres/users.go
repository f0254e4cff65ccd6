package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type userRepo struct{ pool *pgxpool.Pool }

func (r userRepo) Get(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, display_name, password_hash, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "user", id)
	}
	return &u, nil
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	var u store.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, display_name, password_hash, created_at FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "user", email)
	}
	return &u, nil
}

func (r userRepo) Create(ctx context.Context, u *store.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("create user", err)
	}
	return nil
}

func (r userRepo) Memberships(ctx context.Context, userID string) ([]store.Membership, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, organization_id, role FROM memberships WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, apperr.Internal("list memberships", err)
	}
	defer rows.Close()

	var out []store.Membership
	for rows.Next() {
		var m store.Membership
		if err := rows.Scan(&m.UserID, &m.OrganizationID, &m.Role); err != nil {
			return nil, apperr.Internal("scan membership", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
