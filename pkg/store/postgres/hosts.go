package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type hostRepo struct{ pool *pgxpool.Pool }

func scanHost(row interface {
	Scan(dest ...any) error
}) (*store.Host, error) {
	var h store.Host
	err := row.Scan(&h.ID, &h.OrganizationID, &h.Hostname, &h.Port, &h.Username, &h.CredentialID,
		&h.Tags, &h.Environment, &h.Status, &h.AllowInsecureSSL, &h.LastHealthCheck, &h.CreatedAt)
	return &h, err
}

const hostColumns = `id, organization_id, hostname, port, username, credential_id, tags, environment, status, allow_insecure_ssl, last_health_check, created_at`

func (r hostRepo) Get(ctx context.Context, organizationID, id string) (*store.Host, error) {
	h, err := scanHost(r.pool.QueryRow(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE id = $1 AND organization_id = $2`, id, organizationID))
	if err != nil {
		return nil, notFoundOr(err, "host", id)
	}
	return h, nil
}

func (r hostRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*store.Host, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+hostColumns+` FROM hosts WHERE organization_id = $1 ORDER BY hostname`, organizationID)
	if err != nil {
		return nil, apperr.Internal("list hosts", err)
	}
	defer rows.Close()

	var out []*store.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, apperr.Internal("scan host", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r hostRepo) ListByIDs(ctx context.Context, organizationID string, ids []string) ([]*store.Host, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE organization_id = $1 AND id = ANY($2)`, organizationID, ids)
	if err != nil {
		return nil, apperr.Internal("list hosts by ids", err)
	}
	defer rows.Close()

	var out []*store.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, apperr.Internal("scan host", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r hostRepo) UpdateStatus(ctx context.Context, organizationID, id string, status store.HostStatus, checkedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE hosts SET status = $1, last_health_check = $2 WHERE id = $3 AND organization_id = $4`,
		status, checkedAt, id, organizationID,
	)
	if err != nil {
		return apperr.Internal("update host status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("host", id)
	}
	return nil
}
