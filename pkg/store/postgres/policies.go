package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type policyRepo struct{ pool *pgxpool.Pool }

const policyColumns = `id, organization_id, name, allowed_command_patterns, denied_command_patterns, require_approval, max_concurrent_commands, is_enabled, created_at`

func scanPolicy(row interface{ Scan(dest ...any) error }) (*store.Policy, error) {
	var p store.Policy
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.AllowedCommandPatterns, &p.DeniedCommandPatterns,
		&p.RequireApproval, &p.MaxConcurrentCommands, &p.IsEnabled, &p.CreatedAt)
	return &p, err
}

func (r policyRepo) Get(ctx context.Context, organizationID, id string) (*store.Policy, error) {
	p, err := scanPolicy(r.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = $1 AND organization_id = $2`, id, organizationID))
	if err != nil {
		return nil, notFoundOr(err, "policy", id)
	}
	return p, nil
}

// ListEnabledForUser joins policy_assignments to find every enabled policy
// bound to userID, either globally (host_id IS NULL) or scoped to hostID.
func (r policyRepo) ListEnabledForUser(ctx context.Context, organizationID, userID, hostID string) ([]*store.Policy, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.organization_id, p.name, p.allowed_command_patterns, p.denied_command_patterns,
		        p.require_approval, p.max_concurrent_commands, p.is_enabled, p.created_at
		 FROM policies p
		 JOIN policy_assignments pa ON pa.policy_id = p.id
		 WHERE p.organization_id = $1 AND pa.user_id = $2 AND p.is_enabled
		   AND (pa.host_id IS NULL OR pa.host_id = $3)`,
		organizationID, userID, hostID,
	)
	if err != nil {
		return nil, apperr.Internal("list enabled policies", err)
	}
	defer rows.Close()

	var out []*store.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, apperr.Internal("scan policy", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
