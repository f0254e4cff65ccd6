package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type policyAssignmentRepo struct{ pool *pgxpool.Pool }

func (r policyAssignmentRepo) ListForUser(ctx context.Context, organizationID, userID string) ([]*store.PolicyAssignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, organization_id, policy_id, user_id, host_id, created_at
		 FROM policy_assignments WHERE organization_id = $1 AND user_id = $2`,
		organizationID, userID,
	)
	if err != nil {
		return nil, apperr.Internal("list policy assignments", err)
	}
	defer rows.Close()

	var out []*store.PolicyAssignment
	for rows.Next() {
		var a store.PolicyAssignment
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.PolicyID, &a.UserID, &a.HostID, &a.CreatedAt); err != nil {
			return nil, apperr.Internal("scan policy assignment", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
