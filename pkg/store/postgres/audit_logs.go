package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type auditLogRepo struct{ pool *pgxpool.Pool }

func (r auditLogRepo) Append(ctx context.Context, a *store.AuditLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, organization_id, event_type, user_id, host_id, was_allowed, denial_reason, llm_reasoning, metadata_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.OrganizationID, a.EventType, a.UserID, a.HostID, a.WasAllowed, a.DenialReason, a.LLMReasoning, a.MetadataJSON, a.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("append audit log", err)
	}
	return nil
}

func (r auditLogRepo) Search(ctx context.Context, organizationID string, limit, offset int) ([]*store.AuditLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, organization_id, event_type, user_id, host_id, was_allowed, denial_reason, llm_reasoning, metadata_json, created_at
		 FROM audit_logs WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		organizationID, limit, offset,
	)
	if err != nil {
		return nil, apperr.Internal("search audit logs", err)
	}
	defer rows.Close()

	var out []*store.AuditLog
	for rows.Next() {
		var a store.AuditLog
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.EventType, &a.UserID, &a.HostID, &a.WasAllowed,
			&a.DenialReason, &a.LLMReasoning, &a.MetadataJSON, &a.CreatedAt); err != nil {
			return nil, apperr.Internal("scan audit log", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
