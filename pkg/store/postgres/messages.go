package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type messageRepo struct{ pool *pgxpool.Pool }

func (r messageRepo) Create(ctx context.Context, m *store.Message) error {
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return apperr.Internal("marshal tool calls", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, role, content, tool_calls, tokens_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SessionID, m.Role, m.Content, toolCalls, m.TokensUsed, m.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("create message", err)
	}
	return nil
}

func (r messageRepo) ListBySession(ctx context.Context, sessionID string) ([]*store.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, role, content, tool_calls, tokens_used, created_at
		 FROM messages WHERE session_id = $1 ORDER BY created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		var m store.Message
		var toolCalls []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCalls, &m.TokensUsed, &m.CreatedAt); err != nil {
			return nil, apperr.Internal("scan message", err)
		}
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return nil, apperr.Internal("unmarshal tool calls", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
