package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

type mcpServerRepo struct{ pool *pgxpool.Pool }

const mcpServerColumns = `id, organization_id, name, transport_type, is_enabled, base_url, api_key_encrypted, command, arguments, working_directory, environment_variables, created_at`

func scanMcpServer(row interface{ Scan(dest ...any) error }) (*store.McpServer, error) {
	var m store.McpServer
	var env []byte
	err := row.Scan(&m.ID, &m.OrganizationID, &m.Name, &m.TransportType, &m.IsEnabled, &m.BaseURL, &m.APIKeyEncrypted,
		&m.Command, &m.Arguments, &m.WorkingDirectory, &env, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(env) > 0 {
		if jsonErr := json.Unmarshal(env, &m.EnvironmentVariables); jsonErr != nil {
			return nil, jsonErr
		}
	}
	return &m, nil
}

func (r mcpServerRepo) ListEnabledByOrganization(ctx context.Context, organizationID string) ([]*store.McpServer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+mcpServerColumns+` FROM mcp_servers WHERE organization_id = $1 AND is_enabled`, organizationID)
	if err != nil {
		return nil, apperr.Internal("list mcp servers", err)
	}
	defer rows.Close()

	var out []*store.McpServer
	for rows.Next() {
		m, err := scanMcpServer(rows)
		if err != nil {
			return nil, apperr.Internal("scan mcp server", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r mcpServerRepo) Get(ctx context.Context, organizationID, id string) (*store.McpServer, error) {
	m, err := scanMcpServer(r.pool.QueryRow(ctx,
		`SELECT `+mcpServerColumns+` FROM mcp_servers WHERE id = $1 AND organization_id = $2`, id, organizationID))
	if err != nil {
		return nil, notFoundOr(err, "mcp_server", id)
	}
	return m, nil
}

func (r mcpServerRepo) GetByName(ctx context.Context, organizationID, name string) (*store.McpServer, error) {
	m, err := scanMcpServer(r.pool.QueryRow(ctx,
		`SELECT `+mcpServerColumns+` FROM mcp_servers WHERE name = $1 AND organization_id = $2`, name, organizationID))
	if err != nil {
		return nil, notFoundOr(err, "mcp_server", name)
	}
	return m, nil
}
