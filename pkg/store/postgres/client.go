// Package postgres is the concrete store.Store implementation backed by
// PostgreSQL, grounded on the teacher's pkg/database.Client: same
// Config/NewClient/Health shape and the same golang-migrate-with-embedded-
// migrations startup sequence, adapted from ent's generated driver to a bare
// jackc/pgx/v5 pool since this repository hand-writes its repository
// contracts instead of generating them (see DESIGN.md).
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver for database/sql, migrate-only

	"github.com/infrallm/infrallm/pkg/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Client is the Postgres-backed store.Store. It satisfies every repository
// contract in pkg/store/repositories.go via the *Client receiver methods
// defined across this package's other files.
type Client struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Client)(nil)

// NewClient opens a connection pool, runs pending migrations, and returns a
// ready-to-use Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := runMigrations(cfg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// runMigrations applies embedded migrations via a throwaway database/sql
// connection, matching the teacher's "files embedded into the binary,
// auto-applied on startup" migration workflow.
func runMigrations(cfg Config) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found, binary may be built incorrectly")
	}

	db, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// Organizations returns the organization repository.
func (c *Client) Organizations() store.OrganizationRepository { return organizationRepo{c.pool} }

// Users returns the user repository.
func (c *Client) Users() store.UserRepository { return userRepo{c.pool} }

// AccessTokens returns the access token repository.
func (c *Client) AccessTokens() store.AccessTokenRepository { return accessTokenRepo{c.pool} }

// Credentials returns the credential repository.
func (c *Client) Credentials() store.CredentialRepository { return credentialRepo{c.pool} }

// Hosts returns the host repository.
func (c *Client) Hosts() store.HostRepository { return hostRepo{c.pool} }

// Policies returns the policy repository.
func (c *Client) Policies() store.PolicyRepository { return policyRepo{c.pool} }

// PolicyAssignments returns the policy assignment repository.
func (c *Client) PolicyAssignments() store.PolicyAssignmentRepository {
	return policyAssignmentRepo{c.pool}
}

// Sessions returns the session repository.
func (c *Client) Sessions() store.SessionRepository { return sessionRepo{c.pool} }

// Messages returns the message repository.
func (c *Client) Messages() store.MessageRepository { return messageRepo{c.pool} }

// CommandExecutions returns the command execution repository.
func (c *Client) CommandExecutions() store.CommandExecutionRepository {
	return commandExecutionRepo{c.pool}
}

// AuditLogs returns the audit log repository.
func (c *Client) AuditLogs() store.AuditLogRepository { return auditLogRepo{c.pool} }

// HostNotes returns the host note repository.
func (c *Client) HostNotes() store.HostNoteRepository { return hostNoteRepo{c.pool} }

// PromptSettings returns the prompt settings repository.
func (c *Client) PromptSettings() store.PromptSettingsRepository { return promptSettingsRepo{c.pool} }

// Jobs returns the job repository.
func (c *Client) Jobs() store.JobRepository { return jobRepo{c.pool} }

// JobRuns returns the job run repository.
func (c *Client) JobRuns() store.JobRunRepository { return jobRunRepo{c.pool} }

// McpServers returns the MCP server repository.
func (c *Client) McpServers() store.McpServerRepository { return mcpServerRepo{c.pool} }
