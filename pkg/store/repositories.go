package store

import (
	"context"
	"time"
)

// Every method below is implicitly scoped by OrganizationID where the DTO
// carries one — spec.md §3's "every cross-entity read is scoped by
// organizationId" invariant is the caller's (and the concrete
// implementation's WHERE clause) responsibility; a lookup for an entity
// belonging to a different org must behave as NotFound, not Forbidden
// (spec.md §8 scenario 6).

// OrganizationRepository resolves tenant records.
type OrganizationRepository interface {
	Get(ctx context.Context, id string) (*Organization, error)
}

// UserRepository resolves identities and org membership.
type UserRepository interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	Memberships(ctx context.Context, userID string) ([]Membership, error)
}

// AccessTokenRepository manages long-lived API credentials.
type AccessTokenRepository interface {
	Create(ctx context.Context, t *AccessToken) error
	GetByHash(ctx context.Context, tokenHash string) (*AccessToken, error)
	Revoke(ctx context.Context, organizationID, id string) error
	TouchLastUsed(ctx context.Context, id string) error
}

// CredentialRepository stores named secrets. EncryptedValue must already be
// encrypted by the caller — this layer never sees plaintext.
type CredentialRepository interface {
	Get(ctx context.Context, organizationID, id string) (*Credential, error)
	Create(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, organizationID, id string) error
}

// HostRepository manages SSH endpoint records.
type HostRepository interface {
	Get(ctx context.Context, organizationID, id string) (*Host, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]*Host, error)
	ListByIDs(ctx context.Context, organizationID string, ids []string) ([]*Host, error)
	UpdateStatus(ctx context.Context, organizationID, id string, status HostStatus, checkedAt time.Time) error
}

// PolicyRepository manages allow/deny pattern sets.
type PolicyRepository interface {
	Get(ctx context.Context, organizationID, id string) (*Policy, error)
	ListEnabledForUser(ctx context.Context, organizationID, userID, hostID string) ([]*Policy, error)
}

// PolicyAssignmentRepository binds policies to users, optionally per host.
type PolicyAssignmentRepository interface {
	ListForUser(ctx context.Context, organizationID, userID string) ([]*PolicyAssignment, error)
}

// SessionRepository manages conversation containers.
type SessionRepository interface {
	Get(ctx context.Context, organizationID, id string) (*Session, error)
	Create(ctx context.Context, s *Session) error
	UpdateUsage(ctx context.Context, id string, totalTokens int64, totalCost float64, lastMessageAt time.Time) error
	UpdateTitle(ctx context.Context, id, title string) error
}

// MessageRepository manages per-session conversation turns.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListBySession(ctx context.Context, sessionID string) ([]*Message, error)
}

// CommandExecutionRepository stores immutable execution records.
type CommandExecutionRepository interface {
	Create(ctx context.Context, e *CommandExecution) error
}

// AuditLogRepository appends immutable decision records. Rows are never
// updated or deleted once inserted (spec.md §3 invariant).
type AuditLogRepository interface {
	Append(ctx context.Context, a *AuditLog) error
	Search(ctx context.Context, organizationID string, limit, offset int) ([]*AuditLog, error)
}

// HostNoteRepository manages the LLM-maintained per-host note. Upsert must
// be idempotent on (OrganizationID, HostID).
type HostNoteRepository interface {
	Get(ctx context.Context, organizationID, hostID string) (*HostNote, error)
	Upsert(ctx context.Context, n *HostNote) error
}

// PromptSettingsRepository manages per-(org,user) prompt customization.
type PromptSettingsRepository interface {
	Get(ctx context.Context, organizationID, userID string) (*PromptSettings, error)
}

// JobRepository manages triggered-workload definitions.
type JobRepository interface {
	Get(ctx context.Context, organizationID, id string) (*Job, error)
	// GetByID resolves a job by its opaque ID alone, without an
	// organization filter. Used by the webhook ingress path (spec.md §4.8),
	// which identifies the org-agnostic job by URL path segment and proves
	// tenancy via the webhook secret rather than an authenticated session.
	GetByID(ctx context.Context, id string) (*Job, error)
	ListEnabledCron(ctx context.Context) ([]*Job, error)
	UpdateLastRunAt(ctx context.Context, id string, lastRunAt time.Time) error
}

// JobRunRepository records job execution instances.
type JobRunRepository interface {
	Create(ctx context.Context, r *JobRun) error
	UpdateStatus(ctx context.Context, id string, status JobRunStatus, response *string) error
}

// McpServerRepository manages external MCP endpoint configuration.
type McpServerRepository interface {
	ListEnabledByOrganization(ctx context.Context, organizationID string) ([]*McpServer, error)
	Get(ctx context.Context, organizationID, id string) (*McpServer, error)
	GetByName(ctx context.Context, organizationID, name string) (*McpServer, error)
}

// Store aggregates every repository contract. Components depend on the
// narrow interface they need rather than *Store directly, but a concrete
// implementation (pkg/store/postgres.Client) implements all of them at once.
type Store interface {
	Organizations() OrganizationRepository
	Users() UserRepository
	AccessTokens() AccessTokenRepository
	Credentials() CredentialRepository
	Hosts() HostRepository
	Policies() PolicyRepository
	PolicyAssignments() PolicyAssignmentRepository
	Sessions() SessionRepository
	Messages() MessageRepository
	CommandExecutions() CommandExecutionRepository
	AuditLogs() AuditLogRepository
	HostNotes() HostNoteRepository
	PromptSettings() PromptSettingsRepository
	Jobs() JobRepository
	JobRuns() JobRunRepository
	McpServers() McpServerRepository
}
