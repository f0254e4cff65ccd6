// Package store defines the repository contracts InfraLLM's core is built
// against (spec.md §1: "the persistence layer is abstracted as repository
// contracts") plus the DTOs those contracts exchange.
//
// Field shapes are grounded on the teacher's ent schema definitions
// (codeready-toolchain/tarsy ent/schema/*.go) — same StorageKey-style id
// conventions, same optional/nillable-vs-zero-value choices — adapted from
// ent's per-entity generated-client pattern (unavailable without running
// `go generate`, see DESIGN.md) to hand-written Go structs.
package store

import "time"

// Role is a User's membership role within an Organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CredentialKind classifies a stored secret.
type CredentialKind string

const (
	CredentialPassword CredentialKind = "password"
	CredentialSSHKey   CredentialKind = "ssh_key"
	CredentialAPIToken CredentialKind = "api_token"
)

// HostStatus reflects last-observed reachability.
type HostStatus string

const (
	HostHealthy     HostStatus = "healthy"
	HostDegraded    HostStatus = "degraded"
	HostUnreachable HostStatus = "unreachable"
	HostUnknown     HostStatus = "unknown"
)

// AuditEventType enumerates the append-only audit event kinds.
type AuditEventType string

const (
	AuditCommandExecuted AuditEventType = "command_executed"
	AuditCommandDenied   AuditEventType = "command_denied"
	AuditHostAdded       AuditEventType = "host_added"
	AuditHostRemoved     AuditEventType = "host_removed"
	AuditPolicyChanged   AuditEventType = "policy_changed"
	AuditSessionStarted  AuditEventType = "session_started"
	AuditSessionEnded    AuditEventType = "session_ended"
	AuditCredentialAdded AuditEventType = "credential_added"
	AuditCredentialRemoved AuditEventType = "credential_removed"
)

// MessageRole distinguishes chat message authorship.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// TriggerType distinguishes what caused a Job to fire.
type TriggerType string

const (
	TriggerCron    TriggerType = "cron"
	TriggerWebhook TriggerType = "webhook"
)

// TriggeredBy distinguishes what caused a JobRun.
type TriggeredBy string

const (
	TriggeredByCron    TriggeredBy = "cron"
	TriggeredByWebhook TriggeredBy = "webhook"
	TriggeredByManual  TriggeredBy = "manual"
)

// JobRunStatus tracks a JobRun's lifecycle.
type JobRunStatus string

const (
	JobRunReceived  JobRunStatus = "received"
	JobRunCompleted JobRunStatus = "completed"
	JobRunFailed    JobRunStatus = "failed"
)

// McpTransportType distinguishes HTTP from subprocess MCP servers.
type McpTransportType string

const (
	McpTransportHTTP  McpTransportType = "http"
	McpTransportStdio McpTransportType = "stdio"
)

// Organization is the tenant boundary. Every other entity carries an
// OrganizationID; all queries must filter on it.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is an identity, potentially a member of several organizations.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Membership binds a User to an Organization with a Role.
type Membership struct {
	UserID         string
	OrganizationID string
	Role           Role
}

// AccessToken is a long-lived API credential. TokenHash is SHA-256 of the
// raw token; the raw value is only ever returned at creation time and is
// never persisted or logged (spec.md §3 invariants).
type AccessToken struct {
	ID             string
	OrganizationID string
	UserID         string
	Name           string
	TokenHash      string
	ExpiresAt      *time.Time
	IsActive       bool
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// Credential is a named secret. EncryptedValue is opaque to every caller
// except pkg/crypto; it is either an ENC:v1: envelope or legacy plaintext.
type Credential struct {
	ID             string
	OrganizationID string
	Name           string
	Kind           CredentialKind
	EncryptedValue string
	CreatedAt      time.Time
}

// Host is an SSH endpoint.
type Host struct {
	ID               string
	OrganizationID   string
	Hostname         string
	Port             int
	Username         string
	CredentialID     *string
	Tags             []string
	Environment      string
	Status           HostStatus
	AllowInsecureSSL bool
	LastHealthCheck  *time.Time
	CreatedAt        time.Time
}

// Policy holds ordered allow/deny regex pattern lists plus concurrency/approval settings.
type Policy struct {
	ID                     string
	OrganizationID         string
	Name                   string
	AllowedCommandPatterns []string
	DeniedCommandPatterns  []string
	RequireApproval        bool
	MaxConcurrentCommands  int
	IsEnabled              bool
	CreatedAt              time.Time
}

// PolicyAssignment binds a Policy to a User, optionally scoped to one Host.
// HostID == nil means global for that user.
type PolicyAssignment struct {
	ID             string
	OrganizationID string
	PolicyID       string
	UserID         string
	HostID         *string
	CreatedAt      time.Time
}

// Session is a conversation container.
type Session struct {
	ID              string
	OrganizationID  string
	UserID          string
	HostIDs         []string
	Title           string
	IsJobRunSession bool
	TotalTokens     int64
	TotalCost       float64
	LastMessageAt   *time.Time
	CreatedAt       time.Time
}

// ToolCallTrace is the opaque serialized record of one tool invocation
// within a Message, used to reconstruct a conversation turn for the
// provider's message format.
type ToolCallTrace struct {
	CallID    string
	Name      string
	Arguments string
	Result    string
	IsError   bool
}

// Message is one turn in a Session's conversation.
type Message struct {
	ID         string
	SessionID  string
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCallTrace
	TokensUsed int64
	CreatedAt  time.Time
}

// CommandExecution is an immutable record of one shell execution.
type CommandExecution struct {
	ID          string
	HostID      string
	UserID      string
	SessionID   *string
	Command     string
	ExitCode    int
	Stdout      string
	Stderr      string
	DurationMs  int64
	WasDryRun   bool
	CreatedAt   time.Time
}

// AuditLog is an append-only record of a policy/execution/administrative decision.
type AuditLog struct {
	ID             string
	OrganizationID string
	EventType      AuditEventType
	UserID         *string
	HostID         *string
	WasAllowed     *bool
	DenialReason   string
	LLMReasoning   string
	MetadataJSON   string
	CreatedAt      time.Time
}

// HostNote is the LLM-maintained free-text knowledge attached to a host.
// Unique per (OrganizationID, HostID), enforced by upsert.
type HostNote struct {
	OrganizationID string
	HostID         string
	Content        string
	UpdatedAt      time.Time
}

// PromptSettings holds a user's custom prompt configuration within an org.
type PromptSettings struct {
	OrganizationID         string
	UserID                 string
	SystemPrompt           string
	PersonalizationPrompt  string
	DefaultModel           string
}

// Job is a webhook- or cron-triggered workload definition.
type Job struct {
	ID             string
	OrganizationID string
	Name           string
	TriggerType    TriggerType
	CronSchedule   string
	WebhookSecret  string
	Prompt         string
	AutoRunLLM     bool
	IsEnabled      bool
	LastRunAt      *time.Time
	CreatedAt      time.Time
}

// JobRun is one execution instance of a Job.
type JobRun struct {
	ID          string
	JobID       string
	TriggeredBy TriggeredBy
	Status      JobRunStatus
	Payload     string
	Response    *string
	SessionID   *string
	CreatedAt   time.Time
}

// McpServer is an external MCP endpoint configuration.
type McpServer struct {
	ID              string
	OrganizationID  string
	Name            string
	TransportType   McpTransportType
	IsEnabled       bool

	// HTTP transport fields.
	BaseURL           string
	APIKeyEncrypted   string

	// Stdio transport fields.
	Command            string
	Arguments           []string
	WorkingDirectory    string
	EnvironmentVariables map[string]string

	CreatedAt time.Time
}
