// Package audit appends immutable decision/action records. Rows are never
// updated or deleted once written (spec.md §3 invariant); every write path
// below constructs a fresh store.AuditLog and calls Append exactly once.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/infrallm/infrallm/pkg/store"
)

// Logger appends audit records on behalf of every component that makes a
// policy, execution, or administrative decision.
type Logger struct {
	logs store.AuditLogRepository
}

// New constructs a Logger.
func New(logs store.AuditLogRepository) *Logger {
	return &Logger{logs: logs}
}

func boolPtr(b bool) *bool { return &b }

func marshalMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// CommandExecuted records a successful Execute call.
func (l *Logger) CommandExecuted(ctx context.Context, organizationID, userID, hostID string, meta map[string]any) error {
	return l.logs.Append(ctx, &store.AuditLog{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		EventType:      store.AuditCommandExecuted,
		UserID:         &userID,
		HostID:         &hostID,
		WasAllowed:     boolPtr(true),
		MetadataJSON:   marshalMeta(meta),
		CreatedAt:      time.Now(),
	})
}

// CommandDenied records a policy denial, including the reason and matched
// pattern so the audit trail is self-explanatory without joining back to
// the Policy row (which may later change).
func (l *Logger) CommandDenied(ctx context.Context, organizationID, userID, hostID, denialReason, matchedRule string) error {
	meta := marshalMeta(map[string]any{"matchedRule": matchedRule})
	return l.logs.Append(ctx, &store.AuditLog{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		EventType:      store.AuditCommandDenied,
		UserID:         &userID,
		HostID:         &hostID,
		WasAllowed:     boolPtr(false),
		DenialReason:   denialReason,
		MetadataJSON:   meta,
		CreatedAt:      time.Now(),
	})
}

// HostAdded records host creation.
func (l *Logger) HostAdded(ctx context.Context, organizationID, userID, hostID string) error {
	return l.logs.Append(ctx, &store.AuditLog{
		ID: uuid.NewString(), OrganizationID: organizationID, EventType: store.AuditHostAdded,
		UserID: &userID, HostID: &hostID, CreatedAt: time.Now(),
	})
}

// HostRemoved records host deletion.
func (l *Logger) HostRemoved(ctx context.Context, organizationID, userID, hostID string) error {
	return l.logs.Append(ctx, &store.AuditLog{
		ID: uuid.NewString(), OrganizationID: organizationID, EventType: store.AuditHostRemoved,
		UserID: &userID, HostID: &hostID, CreatedAt: time.Now(),
	})
}

// PolicyChanged records a policy create/update/delete.
func (l *Logger) PolicyChanged(ctx context.Context, organizationID, userID, policyID string) error {
	meta := marshalMeta(map[string]any{"policyId": policyID})
	return l.logs.Append(ctx, &store.AuditLog{
		ID: uuid.NewString(), OrganizationID: organizationID, EventType: store.AuditPolicyChanged,
		UserID: &userID, MetadataJSON: meta, CreatedAt: time.Now(),
	})
}

// SessionStarted records session creation.
func (l *Logger) SessionStarted(ctx context.Context, organizationID, userID, sessionID string) error {
	meta := marshalMeta(map[string]any{"sessionId": sessionID})
	return l.logs.Append(ctx, &store.AuditLog{
		ID: uuid.NewString(), OrganizationID: organizationID, EventType: store.AuditSessionStarted,
		UserID: &userID, MetadataJSON: meta, CreatedAt: time.Now(),
	})
}

// SessionEnded records session termination (explicit close or cancellation).
func (l *Logger) SessionEnded(ctx context.Context, organizationID, userID, sessionID string) error {
	meta := marshalMeta(map[string]any{"sessionId": sessionID})
	return l.logs.Append(ctx, &store.AuditLog{
		ID: uuid.NewString(), OrganizationID: organizationID, EventType: store.AuditSessionEnded,
		UserID: &userID, MetadataJSON: meta, CreatedAt: time.Now(),
	})
}

// CredentialAdded records credential creation. The credential value itself
// never appears in MetadataJSON.
func (l *Logger) CredentialAdded(ctx context.Context, organizationID, userID, credentialID string) error {
	meta := marshalMeta(map[string]any{"credentialId": credentialID})
	return l.logs.Append(ctx, &store.AuditLog{
		ID: uuid.NewString(), OrganizationID: organizationID, EventType: store.AuditCredentialAdded,
		UserID: &userID, MetadataJSON: meta, CreatedAt: time.Now(),
	})
}

// CredentialRemoved records credential deletion.
func (l *Logger) CredentialRemoved(ctx context.Context, organizationID, userID, credentialID string) error {
	meta := marshalMeta(map[string]any{"credentialId": credentialID})
	return l.logs.Append(ctx, &store.AuditLog{
		ID: uuid.NewString(), OrganizationID: organizationID, EventType: store.AuditCredentialRemoved,
		UserID: &userID, MetadataJSON: meta, CreatedAt: time.Now(),
	})
}

// Search lists an organization's audit history, newest first.
func (l *Logger) Search(ctx context.Context, organizationID string, limit, offset int) ([]*store.AuditLog, error) {
	return l.logs.Search(ctx, organizationID, limit, offset)
}
