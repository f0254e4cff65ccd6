package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrallm/infrallm/pkg/store"
)

type fakeAuditLogRepo struct {
	appended []*store.AuditLog
}

func (f *fakeAuditLogRepo) Append(_ context.Context, a *store.AuditLog) error {
	f.appended = append(f.appended, a)
	return nil
}

func (f *fakeAuditLogRepo) Search(_ context.Context, _ string, _, _ int) ([]*store.AuditLog, error) {
	return f.appended, nil
}

func TestCommandExecutedAppendsAllowedRow(t *testing.T) {
	repo := &fakeAuditLogRepo{}
	l := New(repo)

	require.NoError(t, l.CommandExecuted(context.Background(), "org1", "user1", "host1", map[string]any{"command": "ls"}))

	require.Len(t, repo.appended, 1)
	row := repo.appended[0]
	assert.Equal(t, store.AuditCommandExecuted, row.EventType)
	require.NotNil(t, row.WasAllowed)
	assert.True(t, *row.WasAllowed)
}

func TestCommandDeniedAppendsDenialReasonAndRule(t *testing.T) {
	repo := &fakeAuditLogRepo{}
	l := New(repo)

	require.NoError(t, l.CommandDenied(context.Background(), "org1", "user1", "host1", "Matches denied pattern", "^rm.*"))

	require.Len(t, repo.appended, 1)
	row := repo.appended[0]
	assert.Equal(t, store.AuditCommandDenied, row.EventType)
	require.NotNil(t, row.WasAllowed)
	assert.False(t, *row.WasAllowed)
	assert.Equal(t, "Matches denied pattern", row.DenialReason)
	assert.Contains(t, row.MetadataJSON, "^rm.*")
}

func TestEachAuditEventProducesExactlyOneRow(t *testing.T) {
	repo := &fakeAuditLogRepo{}
	l := New(repo)

	require.NoError(t, l.HostAdded(context.Background(), "org1", "user1", "host1"))
	require.NoError(t, l.SessionStarted(context.Background(), "org1", "user1", "session1"))
	require.NoError(t, l.CredentialAdded(context.Background(), "org1", "user1", "cred1"))

	assert.Len(t, repo.appended, 3)
}
