package executor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/infrallm/infrallm/pkg/audit"
	"github.com/infrallm/infrallm/pkg/crypto"
	"github.com/infrallm/infrallm/pkg/policy"
	"github.com/infrallm/infrallm/pkg/sshpool"
	"github.com/infrallm/infrallm/pkg/store"
)

func mustEd25519(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

// startEchoSSHServer runs a minimal in-process SSH server that handles
// "exec" requests by writing back the command string and exiting 0 — just
// enough surface for Execute's real (non-dry-run) path to exercise a real
// golang.org/x/crypto/ssh session, grounded on pkg/sshpool's own test
// server (pool_test.go) extended to actually answer exec requests.
func startEchoSSHServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	signer, err := gossh.NewSignerFromKey(mustEd25519(t))
	require.NoError(t, err)

	cfg := &gossh.ServerConfig{
		PasswordCallback: func(gossh.ConnMetadata, []byte) (*gossh.Permissions, error) { return nil, nil },
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleEchoConn(conn, cfg)
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close(); <-done }
}

func handleEchoConn(conn net.Conn, cfg *gossh.ServerConfig) {
	sconn, chans, reqs, err := gossh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()
	go gossh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(gossh.UnknownChannelType, "not supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer channel.Close()
			for req := range requests {
				if req.Type != "exec" {
					if req.WantReply {
						_ = req.Reply(false, nil)
					}
					continue
				}
				// payload is a length-prefixed command string.
				var payload struct{ Command string }
				_ = gossh.Unmarshal(req.Payload, &payload)
				if req.WantReply {
					_ = req.Reply(true, nil)
				}
				_, _ = channel.Write([]byte(payload.Command))
				_, _ = channel.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{0}))
				return
			}
		}()
	}
}

func testHost(t *testing.T, addr string) *store.Host {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &store.Host{ID: "host-1", OrganizationID: "org-1", Hostname: host, Port: port, Username: "root"}
}

// fakeStore provides just enough of each repository contract to drive the
// gate -> lease -> record pipeline end to end.
type fakeHosts struct{ host *store.Host }

func (f *fakeHosts) Get(ctx context.Context, orgID, id string) (*store.Host, error) { return f.host, nil }
func (f *fakeHosts) ListByOrganization(ctx context.Context, orgID string) ([]*store.Host, error) {
	return []*store.Host{f.host}, nil
}
func (f *fakeHosts) ListByIDs(ctx context.Context, orgID string, ids []string) ([]*store.Host, error) {
	return []*store.Host{f.host}, nil
}
func (f *fakeHosts) UpdateStatus(ctx context.Context, orgID, id string, status store.HostStatus, at time.Time) error {
	f.host.Status = status
	return nil
}

type fakeCredentials struct{}

func (fakeCredentials) Get(ctx context.Context, orgID, id string) (*store.Credential, error) {
	return &store.Credential{ID: id, Kind: store.CredentialPassword, EncryptedValue: "anything"}, nil
}
func (fakeCredentials) Create(ctx context.Context, c *store.Credential) error { return nil }
func (fakeCredentials) Delete(ctx context.Context, orgID, id string) error   { return nil }

type fakePolicies struct{ policies map[string]*store.Policy }

func (f *fakePolicies) Get(ctx context.Context, orgID, id string) (*store.Policy, error) {
	return f.policies[id], nil
}
func (f *fakePolicies) ListEnabledForUser(ctx context.Context, orgID, userID, hostID string) ([]*store.Policy, error) {
	var out []*store.Policy
	for _, p := range f.policies {
		if p.IsEnabled {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeAssignments struct{ assignments []*store.PolicyAssignment }

func (f *fakeAssignments) ListForUser(ctx context.Context, orgID, userID string) ([]*store.PolicyAssignment, error) {
	return f.assignments, nil
}

type fakeExecutions struct {
	mu   sync.Mutex
	rows []*store.CommandExecution
}

func (f *fakeExecutions) Create(ctx context.Context, e *store.CommandExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, e)
	return nil
}

type fakeAuditLogs struct {
	mu   sync.Mutex
	rows []*store.AuditLog
}

func (f *fakeAuditLogs) Append(ctx context.Context, a *store.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, a)
	return nil
}
func (f *fakeAuditLogs) Search(ctx context.Context, orgID string, limit, offset int) ([]*store.AuditLog, error) {
	return f.rows, nil
}

func newTestExecutor(t *testing.T, host *store.Host, allow, deny []string, requireApproval bool) (*Executor, *fakeExecutions, *fakeAuditLogs) {
	t.Helper()

	policyRow := &store.Policy{
		ID: "policy-1", OrganizationID: "org-1",
		AllowedCommandPatterns: allow, DeniedCommandPatterns: deny,
		RequireApproval: requireApproval, IsEnabled: true,
	}
	policies := &fakePolicies{policies: map[string]*store.Policy{policyRow.ID: policyRow}}
	assignments := &fakeAssignments{assignments: []*store.PolicyAssignment{
		{ID: "assign-1", OrganizationID: "org-1", PolicyID: policyRow.ID, UserID: "user-1"},
	}}
	engine := policy.New(policies, assignments)

	execs := &fakeExecutions{}
	auditLogs := &fakeAuditLogs{}
	auditor := audit.New(auditLogs)
	cipher := crypto.NewCipher("test-master-key")
	pool := sshpool.New()
	t.Cleanup(pool.Close)

	ex := New(engine, pool, auditor, cipher, &fakeHosts{host: host}, fakeCredentials{}, execs)
	return ex, execs, auditLogs
}

func TestExecuteAllowRunsCommandAndAudits(t *testing.T) {
	addr, stop := startEchoSSHServer(t)
	defer stop()
	host := testHost(t, addr)

	ex, execs, auditLogs := newTestExecutor(t, host, []string{"^ls.*"}, []string{"^rm.*"}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := ex.Execute(ctx, "org-1", "user-1", host.ID, "ls -la", Options{})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.NotEmpty(t, result.Stdout)
	require.Len(t, execs.rows, 1)
	require.Len(t, auditLogs.rows, 1)
	require.Equal(t, store.AuditCommandExecuted, auditLogs.rows[0].EventType)
}

func TestExecuteDenyMatchesDeniedPattern(t *testing.T) {
	host := &store.Host{ID: "host-1", OrganizationID: "org-1"}
	ex, execs, auditLogs := newTestExecutor(t, host, []string{"^ls.*"}, []string{"^rm.*"}, false)

	ctx := context.Background()
	_, err := ex.Execute(ctx, "org-1", "user-1", host.ID, "rm -rf /", Options{})
	require.Error(t, err)

	require.Empty(t, execs.rows)
	require.Len(t, auditLogs.rows, 1)
	require.Equal(t, store.AuditCommandDenied, auditLogs.rows[0].EventType)
	require.Equal(t, "Matches denied pattern", auditLogs.rows[0].DenialReason)
}

func TestExecuteDryRunSkipsSSH(t *testing.T) {
	host := &store.Host{ID: "host-1", OrganizationID: "org-1"}
	ex, execs, _ := newTestExecutor(t, host, []string{"^ls.*"}, nil, false)

	ctx := context.Background()
	result, err := ex.Execute(ctx, "org-1", "user-1", host.ID, "ls", Options{DryRun: true})
	require.NoError(t, err)
	require.True(t, result.WasDryRun)
	require.Equal(t, "[dry-run] ls", result.Stdout)
	require.Len(t, execs.rows, 1)
	require.True(t, execs.rows[0].WasDryRun)
}

func TestExecuteRequireApprovalIsHardDeny(t *testing.T) {
	host := &store.Host{ID: "host-1", OrganizationID: "org-1"}
	ex, execs, auditLogs := newTestExecutor(t, host, []string{"^ls.*"}, nil, true)

	ctx := context.Background()
	_, err := ex.Execute(ctx, "org-1", "user-1", host.ID, "ls", Options{})
	require.Error(t, err)
	require.Empty(t, execs.rows)
	require.Equal(t, "Approval required", auditLogs.rows[0].DenialReason)
}
