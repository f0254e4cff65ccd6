package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/audit"
	"github.com/infrallm/infrallm/pkg/authn"
	"github.com/infrallm/infrallm/pkg/chat"
	"github.com/infrallm/infrallm/pkg/crypto"
	"github.com/infrallm/infrallm/pkg/executor"
	"github.com/infrallm/infrallm/pkg/hub"
	"github.com/infrallm/infrallm/pkg/jobs"
	"github.com/infrallm/infrallm/pkg/llm"
	"github.com/infrallm/infrallm/pkg/mcp"
	"github.com/infrallm/infrallm/pkg/policy"
	"github.com/infrallm/infrallm/pkg/sshpool"
	"github.com/infrallm/infrallm/pkg/store"
)

// fakeLLMProvider returns a single, final text reply with no tool calls so
// that SendMessageStream completes a turn without dispatching any tools.
type fakeLLMProvider struct{}

func (fakeLLMProvider) SendStream(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Response, error) {
	if onDelta != nil {
		onDelta("ok")
	}
	return &llm.Response{Text: "ok", StopReason: llm.StopEndTurn}, nil
}

// fakeStore is a minimal in-memory store.Store for handler-level tests.
// Repositories not exercised by pkg/api's handlers return empty results —
// this package tests routing/auth/error-translation, not persistence.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	jobs     map[string]*store.Job
	jobRuns  map[string]*store.JobRun
	tokens   map[string]*store.AccessToken
	audits   []*store.AuditLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*store.Session{},
		jobs:     map[string]*store.Job{},
		jobRuns:  map[string]*store.JobRun{},
		tokens:   map[string]*store.AccessToken{},
	}
}

func (s *fakeStore) Organizations() store.OrganizationRepository { return fakeOrgs{} }
func (s *fakeStore) Users() store.UserRepository                 { return fakeUsers{} }
func (s *fakeStore) AccessTokens() store.AccessTokenRepository   { return &fakeAccessTokens{s: s} }
func (s *fakeStore) Credentials() store.CredentialRepository     { return fakeCredentials{} }
func (s *fakeStore) Hosts() store.HostRepository                 { return fakeHosts{} }
func (s *fakeStore) Policies() store.PolicyRepository            { return fakePolicies{} }
func (s *fakeStore) PolicyAssignments() store.PolicyAssignmentRepository {
	return fakePolicyAssignments{}
}
func (s *fakeStore) Sessions() store.SessionRepository               { return &fakeSessions{s: s} }
func (s *fakeStore) Messages() store.MessageRepository               { return fakeMessages{} }
func (s *fakeStore) CommandExecutions() store.CommandExecutionRepository { return fakeExecutions{} }
func (s *fakeStore) AuditLogs() store.AuditLogRepository             { return &fakeAuditLogs{s: s} }
func (s *fakeStore) HostNotes() store.HostNoteRepository             { return fakeHostNotes{} }
func (s *fakeStore) PromptSettings() store.PromptSettingsRepository  { return fakePromptSettings{} }
func (s *fakeStore) Jobs() store.JobRepository                       { return &fakeJobs{s: s} }
func (s *fakeStore) JobRuns() store.JobRunRepository                 { return &fakeJobRuns{s: s} }
func (s *fakeStore) McpServers() store.McpServerRepository           { return fakeMcpServers{} }

type fakeOrgs struct{}

func (fakeOrgs) Get(ctx context.Context, id string) (*store.Organization, error) { return nil, nil }

type fakeUsers struct{}

func (fakeUsers) Get(ctx context.Context, id string) (*store.User, error) { return nil, nil }
func (fakeUsers) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	return nil, nil
}
func (fakeUsers) Create(ctx context.Context, u *store.User) error { return nil }
func (fakeUsers) Memberships(ctx context.Context, userID string) ([]store.Membership, error) {
	return nil, nil
}

type fakeAccessTokens struct{ s *fakeStore }

func (f *fakeAccessTokens) Create(ctx context.Context, t *store.AccessToken) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.tokens[t.TokenHash] = t
	return nil
}
func (f *fakeAccessTokens) GetByHash(ctx context.Context, tokenHash string) (*store.AccessToken, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	t, ok := f.s.tokens[tokenHash]
	if !ok {
		return nil, apperr.NotFound("access token", tokenHash)
	}
	return t, nil
}
func (f *fakeAccessTokens) Revoke(ctx context.Context, organizationID, id string) error { return nil }
func (f *fakeAccessTokens) TouchLastUsed(ctx context.Context, id string) error          { return nil }

type fakeCredentials struct{}

func (fakeCredentials) Get(ctx context.Context, organizationID, id string) (*store.Credential, error) {
	return nil, nil
}
func (fakeCredentials) Create(ctx context.Context, c *store.Credential) error { return nil }
func (fakeCredentials) Delete(ctx context.Context, organizationID, id string) error {
	return nil
}

type fakeHosts struct{}

func (fakeHosts) Get(ctx context.Context, organizationID, id string) (*store.Host, error) {
	return nil, nil
}
func (fakeHosts) ListByOrganization(ctx context.Context, organizationID string) ([]*store.Host, error) {
	return nil, nil
}
func (fakeHosts) ListByIDs(ctx context.Context, organizationID string, ids []string) ([]*store.Host, error) {
	return nil, nil
}
func (fakeHosts) UpdateStatus(ctx context.Context, organizationID, id string, status store.HostStatus, checkedAt time.Time) error {
	return nil
}

type fakePolicies struct{}

func (fakePolicies) Get(ctx context.Context, organizationID, id string) (*store.Policy, error) {
	return nil, apperr.NotFound("policy", id)
}
func (fakePolicies) ListEnabledForUser(ctx context.Context, organizationID, userID, hostID string) ([]*store.Policy, error) {
	return nil, nil
}

type fakePolicyAssignments struct{}

func (fakePolicyAssignments) ListForUser(ctx context.Context, organizationID, userID string) ([]*store.PolicyAssignment, error) {
	return nil, nil
}

type fakeSessions struct{ s *fakeStore }

func (f *fakeSessions) Get(ctx context.Context, organizationID, id string) (*store.Session, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	sess, ok := f.s.sessions[id]
	if !ok || sess.OrganizationID != organizationID {
		return nil, apperr.NotFound("session", id)
	}
	return sess, nil
}
func (f *fakeSessions) Create(ctx context.Context, sess *store.Session) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.sessions[sess.ID] = sess
	return nil
}
func (f *fakeSessions) UpdateUsage(ctx context.Context, id string, totalTokens int64, totalCost float64, lastMessageAt time.Time) error {
	return nil
}
func (f *fakeSessions) UpdateTitle(ctx context.Context, id, title string) error { return nil }

type fakeMessages struct{}

func (fakeMessages) Create(ctx context.Context, m *store.Message) error { return nil }
func (fakeMessages) ListBySession(ctx context.Context, sessionID string) ([]*store.Message, error) {
	return nil, nil
}

type fakeExecutions struct{}

func (fakeExecutions) Create(ctx context.Context, e *store.CommandExecution) error { return nil }

type fakeAuditLogs struct{ s *fakeStore }

func (f *fakeAuditLogs) Append(ctx context.Context, a *store.AuditLog) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.audits = append(f.s.audits, a)
	return nil
}
func (f *fakeAuditLogs) Search(ctx context.Context, organizationID string, limit, offset int) ([]*store.AuditLog, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*store.AuditLog
	for _, a := range f.s.audits {
		if a.OrganizationID == organizationID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeHostNotes struct{}

func (fakeHostNotes) Get(ctx context.Context, organizationID, hostID string) (*store.HostNote, error) {
	return nil, nil
}
func (fakeHostNotes) Upsert(ctx context.Context, n *store.HostNote) error { return nil }

type fakePromptSettings struct{}

func (fakePromptSettings) Get(ctx context.Context, organizationID, userID string) (*store.PromptSettings, error) {
	return nil, nil
}

type fakeJobs struct{ s *fakeStore }

func (f *fakeJobs) Get(ctx context.Context, organizationID, id string) (*store.Job, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	j, ok := f.s.jobs[id]
	if !ok || j.OrganizationID != organizationID {
		return nil, apperr.NotFound("job", id)
	}
	return j, nil
}
func (f *fakeJobs) GetByID(ctx context.Context, id string) (*store.Job, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	j, ok := f.s.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job", id)
	}
	return j, nil
}
func (f *fakeJobs) ListEnabledCron(ctx context.Context) ([]*store.Job, error) { return nil, nil }
func (f *fakeJobs) UpdateLastRunAt(ctx context.Context, id string, lastRunAt time.Time) error {
	return nil
}

type fakeJobRuns struct{ s *fakeStore }

func (f *fakeJobRuns) Create(ctx context.Context, r *store.JobRun) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.jobRuns[r.ID] = r
	return nil
}
func (f *fakeJobRuns) UpdateStatus(ctx context.Context, id string, status store.JobRunStatus, response *string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if r, ok := f.s.jobRuns[id]; ok {
		r.Status = status
		r.Response = response
	}
	return nil
}

type fakeMcpServers struct{}

func (fakeMcpServers) ListEnabledByOrganization(ctx context.Context, organizationID string) ([]*store.McpServer, error) {
	return nil, nil
}
func (fakeMcpServers) Get(ctx context.Context, organizationID, id string) (*store.McpServer, error) {
	return nil, nil
}
func (fakeMcpServers) GetByName(ctx context.Context, organizationID, name string) (*store.McpServer, error) {
	return nil, nil
}

func newTestServer(t *testing.T, fs *fakeStore) (*Server, *authn.Authenticator) {
	t.Helper()

	auth := authn.NewAuthenticator("test-signing-secret", fs.AccessTokens())
	chatManager := chat.NewManager()
	auditLogger := audit.New(fs.AuditLogs())
	policyEngine := policy.New(fs.Policies(), fs.PolicyAssignments())
	sshPool := sshpool.New()
	t.Cleanup(sshPool.Close)
	rawHub := hub.NewHub(0)
	chatHub := hub.NewChatHub(rawHub)
	commandHub := hub.NewCommandHub(rawHub)

	cipher := crypto.NewCipher("test-master-key")
	stdioCache := mcp.NewStdioCache()
	t.Cleanup(stdioCache.Close)
	registry := mcp.NewRegistry(fs.McpServers(), stdioCache, cipher)
	exec := executor.New(policyEngine, sshPool, auditLogger, cipher, fs.Hosts(), fs.Credentials(), fs.CommandExecutions())
	dispatcher := llm.NewToolDispatcher(exec, fs.HostNotes(), registry)
	orchestrator := llm.NewOrchestrator(fakeLLMProvider{}, dispatcher, registry,
		fs.Sessions(), fs.Messages(), fs.Hosts(), fs.HostNotes(), fs.Policies(), fs.PolicyAssignments(), fs.PromptSettings())

	jobsEngine := jobs.NewEngine(fs.Jobs(), fs.JobRuns(), fs.Sessions(), chatManager, orchestrator)

	srv := NewServer(Deps{
		Store:         fs,
		Authenticator: auth,
		ChatManager:   chatManager,
		Orchestrator:  orchestrator,
		JobsEngine:    jobsEngine,
		PolicyEngine:  policyEngine,
		AuditLogger:   auditLogger,
		SSHPool:       sshPool,
		Hub:           rawHub,
		ChatHub:       chatHub,
		CommandHub:    commandHub,
		HealthFunc:    func(ctx context.Context) (any, error) { return "ok", nil },
	})
	return srv, auth
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSendMessageRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/messages", strings.NewReader(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMessageCrossTenantReturnsNotFound(t *testing.T) {
	fs := newFakeStore()
	fs.sessions["s1"] = &store.Session{ID: "s1", OrganizationID: "org-owner", UserID: "u1"}
	srv, auth := newTestServer(t, fs)

	jwt, err := auth.IssueJWT("u1", "u1@example.com", "org-attacker")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/messages", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+jwt)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageAcceptsOwnedSession(t *testing.T) {
	fs := newFakeStore()
	fs.sessions["s1"] = &store.Session{ID: "s1", OrganizationID: "org-1", UserID: "u1"}
	srv, auth := newTestServer(t, fs)

	jwt, err := auth.IssueJWT("u1", "u1@example.com", "org-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/messages", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+jwt)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookWrongSecretForbidden(t *testing.T) {
	fs := newFakeStore()
	fs.jobs["job-1"] = &store.Job{ID: "job-1", OrganizationID: "org-1", IsEnabled: true, WebhookSecret: "right"}
	srv, _ := newTestServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/webhook/job-1?secret=wrong", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookAcceptedWithoutAutoRun(t *testing.T) {
	fs := newFakeStore()
	fs.jobs["job-1"] = &store.Job{ID: "job-1", OrganizationID: "org-1", IsEnabled: true, WebhookSecret: "right"}
	srv, _ := newTestServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/webhook/job-1?secret=right", strings.NewReader(`{"alert":"disk"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, fs.jobRuns, 1)
}
