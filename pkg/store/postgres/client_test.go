package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/infrallm/infrallm/pkg/store"
)

// newTestClient spins up a disposable Postgres container, points a Client
// at it (applying the embedded migrations), and registers cleanup —
// grounded on the teacher's pkg/database.newTestClient helper
// (codeready-toolchain/tarsy pkg/database/client_test.go), adapted from
// ent's schema.Create to this package's golang-migrate migration runner.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("infrallm_test"),
		tcpostgres.WithUsername("infrallm_test"),
		tcpostgres.WithPassword("infrallm_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := Config{
		Host:            host,
		Port:            port.Int(),
		User:            "infrallm_test",
		Password:        "infrallm_test",
		Database:        "infrallm_test",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

// seedOrgAndUser inserts the minimum organization/user rows needed by the
// other tests in this file. Hosts/policies/credentials have no Create method
// on their repository contracts (their CRUD surface is an external
// collaborator per spec.md §1), so tests insert those rows directly too.
func seedOrgAndUser(t *testing.T, c *Client) (orgID, userID string) {
	t.Helper()
	ctx := context.Background()

	orgID = uuid.NewString()
	_, err := c.pool.Exec(ctx, `INSERT INTO organizations (id, name) VALUES ($1, $2)`, orgID, "acme")
	require.NoError(t, err)

	userID = uuid.NewString()
	require.NoError(t, c.Users().Create(ctx, &store.User{
		ID: userID, Email: "ops@acme.test", DisplayName: "Ops", PasswordHash: "hashed", CreatedAt: time.Now(),
	}))
	return orgID, userID
}

func TestClient_Health(t *testing.T) {
	client := newTestClient(t)
	health, err := client.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "healthy", health.Status)
}

func TestOrganizationsAndUsers_Roundtrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	orgID, userID := seedOrgAndUser(t, client)

	org, err := client.Organizations().Get(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, "acme", org.Name)

	u, err := client.Users().Get(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, "ops@acme.test", u.Email)

	byEmail, err := client.Users().GetByEmail(ctx, "ops@acme.test")
	require.NoError(t, err)
	require.Equal(t, userID, byEmail.ID)

	_, err = client.Organizations().Get(ctx, uuid.NewString())
	require.Error(t, err)
}

// TestHostNotes_UpsertIsIdempotent exercises spec.md §8's invariant: "HostNote
// upsert on the same (org, host) twice yields exactly one row with the
// second content."
func TestHostNotes_UpsertIsIdempotent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	orgID, _ := seedOrgAndUser(t, client)

	hostID := uuid.NewString()
	_, err := client.pool.Exec(ctx,
		`INSERT INTO hosts (id, organization_id, hostname, username) VALUES ($1, $2, $3, $4)`,
		hostID, orgID, "db-1.internal", "deploy")
	require.NoError(t, err)

	require.NoError(t, client.HostNotes().Upsert(ctx, &store.HostNote{
		OrganizationID: orgID, HostID: hostID, Content: "first note", UpdatedAt: time.Now(),
	}))
	require.NoError(t, client.HostNotes().Upsert(ctx, &store.HostNote{
		OrganizationID: orgID, HostID: hostID, Content: "second note", UpdatedAt: time.Now(),
	}))

	note, err := client.HostNotes().Get(ctx, orgID, hostID)
	require.NoError(t, err)
	require.Equal(t, "second note", note.Content)

	var count int
	require.NoError(t, client.pool.QueryRow(ctx,
		`SELECT count(*) FROM host_notes WHERE organization_id = $1 AND host_id = $2`, orgID, hostID,
	).Scan(&count))
	require.Equal(t, 1, count)
}

// TestPolicies_ListEnabledForUser exercises the query the policy engine
// (pkg/policy.Engine.ValidateCommand) relies on: a global assignment and a
// host-scoped assignment both resolve for their host, a disabled policy is
// excluded, and an assignment scoped to a different host does not leak in.
func TestPolicies_ListEnabledForUser(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	orgID, userID := seedOrgAndUser(t, client)

	hostID := uuid.NewString()
	otherHostID := uuid.NewString()
	_, err := client.pool.Exec(ctx,
		`INSERT INTO hosts (id, organization_id, hostname, username) VALUES ($1, $2, 'web-1', 'deploy'), ($3, $2, 'web-2', 'deploy')`,
		hostID, orgID, otherHostID)
	require.NoError(t, err)

	globalPolicy := uuid.NewString()
	hostPolicy := uuid.NewString()
	disabledPolicy := uuid.NewString()
	_, err = client.pool.Exec(ctx,
		`INSERT INTO policies (id, organization_id, name, allowed_command_patterns, denied_command_patterns, is_enabled)
		 VALUES ($1, $2, 'global-readonly', '{^ls.*}', '{^rm.*}', true),
		         ($3, $2, 'web-deploy', '{^systemctl restart web.*}', '{}', true),
		         ($4, $2, 'disabled', '{.*}', '{}', false)`,
		globalPolicy, orgID, hostPolicy, disabledPolicy)
	require.NoError(t, err)

	_, err = client.pool.Exec(ctx,
		`INSERT INTO policy_assignments (id, organization_id, policy_id, user_id, host_id)
		 VALUES ($1, $2, $3, $4, NULL), ($5, $2, $6, $4, $7), ($8, $2, $9, $4, $7)`,
		uuid.NewString(), orgID, globalPolicy, userID,
		uuid.NewString(), hostPolicy, hostID,
		uuid.NewString(), disabledPolicy, hostID)
	require.NoError(t, err)

	enabled, err := client.Policies().ListEnabledForUser(ctx, orgID, userID, hostID)
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, p := range enabled {
		names[p.Name] = true
	}
	require.True(t, names["global-readonly"])
	require.True(t, names["web-deploy"])
	require.False(t, names["disabled"])

	assignments, err := client.PolicyAssignments().ListForUser(ctx, orgID, userID)
	require.NoError(t, err)
	require.Len(t, assignments, 3)
}

// TestAccessTokens_Roundtrip exercises spec.md §8's invariant that a raw
// token is never observable after creation: only the hash round-trips.
func TestAccessTokens_Roundtrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	orgID, userID := seedOrgAndUser(t, client)

	tokenHash := "deadbeef" // a real caller passes sha256.Sum256(rawToken); the repo never sees the raw value
	tokenID := uuid.NewString()
	require.NoError(t, client.AccessTokens().Create(ctx, &store.AccessToken{
		ID: tokenID, OrganizationID: orgID, UserID: userID, Name: "ci", TokenHash: tokenHash,
		IsActive: true, CreatedAt: time.Now(),
	}))

	found, err := client.AccessTokens().GetByHash(ctx, tokenHash)
	require.NoError(t, err)
	require.Equal(t, tokenID, found.ID)

	require.NoError(t, client.AccessTokens().Revoke(ctx, orgID, tokenID))
	_, err = client.AccessTokens().GetByHash(ctx, tokenHash)
	require.Error(t, err) // revoked tokens are no longer active, so GetByHash's is_active filter misses them
}
