package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrallm/infrallm/pkg/store"
)

type fakePolicyRepo struct {
	byID map[string]*store.Policy
}

func (f *fakePolicyRepo) Get(_ context.Context, _, id string) (*store.Policy, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, assert.AnError
	}
	return p, nil
}

func (f *fakePolicyRepo) ListEnabledForUser(context.Context, string, string, string) ([]*store.Policy, error) {
	return nil, nil
}

type fakeAssignmentRepo struct {
	assignments []*store.PolicyAssignment
}

func (f *fakeAssignmentRepo) ListForUser(context.Context, string, string) ([]*store.PolicyAssignment, error) {
	return f.assignments, nil
}

func strPtr(s string) *string { return &s }

func TestValidateCommandDeniesWhenNoPolicyAssigned(t *testing.T) {
	e := New(&fakePolicyRepo{byID: map[string]*store.Policy{}}, &fakeAssignmentRepo{})

	result, err := e.ValidateCommand(context.Background(), "org1", "user1", "host1", "ls -la")
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, result.Decision)
	assert.Equal(t, "No policy assigned", result.DenialReason)
}

func TestValidateCommandDenyPatternWinsOverAllow(t *testing.T) {
	policies := &fakePolicyRepo{byID: map[string]*store.Policy{
		"p1": {
			ID:                     "p1",
			IsEnabled:              true,
			AllowedCommandPatterns: []string{`^rm\b.*$`},
			DeniedCommandPatterns:  []string{`^rm\s+-rf\s+/$`},
		},
	}}
	assignments := &fakeAssignmentRepo{assignments: []*store.PolicyAssignment{
		{PolicyID: "p1", UserID: "user1"},
	}}
	e := New(policies, assignments)

	result, err := e.ValidateCommand(context.Background(), "org1", "user1", "host1", "rm -rf /")
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, result.Decision)
	assert.Equal(t, "Matches denied pattern", result.DenialReason)
}

func TestValidateCommandAllowsAndFlagsApproval(t *testing.T) {
	policies := &fakePolicyRepo{byID: map[string]*store.Policy{
		"p1": {
			ID:                     "p1",
			IsEnabled:              true,
			AllowedCommandPatterns: []string{`^systemctl restart \S+$`},
			RequireApproval:        true,
		},
	}}
	assignments := &fakeAssignmentRepo{assignments: []*store.PolicyAssignment{
		{PolicyID: "p1", UserID: "user1"},
	}}
	e := New(policies, assignments)

	result, err := e.ValidateCommand(context.Background(), "org1", "user1", "host1", "systemctl restart nginx")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.True(t, result.RequiresApproval)
}

func TestValidateCommandApprovalFlagsAcrossApplicableSet(t *testing.T) {
	policies := &fakePolicyRepo{byID: map[string]*store.Policy{
		"allow-no-approval": {
			ID:                     "allow-no-approval",
			IsEnabled:              true,
			AllowedCommandPatterns: []string{`^systemctl restart \S+$`},
			RequireApproval:        false,
		},
		"other-requires-approval": {
			ID:                     "other-requires-approval",
			IsEnabled:              true,
			AllowedCommandPatterns: []string{`^reboot$`},
			RequireApproval:        true,
		},
	}}
	assignments := &fakeAssignmentRepo{assignments: []*store.PolicyAssignment{
		{PolicyID: "allow-no-approval", UserID: "user1"},
		{PolicyID: "other-requires-approval", UserID: "user1"},
	}}
	e := New(policies, assignments)

	result, err := e.ValidateCommand(context.Background(), "org1", "user1", "host1", "systemctl restart nginx")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Equal(t, "allow-no-approval", result.MatchedPolicyID)
	assert.True(t, result.RequiresApproval, "a no-approval policy's allow must not mask another applicable policy's RequireApproval")
}

func TestValidateCommandPopulatesMaxConcurrentCommands(t *testing.T) {
	policies := &fakePolicyRepo{byID: map[string]*store.Policy{
		"p1": {
			ID:                     "p1",
			IsEnabled:              true,
			AllowedCommandPatterns: []string{`^ls\b.*$`},
			MaxConcurrentCommands:  3,
		},
	}}
	assignments := &fakeAssignmentRepo{assignments: []*store.PolicyAssignment{{PolicyID: "p1", UserID: "user1"}}}
	e := New(policies, assignments)

	result, err := e.ValidateCommand(context.Background(), "org1", "user1", "host1", "ls -la")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Equal(t, 3, result.MaxConcurrentCommands)
}

func TestValidateCommandDeniesWhenNotInAllowlist(t *testing.T) {
	policies := &fakePolicyRepo{byID: map[string]*store.Policy{
		"p1": {ID: "p1", IsEnabled: true, AllowedCommandPatterns: []string{`^ls\b.*$`}},
	}}
	assignments := &fakeAssignmentRepo{assignments: []*store.PolicyAssignment{{PolicyID: "p1", UserID: "user1"}}}
	e := New(policies, assignments)

	result, err := e.ValidateCommand(context.Background(), "org1", "user1", "host1", "rm -rf /tmp")
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, result.Decision)
	assert.Equal(t, "Not in allowlist", result.DenialReason)
}

func TestValidateCommandIgnoresAssignmentScopedToDifferentHost(t *testing.T) {
	policies := &fakePolicyRepo{byID: map[string]*store.Policy{
		"p1": {ID: "p1", IsEnabled: true, AllowedCommandPatterns: []string{`^ls\b.*$`}},
	}}
	assignments := &fakeAssignmentRepo{assignments: []*store.PolicyAssignment{
		{PolicyID: "p1", UserID: "user1", HostID: strPtr("other-host")},
	}}
	e := New(policies, assignments)

	result, err := e.ValidateCommand(context.Background(), "org1", "user1", "host1", "ls")
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, result.Decision)
	assert.Equal(t, "No policy assigned", result.DenialReason)
}

func TestInvalidRegexTreatedAsNonMatching(t *testing.T) {
	policies := &fakePolicyRepo{byID: map[string]*store.Policy{
		"p1": {ID: "p1", IsEnabled: true, AllowedCommandPatterns: []string{`(unterminated`}},
	}}
	assignments := &fakeAssignmentRepo{assignments: []*store.PolicyAssignment{{PolicyID: "p1", UserID: "user1"}}}
	e := New(policies, assignments)

	result, err := e.ValidateCommand(context.Background(), "org1", "user1", "host1", "ls")
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, result.Decision)
}

func TestTestCommandEvaluatesSinglePolicyInIsolation(t *testing.T) {
	policies := &fakePolicyRepo{byID: map[string]*store.Policy{
		"p1": {ID: "p1", IsEnabled: true, AllowedCommandPatterns: []string{`^ls\b.*$`}},
	}}
	e := New(policies, &fakeAssignmentRepo{})

	result, err := e.TestCommand(context.Background(), "org1", "p1", "ls -la")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, result.Decision)
}

func TestPresetsParse(t *testing.T) {
	presets := Presets()
	require.NotEmpty(t, presets)
	for _, p := range presets {
		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.AllowedCommandPatterns)
	}
}
