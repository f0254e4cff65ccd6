// Package policy implements the allow/deny command evaluation engine:
// deny-always-wins precedence over a union of applicable policies, with
// regex patterns compiled lazily and invalid patterns treated as
// non-matching rather than fatal.
package policy

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/infrallm/infrallm/pkg/store"
)

// Decision is the outcome of evaluating a command against one or more policies.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Result is the outcome of ValidateCommand or TestCommand.
type Result struct {
	Decision         Decision
	RequiresApproval bool
	DenialReason     string
	MatchedRule      string
	MatchedPolicyID  string

	// MaxConcurrentCommands is the matching policy's concurrency cap
	// (spec.md §1/§2: "concurrency caps"), populated on Allow so the
	// executor can enforce it. Zero/negative means no cap.
	MaxConcurrentCommands int
}

// Engine evaluates commands against an organization's assigned policies.
type Engine struct {
	policies    store.PolicyRepository
	assignments store.PolicyAssignmentRepository

	// compileCache amortizes regexp.Compile across repeated evaluations of
	// the same pattern string; invalid patterns are cached as nil so a
	// misconfigured policy doesn't re-fail to compile on every command.
	compileCache sync.Map // pattern string -> *regexp.Regexp (nil if invalid)

	logger *slog.Logger
}

// New constructs an Engine.
func New(policies store.PolicyRepository, assignments store.PolicyAssignmentRepository) *Engine {
	return &Engine{policies: policies, assignments: assignments, logger: slog.Default()}
}

func (e *Engine) compile(pattern string) *regexp.Regexp {
	if v, ok := e.compileCache.Load(pattern); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		e.logger.Warn("policy: invalid regex pattern treated as non-matching", "pattern", pattern, "error", err)
		e.compileCache.Store(pattern, (*regexp.Regexp)(nil))
		return nil
	}
	e.compileCache.Store(pattern, re)
	return re
}

func (e *Engine) matchesAny(command string, patterns []string) (bool, string) {
	for _, p := range patterns {
		re := e.compile(p)
		if re == nil {
			continue
		}
		if re.MatchString(command) {
			return true, p
		}
	}
	return false, ""
}

// ValidateCommand implements the six-step evaluation in spec.md §4.3:
// load assignments (host-scoped or global) for userID/hostID, resolve and
// filter to enabled policies, deny on any denied-pattern match across the
// whole set before ever consulting allow patterns, and deny if nothing in
// the set allows the command.
func (e *Engine) ValidateCommand(ctx context.Context, organizationID, userID, hostID, command string) (*Result, error) {
	assignments, err := e.assignments.ListForUser(ctx, organizationID, userID)
	if err != nil {
		return nil, err
	}

	// Host-scoped assignments are resolved first so that, when more than one
	// applicable policy would allow the command, the host-scoped one's
	// RequireApproval setting wins the tie-break (spec.md §4.3). Deny
	// evaluation below considers the whole union regardless of this order.
	var hostScoped, global []*store.Policy
	for _, a := range assignments {
		if a.HostID != nil && *a.HostID != hostID {
			continue
		}
		p, err := e.policies.Get(ctx, organizationID, a.PolicyID)
		if err != nil {
			return nil, err
		}
		if !p.IsEnabled {
			continue
		}
		if a.HostID != nil {
			hostScoped = append(hostScoped, p)
		} else {
			global = append(global, p)
		}
	}
	applicable := append(hostScoped, global...)

	if len(applicable) == 0 {
		return &Result{Decision: DecisionDeny, DenialReason: "No policy assigned"}, nil
	}

	// Deny always wins: check every applicable policy's deny patterns
	// before considering any allow pattern.
	for _, p := range applicable {
		if matched, rule := e.matchesAny(command, p.DeniedCommandPatterns); matched {
			return &Result{
				Decision:        DecisionDeny,
				DenialReason:    "Matches denied pattern",
				MatchedRule:     rule,
				MatchedPolicyID: p.ID,
			}, nil
		}
	}

	// spec.md §4.3 step 5: "If requireApproval on any applicable policy, set
	// requiresApproval=true on the result" — computed over the whole
	// applicable set, not just the policy whose pattern happened to match,
	// so a no-approval policy's allow can't mask another applicable
	// policy's approval requirement.
	anyRequiresApproval := false
	for _, p := range applicable {
		if p.RequireApproval {
			anyRequiresApproval = true
			break
		}
	}

	for _, p := range applicable {
		if matched, rule := e.matchesAny(command, p.AllowedCommandPatterns); matched {
			return &Result{
				Decision:              DecisionAllow,
				RequiresApproval:      anyRequiresApproval,
				MatchedRule:           rule,
				MatchedPolicyID:       p.ID,
				MaxConcurrentCommands: p.MaxConcurrentCommands,
			}, nil
		}
	}

	return &Result{Decision: DecisionDeny, DenialReason: "Not in allowlist"}, nil
}

// TestCommand evaluates a single policy against command in isolation,
// bypassing assignment resolution entirely — used by the dry-run tester.
func (e *Engine) TestCommand(ctx context.Context, organizationID, policyID, command string) (*Result, error) {
	p, err := e.policies.Get(ctx, organizationID, policyID)
	if err != nil {
		return nil, err
	}

	if matched, rule := e.matchesAny(command, p.DeniedCommandPatterns); matched {
		return &Result{Decision: DecisionDeny, DenialReason: "Matches denied pattern", MatchedRule: rule, MatchedPolicyID: p.ID}, nil
	}
	if matched, rule := e.matchesAny(command, p.AllowedCommandPatterns); matched {
		return &Result{
			Decision: DecisionAllow, RequiresApproval: p.RequireApproval, MatchedRule: rule,
			MatchedPolicyID: p.ID, MaxConcurrentCommands: p.MaxConcurrentCommands,
		}, nil
	}
	return &Result{Decision: DecisionDeny, DenialReason: "Not in allowlist", MatchedPolicyID: p.ID}, nil
}
