// Package executor gates shell commands through the policy engine, runs
// them against pooled SSH connections, and records the outcome — spec.md
// §4.4. Both a blocking Execute and a streaming StreamCommandOutput variant
// share the same gate-then-lease sequence.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/audit"
	"github.com/infrallm/infrallm/pkg/crypto"
	"github.com/infrallm/infrallm/pkg/policy"
	"github.com/infrallm/infrallm/pkg/sshpool"
	"github.com/infrallm/infrallm/pkg/store"
)

// DefaultTimeout bounds a single command's execution, overridable per call.
const DefaultTimeout = 120 * time.Second

// MaxCapturedBytes caps how much of stdout/stderr is retained; excess is
// truncated with a marker so a runaway command can't exhaust memory.
const MaxCapturedBytes = 1 << 20 // ~1 MiB

const truncationMarker = "\n...[truncated]"

// Result is the outcome of one Execute call.
type Result struct {
	ExecutionID string
	ExitCode    int
	Stdout      string
	Stderr      string
	DurationMs  int64
	WasDryRun   bool
}

// Executor wires the policy engine, SSH pool, credential decryption, and
// audit logger into the gated execution pipeline.
type Executor struct {
	policies    *policy.Engine
	pool        *sshpool.Pool
	audit       *audit.Logger
	cipher      *crypto.Cipher
	hosts       store.HostRepository
	credentials store.CredentialRepository
	executions  store.CommandExecutionRepository
	redactor    *redactor
	concurrency *concurrencyGate
}

// New constructs an Executor.
func New(
	policies *policy.Engine,
	pool *sshpool.Pool,
	auditLogger *audit.Logger,
	cipher *crypto.Cipher,
	hosts store.HostRepository,
	credentials store.CredentialRepository,
	executions store.CommandExecutionRepository,
) *Executor {
	return &Executor{
		policies:    policies,
		pool:        pool,
		audit:       auditLogger,
		cipher:      cipher,
		hosts:       hosts,
		credentials: credentials,
		executions:  executions,
		redactor:    newRedactor(),
		concurrency: newConcurrencyGate(),
	}
}

// Options customizes a single Execute/StreamCommandOutput call.
type Options struct {
	DryRun       bool
	Timeout      time.Duration
	SessionID    *string
	LLMReasoning string
}

// Execute gates, runs, and records one command. See spec.md §4.4 steps 1-5.
func (e *Executor) Execute(ctx context.Context, organizationID, userID, hostID, command string, opts Options) (*Result, error) {
	decision, release, err := e.gate(ctx, organizationID, userID, hostID, command)
	if err != nil {
		return nil, err
	}
	if decision != nil {
		return nil, decision
	}
	defer release()

	if opts.DryRun {
		return e.executeDryRun(ctx, organizationID, userID, hostID, command, opts)
	}

	host, cred, secret, err := e.resolveHostCredential(ctx, organizationID, hostID)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := e.pool.Get(execCtx, host, *cred)
	if err != nil {
		_ = e.hosts.UpdateStatus(ctx, organizationID, hostID, store.HostUnreachable, time.Now())
		return nil, err
	}
	defer conn.Release()

	start := time.Now()
	session, err := conn.NewSession()
	if err != nil {
		return nil, apperr.Upstream(fmt.Sprintf("open ssh session on host %s", host.Hostname), err)
	}
	defer session.Close()

	var stdout, stderr capBuffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(command)
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(interface{ ExitStatus() int }); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			// A non-exit-status error (transport failure, session teardown) is an
			// upstream failure, not a nonzero exit — spec.md §4.4.
			return nil, apperr.Upstream(fmt.Sprintf("run command on host %s", host.Hostname), runErr)
		}
	}

	result := &Result{
		ExecutionID: uuid.NewString(),
		ExitCode:    exitCode,
		Stdout:      e.redactor.apply(stdout.String(), secret),
		Stderr:      e.redactor.apply(stderr.String(), secret),
		DurationMs:  duration.Milliseconds(),
	}

	if err := e.record(ctx, result, organizationID, userID, hostID, command, opts); err != nil {
		return nil, err
	}
	return result, nil
}

// executeDryRun returns a synthetic result without touching the remote
// host, per spec.md §4.4 step 2, still auditing as executed-dry-run.
func (e *Executor) executeDryRun(ctx context.Context, organizationID, userID, hostID, command string, opts Options) (*Result, error) {
	result := &Result{
		ExecutionID: uuid.NewString(),
		ExitCode:    0,
		Stdout:      "[dry-run] " + command,
		WasDryRun:   true,
	}
	if err := e.record(ctx, result, organizationID, userID, hostID, command, opts); err != nil {
		return nil, err
	}
	return result, nil
}

// record persists the CommandExecution row and writes the matching audit
// entry, linked by ExecutionID (spec.md §8 testable property).
func (e *Executor) record(ctx context.Context, result *Result, organizationID, userID, hostID, command string, opts Options) error {
	exec := &store.CommandExecution{
		ID:         result.ExecutionID,
		HostID:     hostID,
		UserID:     userID,
		SessionID:  opts.SessionID,
		Command:    command,
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		DurationMs: result.DurationMs,
		WasDryRun:  result.WasDryRun,
		CreatedAt:  time.Now(),
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return fmt.Errorf("executor: record execution: %w", err)
	}

	meta := map[string]any{
		"executionId": result.ExecutionID,
		"command":     command,
		"exitCode":    result.ExitCode,
		"wasDryRun":   result.WasDryRun,
	}
	if opts.LLMReasoning != "" {
		meta["llmReasoning"] = opts.LLMReasoning
	}
	if err := e.audit.CommandExecuted(ctx, organizationID, userID, hostID, meta); err != nil {
		return fmt.Errorf("executor: audit command executed: %w", err)
	}
	return nil
}

// gate runs the policy check and, on denial (including approval-required
// outside an interactive approval flow, per spec.md §4.4 step 1 and §9
// Open Question, and including a saturated policy concurrency cap, per
// spec.md §1/§2), writes the denial audit row and returns it as an error.
// A nil denial means the command is cleared to run; release must then be
// called exactly once when the caller is done with the command, whatever
// its outcome, to free the policy's concurrency slot.
func (e *Executor) gate(ctx context.Context, organizationID, userID, hostID, command string) (denial *apperr.Error, release func(), err error) {
	decision, err := e.policies.ValidateCommand(ctx, organizationID, userID, hostID, command)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: policy evaluation: %w", err)
	}

	if decision.Decision == policy.DecisionAllow && !decision.RequiresApproval {
		release, ok := e.concurrency.acquire(decision.MatchedPolicyID, decision.MaxConcurrentCommands)
		if ok {
			return nil, release, nil
		}
		if auditErr := e.audit.CommandDenied(ctx, organizationID, userID, hostID, "Concurrent command limit reached", decision.MatchedRule); auditErr != nil {
			return nil, nil, fmt.Errorf("executor: audit command denied: %w", auditErr)
		}
		return apperr.Denied("Concurrent command limit reached", decision.MatchedRule), nil, nil
	}

	reason := decision.DenialReason
	matched := decision.MatchedRule
	if decision.Decision == policy.DecisionAllow && decision.RequiresApproval {
		reason = "Approval required"
		matched = decision.MatchedRule
	}

	if err := e.audit.CommandDenied(ctx, organizationID, userID, hostID, reason, matched); err != nil {
		return nil, nil, fmt.Errorf("executor: audit command denied: %w", err)
	}
	return apperr.Denied(reason, matched), nil, nil
}

// resolveHostCredential looks up the host and decrypts its credential, if
// any, returning the plaintext secret alongside the *sshpool.Credential so
// callers can scrub it from captured command output before persisting or
// forwarding it (spec.md §4.4's secret-redaction pass).
func (e *Executor) resolveHostCredential(ctx context.Context, organizationID, hostID string) (*store.Host, *sshpool.Credential, string, error) {
	host, err := e.hosts.Get(ctx, organizationID, hostID)
	if err != nil {
		return nil, nil, "", err
	}
	if host.CredentialID == nil {
		return host, &sshpool.Credential{}, "", nil
	}

	credRow, err := e.credentials.Get(ctx, organizationID, *host.CredentialID)
	if err != nil {
		return nil, nil, "", err
	}
	plaintext, err := e.cipher.Decrypt(credRow.EncryptedValue)
	if err != nil {
		return nil, nil, "", apperr.Internal("executor: decrypt host credential", err)
	}

	cred := &sshpool.Credential{}
	switch credRow.Kind {
	case store.CredentialSSHKey:
		cred.PrivateKeyPEM = plaintext
	default:
		cred.Password = plaintext
	}
	return host, cred, plaintext, nil
}

// capBuffer is an io.Writer that stops accumulating past MaxCapturedBytes,
// appending a truncation marker exactly once.
type capBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (c *capBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if c.truncated {
		return n, nil
	}
	remaining := MaxCapturedBytes - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		c.buf.WriteString(truncationMarker)
		return n, nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		c.buf.WriteString(truncationMarker)
		return n, nil
	}
	c.buf.Write(p)
	return n, nil
}

func (c *capBuffer) String() string { return c.buf.String() }

var _ io.Writer = (*capBuffer)(nil)
