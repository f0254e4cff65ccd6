package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/infrallm/infrallm/pkg/executor"
	"github.com/infrallm/infrallm/pkg/mcp"
	"github.com/infrallm/infrallm/pkg/store"
)

// ToolRunCommand and ToolUpdateHostNote are the built-in tools every
// orchestrator turn exposes alongside the organization's MCP catalog,
// grounded on the teacher's ToolExecutor built-ins (pkg/mcp/executor.go's
// "runCommand"/"updateRunbook" pair) renamed to this spec's domain.
const (
	ToolRunCommand     = "run_command"
	ToolUpdateHostNote = "update_host_note"
)

var runCommandSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"hostId": {"type": "string", "description": "the target host's id"},
		"command": {"type": "string", "description": "the shell command to run"},
		"reasoning": {"type": "string", "description": "why this command is needed, recorded in the audit log"}
	},
	"required": ["hostId", "command"]
}`)

var updateHostNoteSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"hostId": {"type": "string", "description": "the host this note describes"},
		"content": {"type": "string", "description": "the full replacement note content"}
	},
	"required": ["hostId", "content"]
}`)

// builtinToolDefinitions returns run_command and update_host_note, which are
// always offered regardless of MCP server configuration.
func builtinToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{Name: ToolRunCommand, Description: "Run a shell command on a host over SSH, subject to policy gating.", InputSchema: runCommandSchema},
		{Name: ToolUpdateHostNote, Description: "Replace the persistent operational note kept for a host.", InputSchema: updateHostNoteSchema},
	}
}

// ToolDispatcher routes one tool call to the executor, host-note store, or
// MCP registry and returns its result as tool-result content, never as a Go
// error — spec.md §4.5 "Tool dispatch" step 3's "failures become tool_result
// content with is_error, not a thrown exception", matching the teacher's MCP
// error-as-content convention (pkg/mcp/executor.go).
type ToolDispatcher struct {
	exec      *executor.Executor
	hostNotes store.HostNoteRepository
	mcp       *mcp.Registry
}

// NewToolDispatcher constructs a ToolDispatcher.
func NewToolDispatcher(exec *executor.Executor, hostNotes store.HostNoteRepository, registry *mcp.Registry) *ToolDispatcher {
	return &ToolDispatcher{exec: exec, hostNotes: hostNotes, mcp: registry}
}

// Dispatch runs one tool call on behalf of sessionID/userID in
// organizationID and returns its tool-result content.
func (d *ToolDispatcher) Dispatch(ctx context.Context, call ToolCall, organizationID, userID, sessionID string) (content string, isError bool) {
	switch call.Name {
	case ToolRunCommand:
		return d.runCommand(ctx, call, organizationID, userID, sessionID)
	case ToolUpdateHostNote:
		return d.updateHostNote(ctx, call, organizationID)
	default:
		return d.mcp.Dispatch(ctx, call.Name, decodeArgs(call.Input), organizationID)
	}
}

type runCommandArgs struct {
	HostID    string `json:"hostId"`
	Command   string `json:"command"`
	Reasoning string `json:"reasoning"`
}

func (d *ToolDispatcher) runCommand(ctx context.Context, call ToolCall, organizationID, userID, sessionID string) (string, bool) {
	var args runCommandArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return fmt.Sprintf("invalid run_command arguments: %v", err), true
	}
	if args.HostID == "" || args.Command == "" {
		return "run_command requires both hostId and command", true
	}

	result, err := d.exec.Execute(ctx, organizationID, userID, args.HostID, args.Command, executor.Options{
		SessionID:    &sessionID,
		LLMReasoning: args.Reasoning,
	})
	if err != nil {
		return err.Error(), true
	}

	if result.ExitCode != 0 {
		return fmt.Sprintf("exit code %d\nstdout:\n%s\nstderr:\n%s", result.ExitCode, result.Stdout, result.Stderr), true
	}
	return fmt.Sprintf("exit code 0\nstdout:\n%s\nstderr:\n%s", result.Stdout, result.Stderr), false
}

type updateHostNoteArgs struct {
	HostID  string `json:"hostId"`
	Content string `json:"content"`
}

func (d *ToolDispatcher) updateHostNote(ctx context.Context, call ToolCall, organizationID string) (string, bool) {
	var args updateHostNoteArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return fmt.Sprintf("invalid update_host_note arguments: %v", err), true
	}
	if args.HostID == "" {
		return "update_host_note requires hostId", true
	}

	err := d.hostNotes.Upsert(ctx, &store.HostNote{
		OrganizationID: organizationID,
		HostID:         args.HostID,
		Content:        args.Content,
		UpdatedAt:      time.Now(),
	})
	if err != nil {
		return fmt.Sprintf("failed to update host note: %v", err), true
	}
	return "host note updated", false
}

func decodeArgs(input json.RawMessage) map[string]any {
	var args map[string]any
	if len(input) == 0 {
		return nil
	}
	_ = json.Unmarshal(input, &args)
	return args
}
