// Package llm is the streaming multi-turn conversation orchestrator —
// spec.md §4.5. It builds the system prompt, drives the provider's
// streaming API, dispatches tool calls to the command executor, host-note
// store, and MCP registry, and accounts token/cost usage per session.
//
// Grounded on the teacher's tool-loop shape (codeready-toolchain/tarsy
// pkg/agent/controller/streaming.go's collect-stream-with-callback loop and
// pkg/agent/llm_grpc.go's provider abstraction) and the Claude-model
// pricing table carried by telnet2-opencode's internal/provider/anthropic.go,
// adapted from a gRPC-to-a-Python-sidecar transport to a direct
// anthropics/anthropic-sdk-go client, since spec.md §4.5 names an
// "Anthropic-style messages API" directly.
package llm

import (
	"context"
	"encoding/json"
)

// BlockType distinguishes the kinds of content a conversation turn may
// carry, mirroring the Anthropic messages API's content block union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Role distinguishes a Turn's speaker, in the provider's own vocabulary
// (not store.MessageRole, which is the persisted chat-history vocabulary).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is one piece of content within a Turn.
type Block struct {
	Type BlockType

	Text string // BlockText

	ToolUseID string          // BlockToolUse, BlockToolResult
	ToolName  string          // BlockToolUse
	ToolInput json.RawMessage // BlockToolUse

	ToolResultContent string // BlockToolResult
	ToolResultIsError  bool   // BlockToolResult
}

// Turn is one message in the provider's conversation format.
type Turn struct {
	Role    Role
	Content []Block
}

// ToolDefinition is a tool the provider may invoke, in the shape every
// source (built-in or MCP) normalizes to before reaching the provider.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is one invocation the provider asked for.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// TokenUsage reports a single provider call's token accounting.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Request is one call to a Provider's streaming API.
type Request struct {
	Model     string
	System    string
	Turns     []Turn
	Tools     []ToolDefinition
	MaxTokens int64
}

// StopReason mirrors the provider's own terminal-state vocabulary.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Response is one collected (non-partial) provider reply.
type Response struct {
	StopReason    StopReason
	Text          string
	ToolCalls     []ToolCall
	ContentBlocks []Block // the assistant turn to append to history verbatim
	Usage         TokenUsage
}

// Provider is the narrow capability the orchestrator depends on —
// spec.md §9's "dynamic dispatch across providers -> tagged variants +
// narrow interfaces" design note. onDelta is invoked for every text delta
// as it streams in; it must not block for long since it runs on the
// provider's read goroutine.
type Provider interface {
	SendStream(ctx context.Context, req Request, onDelta func(string)) (*Response, error)
}
