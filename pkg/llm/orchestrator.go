package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/infrallm/infrallm/pkg/mcp"
	"github.com/infrallm/infrallm/pkg/store"
)

// MaxToolIterations and MaxTurnDuration implement spec.md §4.5's multi-turn
// safety caps: "hard cap (default 25 iterations per user turn) and a
// wall-clock cap (default 5 min)".
const (
	MaxToolIterations = 25
	MaxTurnDuration   = 5 * time.Minute
)

// MaxHistoryChars approximates a token budget for assembled conversation
// history (spec.md §4.5 step 3's "capped by token budget, oldest-dropped
// with a summary placeholder"); InfraLLM has no local tokenizer, so history
// is capped by a character-count proxy, grounded on the same oldest-first
// drop shape as the teacher's history trimming.
const MaxHistoryChars = 60_000

const titleGenerationModel = "claude-haiku-4-5-20251001"

// OnStatus reports coarse orchestrator lifecycle events ("tool_call",
// "tool_result", "title_generated", ...) to a session's subscribers,
// distinct from OnDelta's raw text stream.
type OnStatus func(event string, detail map[string]any)

// Orchestrator drives one session's SendMessageStream call: prompt assembly,
// provider streaming, tool dispatch, persistence, and cost accounting —
// spec.md §4.5.
type Orchestrator struct {
	provider   Provider
	dispatcher *ToolDispatcher
	mcp        *mcp.Registry

	sessions       store.SessionRepository
	messages       store.MessageRepository
	hosts          store.HostRepository
	hostNotes      store.HostNoteRepository
	policies       store.PolicyRepository
	policyAssigns  store.PolicyAssignmentRepository
	promptSettings store.PromptSettingsRepository

	logger *slog.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	provider Provider,
	dispatcher *ToolDispatcher,
	registry *mcp.Registry,
	sessions store.SessionRepository,
	messages store.MessageRepository,
	hosts store.HostRepository,
	hostNotes store.HostNoteRepository,
	policies store.PolicyRepository,
	policyAssigns store.PolicyAssignmentRepository,
	promptSettings store.PromptSettingsRepository,
) *Orchestrator {
	return &Orchestrator{
		provider:       provider,
		dispatcher:     dispatcher,
		mcp:            registry,
		sessions:       sessions,
		messages:       messages,
		hosts:          hosts,
		hostNotes:      hostNotes,
		policies:       policies,
		policyAssigns:  policyAssigns,
		promptSettings: promptSettings,
		logger:         slog.Default(),
	}
}

// SendMessageStream runs one full user turn: persist, prompt, stream, tool
// loop, persist — spec.md §4.5 steps 1-6. userID is the acting user (the
// session owner for interactive chat, or a job's configured actor for
// triggered runs).
func (o *Orchestrator) SendMessageStream(
	ctx context.Context,
	session *store.Session,
	userID string,
	userMessage string,
	modelOverride string,
	onDelta func(string),
	onStatus OnStatus,
) (*store.Message, error) {
	deadline := time.Now().Add(MaxTurnDuration)
	turnCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := o.persistUserMessage(turnCtx, session, userMessage); err != nil {
		return nil, err
	}

	system, err := o.buildSystemPrompt(turnCtx, session, userID)
	if err != nil {
		return nil, err
	}

	tools, err := o.assembleTools(turnCtx, session.OrganizationID)
	if err != nil {
		return nil, err
	}

	turns, err := o.assembleHistory(turnCtx, session.ID)
	if err != nil {
		return nil, err
	}

	model := modelOverride
	if model == "" {
		model = DefaultModel
	}

	finalText, toolTraces, usage, terminationNote, canceled := o.runToolLoop(
		turnCtx, session, userID, model, system, turns, tools, onDelta, onStatus)

	assistantMsg := &store.Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Role:       store.RoleAssistant,
		Content:    finalText + terminationNote,
		ToolCalls:  toolTraces,
		TokensUsed: usage.InputTokens + usage.OutputTokens,
		CreatedAt:  time.Now(),
	}
	if canceled {
		assistantMsg.Content += "\n\n[canceled]"
	}
	if err := o.messages.Create(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("llm: persist assistant message: %w", err)
	}

	cost := EstimateCost(model, usage)
	if err := o.sessions.UpdateUsage(ctx, session.ID, session.TotalTokens+assistantMsg.TokensUsed, session.TotalCost+cost, time.Now()); err != nil {
		o.logger.Error("llm: update session usage", "error", err, "sessionId", session.ID)
	}

	o.maybeGenerateTitle(ctx, session, userMessage, onStatus)

	if canceled {
		return assistantMsg, context.Canceled
	}
	return assistantMsg, nil
}

// runToolLoop streams provider turns, dispatching tool calls in between,
// until a final stop_reason, a safety cap, or cancellation ends the turn —
// spec.md §4.5 step 5 and the Design Note state machine in spec.md §9:
// {Streaming -> ToolPending -> Streaming}* -> Done|Canceled|TimedOut.
func (o *Orchestrator) runToolLoop(
	ctx context.Context,
	session *store.Session,
	userID, model, system string,
	turns []Turn,
	tools []ToolDefinition,
	onDelta func(string),
	onStatus OnStatus,
) (finalText string, traces []store.ToolCallTrace, usage TokenUsage, terminationNote string, canceled bool) {
	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		if ctx.Err() != nil {
			return finalText, traces, usage, "", true
		}

		resp, err := o.provider.SendStream(ctx, Request{
			Model: model, System: system, Turns: turns, Tools: tools,
		}, onDelta)
		if err != nil {
			if ctx.Err() != nil {
				return finalText, traces, usage, "", true
			}
			return finalText, traces, usage, fmt.Sprintf("\n\n[provider error: %v]", err), false
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		if resp.Text != "" {
			finalText = resp.Text
		}

		turns = append(turns, Turn{Role: RoleAssistant, Content: resp.ContentBlocks})

		if resp.StopReason != StopToolUse || len(resp.ToolCalls) == 0 {
			return finalText, traces, usage, "", false
		}

		resultBlocks := make([]Block, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if onStatus != nil {
				onStatus("tool_call", map[string]any{"name": call.Name, "input": json.RawMessage(call.Input)})
			}

			content, isError := o.dispatcher.Dispatch(ctx, call, session.OrganizationID, userID, session.ID)

			if onStatus != nil {
				onStatus("tool_result", map[string]any{"name": call.Name, "isError": isError})
			}

			traces = append(traces, store.ToolCallTrace{
				CallID: call.ID, Name: call.Name, Arguments: string(call.Input), Result: content, IsError: isError,
			})
			resultBlocks = append(resultBlocks, Block{
				Type: BlockToolResult, ToolUseID: call.ID, ToolResultContent: content, ToolResultIsError: isError,
			})
		}
		turns = append(turns, Turn{Role: RoleUser, Content: resultBlocks})
	}

	return finalText, traces, usage, "\n\n[stopped: reached the maximum number of tool calls for this turn]", false
}

func (o *Orchestrator) persistUserMessage(ctx context.Context, session *store.Session, content string) error {
	msg := &store.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      store.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := o.messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("llm: persist user message: %w", err)
	}
	return nil
}

func (o *Orchestrator) buildSystemPrompt(ctx context.Context, session *store.Session, userID string) (string, error) {
	hosts, err := o.hosts.ListByIDs(ctx, session.OrganizationID, session.HostIDs)
	if err != nil {
		return "", fmt.Errorf("llm: list hosts: %w", err)
	}

	notes := make(map[string]*store.HostNote, len(hosts))
	for _, h := range hosts {
		note, err := o.hostNotes.Get(ctx, session.OrganizationID, h.ID)
		if err == nil && note != nil {
			notes[h.ID] = note
		}
	}

	var hostID string
	if len(session.HostIDs) == 1 {
		hostID = session.HostIDs[0]
	}
	enabled, err := o.policies.ListEnabledForUser(ctx, session.OrganizationID, userID, hostID)
	if err != nil {
		return "", fmt.Errorf("llm: list policies: %w", err)
	}
	assignments, err := o.policyAssigns.ListForUser(ctx, session.OrganizationID, userID)
	if err != nil {
		return "", fmt.Errorf("llm: list policy assignments: %w", err)
	}
	policyByID := make(map[string]*store.Policy, len(enabled))
	for _, p := range enabled {
		policyByID[p.ID] = p
	}
	policySummary := SummarizePolicies(assignments, policyByID)

	settings, err := o.promptSettings.Get(ctx, session.OrganizationID, userID)
	if err != nil {
		settings = nil // no customization configured is not an error
	}

	mcpTools, err := o.mcp.GetToolDefinitions(ctx, session.OrganizationID)
	if err != nil {
		o.logger.Warn("llm: list mcp tools for system prompt", "error", err)
	}

	return BuildSystemPrompt(settings, hosts, notes, policySummary, mcpTools), nil
}

func (o *Orchestrator) assembleTools(ctx context.Context, organizationID string) ([]ToolDefinition, error) {
	tools := builtinToolDefinitions()

	mcpTools, err := o.mcp.GetToolDefinitions(ctx, organizationID)
	if err != nil {
		return tools, nil // degrade to built-ins only, matching GetToolDefinitions' own partial-failure stance
	}
	for _, t := range mcpTools {
		tools = append(tools, ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return tools, nil
}

// assembleHistory loads a session's prior messages and converts them to the
// provider's Turn format, dropping the oldest messages first (replaced by a
// single summary placeholder turn) once MaxHistoryChars is exceeded —
// spec.md §4.5 step 3.
func (o *Orchestrator) assembleHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	msgs, err := o.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("llm: list session messages: %w", err)
	}

	total := 0
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		total += len(msgs[i].Content)
		if total > MaxHistoryChars {
			start = i + 1
			break
		}
	}

	var turns []Turn
	if start > 0 {
		turns = append(turns, Turn{
			Role:    RoleUser,
			Content: []Block{{Type: BlockText, Text: fmt.Sprintf("[%d earlier messages omitted for length]", start)}},
		})
	}
	for _, m := range msgs[start:] {
		turns = append(turns, messageToTurn(m))
	}
	return turns, nil
}

func messageToTurn(m *store.Message) Turn {
	role := RoleUser
	if m.Role == store.RoleAssistant {
		role = RoleAssistant
	}

	blocks := []Block{{Type: BlockText, Text: m.Content}}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks,
			Block{Type: BlockToolUse, ToolUseID: tc.CallID, ToolName: tc.Name, ToolInput: json.RawMessage(tc.Arguments)},
		)
	}
	return Turn{Role: role, Content: blocks}
}

// maybeGenerateTitle asynchronously requests a short title once a session
// has accumulated enough history and has none yet — spec.md §4.5 step 6.
// Failures are logged, never surfaced to the caller: a missing title is
// cosmetic.
func (o *Orchestrator) maybeGenerateTitle(ctx context.Context, session *store.Session, userMessage string, onStatus OnStatus) {
	if session.Title != "" {
		return
	}

	go func() {
		titleCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := o.provider.SendStream(titleCtx, Request{
			Model:     titleGenerationModel,
			System:    "Generate a short (max 6 words) descriptive title for this conversation. Respond with only the title text, no quotes or punctuation.",
			Turns:     []Turn{{Role: RoleUser, Content: []Block{{Type: BlockText, Text: userMessage}}}},
			MaxTokens: 32,
		}, nil)
		if err != nil {
			o.logger.Warn("llm: title generation failed", "error", err, "sessionId", session.ID)
			return
		}

		if err := o.sessions.UpdateTitle(titleCtx, session.ID, resp.Text); err != nil {
			o.logger.Warn("llm: persist generated title", "error", err, "sessionId", session.ID)
			return
		}
		if onStatus != nil {
			onStatus("title_generated", map[string]any{"title": resp.Text})
		}
	}()
}
