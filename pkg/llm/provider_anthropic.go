package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// RetryAttempts and RetryBaseDelay implement spec.md §7's "LLM provider
// rate-limit errors are retried with exponential backoff (3 attempts,
// base 2s) before surfacing".
const (
	RetryAttempts  = 3
	RetryBaseDelay = 2 * time.Second
)

// DefaultModel is used when a session has no override.
const DefaultModel = "claude-sonnet-4-5-20250929"

// DefaultMaxTokens bounds a single provider response.
const DefaultMaxTokens = 8192

// AnthropicProvider implements Provider against the real Anthropic
// messages API via anthropics/anthropic-sdk-go.
type AnthropicProvider struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider constructs an AnthropicProvider. baseURL may be
// empty to use the default Anthropic endpoint.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		logger: slog.Default(),
	}
}

// SendStream opens a streaming messages call, forwards text deltas to
// onDelta as they arrive, and returns the fully-collected Response once the
// stream ends. Rate-limit (429) responses are retried with jittered
// exponential backoff before surfacing as an error.
func (p *AnthropicProvider) SendStream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	params := p.buildParams(req)

	var lastErr error
	for attempt := 0; attempt < RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.sendOnce(ctx, params, onDelta)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRateLimited(err) {
			return nil, err
		}
		p.logger.Warn("llm: rate limited, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("llm: exhausted retries: %w", lastErr)
}

func (p *AnthropicProvider) sendOnce(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (*Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, params)

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("llm: accumulate stream event: %w", err)
		}

		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && onDelta != nil {
				onDelta(textDelta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("llm: stream: %w", err)
	}

	return fromProviderMessage(&message), nil
}

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages:  toProviderMessages(req.Turns),
		Tools:     toProviderTools(req.Tools),
	}
}

func toProviderMessages(turns []Turn) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(t.Content))
		for _, b := range t.Content {
			switch b.Type {
			case BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case BlockToolUse:
				var input any
				_ = json.Unmarshal(b.ToolInput, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.ToolResultContent, b.ToolResultIsError))
			}
		}
		if t.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}
	return msgs
}

func toProviderTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: "object"}
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schema)
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func fromProviderMessage(m *anthropic.Message) *Response {
	resp := &Response{
		StopReason: StopReason(m.StopReason),
		Usage: TokenUsage{
			InputTokens:  m.Usage.InputTokens,
			OutputTokens: m.Usage.OutputTokens,
		},
	}

	for _, block := range m.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += v.Text
			resp.ContentBlocks = append(resp.ContentBlocks, Block{Type: BlockText, Text: v.Text})
		case anthropic.ToolUseBlock:
			input, _ := v.Input.(json.RawMessage)
			if input == nil {
				input, _ = json.Marshal(v.Input)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: v.ID, Name: v.Name, Input: input})
			resp.ContentBlocks = append(resp.ContentBlocks, Block{
				Type: BlockToolUse, ToolUseID: v.ID, ToolName: v.Name, ToolInput: input,
			})
		}
	}
	return resp
}

// isRateLimited reports whether err came back as an HTTP 429 from the
// Anthropic API.
func isRateLimited(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
