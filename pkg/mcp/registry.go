// Registry aggregates tool catalogs across an organization's MCP servers
// and routes namespaced dispatch calls — grounded on the teacher's
// ToolExecutor (pkg/mcp/executor.go): namespaced tool names, error-as-
// tool-result-content convention, text-content extraction — adapted from a
// static per-session server list to a dynamic per-organization registry
// that resolves servers from the store on every call (spec.md §4.7).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/infrallm/infrallm/pkg/crypto"
	"github.com/infrallm/infrallm/pkg/store"
)

// ToolCacheTTL is how long a server's listed tools are memoized before the
// registry re-probes it (spec.md §4.7 "short-lived cache, default 60s").
const ToolCacheTTL = 60 * time.Second

// OperationTimeout bounds a single listTools/callTool round trip.
const OperationTimeout = 60 * time.Second

// ToolDefinition is the provider-agnostic shape the LLM orchestrator wraps
// into its own tool-definition format.
type ToolDefinition struct {
	Name        string // namespaced: mcp__{server}__{tool}
	Description string
	InputSchema json.RawMessage
}

type cacheEntry struct {
	tools     []ToolDefinition
	fetchedAt time.Time
}

// Registry aggregates MCP tool catalogs and dispatches calls across an
// organization's enabled servers.
type Registry struct {
	servers    store.McpServerRepository
	stdioCache *StdioCache
	cipher     *crypto.Cipher

	mu    sync.Mutex
	cache map[string]cacheEntry // "orgID/serverID" -> entry
}

// NewRegistry constructs a Registry.
func NewRegistry(servers store.McpServerRepository, stdioCache *StdioCache, cipher *crypto.Cipher) *Registry {
	return &Registry{
		servers:    servers,
		stdioCache: stdioCache,
		cipher:     cipher,
		cache:      make(map[string]cacheEntry),
	}
}

// GetToolDefinitions lists and namespaces tools across every enabled MCP
// server in orgID, per spec.md §4.7. Servers that fail to respond are
// skipped (partial results are better than none); this mirrors the
// teacher's ListAllTools partial-failure semantics.
func (r *Registry) GetToolDefinitions(ctx context.Context, orgID string) ([]ToolDefinition, error) {
	servers, err := r.servers.ListEnabledByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("mcp: list enabled servers: %w", err)
	}

	var all []ToolDefinition
	for _, server := range servers {
		tools, err := r.toolsFor(ctx, orgID, server)
		if err != nil {
			continue
		}
		all = append(all, tools...)
	}
	return all, nil
}

func (r *Registry) toolsFor(ctx context.Context, orgID string, server *store.McpServer) ([]ToolDefinition, error) {
	key := orgID + "/" + server.ID

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < ToolCacheTTL {
		return entry.tools, nil
	}

	session, cleanup, err := r.sessionFor(ctx, server)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools from %q: %w", server.Name, err)
	}

	tools := make([]ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolDefinition{
			Name:        namespacedName(server.Name, t.Name),
			Description: t.Description,
			InputSchema: marshalSchema(t.InputSchema),
		})
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{tools: tools, fetchedAt: time.Now()}
	r.mu.Unlock()

	return tools, nil
}

// Dispatch parses a namespaced tool name, locates its server in orgID, and
// invokes callTool — spec.md §4.7. Errors come back as tool-result strings,
// never as a Go error, matching the teacher's MCP convention.
func (r *Registry) Dispatch(ctx context.Context, namespacedToolName string, args map[string]any, orgID string) (content string, isError bool) {
	serverName, toolName, err := splitNamespacedName(namespacedToolName)
	if err != nil {
		return err.Error(), true
	}

	server, err := r.servers.GetByName(ctx, orgID, serverName)
	if err != nil {
		return fmt.Sprintf("mcp server %q not found: %v", serverName, err), true
	}

	session, cleanup, err := r.sessionFor(ctx, server)
	if err != nil {
		return fmt.Sprintf("failed to connect to mcp server %q: %v", serverName, err), true
	}
	defer cleanup()

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return fmt.Sprintf("mcp tool call failed: %v", err), true
	}

	return extractTextContent(result), result.IsError
}

// sessionFor returns a ready session for server plus a cleanup func. Stdio
// sessions are long-lived (owned by the StdioCache, cleanup is a no-op);
// HTTP sessions are opened fresh per call and closed by cleanup, per
// spec.md §4.7's "stateless per call" HTTP transport.
func (r *Registry) sessionFor(ctx context.Context, server *store.McpServer) (*mcpsdk.ClientSession, func(), error) {
	if server.TransportType == store.McpTransportStdio {
		session, err := r.stdioCache.Get(ctx, server)
		if err != nil {
			return nil, nil, err
		}
		return session, func() {}, nil
	}

	apiKey := ""
	if server.APIKeyEncrypted != "" {
		decrypted, err := r.cipher.Decrypt(server.APIKeyEncrypted)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt mcp api key: %w", err)
		}
		apiKey = decrypted
	}

	transport := createHTTPTransport(server, apiKey, false)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "infrallm", Version: "1"}, nil)

	initCtx, cancel := context.WithTimeout(ctx, DefaultInitTimeout)
	defer cancel()
	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %q: %w", server.Name, err)
	}
	return session, func() { _ = session.Close() }, nil
}

func namespacedName(serverName, toolName string) string {
	return fmt.Sprintf("mcp__%s__%s", serverName, toolName)
}

func splitNamespacedName(name string) (serverName, toolName string, err error) {
	if !strings.HasPrefix(name, "mcp__") {
		return "", "", fmt.Errorf("not a namespaced mcp tool name: %q", name)
	}
	rest := strings.TrimPrefix(name, "mcp__")
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed mcp tool name: %q", name)
	}
	return parts[0], parts[1], nil
}

func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func marshalSchema(schema any) json.RawMessage {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return data
}
