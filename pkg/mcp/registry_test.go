package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/crypto"
	"github.com/infrallm/infrallm/pkg/store"
)

func TestSplitNamespacedName(t *testing.T) {
	server, tool, err := splitNamespacedName("mcp__weather__forecast")
	require.NoError(t, err)
	require.Equal(t, "weather", server)
	require.Equal(t, "forecast", tool)

	_, _, err = splitNamespacedName("run_command")
	require.Error(t, err)

	_, _, err = splitNamespacedName("mcp__onlyserver")
	require.Error(t, err)
}

func TestNamespacedNameRoundTrip(t *testing.T) {
	name := namespacedName("weather", "forecast")
	require.Equal(t, "mcp__weather__forecast", name)
	server, tool, err := splitNamespacedName(name)
	require.NoError(t, err)
	require.Equal(t, "weather", server)
	require.Equal(t, "forecast", tool)
}

type fakeMcpServers struct{}

func (fakeMcpServers) ListEnabledByOrganization(ctx context.Context, orgID string) ([]*store.McpServer, error) {
	return nil, nil
}
func (fakeMcpServers) Get(ctx context.Context, orgID, id string) (*store.McpServer, error) {
	return nil, apperr.NotFound("mcp server", id)
}
func (fakeMcpServers) GetByName(ctx context.Context, orgID, name string) (*store.McpServer, error) {
	return nil, apperr.NotFound("mcp server", name)
}

func TestDispatchUnknownServerReturnsErrorContent(t *testing.T) {
	reg := NewRegistry(fakeMcpServers{}, NewStdioCache(), crypto.NewCipher("test"))
	content, isError := reg.Dispatch(context.Background(), "mcp__weather__forecast", nil, "org-1")
	require.True(t, isError)
	require.Contains(t, content, "weather")
}

func TestDispatchMalformedNameReturnsErrorContent(t *testing.T) {
	reg := NewRegistry(fakeMcpServers{}, NewStdioCache(), crypto.NewCipher("test"))
	content, isError := reg.Dispatch(context.Background(), "run_command", nil, "org-1")
	require.True(t, isError)
	require.Contains(t, content, "namespaced")
}
