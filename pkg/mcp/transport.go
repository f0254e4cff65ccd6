package mcp

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/infrallm/infrallm/pkg/store"
)

// createStdioTransport builds the subprocess transport for a Stdio McpServer,
// grounded on the teacher's createStdioTransport (pkg/mcp/transport.go):
// inherit the parent environment, append per-server overrides.
func createStdioTransport(server *store.McpServer) (*mcpsdk.CommandTransport, error) {
	if server.Command == "" {
		return nil, fmt.Errorf("stdio transport requires a command (server %q)", server.Name)
	}

	cmd := exec.Command(server.Command, server.Arguments...)
	if server.WorkingDirectory != "" {
		cmd.Dir = server.WorkingDirectory
	}

	env := os.Environ()
	for k, v := range server.EnvironmentVariables {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// createHTTPTransport builds the stateless HTTP transport for an Http
// McpServer. apiKey is the already-decrypted bearer token, or empty.
func createHTTPTransport(server *store.McpServer, apiKey string, allowInsecureTLS bool) *mcpsdk.StreamableClientTransport {
	transport := &mcpsdk.StreamableClientTransport{Endpoint: server.BaseURL}
	if apiKey != "" || allowInsecureTLS {
		transport.HTTPClient = buildHTTPClient(apiKey, allowInsecureTLS)
	}
	return transport
}

// buildHTTPClient shares one *http.Client shape across HTTP MCP servers:
// optional self-signed-cert tolerance (spec.md §4.7) and a bearer-token
// round-tripper wrapper.
func buildHTTPClient(apiKey string, allowInsecureTLS bool) *http.Client {
	rt := http.DefaultTransport.(*http.Transport).Clone()
	if allowInsecureTLS {
		rt.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // operator-opted-in per McpServer config
			MinVersion:         tls.VersionTLS12,
		}
	}

	client := &http.Client{Transport: rt, Timeout: 60 * time.Second}
	if apiKey != "" {
		client.Transport = &bearerTokenTransport{base: client.Transport, token: apiKey}
	}
	return client
}

type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
