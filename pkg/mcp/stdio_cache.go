// Package mcp maintains the catalog of external MCP tool servers and
// dispatches namespaced tool calls across them — spec.md §4.7.
//
// StdioCache is grounded on the teacher's per-server reinit-mutex + warm
// session map (codeready-toolchain/tarsy pkg/mcp/client.go: sync.Map of
// per-server mutexes guarding lazy (re)connection, a sessions map holding
// live *mcpsdk.ClientSession), adapted from a per-Client-instance map into
// a process-wide singleton keyed by McpServer.ID with an idle janitor,
// since InfraLLM's stdio servers must survive across sessions rather than
// being torn down with each one (spec.md §4.7 "keeps subprocesses warm").
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/infrallm/infrallm/pkg/store"
	"github.com/infrallm/infrallm/pkg/version"
)

// DefaultInitTimeout bounds how long connecting to a single MCP server may take.
const DefaultInitTimeout = 15 * time.Second

// DefaultIdleTimeout is how long a warm stdio client may sit unused before
// the janitor terminates its subprocess.
const DefaultIdleTimeout = 15 * time.Minute

type warmClient struct {
	client    *mcpsdk.Client
	session   *mcpsdk.ClientSession
	lastUsed  time.Time
	transport io.Closer // set when the transport itself needs explicit teardown
}

// StdioCache is a process-wide map of serverID -> warm subprocess-backed
// MCP client. Get launches on miss; a background janitor evicts idle
// entries, and the next Get after eviction respawns transparently.
type StdioCache struct {
	mu      sync.Mutex
	clients map[string]*warmClient

	// reinitMu serializes (re)connection per server to avoid a thundering
	// herd of subprocess launches for the same server under concurrency.
	reinitMu sync.Map // serverID -> *sync.Mutex

	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewStdioCache constructs a StdioCache and starts its idle janitor.
func NewStdioCache() *StdioCache {
	c := &StdioCache{
		clients:     make(map[string]*warmClient),
		idleTimeout: DefaultIdleTimeout,
		stop:        make(chan struct{}),
	}
	go c.janitorLoop()
	return c
}

// Close terminates every warm subprocess and stops the janitor.
func (c *StdioCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, wc := range c.clients {
		c.closeWarm(wc)
		delete(c.clients, id)
	}
}

// Get returns the warm client for server, launching its subprocess on miss.
func (c *StdioCache) Get(ctx context.Context, server *store.McpServer) (*mcpsdk.ClientSession, error) {
	muI, _ := c.reinitMu.LoadOrStore(server.ID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if wc, ok := c.clients[server.ID]; ok {
		wc.lastUsed = time.Now()
		c.mu.Unlock()
		return wc.session, nil
	}
	c.mu.Unlock()

	session, client, transport, err := connectStdio(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("mcp: launch stdio server %q: %w", server.Name, err)
	}

	c.mu.Lock()
	c.clients[server.ID] = &warmClient{client: client, session: session, lastUsed: time.Now(), transport: transport}
	c.mu.Unlock()

	slog.Info("mcp: stdio server warmed", "server", server.Name, "command", server.Command)
	return session, nil
}

// Evict terminates and removes the warm client for serverID, if any.
func (c *StdioCache) Evict(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wc, ok := c.clients[serverID]; ok {
		c.closeWarm(wc)
		delete(c.clients, serverID)
	}
}

func (c *StdioCache) closeWarm(wc *warmClient) {
	_ = wc.session.Close()
	if wc.transport != nil {
		_ = wc.transport.Close()
	}
}

func (c *StdioCache) janitorLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.reapIdle()
		}
	}
}

func (c *StdioCache) reapIdle() {
	cutoff := time.Now().Add(-c.idleTimeout)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, wc := range c.clients {
		if wc.lastUsed.Before(cutoff) {
			slog.Info("mcp: evicting idle stdio server", "server", id)
			c.closeWarm(wc)
			delete(c.clients, id)
		}
	}
}

// WarmupAll connects every server in servers up front, logging (not
// failing) on individual errors — used by a startup hosted task to
// prelaunch every enabled stdio server for every organization (spec.md
// §4.7).
func (c *StdioCache) WarmupAll(ctx context.Context, servers []*store.McpServer) {
	for _, s := range servers {
		if s.TransportType != store.McpTransportStdio {
			continue
		}
		if _, err := c.Get(ctx, s); err != nil {
			slog.Warn("mcp: warmup failed", "server", s.Name, "error", err)
		}
	}
}

func connectStdio(ctx context.Context, server *store.McpServer) (*mcpsdk.ClientSession, *mcpsdk.Client, io.Closer, error) {
	transport, err := createStdioTransport(server)
	if err != nil {
		return nil, nil, nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, DefaultInitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, nil, nil, err
	}

	closer, _ := transport.(io.Closer)
	return session, client, closer, nil
}
