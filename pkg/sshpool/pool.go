// Package sshpool manages leased SSH connections to hosts under policy
// control.
//
// The per-host bounded pool with a reinitialization mutex and an idle
// reaper is grounded on the teacher's MCP session manager
// (codeready-toolchain/tarsy pkg/mcp/client.go: sync.Map of per-server
// mutexes guarding lazy (re)connection, plus a long-lived map of live
// sessions). The lease/connect-on-demand lifecycle itself follows the
// SSH-MCP-server reference's Pool shape (other_examples
// Harsh-2002-SSH cmd/server/main.go), adapted from a single global/
// per-MCP-session pool into a per-host, per-organization bounded pool.
package sshpool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

// DialTimeout bounds how long a single connection attempt may take.
const DialTimeout = 10 * time.Second

// DefaultMaxPerHost caps concurrent leased connections to one host
// (spec.md §4.2: "total clients per host is bounded (default 4)"). Actual
// per-policy concurrency is additionally bounded by the assigned Policy's
// MaxConcurrentCommands, enforced by pkg/executor's concurrencyGate above
// this layer; this is a hard ceiling against misconfiguration regardless of
// policy settings.
const DefaultMaxPerHost = 4

// DefaultIdleTimeout is how long an unleased connection may sit idle in the
// pool before the reaper closes it.
const DefaultIdleTimeout = 10 * time.Minute

// Credential resolves to the SSH auth material a Pool needs to dial a Host.
// Exactly one of Password or PrivateKeyPEM is populated, decided by the
// Credential's Kind at the call site.
type Credential struct {
	Password      string
	PrivateKeyPEM string
	Passphrase    string
}

// Conn is a leased connection. Callers must call Release when done; the
// connection returns to the pool rather than closing, unless the pool
// decides it is unhealthy.
type Conn struct {
	*ssh.Client

	hostID    string
	pool      *Pool
	leasedAt  time.Time
	returned  bool
	returnMu  sync.Mutex
}

// Release returns the connection to its host pool. Safe to call more than
// once; only the first call has effect.
func (c *Conn) Release() {
	c.returnMu.Lock()
	defer c.returnMu.Unlock()
	if c.returned {
		return
	}
	c.returned = true
	c.pool.release(c.hostID, c)
}

type pooledConn struct {
	client   *ssh.Client
	lastUsed time.Time
}

type hostPool struct {
	mu      sync.Mutex
	idle    []*pooledConn
	leased  int
	maxConn int
}

// Pool leases bounded, per-host SSH connections and reaps idle ones.
type Pool struct {
	mu    sync.RWMutex
	hosts map[string]*hostPool

	maxPerHost  int
	idleTimeout time.Duration

	stopReaper chan struct{}
}

// New constructs a Pool with the default per-host limit and idle timeout,
// and starts its idle reaper goroutine.
func New() *Pool {
	return NewWithOptions(DefaultMaxPerHost, DefaultIdleTimeout)
}

// NewWithOptions constructs a Pool with an operator-configured per-host
// connection cap and idle timeout (spec.md §4.1's SSH_POOL_MAX_PER_HOST /
// SSH_POOL_IDLE_TIMEOUT settings), falling back to the defaults for
// non-positive values.
func NewWithOptions(maxPerHost int, idleTimeout time.Duration) *Pool {
	if maxPerHost <= 0 {
		maxPerHost = DefaultMaxPerHost
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	p := &Pool{
		hosts:       make(map[string]*hostPool),
		maxPerHost:  maxPerHost,
		idleTimeout: idleTimeout,
		stopReaper:  make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Close stops the reaper and closes every idle connection. Leased
// connections are left to their callers to Release; once released they see
// a torn-down pool and are closed immediately.
func (p *Pool) Close() {
	close(p.stopReaper)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hp := range p.hosts {
		hp.mu.Lock()
		for _, c := range hp.idle {
			_ = c.client.Close()
		}
		hp.idle = nil
		hp.mu.Unlock()
	}
}

func (p *Pool) hostPoolFor(hostID string) *hostPool {
	p.mu.RLock()
	hp, ok := p.hosts[hostID]
	p.mu.RUnlock()
	if ok {
		return hp
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if hp, ok = p.hosts[hostID]; ok {
		return hp
	}
	hp = &hostPool{maxConn: p.maxPerHost}
	p.hosts[hostID] = hp
	return hp
}

// Get leases a connection to host, reusing an idle one if available and
// dialing a fresh one otherwise. Blocks only as long as dialing takes; it
// does not wait for another lease to free up (concurrency limits are the
// policy layer's job, not the pool's).
func (p *Pool) Get(ctx context.Context, host *store.Host, cred Credential) (*Conn, error) {
	hp := p.hostPoolFor(host.ID)

	hp.mu.Lock()
	if n := len(hp.idle); n > 0 {
		pc := hp.idle[n-1]
		hp.idle = hp.idle[:n-1]
		hp.leased++
		hp.mu.Unlock()
		return &Conn{Client: pc.client, hostID: host.ID, pool: p, leasedAt: time.Now()}, nil
	}
	if hp.leased >= hp.maxConn {
		hp.mu.Unlock()
		return nil, apperr.Upstream(fmt.Sprintf("ssh pool exhausted for host %s", host.Hostname), nil)
	}
	hp.leased++
	hp.mu.Unlock()

	client, err := dial(ctx, host, cred)
	if err != nil {
		hp.mu.Lock()
		hp.leased--
		hp.mu.Unlock()
		return nil, apperr.Upstream(fmt.Sprintf("dial %s@%s:%d", host.Username, host.Hostname, host.Port), err)
	}
	return &Conn{Client: client, hostID: host.ID, pool: p, leasedAt: time.Now()}, nil
}

func (p *Pool) release(hostID string, c *Conn) {
	hp := p.hostPoolFor(hostID)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.leased--

	select {
	case <-p.stopReaper:
		_ = c.Client.Close()
		return
	default:
	}

	hp.idle = append(hp.idle, &pooledConn{client: c.Client, lastUsed: time.Now()})
}

// Invalidate closes and discards every idle connection for hostID, forcing
// the next Get to dial fresh. Called after TestConnection observes a
// previously-healthy host has become unreachable.
func (p *Pool) Invalidate(hostID string) {
	hp := p.hostPoolFor(hostID)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for _, c := range hp.idle {
		_ = c.client.Close()
	}
	hp.idle = nil
}

// TestConnection dials, runs a no-op session, and closes immediately,
// reporting whether host is currently reachable. It never consults or
// mutates the pool's idle set; spec.md requires host status to change only
// through this explicit probe, never implicitly from a failed lease.
func TestConnection(ctx context.Context, host *store.Host, cred Credential) error {
	client, err := dial(ctx, host, cred)
	if err != nil {
		return apperr.Upstream(fmt.Sprintf("test connection to %s", host.Hostname), err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return apperr.Upstream("open test session", err)
	}
	defer session.Close()
	return nil
}

func dial(ctx context.Context, host *store.Host, cred Credential) (*ssh.Client, error) {
	auth, err := authMethod(cred)
	if err != nil {
		return nil, err
	}

	// Host key pinning against a known_hosts store is out of scope (spec.md
	// Non-goals); AllowInsecureSSL only documents that the operator has
	// acknowledged this, it doesn't change the dial behavior below.
	_ = host.AllowInsecureSSL

	cfg := &ssh.ClientConfig{
		User:            host.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         DialTimeout,
	}

	addr := net.JoinHostPort(host.Hostname, fmt.Sprintf("%d", host.Port))
	dialer := &net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func authMethod(cred Credential) (ssh.AuthMethod, error) {
	if cred.PrivateKeyPEM != "" {
		var signer ssh.Signer
		var err error
		if cred.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cred.PrivateKeyPEM), []byte(cred.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(cred.PrivateKeyPEM))
		}
		if err != nil {
			return nil, fmt.Errorf("sshpool: parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(cred.Password), nil
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	cutoff := time.Now().Add(-p.idleTimeout)

	p.mu.RLock()
	pools := make([]*hostPool, 0, len(p.hosts))
	for _, hp := range p.hosts {
		pools = append(pools, hp)
	}
	p.mu.RUnlock()

	for _, hp := range pools {
		hp.mu.Lock()
		kept := hp.idle[:0]
		for _, c := range hp.idle {
			if c.lastUsed.Before(cutoff) {
				_ = c.client.Close()
				continue
			}
			kept = append(kept, c)
		}
		hp.idle = kept
		hp.mu.Unlock()
	}
}

// Stats reports current lease/idle counts for a host, used by operational
// dashboards and tests.
type Stats struct {
	Leased int
	Idle   int
}

// Stats returns the current Stats for hostID.
func (p *Pool) Stats(hostID string) Stats {
	hp := p.hostPoolFor(hostID)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return Stats{Leased: hp.leased, Idle: len(hp.idle)}
}
