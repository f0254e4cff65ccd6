package sshpool

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/infrallm/infrallm/pkg/store"
)

// startTestSSHServer runs a minimal in-process SSH server accepting any
// password, so the pool's dial/lease/release path exercises a real
// golang.org/x/crypto/ssh handshake rather than a mock.
func startTestSSHServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := gossh.NewSignerFromSigner(priv)
	require.NoError(t, err)

	cfg := &gossh.ServerConfig{
		PasswordCallback: func(conn gossh.ConnMetadata, password []byte) (*gossh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				close(done)
				return
			}
			go func() {
				sconn, chans, reqs, err := gossh.NewServerConn(conn, cfg)
				if err != nil {
					return
				}
				defer sconn.Close()
				go gossh.DiscardRequests(reqs)
				for newChannel := range chans {
					if newChannel.ChannelType() != "session" {
						_ = newChannel.Reject(gossh.UnknownChannelType, "not supported")
						continue
					}
					channel, requests, err := newChannel.Accept()
					if err != nil {
						continue
					}
					go gossh.DiscardRequests(requests)
					go channel.Close()
				}
			}()
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close(); <-done }
}

func testHost(t *testing.T, addr string) *store.Host {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &store.Host{ID: "host-1", Hostname: host, Port: port, Username: "root"}
}

func TestPoolGetAndReleaseReusesConnection(t *testing.T) {
	addr, stop := startTestSSHServer(t)
	defer stop()

	p := New()
	defer p.Close()

	host := testHost(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := p.Get(ctx, host, Credential{Password: "anything"})
	require.NoError(t, err)
	require.Equal(t, Stats{Leased: 1, Idle: 0}, p.Stats(host.ID))

	conn.Release()
	require.Equal(t, Stats{Leased: 0, Idle: 1}, p.Stats(host.ID))

	conn2, err := p.Get(ctx, host, Credential{Password: "anything"})
	require.NoError(t, err)
	require.Equal(t, Stats{Leased: 1, Idle: 0}, p.Stats(host.ID))
	conn2.Release()
}

func TestPoolInvalidateClosesIdleConnections(t *testing.T) {
	addr, stop := startTestSSHServer(t)
	defer stop()

	p := New()
	defer p.Close()

	host := testHost(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := p.Get(ctx, host, Credential{Password: "anything"})
	require.NoError(t, err)
	conn.Release()
	require.Equal(t, 1, p.Stats(host.ID).Idle)

	p.Invalidate(host.ID)
	require.Equal(t, 0, p.Stats(host.ID).Idle)
}

func TestPoolRejectsOverCapacity(t *testing.T) {
	addr, stop := startTestSSHServer(t)
	defer stop()

	p := New()
	p.maxPerHost = 1
	defer p.Close()

	host := testHost(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := p.Get(ctx, host, Credential{Password: "anything"})
	require.NoError(t, err)

	_, err = p.Get(ctx, host, Credential{Password: "anything"})
	require.Error(t, err)

	conn.Release()
}

func TestTestConnectionSucceedsAgainstLiveServer(t *testing.T) {
	addr, stop := startTestSSHServer(t)
	defer stop()

	host := testHost(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := TestConnection(ctx, host, Credential{Password: "anything"})
	require.NoError(t, err)
}
