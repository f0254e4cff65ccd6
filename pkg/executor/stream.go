package executor

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/infrallm/infrallm/pkg/apperr"
)

// Chunk is one piece of a streamed command's output.
type Chunk struct {
	Data  []byte
	Done  bool  // true on the final chunk, successful or not
	Error error // non-nil if the stream ended abnormally (timeout, cancellation, record failure)
}

// StreamCommandOutput gates and leases exactly like Execute, then yields
// stdout chunks on the returned channel as they arrive — spec.md §4.4's
// streaming variant. The channel is closed on process exit, timeout, or
// ctx cancellation; canceling ctx signals the remote process and releases
// the lease (spec.md §5 cancellation honored within ~1s).
func (e *Executor) StreamCommandOutput(ctx context.Context, organizationID, userID, hostID, command string, opts Options) (<-chan Chunk, error) {
	decision, release, err := e.gate(ctx, organizationID, userID, hostID, command)
	if err != nil {
		return nil, err
	}
	if decision != nil {
		return nil, decision
	}

	out := make(chan Chunk, 16)

	if opts.DryRun {
		result, err := e.executeDryRun(ctx, organizationID, userID, hostID, command, opts)
		if err != nil {
			release()
			return nil, err
		}
		go func() {
			defer release()
			out <- Chunk{Data: []byte(result.Stdout)}
			out <- Chunk{Done: true}
			close(out)
		}()
		return out, nil
	}

	host, cred, secret, err := e.resolveHostCredential(ctx, organizationID, hostID)
	if err != nil {
		release()
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)

	conn, err := e.pool.Get(execCtx, host, *cred)
	if err != nil {
		cancel()
		release()
		return nil, err
	}

	session, err := conn.NewSession()
	if err != nil {
		cancel()
		conn.Release()
		release()
		return nil, apperr.Upstream(fmt.Sprintf("open ssh session on host %s", host.Hostname), err)
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		cancel()
		session.Close()
		conn.Release()
		release()
		return nil, apperr.Upstream("open stdout pipe", err)
	}

	if err := session.Start(command); err != nil {
		cancel()
		session.Close()
		conn.Release()
		release()
		return nil, apperr.Upstream(fmt.Sprintf("start command on host %s", host.Hostname), err)
	}

	start := time.Now()
	var totalCaptured int
	go func() {
		defer release()
		defer cancel()
		defer session.Close()
		defer conn.Release()
		defer close(out)

		waitDone := make(chan error, 1)
		go func() { waitDone <- session.Wait() }()

		reader := bufio.NewReaderSize(stdoutPipe, 32*1024)
		buf := make([]byte, 32*1024)
		for {
			n, readErr := reader.Read(buf)
			if n > 0 {
				if totalCaptured < MaxCapturedBytes {
					// Redacted per-chunk before it ever reaches a hub subscriber,
					// per spec.md §4.4; a secret split across a chunk boundary is
					// a known limitation of streaming (see redact.go).
					redacted := []byte(e.redactor.apply(string(buf[:n]), secret))
					out <- Chunk{Data: redacted}
					totalCaptured += n
				}
			}
			if readErr != nil {
				break
			}
			select {
			case <-execCtx.Done():
				_ = session.Signal(ssh.SIGTERM)
				out <- Chunk{Done: true, Error: execCtx.Err()}
				return
			default:
			}
		}

		waitErr := <-waitDone
		exitCode := 0
		if waitErr != nil {
			if exitErr, ok := waitErr.(interface{ ExitStatus() int }); ok {
				exitCode = exitErr.ExitStatus()
			}
		}

		result := &Result{
			ExitCode:   exitCode,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if recErr := e.record(context.WithoutCancel(ctx), result, organizationID, userID, hostID, command, opts); recErr != nil {
			out <- Chunk{Done: true, Error: recErr}
			return
		}
		out <- Chunk{Done: true}
	}()

	return out, nil
}
