package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

const (
	// maxOutputBytes caps captured stdout/stderr to prevent OOM from
	// chatty commands.
	maxOutputBytes = 8 << 20 // 8 MB

	// drainGrace bounds how long the output drains may flush after a
	// forced kill before supervise gives up on them.
	drainGrace = 2 * time.Second
)

// superviseOpts configures one supervised run of an already-built command.
type superviseOpts struct {
	ctx      context.Context
	timeout  time.Duration
	grace    time.Duration
	capture  bool
	maxBytes int

	// Optional incremental taps for partial-output streaming. Written to
	// even when capture is false.
	stdoutTap io.Writer
	stderrTap io.Writer

	// kill forcibly terminates the command (and everything it spawned)
	// on timeout or cancellation.
	kill func() error
}

// superviseOutcome is the raw outcome before it is shaped into a Result.
type superviseOutcome struct {
	exitCode int
	stdout   string
	stderr   string
	timedOut bool
	duration time.Duration
	err      error // start/wait failure or cancellation; not an ExitError
}

// supervise starts cmd, drains stdout and stderr concurrently, and waits
// for completion bounded by the timeout. The drains are mandatory even when
// output is discarded: OS pipe buffers are bounded, and a process writing
// heavily to an unread stream would deadlock. On timeout the command is
// killed and the drains get a short grace period to flush.
func supervise(cmd *exec.Cmd, opts superviseOpts) superviseOutcome {
	maxBytes := opts.maxBytes
	if maxBytes <= 0 {
		maxBytes = maxOutputBytes
	}
	grace := opts.grace
	if grace <= 0 {
		grace = drainGrace
	}

	var stdoutBuf, stderrBuf syncBuffer
	var stdoutW io.Writer = io.Discard
	var stderrW io.Writer = io.Discard
	if opts.capture {
		stdoutW = &limitedWriter{w: &stdoutBuf, remaining: maxBytes}
		stderrW = &limitedWriter{w: &stderrBuf, remaining: maxBytes}
	}
	if opts.stdoutTap != nil {
		stdoutW = io.MultiWriter(stdoutW, opts.stdoutTap)
	}
	if opts.stderrTap != nil {
		stderrW = io.MultiWriter(stderrW, opts.stderrTap)
	}
	// os/exec copies each stream on its own goroutine when the writer is
	// not an *os.File, which gives us the two independent drains.
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return superviseOutcome{err: fmt.Errorf("starting command: %w", err)}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(opts.timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		_ = opts.kill()
		select {
		case <-waitCh:
		case <-time.After(grace):
		}
		return superviseOutcome{
			timedOut: true,
			stderr:   stderrBuf.String(),
			duration: time.Since(start),
		}
	case <-opts.ctx.Done():
		_ = opts.kill()
		select {
		case <-waitCh:
		case <-time.After(grace):
		}
		return superviseOutcome{
			err:      fmt.Errorf("execution cancelled: %w", opts.ctx.Err()),
			duration: time.Since(start),
		}
	}

	duration := time.Since(start)
	exitCode := 0
	if waitErr != nil {
		// Non-zero exit is a result, not an error.
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return superviseOutcome{
				err:      fmt.Errorf("waiting for command: %w", waitErr),
				duration: duration,
			}
		}
	}

	return superviseOutcome{
		exitCode: exitCode,
		stdout:   stdoutBuf.String(),
		stderr:   stderrBuf.String(),
		duration: duration,
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
// The exec drains write while AwaitTimeout callers may read partial output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// limitedWriter stops writing after a byte limit. Excess data is silently
// discarded, not an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
