package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// StreamingExecutor is implemented by backends that can expose captured
// output incrementally while the command is still running. The local
// backend can; the container backend cannot.
type StreamingExecutor interface {
	Executor
	ExecuteStreaming(ctx context.Context, req Request, stdoutTap, stderrTap io.Writer) Result
}

// Handle runs one synchronous Execute call on its own goroutine so the
// caller is never blocked. Cancellation is best-effort: before the wrapped
// call starts it is prevented outright; afterwards it is cooperative via
// context cancellation and not guaranteed to kill an in-flight process
// promptly.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	running   bool
	cancelled bool
	result    Result

	// Non-nil only when the backend streams output incrementally.
	stdout *syncBuffer
	stderr *syncBuffer
}

// runAsync is the default ExecuteAsync implementation shared by every
// backend: wrap the synchronous call in a handle and start it.
func runAsync(ctx context.Context, executor Executor, req Request) *Handle {
	h := newHandle(ctx)
	go h.run(executor, req)
	return h
}

// RunAsync wraps an Executor's synchronous call in a Handle. Executor
// implementations outside this package can use it as their ExecuteAsync
// body so decorated executors keep the same async semantics as the
// built-in backends.
func RunAsync(ctx context.Context, executor Executor, req Request) *Handle {
	return runAsync(ctx, executor, req)
}

func newHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// run executes the wrapped call. It refuses to start if Cancel already won
// the race; the check and the started flag flip under one lock so a
// cancelled handle never spawns the command.
func (h *Handle) run(executor Executor, req Request) {
	defer close(h.done)

	h.mu.Lock()
	if h.cancelled {
		h.result = Failed(errors.New("execution cancelled before start"))
		h.mu.Unlock()
		return
	}
	h.started = true
	h.running = true
	se, streaming := executor.(StreamingExecutor)
	if streaming {
		h.stdout = &syncBuffer{}
		h.stderr = &syncBuffer{}
	}
	h.mu.Unlock()

	var res Result
	if streaming {
		res = se.ExecuteStreaming(h.ctx, req, h.stdout, h.stderr)
	} else {
		res = executor.Execute(h.ctx, req)
	}

	h.mu.Lock()
	h.running = false
	h.result = res
	h.mu.Unlock()
}

// IsRunning reports whether the wrapped call has started and not yet
// produced its result.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// IsCancelled reports whether Cancel has been requested.
func (h *Handle) IsCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Cancel requests best-effort cancellation. If the wrapped call has not
// started it never will, and Await returns a Failed result noting the
// cancellation. If it has started, the backend is cancelled cooperatively
// through its context.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.cancel()
}

// Await blocks until the wrapped call returns its result.
func (h *Handle) Await() Result {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// AwaitTimeout blocks up to d. If the wrapped call has not produced a
// result by then it returns a wait-expired TimedOut sentinel WITHOUT
// stopping the underlying command: only the wait timed out, the command
// keeps running and the backend's own wall-clock timeout still applies.
// Use Result.WaitExpired to tell the sentinel apart from a real forced
// termination.
func (h *Handle) AwaitTimeout(d time.Duration) Result {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result
	case <-time.After(d):
		return Result{Status: StatusTimedOut, Duration: d, Reason: awaitExpiredReason}
	}
}

// PartialStdout returns the stdout captured so far. ok is false when the
// backend does not stream output incrementally.
func (h *Handle) PartialStdout() (string, bool) {
	h.mu.Lock()
	buf := h.stdout
	h.mu.Unlock()
	if buf == nil {
		return "", false
	}
	return buf.String(), true
}

// PartialStderr returns the stderr captured so far. ok is false when the
// backend does not stream output incrementally.
func (h *Handle) PartialStderr() (string, bool) {
	h.mu.Lock()
	buf := h.stderr
	h.mu.Unlock()
	if buf == nil {
		return "", false
	}
	return buf.String(), true
}
