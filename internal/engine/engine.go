// Package engine executes externally supplied commands under resource
// isolation. All commands run through an Executor — never directly on the
// host without supervision.
//
// Two backends are provided: LocalExecutor runs the command as a supervised
// OS process, ContainerExecutor delegates isolation to a container runtime's
// CLI. Both share the same staging convention: input files are copied into a
// private input directory, artifacts are collected from a private output
// directory, and the command finds both through the RUNBOX_INPUT_DIR and
// RUNBOX_OUTPUT_DIR environment bindings.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Environment bindings every executed command receives. The names are a
// fixed part of the contract and must not be renamed by configuration.
const (
	EnvInputDir  = "RUNBOX_INPUT_DIR"
	EnvOutputDir = "RUNBOX_OUTPUT_DIR"
)

// Executor runs commands in an isolated environment. Execute never returns
// a Go error: every failure mode is represented by a Result variant.
type Executor interface {
	// Execute runs the request synchronously and returns exactly one
	// Result variant.
	Execute(ctx context.Context, req Request) Result

	// ExecuteAsync runs Execute on its own goroutine and returns a Handle
	// for polling, awaiting, and best-effort cancellation.
	ExecuteAsync(ctx context.Context, req Request) *Handle

	// CheckAvailability reports whether the backend can execute commands
	// right now. A non-nil error is the reason it cannot.
	CheckAvailability(ctx context.Context) error

	// Validate checks the request against backend policy without side
	// effects. A non-nil error maps to a Denied result.
	Validate(req Request) error
}

// Request describes one command invocation. Immutable once handed to an
// Executor; build a fresh Request per call.
type Request struct {
	// Command is the executable and its arguments. Must be non-empty.
	Command []string

	// WorkingDir overrides the working directory. Empty = backend default.
	WorkingDir string

	// Env adds extra environment variables, merged over the backend's base
	// environment.
	Env map[string]string

	// Stdin is delivered to the command's input stream. nil closes the
	// stream immediately so commands reading from it do not hang.
	Stdin *string

	// InputFiles are host paths staged into the input directory before
	// execution. Each must exist and be a regular file. Files are copied
	// by base name; collisions are the caller's responsibility.
	InputFiles []string

	// Timeout is the wall-clock budget. Required and positive; execution
	// exceeding it is forcibly terminated.
	Timeout time.Duration

	// CaptureOutput controls whether stdout/stderr are captured into the
	// Result. When false the streams are still drained but discarded.
	CaptureOutput bool
}

// validateRequest enforces the preconditions shared by every backend.
// Checked before any staging directory is created.
func validateRequest(req Request) error {
	if len(req.Command) == 0 {
		return errors.New("command must not be empty")
	}
	if req.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	for _, f := range req.InputFiles {
		info, err := os.Stat(f)
		if err != nil {
			return fmt.Errorf("input file %s: %w", f, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("input file %s is not a regular file", f)
		}
	}
	return nil
}

// NoopExecutor denies every request. It is the safe default when no backend
// is configured: callers must opt in to a concrete isolation strategy.
type NoopExecutor struct{}

var errNoBackend = errors.New("no execution backend configured")

func (NoopExecutor) Execute(_ context.Context, _ Request) Result {
	return Denied(errNoBackend.Error())
}

func (NoopExecutor) ExecuteAsync(ctx context.Context, req Request) *Handle {
	return runAsync(ctx, NoopExecutor{}, req)
}

func (NoopExecutor) CheckAvailability(_ context.Context) error { return errNoBackend }

func (NoopExecutor) Validate(_ Request) error { return errNoBackend }
