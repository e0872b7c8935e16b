package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// LocalConfig configures the process-based backend.
type LocalConfig struct {
	StagingRoot    string        // Base dir for per-invocation staging. Empty = os.TempDir().
	ArtifactsRoot  string        // Durable artifact storage. Empty = <os.TempDir()>/runbox-artifacts.
	MaxOutputBytes int           // Captured output cap per stream. 0 = 8 MB.
	DrainGrace     time.Duration // Drain flush budget after a forced kill. 0 = 2s.
}

// LocalExecutor runs commands as directly spawned OS processes.
//
// Isolation properties:
//   - Each invocation gets private input/output staging dirs (removed after)
//   - Process runs in its own process group (Setpgid)
//   - Entire process group killed on timeout/cancel
//   - stdout/stderr drained concurrently and capped
type LocalExecutor struct {
	config LocalConfig
	logger *slog.Logger
}

// NewLocalExecutor creates a process-based executor.
func NewLocalExecutor(cfg LocalConfig, logger *slog.Logger) *LocalExecutor {
	if cfg.ArtifactsRoot == "" {
		cfg.ArtifactsRoot = defaultArtifactsRoot()
	}
	return &LocalExecutor{config: cfg, logger: logger}
}

func defaultArtifactsRoot() string {
	return filepath.Join(os.TempDir(), "runbox-artifacts")
}

// CheckAvailability always succeeds: spawning host processes needs nothing
// beyond this process itself.
func (e *LocalExecutor) CheckAvailability(_ context.Context) error { return nil }

// Validate checks the request preconditions without side effects.
func (e *LocalExecutor) Validate(req Request) error { return validateRequest(req) }

// Execute runs the command synchronously.
func (e *LocalExecutor) Execute(ctx context.Context, req Request) Result {
	return e.ExecuteStreaming(ctx, req, nil, nil)
}

// ExecuteAsync wraps Execute in an async handle with partial-output
// streaming.
func (e *LocalExecutor) ExecuteAsync(ctx context.Context, req Request) *Handle {
	return runAsync(ctx, e, req)
}

// ExecuteStreaming runs the command, additionally copying output to the
// given taps as it arrives. Either tap may be nil.
func (e *LocalExecutor) ExecuteStreaming(ctx context.Context, req Request, stdoutTap, stderrTap io.Writer) Result {
	if err := e.Validate(req); err != nil {
		return Denied(err.Error())
	}

	invocationID := uuid.NewString()
	stg, err := newStaging(e.config.StagingRoot, invocationID)
	if err != nil {
		return Failed(err)
	}
	defer stg.cleanup(e.logger)

	if err := stg.stageInputs(req.InputFiles); err != nil {
		return Failed(err)
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = buildLocalEnv(stg, req.Env)

	// nil Stdin connects the command to the null device, so readers see
	// EOF immediately instead of hanging.
	if req.Stdin != nil {
		cmd.Stdin = strings.NewReader(*req.Stdin)
	}

	// The child runs in its own process group so a timeout kill also
	// terminates anything it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	e.logger.Info("local executor spawning",
		slog.String("invocation_id", invocationID),
		slog.Any("command", req.Command),
		slog.Duration("timeout", req.Timeout),
	)

	outcome := supervise(cmd, superviseOpts{
		ctx:       ctx,
		timeout:   req.Timeout,
		grace:     e.config.DrainGrace,
		capture:   req.CaptureOutput,
		maxBytes:  e.config.MaxOutputBytes,
		stdoutTap: stdoutTap,
		stderrTap: stderrTap,
		kill: func() error {
			if cmd.Process == nil {
				return nil
			}
			// Negative PID = the entire process group.
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		},
	})

	switch {
	case outcome.timedOut:
		e.logger.Warn("local execution timed out",
			slog.String("invocation_id", invocationID),
			slog.Duration("timeout", req.Timeout),
			slog.Duration("duration", outcome.duration),
		)
		return TimedOut(outcome.stderr, outcome.duration)
	case outcome.err != nil:
		res := Failed(outcome.err)
		res.Duration = outcome.duration
		return res
	}

	artifacts, err := collectArtifacts(stg.outputDir, e.config.ArtifactsRoot, invocationID)
	if err != nil {
		res := Failed(err)
		res.Duration = outcome.duration
		return res
	}

	e.logger.Info("local execution completed",
		slog.String("invocation_id", invocationID),
		slog.Int("exit_code", outcome.exitCode),
		slog.Duration("duration", outcome.duration),
		slog.Int("artifacts", len(artifacts)),
	)

	return Completed(outcome.exitCode, outcome.stdout, outcome.stderr, outcome.duration, artifacts)
}

// buildLocalEnv merges the request variables and the mandatory staging
// bindings over the inherited environment.
func buildLocalEnv(stg *staging, extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	env = append(env,
		EnvInputDir+"="+stg.inputDir,
		EnvOutputDir+"="+stg.outputDir,
	)
	return env
}
