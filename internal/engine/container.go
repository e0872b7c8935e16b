package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fixed in-container staging paths. The host and container filesystem
// namespaces differ, so the RUNBOX_* env bindings point here, not at the
// host staging dirs.
const (
	containerInputDir  = "/runbox/input"
	containerOutputDir = "/runbox/output"
)

const (
	defaultContainerWorkDir = "/runbox/work"
	defaultContainerRuntime = "docker"
	availabilityTimeout     = 10 * time.Second
	removeTimeout           = 5 * time.Second
)

// Mount is an additional caller-supplied bind mount.
type Mount struct {
	Source   string // host path
	Target   string // container path
	ReadOnly bool
}

// ContainerConfig configures the container-based backend. Isolation is
// delegated to the container runtime's CLI; this engine only launches the
// container-management command.
type ContainerConfig struct {
	Image          string  // Container image. Required.
	Runtime        string  // Runtime binary. Empty = "docker".
	MemoryMB       int     // --memory hard limit. 0 = unlimited.
	CPUCores       float64 // --cpus rate limit. 0 = unlimited.
	PIDsLimit      int     // --pids-limit. 0 = runtime default.
	NetworkAllowed bool    // false = --network=none.
	ReadOnlyRootFS bool    // --read-only with a writable tmpfs scratch.
	TmpfsSizeMB    int     // Scratch size when ReadOnlyRootFS. 0 = 64.
	User           string  // --user. Empty = image default.
	WorkDir        string  // In-container working directory. Empty = /runbox/work.
	Mounts         []Mount // Additional bind mounts.

	StagingRoot    string        // Host base dir for staging. Empty = os.TempDir().
	ArtifactsRoot  string        // Durable artifact storage on the host.
	MaxOutputBytes int           // Captured output cap per stream. 0 = 8 MB.
	DrainGrace     time.Duration // Drain flush budget after a forced kill. 0 = 2s.
}

// MaxIsolation returns the maximally isolated preset for an image: no
// network, reduced resources, read-only root filesystem, non-root user.
// Built from the same knobs, not a separate code path.
func MaxIsolation(image string) ContainerConfig {
	return ContainerConfig{
		Image:          image,
		MemoryMB:       256,
		CPUCores:       0.5,
		PIDsLimit:      64,
		NetworkAllowed: false,
		ReadOnlyRootFS: true,
		User:           "65534:65534",
	}
}

// ContainerExecutor runs commands inside ephemeral containers driven
// through the runtime's CLI (docker run --rm ...). Staging and artifact
// collection follow the same conventions as LocalExecutor, with the staged
// directories bind-mounted into the container.
type ContainerExecutor struct {
	config ContainerConfig
	logger *slog.Logger
}

// NewContainerExecutor creates a container-based executor.
func NewContainerExecutor(cfg ContainerConfig, logger *slog.Logger) *ContainerExecutor {
	if cfg.Runtime == "" {
		cfg.Runtime = defaultContainerRuntime
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaultContainerWorkDir
	}
	if cfg.TmpfsSizeMB <= 0 {
		cfg.TmpfsSizeMB = 64
	}
	if cfg.ArtifactsRoot == "" {
		cfg.ArtifactsRoot = defaultArtifactsRoot()
	}
	return &ContainerExecutor{config: cfg, logger: logger}
}

// CheckAvailability confirms the runtime daemon is reachable and the image
// is present locally.
func (e *ContainerExecutor) CheckAvailability(ctx context.Context) error {
	if e.config.Image == "" {
		return fmt.Errorf("container image is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, e.config.Runtime, "info").Run(); err != nil {
		return fmt.Errorf("container runtime %s unavailable: %w", e.config.Runtime, err)
	}
	if err := exec.CommandContext(ctx, e.config.Runtime, "image", "inspect", e.config.Image).Run(); err != nil {
		return fmt.Errorf("container image %s not available: %w", e.config.Image, err)
	}
	return nil
}

// Validate checks the request preconditions without side effects.
func (e *ContainerExecutor) Validate(req Request) error { return validateRequest(req) }

// ExecuteAsync wraps Execute in an async handle. The container path does
// not stream partial output.
func (e *ContainerExecutor) ExecuteAsync(ctx context.Context, req Request) *Handle {
	return runAsync(ctx, e, req)
}

// Execute runs the command inside an ephemeral container.
func (e *ContainerExecutor) Execute(ctx context.Context, req Request) Result {
	if err := e.Validate(req); err != nil {
		return Denied(err.Error())
	}
	// Unavailable runtime or image is a policy refusal, not a failure:
	// nothing was spawned and the caller can fix the configuration.
	if err := e.CheckAvailability(ctx); err != nil {
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

	containerName, err := generateContainerName()
	if err != nil {
		return Failed(fmt.Errorf("generating container name: %w", err))
	}

	args := e.buildRunArgs(containerName, stg, req)
	args = append(args, req.Command...)
	cmd := exec.Command(e.config.Runtime, args...)

	if req.Stdin != nil {
		cmd.Stdin = strings.NewReader(*req.Stdin)
	}

	e.logger.Info("container executor spawning",
		slog.String("invocation_id", invocationID),
		slog.String("container", containerName),
		slog.String("image", e.config.Image),
		slog.Any("command", req.Command),
		slog.Duration("timeout", req.Timeout),
	)

	outcome := supervise(cmd, superviseOpts{
		ctx:      ctx,
		timeout:  req.Timeout,
		grace:    e.config.DrainGrace,
		capture:  req.CaptureOutput,
		maxBytes: e.config.MaxOutputBytes,
		kill: func() error {
			if cmd.Process == nil {
				return nil
			}
			// Killing the CLI client detaches it; rm -f below stops and
			// removes the container itself.
			return cmd.Process.Kill()
		},
	})

	// Safety net in case --rm did not fire (OOM kill, daemon restart,
	// forced client kill).
	e.forceRemoveContainer(containerName)

	switch {
	case outcome.timedOut:
		e.logger.Warn("container execution timed out",
			slog.String("container", containerName),
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

	e.logger.Info("container execution completed",
		slog.String("container", containerName),
		slog.Int("exit_code", outcome.exitCode),
		slog.Duration("duration", outcome.duration),
		slog.Int("artifacts", len(artifacts)),
	)

	return Completed(outcome.exitCode, outcome.stdout, outcome.stderr, outcome.duration, artifacts)
}

// buildRunArgs translates the isolation knobs and the staged directories
// into the runtime's invocation. The command itself is NOT included — the
// caller appends it after the image.
func (e *ContainerExecutor) buildRunArgs(name string, stg *staging, req Request) []string {
	args := []string{
		"run", "--rm",
		"--name", name,
	}

	// Keep the container's stdin attached to the CLI client when the
	// request carries stdin; without --interactive the runtime closes the
	// stream and the text never reaches the command.
	if req.Stdin != nil {
		args = append(args, "--interactive")
	}

	if e.config.MemoryMB > 0 {
		mem := strconv.Itoa(e.config.MemoryMB) + "m"
		// --memory-swap equal to --memory disables swap (OOM kill on exceed).
		args = append(args, "--memory="+mem, "--memory-swap="+mem)
	}
	if e.config.CPUCores > 0 {
		args = append(args, "--cpus="+strconv.FormatFloat(e.config.CPUCores, 'f', 2, 64))
	}
	if e.config.PIDsLimit > 0 {
		args = append(args, "--pids-limit="+strconv.Itoa(e.config.PIDsLimit))
	}

	if e.config.NetworkAllowed {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}

	if e.config.ReadOnlyRootFS {
		args = append(args,
			"--read-only",
			"--tmpfs", fmt.Sprintf("/tmp:rw,noexec,nosuid,size=%dm", e.config.TmpfsSizeMB),
			"--tmpfs", fmt.Sprintf("%s:rw,nosuid,size=%dm", defaultContainerWorkDir, e.config.TmpfsSizeMB),
		)
	}

	if e.config.User != "" {
		args = append(args, "--user="+e.config.User)
	}

	// In-container working directory: request override, then config.
	workdir := e.config.WorkDir
	if req.WorkingDir != "" {
		workdir = req.WorkingDir
	}
	args = append(args, "--workdir", workdir)

	// One bind mount per staged directory: input read-only, output
	// read-write.
	args = append(args,
		"-v", stg.inputDir+":"+containerInputDir+":ro",
		"-v", stg.outputDir+":"+containerOutputDir+":rw",
	)
	for _, m := range e.config.Mounts {
		spec := m.Source + ":" + m.Target
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}

	// Mandatory bindings point at the in-container paths.
	args = append(args,
		"--env", EnvInputDir+"="+containerInputDir,
		"--env", EnvOutputDir+"="+containerOutputDir,
	)
	for k, v := range req.Env {
		args = append(args, "--env", k+"="+v)
	}

	args = append(args, e.config.Image)
	return args
}

// forceRemoveContainer removes a container by name, ignoring the expected
// "No such container" when --rm already cleaned up.
func (e *ContainerExecutor) forceRemoveContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.config.Runtime, "rm", "-f", name).CombinedOutput()
	if err != nil && !bytes.Contains(out, []byte("No such container")) {
		e.logger.Warn("container rm -f failed",
			slog.String("container", name),
			slog.String("error", err.Error()),
			slog.String("output", string(out)),
		)
	}
}

// generateContainerName returns a unique name: runbox-exec-<16 hex chars>.
func generateContainerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "runbox-exec-" + hex.EncodeToString(b), nil
}
