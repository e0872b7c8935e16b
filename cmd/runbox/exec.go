package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/runbox/internal/engine"
)

// Exit codes for execution commands.
const (
	ExitSuccess            = 0
	ExitFailure            = 1
	ExitDenied             = 2
	ExitBackendUnavailable = 3
	ExitTimedOut           = 124
)

var (
	execBackend      string
	execImage        string
	execMaxIsolation bool
	execWorkDir      string
	execEnv          []string
	execInputs       []string
	execTimeout      int
	execStdin        bool
	execAsync        bool
	execJSON         bool
	execNoCapture    bool
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- command [args...]",
	Short: "Execute a command in the sandbox",
	Long: `Execute a command through the configured isolation backend.
Input files are staged into a private directory the command can read through
RUNBOX_INPUT_DIR; files the command writes to RUNBOX_OUTPUT_DIR are collected
as artifacts after it finishes.

Examples:
  runbox exec -- python3 analyze.py
  runbox exec -i data.csv -- sh -c 'wc -l "$RUNBOX_INPUT_DIR/data.csv"'
  runbox exec --backend container --image alpine:3.20 -- uname -a
  runbox exec --backend container --image alpine:3.20 --max-isolation -- id
  echo hello | runbox exec --stdin -- cat

Exit codes:
  0    command completed with exit code 0
  1    command could not be run
  2    request denied by policy or validation
  3    backend unavailable
  124  command exceeded its timeout
  N    command completed with exit code N`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execBackend, "backend", "", "execution backend: local or container (overrides config)")
	execCmd.Flags().StringVar(&execImage, "image", "", "container image (overrides config)")
	execCmd.Flags().BoolVar(&execMaxIsolation, "max-isolation", false, "use the maximally isolated container preset")
	execCmd.Flags().StringVarP(&execWorkDir, "workdir", "w", "", "working directory for the command")
	execCmd.Flags().StringArrayVarP(&execEnv, "env", "e", nil, "extra environment variable (KEY=VALUE, repeatable)")
	execCmd.Flags().StringArrayVarP(&execInputs, "input", "i", nil, "input file to stage (repeatable)")
	execCmd.Flags().IntVar(&execTimeout, "timeout", 0, "timeout in seconds (default from config, 120)")
	execCmd.Flags().BoolVar(&execStdin, "stdin", false, "forward standard input to the command")
	execCmd.Flags().BoolVar(&execAsync, "async", false, "run asynchronously and stream output as it arrives")
	execCmd.Flags().BoolVar(&execJSON, "json", false, "print the full result as JSON")
	execCmd.Flags().BoolVar(&execNoCapture, "no-capture", false, "discard command output instead of capturing it")
}

func runExec(_ *cobra.Command, args []string) error {
	comps, err := initShared(backendOverrides{
		Backend:      execBackend,
		Image:        execImage,
		MaxIsolation: execMaxIsolation,
	})
	if err != nil {
		return err
	}

	env, err := parseEnvPairs(execEnv)
	if err != nil {
		comps.Cleanup()
		return err
	}

	timeout := comps.Config.Engine.Timeout()
	if execTimeout > 0 {
		timeout = time.Duration(execTimeout) * time.Second
	}

	var stdin *string
	if execStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			comps.Cleanup()
			return fmt.Errorf("reading stdin: %w", err)
		}
		s := string(data)
		stdin = &s
	}

	req := engine.Request{
		Command:       args,
		WorkingDir:    execWorkDir,
		Env:           env,
		Stdin:         stdin,
		InputFiles:    execInputs,
		Timeout:       timeout,
		CaptureOutput: !execNoCapture,
	}

	ctx := context.Background()

	if err := comps.Executor.CheckAvailability(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: backend unavailable: %v\n", err)
		comps.Cleanup()
		os.Exit(ExitBackendUnavailable)
	}

	var res engine.Result
	streamed := false
	if execAsync {
		res = runDetached(ctx, comps.Executor, req)
		streamed = !execJSON
	} else {
		res = comps.Executor.Execute(ctx, req)
	}

	code := printResult(res, streamed)
	// Cleanup before exit: os.Exit skips deferred functions.
	comps.Cleanup()
	os.Exit(code)
	return nil
}

// runDetached runs the request through an async handle, streaming partial
// output as it accumulates. SIGINT cancels the execution cooperatively.
func runDetached(ctx context.Context, executor engine.Executor, req engine.Request) engine.Result {
	handle := executor.ExecuteAsync(ctx, req)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			fmt.Fprintln(os.Stderr, "interrupt: cancelling execution")
			handle.Cancel()
		}
	}()

	var outOffset, errOffset int
	flush := func() {
		if execJSON {
			return
		}
		if out, ok := handle.PartialStdout(); ok && len(out) > outOffset {
			fmt.Print(out[outOffset:])
			outOffset = len(out)
		}
		if errOut, ok := handle.PartialStderr(); ok && len(errOut) > errOffset {
			fmt.Fprint(os.Stderr, errOut[errOffset:])
			errOffset = len(errOut)
		}
	}

	// Exit on completion, not on a running check: the handle's goroutine
	// may not have been scheduled yet when polling starts, and a false
	// IsRunning here must not skip the streaming loop.
	var res engine.Result
	for {
		res = handle.AwaitTimeout(200 * time.Millisecond)
		if !res.WaitExpired() {
			break
		}
		flush()
	}

	// Print whatever arrived between the last flush and completion.
	if !execJSON {
		if len(res.Stdout) > outOffset {
			fmt.Print(res.Stdout[outOffset:])
		}
		if len(res.Stderr) > errOffset {
			fmt.Fprint(os.Stderr, res.Stderr[errOffset:])
		}
	}
	return res
}

// jsonResult is the stable JSON shape of an execution result.
type jsonResult struct {
	Status     string         `json:"status"`
	ExitCode   int            `json:"exit_code"`
	Stdout     string         `json:"stdout,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Reason     string         `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
	Artifacts  []jsonArtifact `json:"artifacts,omitempty"`
}

type jsonArtifact struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// printResult prints the result and returns the mapped exit code. streamed
// means output was already printed incrementally and must not repeat.
func printResult(res engine.Result, streamed bool) int {
	if execJSON {
		out := jsonResult{
			Status:     string(res.Status),
			ExitCode:   res.ExitCode,
			Stdout:     res.Stdout,
			Stderr:     res.Stderr,
			DurationMS: res.Duration.Milliseconds(),
			Reason:     res.Reason,
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		for _, a := range res.Artifacts {
			out.Artifacts = append(out.Artifacts, jsonArtifact{
				Name:      a.Name,
				Path:      a.Path,
				MIMEType:  a.MIMEType,
				SizeBytes: a.SizeBytes,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	} else if !streamed {
		if res.Stdout != "" {
			fmt.Print(res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
	}

	if !execJSON {
		for _, a := range res.Artifacts {
			fmt.Fprintf(os.Stderr, "artifact: %s (%s, %d bytes) -> %s\n", a.Name, a.MIMEType, a.SizeBytes, a.Path)
		}
	}

	switch res.Status {
	case engine.StatusCompleted:
		return res.ExitCode
	case engine.StatusTimedOut:
		if !execJSON {
			fmt.Fprintf(os.Stderr, "Error: command timed out after %s\n", res.Duration.Round(time.Millisecond))
		}
		return ExitTimedOut
	case engine.StatusDenied:
		if !execJSON {
			fmt.Fprintf(os.Stderr, "Denied: %s\n", res.Reason)
		}
		return ExitDenied
	default:
		if !execJSON {
			fmt.Fprintf(os.Stderr, "Error: %v\n", res.Err)
		}
		return ExitFailure
	}
}

// parseEnvPairs splits KEY=VALUE flag values into a map.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env entry %q: expected KEY=VALUE", p)
		}
		env[key] = value
	}
	return env, nil
}
