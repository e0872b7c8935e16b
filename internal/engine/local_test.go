package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLocalExecutor(t *testing.T) (*LocalExecutor, string, string) {
	t.Helper()
	staging := filepath.Join(t.TempDir(), "staging")
	artifacts := filepath.Join(t.TempDir(), "artifacts")
	e := NewLocalExecutor(LocalConfig{
		StagingRoot:   staging,
		ArtifactsRoot: artifacts,
	}, testLogger())
	return e, staging, artifacts
}

func TestLocalExecutor_Echo(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	res := e.Execute(context.Background(), Request{
		Command:       []string{"sh", "-c", "echo hi"},
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (err=%v, reason=%q), want completed", res.Status, res.Err, res.Reason)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "hi") {
		t.Errorf("stdout = %q, want to contain %q", res.Stdout, "hi")
	}
	if !res.Success() {
		t.Error("expected Success()")
	}
	if res.Duration <= 0 {
		t.Error("expected positive duration")
	}
}

func TestLocalExecutor_NonZeroExitIsCompleted(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	res := e.Execute(context.Background(), Request{
		Command:       []string{"sh", "-c", "exit 42"},
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (nonzero exit is not a failure)", res.Status)
	}
	if res.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", res.ExitCode)
	}
	if res.Success() {
		t.Error("nonzero exit must not be Success()")
	}
}

func TestLocalExecutor_Timeout(t *testing.T) {
	e, staging, _ := newTestLocalExecutor(t)

	timeout := 1 * time.Second
	res := e.Execute(context.Background(), Request{
		Command:       []string{"sh", "-c", "sleep 10"},
		Timeout:       timeout,
		CaptureOutput: true,
	})

	if res.Status != StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", res.Status)
	}
	if res.Duration < timeout {
		t.Errorf("duration = %s, want >= %s", res.Duration, timeout)
	}
	if res.Duration > timeout+3*time.Second {
		t.Errorf("duration = %s, way past the timeout", res.Duration)
	}
	if res.WaitExpired() {
		t.Error("backend timeout must not look like a wait-expired sentinel")
	}
	assertNoStagingLeftovers(t, staging)
}

func TestLocalExecutor_Artifacts(t *testing.T) {
	e, staging, _ := newTestLocalExecutor(t)

	res := e.Execute(context.Background(), Request{
		Command:       []string{"sh", "-c", `printf hello > "$RUNBOX_OUTPUT_DIR/out.txt"`},
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (err=%v), want completed", res.Status, res.Err)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(res.Artifacts))
	}

	a := res.Artifacts[0]
	if a.Name != "out.txt" {
		t.Errorf("artifact name = %q, want out.txt", a.Name)
	}
	if a.SizeBytes != 5 {
		t.Errorf("artifact size = %d, want 5", a.SizeBytes)
	}
	if a.MIMEType != "text/plain" {
		t.Errorf("artifact mime = %q, want text/plain", a.MIMEType)
	}

	// The durable copy outlives the staging cleanup and is byte-identical.
	data, err := os.ReadFile(a.Path)
	if err != nil {
		t.Fatalf("reading artifact copy: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("artifact content = %q, want hello", data)
	}
	assertNoStagingLeftovers(t, staging)
}

func TestLocalExecutor_InputFilesStaged(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	src := filepath.Join(t.TempDir(), "data.txt")
	if err := os.WriteFile(src, []byte("payload"), 0640); err != nil {
		t.Fatal(err)
	}

	res := e.Execute(context.Background(), Request{
		Command:       []string{"sh", "-c", `cat "$RUNBOX_INPUT_DIR/data.txt"`},
		InputFiles:    []string{src},
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (err=%v), want completed", res.Status, res.Err)
	}
	if res.Stdout != "payload" {
		t.Errorf("stdout = %q, want payload", res.Stdout)
	}
}

func TestLocalExecutor_MissingInputDenied(t *testing.T) {
	e, staging, _ := newTestLocalExecutor(t)

	res := e.Execute(context.Background(), Request{
		Command:       []string{"true"},
		InputFiles:    []string{filepath.Join(t.TempDir(), "does-not-exist")},
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusDenied {
		t.Fatalf("status = %q, want denied", res.Status)
	}
	// Denied before any side effect: no staging directory was created.
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		entries, _ := os.ReadDir(staging)
		if len(entries) != 0 {
			t.Errorf("staging root has %d leftover entries, want none", len(entries))
		}
	}
}

func TestLocalExecutor_Stdin(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	stdin := "ping"
	res := e.Execute(context.Background(), Request{
		Command:       []string{"cat"},
		Stdin:         &stdin,
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (err=%v), want completed", res.Status, res.Err)
	}
	if res.Stdout != "ping" {
		t.Errorf("stdout = %q, want ping", res.Stdout)
	}
}

func TestLocalExecutor_NoStdinDoesNotHang(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	// cat with a closed stdin must see EOF and exit, not block until the
	// timeout.
	start := time.Now()
	res := e.Execute(context.Background(), Request{
		Command:       []string{"cat"},
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("took %s, stdin was not closed", elapsed)
	}
}

func TestLocalExecutor_LargeOutputBothStreams(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	// ~99KB to each stream, interleaved. Without independent drains this
	// deadlocks on the bounded pipe buffers.
	script := `i=0
while [ $i -lt 3000 ]; do
  printf '%s\n' "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
  printf '%s\n' "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" >&2
  i=$((i+1))
done`

	res := e.Execute(context.Background(), Request{
		Command:       []string{"sh", "-c", script},
		Timeout:       30 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (err=%v), want completed", res.Status, res.Err)
	}
	const want = 3000 * 33
	if len(res.Stdout) != want {
		t.Errorf("stdout = %d bytes, want %d", len(res.Stdout), want)
	}
	if len(res.Stderr) != want {
		t.Errorf("stderr = %d bytes, want %d", len(res.Stderr), want)
	}
}

func TestLocalExecutor_CaptureDisabled(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	res := e.Execute(context.Background(), Request{
		Command: []string{"sh", "-c", "echo discarded"},
		Timeout: 5 * time.Second,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.Stdout != "" {
		t.Errorf("stdout = %q, want empty when capture is disabled", res.Stdout)
	}
}

func TestLocalExecutor_ExecutableNotFound(t *testing.T) {
	e, staging, _ := newTestLocalExecutor(t)

	res := e.Execute(context.Background(), Request{
		Command:       []string{"definitely-not-a-binary-48151623"},
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.Err == nil {
		t.Error("expected a cause on the failed result")
	}
	assertNoStagingLeftovers(t, staging)
}

func TestLocalExecutor_WorkingDir(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	dir := t.TempDir()
	res := e.Execute(context.Background(), Request{
		Command:       []string{"sh", "-c", "pwd"},
		WorkingDir:    dir,
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	got, err := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	if err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestLocalExecutor_EnvPropagation(t *testing.T) {
	e, _, _ := newTestLocalExecutor(t)

	res := e.Execute(context.Background(), Request{
		Command:       []string{"sh", "-c", "echo $MY_VAR"},
		Env:           map[string]string{"MY_VAR": "test_value"},
		Timeout:       5 * time.Second,
		CaptureOutput: true,
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if got := strings.TrimSpace(res.Stdout); got != "test_value" {
		t.Errorf("MY_VAR = %q, want test_value", got)
	}
}

// assertNoStagingLeftovers verifies every invocation-private staging dir
// was removed.
func assertNoStagingLeftovers(t *testing.T, stagingRoot string) {
	t.Helper()
	entries, err := os.ReadDir(stagingRoot)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		t.Fatalf("reading staging root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging root has %d leftover entries, want none", len(entries))
	}
}
