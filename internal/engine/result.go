package engine

import "time"

// Status discriminates the four Result variants. Exactly one status is
// produced per invocation.
type Status string

const (
	// StatusCompleted means the command ran to completion, regardless of
	// exit code. A nonzero exit is still Completed, never Failed.
	StatusCompleted Status = "completed"

	// StatusTimedOut means the command did not finish within the request
	// timeout and was forcibly terminated.
	StatusTimedOut Status = "timed_out"

	// StatusFailed means the command could not be started or an internal
	// error occurred; the cause is in Err.
	StatusFailed Status = "failed"

	// StatusDenied means execution was refused by policy or validation
	// before any process was spawned.
	StatusDenied Status = "denied"
)

// awaitExpiredReason marks the sentinel returned by Handle.AwaitTimeout.
// Backend-produced TimedOut results never set Reason, so the sentinel is
// distinguishable from a real termination.
const awaitExpiredReason = "await timed out; the command may still be running"

// Result is the outcome of one invocation. Which fields are meaningful
// depends on Status:
//
//	Completed: ExitCode, Stdout, Stderr, Duration, Artifacts
//	TimedOut:  Stderr (partial), Duration
//	Failed:    Err, Duration (when the process was spawned)
//	Denied:    Reason
type Result struct {
	Status    Status
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Artifacts []Artifact
	Reason    string
	Err       error
}

// Success reports a completed run with a zero exit code. It is a
// convenience flag, not a separate variant.
func (r Result) Success() bool {
	return r.Status == StatusCompleted && r.ExitCode == 0
}

// WaitExpired reports whether this TimedOut result came from
// Handle.AwaitTimeout giving up on the wait rather than from the backend
// terminating the command.
func (r Result) WaitExpired() bool {
	return r.Status == StatusTimedOut && r.Reason == awaitExpiredReason
}

// Artifact describes a file found in the output staging directory after the
// command finished, copied out to durable storage. Any such file is
// automatically an artifact; there is no manifest the command must write.
type Artifact struct {
	Name      string // file name only
	Path      string // durable copy, outlives the staging cleanup
	MIMEType  string // inferred from the extension
	SizeBytes int64
}

// Completed builds the normal-termination variant.
func Completed(exitCode int, stdout, stderr string, duration time.Duration, artifacts []Artifact) Result {
	return Result{
		Status:    StatusCompleted,
		ExitCode:  exitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		Duration:  duration,
		Artifacts: artifacts,
	}
}

// TimedOut builds the forced-termination variant. partialStderr holds
// whatever stderr was captured before the kill.
func TimedOut(partialStderr string, duration time.Duration) Result {
	return Result{Status: StatusTimedOut, Stderr: partialStderr, Duration: duration}
}

// Failed builds the could-not-run variant with its underlying cause.
func Failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

// Denied builds the refused-by-policy variant. Only produced before a
// process is spawned.
func Denied(reason string) Result {
	return Result{Status: StatusDenied, Reason: reason}
}
