package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNoopExecutor_DeniesEverything(t *testing.T) {
	noop := NoopExecutor{}
	ctx := context.Background()

	req := Request{Command: []string{"echo", "hi"}, Timeout: time.Second}

	res := noop.Execute(ctx, req)
	if res.Status != StatusDenied {
		t.Fatalf("status = %q, want %q", res.Status, StatusDenied)
	}
	if res.Reason == "" {
		t.Error("expected a denial reason")
	}

	if err := noop.CheckAvailability(ctx); err == nil {
		t.Error("expected CheckAvailability error")
	}
	if err := noop.Validate(req); err == nil {
		t.Error("expected Validate error")
	}

	// Async wrapping still yields the Denied variant.
	h := noop.ExecuteAsync(ctx, req)
	if got := h.Await(); got.Status != StatusDenied {
		t.Errorf("async status = %q, want %q", got.Status, StatusDenied)
	}
}

func TestValidateRequest(t *testing.T) {
	tmp := t.TempDir()
	regular := filepath.Join(tmp, "in.txt")
	if err := os.WriteFile(regular, []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "valid",
			req:  Request{Command: []string{"true"}, Timeout: time.Second, InputFiles: []string{regular}},
		},
		{
			name:    "empty command",
			req:     Request{Timeout: time.Second},
			wantErr: true,
		},
		{
			name:    "zero timeout",
			req:     Request{Command: []string{"true"}},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			req:     Request{Command: []string{"true"}, Timeout: -time.Second},
			wantErr: true,
		},
		{
			name:    "missing input file",
			req:     Request{Command: []string{"true"}, Timeout: time.Second, InputFiles: []string{filepath.Join(tmp, "nope")}},
			wantErr: true,
		},
		{
			name:    "input is a directory",
			req:     Request{Command: []string{"true"}, Timeout: time.Second, InputFiles: []string{tmp}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRequest(tc.req)
			if (err != nil) != tc.wantErr {
				t.Errorf("validateRequest() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestResult_Success(t *testing.T) {
	if !Completed(0, "", "", time.Second, nil).Success() {
		t.Error("zero exit should be success")
	}
	if Completed(1, "", "", time.Second, nil).Success() {
		t.Error("nonzero exit should not be success")
	}
	if TimedOut("", time.Second).Success() {
		t.Error("timed out should not be success")
	}
}

func TestResult_VariantsAreExhaustive(t *testing.T) {
	results := []Result{
		Completed(0, "out", "err", time.Second, nil),
		TimedOut("partial", time.Second),
		Failed(os.ErrNotExist),
		Denied("policy"),
	}

	seen := make(map[Status]bool)
	for _, r := range results {
		switch r.Status {
		case StatusCompleted, StatusTimedOut, StatusFailed, StatusDenied:
			seen[r.Status] = true
		default:
			t.Fatalf("unknown status %q", r.Status)
		}
	}
	if len(seen) != 4 {
		t.Errorf("got %d distinct variants, want 4", len(seen))
	}
}

func TestResult_WaitExpired(t *testing.T) {
	sentinel := Result{Status: StatusTimedOut, Reason: awaitExpiredReason}
	if !sentinel.WaitExpired() {
		t.Error("sentinel should report WaitExpired")
	}
	if TimedOut("", time.Second).WaitExpired() {
		t.Error("backend TimedOut should not report WaitExpired")
	}
}

func TestMIMETypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"report.pdf", "application/pdf"},
		{"data.json", "application/json"},
		{"page.HTML", "text/html"},
		{"page.htm", "text/html"},
		{"notes.txt", "text/plain"},
		{"table.csv", "text/csv"},
		{"chart.png", "image/png"},
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"anim.gif", "image/gif"},
		{"icon.svg", "image/svg+xml"},
		{"bundle.zip", "application/zip"},
		{"dump.tar", "application/x-tar"},
		{"dump.gz", "application/gzip"},
		{"binary", "application/octet-stream"},
		{"weird.xyz", "application/octet-stream"},
	}

	for _, tc := range tests {
		if got := MIMETypeFor(tc.name); got != tc.want {
			t.Errorf("MIMETypeFor(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestLimitedWriter_Caps(t *testing.T) {
	var buf syncBuffer
	lw := &limitedWriter{w: &buf, remaining: 4}

	n, err := lw.Write([]byte("abcdefgh"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Errorf("n = %d, want 8 (excess silently discarded)", n)
	}
	if got := buf.String(); got != "abcd" {
		t.Errorf("captured = %q, want %q", got, "abcd")
	}

	// Subsequent writes are dropped entirely.
	if _, err := lw.Write([]byte("more")); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "abcd" {
		t.Errorf("captured = %q, want %q", got, "abcd")
	}
}
