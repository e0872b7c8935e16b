package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/runbox/internal/engine"
)

// Captured output beyond this is truncated before persisting. The full
// output is still returned to the caller.
const maxStoredOutputBytes = 64 << 10

// RecordingExecutor wraps an engine.Executor and persists every outcome.
// Persistence failures are logged, never propagated — a broken history
// store must not fail an execution that already happened.
type RecordingExecutor struct {
	inner   engine.Executor
	backend string
	store   Store
	logger  *slog.Logger
}

// NewRecordingExecutor wraps an execution backend with history recording.
func NewRecordingExecutor(inner engine.Executor, backend string, store Store, logger *slog.Logger) *RecordingExecutor {
	return &RecordingExecutor{
		inner:   inner,
		backend: backend,
		store:   store,
		logger:  logger,
	}
}

func (r *RecordingExecutor) Execute(ctx context.Context, req engine.Request) engine.Result {
	res := r.inner.Execute(ctx, req)
	r.record(req, res)
	return res
}

func (r *RecordingExecutor) ExecuteAsync(ctx context.Context, req engine.Request) *engine.Handle {
	return engine.RunAsync(ctx, r, req)
}

func (r *RecordingExecutor) CheckAvailability(ctx context.Context) error {
	return r.inner.CheckAvailability(ctx)
}

func (r *RecordingExecutor) Validate(req engine.Request) error {
	return r.inner.Validate(req)
}

func (r *RecordingExecutor) record(req engine.Request, res engine.Result) {
	rec := &Record{
		ID:         uuid.NewString(),
		Backend:    r.backend,
		Command:    req.Command,
		WorkingDir: req.WorkingDir,
		Status:     string(res.Status),
		ExitCode:   res.ExitCode,
		Stdout:     truncate(res.Stdout),
		Stderr:     truncate(res.Stderr),
		Duration:   res.Duration,
		Reason:     res.Reason,
		CreatedAt:  time.Now().UTC(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	for _, a := range res.Artifacts {
		rec.Artifacts = append(rec.Artifacts, ArtifactRecord{
			Name:      a.Name,
			Path:      a.Path,
			MIMEType:  a.MIMEType,
			SizeBytes: a.SizeBytes,
		})
	}

	// Saving uses its own short deadline so a cancelled execution context
	// does not lose the record.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, rec); err != nil && r.logger != nil {
		r.logger.Warn("failed to record execution",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func truncate(s string) string {
	if len(s) > maxStoredOutputBytes {
		return s[:maxStoredOutputBytes]
	}
	return s
}

var _ engine.Executor = (*RecordingExecutor)(nil)
