package observability

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/runbox/internal/engine"
)

// InstrumentedExecutor wraps an engine.Executor with metrics and tracing.
type InstrumentedExecutor struct {
	inner   engine.Executor
	backend string // "local", "container", or "noop"
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedExecutor wraps an execution backend with observability.
func NewInstrumentedExecutor(inner engine.Executor, backend string, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedExecutor {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedExecutor{
		inner:   inner,
		backend: backend,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (e *InstrumentedExecutor) Execute(ctx context.Context, req engine.Request) engine.Result {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.execute",
			trace.WithAttributes(
				attribute.String("engine.backend", e.backend),
			))
		defer span.End()
	}

	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
	}

	start := time.Now()
	res := e.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	if e.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			attribute.String("engine.status", string(res.Status)),
			attribute.Int("engine.exit_code", res.ExitCode),
		)
		if res.Status == engine.StatusFailed && res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(e.backend, string(res.Status)).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(e.backend).Observe(duration)
		e.metrics.OutputBytesTotal.WithLabelValues(e.backend, "stdout").Add(float64(len(res.Stdout)))
		e.metrics.OutputBytesTotal.WithLabelValues(e.backend, "stderr").Add(float64(len(res.Stderr)))
		for _, a := range res.Artifacts {
			e.metrics.ArtifactsCollectedTotal.WithLabelValues(e.backend).Inc()
			e.metrics.ArtifactBytesTotal.WithLabelValues(e.backend).Add(float64(a.SizeBytes))
		}
	}

	return res
}

// ExecuteAsync routes the async path through the instrumented Execute so
// metrics and spans cover background executions as well.
func (e *InstrumentedExecutor) ExecuteAsync(ctx context.Context, req engine.Request) *engine.Handle {
	return engine.RunAsync(ctx, e, req)
}

func (e *InstrumentedExecutor) CheckAvailability(ctx context.Context) error {
	return e.inner.CheckAvailability(ctx)
}

func (e *InstrumentedExecutor) Validate(req engine.Request) error {
	return e.inner.Validate(req)
}

var _ engine.Executor = (*InstrumentedExecutor)(nil)

// InstrumentedStreamingExecutor additionally forwards the streaming call so
// async handles keep exposing partial output through the wrapper.
type InstrumentedStreamingExecutor struct {
	InstrumentedExecutor
	streaming engine.StreamingExecutor
}

func (e *InstrumentedStreamingExecutor) ExecuteStreaming(ctx context.Context, req engine.Request, stdoutTap, stderrTap io.Writer) engine.Result {
	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
	}

	start := time.Now()
	res := e.streaming.ExecuteStreaming(ctx, req, stdoutTap, stderrTap)
	duration := time.Since(start).Seconds()

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(e.backend, string(res.Status)).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(e.backend).Observe(duration)
	}
	return res
}

func (e *InstrumentedStreamingExecutor) ExecuteAsync(ctx context.Context, req engine.Request) *engine.Handle {
	return engine.RunAsync(ctx, e, req)
}

var _ engine.StreamingExecutor = (*InstrumentedStreamingExecutor)(nil)

// Instrument wraps an executor with observability, preserving the streaming
// capability of backends that have it.
func Instrument(inner engine.Executor, backend string, metrics *MetricsCollector, ts *TracerSetup) engine.Executor {
	base := NewInstrumentedExecutor(inner, backend, metrics, ts)
	if se, ok := inner.(engine.StreamingExecutor); ok {
		return &InstrumentedStreamingExecutor{InstrumentedExecutor: *base, streaming: se}
	}
	return base
}
