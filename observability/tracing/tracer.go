// Package tracing records every dispatched task as an OpenTelemetry span.
package tracing

import (
	"context"
	"time"

	"github.com/Swind/go-page-scheduler/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Swind/go-page-scheduler/observability/tracing"

// TaskTracer implements core.TaskObserver. Span timestamps come from the
// scheduler clock, so traces recorded under virtual time line up with the
// simulated timeline.
type TaskTracer struct {
	tracer trace.Tracer
	clock  core.Clock
}

var _ core.TaskObserver = (*TaskTracer)(nil)

// NewTaskTracer returns a tracer using tp, or the global provider when tp is
// nil. A nil clock reads the wall clock.
func NewTaskTracer(tp trace.TracerProvider, clock core.Clock) *TaskTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	return &TaskTracer{tracer: tp.Tracer(instrumentationName), clock: clock}
}

// WillProcessTask starts a span for the task and returns a context carrying it.
func (t *TaskTracer) WillProcessTask(ctx context.Context, info core.TaskInfo) context.Context {
	name := info.Name
	if name == "" {
		name = info.QueueName
	}
	now := t.clock.Now()
	ctx, _ = t.tracer.Start(ctx, "task "+name,
		trace.WithTimestamp(now),
		trace.WithAttributes(
			attribute.String("scheduler.queue", info.QueueName),
			attribute.String("scheduler.queue_id", string(info.QueueID)),
			attribute.String("scheduler.frame_id", string(info.FrameID)),
			attribute.String("scheduler.priority", info.Priority.String()),
			attribute.Int64("scheduler.queue_delay_ms", queueDelay(info, now).Milliseconds()),
		),
	)
	return ctx
}

// DidProcessTask ends the span started by WillProcessTask.
func (t *TaskTracer) DidProcessTask(ctx context.Context, record core.TaskExecutionRecord) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if record.Panicked {
		span.SetStatus(codes.Error, "task panicked")
	}
	span.End(trace.WithTimestamp(record.FinishedAt))
}

// queueDelay is how long the task waited past its desired run time.
func queueDelay(info core.TaskInfo, now time.Time) time.Duration {
	if info.Desired.IsZero() || now.Before(info.Desired) {
		return 0
	}
	return now.Sub(info.Desired)
}
