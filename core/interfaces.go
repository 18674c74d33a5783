package core

import (
	"context"
	"fmt"
	"os"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution. The scheduler
// recovers the panic and keeps dispatching.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task ran with (CurrentTaskQueue works on it)
	// - queueName: The name of the queue the task was posted to
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler writes panic information to stderr.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte) {
	fmt.Fprintf(os.Stderr, "[Queue %s] Panic: %v\nStack trace:\n%s", queueName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from the dispatch goroutine and must be fast.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(queueName string, priority TaskPriority, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(queueName string, panicInfo any)

	// RecordQueueDepth records the number of pending tasks of a queue after a
	// post.
	RecordQueueDepth(queueName string, depth int)

	// RecordTaskRejected records that a post was refused (e.g. the frame was
	// detached).
	RecordTaskRejected(queueName string, reason string)

	// RecordWakeUp records a wake-up of a throttled queue, labelled with the
	// budget pool that admitted it ("baseline", "intensive_same_origin",
	// "intensive_cross_origin").
	RecordWakeUp(pool string)

	// RecordLifecycleTransition records a page entering a lifecycle state.
	RecordLifecycleTransition(state SchedulingLifecycleState)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(queueName string, priority TaskPriority, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskPanic(queueName string, panicInfo any)          {}
func (m *NilMetrics) RecordQueueDepth(queueName string, depth int)             {}
func (m *NilMetrics) RecordTaskRejected(queueName string, reason string)       {}
func (m *NilMetrics) RecordWakeUp(pool string)                                 {}
func (m *NilMetrics) RecordLifecycleTransition(state SchedulingLifecycleState) {}

// =============================================================================
// TaskObserver: Hooks around task execution
// =============================================================================

// TaskInfo describes a task about to run.
type TaskInfo struct {
	Name      string
	QueueName string
	QueueID   QueueID
	FrameID   FrameID
	Priority  TaskPriority
	PostedAt  time.Time
	Desired   time.Time
}

// TaskObserver is notified around every dispatched task. WillProcessTask may
// return a derived context (for example carrying a trace span) that the task
// and DidProcessTask receive.
type TaskObserver interface {
	WillProcessTask(ctx context.Context, info TaskInfo) context.Context
	DidProcessTask(ctx context.Context, record TaskExecutionRecord)
}

// =============================================================================
// SchedulerConfig: Configuration for MainThreadScheduler
// =============================================================================

// SchedulerConfig holds configuration options for MainThreadScheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Clock defaults to RealClock. Use a *SimulatedClock for virtual time.
	Clock Clock

	// Settings are normalized on construction; zero durations take defaults.
	Settings SchedulingSettings

	IntensiveThrottlingPolicy IntensiveThrottlingPolicy

	// Logger defaults to NoOpLogger.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// TaskObserver is optional.
	TaskObserver TaskObserver

	// HistoryCapacity bounds RecentTasks. Defaults to 100.
	HistoryCapacity int
}

// DefaultSchedulerConfig returns a config with default handlers and settings.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Clock:           RealClock{},
		Settings:        DefaultSchedulingSettings(),
		Logger:          NewNoOpLogger(),
		Metrics:         &NilMetrics{},
		PanicHandler:    &DefaultPanicHandler{},
		HistoryCapacity: defaultExecutionHistoryCapacity,
	}
}
