package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskPriority: Output of the priority engine
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityBestEffort: Runs only when nothing else is ready
	TaskPriorityBestEffort TaskPriority = iota

	// TaskPriorityLow: Used by the de-prioritisation experiments
	TaskPriorityLow

	// TaskPriorityNormal: Default priority
	TaskPriorityNormal

	// TaskPriorityHigh: Loading control and foreground database work
	TaskPriorityHigh

	// TaskPriorityVeryHigh: Work that must preempt everything else on the frame
	// (find-in-page, script loading continuations).
	TaskPriorityVeryHigh
)

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityBestEffort:
		return "best_effort"
	case TaskPriorityLow:
		return "low"
	case TaskPriorityNormal:
		return "normal"
	case TaskPriorityHigh:
		return "high"
	case TaskPriorityVeryHigh:
		return "very_high"
	default:
		return "unknown"
	}
}

// =============================================================================
// TaskHandle: Cancellation of a posted task
// =============================================================================

type taskState int

const (
	taskStateDelayed taskState = iota
	taskStateReady
	taskStateDone
	taskStateCancelled
)

// scheduledTask is a posted task waiting in a TaskQueue.
type scheduledTask struct {
	task     Task
	name     string
	postedAt time.Time
	desired  time.Time
	sequence uint64 // post order, global across queues

	enqueueOrder uint64 // assigned when the task becomes ready
	state        taskState
}

// TaskHandle refers to a posted task. It can cancel the task until it runs.
type TaskHandle struct {
	queue *TaskQueue
	task  *scheduledTask
}

// Cancel removes the task from its queue. It reports whether the task was
// still pending; cancelling a task that already ran (or was cancelled) is a
// no-op.
func (h *TaskHandle) Cancel() bool {
	if h == nil || h.task == nil || h.queue == nil {
		return false
	}
	return h.queue.cancel(h.task)
}

// IsPending reports whether the task is still waiting to run.
func (h *TaskHandle) IsPending() bool {
	if h == nil || h.task == nil {
		return false
	}
	return h.task.state == taskStateDelayed || h.task.state == taskStateReady
}

// DesiredRunTime is the time requested at post time (post time plus delay),
// before any throttling.
func (h *TaskHandle) DesiredRunTime() time.Time {
	if h == nil || h.task == nil {
		return time.Time{}
	}
	return h.task.desired
}

// =============================================================================
// Context Helper
// =============================================================================
type taskQueueKeyType struct{}

var taskQueueKey taskQueueKeyType

// CurrentTaskQueue returns the queue whose task is running with ctx.
func CurrentTaskQueue(ctx context.Context) *TaskQueue {
	if v := ctx.Value(taskQueueKey); v != nil {
		return v.(*TaskQueue)
	}
	return nil
}
