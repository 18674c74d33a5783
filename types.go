package pagescheduler

import "github.com/Swind/go-page-scheduler/core"

// Re-export commonly used types from core package for convenience.

// Task is the unit of work (Closure)
type Task = core.Task

type (
	MainThreadScheduler = core.MainThreadScheduler
	PageScheduler       = core.PageScheduler
	FrameScheduler      = core.FrameScheduler
	TaskQueue           = core.TaskQueue
	TaskHandle          = core.TaskHandle
)

// TaskType selects the queue a task is posted to
type TaskType = core.TaskType

// TaskPriority defines the priority levels for tasks
type TaskPriority = core.TaskPriority

// SchedulingSettings are the throttling flags and priority experiments
type SchedulingSettings = core.SchedulingSettings

// SchedulerConfig holds the handlers and settings of a scheduler
type SchedulerConfig = core.SchedulerConfig

// IntensiveThrottlingPolicy overrides the intensive wake-up throttling experiment
type IntensiveThrottlingPolicy = core.IntensiveThrottlingPolicy

// SchedulingLifecycleState is what lifecycle observers receive
type SchedulingLifecycleState = core.SchedulingLifecycleState

// Priority constants
const (
	TaskPriorityBestEffort = core.TaskPriorityBestEffort
	TaskPriorityLow        = core.TaskPriorityLow
	TaskPriorityNormal     = core.TaskPriorityNormal
	TaskPriorityHigh       = core.TaskPriorityHigh
	TaskPriorityVeryHigh   = core.TaskPriorityVeryHigh
)

// Policy constants
const (
	IntensiveThrottlingPolicyDefault      = core.IntensiveThrottlingPolicyDefault
	IntensiveThrottlingPolicyForceEnable  = core.IntensiveThrottlingPolicyForceEnable
	IntensiveThrottlingPolicyForceDisable = core.IntensiveThrottlingPolicyForceDisable
)

// Convenience constructors
var (
	DefaultSchedulerConfig    = core.DefaultSchedulerConfig
	DefaultSchedulingSettings = core.DefaultSchedulingSettings
	NewSimulatedClock         = core.NewSimulatedClock
)

// NewMainThreadScheduler creates a scheduler driven by the caller. Use it with
// a simulated clock for virtual time, or NewMainThread for a real-time loop.
func NewMainThreadScheduler(cfg *SchedulerConfig) *MainThreadScheduler {
	return core.NewMainThreadScheduler(cfg)
}
