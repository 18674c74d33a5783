package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	Name       string
	QueueName  string
	QueueID    QueueID
	FrameID    FrameID
	Priority   TaskPriority
	PostedAt   time.Time
	Desired    time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// Delay is how late the task started relative to its requested time. For
// throttled queues this is the cost of throttling.
func (r TaskExecutionRecord) Delay() time.Duration {
	if r.StartedAt.Before(r.Desired) {
		return 0
	}
	return r.StartedAt.Sub(r.Desired)
}

// SchedulerStats is a point-in-time snapshot, safe to read from any goroutine.
type SchedulerStats struct {
	Pages           int
	Frames          int
	Queues          int
	ReadyTasks      int
	DelayedTasks    int
	ThrottledQueues int
	DisabledQueues  int
	TasksRun        uint64
	Panics          uint64
	Policy          IntensiveThrottlingPolicy
	PageStates      map[string]int // page lifecycle state name -> page count
	CapturedAt      time.Time
}
