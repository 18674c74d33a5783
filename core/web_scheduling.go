package core

// WebSchedulingPriority is the priority a script requested for a
// web-scheduling task queue.
type WebSchedulingPriority int

const (
	WebSchedulingPriorityUserBlocking WebSchedulingPriority = iota
	WebSchedulingPriorityUserVisible
	WebSchedulingPriorityBackground
)

func (p WebSchedulingPriority) String() string {
	switch p {
	case WebSchedulingPriorityUserBlocking:
		return "user-blocking"
	case WebSchedulingPriorityUserVisible:
		return "user-visible"
	case WebSchedulingPriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

func (p WebSchedulingPriority) taskPriority() TaskPriority {
	switch p {
	case WebSchedulingPriorityUserBlocking:
		return TaskPriorityHigh
	case WebSchedulingPriorityBackground:
		return TaskPriorityLow
	default:
		return TaskPriorityNormal
	}
}

// WebSchedulingTaskQueue is a frame queue whose priority is chosen by script
// and may change while tasks are pending.
type WebSchedulingTaskQueue struct {
	queue    *TaskQueue
	priority WebSchedulingPriority
}

// NewWebSchedulingTaskQueue creates a dedicated queue for the frame. It is
// pausable, deferrable and freezable like other script-visible work.
func (f *FrameScheduler) NewWebSchedulingTaskQueue(p WebSchedulingPriority) *WebSchedulingTaskQueue {
	traits := QueueTraits{
		Prioritisation: PrioritisationWebScheduling,
		CanBeDeferred:  true,
		CanBePaused:    true,
		CanBeFrozen:    true,
	}
	q := f.addQueue(traits, "web-scheduling-"+p.String())
	w := &WebSchedulingTaskQueue{queue: q, priority: p}
	q.web = w
	return w
}

func (w *WebSchedulingTaskQueue) TaskQueue() *TaskQueue           { return w.queue }
func (w *WebSchedulingTaskQueue) Priority() WebSchedulingPriority { return w.priority }

// SetPriority changes the priority; pending tasks are affected immediately.
func (w *WebSchedulingTaskQueue) SetPriority(p WebSchedulingPriority) {
	w.priority = p
}

// Close removes the queue from its frame and drops pending tasks.
func (w *WebSchedulingTaskQueue) Close() {
	w.queue.frame.removeQueue(w.queue)
}
