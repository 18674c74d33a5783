package core

import (
	"reflect"
	"runtime"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/google/uuid"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// QueueID identifies a TaskQueue for the lifetime of the process.
type QueueID string

func newQueueID() QueueID { return QueueID(uuid.NewString()) }

// delayedKey orders pending tasks by desired run time, then post order.
type delayedKey struct {
	at  int64 // desired run time, unix nanoseconds
	seq uint64
}

func compareDelayedKeys(a, b any) int {
	ka, kb := a.(delayedKey), b.(delayedKey)
	switch {
	case ka.at < kb.at:
		return -1
	case ka.at > kb.at:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

func keyOf(t *scheduledTask) delayedKey {
	return delayedKey{at: t.desired.UnixNano(), seq: t.sequence}
}

// TaskQueue holds the work of one frame that shares a set of QueueTraits.
//
// Posted tasks first wait in a time-ordered set keyed by their desired run
// time. The dispatcher moves them to the ready FIFO when the queue wakes up;
// for throttled queues the wake-up time comes from the page's
// WakeUpThrottler. A queue never drops tasks when it is disabled.
//
// TaskQueue is not safe for concurrent use; all calls happen on the
// dispatch goroutine (see MainThreadScheduler.PostFromAnyThread).
type TaskQueue struct {
	id     QueueID
	name   string
	traits QueueTraits
	frame  *FrameScheduler
	sched  *MainThreadScheduler

	ready   []*scheduledTask
	delayed *redblacktree.Tree

	// Set for queues created by NewWebSchedulingTaskQueue.
	web *WebSchedulingTaskQueue

	// Set for queues created by CreateResourceLoadingTaskRunnerHandle while
	// the fetch priority experiment is active.
	resourceLoading     bool
	resourcePriority    TaskPriority
	hasResourcePriority bool

	detached bool
}

func newTaskQueue(frame *FrameScheduler, traits QueueTraits, name string) *TaskQueue {
	if name == "" {
		name = traits.Name()
	}
	return &TaskQueue{
		id:      newQueueID(),
		name:    name,
		traits:  traits,
		frame:   frame,
		sched:   frame.sched,
		ready:   make([]*scheduledTask, 0, defaultQueueCap),
		delayed: redblacktree.NewWith(compareDelayedKeys),
	}
}

func (q *TaskQueue) ID() QueueID            { return q.id }
func (q *TaskQueue) Name() string           { return q.name }
func (q *TaskQueue) Traits() QueueTraits    { return q.traits }
func (q *TaskQueue) Frame() *FrameScheduler { return q.frame }
func (q *TaskQueue) IsDetached() bool       { return q.detached }
func (q *TaskQueue) HasReadyTask() bool     { return len(q.ready) > 0 }
func (q *TaskQueue) ReadyCount() int        { return len(q.ready) }
func (q *TaskQueue) DelayedCount() int      { return q.delayed.Size() }
func (q *TaskQueue) Len() int               { return len(q.ready) + q.delayed.Size() }

// FixedPriority reports the priority pinned by the queue's traits, if any.
func (q *TaskQueue) FixedPriority() (TaskPriority, bool) {
	return q.traits.FixedPriority()
}

// Priority returns the priority engine's output for the current page, frame
// and experiment state. It is recomputed on every call.
func (q *TaskQueue) Priority() TaskPriority {
	return ComputePriority(q.priorityInputs(), &q.sched.settings)
}

// IsThrottled reports whether the wake-up throttler currently governs q.
func (q *TaskQueue) IsThrottled() bool {
	return !q.detached && q.frame.isQueueThrottled(q)
}

// IsEnabled reports whether q may run tasks now. Disabled queues keep their
// tasks.
func (q *TaskQueue) IsEnabled() bool {
	return !q.detached && q.frame.isQueueEnabled(q)
}

// PostTask posts task to run as soon as the queue allows.
func (q *TaskQueue) PostTask(task Task) *TaskHandle {
	return q.PostDelayedNamedTask("", task, 0)
}

// PostDelayedTask posts task to run no earlier than delay from now.
func (q *TaskQueue) PostDelayedTask(task Task, delay time.Duration) *TaskHandle {
	return q.PostDelayedNamedTask("", task, delay)
}

// PostNamedTask is PostTask with an explicit name for history and tracing.
func (q *TaskQueue) PostNamedTask(name string, task Task) *TaskHandle {
	return q.PostDelayedNamedTask(name, task, 0)
}

// PostDelayedNamedTask posts task under name. Negative delays count as zero.
// Posting to a detached queue or posting a nil task is refused; the returned
// handle is then already cancelled.
func (q *TaskQueue) PostDelayedNamedTask(name string, task Task, delay time.Duration) *TaskHandle {
	if delay < 0 {
		delay = 0
	}
	st := &scheduledTask{task: task, name: taskName(task, name)}
	handle := &TaskHandle{queue: q, task: st}

	if task == nil || q.detached {
		reason := "detached"
		if task == nil {
			reason = "nil_task"
		}
		st.state = taskStateCancelled
		q.sched.metrics.RecordTaskRejected(q.name, reason)
		q.sched.logger.Warn("task rejected",
			F("queue", q.name), F("reason", reason), F("task", st.name))
		return handle
	}

	now := q.sched.clock.Now()
	st.postedAt = now
	st.desired = now.Add(delay)
	st.sequence = q.sched.nextSequence()
	st.state = taskStateDelayed
	q.delayed.Put(keyOf(st), st)

	q.sched.metrics.RecordQueueDepth(q.name, q.Len())
	return handle
}

func (q *TaskQueue) cancel(st *scheduledTask) bool {
	switch st.state {
	case taskStateDelayed:
		q.delayed.Remove(keyOf(st))
	case taskStateReady:
		for i, t := range q.ready {
			if t == st {
				copy(q.ready[i:], q.ready[i+1:])
				q.ready[len(q.ready)-1] = nil
				q.ready = q.ready[:len(q.ready)-1]
				break
			}
		}
		q.maybeCompact()
	default:
		return false
	}
	st.state = taskStateCancelled
	return true
}

// nextDelayed returns the pending task with the earliest desired time.
func (q *TaskQueue) nextDelayed() (*scheduledTask, bool) {
	node := q.delayed.Left()
	if node == nil {
		return nil, false
	}
	return node.Value.(*scheduledTask), true
}

// takeDue removes and returns every pending task whose desired time is not
// after now, in (desired, post order).
func (q *TaskQueue) takeDue(now time.Time) []*scheduledTask {
	var due []*scheduledTask
	for {
		st, ok := q.nextDelayed()
		if !ok || st.desired.After(now) {
			return due
		}
		q.delayed.Remove(keyOf(st))
		due = append(due, st)
	}
}

func (q *TaskQueue) pushReady(st *scheduledTask, enqueueOrder uint64) {
	st.state = taskStateReady
	st.enqueueOrder = enqueueOrder
	q.ready = append(q.ready, st)
}

func (q *TaskQueue) frontEnqueueOrder() uint64 {
	return q.ready[0].enqueueOrder
}

func (q *TaskQueue) popReady() (*scheduledTask, bool) {
	if len(q.ready) == 0 {
		return nil, false
	}
	st := q.ready[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.ready[0] = nil
	q.ready = q.ready[1:]
	q.maybeCompact()
	return st, true
}

func (q *TaskQueue) maybeCompact() {
	n := len(q.ready)
	c := cap(q.ready)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.ready = make([]*scheduledTask, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)
	newSlice := make([]*scheduledTask, n, newCap)
	copy(newSlice, q.ready)
	q.ready = newSlice
}

// detach drops every pending task and refuses further posts.
func (q *TaskQueue) detach() {
	if q.detached {
		return
	}
	q.detached = true
	for _, st := range q.ready {
		st.state = taskStateCancelled
	}
	q.ready = nil
	for _, v := range q.delayed.Values() {
		v.(*scheduledTask).state = taskStateCancelled
	}
	q.delayed.Clear()
}

// taskName falls back to the function symbol for unnamed tasks.
func taskName(task Task, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if task == nil {
		return "anonymous"
	}
	if fn := runtime.FuncForPC(reflect.ValueOf(task).Pointer()); fn != nil && fn.Name() != "" {
		return fn.Name()
	}
	return "anonymous"
}
