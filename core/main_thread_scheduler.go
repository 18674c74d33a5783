package core

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// inboxQueueName labels panics of closures posted with PostFromAnyThread.
const inboxQueueName = "cross-thread"

// controlTask is an internal callback that runs on the dispatch goroutine at
// a given time, ahead of frame tasks that are ready at the same instant.
type controlTask struct {
	key  delayedKey
	at   time.Time
	name string
	fn   func()
}

// MainThreadScheduler owns every page, frame and queue of one renderer main
// thread and dispatches their tasks one at a time.
//
// All methods except PostFromAnyThread, Shutdown, Stats and RecentTasks must
// be called on the dispatch goroutine: the goroutine calling Run, or the test
// goroutine driving a SimulatedClock through RunUntilIdle and FastForwardBy.
type MainThreadScheduler struct {
	settings     SchedulingSettings
	policy       IntensiveThrottlingPolicy
	clock        Clock
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler
	observer     TaskObserver

	pages  []*PageScheduler
	queues []*TaskQueue

	sequence     uint64
	enqueueOrder uint64

	// Keyed by delayedKey.
	control *redblacktree.Tree

	baseCtx  context.Context
	tasksRun uint64
	panics   uint64
	history  *taskHistory

	statsMu sync.Mutex
	stats   SchedulerStats

	inbox        chan func()
	done         chan struct{}
	closed       atomic.Bool
	running      atomic.Bool
	shutdownOnce sync.Once
	teardownDone bool
}

// NewMainThreadScheduler creates a scheduler. A nil config uses
// DefaultSchedulerConfig.
func NewMainThreadScheduler(config *SchedulerConfig) *MainThreadScheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = NewNoOpLogger()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NilMetrics{}
	}
	panicHandler := config.PanicHandler
	if panicHandler == nil {
		panicHandler = &DefaultPanicHandler{}
	}

	s := &MainThreadScheduler{
		settings:     config.Settings.normalized(),
		policy:       config.IntensiveThrottlingPolicy,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		panicHandler: panicHandler,
		observer:     config.TaskObserver,
		control:      redblacktree.NewWith(compareDelayedKeys),
		baseCtx:      context.Background(),
		history:      newTaskHistory(config.HistoryCapacity),
		inbox:        make(chan func(), defaultCrossThreadInboxCapacity),
		done:         make(chan struct{}),
	}
	s.publishStats()
	return s
}

func (s *MainThreadScheduler) Clock() Clock { return s.clock }

// Settings returns the normalized settings in use.
func (s *MainThreadScheduler) Settings() SchedulingSettings { return s.settings }

func (s *MainThreadScheduler) IntensiveWakeUpThrottlingPolicy() IntensiveThrottlingPolicy {
	return s.policy
}

// SetIntensiveWakeUpThrottlingPolicy overrides the intensive throttling
// setting. Pending throttled tasks see the new policy on the next dispatch.
func (s *MainThreadScheduler) SetIntensiveWakeUpThrottlingPolicy(p IntensiveThrottlingPolicy) {
	if s.policy == p {
		return
	}
	s.policy = p
	s.logger.Info("intensive wake-up throttling policy changed", F("policy", p))
}

// intensiveThrottlingParams resolves the policy override against the
// settings.
func (s *MainThreadScheduler) intensiveThrottlingParams() (enabled bool, grace, interval time.Duration) {
	switch s.policy {
	case IntensiveThrottlingPolicyForceDisable:
		return false, 0, 0
	case IntensiveThrottlingPolicyForceEnable:
		return true, DefaultIntensiveGracePeriod, DefaultIntensiveWakeUpInterval
	default:
		return s.settings.IntensiveWakeUpThrottling,
			s.settings.IntensiveGracePeriod, s.settings.IntensiveWakeUpInterval
	}
}

// NewPage creates a visible, unfrozen page.
func (s *MainThreadScheduler) NewPage() *PageScheduler {
	p := newPageScheduler(s)
	if s.closed.Load() {
		p.detached = true
		return p
	}
	s.pages = append(s.pages, p)
	s.logger.Debug("page attached", F("page", p.id))
	return p
}

// Pages returns the attached pages in creation order.
func (s *MainThreadScheduler) Pages() []*PageScheduler {
	return append([]*PageScheduler(nil), s.pages...)
}

func (s *MainThreadScheduler) removePage(p *PageScheduler) {
	for i, x := range s.pages {
		if x == p {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			return
		}
	}
}

func (s *MainThreadScheduler) registerQueue(q *TaskQueue) {
	s.queues = append(s.queues, q)
}

func (s *MainThreadScheduler) unregisterQueue(q *TaskQueue) {
	for i, x := range s.queues {
		if x == q {
			s.queues = append(s.queues[:i], s.queues[i+1:]...)
			return
		}
	}
}

func (s *MainThreadScheduler) nextSequence() uint64 {
	s.sequence++
	return s.sequence
}

// =============================================================================
// Control tasks
// =============================================================================

func (s *MainThreadScheduler) postControlTask(name string, fn func()) *controlTask {
	return s.postControlTaskAt(s.clock.Now(), name, fn)
}

func (s *MainThreadScheduler) postControlTaskAt(at time.Time, name string, fn func()) *controlTask {
	c := &controlTask{
		key:  delayedKey{at: at.UnixNano(), seq: s.nextSequence()},
		at:   at,
		name: name,
		fn:   fn,
	}
	s.control.Put(c.key, c)
	return c
}

func (s *MainThreadScheduler) cancelControlTask(c *controlTask) {
	if c == nil {
		return
	}
	s.control.Remove(c.key)
}

// runControlTasks runs every control task due at now, including ones posted
// by control tasks for the same instant.
func (s *MainThreadScheduler) runControlTasks(now time.Time) {
	for {
		node := s.control.Left()
		if node == nil {
			return
		}
		c := node.Value.(*controlTask)
		if c.at.After(now) {
			return
		}
		s.control.Remove(c.key)
		c.fn()
	}
}

// =============================================================================
// Dispatch
// =============================================================================

type promotion struct {
	queue *TaskQueue
	task  *scheduledTask
}

// promote moves pending tasks whose wake-up has come into the ready FIFOs of
// their queues. Tasks promoted together are sequenced by desired run time
// and then post order, across queues.
//
// Every queue is checked against the wake-up state from before this pass,
// so throttled queues that share a pool and are due at the same instant
// wake up together.
func (s *MainThreadScheduler) promote(now time.Time) {
	var (
		due        []*TaskQueue
		throttlers []*WakeUpThrottler
		woken      = make(map[*WakeUpThrottler][]*TaskQueue)
	)
	for _, q := range s.queues {
		if !q.IsEnabled() {
			continue
		}
		front, ok := q.nextDelayed()
		if !ok {
			continue
		}
		throttler := q.frame.page.throttler
		if throttler.NextAllowedRunTime(q, front.desired).After(now) {
			continue
		}
		due = append(due, q)
		if q.IsThrottled() {
			if _, seen := woken[throttler]; !seen {
				throttlers = append(throttlers, throttler)
			}
			woken[throttler] = append(woken[throttler], q)
		}
	}

	var batch []promotion
	for _, q := range due {
		for _, st := range q.takeDue(now) {
			batch = append(batch, promotion{queue: q, task: st})
		}
	}
	for _, throttler := range throttlers {
		throttler.OnWakeUp(woken[throttler], now)
	}
	if len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool {
		a, b := batch[i].task, batch[j].task
		if !a.desired.Equal(b.desired) {
			return a.desired.Before(b.desired)
		}
		return a.sequence < b.sequence
	})
	for _, p := range batch {
		s.enqueueOrder++
		p.queue.pushReady(p.task, s.enqueueOrder)
	}
}

// selectQueue picks the enabled queue with a ready task and the highest
// priority; ties go to the task that became ready first.
func (s *MainThreadScheduler) selectQueue() (*TaskQueue, TaskPriority) {
	var (
		best     *TaskQueue
		bestPrio TaskPriority
	)
	for _, q := range s.queues {
		if !q.HasReadyTask() || !q.IsEnabled() {
			continue
		}
		prio := q.Priority()
		if best == nil || prio > bestPrio ||
			(prio == bestPrio && q.frontEnqueueOrder() < best.frontEnqueueOrder()) {
			best, bestPrio = q, prio
		}
	}
	return best, bestPrio
}

// runReadyWork runs control tasks and frame tasks until nothing is ready at
// the current time. It returns the number of frame tasks run.
func (s *MainThreadScheduler) runReadyWork() int {
	ran := 0
	for {
		now := s.clock.Now()
		s.runControlTasks(now)
		s.promote(now)
		q, prio := s.selectQueue()
		if q == nil {
			return ran
		}
		st, _ := q.popReady()
		s.runTask(q, st, prio)
		ran++
	}
}

func (s *MainThreadScheduler) runTask(q *TaskQueue, st *scheduledTask, prio TaskPriority) {
	st.state = taskStateDone

	info := TaskInfo{
		Name:      st.name,
		QueueName: q.name,
		QueueID:   q.id,
		FrameID:   q.frame.id,
		Priority:  prio,
		PostedAt:  st.postedAt,
		Desired:   st.desired,
	}
	ctx := context.WithValue(s.baseCtx, taskQueueKey, q)
	if s.observer != nil {
		ctx = s.observer.WillProcessTask(ctx, info)
	}

	start := s.clock.Now()
	panicked := s.invoke(ctx, q, st)
	finish := s.clock.Now()
	duration := finish.Sub(start)

	record := TaskExecutionRecord{
		Name:       st.name,
		QueueName:  q.name,
		QueueID:    q.id,
		FrameID:    q.frame.id,
		Priority:   prio,
		PostedAt:   st.postedAt,
		Desired:    st.desired,
		StartedAt:  start,
		FinishedAt: finish,
		Duration:   duration,
		Panicked:   panicked,
	}
	s.tasksRun++
	s.history.add(record)
	s.metrics.RecordTaskDuration(q.name, prio, duration)
	q.frame.addTaskTime(duration)

	if s.observer != nil {
		s.observer.DidProcessTask(ctx, record)
	}
}

func (s *MainThreadScheduler) invoke(ctx context.Context, q *TaskQueue, st *scheduledTask) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.panics++
			s.panicHandler.HandlePanic(ctx, q.name, r, debug.Stack())
			s.metrics.RecordTaskPanic(q.name, r)
			s.logger.Error("task panicked",
				F("queue", q.name), F("task", st.name), F("panic", r))
		}
	}()
	st.task(ctx)
	return false
}

// NextWakeUp returns the earliest time at which an enabled queue or a control
// task needs service. ok is false when there is nothing to wait for.
func (s *MainThreadScheduler) NextWakeUp() (next time.Time, ok bool) {
	consider := func(t time.Time) {
		if !ok || t.Before(next) {
			next, ok = t, true
		}
	}
	if node := s.control.Left(); node != nil {
		consider(node.Value.(*controlTask).at)
	}
	now := s.clock.Now()
	for _, q := range s.queues {
		if !q.IsEnabled() {
			continue
		}
		if q.HasReadyTask() {
			consider(now)
			continue
		}
		if front, has := q.nextDelayed(); has {
			consider(q.frame.page.throttler.NextAllowedRunTime(q, front.desired))
		}
	}
	return next, ok
}

// =============================================================================
// Driving time
// =============================================================================

// RunUntilIdle drains cross-thread posts and runs every task that is ready
// at the current time.
func (s *MainThreadScheduler) RunUntilIdle() {
	if s.closed.Load() {
		s.teardown()
		return
	}
	s.drainInbox()
	s.runReadyWork()
	s.publishStats()
}

func (s *MainThreadScheduler) simulatedClock() (*SimulatedClock, error) {
	c, ok := s.clock.(*SimulatedClock)
	if !ok {
		return nil, ErrClockNotSimulated
	}
	return c, nil
}

// FastForwardBy advances a simulated clock by d, running every task that
// becomes ready on the way at its ready time.
func (s *MainThreadScheduler) FastForwardBy(d time.Duration) error {
	if _, err := s.simulatedClock(); err != nil {
		return err
	}
	if d < 0 {
		return ErrTimeInPast
	}
	return s.AdvanceTo(s.clock.Now().Add(d))
}

// AdvanceTo advances a simulated clock to target, running every task that
// becomes ready on the way at its ready time.
func (s *MainThreadScheduler) AdvanceTo(target time.Time) error {
	clock, err := s.simulatedClock()
	if err != nil {
		return err
	}
	if target.Before(clock.Now()) {
		return ErrTimeInPast
	}
	for {
		s.RunUntilIdle()
		if s.closed.Load() {
			break
		}
		next, ok := s.NextWakeUp()
		if !ok || next.After(target) || !next.After(clock.Now()) {
			break
		}
		clock.set(next)
	}
	clock.set(target)
	s.RunUntilIdle()
	return nil
}

// FastForwardUntilNoTasksRemain advances a simulated clock until no enabled
// queue has pending work and no control task is armed, or until limit has
// elapsed.
func (s *MainThreadScheduler) FastForwardUntilNoTasksRemain(limit time.Duration) error {
	clock, err := s.simulatedClock()
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = defaultFastForwardUntilIdleHorizon
	}
	deadline := clock.Now().Add(limit)
	for {
		s.RunUntilIdle()
		if s.closed.Load() {
			return nil
		}
		next, ok := s.NextWakeUp()
		if !ok || next.After(deadline) || !next.After(clock.Now()) {
			return nil
		}
		clock.set(next)
	}
}

// Run dispatches tasks in real time until ctx is cancelled or Shutdown is
// called. It sleeps until the next wake-up or until a cross-thread post
// arrives. Run returns ctx.Err() on cancellation and nil after Shutdown.
func (s *MainThreadScheduler) Run(ctx context.Context) error {
	if _, ok := s.clock.(*SimulatedClock); ok {
		return ErrClockSimulated
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	defer s.running.Store(false)

	s.baseCtx = ctx
	defer func() { s.baseCtx = context.Background() }()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if s.closed.Load() {
			s.teardown()
			return nil
		}
		s.drainInbox()
		s.runReadyWork()
		s.publishStats()

		wait := time.Hour
		if next, ok := s.NextWakeUp(); ok {
			wait = max(next.Sub(s.clock.Now()), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			s.teardown()
			return nil
		case <-timer.C:
		case fn := <-s.inbox:
			// Posted from another goroutine; recalculate the wake-up after it
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			s.runInboxTask(fn)
		}
	}
}

// PostFromAnyThread queues fn to run on the dispatch goroutine. It is the
// only way to reach pages, frames and queues from other goroutines. It
// blocks while the inbox is full.
func (s *MainThreadScheduler) PostFromAnyThread(fn func()) error {
	if fn == nil {
		return nil
	}
	if s.closed.Load() {
		return ErrSchedulerShutdown
	}
	select {
	case <-s.done:
		return ErrSchedulerShutdown
	case s.inbox <- fn:
		return nil
	}
}

func (s *MainThreadScheduler) drainInbox() {
	for {
		select {
		case fn := <-s.inbox:
			s.runInboxTask(fn)
		default:
			return
		}
	}
}

// runInboxTask runs a cross-thread closure. A panic is handled like a panic
// in a queued task and does not stop dispatch.
func (s *MainThreadScheduler) runInboxTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.panics++
			s.panicHandler.HandlePanic(s.baseCtx, inboxQueueName, r, debug.Stack())
			s.metrics.RecordTaskPanic(inboxQueueName, r)
			s.logger.Error("cross-thread task panicked", F("queue", inboxQueueName), F("panic", r))
		}
	}()
	fn()
}

// Shutdown stops the scheduler. It may be called from any goroutine. Pages
// are detached on the dispatch goroutine, at the latest by the next call
// that drives it.
func (s *MainThreadScheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.logger.Info("scheduler shutdown requested")
	})
}

func (s *MainThreadScheduler) IsShutdown() bool {
	return s.closed.Load()
}

func (s *MainThreadScheduler) teardown() {
	if s.teardownDone {
		return
	}
	s.teardownDone = true
	for _, p := range s.Pages() {
		p.Detach()
	}
	s.control.Clear()
	s.publishStats()
}

// =============================================================================
// Observability
// =============================================================================

// RecentTasks returns up to limit execution records, newest first. Safe to
// call from any goroutine.
func (s *MainThreadScheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.recent(limit, nil)
}

// RecentFrameTasks is RecentTasks restricted to one frame. Safe to call from
// any goroutine.
func (s *MainThreadScheduler) RecentFrameTasks(frame FrameID, limit int) []TaskExecutionRecord {
	return s.history.recent(limit, func(r *TaskExecutionRecord) bool { return r.FrameID == frame })
}

// FrameTaskSummary aggregates the retained records of frame. Safe to call
// from any goroutine.
func (s *MainThreadScheduler) FrameTaskSummary(frame FrameID) FrameTaskSummary {
	return s.history.summarize(frame)
}

// Stats returns the snapshot taken after the last dispatch round. Safe to
// call from any goroutine.
func (s *MainThreadScheduler) Stats() SchedulerStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := s.stats
	out.PageStates = make(map[string]int, len(s.stats.PageStates))
	for k, v := range s.stats.PageStates {
		out.PageStates[k] = v
	}
	return out
}

func (s *MainThreadScheduler) publishStats() {
	st := SchedulerStats{
		Pages:      len(s.pages),
		Queues:     len(s.queues),
		TasksRun:   s.tasksRun,
		Panics:     s.panics,
		Policy:     s.policy,
		PageStates: make(map[string]int),
		CapturedAt: s.clock.Now(),
	}
	for _, p := range s.pages {
		st.Frames += len(p.frames)
		st.PageStates[p.LifecycleState().String()]++
	}
	for _, q := range s.queues {
		st.ReadyTasks += q.ReadyCount()
		st.DelayedTasks += q.DelayedCount()
		if q.IsThrottled() {
			st.ThrottledQueues++
		}
		if !q.IsEnabled() {
			st.DisabledQueues++
		}
	}

	s.statsMu.Lock()
	s.stats = st
	s.statsMu.Unlock()
}
