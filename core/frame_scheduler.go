package core

import (
	"time"

	"github.com/google/uuid"
)

// FrameID identifies a FrameScheduler.
type FrameID string

// FrameType distinguishes the main frame of a page from its sub-frames.
type FrameType int

const (
	FrameTypeMainFrame FrameType = iota
	FrameTypeSubframe
)

func (t FrameType) String() string {
	if t == FrameTypeMainFrame {
		return "main_frame"
	}
	return "subframe"
}

// NavigationType is the kind of navigation a frame committed.
type NavigationType int

const (
	NavigationTypeReload NavigationType = iota
	NavigationTypeSameDocument
	NavigationTypeOther
)

func (t NavigationType) String() string {
	switch t {
	case NavigationTypeReload:
		return "reload"
	case NavigationTypeSameDocument:
		return "same_document"
	case NavigationTypeOther:
		return "other"
	default:
		return "unknown"
	}
}

// FrameDelegate receives reports from a frame scheduler.
type FrameDelegate interface {
	// UpdateTaskTime reports accumulated task time of the frame.
	UpdateTaskTime(d time.Duration)

	// UpdateActiveSchedulerTrackedFeatures reports the feature mask after
	// it changed.
	UpdateActiveSchedulerTrackedFeatures(mask uint64)
}

// NopFrameDelegate ignores every report.
type NopFrameDelegate struct{}

func (NopFrameDelegate) UpdateTaskTime(time.Duration)                {}
func (NopFrameDelegate) UpdateActiveSchedulerTrackedFeatures(uint64) {}

// FrameScheduler is the per-frame context. It owns the frame's task queues,
// its feature tracker and its lifecycle observers, and answers whether a
// queue may run or is throttled from the frame and page state.
type FrameScheduler struct {
	id        FrameID
	page      *PageScheduler
	sched     *MainThreadScheduler
	delegate  FrameDelegate
	frameType FrameType

	visible     bool
	crossOrigin bool
	adFrame     bool
	paused      bool
	preempted   bool
	detached    bool

	// Paint milestones; the page is loading between the two.
	fcpSeen bool
	fmpSeen bool

	// Shared queues, one per distinct traits value.
	queues map[QueueTraits]*TaskQueue
	// Every live queue of the frame in creation order, including
	// web-scheduling and dedicated resource loading queues.
	allQueues []*TaskQueue

	features                *FeatureTracker
	observers               lifecycleObservers
	pauseSubresourceLoading int

	unreportedTaskTime time.Duration
}

func newFrameScheduler(page *PageScheduler, delegate FrameDelegate, frameType FrameType) *FrameScheduler {
	if delegate == nil {
		delegate = NopFrameDelegate{}
	}
	f := &FrameScheduler{
		id:        FrameID(uuid.NewString()),
		page:      page,
		sched:     page.sched,
		delegate:  delegate,
		frameType: frameType,
		visible:   true,
		queues:    make(map[QueueTraits]*TaskQueue),
	}
	f.features = newFeatureTracker(f)
	return f
}

func (f *FrameScheduler) ID() FrameID               { return f.id }
func (f *FrameScheduler) Page() *PageScheduler      { return f.page }
func (f *FrameScheduler) FrameType() FrameType      { return f.frameType }
func (f *FrameScheduler) IsFrameVisible() bool      { return f.visible }
func (f *FrameScheduler) IsAdFrame() bool           { return f.adFrame }
func (f *FrameScheduler) IsPaused() bool            { return f.paused }
func (f *FrameScheduler) IsDetached() bool          { return f.detached }
func (f *FrameScheduler) Queues() []*TaskQueue      { return append([]*TaskQueue(nil), f.allQueues...) }
func (f *FrameScheduler) Features() *FeatureTracker { return f.features }

// IsCrossOriginToMainFrame reports whether the frame's origin differs from
// the main frame's. A main frame is never cross-origin.
func (f *FrameScheduler) IsCrossOriginToMainFrame() bool {
	return f.frameType == FrameTypeSubframe && f.crossOrigin
}

// =============================================================================
// Queue catalogue
// =============================================================================

func (f *FrameScheduler) addQueue(traits QueueTraits, name string) *TaskQueue {
	q := newTaskQueue(f, traits, name)
	if f.detached {
		q.detached = true
		return q
	}
	f.allQueues = append(f.allQueues, q)
	f.sched.registerQueue(q)
	return q
}

func (f *FrameScheduler) removeQueue(q *TaskQueue) {
	if q.detached {
		return
	}
	q.detach()
	for i, x := range f.allQueues {
		if x == q {
			f.allQueues = append(f.allQueues[:i], f.allQueues[i+1:]...)
			break
		}
	}
	for traits, x := range f.queues {
		if x == q {
			delete(f.queues, traits)
		}
	}
	f.sched.unregisterQueue(q)
}

func (f *FrameScheduler) queueForTraits(traits QueueTraits) *TaskQueue {
	if q, ok := f.queues[traits]; ok {
		return q
	}
	q := f.addQueue(traits, "")
	if !f.detached {
		f.queues[traits] = q
	}
	return q
}

// TaskQueueForType returns the frame's shared queue for tasks of type t.
func (f *FrameScheduler) TaskQueueForType(t TaskType) *TaskQueue {
	return f.queueForTraits(QueueTraitsForTaskType(t, f.sched.settings))
}

// GetTaskRunner is TaskQueueForType.
func (f *FrameScheduler) GetTaskRunner(t TaskType) *TaskQueue {
	return f.TaskQueueForType(t)
}

func (f *FrameScheduler) LoadingTaskQueue() *TaskQueue {
	return f.queueForTraits(LoadingTaskQueueTraits())
}

func (f *FrameScheduler) LoadingControlTaskQueue() *TaskQueue {
	return f.queueForTraits(LoadingControlTaskQueueTraits())
}

func (f *FrameScheduler) ThrottleableTaskQueue() *TaskQueue {
	return f.queueForTraits(ThrottleableTaskQueueTraits())
}

func (f *FrameScheduler) JavaScriptTimerTaskQueue() *TaskQueue {
	return f.TaskQueueForType(TaskTypeJavascriptTimer)
}

func (f *FrameScheduler) DeferrableTaskQueue() *TaskQueue {
	return f.queueForTraits(DeferrableTaskQueueTraits(f.sched.settings.StopNonTimersInBackground))
}

func (f *FrameScheduler) PausableTaskQueue() *TaskQueue {
	return f.queueForTraits(PausableTaskQueueTraits(f.sched.settings.StopNonTimersInBackground))
}

func (f *FrameScheduler) UnpausableTaskQueue() *TaskQueue {
	return f.queueForTraits(UnpausableTaskQueueTraits())
}

func (f *FrameScheduler) ForegroundOnlyTaskQueue() *TaskQueue {
	return f.queueForTraits(ForegroundOnlyTaskQueueTraits())
}

func (f *FrameScheduler) BestEffortTaskQueue() *TaskQueue {
	return f.TaskQueueForType(TaskTypeInternalContentCapture)
}

func (f *FrameScheduler) VeryHighPriorityTaskQueue() *TaskQueue {
	return f.TaskQueueForType(TaskTypeInternalContinueScriptLoading)
}

func (f *FrameScheduler) FindInPageTaskQueue() *TaskQueue {
	return f.TaskQueueForType(TaskTypeInternalFindInPage)
}

func (f *FrameScheduler) DatabaseTaskQueue() *TaskQueue {
	return f.TaskQueueForType(TaskTypeDatabaseAccess)
}

// =============================================================================
// Queue policy
// =============================================================================

// IsThrottled reports whether q is currently governed by the page's wake-up
// throttler.
func (f *FrameScheduler) IsThrottled(q *TaskQueue) bool {
	return q != nil && q.frame == f && q.IsThrottled()
}

func (f *FrameScheduler) isQueueThrottled(q *TaskQueue) bool {
	p := f.page
	if !q.traits.CanBeThrottled || f.detached || p.detached {
		return false
	}
	if p.allOptOuts > 0 || p.frozen {
		return false
	}
	if !p.visible {
		return true
	}
	return !f.visible && f.IsCrossOriginToMainFrame() &&
		f.sched.settings.ThrottleHiddenCrossOriginFrames
}

func (f *FrameScheduler) isQueueEnabled(q *TaskQueue) bool {
	p := f.page
	t := q.traits
	switch {
	case f.detached || p.detached:
		return false
	case f.preempted:
		return false
	case f.paused && t.CanBePaused:
		return false
	case p.frozen && t.CanBeFrozen && !(p.keepActive && !t.FreezeWhenKeepActive):
		return false
	case !p.visible && t.ForegroundOnly:
		return false
	}
	return true
}

// =============================================================================
// Host signals
// =============================================================================

func (f *FrameScheduler) SetFrameVisible(visible bool) {
	if f.detached || f.visible == visible {
		return
	}
	f.visible = visible
	f.sched.logger.Debug("frame visibility changed",
		F("frame", f.id), F("visible", visible))
}

// SetCrossOriginToMainFrame updates the origin relationship. Pending
// throttled wake-ups are re-evaluated against the new budget pool on the
// next dispatch. Ignored for main frames.
func (f *FrameScheduler) SetCrossOriginToMainFrame(crossOrigin bool) {
	if f.detached || f.frameType == FrameTypeMainFrame || f.crossOrigin == crossOrigin {
		return
	}
	f.crossOrigin = crossOrigin
	f.sched.logger.Debug("frame origin type changed",
		F("frame", f.id), F("cross_origin", crossOrigin))
}

func (f *FrameScheduler) SetIsAdFrame(adFrame bool) {
	if f.detached || f.adFrame == adFrame {
		return
	}
	f.adFrame = adFrame
	f.sched.logger.Debug("frame ad status changed", F("frame", f.id), F("ad_frame", adFrame))
}

// SetPaused holds every pausable queue of the frame.
func (f *FrameScheduler) SetPaused(paused bool) {
	if f.detached || f.paused == paused {
		return
	}
	f.paused = paused
	f.sched.logger.Debug("frame paused changed", F("frame", f.id), F("paused", paused))
}

// SetPreemptedForCooperativeScheduling holds every queue of the frame.
func (f *FrameScheduler) SetPreemptedForCooperativeScheduling(preempted bool) {
	if f.detached || f.preempted == preempted {
		return
	}
	f.preempted = preempted
	f.sched.logger.Debug("frame preemption changed", F("frame", f.id), F("preempted", preempted))
}

func (f *FrameScheduler) OnFirstContentfulPaint() {
	f.fcpSeen = true
}

func (f *FrameScheduler) OnFirstMeaningfulPaint() {
	f.fmpSeen = true
}

// OnTitleOrFaviconUpdated records a user-visible signal from a hidden page.
// It keeps intensive throttling off for same-origin frames for the signal
// reset window. Updates from cross-origin frames are ignored.
func (f *FrameScheduler) OnTitleOrFaviconUpdated() {
	if f.detached || f.IsCrossOriginToMainFrame() {
		return
	}
	f.page.onTitleOrFaviconUpdated()
}

// DidCommitProvisionalLoad handles a committed navigation. Cross-document
// navigations reset the frame's tracked features; cross-document
// navigations of the main frame also discard unreported task time and the
// paint milestones of the previous document.
func (f *FrameScheduler) DidCommitProvisionalLoad(isWebHistoryInert bool, navType NavigationType) {
	if f.detached {
		return
	}
	crossDocument := navType != NavigationTypeSameDocument
	if crossDocument && f.frameType == FrameTypeMainFrame {
		f.unreportedTaskTime = 0
		f.fcpSeen, f.fmpSeen = false, false
	}
	if crossDocument {
		f.features.reset()
	}
	f.sched.logger.Debug("navigation committed",
		F("frame", f.id), F("type", navType), F("history_inert", isWebHistoryInert))
}

// =============================================================================
// Features
// =============================================================================

// RegisterFeature registers a session feature. The returned handle keeps it
// active until released or until the frame navigates.
func (f *FrameScheduler) RegisterFeature(feature SchedulingPolicyFeature, policy SchedulingPolicy) *FeatureHandle {
	return f.features.register(feature, policy)
}

// RegisterStickyFeature registers a feature that stays active until the
// next cross-document navigation.
func (f *FrameScheduler) RegisterStickyFeature(feature SchedulingPolicyFeature, policy SchedulingPolicy) {
	f.features.registerSticky(feature, policy)
}

func (f *FrameScheduler) ActiveFeatures() []SchedulingPolicyFeature {
	return f.features.ActiveFeatures()
}

func (f *FrameScheduler) FeatureMask() uint64 {
	return f.features.Mask()
}

// =============================================================================
// Task time
// =============================================================================

func (f *FrameScheduler) addTaskTime(d time.Duration) {
	if f.detached || d <= 0 {
		return
	}
	f.unreportedTaskTime += d
	if f.unreportedTaskTime >= f.sched.settings.TaskTimeReportThreshold {
		total := f.unreportedTaskTime
		f.unreportedTaskTime = 0
		f.delegate.UpdateTaskTime(total)
	}
}

// UnreportedTaskTime is the task time accumulated since the last report.
func (f *FrameScheduler) UnreportedTaskTime() time.Duration {
	return f.unreportedTaskTime
}

// Detach removes the frame from its page. Pending tasks are dropped, posts
// are refused, observers are silenced and feature uploads stop.
func (f *FrameScheduler) Detach() {
	if f.detached {
		return
	}
	for _, q := range append([]*TaskQueue(nil), f.allQueues...) {
		f.removeQueue(q)
	}
	f.features.reset()
	f.detached = true
	f.observers.handles = nil
	f.page.removeFrame(f)
	f.sched.logger.Debug("frame detached", F("frame", f.id))
}
