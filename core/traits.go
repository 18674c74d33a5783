package core

// PrioritisationType selects how the priority engine treats a queue.
type PrioritisationType int

const (
	PrioritisationRegular PrioritisationType = iota
	PrioritisationVeryHigh
	PrioritisationBestEffort
	PrioritisationLoading
	PrioritisationLoadingControl
	PrioritisationFindInPage
	PrioritisationExperimentalDatabase
	PrioritisationJavaScriptTimer
	PrioritisationWebScheduling
)

func (p PrioritisationType) String() string {
	switch p {
	case PrioritisationRegular:
		return "regular"
	case PrioritisationVeryHigh:
		return "very-high"
	case PrioritisationBestEffort:
		return "best-effort"
	case PrioritisationLoading:
		return "loading"
	case PrioritisationLoadingControl:
		return "loading-control"
	case PrioritisationFindInPage:
		return "find-in-page"
	case PrioritisationExperimentalDatabase:
		return "database"
	case PrioritisationJavaScriptTimer:
		return "javascript-timer"
	case PrioritisationWebScheduling:
		return "web-scheduling"
	default:
		return "unknown"
	}
}

// QueueTraits is the immutable classification of a TaskQueue. Queues of a
// frame are shared per distinct QueueTraits value, so the struct must stay
// comparable.
type QueueTraits struct {
	Prioritisation PrioritisationType

	CanBeDeferred  bool
	CanBeThrottled bool
	CanBePaused    bool
	CanBeFrozen    bool

	// ForegroundOnly queues are held while the page is hidden.
	ForegroundOnly bool

	// FreezeWhenKeepActive keeps the queue frozen even when the page is kept
	// active. Only timer-like queues set it.
	FreezeWhenKeepActive bool
}

// Name is the label used for logs and metrics.
func (t QueueTraits) Name() string {
	if t.Prioritisation != PrioritisationRegular {
		return t.Prioritisation.String()
	}
	switch {
	case t.ForegroundOnly:
		return "foreground-only"
	case t.CanBeThrottled:
		return "throttleable"
	case t.CanBeDeferred:
		return "deferrable"
	case t.CanBePaused:
		return "pausable"
	case t.CanBeFrozen:
		return "freezable"
	default:
		return "unpausable"
	}
}

// WithPrioritisation returns a copy of t using p.
func (t QueueTraits) WithPrioritisation(p PrioritisationType) QueueTraits {
	t.Prioritisation = p
	return t
}

// FixedPriority reports the priority of queues whose traits pin it
// regardless of page and frame state.
func (t QueueTraits) FixedPriority() (TaskPriority, bool) {
	switch t.Prioritisation {
	case PrioritisationVeryHigh, PrioritisationFindInPage:
		return TaskPriorityVeryHigh, true
	case PrioritisationBestEffort:
		return TaskPriorityBestEffort, true
	default:
		return 0, false
	}
}

func LoadingTaskQueueTraits() QueueTraits {
	return QueueTraits{
		Prioritisation: PrioritisationLoading,
		CanBeDeferred:  true,
		CanBePaused:    true,
		CanBeFrozen:    true,
	}
}

func LoadingControlTaskQueueTraits() QueueTraits {
	return QueueTraits{
		Prioritisation: PrioritisationLoadingControl,
		CanBeDeferred:  true,
		CanBePaused:    true,
		CanBeFrozen:    true,
	}
}

func ThrottleableTaskQueueTraits() QueueTraits {
	return QueueTraits{
		CanBeDeferred:        true,
		CanBeThrottled:       true,
		CanBePaused:          true,
		CanBeFrozen:          true,
		FreezeWhenKeepActive: true,
	}
}

// DeferrableTaskQueueTraits freeze with the page only when
// stopNonTimersInBackground is set.
func DeferrableTaskQueueTraits(stopNonTimersInBackground bool) QueueTraits {
	return QueueTraits{
		CanBeDeferred: true,
		CanBePaused:   true,
		CanBeFrozen:   stopNonTimersInBackground,
	}
}

func PausableTaskQueueTraits(stopNonTimersInBackground bool) QueueTraits {
	return QueueTraits{
		CanBePaused: true,
		CanBeFrozen: stopNonTimersInBackground,
	}
}

func FreezableTaskQueueTraits() QueueTraits {
	return QueueTraits{CanBeFrozen: true}
}

func UnpausableTaskQueueTraits() QueueTraits {
	return QueueTraits{}
}

func ForegroundOnlyTaskQueueTraits() QueueTraits {
	return QueueTraits{
		CanBeThrottled: true,
		CanBePaused:    true,
		CanBeFrozen:    true,
		ForegroundOnly: true,
	}
}

// =============================================================================
// TaskType: Host-visible kinds of work
// =============================================================================

type TaskType int

const (
	TaskTypeDOMManipulation TaskType = iota
	TaskTypeUserInteraction
	TaskTypeNetworking
	TaskTypeNetworkingControl
	TaskTypeHistoryTraversal
	TaskTypeEmbed
	TaskTypeMediaElementEvent
	TaskTypeCanvasBlobSerialization
	TaskTypeMicrotask
	TaskTypeJavascriptTimer
	TaskTypeRemoteEvent
	TaskTypeWebSocket
	TaskTypePostedMessage
	TaskTypeUnshippedPortMessage
	TaskTypeFileReading
	TaskTypeDatabaseAccess
	TaskTypePresentation
	TaskTypeSensor
	TaskTypePerformanceTimeline
	TaskTypeWebGL
	TaskTypeIdleTask
	TaskTypeMiscPlatformAPI
	TaskTypeFontLoading
	TaskTypeApplicationLifeCycle
	TaskTypeBackgroundFetch
	TaskTypePermission
	TaskTypeServiceWorkerClientMessage
	TaskTypeWebLocks
	TaskTypeWorkerAnimation
	TaskTypeInternalDefault
	TaskTypeInternalLoading
	TaskTypeInternalTest
	TaskTypeInternalWebCrypto
	TaskTypeInternalMedia
	TaskTypeInternalMediaRealTime
	TaskTypeInternalUserInteraction
	TaskTypeInternalIntersectionObserver
	TaskTypeInternalFindInPage
	TaskTypeInternalContinueScriptLoading
	TaskTypeInternalTranslation
	TaskTypeInternalInspector
	TaskTypeInternalNavigationAssociated
	TaskTypeInternalNavigationAssociatedUnfreezable
	TaskTypeInternalContentCapture
	TaskTypeInternalFrameLifecycleControl

	taskTypeCount
)

var taskTypeNames = [taskTypeCount]string{
	"DOMManipulation",
	"UserInteraction",
	"Networking",
	"NetworkingControl",
	"HistoryTraversal",
	"Embed",
	"MediaElementEvent",
	"CanvasBlobSerialization",
	"Microtask",
	"JavascriptTimer",
	"RemoteEvent",
	"WebSocket",
	"PostedMessage",
	"UnshippedPortMessage",
	"FileReading",
	"DatabaseAccess",
	"Presentation",
	"Sensor",
	"PerformanceTimeline",
	"WebGL",
	"IdleTask",
	"MiscPlatformAPI",
	"FontLoading",
	"ApplicationLifeCycle",
	"BackgroundFetch",
	"Permission",
	"ServiceWorkerClientMessage",
	"WebLocks",
	"WorkerAnimation",
	"InternalDefault",
	"InternalLoading",
	"InternalTest",
	"InternalWebCrypto",
	"InternalMedia",
	"InternalMediaRealTime",
	"InternalUserInteraction",
	"InternalIntersectionObserver",
	"InternalFindInPage",
	"InternalContinueScriptLoading",
	"InternalTranslation",
	"InternalInspector",
	"InternalNavigationAssociated",
	"InternalNavigationAssociatedUnfreezable",
	"InternalContentCapture",
	"InternalFrameLifecycleControl",
}

func (t TaskType) String() string {
	if t < 0 || t >= taskTypeCount {
		return "Unknown"
	}
	return taskTypeNames[t]
}

// AllTaskTypes lists every TaskType in declaration order.
func AllTaskTypes() []TaskType {
	out := make([]TaskType, 0, taskTypeCount)
	for t := TaskType(0); t < taskTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

// QueueTraitsForTaskType maps a task type to the traits of the frame queue
// that runs it.
func QueueTraitsForTaskType(t TaskType, settings SchedulingSettings) QueueTraits {
	stopNonTimers := settings.StopNonTimersInBackground

	switch t {
	case TaskTypeInternalContentCapture:
		return ThrottleableTaskQueueTraits().WithPrioritisation(PrioritisationBestEffort)
	case TaskTypeJavascriptTimer:
		return ThrottleableTaskQueueTraits().WithPrioritisation(PrioritisationJavaScriptTimer)
	case TaskTypeInternalLoading, TaskTypeNetworking:
		return LoadingTaskQueueTraits()
	case TaskTypeNetworkingControl:
		return LoadingControlTaskQueueTraits()
	// Unthrottled for now; throttling these breaks existing pages.
	case TaskTypeDOMManipulation,
		TaskTypeHistoryTraversal,
		TaskTypeEmbed,
		TaskTypeCanvasBlobSerialization,
		TaskTypeRemoteEvent,
		TaskTypeWebSocket,
		TaskTypeMicrotask,
		TaskTypeUnshippedPortMessage,
		TaskTypeFileReading,
		TaskTypePresentation,
		TaskTypeSensor,
		TaskTypePerformanceTimeline,
		TaskTypeWebGL,
		TaskTypeIdleTask,
		TaskTypeInternalDefault,
		TaskTypeMiscPlatformAPI,
		TaskTypeFontLoading,
		TaskTypeApplicationLifeCycle,
		TaskTypeBackgroundFetch,
		TaskTypePermission:
		return DeferrableTaskQueueTraits(stopNonTimers)
	case TaskTypePostedMessage,
		TaskTypeServiceWorkerClientMessage,
		TaskTypeWorkerAnimation,
		TaskTypeUserInteraction,
		TaskTypeMediaElementEvent,
		TaskTypeInternalWebCrypto,
		TaskTypeInternalMedia,
		TaskTypeInternalMediaRealTime,
		TaskTypeInternalUserInteraction,
		TaskTypeInternalIntersectionObserver:
		return PausableTaskQueueTraits(stopNonTimers)
	case TaskTypeInternalFindInPage:
		return PausableTaskQueueTraits(stopNonTimers).WithPrioritisation(PrioritisationFindInPage)
	case TaskTypeInternalContinueScriptLoading:
		return PausableTaskQueueTraits(stopNonTimers).WithPrioritisation(PrioritisationVeryHigh)
	case TaskTypeDatabaseAccess:
		if settings.HighPriorityDatabaseTaskType {
			return PausableTaskQueueTraits(stopNonTimers).WithPrioritisation(PrioritisationExperimentalDatabase)
		}
		return PausableTaskQueueTraits(stopNonTimers)
	case TaskTypeInternalNavigationAssociated:
		return FreezableTaskQueueTraits()
	// WebLocks may be frozen for a whole page but never for a single frame.
	case TaskTypeInternalTest,
		TaskTypeWebLocks,
		TaskTypeInternalFrameLifecycleControl,
		TaskTypeInternalInspector,
		TaskTypeInternalNavigationAssociatedUnfreezable:
		return UnpausableTaskQueueTraits()
	case TaskTypeInternalTranslation:
		return ForegroundOnlyTaskQueueTraits()
	default:
		return DeferrableTaskQueueTraits(stopNonTimers)
	}
}

// IsThrottledTaskType reports whether tasks of type t land on a queue that
// the wake-up throttler governs.
func IsThrottledTaskType(t TaskType) bool {
	return QueueTraitsForTaskType(t, DefaultSchedulingSettings()).CanBeThrottled
}
