package core

import (
	"fmt"
	"strings"
	"time"
)

// Default throttling constants.
const (
	DefaultThrottledWakeUpInterval     = time.Second
	DefaultThrottlingDelayAfterHidden  = 10 * time.Second
	DefaultIntensiveGracePeriod        = 5 * time.Minute
	DefaultIntensiveWakeUpInterval     = time.Minute
	DefaultIntensiveSignalResetWindow  = 3 * time.Second
	DefaultTaskTimeReportThreshold     = 100 * time.Millisecond
	defaultExecutionHistoryCapacity    = 100
	defaultCrossThreadInboxCapacity    = 256
	defaultFastForwardUntilIdleHorizon = 24 * time.Hour
)

// NetPriority is the priority of an in-flight network request, used to remap
// the priority of a dedicated resource loading queue.
type NetPriority int

const (
	NetPriorityThrottled NetPriority = iota
	NetPriorityIdle
	NetPriorityLowest
	NetPriorityLow
	NetPriorityMedium
	NetPriorityHighest
)

func (p NetPriority) String() string {
	switch p {
	case NetPriorityThrottled:
		return "THROTTLED"
	case NetPriorityIdle:
		return "IDLE"
	case NetPriorityLowest:
		return "LOWEST"
	case NetPriorityLow:
		return "LOW"
	case NetPriorityMedium:
		return "MEDIUM"
	case NetPriorityHighest:
		return "HIGHEST"
	default:
		return "UNKNOWN"
	}
}

// DefaultNetToTaskPriority is the remap table used when settings leave an
// entry unset.
func DefaultNetToTaskPriority() map[NetPriority]TaskPriority {
	return map[NetPriority]TaskPriority{
		NetPriorityHighest:   TaskPriorityHigh,
		NetPriorityMedium:    TaskPriorityNormal,
		NetPriorityLow:       TaskPriorityNormal,
		NetPriorityLowest:    TaskPriorityLow,
		NetPriorityIdle:      TaskPriorityLow,
		NetPriorityThrottled: TaskPriorityLow,
	}
}

// IntensiveThrottlingPolicy overrides the intensive wake-up throttling
// experiment.
type IntensiveThrottlingPolicy int

const (
	IntensiveThrottlingPolicyDefault IntensiveThrottlingPolicy = iota
	IntensiveThrottlingPolicyForceEnable
	IntensiveThrottlingPolicyForceDisable
)

func (p IntensiveThrottlingPolicy) String() string {
	switch p {
	case IntensiveThrottlingPolicyForceEnable:
		return "force-enable"
	case IntensiveThrottlingPolicyForceDisable:
		return "force-disable"
	default:
		return "default"
	}
}

// ParseIntensiveThrottlingPolicy accepts "", "default", "force-enable" and
// "force-disable" (case-insensitive, '_' accepted for '-').
func ParseIntensiveThrottlingPolicy(s string) (IntensiveThrottlingPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "", "default":
		return IntensiveThrottlingPolicyDefault, nil
	case "force-enable", "enable", "1":
		return IntensiveThrottlingPolicyForceEnable, nil
	case "force-disable", "disable", "0":
		return IntensiveThrottlingPolicyForceDisable, nil
	default:
		return IntensiveThrottlingPolicyDefault, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// SchedulingSettings is the experiment and flag set the scheduler consumes.
// The host owns flag storage; this is only the snapshot handed in.
type SchedulingSettings struct {
	// Wake-up throttling
	ThrottledWakeUpInterval         time.Duration
	ThrottlingDelayAfterHidden      time.Duration
	IntensiveWakeUpThrottling       bool
	IntensiveGracePeriod            time.Duration
	IntensiveWakeUpInterval         time.Duration
	IntensiveSignalResetWindow      time.Duration
	ThrottleHiddenCrossOriginFrames bool

	// Freezing
	StopNonTimersInBackground bool

	HighPriorityDatabaseTaskType bool
	TaskTimeReportThreshold      time.Duration

	// Priority experiments
	LowPriorityForBackgroundPages           bool
	BestEffortPriorityForBackgroundPages    bool
	LowPriorityForHiddenFrame               bool
	LowPriorityForSubFrame                  bool
	LowPriorityForThrottleableTasks         bool
	LowPriorityForSubFrameThrottleableTasks bool
	FrameExperimentOnlyWhenLoading          bool
	LowPriorityForAdFrame                   bool
	BestEffortPriorityForAdFrame            bool
	AdFrameExperimentOnlyWhenLoading        bool
	LowPriorityForCrossOriginFrames         bool
	CrossOriginExperimentOnlyWhenLoading    bool

	// Resource loading priority override
	UseResourceFetchPriority                bool
	UseResourceFetchPriorityOnlyWhenLoading bool
	NetToTaskPriority                       map[NetPriority]TaskPriority
}

// DefaultSchedulingSettings returns the shipped defaults: baseline and
// intensive throttling on, every priority experiment off.
func DefaultSchedulingSettings() SchedulingSettings {
	return SchedulingSettings{
		ThrottledWakeUpInterval:         DefaultThrottledWakeUpInterval,
		ThrottlingDelayAfterHidden:      DefaultThrottlingDelayAfterHidden,
		IntensiveWakeUpThrottling:       true,
		IntensiveGracePeriod:            DefaultIntensiveGracePeriod,
		IntensiveWakeUpInterval:         DefaultIntensiveWakeUpInterval,
		IntensiveSignalResetWindow:      DefaultIntensiveSignalResetWindow,
		ThrottleHiddenCrossOriginFrames: true,
		StopNonTimersInBackground:       true,
		TaskTimeReportThreshold:         DefaultTaskTimeReportThreshold,
		NetToTaskPriority:               DefaultNetToTaskPriority(),
	}
}

// normalized replaces non-positive durations and missing remap entries with
// defaults.
func (s SchedulingSettings) normalized() SchedulingSettings {
	if s.ThrottledWakeUpInterval <= 0 {
		s.ThrottledWakeUpInterval = DefaultThrottledWakeUpInterval
	}
	if s.ThrottlingDelayAfterHidden < 0 {
		s.ThrottlingDelayAfterHidden = DefaultThrottlingDelayAfterHidden
	}
	if s.IntensiveGracePeriod <= 0 {
		s.IntensiveGracePeriod = DefaultIntensiveGracePeriod
	}
	if s.IntensiveWakeUpInterval <= 0 {
		s.IntensiveWakeUpInterval = DefaultIntensiveWakeUpInterval
	}
	if s.IntensiveSignalResetWindow < 0 {
		s.IntensiveSignalResetWindow = DefaultIntensiveSignalResetWindow
	}
	if s.TaskTimeReportThreshold <= 0 {
		s.TaskTimeReportThreshold = DefaultTaskTimeReportThreshold
	}

	table := DefaultNetToTaskPriority()
	for k, v := range s.NetToTaskPriority {
		if v < TaskPriorityBestEffort || v > TaskPriorityVeryHigh {
			continue
		}
		table[k] = v
	}
	s.NetToTaskPriority = table
	return s
}
