package core

// PriorityInputs is everything the priority engine looks at. Building it from
// live state and calling ComputePriority is the only way a queue's priority
// is obtained; nothing stores a computed priority.
type PriorityInputs struct {
	Traits QueueTraits

	// Set for web-scheduling queues.
	IsWebScheduling       bool
	WebSchedulingPriority WebSchedulingPriority

	// Set for dedicated resource loading queues after a network priority
	// change.
	HasResourcePriority bool
	ResourcePriority    TaskPriority

	Detached bool

	FrameType         FrameType
	FrameVisible      bool
	CrossOriginToMain bool
	AdFrame           bool
	PageVisible       bool
	PageAudioPlaying  bool
	PageLoading       bool
}

// ComputePriority maps inputs and the experiment settings to a priority.
// The first matching rule wins:
//
//  1. resource loading override
//  2. priority pinned by the prioritisation type
//  3. web-scheduling priority
//  4. detached frames get TaskPriorityNormal
//  5. experiments: ad frame, cross-origin, sub-frame, hidden frame,
//     background page, per-task-type
//  6. loading control is high, everything else normal
func ComputePriority(in PriorityInputs, s *SchedulingSettings) TaskPriority {
	if in.HasResourcePriority {
		return in.ResourcePriority
	}

	if p, ok := in.Traits.FixedPriority(); ok {
		return p
	}
	if in.Traits.Prioritisation == PrioritisationExperimentalDatabase {
		if in.PageVisible {
			return TaskPriorityHigh
		}
		return TaskPriorityNormal
	}

	if in.IsWebScheduling {
		return in.WebSchedulingPriority.taskPriority()
	}

	if in.Detached {
		return TaskPriorityNormal
	}

	if p, ok := experimentPriority(in, s); ok {
		return p
	}

	if in.Traits.Prioritisation == PrioritisationLoadingControl {
		return TaskPriorityHigh
	}
	return TaskPriorityNormal
}

func experimentPriority(in PriorityInputs, s *SchedulingSettings) (TaskPriority, bool) {
	if in.AdFrame && (!s.AdFrameExperimentOnlyWhenLoading || in.PageLoading) {
		if s.BestEffortPriorityForAdFrame {
			return TaskPriorityBestEffort, true
		}
		if s.LowPriorityForAdFrame {
			return TaskPriorityLow, true
		}
	}

	if in.CrossOriginToMain && s.LowPriorityForCrossOriginFrames &&
		(!s.CrossOriginExperimentOnlyWhenLoading || in.PageLoading) {
		return TaskPriorityLow, true
	}

	frameExperiments := !s.FrameExperimentOnlyWhenLoading || in.PageLoading

	if frameExperiments && s.LowPriorityForSubFrame && in.FrameType == FrameTypeSubframe {
		return TaskPriorityLow, true
	}

	if frameExperiments && s.LowPriorityForHiddenFrame && !in.FrameVisible {
		return TaskPriorityLow, true
	}

	if !in.PageVisible && !in.PageAudioPlaying {
		if s.BestEffortPriorityForBackgroundPages {
			return TaskPriorityBestEffort, true
		}
		if s.LowPriorityForBackgroundPages {
			return TaskPriorityLow, true
		}
	}

	if frameExperiments && in.Traits.CanBeThrottled {
		if s.LowPriorityForThrottleableTasks {
			return TaskPriorityLow, true
		}
		if s.LowPriorityForSubFrameThrottleableTasks && in.FrameType == FrameTypeSubframe {
			return TaskPriorityLow, true
		}
	}

	return 0, false
}

// priorityInputs snapshots the live state that decides q's priority.
func (q *TaskQueue) priorityInputs() PriorityInputs {
	f := q.frame
	in := PriorityInputs{
		Traits:              q.traits,
		HasResourcePriority: q.hasResourcePriority,
		ResourcePriority:    q.resourcePriority,
		Detached:            q.detached || f.detached || f.page.detached,
		FrameType:           f.frameType,
		FrameVisible:        f.visible,
		CrossOriginToMain:   f.crossOrigin,
		AdFrame:             f.adFrame,
		PageVisible:         f.page.visible,
		PageAudioPlaying:    f.page.audioPlaying,
		PageLoading:         f.page.IsLoading(),
	}
	if q.web != nil {
		in.IsWebScheduling = true
		in.WebSchedulingPriority = q.web.priority
	}
	return in
}
