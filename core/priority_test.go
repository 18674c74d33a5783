package core

import (
	"strings"
	"testing"
)

func TestComputePriority(t *testing.T) {
	throttleable := ThrottleableTaskQueueTraits()
	pausable := PausableTaskQueueTraits(true)
	visible := PriorityInputs{Traits: pausable, FrameVisible: true, PageVisible: true}

	with := func(base PriorityInputs, change func(*PriorityInputs)) PriorityInputs {
		change(&base)
		return base
	}

	tests := []struct {
		name     string
		settings func(*SchedulingSettings)
		in       PriorityInputs
		want     TaskPriority
	}{
		{
			name: "default",
			in:   visible,
			want: TaskPriorityNormal,
		},
		{
			name: "loading control",
			in:   with(visible, func(in *PriorityInputs) { in.Traits = LoadingControlTaskQueueTraits() }),
			want: TaskPriorityHigh,
		},
		{
			name: "resource priority wins",
			settings: func(s *SchedulingSettings) {
				s.BestEffortPriorityForBackgroundPages = true
			},
			in: with(visible, func(in *PriorityInputs) {
				in.PageVisible = false
				in.HasResourcePriority = true
				in.ResourcePriority = TaskPriorityHigh
			}),
			want: TaskPriorityHigh,
		},
		{
			name:     "very high is pinned",
			settings: func(s *SchedulingSettings) { s.BestEffortPriorityForAdFrame = true },
			in: with(visible, func(in *PriorityInputs) {
				in.Traits = pausable.WithPrioritisation(PrioritisationVeryHigh)
				in.AdFrame = true
			}),
			want: TaskPriorityVeryHigh,
		},
		{
			name: "best effort is pinned",
			in:   with(visible, func(in *PriorityInputs) { in.Traits = pausable.WithPrioritisation(PrioritisationBestEffort) }),
			want: TaskPriorityBestEffort,
		},
		{
			name: "database visible",
			in:   with(visible, func(in *PriorityInputs) { in.Traits = pausable.WithPrioritisation(PrioritisationExperimentalDatabase) }),
			want: TaskPriorityHigh,
		},
		{
			name: "database hidden",
			in: with(visible, func(in *PriorityInputs) {
				in.Traits = pausable.WithPrioritisation(PrioritisationExperimentalDatabase)
				in.PageVisible = false
			}),
			want: TaskPriorityNormal,
		},
		{
			name:     "web scheduling ignores experiments",
			settings: func(s *SchedulingSettings) { s.LowPriorityForSubFrame = true },
			in: with(visible, func(in *PriorityInputs) {
				in.IsWebScheduling = true
				in.WebSchedulingPriority = WebSchedulingPriorityUserBlocking
				in.FrameType = FrameTypeSubframe
			}),
			want: TaskPriorityHigh,
		},
		{
			name:     "detached frame",
			settings: func(s *SchedulingSettings) { s.LowPriorityForBackgroundPages = true },
			in: with(visible, func(in *PriorityInputs) {
				in.Detached = true
				in.PageVisible = false
			}),
			want: TaskPriorityNormal,
		},
		{
			name:     "ad frame best effort",
			settings: func(s *SchedulingSettings) { s.BestEffortPriorityForAdFrame = true },
			in:       with(visible, func(in *PriorityInputs) { in.AdFrame = true }),
			want:     TaskPriorityBestEffort,
		},
		{
			name:     "ad frame low",
			settings: func(s *SchedulingSettings) { s.LowPriorityForAdFrame = true },
			in:       with(visible, func(in *PriorityInputs) { in.AdFrame = true }),
			want:     TaskPriorityLow,
		},
		{
			name: "ad frame only when loading, not loading",
			settings: func(s *SchedulingSettings) {
				s.LowPriorityForAdFrame = true
				s.AdFrameExperimentOnlyWhenLoading = true
			},
			in:   with(visible, func(in *PriorityInputs) { in.AdFrame = true }),
			want: TaskPriorityNormal,
		},
		{
			name: "ad frame only when loading, loading",
			settings: func(s *SchedulingSettings) {
				s.LowPriorityForAdFrame = true
				s.AdFrameExperimentOnlyWhenLoading = true
			},
			in: with(visible, func(in *PriorityInputs) {
				in.AdFrame = true
				in.PageLoading = true
			}),
			want: TaskPriorityLow,
		},
		{
			name:     "cross-origin frame",
			settings: func(s *SchedulingSettings) { s.LowPriorityForCrossOriginFrames = true },
			in: with(visible, func(in *PriorityInputs) {
				in.FrameType = FrameTypeSubframe
				in.CrossOriginToMain = true
			}),
			want: TaskPriorityLow,
		},
		{
			name: "cross-origin only when loading, not loading",
			settings: func(s *SchedulingSettings) {
				s.LowPriorityForCrossOriginFrames = true
				s.CrossOriginExperimentOnlyWhenLoading = true
			},
			in: with(visible, func(in *PriorityInputs) {
				in.FrameType = FrameTypeSubframe
				in.CrossOriginToMain = true
			}),
			want: TaskPriorityNormal,
		},
		{
			name:     "sub-frame",
			settings: func(s *SchedulingSettings) { s.LowPriorityForSubFrame = true },
			in:       with(visible, func(in *PriorityInputs) { in.FrameType = FrameTypeSubframe }),
			want:     TaskPriorityLow,
		},
		{
			name:     "sub-frame experiment leaves main frame",
			settings: func(s *SchedulingSettings) { s.LowPriorityForSubFrame = true },
			in:       visible,
			want:     TaskPriorityNormal,
		},
		{
			name: "sub-frame only when loading, not loading",
			settings: func(s *SchedulingSettings) {
				s.LowPriorityForSubFrame = true
				s.FrameExperimentOnlyWhenLoading = true
			},
			in:   with(visible, func(in *PriorityInputs) { in.FrameType = FrameTypeSubframe }),
			want: TaskPriorityNormal,
		},
		{
			name:     "hidden frame",
			settings: func(s *SchedulingSettings) { s.LowPriorityForHiddenFrame = true },
			in:       with(visible, func(in *PriorityInputs) { in.FrameVisible = false }),
			want:     TaskPriorityLow,
		},
		{
			name:     "background page best effort",
			settings: func(s *SchedulingSettings) { s.BestEffortPriorityForBackgroundPages = true },
			in:       with(visible, func(in *PriorityInputs) { in.PageVisible = false }),
			want:     TaskPriorityBestEffort,
		},
		{
			name:     "background page low",
			settings: func(s *SchedulingSettings) { s.LowPriorityForBackgroundPages = true },
			in:       with(visible, func(in *PriorityInputs) { in.PageVisible = false }),
			want:     TaskPriorityLow,
		},
		{
			name:     "background page playing audio",
			settings: func(s *SchedulingSettings) { s.LowPriorityForBackgroundPages = true },
			in: with(visible, func(in *PriorityInputs) {
				in.PageVisible = false
				in.PageAudioPlaying = true
			}),
			want: TaskPriorityNormal,
		},
		{
			name:     "throttleable tasks",
			settings: func(s *SchedulingSettings) { s.LowPriorityForThrottleableTasks = true },
			in:       with(visible, func(in *PriorityInputs) { in.Traits = throttleable }),
			want:     TaskPriorityLow,
		},
		{
			name:     "throttleable experiment leaves pausable",
			settings: func(s *SchedulingSettings) { s.LowPriorityForThrottleableTasks = true },
			in:       visible,
			want:     TaskPriorityNormal,
		},
		{
			name:     "sub-frame throttleable tasks in main frame",
			settings: func(s *SchedulingSettings) { s.LowPriorityForSubFrameThrottleableTasks = true },
			in:       with(visible, func(in *PriorityInputs) { in.Traits = throttleable }),
			want:     TaskPriorityNormal,
		},
		{
			name:     "sub-frame throttleable tasks in sub-frame",
			settings: func(s *SchedulingSettings) { s.LowPriorityForSubFrameThrottleableTasks = true },
			in: with(visible, func(in *PriorityInputs) {
				in.Traits = throttleable
				in.FrameType = FrameTypeSubframe
			}),
			want: TaskPriorityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSchedulingSettings()
			if tt.settings != nil {
				tt.settings(&s)
			}
			if got := ComputePriority(tt.in, &s); got != tt.want {
				t.Fatalf("ComputePriority() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPriority_FrameExperimentOnlyWhenLoading follows the page loading window
// Given: The sub-frame experiment gated on loading
// When: The main frame reaches first contentful and first meaningful paint
// Then: The sub-frame is low priority only between the two
func TestPriority_FrameExperimentOnlyWhenLoading(t *testing.T) {
	s, _ := newTestScheduler(t, func(cfg *SchedulerConfig) {
		cfg.Settings.LowPriorityForSubFrame = true
		cfg.Settings.FrameExperimentOnlyWhenLoading = true
	})
	page, sub, _ := newTestFrame(t, s, FrameTypeSubframe)
	q := sub.DeferrableTaskQueue()

	if got := q.Priority(); got != TaskPriorityNormal {
		t.Fatalf("before paint = %v, want %v", got, TaskPriorityNormal)
	}
	page.MainFrame().OnFirstContentfulPaint()
	if !page.IsLoading() {
		t.Fatal("IsLoading() = false after first contentful paint")
	}
	if got := q.Priority(); got != TaskPriorityLow {
		t.Fatalf("while loading = %v, want %v", got, TaskPriorityLow)
	}
	page.MainFrame().OnFirstMeaningfulPaint()
	if got := q.Priority(); got != TaskPriorityNormal {
		t.Fatalf("after meaningful paint = %v, want %v", got, TaskPriorityNormal)
	}
}

func TestPriority_FollowsLiveState(t *testing.T) {
	s, _ := newTestScheduler(t, func(cfg *SchedulerConfig) {
		cfg.Settings.LowPriorityForHiddenFrame = true
		cfg.Settings.LowPriorityForBackgroundPages = true
	})
	page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)
	q := frame.PausableTaskQueue()

	frame.SetFrameVisible(false)
	if got := q.Priority(); got != TaskPriorityLow {
		t.Fatalf("hidden frame = %v, want %v", got, TaskPriorityLow)
	}
	frame.SetFrameVisible(true)
	if got := q.Priority(); got != TaskPriorityNormal {
		t.Fatalf("visible frame = %v, want %v", got, TaskPriorityNormal)
	}

	page.SetPageVisible(false)
	if got := q.Priority(); got != TaskPriorityLow {
		t.Fatalf("background page = %v, want %v", got, TaskPriorityLow)
	}
	page.SetAudioPlaying(true)
	if got := q.Priority(); got != TaskPriorityNormal {
		t.Fatalf("background page with audio = %v, want %v", got, TaskPriorityNormal)
	}

	frame.Detach()
	if got := q.Priority(); got != TaskPriorityNormal {
		t.Fatalf("detached = %v, want %v", got, TaskPriorityNormal)
	}
}

// postPrioritisationTasks posts one task per word of descriptor to a
// pausable queue whose prioritisation is chosen by the first letter:
// R regular, V very high, B best effort, D database.
func postPrioritisationTasks(t *testing.T, frame *FrameScheduler, log *runLog, descriptor string) {
	t.Helper()
	kinds := map[byte]PrioritisationType{
		'R': PrioritisationRegular,
		'V': PrioritisationVeryHigh,
		'B': PrioritisationBestEffort,
		'D': PrioritisationExperimentalDatabase,
	}
	for _, name := range strings.Fields(descriptor) {
		kind, ok := kinds[name[0]]
		if !ok {
			t.Fatalf("unknown task kind %q", name)
		}
		traits := PausableTaskQueueTraits(true).WithPrioritisation(kind)
		frame.queueForTraits(traits).PostTask(log.task(name))
	}
}

func TestPriority_RunOrder(t *testing.T) {
	tests := []struct {
		name   string
		hidden bool
		want   []string
	}{
		{"visible", false, []string{"V1", "D1", "D2", "R1", "B1"}},
		{"hidden", true, []string{"V1", "D1", "R1", "D2", "B1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(t, func(cfg *SchedulerConfig) {
				cfg.Settings.HighPriorityDatabaseTaskType = true
			})
			page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)
			if tt.hidden {
				page.SetPageVisible(false)
			}

			var log runLog
			postPrioritisationTasks(t, frame, &log, "D1 R1 D2 V1 B1")
			s.RunUntilIdle()

			if got := log.get(); !equalStrings(got, tt.want) {
				t.Fatalf("run order = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPriority_DatabaseQueue(t *testing.T) {
	s, _ := newTestScheduler(t, func(cfg *SchedulerConfig) {
		cfg.Settings.HighPriorityDatabaseTaskType = true
	})
	_, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)

	q := frame.DatabaseTaskQueue()
	if q.Traits().Prioritisation != PrioritisationExperimentalDatabase {
		t.Fatalf("prioritisation = %v, want %v", q.Traits().Prioritisation, PrioritisationExperimentalDatabase)
	}
	if got := q.Priority(); got != TaskPriorityHigh {
		t.Fatalf("Priority() = %v, want %v", got, TaskPriorityHigh)
	}
}

func TestPriority_FixedQueues(t *testing.T) {
	s, _ := newTestScheduler(t, func(cfg *SchedulerConfig) {
		cfg.Settings.BestEffortPriorityForBackgroundPages = true
	})
	page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)
	page.SetPageVisible(false)

	tests := []struct {
		queue *TaskQueue
		want  TaskPriority
	}{
		{frame.VeryHighPriorityTaskQueue(), TaskPriorityVeryHigh},
		{frame.FindInPageTaskQueue(), TaskPriorityVeryHigh},
		{frame.BestEffortTaskQueue(), TaskPriorityBestEffort},
		{frame.LoadingTaskQueue(), TaskPriorityBestEffort},
	}
	for _, tt := range tests {
		if got := tt.queue.Priority(); got != tt.want {
			t.Errorf("%s priority = %v, want %v", tt.queue.Name(), got, tt.want)
		}
	}
}
