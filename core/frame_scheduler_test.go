package core

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// postToClassicQueues posts one counting task to each of the five classic queues.
func postToClassicQueues(frame *FrameScheduler, counter *int) {
	inc := func(context.Context) { *counter++ }
	frame.LoadingTaskQueue().PostTask(inc)
	frame.ThrottleableTaskQueue().PostTask(inc)
	frame.DeferrableTaskQueue().PostTask(inc)
	frame.PausableTaskQueue().PostTask(inc)
	frame.UnpausableTaskQueue().PostTask(inc)
}

func TestFrameScheduler_PauseAndResume(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	_, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)

	counter := 0
	postToClassicQueues(frame, &counter)
	frame.SetPaused(true)
	if !frame.IsPaused() {
		t.Fatal("IsPaused() = false")
	}

	s.RunUntilIdle()
	if counter != 1 {
		t.Fatalf("counter = %d while paused, want 1", counter)
	}
	frame.SetPaused(false)
	s.RunUntilIdle()
	if counter != 5 {
		t.Fatalf("counter = %d after resume, want 5", counter)
	}
}

func TestFrameScheduler_PreemptedForCooperativeScheduling(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	_, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)
	queues := []*TaskQueue{
		frame.LoadingTaskQueue(),
		frame.ThrottleableTaskQueue(),
		frame.DeferrableTaskQueue(),
		frame.PausableTaskQueue(),
		frame.UnpausableTaskQueue(),
	}

	check := func(want bool) {
		t.Helper()
		for _, q := range queues {
			if q.IsEnabled() != want {
				t.Fatalf("%s IsEnabled() = %v, want %v", q.Name(), !want, want)
			}
		}
	}
	check(true)
	frame.SetPreemptedForCooperativeScheduling(true)
	check(false)
	frame.SetPreemptedForCooperativeScheduling(false)
	check(true)
}

func TestFrameScheduler_FreezeForegroundOnlyTasks(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)

	counter := 0
	frame.ForegroundOnlyTaskQueue().PostTask(func(context.Context) { counter++ })
	page.SetPageVisible(false)
	s.RunUntilIdle()
	if counter != 0 {
		t.Fatalf("counter = %d while hidden, want 0", counter)
	}
	page.SetPageVisible(true)
	s.RunUntilIdle()
	if counter != 1 {
		t.Fatalf("counter = %d after show, want 1", counter)
	}
}

func TestFrameScheduler_PageFreeze(t *testing.T) {
	tests := []struct {
		name           string
		stopNonTimers  bool
		runWhileFrozen int
	}{
		{"stop non-timers", true, 1},
		{"timers and loading only", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(t, func(cfg *SchedulerConfig) {
				cfg.Settings.StopNonTimersInBackground = tt.stopNonTimers
			})
			page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)

			counter := 0
			postToClassicQueues(frame, &counter)
			page.SetPageVisible(false)
			page.SetPageFrozen(true)
			s.RunUntilIdle()
			if counter != tt.runWhileFrozen {
				t.Fatalf("counter = %d while frozen, want %d", counter, tt.runWhileFrozen)
			}

			page.SetPageFrozen(false)
			runUntilNoTasks(t, s)
			if counter != 5 {
				t.Fatalf("counter = %d after unfreeze, want 5", counter)
			}
		})
	}
}

func TestFrameScheduler_PageFreezeAndPageVisible(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)

	counter := 0
	postToClassicQueues(frame, &counter)
	page.SetPageVisible(false)
	page.SetPageFrozen(true)
	s.RunUntilIdle()
	if counter != 1 {
		t.Fatalf("counter = %d while frozen, want 1", counter)
	}

	page.SetPageVisible(true)
	if page.IsFrozen() {
		t.Fatal("page still frozen after show")
	}
	s.RunUntilIdle()
	if counter != 5 {
		t.Fatalf("counter = %d after show, want 5", counter)
	}
}

// TestFrameScheduler_PageFreezeWithKeepActive verifies keep-active freezing
// Given: A hidden frozen page kept active
// When: Tasks are posted to every classic queue
// Then: Everything but timers runs, and loading stops once keep-active ends
func TestFrameScheduler_PageFreezeWithKeepActive(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)

	var log runLog
	for _, q := range []*TaskQueue{
		frame.LoadingTaskQueue(),
		frame.ThrottleableTaskQueue(),
		frame.DeferrableTaskQueue(),
		frame.PausableTaskQueue(),
		frame.UnpausableTaskQueue(),
	} {
		q.PostTask(log.task(q.Name()))
	}

	page.SetKeepActive(true)
	page.SetPageVisible(false)
	page.SetPageFrozen(true)
	s.RunUntilIdle()

	ran := make(map[string]bool)
	for _, name := range log.get() {
		ran[name] = true
	}
	if len(ran) != 4 || ran[frame.ThrottleableTaskQueue().Name()] {
		t.Fatalf("ran %v, want everything but the throttleable queue", log.get())
	}

	log.reset()
	loading := frame.LoadingTaskQueue()
	loading.PostTask(log.task("loading"))
	s.RunUntilIdle()
	if got, want := log.get(), []string{"loading"}; !equalStrings(got, want) {
		t.Fatalf("with keep-active ran %v, want %v", got, want)
	}

	log.reset()
	loading.PostTask(log.task("loading"))
	page.SetKeepActive(false)
	s.RunUntilIdle()
	if len(log.get()) != 0 {
		t.Fatalf("without keep-active ran %v, want nothing", log.get())
	}

	page.SetKeepActive(true)
	s.RunUntilIdle()
	if got, want := log.get(), []string{"loading"}; !equalStrings(got, want) {
		t.Fatalf("keep-active again ran %v, want %v", got, want)
	}
}

// TestFrameScheduler_UnfreezeKeepsOrder verifies tasks held by a freeze run
// in post order once the page resumes.
func TestFrameScheduler_UnfreezeKeepsOrder(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)
	page.SetPageVisible(false)
	page.SetPageFrozen(true)

	var log runLog
	frame.DeferrableTaskQueue().PostTask(log.task("d1"))
	frame.PausableTaskQueue().PostTask(log.task("p1"))
	frame.DeferrableTaskQueue().PostTask(log.task("d2"))
	frame.PausableTaskQueue().PostTask(log.task("p2"))
	s.RunUntilIdle()

	page.SetPageFrozen(false)
	s.RunUntilIdle()
	if got, want := log.get(), []string{"d1", "p1", "d2", "p2"}; !equalStrings(got, want) {
		t.Fatalf("run order = %v, want %v", got, want)
	}
}

func TestFrameScheduler_PostsTaskTime(t *testing.T) {
	s, clock := newTestScheduler(t, nil)
	_, frame, delegate := newTestFrame(t, s, FrameTypeMainFrame)
	q := frame.UnpausableTaskQueue()

	q.PostTask(func(context.Context) { clock.Advance(10 * time.Millisecond) })
	s.RunUntilIdle()
	if frame.UnreportedTaskTime() == 0 || delegate.taskTimeCalls != 0 {
		t.Fatalf("after 10ms: unreported = %v, calls = %d", frame.UnreportedTaskTime(), delegate.taskTimeCalls)
	}

	q.PostTask(func(context.Context) { clock.Advance(100 * time.Millisecond) })
	s.RunUntilIdle()
	if frame.UnreportedTaskTime() != 0 || delegate.taskTimeCalls != 1 {
		t.Fatalf("after 110ms: unreported = %v, calls = %d", frame.UnreportedTaskTime(), delegate.taskTimeCalls)
	}
	if delegate.taskTime != 110*time.Millisecond {
		t.Fatalf("reported = %v, want 110ms", delegate.taskTime)
	}
}

func TestFrameScheduler_TaskTimeThroughNavigation(t *testing.T) {
	tests := []struct {
		frameType  FrameType
		navType    NavigationType
		expectZero bool
		wantCalls  int
	}{
		{FrameTypeMainFrame, NavigationTypeOther, false, 0},
		{FrameTypeMainFrame, NavigationTypeReload, false, 0},
		{FrameTypeMainFrame, NavigationTypeSameDocument, true, 1},
		{FrameTypeSubframe, NavigationTypeOther, true, 1},
		{FrameTypeSubframe, NavigationTypeSameDocument, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.frameType.String()+"/"+tt.navType.String(), func(t *testing.T) {
			s, clock := newTestScheduler(t, nil)
			_, frame, delegate := newTestFrame(t, s, tt.frameType)
			q := frame.UnpausableTaskQueue()
			task := func(context.Context) { clock.Advance(60 * time.Millisecond) }

			q.PostTask(task)
			s.RunUntilIdle()
			if frame.UnreportedTaskTime() == 0 || delegate.taskTimeCalls != 0 {
				t.Fatalf("before commit: unreported = %v, calls = %d",
					frame.UnreportedTaskTime(), delegate.taskTimeCalls)
			}

			frame.DidCommitProvisionalLoad(false, tt.navType)
			q.PostTask(task)
			s.RunUntilIdle()

			if got := frame.UnreportedTaskTime() == 0; got != tt.expectZero {
				t.Fatalf("unreported = %v, want zero %v", frame.UnreportedTaskTime(), tt.expectZero)
			}
			if delegate.taskTimeCalls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", delegate.taskTimeCalls, tt.wantCalls)
			}
		})
	}
}

func TestFrameScheduler_NavigationResetsLoading(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	page, frame, _ := newTestFrame(t, s, FrameTypeMainFrame)

	frame.OnFirstContentfulPaint()
	if !page.IsLoading() {
		t.Fatal("IsLoading() = false after first contentful paint")
	}
	frame.DidCommitProvisionalLoad(false, NavigationTypeSameDocument)
	if !page.IsLoading() {
		t.Fatal("same-document navigation reset paint milestones")
	}
	frame.DidCommitProvisionalLoad(true, NavigationTypeOther)
	if page.IsLoading() {
		t.Fatal("IsLoading() = true after a new document")
	}
}

func TestFrameScheduler_CrossOriginIgnoredForMainFrame(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	page, main, _ := newTestFrame(t, s, FrameTypeMainFrame)
	sub := page.CreateFrameScheduler(nil, FrameTypeSubframe)

	main.SetCrossOriginToMainFrame(true)
	if main.IsCrossOriginToMainFrame() {
		t.Fatal("main frame cross-origin to itself")
	}
	sub.SetCrossOriginToMainFrame(true)
	if !sub.IsCrossOriginToMainFrame() {
		t.Fatal("IsCrossOriginToMainFrame() = false for a cross-origin sub-frame")
	}
	if page.MainFrame() != main || sub.FrameType() != FrameTypeSubframe {
		t.Fatal("frame roles mixed up")
	}
	if len(page.Frames()) != 2 {
		t.Fatalf("len(Frames()) = %d, want 2", len(page.Frames()))
	}
}

// TestFrameScheduler_SettersIgnoreUnchangedValues verifies setters only act
// on a change
// Given: A frame on a scheduler logging at debug level
// When: Each setter is called twice with the same value
// Then: Each change is logged once
func TestFrameScheduler_SettersIgnoreUnchangedValues(t *testing.T) {
	var buf bytes.Buffer
	s, _ := newTestScheduler(t, func(cfg *SchedulerConfig) {
		cfg.Logger = NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	})
	_, frame, _ := newTestFrame(t, s, FrameTypeSubframe)

	frame.SetIsAdFrame(true)
	frame.SetIsAdFrame(true)
	frame.SetPreemptedForCooperativeScheduling(true)
	frame.SetPreemptedForCooperativeScheduling(true)

	if !frame.IsAdFrame() {
		t.Fatal("IsAdFrame() = false after SetIsAdFrame(true)")
	}
	for _, msg := range []string{"frame ad status changed", "frame preemption changed"} {
		if n := strings.Count(buf.String(), msg); n != 1 {
			t.Errorf("%q logged %d times, want 1", msg, n)
		}
	}

	frame.SetPreemptedForCooperativeScheduling(false)
	if n := strings.Count(buf.String(), "frame preemption changed"); n != 2 {
		t.Errorf("preemption change logged %d times after reset, want 2", n)
	}
}

// TestFrameScheduler_Detach verifies a detached frame drops its work
// Given: A frame with pending tasks and an active opt-out
// When: The frame is detached
// Then: Pending tasks never run, posts are refused and the page loses the opt-out
func TestFrameScheduler_Detach(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	page, frame, delegate := newTestFrame(t, s, FrameTypeMainFrame)
	q := frame.PausableTaskQueue()

	var log runLog
	pending := q.PostDelayedTask(log.task("pending"), time.Second)
	frame.RegisterFeature(FeatureWebRTC, SchedulingPolicy{DisableAllThrottling: true})
	if !page.HasThrottlingOptOut() {
		t.Fatal("HasThrottlingOptOut() = false with a registered opt-out")
	}

	frame.Detach()
	frame.Detach()
	if !frame.IsDetached() || !q.IsDetached() {
		t.Fatal("frame or queue not detached")
	}
	if pending.IsPending() {
		t.Fatal("task still pending after detach")
	}
	if page.HasThrottlingOptOut() {
		t.Fatal("opt-out survived detach")
	}
	if h := q.PostTask(log.task("late")); h.IsPending() {
		t.Fatal("post after detach accepted")
	}
	if page.MainFrame() != nil || len(page.Frames()) != 0 {
		t.Fatal("frame still attached to page")
	}

	fastForward(t, s, time.Minute)
	if len(log.get()) != 0 {
		t.Fatalf("ran %v after detach", log.get())
	}
	if len(delegate.masks) != 0 {
		t.Fatalf("uploaded %v after detach, want nothing", delegate.masks)
	}

	late := frame.TaskQueueForType(TaskTypeJavascriptTimer)
	if !late.IsDetached() {
		t.Fatal("queue created after detach is attached")
	}
}

func TestPageScheduler_Detach(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	page, frame, _ := newTestFrame(t, s, FrameTypeSubframe)

	page.SetPageVisible(false)
	page.Detach()
	if !frame.IsDetached() || !page.IsDetached() {
		t.Fatal("page or frame not detached")
	}
	if len(s.Pages()) != 0 {
		t.Fatalf("len(Pages()) = %d, want 0", len(s.Pages()))
	}
	if next, ok := s.NextWakeUp(); ok {
		t.Fatalf("NextWakeUp() = %v after detach, want none", next)
	}
	if f := page.CreateFrameScheduler(nil, FrameTypeMainFrame); !f.IsDetached() {
		t.Fatal("frame created on a detached page is attached")
	}
}
