// Package pagescheduler provides per-page and per-frame task scheduling with
// wake-up throttling for background pages, modelled on a browser renderer's
// main-thread scheduler.
//
// Work is posted to typed task queues owned by a FrameScheduler. Every queue
// carries traits that decide whether it may be throttled, paused, frozen or
// deferred. A PageScheduler groups frames, tracks visibility, audio, freezing
// and keep-active state, and owns the wake-up throttler that aligns timers on
// hidden pages to one wake-up per second and, after a grace period, to one per
// minute.
//
// # Quick Start
//
// Drive the scheduler on a dedicated goroutine:
//
//	mt := pagescheduler.NewMainThread("main", nil)
//	mt.Start(context.Background())
//	defer mt.Shutdown()
//
// Create a page and a frame, and post to a queue chosen by task type:
//
//	_, _ = pagescheduler.Call(ctx, mt, func(s *core.MainThreadScheduler) core.PageID {
//		page := s.NewPage()
//		frame := page.CreateFrameScheduler(nil, core.FrameTypeMainFrame)
//		frame.GetTaskRunner(core.TaskTypeJavascriptTimer).PostDelayedTask(func(ctx context.Context) {
//			println("timer")
//		}, 250*time.Millisecond)
//		return page.ID()
//	})
//
// # Key Concepts
//
// TaskQueue: A FIFO of tasks with traits. Delayed tasks are kept ordered by
// their desired run time and promoted lazily when the throttler allows.
//
// Lifecycle state: NotThrottled, Hidden, Throttled or Stopped, derived from the
// page state and delivered to observers registered on a frame.
//
// Feature tracker: Per-frame registry of features that opt a page out of
// throttling or make it ineligible for the back/forward cache.
//
// # Virtual Time
//
// A scheduler built on core.SimulatedClock never sleeps. RunUntilIdle,
// FastForwardBy and AdvanceTo run every task that becomes ready, at its ready
// time, which makes throttling behaviour reproducible in tests.
//
// # Thread Safety
//
// Pages, frames and queues belong to the dispatch goroutine. Other goroutines
// reach them through MainThread.Post, Call or CallAndReply. Stats and
// RecentTasks are safe from any goroutine.
package pagescheduler
