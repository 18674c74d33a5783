package pagescheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/Swind/go-page-scheduler/core"
)

// MainThread owns the goroutine that drives a real-clock MainThreadScheduler.
// Pages, frames and queues may only be touched from that goroutine; other
// goroutines reach them through Post or Call.
type MainThread struct {
	id        string
	scheduler *core.MainThreadScheduler
	logger    core.Logger
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

// NewMainThread creates a scheduler from cfg (nil uses the defaults) without
// starting it. A simulated clock in cfg is rejected when Start runs.
func NewMainThread(id string, cfg *core.SchedulerConfig) *MainThread {
	if cfg == nil {
		cfg = core.DefaultSchedulerConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	return &MainThread{
		id:        id,
		scheduler: core.NewMainThreadScheduler(cfg),
		logger:    logger,
	}
}

// Start runs the dispatch loop on its own goroutine.
func (mt *MainThread) Start(ctx context.Context) {
	mt.runningMu.Lock()
	defer mt.runningMu.Unlock()

	if mt.running {
		return // Already running
	}

	runCtx, cancel := context.WithCancel(ctx)
	mt.cancel = cancel
	mt.running = true

	mt.wg.Add(1)
	go mt.loop(runCtx)
}

func (mt *MainThread) loop(ctx context.Context) {
	defer mt.wg.Done()
	defer func() {
		mt.runningMu.Lock()
		mt.running = false
		mt.runningMu.Unlock()
	}()

	err := mt.scheduler.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		mt.logger.Debug("main thread loop exited", core.F("thread", mt.id))
	default:
		mt.logger.Error("main thread loop failed", core.F("thread", mt.id), core.F("error", err))
	}
}

// Stop ends the dispatch loop and waits for it. Pending tasks stay queued and
// run if Start is called again.
func (mt *MainThread) Stop() {
	mt.runningMu.Lock()
	cancel := mt.cancel
	mt.cancel = nil
	mt.runningMu.Unlock()

	if cancel != nil {
		cancel()
	}
	mt.Join()
}

// Shutdown shuts the scheduler down, which detaches every page, and waits for
// the loop to exit. The thread cannot be restarted afterwards.
func (mt *MainThread) Shutdown() {
	mt.scheduler.Shutdown()
	mt.Join()

	mt.runningMu.Lock()
	if mt.cancel != nil {
		mt.cancel()
		mt.cancel = nil
	}
	mt.runningMu.Unlock()
}

// Join waits for the dispatch goroutine to finish.
func (mt *MainThread) Join() {
	mt.wg.Wait()
}

// ID returns the id of the thread.
func (mt *MainThread) ID() string {
	return mt.id
}

// IsRunning reports whether the dispatch loop is running.
func (mt *MainThread) IsRunning() bool {
	mt.runningMu.RLock()
	defer mt.runningMu.RUnlock()
	return mt.running
}

// Scheduler returns the scheduler. Only Stats, RecentTasks, Shutdown and
// PostFromAnyThread are safe to call on it from other goroutines.
func (mt *MainThread) Scheduler() *core.MainThreadScheduler {
	return mt.scheduler
}

// Post queues fn to run on the dispatch goroutine.
func (mt *MainThread) Post(fn func(s *core.MainThreadScheduler)) error {
	if fn == nil {
		return nil
	}
	return mt.scheduler.PostFromAnyThread(func() { fn(mt.scheduler) })
}

// =============================================================================
// Global Main Thread Helper (Singleton)
// =============================================================================

var (
	globalMainThread *MainThread
	globalMu         sync.Mutex
)

// InitGlobalMainThread creates and starts the process-wide main thread. Later
// calls are no-ops until ShutdownGlobalMainThread.
func InitGlobalMainThread(cfg *core.SchedulerConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMainThread != nil {
		return // Already initialized
	}

	globalMainThread = NewMainThread("global-main-thread", cfg)
	globalMainThread.Start(context.Background())
}

// GetGlobalMainThread returns the process-wide main thread.
// It panics if InitGlobalMainThread has not been called.
func GetGlobalMainThread() *MainThread {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMainThread == nil {
		panic("global main thread not initialized. Call InitGlobalMainThread() first.")
	}
	return globalMainThread
}

// ShutdownGlobalMainThread shuts the process-wide main thread down.
func ShutdownGlobalMainThread() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMainThread != nil {
		globalMainThread.Shutdown()
		globalMainThread = nil
	}
}
