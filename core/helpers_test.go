package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// testStart is aligned to every wake-up interval used in tests.
var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, configure func(*SchedulerConfig)) (*MainThreadScheduler, *SimulatedClock) {
	t.Helper()
	clock := NewSimulatedClock(testStart)
	cfg := DefaultSchedulerConfig()
	cfg.Clock = clock
	if configure != nil {
		configure(cfg)
	}
	s := NewMainThreadScheduler(cfg)
	t.Cleanup(s.Shutdown)
	return s, clock
}

func newTestFrame(t *testing.T, s *MainThreadScheduler, frameType FrameType) (*PageScheduler, *FrameScheduler, *recordingDelegate) {
	t.Helper()
	page := s.NewPage()
	delegate := &recordingDelegate{}
	if frameType == FrameTypeSubframe {
		page.CreateFrameScheduler(nil, FrameTypeMainFrame)
	}
	return page, page.CreateFrameScheduler(delegate, frameType), delegate
}

func fastForward(t *testing.T, s *MainThreadScheduler, d time.Duration) {
	t.Helper()
	if err := s.FastForwardBy(d); err != nil {
		t.Fatalf("FastForwardBy(%v) error = %v", d, err)
	}
}

// recordingDelegate is a FrameDelegate that keeps every report.
type recordingDelegate struct {
	taskTimeCalls int
	taskTime      time.Duration
	masks         []uint64
}

func (d *recordingDelegate) UpdateTaskTime(total time.Duration) {
	d.taskTimeCalls++
	d.taskTime += total
}

func (d *recordingDelegate) UpdateActiveSchedulerTrackedFeatures(mask uint64) {
	d.masks = append(d.masks, mask)
}

// runLog records task names in run order.
type runLog struct {
	mu    sync.Mutex
	names []string
}

func (l *runLog) task(name string) Task {
	return func(ctx context.Context) {
		l.mu.Lock()
		l.names = append(l.names, name)
		l.mu.Unlock()
	}
}

func (l *runLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func (l *runLog) reset() {
	l.mu.Lock()
	l.names = nil
	l.mu.Unlock()
}

// timeLog records the virtual time each task ran at.
type timeLog struct {
	clock Clock
	times []time.Time
}

func (l *timeLog) task() Task {
	return func(ctx context.Context) {
		l.times = append(l.times, l.clock.Now())
	}
}

// offsets returns run times relative to start.
func (l *timeLog) offsets(start time.Time) []time.Duration {
	out := make([]time.Duration, len(l.times))
	for i, at := range l.times {
		out[i] = at.Sub(start)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func names(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return out
}

// lifecycleRecorder is a comparable LifecycleObserver.
type lifecycleRecorder struct {
	states []SchedulingLifecycleState
}

func (r *lifecycleRecorder) OnLifecycleStateChanged(state SchedulingLifecycleState) {
	r.states = append(r.states, state)
}

func (r *lifecycleRecorder) last() SchedulingLifecycleState {
	if len(r.states) == 0 {
		return -1
	}
	return r.states[len(r.states)-1]
}
