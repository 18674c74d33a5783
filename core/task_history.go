package core

import (
	"sync"
	"time"
)

// taskHistory keeps the latest execution records in a fixed ring. The
// dispatch goroutine writes; readers may be on any goroutine.
type taskHistory struct {
	mu   sync.Mutex
	ring []TaskExecutionRecord
	next int
	size int
}

func newTaskHistory(capacity int) *taskHistory {
	if capacity < 1 {
		capacity = defaultExecutionHistoryCapacity
	}
	return &taskHistory{ring: make([]TaskExecutionRecord, capacity)}
}

func (h *taskHistory) add(r TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = r
	h.next = (h.next + 1) % len(h.ring)
	h.size = min(h.size+1, len(h.ring))
}

// scan calls fn on records newest first until fn returns false. fn runs with
// the lock held.
func (h *taskHistory) scan(fn func(*TaskExecutionRecord) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := 0; i < h.size; i++ {
		idx := (h.next - 1 - i + len(h.ring)) % len(h.ring)
		if !fn(&h.ring[idx]) {
			return
		}
	}
}

// recent returns up to limit records accepted by match, newest first. A
// limit <= 0 means all; a nil match accepts everything.
func (h *taskHistory) recent(limit int, match func(*TaskExecutionRecord) bool) []TaskExecutionRecord {
	var out []TaskExecutionRecord
	h.scan(func(r *TaskExecutionRecord) bool {
		if match == nil || match(r) {
			out = append(out, *r)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

// FrameTaskSummary aggregates the retained execution records of one frame.
// Delay is measured against the desired run time, so on throttled queues it
// is the time lost to throttling.
type FrameTaskSummary struct {
	FrameID       FrameID
	Tasks         int
	Panicked      int
	TotalDelay    time.Duration
	MaxDelay      time.Duration
	TotalDuration time.Duration
}

// MeanDelay is zero when no tasks were recorded.
func (s FrameTaskSummary) MeanDelay() time.Duration {
	if s.Tasks == 0 {
		return 0
	}
	return s.TotalDelay / time.Duration(s.Tasks)
}

func (h *taskHistory) summarize(frame FrameID) FrameTaskSummary {
	sum := FrameTaskSummary{FrameID: frame}
	h.scan(func(r *TaskExecutionRecord) bool {
		if r.FrameID != frame {
			return true
		}
		sum.Tasks++
		if r.Panicked {
			sum.Panicked++
		}
		d := r.Delay()
		sum.TotalDelay += d
		sum.MaxDelay = max(sum.MaxDelay, d)
		sum.TotalDuration += r.Duration
		return true
	})
	return sum
}
