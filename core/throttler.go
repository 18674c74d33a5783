package core

import "time"

// wakeUpBudgetPoolKind names the page-wide pools a throttled queue can be
// in. Frames of one page share their pools, so a wake-up of one frame's
// timers counts against every frame with the same origin relationship.
type wakeUpBudgetPoolKind int

const (
	wakeUpPoolBaseline wakeUpBudgetPoolKind = iota
	wakeUpPoolIntensiveSameOrigin
	wakeUpPoolIntensiveCrossOrigin
	wakeUpPoolCount
)

func (k wakeUpBudgetPoolKind) String() string {
	switch k {
	case wakeUpPoolBaseline:
		return "baseline"
	case wakeUpPoolIntensiveSameOrigin:
		return "intensive_same_origin"
	case wakeUpPoolIntensiveCrossOrigin:
		return "intensive_cross_origin"
	default:
		return "unknown"
	}
}

type wakeUpBudgetPool struct {
	kind       wakeUpBudgetPoolKind
	lastWakeUp time.Time
	hasWakeUp  bool
}

// WakeUpThrottler decides when the throttled queues of one page may wake up.
//
// Baseline throttling aligns wake-ups on ThrottledWakeUpInterval. Once the
// page has been hidden for the grace period (and no title or favicon update
// happened recently), intensive throttling limits wake-ups to one per
// IntensiveWakeUpInterval: frames cross-origin with the main frame always
// wake up on an aligned coarse boundary, same-origin frames may also wake up
// exactly one interval after the previous wake-up of the pool.
//
// Nothing is cached: the run time of a queue's next task is derived from the
// current page state every time the dispatcher asks.
type WakeUpThrottler struct {
	page  *PageScheduler
	pools [wakeUpPoolCount]wakeUpBudgetPool
}

func newWakeUpThrottler(page *PageScheduler) *WakeUpThrottler {
	t := &WakeUpThrottler{page: page}
	for k := range t.pools {
		t.pools[k].kind = wakeUpBudgetPoolKind(k)
	}
	return t
}

func (t *WakeUpThrottler) intensivePoolFor(q *TaskQueue) *wakeUpBudgetPool {
	if q.frame.IsCrossOriginToMainFrame() {
		return &t.pools[wakeUpPoolIntensiveCrossOrigin]
	}
	return &t.pools[wakeUpPoolIntensiveSameOrigin]
}

// intensiveActiveAt reports whether intensive throttling applies to a task of
// q desired at d.
func (t *WakeUpThrottler) intensiveActiveAt(q *TaskQueue, d time.Time) (bool, time.Duration) {
	p := t.page
	enabled, grace, interval := p.sched.intensiveThrottlingParams()
	if !enabled || p.visible {
		return false, 0
	}
	if p.aggressiveOptOuts > 0 || p.allOptOuts > 0 {
		return false, 0
	}
	if d.Before(p.hiddenAt.Add(grace)) {
		return false, 0
	}
	if !q.frame.IsCrossOriginToMainFrame() && !p.lastUserSignal.IsZero() &&
		d.Before(p.lastUserSignal.Add(p.sched.settings.IntensiveSignalResetWindow)) {
		return false, 0
	}
	return true, interval
}

// NextAllowedRunTime returns the earliest time a task of q desired at
// desired may run. Unthrottled queues run tasks at their desired time.
func (t *WakeUpThrottler) NextAllowedRunTime(q *TaskQueue, desired time.Time) time.Time {
	if !q.IsThrottled() {
		return desired
	}
	runAt := alignUp(desired, t.page.sched.settings.ThrottledWakeUpInterval)

	active, interval := t.intensiveActiveAt(q, desired)
	if !active {
		return runAt
	}

	pool := t.intensivePoolFor(q)
	coarse := alignUp(desired, interval)
	var intensive time.Time
	switch {
	case pool.kind == wakeUpPoolIntensiveCrossOrigin:
		intensive = coarse
	case !pool.hasWakeUp:
		intensive = desired
	default:
		intensive = minTime(coarse, maxTime(desired, pool.lastWakeUp.Add(interval)))
	}
	return maxTime(runAt, intensive)
}

// OnWakeUp records that the throttled queues in woken woke up together at
// now. Every pool they belong to counts the wake-up once.
func (t *WakeUpThrottler) OnWakeUp(woken []*TaskQueue, now time.Time) {
	if len(woken) == 0 {
		return
	}
	var counted [wakeUpPoolCount]bool
	for _, q := range woken {
		kind := wakeUpPoolBaseline
		if active, _ := t.intensiveActiveAt(q, now); active {
			kind = t.intensivePoolFor(q).kind
		}
		if !counted[kind] {
			counted[kind] = true
			t.page.sched.metrics.RecordWakeUp(kind.String())
		}
	}

	base := &t.pools[wakeUpPoolBaseline]
	base.lastWakeUp, base.hasWakeUp = now, true
	for _, q := range woken {
		pool := t.intensivePoolFor(q)
		pool.lastWakeUp, pool.hasWakeUp = now, true
	}
}

// LastWakeUp returns the last recorded wake-up of the intensive pool q
// belongs to.
func (t *WakeUpThrottler) LastWakeUp(q *TaskQueue) (time.Time, bool) {
	pool := t.intensivePoolFor(q)
	return pool.lastWakeUp, pool.hasWakeUp
}
