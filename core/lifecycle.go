package core

import "reflect"

// SchedulingLifecycleState is the coarse state reported to lifecycle
// observers.
type SchedulingLifecycleState int

const (
	LifecycleStateNotThrottled SchedulingLifecycleState = iota
	LifecycleStateHidden
	LifecycleStateThrottled
	LifecycleStateStopped
)

func (s SchedulingLifecycleState) String() string {
	switch s {
	case LifecycleStateNotThrottled:
		return "not_throttled"
	case LifecycleStateHidden:
		return "hidden"
	case LifecycleStateThrottled:
		return "throttled"
	case LifecycleStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ObserverType selects which lifecycle rules apply to an observer.
type ObserverType int

const (
	ObserverTypeLoader ObserverType = iota
	ObserverTypeWorkerScheduler
)

func (t ObserverType) String() string {
	switch t {
	case ObserverTypeLoader:
		return "loader"
	case ObserverTypeWorkerScheduler:
		return "worker_scheduler"
	default:
		return "unknown"
	}
}

// LifecycleObserver receives coarse lifecycle state changes of a frame.
type LifecycleObserver interface {
	OnLifecycleStateChanged(state SchedulingLifecycleState)
}

// LifecycleObserverFunc adapts a function to LifecycleObserver.
type LifecycleObserverFunc func(state SchedulingLifecycleState)

func (f LifecycleObserverFunc) OnLifecycleStateChanged(state SchedulingLifecycleState) {
	f(state)
}

// LifecycleObserverHandle keeps an observer subscribed until Close.
type LifecycleObserverHandle struct {
	frame    *FrameScheduler
	kind     ObserverType
	observer LifecycleObserver
	last     SchedulingLifecycleState
	closed   bool
}

// Close unsubscribes the observer. Calling Close more than once is a no-op.
func (h *LifecycleObserverHandle) Close() {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	h.frame.observers.remove(h)
}

func (h *LifecycleObserverHandle) Kind() ObserverType { return h.kind }

// lifecycleObservers is the per-frame registry.
type lifecycleObservers struct {
	handles []*LifecycleObserverHandle
}

func (r *lifecycleObservers) find(kind ObserverType, o LifecycleObserver) *LifecycleObserverHandle {
	// Function adapters are not comparable; each registration of one is
	// distinct.
	if !reflect.TypeOf(o).Comparable() {
		return nil
	}
	for _, h := range r.handles {
		if h.kind == kind && h.observer == o {
			return h
		}
	}
	return nil
}

func (r *lifecycleObservers) remove(h *LifecycleObserverHandle) {
	for i, x := range r.handles {
		if x == h {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			return
		}
	}
}

// PauseSubresourceLoadingHandle forces loader observers of its frame into
// LifecycleStateStopped until released.
type PauseSubresourceLoadingHandle struct {
	frame    *FrameScheduler
	released bool
}

// Release drops the pause. The last release restores the state implied by
// the page and frame. Calling Release more than once is a no-op.
func (h *PauseSubresourceLoadingHandle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	f := h.frame
	f.pauseSubresourceLoading--
	if f.pauseSubresourceLoading == 0 {
		f.notifyLifecycleObservers()
	}
}

// AddLifecycleObserver subscribes o and synchronously delivers the current
// state. Adding an observer that is already subscribed with the same kind
// returns the existing handle without a second notification.
func (f *FrameScheduler) AddLifecycleObserver(kind ObserverType, o LifecycleObserver) *LifecycleObserverHandle {
	if h := f.observers.find(kind, o); h != nil {
		return h
	}
	h := &LifecycleObserverHandle{frame: f, kind: kind, observer: o}
	h.last = f.lifecycleStateFor(kind)
	f.observers.handles = append(f.observers.handles, h)
	o.OnLifecycleStateChanged(h.last)
	return h
}

// GetPauseSubresourceLoadingHandle pauses subresource loading for the frame
// until the handle is released.
func (f *FrameScheduler) GetPauseSubresourceLoadingHandle() *PauseSubresourceLoadingHandle {
	f.pauseSubresourceLoading++
	if f.pauseSubresourceLoading == 1 {
		f.notifyLifecycleObservers()
	}
	return &PauseSubresourceLoadingHandle{frame: f}
}

// CurrentLifecycleState returns the state a worker-scheduler observer would
// see.
func (f *FrameScheduler) CurrentLifecycleState() SchedulingLifecycleState {
	return f.lifecycleStateFor(ObserverTypeWorkerScheduler)
}

func (f *FrameScheduler) lifecycleStateFor(kind ObserverType) SchedulingLifecycleState {
	p := f.page
	if p.frozen && !p.keepActive {
		return LifecycleStateStopped
	}
	if kind == ObserverTypeLoader {
		if f.pauseSubresourceLoading > 0 {
			return LifecycleStateStopped
		}
		if p.aggressiveOptOuts > 0 || p.allOptOuts > 0 {
			return LifecycleStateNotThrottled
		}
	}
	return p.lifecycleState()
}

// notifyLifecycleObservers delivers the current state to every observer
// whose last delivered state differs.
func (f *FrameScheduler) notifyLifecycleObservers() {
	handles := append([]*LifecycleObserverHandle(nil), f.observers.handles...)
	for _, h := range handles {
		if h.closed {
			continue
		}
		state := f.lifecycleStateFor(h.kind)
		if state == h.last {
			continue
		}
		h.last = state
		h.observer.OnLifecycleStateChanged(state)
	}
}
