package core

import (
	"time"

	"github.com/google/uuid"
)

// PageID identifies a PageScheduler.
type PageID string

// PageScheduler is the per-page context: visibility, freezing, audio, the
// throttling opt-out counters and the wake-up budget pools shared by every
// frame of the page.
type PageScheduler struct {
	id    PageID
	sched *MainThreadScheduler

	visible      bool
	frozen       bool
	keepActive   bool
	audioPlaying bool

	// hiddenAt is when the page was last hidden. lastUserSignal is the last
	// title or favicon update while hidden; it is cleared on every hide.
	hiddenAt       time.Time
	lastUserSignal time.Time

	// Opt-outs held by registered features of any frame.
	aggressiveOptOuts int
	allOptOuts        int

	throttler *WakeUpThrottler

	frames    []*FrameScheduler
	mainFrame *FrameScheduler

	// Fires ThrottlingDelayAfterHidden after a hide so observers see the
	// Hidden to Throttled transition.
	throttleTimer *controlTask
	lastState     SchedulingLifecycleState

	detached bool
}

func newPageScheduler(s *MainThreadScheduler) *PageScheduler {
	p := &PageScheduler{
		id:        PageID(uuid.NewString()),
		sched:     s,
		visible:   true,
		lastState: LifecycleStateNotThrottled,
	}
	p.throttler = newWakeUpThrottler(p)
	return p
}

func (p *PageScheduler) ID() PageID                  { return p.id }
func (p *PageScheduler) IsPageVisible() bool         { return p.visible }
func (p *PageScheduler) IsFrozen() bool              { return p.frozen }
func (p *PageScheduler) IsKeepActive() bool          { return p.keepActive }
func (p *PageScheduler) IsAudioPlaying() bool        { return p.audioPlaying }
func (p *PageScheduler) IsDetached() bool            { return p.detached }
func (p *PageScheduler) Throttler() *WakeUpThrottler { return p.throttler }
func (p *PageScheduler) MainFrame() *FrameScheduler  { return p.mainFrame }

// Frames returns the attached frames in creation order.
func (p *PageScheduler) Frames() []*FrameScheduler {
	return append([]*FrameScheduler(nil), p.frames...)
}

// HasThrottlingOptOut reports whether a feature currently disables
// aggressive or all throttling for the page.
func (p *PageScheduler) HasThrottlingOptOut() bool {
	return p.aggressiveOptOuts > 0 || p.allOptOuts > 0
}

// CreateFrameScheduler adds a frame to the page. The first main frame
// decides IsLoading. A nil delegate is replaced with NopFrameDelegate.
func (p *PageScheduler) CreateFrameScheduler(delegate FrameDelegate, frameType FrameType) *FrameScheduler {
	f := newFrameScheduler(p, delegate, frameType)
	if p.detached {
		f.detached = true
		return f
	}
	p.frames = append(p.frames, f)
	if frameType == FrameTypeMainFrame && p.mainFrame == nil {
		p.mainFrame = f
	}
	p.sched.logger.Debug("frame attached",
		F("page", p.id), F("frame", f.id), F("type", frameType))
	return f
}

func (p *PageScheduler) removeFrame(f *FrameScheduler) {
	for i, x := range p.frames {
		if x == f {
			p.frames = append(p.frames[:i], p.frames[i+1:]...)
			break
		}
	}
	if p.mainFrame == f {
		p.mainFrame = nil
	}
}

// IsLoading reports whether the main frame painted content but not yet its
// meaningful content.
func (p *PageScheduler) IsLoading() bool {
	f := p.mainFrame
	return f != nil && f.fcpSeen && !f.fmpSeen
}

// SetPageVisible changes visibility. Hiding starts the grace period of
// intensive throttling; showing a frozen page unfreezes it.
func (p *PageScheduler) SetPageVisible(visible bool) {
	if p.detached || p.visible == visible {
		return
	}
	p.visible = visible
	s := p.sched
	if visible {
		s.cancelControlTask(p.throttleTimer)
		p.throttleTimer = nil
		if p.frozen {
			p.frozen = false
			s.logger.Debug("page unfrozen on show", F("page", p.id))
		}
	} else {
		now := s.clock.Now()
		p.hiddenAt = now
		p.lastUserSignal = time.Time{}
		s.cancelControlTask(p.throttleTimer)
		p.throttleTimer = s.postControlTaskAt(now.Add(s.settings.ThrottlingDelayAfterHidden),
			"page-throttle", func() {
				p.throttleTimer = nil
				p.notifyStateChanged()
			})
	}
	s.logger.Debug("page visibility changed", F("page", p.id), F("visible", visible))
	p.notifyStateChanged()
}

// SetPageFrozen freezes or resumes every freezable queue of the page.
func (p *PageScheduler) SetPageFrozen(frozen bool) {
	if p.detached || p.frozen == frozen {
		return
	}
	p.frozen = frozen
	p.sched.logger.Debug("page frozen changed", F("page", p.id), F("frozen", frozen))
	p.notifyStateChanged()
}

// SetKeepActive lets non-timer queues of a frozen page keep running.
func (p *PageScheduler) SetKeepActive(keepActive bool) {
	if p.detached || p.keepActive == keepActive {
		return
	}
	p.keepActive = keepActive
	p.notifyStateChanged()
}

// SetAudioPlaying marks the page audible. An audible hidden page is never
// reported as throttled and is exempt from the background priority
// experiments.
func (p *PageScheduler) SetAudioPlaying(playing bool) {
	if p.detached || p.audioPlaying == playing {
		return
	}
	p.audioPlaying = playing
	p.notifyStateChanged()
}

func (p *PageScheduler) onTitleOrFaviconUpdated() {
	if p.detached || p.visible {
		return
	}
	p.lastUserSignal = p.sched.clock.Now()
}

// adjustOptOuts applies a feature policy to the opt-out counters with the
// given sign.
func (p *PageScheduler) adjustOptOuts(policy SchedulingPolicy, delta int) {
	if !policy.DisableAggressiveThrottling && !policy.DisableAllThrottling {
		return
	}
	before := p.HasThrottlingOptOut()
	if policy.DisableAggressiveThrottling {
		p.aggressiveOptOuts += delta
	}
	if policy.DisableAllThrottling {
		p.allOptOuts += delta
	}
	after := p.HasThrottlingOptOut()
	if before == after {
		return
	}
	if after {
		p.sched.logger.Info("throttling opt-out granted", F("page", p.id),
			F("aggressive", p.aggressiveOptOuts), F("all", p.allOptOuts))
	} else {
		p.sched.logger.Info("throttling opt-out released", F("page", p.id))
	}
	p.notifyStateChanged()
}

// lifecycleState is the page-derived part of the frame lifecycle state.
func (p *PageScheduler) lifecycleState() SchedulingLifecycleState {
	if p.visible {
		return LifecycleStateNotThrottled
	}
	if !p.audioPlaying &&
		!p.sched.clock.Now().Before(p.hiddenAt.Add(p.sched.settings.ThrottlingDelayAfterHidden)) {
		return LifecycleStateThrottled
	}
	return LifecycleStateHidden
}

// LifecycleState is the coarse state of the page as a whole.
func (p *PageScheduler) LifecycleState() SchedulingLifecycleState {
	if p.frozen && !p.keepActive {
		return LifecycleStateStopped
	}
	return p.lifecycleState()
}

// notifyStateChanged renotifies the observers of every frame and records a
// page-level transition.
func (p *PageScheduler) notifyStateChanged() {
	for _, f := range p.Frames() {
		f.notifyLifecycleObservers()
	}
	state := p.LifecycleState()
	if state == p.lastState {
		return
	}
	p.lastState = state
	p.sched.metrics.RecordLifecycleTransition(state)
	p.sched.logger.Debug("page lifecycle state changed",
		F("page", p.id), F("state", state))
}

// Detach removes the page and all its frames from the scheduler.
func (p *PageScheduler) Detach() {
	if p.detached {
		return
	}
	for _, f := range p.Frames() {
		f.Detach()
	}
	p.sched.cancelControlTask(p.throttleTimer)
	p.throttleTimer = nil
	p.detached = true
	p.sched.removePage(p)
	p.sched.logger.Debug("page detached", F("page", p.id))
}
