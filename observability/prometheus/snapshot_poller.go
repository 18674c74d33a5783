package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-page-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// StatsProvider provides scheduler stats snapshots. *core.MainThreadScheduler
// satisfies it.
type StatsProvider interface {
	Stats() core.SchedulerStats
}

var lifecycleStates = []core.SchedulingLifecycleState{
	core.LifecycleStateNotThrottled,
	core.LifecycleStateHidden,
	core.LifecycleStateThrottled,
	core.LifecycleStateStopped,
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]StatsProvider

	pages           *prom.GaugeVec
	frames          *prom.GaugeVec
	queues          *prom.GaugeVec
	readyTasks      *prom.GaugeVec
	delayedTasks    *prom.GaugeVec
	throttledQueues *prom.GaugeVec
	disabledQueues  *prom.GaugeVec
	tasksRun        *prom.GaugeVec
	pagesByState    *prom.GaugeVec
	policy          *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSchedulerGauge(name, help string, labels ...string) *prom.GaugeVec {
	return prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "pagescheduler",
		Name:      name,
		Help:      help,
	}, append([]string{"scheduler"}, labels...))
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	p := &SnapshotPoller{
		interval:        interval,
		schedulers:      make(map[string]StatsProvider),
		pages:           newSchedulerGauge("pages", "Attached pages."),
		frames:          newSchedulerGauge("frames", "Attached frames."),
		queues:          newSchedulerGauge("queues", "Attached task queues."),
		readyTasks:      newSchedulerGauge("ready_tasks", "Tasks promoted and waiting to run."),
		delayedTasks:    newSchedulerGauge("delayed_tasks", "Tasks waiting for their run time."),
		throttledQueues: newSchedulerGauge("throttled_queues", "Queues currently subject to wake-up throttling."),
		disabledQueues:  newSchedulerGauge("disabled_queues", "Queues disabled by pause or freeze."),
		tasksRun:        newSchedulerGauge("tasks_run", "Tasks run since the scheduler started."),
		pagesByState:    newSchedulerGauge("pages_by_lifecycle_state", "Pages per lifecycle state.", "state"),
		policy:          newSchedulerGauge("intensive_throttling_policy", "Active intensive throttling policy (1 for the active one).", "policy"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.pages, &p.frames, &p.queues, &p.readyTasks, &p.delayedTasks,
		&p.throttledQueues, &p.disabledQueues, &p.tasksRun, &p.pagesByState, &p.policy,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a stats provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider StatsProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "main")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		st := provider.Stats()
		p.pages.WithLabelValues(name).Set(float64(st.Pages))
		p.frames.WithLabelValues(name).Set(float64(st.Frames))
		p.queues.WithLabelValues(name).Set(float64(st.Queues))
		p.readyTasks.WithLabelValues(name).Set(float64(st.ReadyTasks))
		p.delayedTasks.WithLabelValues(name).Set(float64(st.DelayedTasks))
		p.throttledQueues.WithLabelValues(name).Set(float64(st.ThrottledQueues))
		p.disabledQueues.WithLabelValues(name).Set(float64(st.DisabledQueues))
		p.tasksRun.WithLabelValues(name).Set(float64(st.TasksRun))

		// States with no pages are reset so a page leaving a state is visible.
		for _, state := range lifecycleStates {
			label := state.String()
			p.pagesByState.WithLabelValues(name, label).Set(float64(st.PageStates[label]))
		}
		for _, policy := range []core.IntensiveThrottlingPolicy{
			core.IntensiveThrottlingPolicyDefault,
			core.IntensiveThrottlingPolicyForceEnable,
			core.IntensiveThrottlingPolicyForceDisable,
		} {
			v := 0.0
			if policy == st.Policy {
				v = 1
			}
			p.policy.WithLabelValues(name, policy.String()).Set(v)
		}
	}
}
