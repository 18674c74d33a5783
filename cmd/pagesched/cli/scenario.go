package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-page-scheduler/core"
	schedprom "github.com/Swind/go-page-scheduler/observability/prometheus"
)

const wakeUpMetric = "pagescheduler_throttled_wake_up_total"

// Scenario is one page with a main frame and some cross-origin subframes,
// each running a repeating JavaScript timer. The page is hidden after
// HideAfter and the scenario runs for Duration of virtual time.
type Scenario struct {
	Subframes     int
	TimerInterval time.Duration
	HideAfter     time.Duration
	Duration      time.Duration
	OptOut        bool
	AudioPlaying  bool
	Policy        core.IntensiveThrottlingPolicy
	Settings      core.SchedulingSettings
	Logger        core.Logger
}

// FrameReport summarizes the timer runs of one frame.
type FrameReport struct {
	Frame       core.FrameID
	CrossOrigin bool
	Runs        int
	// Runs after the page was hidden.
	HiddenRuns int
	FirstRun   time.Duration
	LastRun    time.Duration
	// Largest gap between two runs while the page was hidden.
	MaxHiddenGap time.Duration
}

// Report is the outcome of a Scenario.
type Report struct {
	Frames  []FrameReport
	WakeUps map[string]float64
	Stats   core.SchedulerStats
}

func (sc Scenario) validate() error {
	if sc.Subframes < 0 {
		return fmt.Errorf("subframes must not be negative, got %d", sc.Subframes)
	}
	if sc.TimerInterval <= 0 {
		return fmt.Errorf("timer interval must be positive, got %s", sc.TimerInterval)
	}
	if sc.Duration <= 0 || sc.HideAfter < 0 || sc.HideAfter > sc.Duration {
		return fmt.Errorf("need 0 <= hide-after (%s) <= duration (%s)", sc.HideAfter, sc.Duration)
	}
	return nil
}

type frameRuns struct {
	frame       *core.FrameScheduler
	crossOrigin bool
	runs        []time.Duration
}

// Run executes the scenario on a simulated clock.
func (sc Scenario) Run() (*Report, error) {
	if err := sc.validate(); err != nil {
		return nil, err
	}

	reg := prom.NewRegistry()
	metrics, err := schedprom.NewMetricsExporter("", reg, schedprom.ExporterOptions{})
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := core.NewSimulatedClock(start)
	cfg := core.DefaultSchedulerConfig()
	cfg.Clock = clock
	cfg.Settings = sc.Settings
	cfg.IntensiveThrottlingPolicy = sc.Policy
	cfg.Metrics = metrics
	if sc.Logger != nil {
		cfg.Logger = sc.Logger
	}
	sched := core.NewMainThreadScheduler(cfg)
	defer sched.Shutdown()

	page := sched.NewPage()
	all := []*frameRuns{{frame: page.CreateFrameScheduler(nil, core.FrameTypeMainFrame)}}
	for i := 0; i < sc.Subframes; i++ {
		f := page.CreateFrameScheduler(nil, core.FrameTypeSubframe)
		f.SetCrossOriginToMainFrame(true)
		all = append(all, &frameRuns{frame: f, crossOrigin: true})
	}
	if sc.OptOut {
		all[0].frame.RegisterFeature(core.FeatureWebSocket, core.SchedulingPolicy{DisableAggressiveThrottling: true})
	}
	page.SetAudioPlaying(sc.AudioPlaying)

	for _, fr := range all {
		fr := fr
		q := fr.frame.JavaScriptTimerTaskQueue()
		var tick core.Task
		tick = func(context.Context) {
			fr.runs = append(fr.runs, clock.Now().Sub(start))
			q.PostDelayedNamedTask("timer", tick, sc.TimerInterval)
		}
		q.PostDelayedNamedTask("timer", tick, sc.TimerInterval)
	}

	if err := sched.FastForwardBy(sc.HideAfter); err != nil {
		return nil, err
	}
	page.SetPageVisible(false)
	if err := sched.FastForwardBy(sc.Duration - sc.HideAfter); err != nil {
		return nil, err
	}

	report := &Report{Stats: sched.Stats()}
	for _, fr := range all {
		report.Frames = append(report.Frames, summarize(fr, sc.HideAfter))
	}
	report.WakeUps, err = gatherWakeUps(reg)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func summarize(fr *frameRuns, hideAfter time.Duration) FrameReport {
	r := FrameReport{Frame: fr.frame.ID(), CrossOrigin: fr.crossOrigin, Runs: len(fr.runs)}
	if len(fr.runs) == 0 {
		return r
	}
	r.FirstRun = fr.runs[0]
	r.LastRun = fr.runs[len(fr.runs)-1]

	prev := hideAfter
	for _, at := range fr.runs {
		if at < hideAfter {
			continue
		}
		r.HiddenRuns++
		r.MaxHiddenGap = max(r.MaxHiddenGap, at-prev)
		prev = at
	}
	return r
}

func gatherWakeUps(g prom.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != wakeUpMetric {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "pool" {
					out[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return out, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
