package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Swind/go-page-scheduler/config"
	"github.com/Swind/go-page-scheduler/core"
)

func backgroundTab() Scenario {
	return Scenario{
		Subframes:     1,
		TimerInterval: 100 * time.Millisecond,
		HideAfter:     2 * time.Second,
		Duration:      10 * time.Minute,
		Settings:      core.DefaultSchedulingSettings(),
	}
}

// TestScenario_IntensiveThrottling replays a background tab
// Given: A page with a main frame and a cross-origin subframe, each with a 100ms timer
// When: The page is hidden for ten minutes
// Then: Timers wake at most once a minute after the grace period, and each pool records wake-ups
func TestScenario_IntensiveThrottling(t *testing.T) {
	report, err := backgroundTab().Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(report.Frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(report.Frames))
	}
	for _, f := range report.Frames {
		if f.MaxHiddenGap != time.Minute {
			t.Errorf("frame %s (cross-origin=%t) max hidden gap = %s, want 1m", f.Frame, f.CrossOrigin, f.MaxHiddenGap)
		}
		if f.HiddenRuns == 0 || f.Runs <= f.HiddenRuns {
			t.Errorf("frame %s runs = %d, hidden runs = %d", f.Frame, f.Runs, f.HiddenRuns)
		}
	}
	if !report.Frames[1].CrossOrigin {
		t.Error("second frame is not cross-origin")
	}

	for _, pool := range []string{"baseline", "intensive_same_origin", "intensive_cross_origin"} {
		if report.WakeUps[pool] == 0 {
			t.Errorf("wake-ups[%s] = 0, want > 0 (all: %v)", pool, report.WakeUps)
		}
	}
	if report.Stats.Pages != 1 || report.Stats.Frames != 2 {
		t.Errorf("stats = %+v", report.Stats)
	}
}

func TestScenario_IntensiveThrottlingDisabled(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Scenario)
	}{
		{"websocket opt-out", func(sc *Scenario) { sc.OptOut = true }},
		{"force-disable policy", func(sc *Scenario) { sc.Policy = core.IntensiveThrottlingPolicyForceDisable }},
		{"experiment off", func(sc *Scenario) { sc.Settings.IntensiveWakeUpThrottling = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := backgroundTab()
			tt.modify(&sc)

			report, err := sc.Run()
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			for _, f := range report.Frames {
				if f.MaxHiddenGap != time.Second {
					t.Errorf("frame %s max hidden gap = %s, want 1s", f.Frame, f.MaxHiddenGap)
				}
			}
			if n := report.WakeUps["intensive_same_origin"] + report.WakeUps["intensive_cross_origin"]; n != 0 {
				t.Errorf("intensive wake-ups = %v, want 0", n)
			}
		})
	}
}

func TestScenario_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Scenario)
	}{
		{"negative subframes", func(sc *Scenario) { sc.Subframes = -1 }},
		{"zero timer", func(sc *Scenario) { sc.TimerInterval = 0 }},
		{"hide after duration", func(sc *Scenario) { sc.HideAfter = sc.Duration + time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := backgroundTab()
			tt.modify(&sc)
			if _, err := sc.Run(); err == nil {
				t.Fatal("Run() error = nil")
			}
		})
	}
}

func TestWriteReport(t *testing.T) {
	sc := backgroundTab()
	report := &Report{
		Frames: []FrameReport{
			{Frame: "frame-1", Runs: 30, HiddenRuns: 10, FirstRun: 100 * time.Millisecond, LastRun: 9 * time.Minute, MaxHiddenGap: time.Minute},
		},
		WakeUps: map[string]float64{"intensive_same_origin": 4, "baseline": 290},
	}

	var buf bytes.Buffer
	if err := writeReport(&buf, sc, report); err != nil {
		t.Fatalf("writeReport() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"MAX HIDDEN GAP", "frame-1", "1m0s", "baseline", "290"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "baseline") > strings.Index(out, "intensive_same_origin") {
		t.Errorf("wake-up pools not sorted:\n%s", out)
	}
}

func TestInitCmd_WritesLoadableConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "pagesched.yaml")
	prev := cfgFile
	cfgFile = dest
	t.Cleanup(func() { cfgFile = prev })

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init error = %v", err)
	}

	cfg, err := config.Load(dest, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Settings.IntensiveWakeUpInterval != time.Minute {
		t.Fatalf("loaded intensive interval = %s", cfg.Settings.IntensiveWakeUpInterval)
	}

	again := newInitCmd()
	again.SetOut(&bytes.Buffer{})
	again.SetErr(&bytes.Buffer{})
	again.SetArgs([]string{})
	if err := again.Execute(); err == nil {
		t.Fatal("second init without --force succeeded")
	}

	force := newInitCmd()
	force.SetOut(&bytes.Buffer{})
	force.SetArgs([]string{"--force"})
	if err := force.Execute(); err != nil {
		t.Fatalf("init --force error = %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatal(err)
	}
}
