package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-page-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("pagescheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskDuration("timer", core.TaskPriorityNormal, 250*time.Millisecond)
	exporter.RecordTaskPanic("timer", "panic")
	exporter.RecordQueueDepth("timer", 7)
	exporter.RecordTaskRejected("timer", "detached")
	exporter.RecordWakeUp("intensive_same_origin")
	exporter.RecordWakeUp("intensive_same_origin")
	exporter.RecordLifecycleTransition(core.LifecycleStateHidden)

	panicTotal := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("timer"))
	if panicTotal != 1 {
		t.Fatalf("panic total = %v, want 1", panicTotal)
	}

	queueDepth := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("timer"))
	if queueDepth != 7 {
		t.Fatalf("queue depth = %v, want 7", queueDepth)
	}

	rejected := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("timer", "detached"))
	if rejected != 1 {
		t.Fatalf("rejected total = %v, want 1", rejected)
	}

	wakeUps := testutil.ToFloat64(exporter.wakeUpTotal.WithLabelValues("intensive_same_origin"))
	if wakeUps != 2 {
		t.Fatalf("wake-ups = %v, want 2", wakeUps)
	}

	hidden := testutil.ToFloat64(exporter.lifecycleTransitions.WithLabelValues("hidden"))
	if hidden != 1 {
		t.Fatalf("hidden transitions = %v, want 1", hidden)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("timer", "normal"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_EmptyLabels(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskRejected("", "")
	exporter.RecordWakeUp("")
	if got := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("unknown", "unknown")); got != 1 {
		t.Fatalf("rejected total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.wakeUpTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("wake-ups = %v, want 1", got)
	}

	var nilExporter *MetricsExporter
	nilExporter.RecordWakeUp("baseline")
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("pagescheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("pagescheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordTaskPanic("timer", nil)
	second.RecordTaskPanic("timer", nil)

	got := testutil.ToFloat64(first.taskPanicTotal.WithLabelValues("timer"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

// TestMetricsExporter_WiredIntoScheduler verifies the exporter receives
// scheduler events
// Given: A scheduler on a simulated clock using the exporter
// When: A page is hidden and a posted task runs
// Then: The duration histogram and the transition counter are updated
func TestMetricsExporter_WiredIntoScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("pagescheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	cfg := core.DefaultSchedulerConfig()
	cfg.Clock = core.NewSimulatedClock(time.Unix(1000, 0))
	cfg.Metrics = exporter
	s := core.NewMainThreadScheduler(cfg)
	defer s.Shutdown()
	page := s.NewPage()
	frame := page.CreateFrameScheduler(nil, core.FrameTypeMainFrame)

	page.SetPageVisible(false)
	frame.LoadingTaskQueue().PostTask(func(context.Context) {})
	s.RunUntilIdle()

	if got := testutil.ToFloat64(exporter.lifecycleTransitions.WithLabelValues("hidden")); got != 1 {
		t.Fatalf("hidden transitions = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(exporter.taskDurationSeconds); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
