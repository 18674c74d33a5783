// Package config loads scheduler settings from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"

	"github.com/Swind/go-page-scheduler/core"
)

// File mirrors the YAML layout. Durations are Go duration strings.
type File struct {
	LogLevel                        string              `yaml:"log_level"`
	MetricsAddr                     string              `yaml:"metrics_addr"`
	IntensiveWakeUpThrottlingPolicy string              `yaml:"intensive_wake_up_throttling_policy"`
	Throttling                      ThrottlingFile      `yaml:"throttling"`
	Experiments                     ExperimentsFile     `yaml:"experiments"`
	ResourceLoading                 ResourceLoadingFile `yaml:"resource_loading"`
}

// ThrottlingFile is the throttling: section.
type ThrottlingFile struct {
	WakeUpInterval             string `yaml:"wake_up_interval"`
	DelayAfterHidden           string `yaml:"delay_after_hidden"`
	Intensive                  bool   `yaml:"intensive"`
	IntensiveGracePeriod       string `yaml:"intensive_grace_period"`
	IntensiveWakeUpInterval    string `yaml:"intensive_wake_up_interval"`
	IntensiveSignalResetWindow string `yaml:"intensive_signal_reset_window"`
	HiddenCrossOriginFrames    bool   `yaml:"hidden_cross_origin_frames"`
	StopNonTimersInBackground  bool   `yaml:"stop_non_timers_in_background"`
	TaskTimeReportThreshold    string `yaml:"task_time_report_threshold"`
}

type ExperimentsFile struct {
	HighPriorityDatabaseTaskType            bool `yaml:"high_priority_database_task_type"`
	LowPriorityForBackgroundPages           bool `yaml:"low_priority_for_background_pages"`
	BestEffortPriorityForBackgroundPages    bool `yaml:"best_effort_priority_for_background_pages"`
	LowPriorityForHiddenFrame               bool `yaml:"low_priority_for_hidden_frame"`
	LowPriorityForSubFrame                  bool `yaml:"low_priority_for_sub_frame"`
	LowPriorityForThrottleableTasks         bool `yaml:"low_priority_for_throttleable_tasks"`
	LowPriorityForSubFrameThrottleableTasks bool `yaml:"low_priority_for_sub_frame_throttleable_tasks"`
	FrameExperimentOnlyWhenLoading          bool `yaml:"frame_experiment_only_when_loading"`
	LowPriorityForAdFrame                   bool `yaml:"low_priority_for_ad_frame"`
	BestEffortPriorityForAdFrame            bool `yaml:"best_effort_priority_for_ad_frame"`
	AdFrameExperimentOnlyWhenLoading        bool `yaml:"ad_frame_experiment_only_when_loading"`
	LowPriorityForCrossOriginFrames         bool `yaml:"low_priority_for_cross_origin_frames"`
	CrossOriginExperimentOnlyWhenLoading    bool `yaml:"cross_origin_experiment_only_when_loading"`
}

type ResourceLoadingFile struct {
	UseFetchPriority                bool              `yaml:"use_fetch_priority"`
	UseFetchPriorityOnlyWhenLoading bool              `yaml:"use_fetch_priority_only_when_loading"`
	NetToTaskPriority               map[string]string `yaml:"net_to_task_priority"`
}

// Config is the typed result of Load.
type Config struct {
	LogLevel    string
	MetricsAddr string
	Policy      core.IntensiveThrottlingPolicy
	Settings    core.SchedulingSettings
}

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		LogLevel:    "info",
		MetricsAddr: ":9090",
		Policy:      core.IntensiveThrottlingPolicyDefault,
		Settings:    core.DefaultSchedulingSettings(),
	}
}

// Load reads path and overlays it on Default. An empty path returns the
// defaults. Invalid values fall back to their default with a Warn log.
func Load(path string, logger core.Logger) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Decode(data, logger)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML bytes the same way Load does.
func Decode(data []byte, logger core.Logger) (Config, error) {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	f := toFile(Default())
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return fromFile(f, logger), nil
}

// Marshal renders cfg as YAML that Decode reads back.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(toFile(cfg))
}

func fromFile(f File, logger core.Logger) Config {
	def := Default()
	cfg := Config{
		LogLevel:    strings.ToLower(strings.TrimSpace(f.LogLevel)),
		MetricsAddr: f.MetricsAddr,
		Settings:    def.Settings,
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		logger.Warn("config: unknown log level, using default",
			core.F("field", "log_level"), core.F("value", f.LogLevel))
		cfg.LogLevel = def.LogLevel
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = def.MetricsAddr
	}

	policy, err := core.ParseIntensiveThrottlingPolicy(f.IntensiveWakeUpThrottlingPolicy)
	if err != nil {
		logger.Warn("config: unknown policy, using default",
			core.F("field", "intensive_wake_up_throttling_policy"), core.F("error", err))
	}
	cfg.Policy = policy

	s := &cfg.Settings
	t := f.Throttling
	s.ThrottledWakeUpInterval = duration(logger, "throttling.wake_up_interval", t.WakeUpInterval, def.Settings.ThrottledWakeUpInterval, true)
	s.ThrottlingDelayAfterHidden = duration(logger, "throttling.delay_after_hidden", t.DelayAfterHidden, def.Settings.ThrottlingDelayAfterHidden, false)
	s.IntensiveWakeUpThrottling = t.Intensive
	s.IntensiveGracePeriod = duration(logger, "throttling.intensive_grace_period", t.IntensiveGracePeriod, def.Settings.IntensiveGracePeriod, true)
	s.IntensiveWakeUpInterval = duration(logger, "throttling.intensive_wake_up_interval", t.IntensiveWakeUpInterval, def.Settings.IntensiveWakeUpInterval, true)
	s.IntensiveSignalResetWindow = duration(logger, "throttling.intensive_signal_reset_window", t.IntensiveSignalResetWindow, def.Settings.IntensiveSignalResetWindow, false)
	s.ThrottleHiddenCrossOriginFrames = t.HiddenCrossOriginFrames
	s.StopNonTimersInBackground = t.StopNonTimersInBackground
	s.TaskTimeReportThreshold = duration(logger, "throttling.task_time_report_threshold", t.TaskTimeReportThreshold, def.Settings.TaskTimeReportThreshold, true)

	e := f.Experiments
	s.HighPriorityDatabaseTaskType = e.HighPriorityDatabaseTaskType
	s.LowPriorityForBackgroundPages = e.LowPriorityForBackgroundPages
	s.BestEffortPriorityForBackgroundPages = e.BestEffortPriorityForBackgroundPages
	s.LowPriorityForHiddenFrame = e.LowPriorityForHiddenFrame
	s.LowPriorityForSubFrame = e.LowPriorityForSubFrame
	s.LowPriorityForThrottleableTasks = e.LowPriorityForThrottleableTasks
	s.LowPriorityForSubFrameThrottleableTasks = e.LowPriorityForSubFrameThrottleableTasks
	s.FrameExperimentOnlyWhenLoading = e.FrameExperimentOnlyWhenLoading
	s.LowPriorityForAdFrame = e.LowPriorityForAdFrame
	s.BestEffortPriorityForAdFrame = e.BestEffortPriorityForAdFrame
	s.AdFrameExperimentOnlyWhenLoading = e.AdFrameExperimentOnlyWhenLoading
	s.LowPriorityForCrossOriginFrames = e.LowPriorityForCrossOriginFrames
	s.CrossOriginExperimentOnlyWhenLoading = e.CrossOriginExperimentOnlyWhenLoading

	r := f.ResourceLoading
	s.UseResourceFetchPriority = r.UseFetchPriority
	s.UseResourceFetchPriorityOnlyWhenLoading = r.UseFetchPriorityOnlyWhenLoading
	s.NetToTaskPriority = core.DefaultNetToTaskPriority()
	for netName, taskName := range r.NetToTaskPriority {
		net, ok := parseNetPriority(netName)
		if !ok {
			logger.Warn("config: unknown net priority, entry ignored",
				core.F("field", "resource_loading.net_to_task_priority"), core.F("value", netName))
			continue
		}
		prio, ok := parseTaskPriority(taskName)
		if !ok {
			logger.Warn("config: unknown task priority, entry ignored",
				core.F("field", "resource_loading.net_to_task_priority."+netName), core.F("value", taskName))
			continue
		}
		s.NetToTaskPriority[net] = prio
	}
	return cfg
}

func toFile(cfg Config) File {
	s := cfg.Settings
	remap := make(map[string]string, len(s.NetToTaskPriority))
	for net, prio := range s.NetToTaskPriority {
		remap[strings.ToLower(net.String())] = prio.String()
	}
	return File{
		LogLevel:                        cfg.LogLevel,
		MetricsAddr:                     cfg.MetricsAddr,
		IntensiveWakeUpThrottlingPolicy: cfg.Policy.String(),
		Throttling: ThrottlingFile{
			WakeUpInterval:             s.ThrottledWakeUpInterval.String(),
			DelayAfterHidden:           s.ThrottlingDelayAfterHidden.String(),
			Intensive:                  s.IntensiveWakeUpThrottling,
			IntensiveGracePeriod:       s.IntensiveGracePeriod.String(),
			IntensiveWakeUpInterval:    s.IntensiveWakeUpInterval.String(),
			IntensiveSignalResetWindow: s.IntensiveSignalResetWindow.String(),
			HiddenCrossOriginFrames:    s.ThrottleHiddenCrossOriginFrames,
			StopNonTimersInBackground:  s.StopNonTimersInBackground,
			TaskTimeReportThreshold:    s.TaskTimeReportThreshold.String(),
		},
		Experiments: ExperimentsFile{
			HighPriorityDatabaseTaskType:            s.HighPriorityDatabaseTaskType,
			LowPriorityForBackgroundPages:           s.LowPriorityForBackgroundPages,
			BestEffortPriorityForBackgroundPages:    s.BestEffortPriorityForBackgroundPages,
			LowPriorityForHiddenFrame:               s.LowPriorityForHiddenFrame,
			LowPriorityForSubFrame:                  s.LowPriorityForSubFrame,
			LowPriorityForThrottleableTasks:         s.LowPriorityForThrottleableTasks,
			LowPriorityForSubFrameThrottleableTasks: s.LowPriorityForSubFrameThrottleableTasks,
			FrameExperimentOnlyWhenLoading:          s.FrameExperimentOnlyWhenLoading,
			LowPriorityForAdFrame:                   s.LowPriorityForAdFrame,
			BestEffortPriorityForAdFrame:            s.BestEffortPriorityForAdFrame,
			AdFrameExperimentOnlyWhenLoading:        s.AdFrameExperimentOnlyWhenLoading,
			LowPriorityForCrossOriginFrames:         s.LowPriorityForCrossOriginFrames,
			CrossOriginExperimentOnlyWhenLoading:    s.CrossOriginExperimentOnlyWhenLoading,
		},
		ResourceLoading: ResourceLoadingFile{
			UseFetchPriority:                s.UseResourceFetchPriority,
			UseFetchPriorityOnlyWhenLoading: s.UseResourceFetchPriorityOnlyWhenLoading,
			NetToTaskPriority:               remap,
		},
	}
}

// duration parses v, falling back to def when v is malformed or out of range.
// Zero is accepted only when positive is false.
func duration(logger core.Logger, field, v string, def time.Duration, positive bool) time.Duration {
	if strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d < 0 || (positive && d == 0) {
		logger.Warn("config: invalid duration, using default",
			core.F("field", field), core.F("value", v), core.F("default", def))
		return def
	}
	return d
}

var netPriorities = []core.NetPriority{
	core.NetPriorityThrottled,
	core.NetPriorityIdle,
	core.NetPriorityLowest,
	core.NetPriorityLow,
	core.NetPriorityMedium,
	core.NetPriorityHighest,
}

var taskPriorities = []core.TaskPriority{
	core.TaskPriorityBestEffort,
	core.TaskPriorityLow,
	core.TaskPriorityNormal,
	core.TaskPriorityHigh,
	core.TaskPriorityVeryHigh,
}

func parseNetPriority(s string) (core.NetPriority, bool) {
	for _, p := range netPriorities {
		if strings.EqualFold(strings.TrimSpace(s), p.String()) {
			return p, true
		}
	}
	return 0, false
}

func parseTaskPriority(s string) (core.TaskPriority, bool) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, p := range taskPriorities {
		if s == p.String() {
			return p, true
		}
	}
	return 0, false
}
