package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pagescheduler "github.com/Swind/go-page-scheduler"
	"github.com/Swind/go-page-scheduler/core"
	"github.com/Swind/go-page-scheduler/internal/debugserver"
	schedprom "github.com/Swind/go-page-scheduler/observability/prometheus"
	"github.com/Swind/go-page-scheduler/observability/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a real-time scheduler behind the debug HTTP API",
	RunE:  runServe,
}

func init() {
	fs := serveCmd.Flags()
	fs.String("metrics-addr", ":9090", "address of the metrics and debug HTTP server")
	fs.Duration("stats-interval", 5*time.Second, "how often scheduler stats are exported as gauges")
	fs.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("metrics_addr", fs, "metrics-addr")
	bindFlag("stats_interval", fs, "stats-interval")
	bindFlag("otel_endpoint", fs, "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	instanceID := "main-" + uuid.New().String()[:8]
	logger = logger.With(slog.String("instance", instanceID))

	shutdownTracer, err := tracing.InitTracer(context.Background(), "pagesched", viper.GetString("otel_endpoint"))
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := schedprom.NewMetricsExporter("", reg, schedprom.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	schedCfg := core.DefaultSchedulerConfig()
	schedCfg.Settings = cfg.Settings
	schedCfg.IntensiveThrottlingPolicy = cfg.Policy
	schedCfg.Logger = core.NewSlogLogger(logger)
	schedCfg.Metrics = metrics
	schedCfg.TaskObserver = tracing.NewTaskTracer(nil, schedCfg.Clock)

	mt := pagescheduler.NewMainThread(instanceID, schedCfg)

	poller, err := schedprom.NewSnapshotPoller(reg, viper.GetDuration("stats_interval"))
	if err != nil {
		return fmt.Errorf("snapshot poller: %w", err)
	}
	poller.AddScheduler(instanceID, mt.Scheduler())

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	mt.Start(runCtx)
	poller.Start(runCtx)

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           debugserver.NewRouter(mt, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("scheduler started",
		slog.String("addr", cfg.MetricsAddr),
		slog.String("policy", cfg.Policy.String()),
		slog.Duration("throttled_wake_up_interval", cfg.Settings.ThrottledWakeUpInterval),
		slog.Duration("intensive_wake_up_interval", cfg.Settings.IntensiveWakeUpInterval),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.String("error", err.Error()))
	}
	poller.Stop()
	mt.Shutdown()
	logger.Info("stopped cleanly", slog.Uint64("tasks_run", mt.Scheduler().Stats().TasksRun))
	return runErr
}
