// Package debugserver exposes a running scheduler over HTTP: Prometheus
// metrics, scheduler stats and a small page-control API for experiments.
package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pagescheduler "github.com/Swind/go-page-scheduler"
	"github.com/Swind/go-page-scheduler/core"
)

const (
	callTimeout          = 5 * time.Second
	defaultTimerInterval = time.Second
	defaultRecentTasks   = 20
)

var errPageNotFound = errors.New("page not found")

// PageInfo is the JSON view of a page.
type PageInfo struct {
	ID                  core.PageID `json:"id"`
	Visible             bool        `json:"visible"`
	Frozen              bool        `json:"frozen"`
	AudioPlaying        bool        `json:"audio_playing"`
	KeepActive          bool        `json:"keep_active"`
	State               string      `json:"state"`
	Frames              int         `json:"frames"`
	HasThrottlingOptOut bool        `json:"has_throttling_opt_out"`
}

// Server holds the handlers. Page state is only touched on the main thread.
type Server struct {
	mt       *pagescheduler.MainThread
	gatherer prom.Gatherer
	logger   *slog.Logger
}

// NewRouter returns the chi router serving mt.
func NewRouter(mt *pagescheduler.MainThread, gatherer prom.Gatherer, logger *slog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prom.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{mt: mt, gatherer: gatherer, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(logger))
	r.Use(MaxBodySize(1 << 16))

	r.Get("/healthz", s.Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/debug", func(r chi.Router) {
		r.Get("/stats", s.Stats)
		r.Get("/tasks", s.RecentTasks)
		r.Get("/frames/{id}/summary", s.FrameSummary)
		r.Put("/policy", s.SetPolicy)
		r.Route("/pages", func(r chi.Router) {
			r.Get("/", s.ListPages)
			r.Post("/", s.CreatePage)
			r.Put("/{id}/visibility", s.SetVisibility)
			r.Put("/{id}/frozen", s.SetFrozen)
			r.Put("/{id}/audio", s.SetAudio)
			r.Put("/{id}/keep-active", s.SetKeepActive)
			r.Delete("/{id}", s.DeletePage)
		})
	})
	return r
}

// Healthz handles GET /healthz.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	if s.mt.Scheduler().IsShutdown() {
		writeError(w, http.StatusServiceUnavailable, "scheduler is shut down")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Stats handles GET /debug/stats.
func (s *Server) Stats(w http.ResponseWriter, _ *http.Request) {
	st := s.mt.Scheduler().Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"pages":            st.Pages,
		"frames":           st.Frames,
		"queues":           st.Queues,
		"ready_tasks":      st.ReadyTasks,
		"delayed_tasks":    st.DelayedTasks,
		"throttled_queues": st.ThrottledQueues,
		"disabled_queues":  st.DisabledQueues,
		"tasks_run":        st.TasksRun,
		"panics":           st.Panics,
		"policy":           st.Policy.String(),
		"page_states":      st.PageStates,
		"captured_at":      st.CapturedAt,
	})
}

// RecentTasks handles GET /debug/tasks?limit=N&frame=ID.
func (s *Server) RecentTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentTasks
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var records []core.TaskExecutionRecord
	if frame := r.URL.Query().Get("frame"); frame != "" {
		records = s.mt.Scheduler().RecentFrameTasks(core.FrameID(frame), limit)
	} else {
		records = s.mt.Scheduler().RecentTasks(limit)
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"name":        rec.Name,
			"queue":       rec.QueueName,
			"queue_id":    rec.QueueID,
			"frame_id":    rec.FrameID,
			"priority":    rec.Priority.String(),
			"delay_ms":    rec.Delay().Milliseconds(),
			"duration_ms": rec.Duration.Milliseconds(),
			"panicked":    rec.Panicked,
			"desired_at":  rec.Desired,
			"started_at":  rec.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// FrameSummary handles GET /debug/frames/{id}/summary. It reads the
// retained history only, so a frame with no recorded tasks reports zeros.
func (s *Server) FrameSummary(w http.ResponseWriter, r *http.Request) {
	sum := s.mt.Scheduler().FrameTaskSummary(core.FrameID(chi.URLParam(r, "id")))
	writeJSON(w, http.StatusOK, map[string]any{
		"frame_id":          sum.FrameID,
		"tasks":             sum.Tasks,
		"panicked":          sum.Panicked,
		"mean_delay_ms":     sum.MeanDelay().Milliseconds(),
		"max_delay_ms":      sum.MaxDelay.Milliseconds(),
		"total_duration_ms": sum.TotalDuration.Milliseconds(),
	})
}

// SetPolicy handles PUT /debug/policy with {"policy": "force-enable"}.
func (s *Server) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Policy string `json:"policy"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	policy, err := core.ParseIntensiveThrottlingPolicy(req.Policy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, err = s.call(r.Context(), func(sched *core.MainThreadScheduler) (any, error) {
		sched.SetIntensiveWakeUpThrottlingPolicy(policy)
		return nil, nil
	})
	if err != nil {
		s.writeCallError(w, err)
		return
	}
	s.logger.Info("intensive throttling policy changed", slog.String("policy", policy.String()))
	writeJSON(w, http.StatusOK, map[string]string{"policy": policy.String()})
}

// ListPages handles GET /debug/pages.
func (s *Server) ListPages(w http.ResponseWriter, r *http.Request) {
	v, err := s.call(r.Context(), func(sched *core.MainThreadScheduler) (any, error) {
		pages := sched.Pages()
		out := make([]PageInfo, 0, len(pages))
		for _, p := range pages {
			out = append(out, pageInfo(p))
		}
		return out, nil
	})
	if err != nil {
		s.writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CreatePage handles POST /debug/pages?timer_interval=1s. The page gets a
// main frame running a repeating JavaScript timer, so throttling shows up in
// the wake-up metrics once the page is hidden.
func (s *Server) CreatePage(w http.ResponseWriter, r *http.Request) {
	interval := defaultTimerInterval
	if v := r.URL.Query().Get("timer_interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "timer_interval must be a positive duration")
			return
		}
		interval = d
	}

	v, err := s.call(r.Context(), func(sched *core.MainThreadScheduler) (any, error) {
		page := sched.NewPage()
		frame := page.CreateFrameScheduler(nil, core.FrameTypeMainFrame)
		startRepeatingTimer(frame.JavaScriptTimerTaskQueue(), interval)
		return pageInfo(page), nil
	})
	if err != nil {
		s.writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// SetVisibility handles PUT /debug/pages/{id}/visibility with {"visible": bool}.
func (s *Server) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible bool `json:"visible"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.updatePage(w, r, func(p *core.PageScheduler) { p.SetPageVisible(req.Visible) })
}

// SetFrozen handles PUT /debug/pages/{id}/frozen with {"frozen": bool}.
func (s *Server) SetFrozen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frozen bool `json:"frozen"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.updatePage(w, r, func(p *core.PageScheduler) { p.SetPageFrozen(req.Frozen) })
}

// SetAudio handles PUT /debug/pages/{id}/audio with {"playing": bool}.
func (s *Server) SetAudio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Playing bool `json:"playing"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.updatePage(w, r, func(p *core.PageScheduler) { p.SetAudioPlaying(req.Playing) })
}

// SetKeepActive handles PUT /debug/pages/{id}/keep-active with {"keep_active": bool}.
func (s *Server) SetKeepActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeepActive bool `json:"keep_active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.updatePage(w, r, func(p *core.PageScheduler) { p.SetKeepActive(req.KeepActive) })
}

// DeletePage handles DELETE /debug/pages/{id}.
func (s *Server) DeletePage(w http.ResponseWriter, r *http.Request) {
	id := core.PageID(chi.URLParam(r, "id"))
	_, err := s.call(r.Context(), func(sched *core.MainThreadScheduler) (any, error) {
		p := findPage(sched, id)
		if p == nil {
			return nil, errPageNotFound
		}
		p.Detach()
		return nil, nil
	})
	if err != nil {
		s.writeCallError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updatePage(w http.ResponseWriter, r *http.Request, update func(*core.PageScheduler)) {
	id := core.PageID(chi.URLParam(r, "id"))
	v, err := s.call(r.Context(), func(sched *core.MainThreadScheduler) (any, error) {
		p := findPage(sched, id)
		if p == nil {
			return nil, errPageNotFound
		}
		update(p)
		return pageInfo(p), nil
	})
	if err != nil {
		s.writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type callResult struct {
	v   any
	err error
}

func (s *Server) call(ctx context.Context, fn func(*core.MainThreadScheduler) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	res, err := pagescheduler.Call(ctx, s.mt, func(sched *core.MainThreadScheduler) callResult {
		v, err := fn(sched)
		return callResult{v: v, err: err}
	})
	if err != nil {
		return nil, err
	}
	return res.v, res.err
}

func (s *Server) writeCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errPageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrSchedulerShutdown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "main thread did not respond")
	default:
		s.logger.Error("main thread call failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func findPage(s *core.MainThreadScheduler, id core.PageID) *core.PageScheduler {
	for _, p := range s.Pages() {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

func pageInfo(p *core.PageScheduler) PageInfo {
	return PageInfo{
		ID:                  p.ID(),
		Visible:             p.IsPageVisible(),
		Frozen:              p.IsFrozen(),
		AudioPlaying:        p.IsAudioPlaying(),
		KeepActive:          p.IsKeepActive(),
		State:               p.LifecycleState().String(),
		Frames:              len(p.Frames()),
		HasThrottlingOptOut: p.HasThrottlingOptOut(),
	}
}

// startRepeatingTimer reposts itself every interval until its queue detaches.
func startRepeatingTimer(q *core.TaskQueue, interval time.Duration) {
	var tick core.Task
	tick = func(context.Context) {
		q.PostDelayedNamedTask("demo-timer", tick, interval)
	}
	q.PostDelayedNamedTask("demo-timer", tick, interval)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
