// Package httpserver exposes the process over HTTP for operators:
// Prometheus metrics, a health probe, the scheduler's job table, recent
// run history and optionally pprof.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wikicron/internal/runtime/supervisor"
	"wikicron/internal/services/scheduler"
	"wikicron/internal/storage"
	logx "wikicron/pkg/logx"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Sources are the read-only views the server renders. Nil fields disable
// the matching endpoint (it answers 404).
type Sources struct {
	Registry *prometheus.Registry
	Tasks    func() []supervisor.TaskStatus
	Healthy  func() error
	Jobs     func() []scheduler.JobInfo
	History  func(ctx context.Context, limit int) ([]storage.RunRecord, error)
	// Profiling mounts the runtime profiler under /debug/pprof.
	Profiling bool
}

type Server struct {
	addr string
	src  Sources
	log  logx.Logger

	mu sync.Mutex
	ln net.Listener
}

func New(addr string, src Sources, log logx.Logger) *Server {
	return &Server{addr: addr, src: src, log: log.With(logx.String("comp", "httpserver"))}
}

// Handler is the routed mux; tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.healthz)
	if s.src.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.src.Registry, promhttp.HandlerOpts{}))
	}
	if s.src.Jobs != nil {
		r.Get("/jobs", s.jobs)
	}
	if s.src.History != nil {
		r.Get("/history", s.history)
	}
	if s.src.Profiling {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Addr is the bound address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run serves until ctx ends, then shuts down with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("http server stopped")
	return nil
}

type healthBody struct {
	Status string                  `json:"status"`
	Error  string                  `json:"error,omitempty"`
	Tasks  []supervisor.TaskStatus `json:"tasks,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok"}
	code := http.StatusOK
	if s.src.Healthy != nil {
		if err := s.src.Healthy(); err != nil {
			body.Status = "degraded"
			body.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if s.src.Tasks != nil {
		body.Tasks = s.src.Tasks()
	}
	writeJSON(w, code, body)
}

func (s *Server) jobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.src.Jobs()
	if jobs == nil {
		jobs = []scheduler.JobInfo{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	runs, err := s.src.History(r.Context(), limit)
	if err != nil {
		s.log.Warn("history query failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
