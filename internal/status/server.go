// Package status serves the health of a subscriber and the state of its jobs
// over HTTP.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/casualjim/shuttle"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
)

const shutdownTimeout = 5 * time.Second

// Source is what the status server reports on. *shuttle.Subscriber implements it.
type Source interface {
	Started() bool
	Connectors() []*shuttle.DataConnector
	State(jobID string) (shuttle.JobState, bool)
}

// Health is the body of GET /healthz.
type Health struct {
	Status     string            `json:"status"`
	Started    bool              `json:"started"`
	Connectors []ConnectorHealth `json:"connectors"`
}

// ConnectorHealth reports one data connector.
type ConnectorHealth struct {
	Name      string `json:"name"`
	Event     string `json:"event"`
	Connected bool   `json:"connected"`
}

// JobStatus is the body of GET /jobs/{id}.
type JobStatus struct {
	ID    string           `json:"id"`
	State shuttle.JobState `json:"state"`
}

// Server is the status HTTP server.
type Server struct {
	addr   string
	source Source
	router *chi.Mux
	log    *slog.Logger
}

// New creates a server for src listening on addr.
func New(addr string, src Source) *Server {
	s := &Server{
		addr:   addr,
		source: src,
		router: chi.NewRouter(),
		log:    slog.Default().With(slogx.LoggerName("shuttle.status")),
	}
	s.router.Use(middleware.RequestID, middleware.Recoverer, s.logRequests)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/jobs/{id}", s.handleJob)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done and then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", slog.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "ok", Started: s.source.Started()}
	for _, c := range s.source.Connectors() {
		connected := c.Client().IsConnected()
		h.Connectors = append(h.Connectors, ConnectorHealth{Name: c.Name(), Event: c.Event(), Connected: connected})
		if !connected {
			h.Status = "degraded"
		}
	}
	if !h.Started {
		h.Status = "stopped"
	}

	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, h)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, ok := s.source.State(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found", "id": id})
		return
	}
	s.writeJSON(w, http.StatusOK, JobStatus{ID: id, State: state})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", slogx.Error(err))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
