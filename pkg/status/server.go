// Package status serves the pipeline state over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MrCodeEU/facerange/pkg/logging"
	"github.com/MrCodeEU/facerange/pkg/pipeline"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Provider exposes the pipeline state.
type Provider interface {
	Snapshot() pipeline.Snapshot
	Subscribe() <-chan pipeline.Status
	Unsubscribe(ch <-chan pipeline.Status)
}

// Server is the status HTTP server.
type Server struct {
	provider   Provider
	router     *chi.Mux
	httpServer *http.Server
	log        *logrus.Entry

	// closed on shutdown so event streams end without waiting on the provider
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, provider Provider) *Server {
	r := chi.NewRouter()
	s := &Server{
		provider: provider,
		router:   r,
		log:      logging.Component("status"),
		shutdown: make(chan struct{}),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.httpServer.RegisterOnShutdown(func() {
		s.shutdownOnce.Do(func() { close(s.shutdown) })
	})
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("Status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.provider.Snapshot()
	body := map[string]string{"state": snap.State.String()}
	if snap.Error != "" {
		body["error"] = snap.Error
	}
	if snap.State != pipeline.Running {
		respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.provider.Snapshot())
}

type event struct {
	State   pipeline.State `json:"state"`
	Loading bool           `json:"loading"`
	Error   string         `json:"error,omitempty"`
	At      time.Time      `json:"at"`
}

// handleEvents streams status changes as server-sent events until the
// client leaves, the pipeline stops or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.provider.Subscribe()
	defer s.provider.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.shutdown:
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			ev := event{State: st.State, Loading: st.Loading(), At: st.At}
			if st.Err != nil {
				ev.Error = st.Err.Error()
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			_, _ = fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logging.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).Round(time.Microsecond),
			"request_id": chiMiddleware.GetReqID(r.Context()),
		}).Debug("Request served")
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
