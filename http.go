package lookout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// cronSecretHeader carries the shared secret that authorizes a poll trigger.
const cronSecretHeader = "x-cron-secret"

// Server exposes the poll trigger and the read endpoints over HTTP.
type Server struct {
	cfg        Config
	store      *Store
	poller     *Poller
	httpServer *http.Server
}

func NewServer(cfg Config, store *Store, poller *Poller) *Server {
	return &Server{cfg: cfg, store: store, poller: poller}
}

// responseLogger wraps ResponseWriter to capture status code
type responseLogger struct {
	http.ResponseWriter
	status int
}

func (rl *responseLogger) WriteHeader(code int) {
	rl.status = code
	rl.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware wraps an http.HandlerFunc with request/response logging
func (s *Server) loggingMiddleware(path string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseLogger{ResponseWriter: w, status: 200}
		start := time.Now()
		handler(wrapped, r)
		logrus.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   path,
			"status": wrapped.status,
			"ms":     time.Since(start).Milliseconds(),
		}).Debug("http request")
	}
}

func (s *Server) Start(httpAddr string) error {
	listenInterface := httpAddr
	if listenInterface == "" {
		listenInterface = ":8080"
	}

	listener, err := net.Listen("tcp", listenInterface)
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	logrus.Printf("Listening for HTTP on port %d", port)

	s.httpServer = &http.Server{
		Handler: s.createHTTPMux(),
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("HTTP server error")
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) createHTTPMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cron/poll", s.loggingMiddleware("/api/cron/poll", s.pollHandler))
	mux.HandleFunc("/api/status", s.loggingMiddleware("/api/status", s.statusHandler))
	mux.HandleFunc("/healthz", s.loggingMiddleware("/healthz", s.healthzHandler))
	mux.HandleFunc("/ping", s.pingHandler) // No logging - latency critical
	return mux
}

// pollHandler runs one reconciliation cycle. Authorization is checked
// before any work begins; configuration gaps are the operator's problem
// and reported as 500, never treated as an empty upstream.
func (s *Server) pollHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.CronSecret == "" {
		http.Error(w, "Missing CRON_SECRET", http.StatusInternalServerError)
		return
	}
	if r.Header.Get(cronSecretHeader) != s.cfg.CronSecret {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.StatusAPIURL == "" {
		http.Error(w, "Missing STATUS_API_URL", http.StatusInternalServerError)
		return
	}

	report, err := s.poller.RunCycle(r.Context())
	if err != nil {
		if errors.Is(err, ErrUpstream) || errors.Is(err, ErrBadPayload) {
			logrus.WithError(err).Warn("poll cycle failed before persisting")
			http.Error(w, "Status API error", http.StatusBadGateway)
		} else {
			logrus.WithError(err).Error("poll cycle failed while persisting")
			http.Error(w, "poll failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, map[string]interface{}{
		"ok":          true,
		"now":         report.Now,
		"onlineCount": report.OnlineCount,
		"joined":      report.Joined,
		"left":        report.Left,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	report, err := BuildStatusReport(r.Context(), s.store)
	if err != nil {
		logrus.WithError(err).Error("failed to build status report")
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	stats := ReadHostStats()
	var lastPoll int64
	if status, err := s.store.ServerStatus(r.Context()); err == nil && status != nil {
		lastPoll = status.LastPoll
	}
	writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime":   stats.Uptime,
		"loadAvg":  stats.LoadAvg,
		"lastPoll": lastPoll,
	})
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "pong")
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}
