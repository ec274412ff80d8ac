// Package api serves a recorded session to remote viewers over HTTP and
// WebSocket. Each /session connection gets its own playback engine over the
// shared byte source, so viewers play, pause, and seek independently.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/guacplay/guacplay/internal/blob"
	"github.com/guacplay/guacplay/internal/config"
	"github.com/guacplay/guacplay/internal/display"
	"github.com/guacplay/guacplay/internal/logging"
	"github.com/guacplay/guacplay/internal/metrics"
	"github.com/guacplay/guacplay/internal/player"
)

// Server is the playback HTTP/WebSocket server for one recording.
type Server struct {
	cfg       config.ServerConfig
	src       blob.Source
	name      string
	collector *metrics.Collector
	prom      *metrics.PrometheusCollector

	// probe is a session over a private in-memory display, used only for
	// /status.
	probe *player.SessionRecording

	httpServer *http.Server
	listener   net.Listener
	sessions   atomic.Int64

	// Per-IP session admission limiters
	rateLimiters sync.Map

	upgrader websocket.Upgrader
}

// NewServer creates a playback server over src.
func NewServer(cfg config.ServerConfig, src blob.Source, name string, collector *metrics.Collector) (*Server, error) {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	s := &Server{
		cfg:       cfg,
		src:       src,
		name:      name,
		collector: collector,
		prom:      metrics.NewPrometheusCollector(collector),
	}

	probe, err := player.New(src, display.NewMemory(), player.Options{Name: name})
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	s.probe = probe

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Handler returns the HTTP router, for embedding and tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", s.prom.Handler())
	mux.HandleFunc("/session", s.handleSession)
	return mux
}

// Start begins listening. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("playback server failed",
				logging.Err(err),
				logging.Component("api"))
		}
	}()

	logging.Info("playback server listening",
		"addr", ln.Addr().String(),
		logging.Recording(s.name),
		logging.Component("api"))
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server and the status probe.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.probe.Close()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.probe.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"recording": st.Recording,
		"name":      s.name,
		"sessions":  s.sessions.Load(),
	})
}

// checkOrigin enforces the configured origin allowlist. An empty list
// admits only same-host origins; "*" admits anything.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// allowSession rate-limits session admission per remote IP.
func (s *Server) allowSession(remoteAddr string) bool {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	limit := rate.Limit(float64(s.cfg.RateLimitRequests) / float64(s.cfg.RateLimitWindowSecs))
	v, _ := s.rateLimiters.LoadOrStore(ip, rate.NewLimiter(limit, s.cfg.RateLimitRequests))
	return v.(*rate.Limiter).Allow()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug("write response failed",
			logging.Err(err),
			logging.Component("api"))
	}
}
