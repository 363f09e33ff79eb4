// Package web exposes the highlight service over HTTP: batch highlighting,
// theme colors, catalog listings, markdown rendering, cache control, and a
// live event feed over WebSocket and server-sent events.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/snipdeck/internal/cache"
	"github.com/asheshgoplani/snipdeck/internal/engine"
	"github.com/asheshgoplani/snipdeck/internal/eventbus"
	"github.com/asheshgoplani/snipdeck/internal/logging"
	"github.com/asheshgoplani/snipdeck/internal/registry"
)

// Highlighter is the subset of highlight.Service used by the server.
type Highlighter interface {
	Highlight(ctx context.Context, code, language, theme string) string
	ThemeColors(ctx context.Context, theme string) engine.Colors
	SearchLanguages(query string) []registry.Entry
	SearchThemes(query string) []registry.Entry
	CacheStats() cache.Stats
	ClearCache()
}

// Config configures a Server.
type Config struct {
	ListenAddr string
	// Token, when set, must be presented as a bearer token or ?token=.
	Token string
	// RateLimit is the sustained request rate allowed on /api/, per second.
	// Zero or less disables limiting.
	RateLimit float64
	RateBurst int
	Version   string

	Highlighter Highlighter
	EventBus    *eventbus.EventBus
	// Metrics serves /metrics. Defaults to the default Prometheus registry.
	Metrics http.Handler
}

// Server is the HTTP front end.
type Server struct {
	cfg      Config
	svc      Highlighter
	eventBus *eventbus.EventBus
	eventHub *eventbus.Hub
	limiter  *rate.Limiter
	metrics  http.Handler
	log      *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// NewServer builds a server. It does not listen until Start.
func NewServer(cfg Config) *Server {
	bus := cfg.EventBus
	if bus == nil {
		bus = eventbus.New()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		svc:        cfg.Highlighter,
		eventBus:   bus,
		eventHub:   eventbus.NewHub(bus),
		metrics:    cfg.Metrics,
		log:        logging.ForComponent(logging.CompWeb),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	if s.metrics == nil {
		s.metrics = promhttp.Handler()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = int(cfg.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/highlight", s.handleHighlight)
	api.HandleFunc("/api/theme-colors", s.handleThemeColors)
	api.HandleFunc("/api/languages", s.handleLanguages)
	api.HandleFunc("/api/themes", s.handleThemes)
	api.HandleFunc("/api/markdown", s.handleMarkdown)
	api.HandleFunc("/api/cache/stats", s.handleCacheStats)
	api.HandleFunc("/api/cache", s.handleCache)
	api.HandleFunc("/api/events", s.handleEventStream)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.metrics)
	mux.HandleFunc("/ws/events", s.handleEventBusWS)
	mux.Handle("/api/", s.rateLimited(api))
	return s.recoverPanics(mux)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.cfg.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("server_listening", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server_failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections, ends long-lived streams, and waits
// for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	s.eventHub.Close()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	s.log.Info("server_stopped")
	return nil
}

// authorizeRequest accepts any request when no token is configured.
func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			got = strings.TrimSpace(value)
		}
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) == 1
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("handler_panic",
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprint(rec)))
				writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
