package httpserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"burnpaste/internal/paste"
	"burnpaste/internal/storage"
)

// TestNowHeader carries an epoch-millisecond timestamp that replaces the
// clock for paste reads when AllowClockOverride is set.
const TestNowHeader = "X-Test-Now-Ms"

// Config captures server configuration.
type Config struct {
	Service *paste.Service
	// Store backs the readiness probe.
	Store              storage.Store
	BaseURL            string
	TrustProxy         bool
	AllowClockOverride bool
	Logger             *slog.Logger
	// Registry receives the server's metrics. A fresh registry is created when nil.
	Registry *prometheus.Registry
}

// Server wraps HTTP handling logic.
type Server struct {
	service       *paste.Service
	store         storage.Store
	router        chi.Router
	trustProxy    bool
	clockOverride bool
	baseURL       *url.URL
	logger        *slog.Logger
	registry      *prometheus.Registry
	metrics       *metrics
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("paste service required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		var err error
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	reg := cfg.Registry
	if reg == nil {
		reg = newRegistry()
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if cfg.AllowClockOverride {
		cfg.Logger.Warn("clock override enabled; reads honor the " + TestNowHeader + " header")
	}

	srv := &Server{
		service:       cfg.Service,
		store:         cfg.Store,
		router:        chi.NewRouter(),
		trustProxy:    cfg.TrustProxy,
		clockOverride: cfg.AllowClockOverride,
		baseURL:       parsedBase,
		logger:        cfg.Logger,
		registry:      reg,
		metrics:       m,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(s.metrics.instrument)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	r.Route("/api", func(ar chi.Router) {
		ar.Get("/healthz", s.handleHealth)
		ar.Get("/readyz", s.handleReady)
		ar.Post("/pastes", s.handleCreate)
		ar.With(noStore).Get("/pastes/{id}", s.handleGet)
	})

	r.Route("/p/{id}", func(pr chi.Router) {
		pr.Use(noStore)
		pr.Get("/", s.handleView)
		pr.Get("/qr", s.handleQR)
	})
}

// shareURL builds the public link for a paste. A configured base URL wins;
// otherwise the request's scheme and Host are used.
func (s *Server) shareURL(r *http.Request, id string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		u.Path = strings.TrimSuffix(u.Path, "/") + "/p/" + id
		return u.String()
	}

	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s/p/%s", requestScheme(r), host, id)
}

// readTime returns the instant a read should be evaluated at and whether it
// came from the override header.
func (s *Server) readTime(r *http.Request) (time.Time, bool) {
	if !s.clockOverride {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(r.Header.Get(TestNowHeader))
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Debug("ignoring malformed clock override", "value", raw)
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
