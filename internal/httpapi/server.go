package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/authclient"
	"github.com/MrEthical07/mindgate/catalog"
	"github.com/MrEthical07/mindgate/guard"
	"github.com/MrEthical07/mindgate/internal/observability"
	"github.com/MrEthical07/mindgate/metrics/export/prometheus"
)

// devicesActiveName is the gauge exported for the registry size.
const (
	devicesActiveName = "mindgate_devices_active"
	devicesActiveHelp = "Devices with a live session holder."
)

// HealthChecker is implemented by *database.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds HTTP-level settings.
type Config struct {
	// PublicURL is the externally visible base URL, used for verification
	// links.
	PublicURL     string
	ReadyTimeout  time.Duration
	SecureCookies bool

	Client      authclient.Options
	AutoRefresh bool

	DeviceIdleTimeout time.Duration
	JanitorInterval   time.Duration
	MaxDevices        int

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
}

// Deps holds the dependencies required by the server.
type Deps struct {
	Config  Config
	Engine  *mindgate.Engine
	Catalog *catalog.Service
	Storage authclient.Storage
	Policy  guard.Policy
	Logger  *slog.Logger
	// DB is optional; when set it takes part in /healthz.
	DB HealthChecker
	// Meters is optional; when set /debug/metrics serves its points.
	Meters *observability.MetricsProvider
}

// Server is the HTTP surface. Create it with New.
type Server struct {
	cfg     Config
	engine  *mindgate.Engine
	catalog *catalog.Service
	policy  guard.Policy
	logger  *slog.Logger
	db      HealthChecker
	meters  *observability.MetricsProvider

	devices  *Registry
	exporter *prometheus.PrometheusExporter
	pages    *pageRenderer
	handler  http.Handler

	shuttingDown atomic.Bool

	connMu sync.Mutex
	conns  map[*eventConn]struct{}
}

// New creates a server. Nothing runs until Run is called.
func New(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("credential storage is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, err
	}

	cfg := deps.Config
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 3 * time.Second
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	pages, err := newPageRenderer()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		catalog: deps.Catalog,
		policy:  deps.Policy,
		logger:  deps.Logger.With("component", "httpapi"),
		db:      deps.DB,
		meters:  deps.Meters,
		pages:   pages,
		conns:   make(map[*eventConn]struct{}),
	}
	s.devices = NewRegistry(RegistryConfig{
		Backend:     deps.Engine,
		Storage:     deps.Storage,
		Client:      cfg.Client,
		AutoRefresh: cfg.AutoRefresh,
		RedirectURL: cfg.PublicURL + "/auth/callback",
		IdleTimeout: cfg.DeviceIdleTimeout,
		MaxDevices:  cfg.MaxDevices,
		Logger:      deps.Logger,
	})
	s.exporter = prometheus.NewPrometheusExporter(deps.Engine).
		WithGauge(devicesActiveName, devicesActiveHelp, s.DevicesActive)
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Devices exposes the device registry.
func (s *Server) Devices() *Registry {
	return s.devices
}

// DevicesActive is the current number of live devices.
func (s *Server) DevicesActive() uint64 {
	return uint64(s.devices.Len())
}

// Run sweeps idle devices until ctx is done. It always returns nil.
func (s *Server) Run(ctx context.Context) error {
	s.devices.RunJanitor(ctx, s.cfg.JanitorInterval)
	return nil
}

// BeginShutdown makes /healthz report 503 so load balancers drain.
func (s *Server) BeginShutdown() {
	s.shuttingDown.Store(true)
}

// Close disconnects websocket clients and releases every device.
func (s *Server) Close() {
	s.BeginShutdown()

	s.connMu.Lock()
	conns := make([]*eventConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()
	for _, c := range conns {
		c.close()
	}

	s.devices.Close()
}

// device resolves the request's device, creating it on first use.
func (s *Server) device(r *http.Request) (*Device, error) {
	id := deviceIDFromContext(r.Context())
	if id == "" {
		return nil, errors.New("request has no device id")
	}
	return s.devices.Get(id)
}

// handleHealth reports Redis and SQLite reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "shutting_down"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"redis": "ok", "database": "ok"}
	status := http.StatusOK
	if err := s.engine.Ping(ctx); err != nil {
		checks["redis"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  state,
		"checks":  checks,
		"devices": s.devices.Len(),
	})
}

func (s *Server) handleDebugMetrics(w http.ResponseWriter, r *http.Request) {
	points, err := s.meters.Points(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}
