package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/homie-hub/internal/audit"
	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/homie"
	"github.com/nerrad567/homie-hub/internal/infrastructure/config"
	"github.com/nerrad567/homie-hub/internal/infrastructure/logging"
	"github.com/nerrad567/homie-hub/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller applies changes requested through the API.
type Controller interface {
	HomieSettings() homie.Settings
	ApplyHomieSettings(ctx context.Context, s homie.Settings) (rebuilt bool, err error)
	SetDeviceEnabled(ctx context.Context, deviceID string, enabled bool) error
	Node(deviceID string) (homie.Node, bool)
	SystemState() state.SystemState
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Controller Controller

	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Registerer receives the request metrics. Without it requests are
	// only logged.
	Registerer prometheus.Registerer

	// Health maps a dependency name to its checker.
	Health map[string]HealthChecker

	// Changes records enablement and settings changes. Optional.
	Changes audit.Repository

	Version string
}

// Server is the HTTP API server of the hub.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	registry   *device.Registry
	controller Controller
	gatherer   prometheus.Gatherer
	metrics    *requestMetrics
	health     map[string]HealthChecker
	changes    audit.Repository
	version    string
	startTime  time.Time
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	var metrics *requestMetrics
	if deps.Registerer != nil {
		m, err := newRequestMetrics(deps.Registerer)
		if err != nil {
			return nil, fmt.Errorf("registering api metrics: %w", err)
		}
		metrics = m
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		registry:   deps.Registry,
		controller: deps.Controller,
		gatherer:   gatherer,
		metrics:    metrics,
		health:     deps.Health,
		changes:    deps.Changes,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
