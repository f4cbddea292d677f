// Package api provides the local HTTP control API for hwmqtt.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/infrastructure/config"
	"github.com/nerrad567/hwmqtt/internal/infrastructure/logging"
	"github.com/nerrad567/hwmqtt/internal/sensor"
	"github.com/nerrad567/hwmqtt/internal/supervisor"
	"github.com/nerrad567/hwmqtt/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TelemetryService is the read side of the telemetry service.
type TelemetryService interface {
	Status() telemetry.Status
	Sensors() []*sensor.Record
	Categories() hardware.Categories
}

// Controller drives the service lifecycle. It is satisfied by
// *supervisor.Supervisor.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Reconfigure(ctx context.Context, cats hardware.Categories) error
	Status() supervisor.Status
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Service    TelemetryService
	Controller Controller
	Gatherer   prometheus.Gatherer // optional: /metrics is not mounted without it
	Version    string
}

// Server is the HTTP control API.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	service   TelemetryService
	control   Controller
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time

	mu     sync.Mutex
	server *http.Server
	addr   string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("telemetry service is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("service controller is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		service:   deps.Service,
		control:   deps.Controller,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves requests in a background goroutine.
// The server can be stopped with Close().
//
// Binding happens before Start returns so a port conflict is reported to
// the caller rather than only logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.server = srv
	s.addr = ln.Addr().String()

	s.logger.Info("API server listening", "address", s.addr)

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
