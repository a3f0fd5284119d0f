package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/lorawatch/internal/audit"
	"github.com/nerrad567/lorawatch/internal/broadcast"
	"github.com/nerrad567/lorawatch/internal/command"
	"github.com/nerrad567/lorawatch/internal/device"
	"github.com/nerrad567/lorawatch/internal/infrastructure/config"
	"github.com/nerrad567/lorawatch/internal/infrastructure/logging"
	"github.com/nerrad567/lorawatch/internal/ingest"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceStore is the read side of the device state store.
type DeviceStore interface {
	Get(id string) (device.State, bool)
	List(now time.Time) []device.Summary
	Stats(now time.Time) device.Stats
}

// Commander sends relay commands to devices.
type Commander interface {
	Send(ctx context.Context, deviceID, action, channel string) (command.Ack, error)
	SendAll(ctx context.Context, deviceID, action string) ([]command.Ack, error)
}

// SubscriberHub accepts live WebSocket subscribers.
type SubscriberHub interface {
	Register(sub broadcast.Subscriber) broadcast.Handle
	Unregister(handle broadcast.Handle)
	Stats() broadcast.HubStats
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// IngestStatus reports ingestion counters.
type IngestStatus interface {
	Stats() ingest.Stats
}

// PersistenceStatus reports write-behind counters.
type PersistenceStatus interface {
	Stats() device.WriterStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Store    DeviceStore
	Hub      SubscriberHub
	Commands Commander        // optional; control returns 503 without it
	Audit    audit.Repository // optional; commands are not recorded without it

	// Optional status sources for /health.
	Ingest      IngestStatus
	Persistence PersistenceStatus
	Checks      map[string]HealthChecker

	Version string
}

// Server is the HTTP API server for lorawatch.
//
// It manages the HTTP listener, routes, middleware, and WebSocket upgrades.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	store       DeviceStore
	hub         SubscriberHub
	commands    Commander
	audit       audit.Repository
	ingest      IngestStatus
	persistence PersistenceStatus
	checks      map[string]HealthChecker
	version     string
	now         func() time.Time
	server      *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, store, hub)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("broadcast hub is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		store:       deps.Store,
		hub:         deps.Hub,
		commands:    deps.Commands,
		audit:       deps.Audit,
		ingest:      deps.Ingest,
		persistence: deps.Persistence,
		checks:      deps.Checks,
		version:     deps.Version,
		now:         time.Now,
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens before Start returns, so a port conflict is reported
// here rather than lost in the serve goroutine.
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections. Hijacked WebSocket
// connections are not tracked by Shutdown; they end when the hub closes
// their subscribers.
//
// Returns:
//   - error: If shutdown encounters an error
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

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
