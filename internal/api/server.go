// Package api provides the HTTP REST API and WebSocket event stream for lifxd.
//
// The server follows the same lifecycle pattern as other components:
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
	"strconv"
	"sync"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
	"github.com/ktheindifferent/lifx-api-server/internal/gateway"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/config"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/logging"
	"github.com/ktheindifferent/lifx-api-server/internal/ratelimit"
	"github.com/ktheindifferent/lifx-api-server/internal/states"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Gateway is the part of the gateway Manager the handlers use.
type Gateway interface {
	List(sel device.Selector) []device.Snapshot
	SetLabel(ctx context.Context, client string, sel device.Selector, label string) ([]gateway.LabelOutcome, error)
	Discover(ctx context.Context) (discovery.Result, error)
	DiscoveryMetrics() discovery.Metrics
	Stats() gateway.Stats
}

// Applier applies light state requests.
type Applier interface {
	Apply(ctx context.Context, req states.Request) (states.Response, error)
	ApplyOne(ctx context.Context, selector string, u states.Update) (states.Response, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Gateway  Gateway
	Applier  Applier

	// Limiter counts authentication failures. Optional; without it failed
	// attempts are never throttled.
	Limiter *ratelimit.Limiter

	// Hub, if set, is used instead of a server-owned hub so that the
	// gateway can be subscribed to it before the server starts.
	Hub *Hub

	Version string
}

// Server is the HTTP API server for lifxd.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	gw        Gateway
	applier   Applier
	limiter   *ratelimit.Limiter
	version   string
	startTime time.Time
	now       func() time.Time

	hub         *Hub
	externalHub bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Applier == nil {
		return nil, fmt.Errorf("state applier is required")
	}
	if deps.Security.SecretKey == "" {
		return nil, fmt.Errorf("secret key is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		gw:        deps.Gateway,
		applier:   deps.Applier,
		limiter:   deps.Limiter,
		version:   deps.Version,
		startTime: time.Now(),
		now:       time.Now,
		hub:       deps.Hub,
	}
	if s.hub != nil {
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler. Start uses it; tests can serve it
// through httptest directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
