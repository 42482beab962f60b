package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/export"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/config"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/database"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/logging"
	"github.com/nerrad567/sensor-relay/internal/relay"
	"github.com/nerrad567/sensor-relay/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by optional collaborators reported on the
// metrics endpoint (MQTT, InfluxDB, the session database).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DBStatter exposes connection pool statistics and schema state.
type DBStatter interface {
	Stats() sql.DBStats
	MigrationStatus(ctx context.Context, fsys fs.FS) ([]database.MigrationRecord, []database.Migration, error)
}

// ExportStatter reports telemetry export counters.
type ExportStatter interface {
	Stats() export.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Relay    *relay.Relay
	Verifier *auth.Verifier

	// Sessions records connection sessions. Optional.
	Sessions session.Repository
	// DB backs the metrics database section. Optional.
	DB DBStatter
	// Migrations is compared against DB to report pending migrations.
	Migrations fs.FS
	// Collaborators are health-checked for the metrics endpoint. Optional.
	Collaborators map[string]HealthChecker
	// Export reports export queue counters. Optional.
	Export ExportStatter

	Version string
}

// Server is the HTTP and WebSocket server for the relay.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	logger        *logging.Logger
	relay         *relay.Relay
	verifier      *auth.Verifier
	sessions      session.Repository
	db            DBStatter
	migrations    fs.FS
	collaborators map[string]HealthChecker
	export        ExportStatter
	version       string
	startTime     time.Time

	upgrader websocket.Upgrader
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but its hub is ready
// so the router can be exercised directly in tests.
//
// Parameters:
//   - deps: Required dependencies (logger, relay, verifier) plus optional ones
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}

	logger := deps.Logger.With("component", "api")
	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        logger,
		relay:         deps.Relay,
		verifier:      deps.Verifier,
		sessions:      deps.Sessions,
		db:            deps.DB,
		migrations:    deps.Migrations,
		collaborators: deps.Collaborators,
		export:        deps.Export,
		version:       deps.Version,
		startTime:     time.Now(),
		hub:           NewHub(logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("relay server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("relay server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relay server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server.
//
// WebSocket connections are hijacked and not tracked by http.Server, so the
// hub closes them when the background context is cancelled.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("relay server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down relay server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
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
		return fmt.Errorf("relay server not started")
	}

	return nil
}

// checkOrigin applies the CORS allow-list to WebSocket upgrades. Clients
// that send no Origin (devices, native apps) are always accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.isAllowedOrigin(origin)
}
