package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/minerctl/internal/audit"
	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/history"
	"github.com/nerrad567/minerctl/internal/infrastructure/config"
	"github.com/nerrad567/minerctl/internal/infrastructure/logging"
	"github.com/nerrad567/minerctl/internal/miner"
	"github.com/nerrad567/minerctl/internal/telemetry"
	"github.com/nerrad567/minerctl/internal/tuning"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Miner is the supervisor surface the API drives.
type Miner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() miner.Stats
	Snapshot() telemetry.Snapshot
}

// Tuner is the tuning surface the API exposes.
type Tuner interface {
	tuning.Controller
	Diagnose(ctx context.Context, profile string) tuning.Diagnosis
	Config() tuning.Config
}

// ConnectionChecker reports whether a broker connection is up.
type ConnectionChecker interface {
	IsConnected() bool
}

// DBStatter exposes connection pool statistics.
type DBStatter interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Miner and Bus are required.
	Miner Miner
	Bus   *events.Bus

	// Optional components; their routes answer 503 when nil.
	Tuner   Tuner
	History history.Repository
	Audit   audit.Repository
	MQTT    ConnectionChecker
	DB      DBStatter
	Metrics http.Handler

	// LogPath is the miner's rolling log served by /logs/tail.
	LogPath string

	// WebURL is the miner's own dashboard, advertised by /status.
	WebURL string

	// ProfileActive is the default profile for tuning diagnostics.
	ProfileActive string

	Version string
}

// Server is the HTTP control API for minerctl.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	secCfg        config.SecurityConfig
	logger        *logging.Logger
	miner         Miner
	bus           *events.Bus
	tuner         Tuner
	history       history.Repository
	audit         audit.Repository
	mqtt          ConnectionChecker
	db            DBStatter
	metrics       http.Handler
	logPath       string
	webURL        string
	profileActive string
	version       string
	startTime     time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Miner == nil {
		return nil, errors.New("miner is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("event bus is required")
	}

	return &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		secCfg:        deps.Security,
		logger:        deps.Logger,
		miner:         deps.Miner,
		bus:           deps.Bus,
		tuner:         deps.Tuner,
		history:       deps.History,
		audit:         deps.Audit,
		mqtt:          deps.MQTT,
		db:            deps.DB,
		metrics:       deps.Metrics,
		logPath:       deps.LogPath,
		webURL:        deps.WebURL,
		profileActive: deps.ProfileActive,
		version:       deps.Version,
		startTime:     time.Now(),
		hub:           NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the bus relay, then launches the HTTP
// listener in a background goroutine. The listen socket is bound before
// Start returns, so a port conflict is reported to the caller.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(srvCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.relayEvents(srvCtx)
	}()

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
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
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
		return errors.New("api server not started")
	}

	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
