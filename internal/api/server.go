package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/pulse-link-core/internal/devicelink"
	"github.com/nerrad567/pulse-link-core/internal/history"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/config"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/logging"
	"github.com/nerrad567/pulse-link-core/internal/pattern"
	"github.com/nerrad567/pulse-link-core/internal/router"
)

// gracefulShutdownTimeout is the wait for in-flight requests on Close.
const gracefulShutdownTimeout = 10 * time.Second

// ErrPortSearchExhausted is returned by Start when no port in the
// configured search range could be bound. The one fatal startup error.
var ErrPortSearchExhausted = errors.New("api: no available port in search range")

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.ServerConfig
	Logger   *logging.Logger
	Link     *devicelink.Client
	Router   *router.Router
	Patterns *pattern.Cache

	// History is optional; the history endpoint reports unavailable
	// when nil.
	History *history.Store

	Version string
}

// Server is the bridge's HTTP API server.
type Server struct {
	cfg      config.ServerConfig
	logger   *logging.Logger
	link     *devicelink.Client
	router   *router.Router
	patterns *pattern.Cache
	hist     *history.Store
	version  string

	server *http.Server
	port   int
}

// New creates an API server. The server is not started until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Link == nil {
		return nil, fmt.Errorf("device link client is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("command router is required")
	}
	if deps.Patterns == nil {
		return nil, fmt.Errorf("pattern cache is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		link:     deps.Link,
		router:   deps.Router,
		patterns: deps.Patterns,
		hist:     deps.History,
		version:  deps.Version,
	}, nil
}

// Start binds a listener and begins serving in the background.
//
// Ports are tried sequentially from the configured port; browser
// integrations discover the bridge by probing the same range. Exhausting
// the range returns ErrPortSearchExhausted, which callers treat as fatal.
func (s *Server) Start(_ context.Context) error {
	attempts := s.cfg.PortSearchAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var listener net.Listener
	for i := 0; i < attempts; i++ {
		port := s.cfg.Port + i
		l, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)))
		if err != nil {
			s.logger.Warn("port unavailable, trying next", "port", port, "error", err)
			continue
		}
		listener = l
		s.port = port
		break
	}
	if listener == nil {
		return fmt.Errorf("%w: tried %d-%d on %s",
			ErrPortSearchExhausted, s.cfg.Port, s.cfg.Port+attempts-1, s.cfg.Host)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "host", s.cfg.Host, "port", s.port)
	return nil
}

// Port returns the port actually bound by Start.
func (s *Server) Port() int {
	return s.port
}

// Close shuts the server down, waiting for in-flight requests.
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

// HealthCheck verifies the server has been started.
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
