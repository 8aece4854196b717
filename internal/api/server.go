package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/accesslog"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/clientsettings"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/ratelimit"
	"github.com/nerrad567/gray-logic-identity/internal/session"
	"github.com/nerrad567/gray-logic-identity/internal/verification"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Vault    *auth.Vault
	Accounts *auth.AccountService
	Tokens   *auth.TokenService
	Users    auth.UserRepository
	Roles    auth.RoleRepository
	Resolver *auth.Resolver
	Codes    *verification.Service
	Sessions *session.Registry
	Settings *clientsettings.Store

	AccessLogs accesslog.Repository
	Audit      audit.Repository    // optional: admin changes are only logged without it
	Recorder   *accesslog.Recorder // optional: requests are not recorded without it
	Limiter    *ratelimit.Limiter  // optional: public auth routes are unlimited without it
	Hub        *Hub                // optional: if set, the caller runs it
	Version    string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	vault       *auth.Vault
	accounts    *auth.AccountService
	tokens      *auth.TokenService
	users       auth.UserRepository
	roles       auth.RoleRepository
	resolver    *auth.Resolver
	codes       *verification.Service
	sessions    *session.Registry
	settings    *clientsettings.Store
	accessLogs  accesslog.Repository
	auditLog    audit.Repository
	recorder    *accesslog.Recorder
	limiter     *ratelimit.Limiter
	tickets     *ticketStore
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Vault == nil, deps.Accounts == nil, deps.Tokens == nil:
		return nil, fmt.Errorf("vault, account and token services are required")
	case deps.Users == nil, deps.Roles == nil, deps.Resolver == nil:
		return nil, fmt.Errorf("user and role stores are required")
	case deps.Codes == nil, deps.Sessions == nil, deps.Settings == nil:
		return nil, fmt.Errorf("verification, session and settings services are required")
	}

	srv := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		vault:      deps.Vault,
		accounts:   deps.Accounts,
		tokens:     deps.Tokens,
		users:      deps.Users,
		roles:      deps.Roles,
		resolver:   deps.Resolver,
		codes:      deps.Codes,
		sessions:   deps.Sessions,
		settings:   deps.Settings,
		accessLogs: deps.AccessLogs,
		auditLog:   deps.Audit,
		recorder:   deps.Recorder,
		limiter:    deps.Limiter,
		tickets:    newTicketStore(),
		version:    deps.Version,
		hub:        deps.Hub,
	}
	if srv.hub == nil {
		srv.hub = NewHub(deps.WS, deps.Logger)
	} else {
		srv.externalHub = true
	}
	return srv, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	// Start periodic ticket cleanup to prevent memory leaks
	go s.cleanTicketsLoop(srvCtx)

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
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Hub returns the WebSocket hub. It also serves as a session event sink.
func (s *Server) Hub() *Hub {
	return s.hub
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
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
