package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coachsync/coachsync/internal/command"
	"github.com/coachsync/coachsync/internal/entity"
	"github.com/coachsync/coachsync/internal/infrastructure/config"
	"github.com/coachsync/coachsync/internal/infrastructure/logging"
	"github.com/coachsync/coachsync/internal/notify"
	"github.com/coachsync/coachsync/internal/reconcile"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests to drain before forcing the listener shut.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker reports whether a backing dependency is reachable.
// Satisfied by the MQTT and database clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Registry   *entity.Registry
	Dispatcher *command.Dispatcher
	Bulk       *command.Coordinator
	Reconciler *reconcile.Reconciler
	Notifier   *notify.Notifier
	Operations command.OperationRepository

	// Readiness probes; nil entries are skipped.
	Checkers map[string]HealthChecker

	Version string
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	registry   *entity.Registry
	dispatcher *command.Dispatcher
	bulk       *command.Coordinator
	reconciler *reconcile.Reconciler
	notifier   *notify.Notifier
	operations command.OperationRepository
	checkers   map[string]HealthChecker
	version    string

	httpServer *http.Server
	hub        *Hub
	started    time.Time
	cancel     context.CancelFunc
}

// New creates an API server from its dependencies. It validates that the
// required dependencies are present but does not start listening.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("api: entity registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("api: command dispatcher is required")
	}
	if deps.Bulk == nil {
		return nil, errors.New("api: bulk coordinator is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("api: notifier is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger.With("component", "api"),
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		bulk:       deps.Bulk,
		reconciler: deps.Reconciler,
		notifier:   deps.Notifier,
		operations: deps.Operations,
		checkers:   deps.Checkers,
		version:    deps.Version,
	}, nil
}

// Start begins serving HTTP requests. It returns once the listener is
// running; serving continues in the background until Close is called.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = time.Now()

	s.hub = newHub(s.wsCfg, s.logger)
	go s.hub.Run(ctx)
	go s.relayEvents(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	if s.cfg.TLS.Enabled {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("starting HTTPS server", "addr", addr)
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", addr)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()

	return nil
}

// relayEvents forwards registry confirmations and reconciliation reverts
// to connected WebSocket clients.
func (s *Server) relayEvents(ctx context.Context) {
	sub := s.notifier.Subscribe()
	if sub == nil {
		return
	}
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-sub.Events():
			if !ok {
				return
			}
			s.broadcastUpdate(update)
		}
	}
}

// broadcastUpdate sends a state-changed event carrying the entity's
// current confirmed state. The entity is re-read so clients always see
// the full merged state, not just the changed fields.
func (s *Server) broadcastUpdate(update entity.Update) {
	ent, err := s.registry.Get(context.Background(), update.EntityID)
	if err != nil {
		return
	}
	s.hub.Broadcast(EventEntityStateChanged, entityStateEvent{
		EntityID:  ent.ID,
		State:     ent.State,
		Available: ent.Available,
		Timestamp: update.Timestamp,
	})
}

// BroadcastReversion notifies WebSocket clients that an optimistic
// prediction was rolled back. Wired as the reconciler's revert hook.
func (s *Server) BroadcastReversion(rev reconcile.Reversion) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(EventEntityReverted, entityRevertedEvent{
		EntityID:  rev.EntityID,
		State:     rev.Snapshot,
		Timestamp: time.Now().UTC(),
	})
}

// Close gracefully shuts down the HTTP server, draining in-flight
// requests for up to gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(_ context.Context) error {
	if s.httpServer == nil {
		return errors.New("api: server not started")
	}
	return nil
}
