package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/poolfleet/internal/command"
	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/events"
	"github.com/nerrad567/poolfleet/internal/infrastructure/config"
	"github.com/nerrad567/poolfleet/internal/infrastructure/logging"
	"github.com/nerrad567/poolfleet/internal/journal"
	"github.com/nerrad567/poolfleet/internal/schema"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CommandSender lists and sends device commands. *command.Dispatcher
// satisfies it.
type CommandSender interface {
	Commands(serial string) (device.Family, []schema.Command, error)
	Send(serial, group, name string, raw map[string]string) (*command.Envelope, error)
}

// SenderControl drives the background senders. *sender.Manager satisfies it.
type SenderControl interface {
	Start(serial string) error
	Stop(serial string)
	Running(serial string) bool
	SetLevel(serial, raw string) (int, error)
	SetInterval(serial string, seconds int) error
}

// ConnectionStatus reports broker connectivity for health and metrics.
type ConnectionStatus interface {
	IsConnected() bool
}

// DropCounter reports events the journal had to discard.
type DropCounter interface {
	Dropped() uint64
}

// WriteErrorCounter reports asynchronous telemetry write failures.
// *influxdb.Client satisfies it.
type WriteErrorCounter interface {
	WriteErrors() uint64
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Registry  *device.Registry
	Commands  CommandSender
	Sender    SenderControl
	Events    events.Emitter
	Recent    *events.Recent
	Journal   journal.Repository // optional
	Drops     DropCounter        // optional
	Telemetry WriteErrorCounter  // optional
	MQTT      ConnectionStatus   // optional
	Version   string
}

// Server is the HTTP control API.
//
// It manages the HTTP listener, routes, middleware and the WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	registry  *device.Registry
	commands  CommandSender
	sender    SenderControl
	events    events.Emitter
	recent    *events.Recent
	journal   journal.Repository
	drops     DropCounter
	telemetry WriteErrorCounter
	mqtt      ConnectionStatus
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The hub exists from
// here on, so Hub() can be subscribed to the event bus before Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Commands == nil || deps.Sender == nil {
		return nil, fmt.Errorf("command sender and sender control are required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		registry:  deps.Registry,
		commands:  deps.Commands,
		sender:    deps.Sender,
		events:    deps.Events,
		recent:    deps.Recent,
		journal:   deps.Journal,
		drops:     deps.Drops,
		telemetry: deps.Telemetry,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}
	s.hub.SetInitial(ChannelRegistryChanged, func() any { return s.registry.Stats() })
	if s.events == nil {
		s.events = events.Discard{}
	}
	if s.recent == nil {
		s.recent = events.NewRecent(0)
	}

	return s, nil
}

// Hub returns the WebSocket hub. It is also an events.Sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays registry changes to WebSocket
// clients and launches the HTTP listener in a background goroutine. The
// server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.relayRegistryChanges(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayRegistryChanges broadcasts a registry.changed event whenever the
// registry signals. Bursts coalesce in the registry, so clients see at most
// one pending notification and should refetch what they display.
func (s *Server) relayRegistryChanges(ctx context.Context) {
	changes := s.registry.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			s.hub.Broadcast(ChannelRegistryChanged, s.registry.Stats())
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
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
