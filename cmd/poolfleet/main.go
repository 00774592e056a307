// poolfleet - pool equipment fleet controller
//
// This is the main entry point for poolfleet. It connects to the MQTT
// broker the devices talk through, decodes everything they publish using
// runtime-loaded protobuf schemas, and serves an HTTP/WebSocket control
// surface for sending commands and driving the per-device background
// level sender.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/poolfleet/migrations"

	"github.com/nerrad567/poolfleet/internal/api"
	"github.com/nerrad567/poolfleet/internal/command"
	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/events"
	"github.com/nerrad567/poolfleet/internal/infrastructure/config"
	"github.com/nerrad567/poolfleet/internal/infrastructure/database"
	"github.com/nerrad567/poolfleet/internal/infrastructure/influxdb"
	"github.com/nerrad567/poolfleet/internal/infrastructure/logging"
	"github.com/nerrad567/poolfleet/internal/infrastructure/mqtt"
	"github.com/nerrad567/poolfleet/internal/journal"
	"github.com/nerrad567/poolfleet/internal/router"
	"github.com/nerrad567/poolfleet/internal/schema"
	"github.com/nerrad567/poolfleet/internal/sender"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// healthCheckTimeout bounds the startup infrastructure check.
const healthCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line overrides. They win over the config file
// and the environment.
type options struct {
	configPath string
	mqttHost   string
	mqttPort   int
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("poolfleet", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.configPath, "config", getConfigPath(), "path to the YAML configuration file")
	fs.StringVar(&o.mqttHost, "mqtt-host", "", "MQTT broker host (overrides config)")
	fs.IntVar(&o.mqttPort, "mqtt-port", 0, "MQTT broker port (overrides config)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(o options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.mqttHost == "" && o.mqttPort == 0 {
		return cfg, nil
	}
	if o.mqttHost != "" {
		cfg.MQTT.Broker.Host = o.mqttHost
	}
	if o.mqttPort != 0 {
		cfg.MQTT.Broker.Port = o.mqttPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, args []string) error {
	log := logging.Default()
	log.Info("starting poolfleet",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	opts, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Schemas
	catalog, err := schema.Load(cfg.Schemas)
	if err != nil {
		return fmt.Errorf("loading schemas: %w", err)
	}
	log.Info("schemas loaded",
		"descriptor_set", cfg.Schemas.DescriptorSet,
		"families", len(catalog.Families()),
	)

	registry := device.NewRegistry(device.NewClassifier(catalog.Rules()), device.Defaults{
		Level:           cfg.Sender.DefaultLevel,
		IntervalSeconds: cfg.Sender.DefaultInterval,
	})
	registry.SetLogger(log.Component("registry"))

	// Event hook: every sink sees every device event.
	bus := events.NewBus()
	bus.SetLogger(log.Component("events"))
	recent := events.NewRecent(0)
	bus.Subscribe(recent)
	bus.Subscribe(events.NewLogSink(log.Component("events")))

	// Journal (optional)
	var journalRepo journal.Repository
	var journalSink *journal.Sink
	var journalDB *database.DB
	if cfg.Journal.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening journal database: %w", openErr)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx, migrations.Files); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("journal ready", "path", cfg.Journal.Path)
		journalDB = db

		repo := journal.NewSQLiteRepository(db.DB)
		journalRepo = repo
		journalSink = journal.NewSink(repo, cfg.Journal.BufferSize, log.Component("journal"))
		// Runs before the database close above.
		defer journalSink.Close()
		bus.Subscribe(journalSink)
	} else {
		log.Info("journal disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		if n := mqttClient.Reconnects(); n > 0 {
			log.Info("MQTT reconnected", "reconnects", n)
		}
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Outbound: commands and background senders
	dispatcher, err := command.NewDispatcher(command.DispatcherOptions{
		Builder:   command.NewBuilder(catalog.TransactionField(), command.WithStrictCoercion(cfg.Commands.StrictCoercion)),
		Catalog:   catalog,
		Devices:   registry,
		Publisher: mqttClient,
		QoS:       byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2 by config
		Level: command.LevelCommand{
			Group:     cfg.Sender.Command.Group,
			Name:      cfg.Sender.Command.Field,
			Parameter: cfg.Sender.Command.Parameter,
		},
		Logger: log.Component("command"),
	})
	if err != nil {
		return fmt.Errorf("creating command dispatcher: %w", err)
	}

	senders, err := sender.NewManager(sender.Options{
		Registry: registry,
		Sender:   dispatcher,
		Events:   bus,
		Retry:    retryPolicy(cfg.Sender.Retry),
		Logger:   log.Component("sender"),
	})
	if err != nil {
		return fmt.Errorf("creating sender manager: %w", err)
	}
	defer func() {
		log.Info("stopping background senders")
		senders.StopAll()
	}()

	// API
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Registry: registry,
			Commands: dispatcher,
			Sender:   senders,
			Events:   bus,
			Recent:   recent,
			MQTT:     mqttClient,
			Version:  version,
		}
		if journalSink != nil {
			apiDeps.Journal = journalRepo
			apiDeps.Drops = journalSink
		}
		if influxClient != nil {
			apiDeps.Telemetry = influxClient
		}

		srv, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		bus.Subscribe(srv.Hub())

		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Inbound: subscribe last so every sink is in place for the first message.
	routerOpts := router.Options{
		Registry: registry,
		Catalog:  catalog,
		Events:   bus,
		Logger:   log.Component("router"),
	}
	if influxClient != nil {
		routerOpts.Telemetry = influxClient
	}
	inbound, err := router.New(routerOpts)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}
	for _, topic := range router.Subscriptions() {
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), inbound.Handle); subErr != nil { //nolint:gosec // validated 0-2 by config
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		log.Info("subscribed", "topic", topic)
	}

	healthCtx, healthCancel := context.WithTimeout(ctx, healthCheckTimeout)
	healthErr := healthCheck(healthCtx, journalDB, mqttClient, influxClient)
	healthCancel()
	if healthErr != nil {
		return fmt.Errorf("health check failed: %w", healthErr)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Background senders
	// 3. MQTT
	// 4. InfluxDB (if enabled)
	// 5. Journal sink, then its database (if enabled)

	log.Info("poolfleet stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses POOLFLEET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("POOLFLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthChecker is satisfied by the journal database and the broker and
// InfluxDB clients.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies the infrastructure that was enabled is reachable.
// Nil arguments are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checks := []struct {
		name string
		ok   bool
		hc   healthChecker
	}{
		{"journal database", db != nil, db},
		{"mqtt", mqttClient != nil, mqttClient},
		{"influxdb", influxClient != nil, influxClient},
	}
	for _, c := range checks {
		if !c.ok {
			continue
		}
		if err := c.hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// retryPolicy builds the background sender retry policy, or nil when
// retries are disabled.
func retryPolicy(cfg config.SenderRetryConfig) sender.RetryPolicy {
	if cfg.Attempts <= 0 {
		return nil
	}
	return sender.Backoff{
		Initial:     time.Duration(cfg.InitialDelay) * time.Second,
		Max:         time.Duration(cfg.MaxDelay) * time.Second,
		MaxAttempts: cfg.Attempts,
	}
}
