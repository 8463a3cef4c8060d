// Coachsync - RV device network synchronization engine
//
// Coachsync keeps an in-memory registry of coach devices (RV-C and J1939
// networks bridged over MQTT) synchronized with the physical network,
// dispatches control commands with bounded timeouts, and serves the
// state over REST and WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/coachsync/coachsync/migrations"

	"github.com/coachsync/coachsync/internal/api"
	"github.com/coachsync/coachsync/internal/command"
	"github.com/coachsync/coachsync/internal/entity"
	"github.com/coachsync/coachsync/internal/gateway"
	"github.com/coachsync/coachsync/internal/infrastructure/config"
	"github.com/coachsync/coachsync/internal/infrastructure/database"
	"github.com/coachsync/coachsync/internal/infrastructure/influxdb"
	"github.com/coachsync/coachsync/internal/infrastructure/logging"
	"github.com/coachsync/coachsync/internal/infrastructure/mqtt"
	"github.com/coachsync/coachsync/internal/notify"
	"github.com/coachsync/coachsync/internal/reconcile"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Coachsync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Entity registry, loaded from the store before anything touches it
	registry := entity.NewRegistry(entity.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entity registry: %w", refreshErr)
	}
	log.Info("entity registry loaded", "entities", registry.Count())

	// State change notifier, fed by registry confirmations
	notifier := notify.New(0)
	defer notifier.Close()
	registry.SetOnConfirmed(notifier.Publish)

	// Connect to MQTT broker
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
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Bus gateway: feeds device state and availability from the network
	// into the registry, and carries outbound commands
	gw := gateway.New(mqttClient, registry, byte(cfg.MQTT.QoS))
	gw.SetLogger(log)
	if startErr := gw.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bus gateway: %w", startErr)
	}
	log.Info("bus gateway started")

	// Command dispatch over the bus, confirmed through the notifier
	executor := command.NewBusExecutor(gw, notifier)
	dispatcher := command.NewDispatcher(registry, executor,
		cfg.Dispatch.GetCommandTimeout(), cfg.Dispatch.GetMaxCommandTimeout())
	dispatcher.SetLogger(log)

	operationRepo := command.NewSQLiteOperationRepository(db.DB)
	coordinator := command.NewCoordinator(dispatcher, operationRepo, command.CoordinatorConfig{
		MaxTargets:   cfg.Dispatch.BulkMaxTargets,
		Concurrency:  cfg.Dispatch.BulkConcurrency,
		BatchTimeout: cfg.Dispatch.GetBulkTimeout(),
	})
	coordinator.SetLogger(log)

	// Optimistic reconciliation: predictions confirm or revert within
	// the default window
	reconciler := reconcile.New(registry, notifier, reconcile.DefaultWindow)
	reconciler.SetLogger(log)
	go func() {
		if runErr := reconciler.Run(ctx); runErr != nil {
			log.Error("reconciler stopped", "error", runErr)
		}
	}()

	// Connect to InfluxDB (optional) and stream confirmed state into it
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

		sub := notifier.Subscribe()
		defer sub.Cancel()
		go func() {
			for update := range sub.Events() {
				influxClient.WriteConfirmedUpdate(update)
			}
		}()
		coordinator.SetOnComplete(func(res *command.BulkResult) {
			influxClient.WriteOperationMetric(res.OperationID,
				res.TotalCount, res.SuccessCount, res.FailedCount, res.TotalTimeMS)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// API server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Bulk:       coordinator,
		Reconciler: reconciler,
		Notifier:   notifier,
		Operations: operationRepo,
		Checkers:   readinessCheckers(db, mqttClient, influxClient),
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	reconciler.SetOnRevert(apiServer.BroadcastReversion)

	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses COACHSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("COACHSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// readinessCheckers builds the dependency probes served by /readyz.
// The InfluxDB entry is omitted when the integration is disabled.
func readinessCheckers(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) map[string]api.HealthChecker {
	checkers := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checkers["influxdb"] = influxClient
	}
	return checkers
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
