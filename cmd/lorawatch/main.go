// lorawatch - LoRaWAN uplink ingestion and live-broadcast service
//
// lorawatch subscribes to ChirpStack uplink events over MQTT, keeps the
// latest state of every device in memory, persists it to SQLite, streams
// changes to WebSocket dashboards and sends relay commands back to devices
// as ChirpStack downlinks.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/lorawatch/internal/api"
	"github.com/nerrad567/lorawatch/internal/audit"
	"github.com/nerrad567/lorawatch/internal/broadcast"
	"github.com/nerrad567/lorawatch/internal/command"
	"github.com/nerrad567/lorawatch/internal/device"
	"github.com/nerrad567/lorawatch/internal/infrastructure/config"
	"github.com/nerrad567/lorawatch/internal/infrastructure/database"
	"github.com/nerrad567/lorawatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/lorawatch/internal/infrastructure/logging"
	"github.com/nerrad567/lorawatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/lorawatch/internal/ingest"
	"github.com/nerrad567/lorawatch/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupTimeout bounds rehydration from the database.
const startupTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Startup order matters: the store is rehydrated from SQLite before the
// pipeline is created, so no live uplink can race the initial load.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting lorawatch",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Rehydrate device state before any live traffic
	repo := device.NewSQLiteRepository(db.DB)
	store := device.NewStore()
	store.SetLogger(log.With("component", "store"))
	if loadErr := rehydrate(ctx, repo, store, log); loadErr != nil {
		return loadErr
	}

	// MQTT client; the pipeline owns connecting and reconnecting
	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	})

	// Connect to InfluxDB (optional)
	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			exported := influxClient.Stats()
			log.Info("closing InfluxDB connection", "points", exported.Points, "write_errors", exported.Errors)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	hub := broadcast.NewHub()
	hub.SetLogger(log.With("component", "broadcast"))

	writer := device.NewWriter(repo)
	writer.SetLogger(log.With("component", "persistence"))

	dispatcher := command.New(command.Config{
		ApplicationID: cfg.ChirpStack.ApplicationID,
		FPort:         cfg.ChirpStack.DownlinkFPort,
		Confirmed:     cfg.ChirpStack.DownlinkConfirmed,
		QoS:           byte(cfg.MQTT.QoS),
	}, mqttClient, store)
	dispatcher.SetLogger(log.With("component", "command"))

	deps := ingest.Deps{
		Broker:    mqttClient,
		Store:     store,
		Persister: writer,
		Notifier:  hub,
		Logger:    log.With("component", "ingest"),
	}
	if influxClient != nil {
		deps.Exporter = influxClient
	}
	pipeline, err := ingest.New(ingest.Config{
		ApplicationID: cfg.ChirpStack.ApplicationID,
		QoS:           byte(cfg.MQTT.QoS),
		Workers:       cfg.Ingest.Workers,
		QueueSize:     cfg.Ingest.QueueSize,
		Backoff:       cfg.ReconnectBackoff(),
	}, deps)
	if err != nil {
		return fmt.Errorf("creating ingest pipeline: %w", err)
	}

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
		"ingest":   pipeline,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.With("component", "api"),
		Store:       store,
		Hub:         hub,
		Commands:    dispatcher,
		Audit:       audit.NewSQLiteRepository(db.DB),
		Ingest:      pipeline,
		Persistence: writer,
		Checks:      checks,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}

	log.Info("initialisation complete",
		"topic", pipeline.Topic(),
		"devices", store.Len(),
	)

	g, gctx := errgroup.WithContext(ctx)

	// The writer outlives the pipeline so the last applied states are
	// included in its final flush.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	g.Go(func() error {
		return writer.Run(writerCtx)
	})
	g.Go(func() error {
		defer stopWriter()
		return pipeline.Run(gctx)
	})
	g.Go(func() error {
		return hub.RunStats(gctx, time.Duration(cfg.WebSocket.StatsInterval)*time.Second, store)
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	err = g.Wait()

	stats := pipeline.Stats()
	log.Info("lorawatch stopped",
		"received", stats.Received,
		"accepted", stats.Accepted,
		"malformed", stats.Malformed,
		"persisted", writer.Stats().Saved,
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig reads the file named by LORAWATCH_CONFIG, falling back to the
// default path and then to built-in defaults when no file exists.
func loadConfig(log *logging.Logger) (*config.Config, error) {
	path := getConfigPath()

	cfg, err := config.Load(path)
	if err == nil {
		log.Info("configuration loaded", "path", path)
		return cfg, nil
	}

	// An explicitly named file must exist.
	if os.Getenv("LORAWATCH_CONFIG") != "" || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg, err = config.Default()
	if err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}
	log.Info("no configuration file found, using defaults", "path", path)
	return cfg, nil
}

// getConfigPath returns the configuration file path.
// Uses LORAWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LORAWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// rehydrate loads persisted device states into the store.
func rehydrate(ctx context.Context, repo device.Repository, store *device.Store, log *logging.Logger) error {
	loadCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	states, err := repo.LoadAll(loadCtx)
	if err != nil {
		return fmt.Errorf("loading device states: %w", err)
	}
	n, err := store.LoadInitial(states)
	if err != nil {
		return fmt.Errorf("seeding device store: %w", err)
	}
	log.Info("device store rehydrated", "devices", n)
	return nil
}

// connectInflux connects the optional telemetry exporter. It returns a nil
// client when InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}
