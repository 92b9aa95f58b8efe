// Pulse Link Bridge
//
// Main entry point for the bridge daemon. The bridge sits between video
// playback telemetry (HTTP and optionally MQTT) and a WebSocket
// device-control server, translating playback events into device
// intensity commands and managing the funscript download cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/pulse-link-core/migrations"

	"github.com/nerrad567/pulse-link-core/internal/api"
	"github.com/nerrad567/pulse-link-core/internal/devicelink"
	"github.com/nerrad567/pulse-link-core/internal/history"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/config"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/database"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/logging"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/telemetry"
	"github.com/nerrad567/pulse-link-core/internal/ingest"
	"github.com/nerrad567/pulse-link-core/internal/pattern"
	"github.com/nerrad567/pulse-link-core/internal/router"
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
	log.Info("starting Pulse Link Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Pattern cache
	patterns, err := pattern.NewCache(pattern.Config{
		CacheDir:    cfg.Patterns.CacheDir,
		Endpoint:    cfg.Patterns.Endpoint,
		PartnerTag:  cfg.Patterns.PartnerTag,
		HTTPTimeout: cfg.Patterns.GetHTTPTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating pattern cache: %w", err)
	}
	patterns.SetLogger(log)
	log.Info("pattern cache ready", "dir", cfg.Patterns.CacheDir)

	// Device link client. Connection failure here is soft: commands
	// no-op until a connection is established, either on demand through
	// the connect endpoint or by an in-flight command retry.
	link := devicelink.New(devicelink.Config{
		URL:               cfg.DeviceLink.URL,
		ClientName:        cfg.DeviceLink.ClientName,
		ConnectTimeout:    cfg.DeviceLink.GetConnectTimeout(),
		HeartbeatInterval: cfg.DeviceLink.GetHeartbeatInterval(),
		ReconnectDelay:    cfg.DeviceLink.GetReconnectDelay(),
	})
	link.SetLogger(log)
	defer func() {
		log.Info("closing device link")
		if closeErr := link.Close(); closeErr != nil {
			log.Error("error closing device link", "error", closeErr)
		}
	}()

	if connErr := link.Connect(); connErr != nil {
		log.Warn("device-control server unreachable, commands disabled until connected",
			"url", cfg.DeviceLink.URL,
			"error", connErr,
		)
	} else {
		log.Info("device link connected", "url", cfg.DeviceLink.URL)
		if scanErr := link.ScanDevices(); scanErr != nil {
			log.Warn("device scan request failed", "error", scanErr)
		}
	}

	// Command router with history and telemetry observers
	cmdRouter := router.New(link, cfg.Router.IntensityScale)
	cmdRouter.SetLogger(log)

	histStore := history.NewStore(db)
	histStore.SetLogger(log)
	cmdRouter.AddObserver(histStore)

	var tele *telemetry.Client
	if cfg.InfluxDB.Enabled {
		tele, err = telemetry.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := tele.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		tele.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
		cmdRouter.AddObserver(tele)
		log.Info("telemetry connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("telemetry disabled")
	}

	// MQTT event ingest (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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

		consumer := ingest.NewConsumer(cmdRouter)
		consumer.SetLogger(log)
		if startErr := consumer.Start(mqttClient); startErr != nil {
			return fmt.Errorf("starting event ingest: %w", startErr)
		}
		log.Info("MQTT event ingest started", "topic", mqtt.TopicPlaybackEvent)
	} else {
		log.Info("MQTT ingest disabled")
	}

	// HTTP API server. Port search exhaustion is the one fatal startup
	// error; browser integrations probe the same range to find us.
	apiServer, err := api.New(api.Deps{
		Config:   cfg.Server,
		Logger:   log,
		Link:     link,
		Router:   cmdRouter,
		Patterns: patterns,
		History:  histStore,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, tele); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"api_port", apiServer.Port(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("Pulse Link Bridge stopped")
	return nil
}

// loadConfig reads the config file if one exists, falling back to
// built-in defaults so the bridge runs out of the box.
func loadConfig(log *logging.Logger) (*config.Config, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		if os.Getenv("PULSELINK_CONFIG") != "" {
			// An explicitly requested file that is missing is an error.
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		log.Info("no config file found, using defaults", "path", configPath)
		return config.Default(), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)
	return cfg, nil
}

// getConfigPath returns the configuration file path.
// Uses PULSELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PULSELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections. MQTT and telemetry
// are optional and may be nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, tele *telemetry.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if tele != nil {
		if err := tele.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
