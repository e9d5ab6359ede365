// Gray Logic Bulb Bridge
//
// Long-running service that keeps a Bluetooth SPP session with every RGB
// bulb in range and exposes them to Gray Logic Core over MQTT:
//   - commands on graylogic/command/bulb/{address}
//   - retained state, discovery and health on the matching topics
//   - Prometheus metrics on /metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-bulb/migrations"

	"github.com/nerrad567/gray-logic-bulb/internal/bluetooth"
	"github.com/nerrad567/gray-logic-bulb/internal/bridges/bulb"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/mqtt"
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

// serialReadTimeout bounds each poll of a bound TTY so Close can release
// a blocked reader.
const serialReadTimeout = time.Second

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Shutdown runs through the defer chain in reverse start order: the
// discovery manager first (so its removal events are still published),
// then the bridge, metrics, InfluxDB, MQTT and finally the database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic bulb bridge",
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

	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // Nothing left to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	if !cfg.Bulb.Enabled {
		log.Info("bulb bridge disabled in configuration, nothing to do")
		return nil
	}

	// Sighting persistence (optional)
	var recorder bulb.SightingRecorder
	if cfg.Database.Path != "" {
		db, sqlRecorder, dbErr := openRecorder(ctx, cfg.Database, log)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			sqlRecorder.Stop()
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		recorder = sqlRecorder
	} else {
		log.Info("sighting persistence disabled")
	}

	scanner, dialer, err := newTransport(cfg.Bulb)
	if err != nil {
		return fmt.Errorf("opening bluetooth transport: %w", err)
	}
	log.Info("bluetooth transport ready",
		"transport", cfg.Bulb.Transport,
		"adapter", cfg.Bulb.Adapter,
	)

	manager, err := bulb.NewManager(bulb.ManagerConfig{
		Scanner:         scanner,
		Dialer:          dialer,
		AddressPrefixes: cfg.Bulb.AddressPrefixes,
		ScanDurations:   cfg.Bulb.ScanDurationList(),
		Connection: bulb.ConnectionOptions{
			HeartbeatInterval: cfg.Bulb.GetHeartbeatInterval(),
			Logger:            log.With("component", "connection"),
		},
		Recorder: recorder,
		Logger:   log.With("component", "discovery"),
	})
	if err != nil {
		return fmt.Errorf("creating discovery manager: %w", err)
	}

	// Connect to MQTT broker with the bridge's offline status as will
	will, err := lastWill(bulb.Protocol)
	if err != nil {
		return fmt.Errorf("building MQTT will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var telemetry bulb.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := bulb.NewBridge(bulb.BridgeOptions{
		BridgeID:       bulb.Protocol,
		Version:        version,
		CommandTimeout: cfg.Bulb.GetCommandTimeout(),
		HealthInterval: cfg.Bulb.GetHealthInterval(),
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Devices:        manager,
		Telemetry:      telemetry,
		Logger:         log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bulb bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bulb bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bulb bridge")
		bridge.Stop()
	}()

	// Metrics endpoint (optional)
	var metricsErr <-chan error
	if cfg.Metrics.Enabled {
		registry := metrics.NewRegistry(version, bulb.NewMetricsCollector(manager, bridge))
		srv := metrics.NewServer(cfg.Metrics.Address(), cfg.Metrics.Path, registry, healthFunc(manager, mqttClient))
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer func() {
			log.Info("stopping metrics server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				log.Error("error stopping metrics server", "error", shutdownErr)
			}
		}()
		metricsErr = srv.Err()
		log.Info("metrics server listening", "addr", srv.Addr(), "path", cfg.Metrics.Path)
	}

	// Discovery starts last so the bridge is already draining events
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}
	defer func() {
		log.Info("stopping discovery")
		manager.Stop()
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-manager.Done():
		if scanErr := manager.Err(); scanErr != nil {
			return fmt.Errorf("discovery stopped: %w", scanErr)
		}
	case serveErr, ok := <-metricsErr:
		if ok {
			return fmt.Errorf("metrics server: %w", serveErr)
		}
	}

	log.Info("Gray Logic bulb bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openRecorder opens and migrates the database and prepares the sighting
// recorder on it. The caller owns both.
func openRecorder(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, *bulb.SQLiteRecorder, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Path)

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	recorder := bulb.NewSQLiteRecorder(db.DB)
	recorder.SetLogger(log.With("component", "sightings"))
	if err := recorder.Start(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("starting sighting recorder: %w", err)
	}

	return db, recorder, nil
}

// newTransport builds the scanner and dialer for the configured transport.
//
// rfcomm inquires through BlueZ and dials sockets directly, gated on the
// SPP record BlueZ caches. serial reaches a fixed set of bulbs through
// bound TTYs; they are reported as always in range.
func newTransport(cfg config.BulbConfig) (bulb.Scanner, bulb.Dialer, error) {
	switch cfg.Transport {
	case config.TransportRFCOMM:
		bluez, err := bluetooth.NewBlueZ(cfg.Adapter)
		if err != nil {
			return nil, nil, err
		}
		return bluez, bluetooth.NewRFCOMMDialer(cfg.Channels(), bluez), nil

	case config.TransportSerial:
		dialer := bluetooth.NewSerialDialer(cfg.SerialPorts, cfg.SerialBaud, serialReadTimeout)
		return bluetooth.NewStaticScanner(dialer.Addresses()), dialer, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// lastWill returns the offline health message the broker publishes if the
// bridge drops off without a clean disconnect.
func lastWill(bridgeID string) (*mqtt.Will, error) {
	payload, err := json.Marshal(bulb.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, err
	}
	return &mqtt.Will{
		Topic:    bulb.HealthTopic(),
		Payload:  payload,
		QoS:      1,
		Retained: true,
	}, nil
}

// errMQTTDisconnected is reported by /health while the broker link is down.
var errMQTTDisconnected = errors.New("mqtt disconnected")

// connectionChecker is the part of *mqtt.Client the health endpoint uses.
type connectionChecker interface {
	IsConnected() bool
}

// healthFunc reports unhealthy once discovery has failed or while MQTT is
// disconnected. Bulbs being out of range is not a failure.
func healthFunc(devices bulb.DeviceSource, broker connectionChecker) metrics.HealthFunc {
	return func(context.Context) error {
		if err := devices.Err(); err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		if !broker.IsConnected() {
			return errMQTTDisconnected
		}
		return nil
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bulb
// bridge's MQTTClient interface. The difference is the handler signature:
//   - infrastructure mqtt: func(topic string, payload []byte) error
//   - bulb bridge:         func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bulb.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bulb.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bulb.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
