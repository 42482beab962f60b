// Sensor Relay - WebSocket relay between sensor devices and apps.
//
// Devices connect on the device path and stream telemetry; apps connect on
// the app path, watch one device and issue calls against it. Both present a
// home token and the device MAC as query parameters.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/sensor-relay/internal/api"
	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/export"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/config"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/database"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/logging"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensor-relay/internal/relay"
	"github.com/nerrad567/sensor-relay/internal/session"
	"github.com/nerrad567/sensor-relay/internal/webui"
	"github.com/nerrad567/sensor-relay/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnv names the environment variable consulted when --config is unset.
const configEnv = "RELAY_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds parsed command-line flags.
type options struct {
	configPath  string
	showVersion bool
}

// parseFlags parses args. pflag.ErrHelp is returned after usage has been
// written to out.
func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("sensorrelay", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file (default: $"+configEnv+", else built-in defaults)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.configPath == "" {
		opts.configPath = os.Getenv(configEnv)
	}
	return opts, nil
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - args: Command-line arguments without the program name
//   - out: Destination for --help and --version output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, out)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(out, "sensorrelay %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting sensor relay", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath, "level", cfg.Logging.Level)

	collaborators := make(map[string]api.HealthChecker)

	var sessions session.Repository
	var dbStats api.DBStatter
	if cfg.Database.Enabled {
		db, dbErr := openSessionLog(ctx, cfg.Database)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("session log ready", "path", db.Path())
		sessions = session.NewSQLiteRepository(db.DB)
		dbStats = db
		collaborators["database"] = db
	}

	var sinks []export.Sink
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var mqttErr error
		mqttClient, mqttErr = mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
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
			"telemetry_topics", mqttClient.Topics().AllTelemetry(),
			"presence_topics", mqttClient.Topics().AllPresence(),
		)
		sinks = append(sinks, export.NewMQTTSink(mqttClient))
		collaborators["mqtt"] = mqttClient
	}

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
		influxLog := log.With("component", "influxdb")
		influxClient.SetOnError(func(err error) {
			influxLog.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)
		sinks = append(sinks, export.NewInfluxSink(influxClient))
		collaborators["influxdb"] = influxClient
	}

	dispatcher := export.NewDispatcher(log, export.DefaultQueueSize, sinks...)
	relayOpts := relay.Options{
		Logger:                  log,
		FailPendingOnDeviceLoss: cfg.Relay.FailPendingOnDeviceLoss,
	}
	if len(sinks) > 0 {
		relayOpts.Exporter = dispatcher
	}
	core := relay.New(relayOpts)
	if mqttClient != nil {
		// Retained presence does not survive a broker restart without
		// persistence; republish it on every reconnect.
		mqttClient.SetOnConnect(func() {
			if n := core.ResendPresence(); n > 0 {
				log.Info("device presence republished", "devices", n)
			}
		})
	}

	srv, err := api.New(api.Deps{
		Config: cfg.API,
		WS:     cfg.WebSocket,
		Logger: log,
		Relay:  core,
		Verifier: auth.NewVerifier(auth.VerifierConfig{
			Secret:         cfg.Security.JWT.Secret,
			Audience:       cfg.Security.JWT.Audience,
			MinTokenLength: cfg.Security.JWT.MinTokenLength,
		}),
		Sessions:      sessions,
		DB:            dbStats,
		Migrations:    migrations.Files,
		Collaborators: collaborators,
		Export:        dispatcher,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := srv.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	monitor := relay.NewLivenessMonitor(core, cfg.LivenessInterval(), cfg.PendingCallTTL(), log)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")
		return srv.Close()
	})

	log.Info("initialisation complete",
		"device_path", cfg.WebSocket.DevicePath,
		"app_path", cfg.WebSocket.AppPath,
		"exports", len(sinks),
		"ui", webui.Source(cfg.API.StaticDir),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	// Deferred Close() calls run in reverse order: InfluxDB, MQTT, database.
	log.Info("sensor relay stopped")
	return nil
}

// openSessionLog opens the SQLite session log and applies migrations.
func openSessionLog(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.Files); err != nil {
		db.Close() //nolint:errcheck // migration failure is the error worth reporting
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}
