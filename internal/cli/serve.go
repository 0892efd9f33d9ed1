package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/minerctl/internal/api"
	"github.com/nerrad567/minerctl/internal/audit"
	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/gpu"
	"github.com/nerrad567/minerctl/internal/history"
	"github.com/nerrad567/minerctl/internal/infrastructure/config"
	"github.com/nerrad567/minerctl/internal/infrastructure/database"
	"github.com/nerrad567/minerctl/internal/infrastructure/influxdb"
	"github.com/nerrad567/minerctl/internal/infrastructure/logging"
	"github.com/nerrad567/minerctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/minerctl/internal/metrics"
	"github.com/nerrad567/minerctl/internal/miner"
	"github.com/nerrad567/minerctl/internal/rollinglog"
	"github.com/nerrad567/minerctl/internal/tuning"
	"github.com/nerrad567/minerctl/migrations"
)

// shutdownTimeout bounds stopping the miner and applying the idle profile
// after a shutdown signal.
const shutdownTimeout = 45 * time.Second

// healthCheckTimeout bounds the startup connectivity checks.
const healthCheckTimeout = 10 * time.Second

var serveStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the miner supervisor and its API",
	Long: `Run the miner supervisor in the foreground until interrupted.

serve wires the supervisor to every enabled output: the HTTP API and
WebSocket stream, MQTT, InfluxDB, the SQLite history and Prometheus.
Block wins, state changes and warnings are printed to the console.

On Ctrl+C the miner's process tree is terminated and the idle tuning
profile is applied before minerctl exits.

Examples:
  minerctl serve              Wait for a start command from the API or MQTT
  minerctl serve --start      Start mining immediately
  minerctl serve -c rig.yaml  Use a specific config file`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg, serveOptions{
			Start: serveStart,
			Out:   cmd.OutOrStdout(),
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveStart, "start", false, "start the miner immediately")
}

// serveOptions are the command-line choices of serve.
type serveOptions struct {
	// Start starts the miner once everything is wired.
	Start bool

	// Out receives console alerts.
	Out io.Writer
}

// runServe is the composition root. It returns nil on a clean shutdown.
func runServe(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	rig := cfg.Rig()
	log.Info("starting minerctl",
		"version", version,
		"commit", commit,
		"build_date", date,
		"rig", rig,
	)

	if cfg.TuningEnabled() && cfg.Tuning.Elevate && !tuning.Privileged() {
		log.Info("tuning needs root, relaunching through sudo")
		if err := (tuning.SudoElevator{}).RelaunchElevated(); err != nil {
			log.Warn("elevation failed, tuning will report privilege errors", "error", err)
		}
	}

	bus := events.NewBus()
	bus.SetLogger(log)
	defer bus.Close()

	minerLog, err := rollinglog.Open(rollinglog.Options{
		Path:       cfg.Miner.LogFile,
		MaxSizeMB:  cfg.Miner.LogMaxSize,
		MaxBackups: cfg.Miner.LogMaxBackups,
	})
	if err != nil {
		return fmt.Errorf("opening miner log: %w", err)
	}
	defer func() {
		if closeErr := minerLog.Close(); closeErr != nil {
			log.Error("error closing miner log", "error", closeErr)
		}
	}()
	log.Info("miner log opened", "path", minerLog.Path())

	tuner, err := newTuner(cfg)
	if err != nil {
		return err
	}
	tuner.SetLogger(log)

	sup, err := miner.New(minerConfig(cfg), miner.Deps{
		Tuner: tuner,
		Sink:  bus,
		Probe: gpu.Default(),
		Log:   minerLog,
	})
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	sup.SetLogger(log)

	var checks []healthChecker
	apiDeps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Logger:        log,
		Miner:         sup,
		Bus:           bus,
		Tuner:         tuner,
		LogPath:       minerLog.Path(),
		WebURL:        cfg.WebURL(),
		ProfileActive: cfg.Tuning.ProfileActive,
		Version:       version,
	}

	// Open database
	var recorder *history.Recorder
	var auditRepo *audit.SQLiteRepository
	if cfg.Database.Enabled {
		db, repo, auditLog, openErr := openHistory(ctx, cfg, log)
		if openErr != nil {
			return openErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		recorder = history.NewRecorder(repo)
		recorder.SetLogger(log)
		auditRepo = auditLog
		apiDeps.History = repo
		apiDeps.Audit = auditLog
		apiDeps.DB = db
		checks = append(checks, healthChecker{"database", db.HealthCheck})
	} else {
		log.Info("history database disabled")
	}

	// Connect to MQTT broker
	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		var ctrl mqtt.Controller = sup
		if auditRepo != nil {
			audited := audit.NewAudited(sup, auditRepo, audit.SourceMQTT,
				fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
			audited.SetLogger(log)
			ctrl = audited
		}

		// #nosec G115 -- QoS is validated to 0..2
		bridge = mqtt.NewBridge(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS), ctrl)
		bridge.SetLogger(log)
		apiDeps.MQTT = mqttClient
		checks = append(checks, healthChecker{"mqtt", mqttClient.HealthCheck})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, rig)
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
		checks = append(checks, healthChecker{"influxdb", influxClient.HealthCheck})
	} else {
		log.Info("InfluxDB disabled")
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(rig, bus.Dropped)
		apiDeps.Metrics = collector.Handler()
	}

	// Verify all connections are healthy
	if err := runHealthChecks(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if len(checks) > 0 {
		log.Info("all health checks passed")
	}

	// Consumers run until the bus closes, so events published while the
	// miner stops still reach them.
	var g errgroup.Group
	alerts := newAlertPrinter(opts.Out, cfg.Alerts)
	g.Go(func() error {
		alerts.Run(context.Background(), bus)
		return nil
	})
	if recorder != nil {
		g.Go(func() error {
			recorder.Run(context.Background(), bus)
			return nil
		})
	}
	if influxClient != nil {
		g.Go(func() error {
			influxClient.Run(context.Background(), bus)
			return nil
		})
	}
	if collector != nil {
		g.Go(func() error {
			collector.Run(context.Background(), bus)
			return nil
		})
	}

	// The bridge and the API are tied to the run context.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	services, servicesCtx := errgroup.WithContext(runCtx)
	if bridge != nil {
		services.Go(func() error {
			if err := bridge.Run(servicesCtx, bus); err != nil {
				return fmt.Errorf("mqtt bridge: %w", err)
			}
			return nil
		})
	}

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(apiDeps)
		if err != nil {
			cancelRun()
			bus.Close()
			return errors.Join(fmt.Errorf("creating API server: %w", err), services.Wait(), g.Wait())
		}
		if err := server.Start(servicesCtx); err != nil {
			cancelRun()
			bus.Close()
			return errors.Join(fmt.Errorf("starting API server: %w", err), services.Wait(), g.Wait())
		}
	} else {
		log.Info("API disabled")
	}

	if opts.Start {
		if err := sup.Start(servicesCtx); err != nil {
			log.Error("starting miner", "error", err)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-servicesCtx.Done()
	log.Info("shutdown signal received, cleaning up")

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelStop()
	if err := sup.Stop(stopCtx); err != nil {
		log.Error("error stopping miner", "error", err)
	}
	sup.Wait()

	if server != nil {
		if err := server.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}

	cancelRun()
	serviceErr := services.Wait()

	bus.Close()
	_ = g.Wait()

	log.Info("minerctl stopped")

	// A cancelled parent context is a normal shutdown; a failed service is not.
	if ctx.Err() == nil && serviceErr != nil {
		return serviceErr
	}
	return nil
}

// newTuner builds the tuning controller. Mode none yields a controller
// whose Apply reports not attempted.
func newTuner(cfg *config.Config) (*tuning.ODNT, error) {
	mode, err := tuning.ParseMode(cfg.Tuning.Mode)
	if err != nil {
		return nil, fmt.Errorf("tuning mode: %w", err)
	}
	return tuning.New(tuning.Config{
		Mode:     mode,
		ToolPath: cfg.Tuning.ToolPath,
		GPUIndex: cfg.Tuning.GPUIndex,
		Timeout:  cfg.Tuning.Timeout,
	}), nil
}

// minerConfig maps the YAML configuration onto the supervisor's settings.
func minerConfig(cfg *config.Config) miner.Config {
	return miner.Config{
		Binary:           cfg.MinerPath(),
		Args:             cfg.MinerArgs(),
		WorkDir:          cfg.Miner.Dir,
		LogPath:          cfg.Miner.LogFile,
		ProfileActive:    cfg.Tuning.ProfileActive,
		ProfileIdle:      cfg.Tuning.ProfileIdle,
		GPUIndex:         cfg.Tuning.GPUIndex,
		PreSpawnDelay:    cfg.Tuning.PreSpawnDelay,
		ReapplyDelay:     cfg.Tuning.ReapplyDelay,
		ReadBackoff:      cfg.Supervisor.ReadBackoff,
		StopGrace:        cfg.Supervisor.StopGrace,
		SnapshotInterval: cfg.Supervisor.SnapshotInterval,
		FailureMarker:    cfg.Supervisor.FailureMarker,
		TailBytes:        cfg.Supervisor.TailBytes,
	}
}

// openHistory opens and migrates the database, then prunes expired history
// and audit entries.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *history.SQLiteRepository, *audit.SQLiteRepository, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.GetBusyTimeout(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // migration error takes precedence
		return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	repo := history.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	if cfg.Database.Retention > 0 {
		n, err := repo.Prune(ctx, cfg.Database.Retention)
		if err != nil {
			log.Warn("pruning history failed", "error", err)
		} else if n > 0 {
			log.Info("pruned expired history", "rows", n, "older_than", cfg.Database.Retention)
		}
		n, err = auditRepo.Prune(ctx, cfg.Database.Retention)
		if err != nil {
			log.Warn("pruning audit log failed", "error", err)
		} else if n > 0 {
			log.Info("pruned expired audit entries", "rows", n, "older_than", cfg.Database.Retention)
		}
	}
	return db, repo, auditRepo, nil
}

// healthChecker names one startup connectivity check.
type healthChecker struct {
	name  string
	check func(context.Context) error
}

// runHealthChecks returns the first failing check.
func runHealthChecks(ctx context.Context, checks []healthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
