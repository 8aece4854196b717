// Gray Logic Identity - account, token and session service
//
// identityd serves the registration, login and token endpoints used by the
// web dashboard and the macOS companion app, tracks online sessions, and
// exposes the admin surface for users, roles and request statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/accesslog"
	"github.com/nerrad567/gray-logic-identity/internal/api"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/clientsettings"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/redis"
	"github.com/nerrad567/gray-logic-identity/internal/ratelimit"
	"github.com/nerrad567/gray-logic-identity/internal/session"
	"github.com/nerrad567/gray-logic-identity/internal/verification"
	"github.com/nerrad567/gray-logic-identity/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// janitorInterval is how often expired tokens and stale codes are purged.
	janitorInterval = time.Hour
	// recorderDrainTimeout bounds how long shutdown waits for queued access log entries.
	recorderDrainTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Identity",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"environment", cfg.Service.Environment,
	)
	dev := cfg.Service.IsDevelopment()

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

	// MQTT carries outbound mail and session events. Without it codes are
	// only written to the log, which is acceptable in development.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT connection lost", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// The limiter fails open, so a Redis outage after startup only
	// disables limiting. A Redis that is configured but unreachable at
	// startup is still an error.
	var limiter *ratelimit.Limiter
	redisClient, err := redis.Connect(ctx, cfg.Redis)
	switch {
	case errors.Is(err, redis.ErrDisabled):
		if cfg.Security.RateLimit.Enabled {
			log.Warn("rate limiting requested but redis is disabled")
		}
	case err != nil:
		return fmt.Errorf("connecting to redis: %w", err)
	default:
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing redis", "error", closeErr)
			}
		}()
		if cfg.Security.RateLimit.Enabled {
			limiter = ratelimit.New(redisClient.Client, "identity:ratelimit",
				cfg.Security.RateLimit.RequestsPerMinute, time.Minute)
			log.Info("rate limiting enabled", "requests_per_minute", cfg.Security.RateLimit.RequestsPerMinute)
		}
	}

	key, generated, err := auth.LoadPrivateKey(cfg.Security.RSA, dev)
	if err != nil {
		return fmt.Errorf("loading RSA key: %w", err)
	}
	if generated {
		log.Warn("using an ephemeral RSA key; passwords encrypted before a restart will not decrypt")
	}
	vault := auth.NewVault(key, cfg.PublicKeyTTL())

	users := auth.NewUserRepository(db.DB)
	roles := auth.NewRoleRepository(db.DB)
	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Security.JWT.AccessSecret,
		RefreshSecret: cfg.Security.JWT.RefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL(),
		RefreshTTL:    cfg.RefreshTokenTTL(),
	}, auth.NewTokenRepository(db.DB), users, roles)
	tokens.SetLogger(log)
	resolver := auth.NewResolver(roles, users)

	var notifier verification.Notifier = verification.NewLogNotifier(log)
	if mqttClient != nil {
		notifier = verification.NewMQTTNotifier(mqttClient, mqtt.Topics{}.MailOutbox())
	} else if !dev {
		log.Warn("MQTT disabled; verification mail is only logged")
	}
	codes := verification.NewService(verification.NewSQLiteRepository(db.DB), notifier, verification.Options{
		DevMode: dev && cfg.Verification.DevLogCodes,
		Logger:  log,
	})

	policy := auth.RolePolicy{
		AdminEmails: cfg.Security.AdminEmails,
		OwnerEmail:  cfg.Security.OwnerEmail,
	}
	accounts := auth.NewAccountService(auth.AccountDeps{
		Vault:  vault,
		Users:  users,
		Codes:  codes,
		Tokens: tokens,
		Policy: policy,
		Logger: log,
	})
	if _, seedErr := auth.SeedOwner(ctx, users, roles, policy, log); seedErr != nil {
		return fmt.Errorf("applying admin allowlist: %w", seedErr)
	}

	accessLogs := accesslog.NewSQLiteRepository(db.DB)
	var recorder *accesslog.Recorder
	if cfg.AccessLog.Enabled {
		sinks := []accesslog.Sink{accesslog.RepositorySink{Repo: accessLogs}}
		if influxClient != nil {
			sinks = append(sinks, accesslog.InfluxSink{Writer: influxClient})
		}
		recorder = accesslog.NewRecorder(cfg.AccessLog.QueueSize, log, sinks...)
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), recorderDrainTimeout)
			defer cancel()
			if closeErr := recorder.Close(drainCtx); closeErr != nil {
				log.Error("error draining access log", "error", closeErr)
			}
		}()
	}

	sessions := session.NewRegistry(db.DB)
	sessions.SetLogger(log)

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Vault:      vault,
		Accounts:   accounts,
		Tokens:     tokens,
		Users:      users,
		Roles:      roles,
		Resolver:   resolver,
		Codes:      codes,
		Sessions:   sessions,
		Settings:   clientsettings.NewStore(db.DB),
		AccessLogs: accessLogs,
		Audit:      audit.NewSQLiteRepository(db.DB),
		Recorder:   recorder,
		Limiter:    limiter,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	sinks := session.MultiSink{server.Hub()}
	if mqttClient != nil {
		sinks = append(sinks, session.NewMQTTSink(mqttClient, mqtt.Topics{}.SessionEvent, log))
	}
	sessions.SetSink(sinks)

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	go runJanitor(ctx, tokens, codes, log)

	if healthErr := healthCheck(ctx, db, mqttClient, influxClient, redisClient); healthErr != nil {
		log.Warn("initial health check failed", "error", healthErr)
	} else {
		log.Info("all services healthy")
	}

	log.Info("Gray Logic Identity started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	<-ctx.Done()
	log.Info("shutdown signal received, stopping services")

	return nil
}

// runJanitor periodically removes expired refresh tokens and stale codes.
func runJanitor(ctx context.Context, tokens *auth.TokenService, codes *verification.Service, log *logging.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := tokens.DeleteExpired(ctx); err != nil {
				log.Error("purging expired tokens", "error", err)
			} else if n > 0 {
				log.Debug("purged expired tokens", "count", n)
			}
			if n, err := codes.DeleteStale(ctx); err != nil {
				log.Error("purging stale verification codes", "error", err)
			} else if n > 0 {
				log.Debug("purged stale verification codes", "count", n)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Checks IDENTITY_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("IDENTITY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the connected services are responsive. Optional
// clients that are nil are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, redisClient *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
