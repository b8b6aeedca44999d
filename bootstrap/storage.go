package bootstrap

import (
	"context"
	"fmt"
	"time"

	"vigil/api"
	"vigil/config"
	"vigil/storage"

	"go.uber.org/zap"
)

// StorageComponents holds the stores the pipeline writes to. Only SQLite is
// required; the others are nil when their address is not configured.
type StorageComponents struct {
	SQLite         *storage.SQLite
	MongoDB        *storage.MongoDB
	MongoAlerts    *storage.MongoAlertStore
	ClickHouse     *storage.ClickHouse
	ClickHouseSink *storage.ClickHouseAlertSink
	Redis          *storage.RedisDedupStore
}

// Sinks returns the configured best-effort alert sinks
func (s *StorageComponents) Sinks() []storage.AlertSink {
	var sinks []storage.AlertSink
	if s.MongoAlerts != nil {
		sinks = append(sinks, s.MongoAlerts)
	}
	if s.ClickHouseSink != nil {
		sinks = append(sinks, s.ClickHouseSink)
	}
	return sinks
}

// History returns the alert history reader, or nil without MongoDB
func (s *StorageComponents) History() storage.AlertReader {
	if s.MongoAlerts == nil {
		return nil
	}
	return s.MongoAlerts
}

// HealthChecks returns a ping per open store for /health
func (s *StorageComponents) HealthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{}
	if s.SQLite != nil {
		checks["sqlite"] = s.SQLite.HealthCheck
	}
	if s.MongoDB != nil {
		checks["mongodb"] = s.MongoDB.HealthCheck
	}
	if s.ClickHouse != nil {
		checks["clickhouse"] = s.ClickHouse.Conn.Ping
	}
	if s.Redis != nil {
		checks["redis"] = s.Redis.Ping
	}
	return checks
}

// InitSQLite opens the dead-letter database.
func InitSQLite(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(cfg.SQLitePath, sugar)
	if err != nil {
		printFatal("SQLite Initialization Failed", ClassifySQLiteError(err, cfg.SQLitePath))
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// InitMongoDB connects to the operational store with retry logic.
func InitMongoDB(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.MongoDB, *storage.MongoAlertStore, error) {
	if cfg.MongoDB.URI == "" {
		sugar.Warn("MongoDB URI not set, alert history disabled")
		return nil, nil, nil
	}

	mongo, err := connectWithRetry("MongoDB", sugar, func() (*storage.MongoDB, error) {
		return storage.NewMongoDB(cfg.MongoDB, sugar)
	})
	if err != nil {
		return nil, nil, storeUnavailable(cfg, sugar, "MongoDB Connection Failed",
			ClassifyConnectionError(err, "MongoDB", "mongodb.uri"), err)
	}

	return mongo, storage.NewMongoAlertStore(mongo, cfg.MongoDB.Collection, sugar), nil
}

// InitClickHouse connects to the analytics store with retry logic, which
// also ensures the alert table, and starts its batching sink.
func InitClickHouse(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.ClickHouse, *storage.ClickHouseAlertSink, error) {
	if cfg.ClickHouse.Addr == "" {
		sugar.Info("ClickHouse address not set, analytics sink disabled")
		return nil, nil, nil
	}

	clickhouse, err := connectWithRetry("ClickHouse", sugar, func() (*storage.ClickHouse, error) {
		return storage.NewClickHouse(cfg.ClickHouse, sugar)
	})
	if err != nil {
		return nil, nil, storeUnavailable(cfg, sugar, "ClickHouse Connection Failed",
			ClassifyConnectionError(err, "ClickHouse", cfg.ClickHouse.Addr), err)
	}

	sugar.Infow("ClickHouse analytics sink ready", "table", cfg.ClickHouse.Table)
	return clickhouse, storage.NewClickHouseAlertSink(ctx, clickhouse, sugar), nil
}

// InitRedis connects to the shared dedup store. Without an address the
// deduplicator stays process-local.
func InitRedis(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.RedisDedupStore, error) {
	if cfg.Redis.Addr == "" {
		sugar.Info("Redis address not set, using in-process dedup cache")
		return nil, nil
	}

	redis, err := connectWithRetry("Redis", sugar, func() (*storage.RedisDedupStore, error) {
		return storage.NewRedisDedupStore(cfg.Redis, sugar)
	})
	if err != nil {
		return nil, storeUnavailable(cfg, sugar, "Redis Connection Failed",
			ClassifyConnectionError(err, "Redis", cfg.Redis.Addr), err)
	}
	return redis, nil
}

// storeUnavailable reports an optional store that could not be reached. In
// graceful mode the failure is logged and nil is returned so startup goes
// on without the store; in strict mode it is fatal.
func storeUnavailable(cfg *config.Config, sugar *zap.SugaredLogger, title, message string, err error) error {
	if cfg.StartupMode == config.StartupModeGraceful {
		sugar.Errorw(title+", continuing without it",
			"reason", message,
			"error", err)
		return nil
	}
	printFatal(title, message)
	return err
}

// InitStorage opens every configured store. SQLite is always required; the
// other stores are only fatal in strict startup mode. On failure, stores
// already opened are closed before returning.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	components := &StorageComponents{}
	var err error

	if components.SQLite, err = InitSQLite(cfg, sugar); err != nil {
		return nil, err
	}
	if components.MongoDB, components.MongoAlerts, err = InitMongoDB(cfg, sugar); err != nil {
		components.Close(sugar)
		return nil, err
	}
	if components.ClickHouse, components.ClickHouseSink, err = InitClickHouse(ctx, cfg, sugar); err != nil {
		components.Close(sugar)
		return nil, err
	}
	if components.Redis, err = InitRedis(cfg, sugar); err != nil {
		components.Close(sugar)
		return nil, err
	}
	return components, nil
}

// Close flushes the analytics sink and closes every open connection
func (s *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if s.ClickHouseSink != nil {
		if err := s.ClickHouseSink.Stop(); err != nil {
			sugar.Errorw("ClickHouse sink shutdown timed out", "error", err)
		}
	}
	if s.ClickHouse != nil {
		if err := s.ClickHouse.Close(); err != nil {
			sugar.Errorw("Failed to close ClickHouse connection", "error", err)
		}
	}
	if s.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.MongoDB.Close(ctx); err != nil {
			sugar.Errorw("Failed to close MongoDB connection", "error", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}
}
