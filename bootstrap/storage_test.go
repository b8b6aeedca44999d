package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vigil/config"

	"go.uber.org/zap"
)

func unreachableMongoConfig(t *testing.T, mode config.StartupMode) *config.Config {
	t.Helper()
	cfg := &config.Config{
		SQLitePath:  filepath.Join(t.TempDir(), "vigil.db"),
		StartupMode: mode,
	}
	cfg.MongoDB.URI = "mongodb://127.0.0.1:1"
	cfg.MongoDB.Database = "vigil"
	cfg.MongoDB.Collection = "alerts"
	cfg.MongoDB.MaxPoolSize = 1
	cfg.MongoDB.ConnectTimeout = 200 * time.Millisecond
	return cfg
}

func TestInitStorageGracefulSkipsUnreachableMongo(t *testing.T) {
	withoutRetryDelays(t)
	cfg := unreachableMongoConfig(t, config.StartupModeGraceful)
	sugar := zap.NewNop().Sugar()

	components, err := InitStorage(context.Background(), cfg, sugar)
	if err != nil {
		t.Fatalf("InitStorage() error = %v, want nil in graceful mode", err)
	}
	defer components.Close(sugar)

	if components.SQLite == nil {
		t.Fatal("SQLite should be open")
	}
	if components.MongoDB != nil || components.MongoAlerts != nil {
		t.Error("MongoDB should be left unset when unreachable")
	}
	if components.History() != nil {
		t.Error("History() should be nil without MongoDB")
	}
	if n := len(components.Sinks()); n != 0 {
		t.Errorf("Sinks() returned %d sinks, want 0", n)
	}
	checks := components.HealthChecks()
	if _, ok := checks["mongodb"]; ok {
		t.Error("health checks should not include mongodb")
	}
	if err := checks["sqlite"](context.Background()); err != nil {
		t.Errorf("sqlite health check error = %v", err)
	}
}

func TestInitStorageStrictFailsOnUnreachableMongo(t *testing.T) {
	withoutRetryDelays(t)
	cfg := unreachableMongoConfig(t, config.StartupModeStrict)

	components, err := InitStorage(context.Background(), cfg, zap.NewNop().Sugar())
	if err == nil {
		t.Fatal("InitStorage() error = nil, want connection failure in strict mode")
	}
	if components != nil {
		t.Error("InitStorage() should not return components on failure")
	}
}

func TestStoreUnavailable(t *testing.T) {
	sugar := zap.NewNop().Sugar()
	cause := context.DeadlineExceeded

	graceful := &config.Config{StartupMode: config.StartupModeGraceful}
	if err := storeUnavailable(graceful, sugar, "Redis Connection Failed", "unreachable", cause); err != nil {
		t.Errorf("graceful storeUnavailable() = %v, want nil", err)
	}

	strict := &config.Config{StartupMode: config.StartupModeStrict}
	if err := storeUnavailable(strict, sugar, "Redis Connection Failed", "unreachable", cause); err != cause {
		t.Errorf("strict storeUnavailable() = %v, want %v", err, cause)
	}
}
