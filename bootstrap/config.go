package bootstrap

import (
	"fmt"
	"os"

	"vigil/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapcore.DebugLevel,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	} else {
		sugar.Infow("Config file loaded", "path", viper.ConfigFileUsed())
	}

	sugar.Infow("Startup mode",
		"mode", string(cfg.StartupMode),
		"description", func() string {
			if cfg.StartupMode == config.StartupModeGraceful {
				return "will start without optional stores that cannot be reached"
			}
			return "will fail fast when a configured store cannot be reached"
		}())

	sugar.Infow("Config loaded",
		"port", cfg.Server.Port,
		"gcp_project", cfg.GCP.ProjectID,
		"analysis_service", cfg.Analysis.URL != "",
		"mongodb", cfg.MongoDB.URI != "",
		"clickhouse", cfg.ClickHouse.Addr != "",
		"redis", cfg.Redis.Addr != "",
		"nats", cfg.NATS.URL != "",
		"operator_auth", cfg.AuthEnabled(),
		"sqlite_path", cfg.SQLitePath)

	return cfg, nil
}
