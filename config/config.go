package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// StartupMode defines how Vigil handles optional store failures at startup
type StartupMode string

const (
	// StartupModeStrict fails fast when a configured store is unreachable
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful starts without the unreachable store, logging the failure
	StartupModeGraceful StartupMode = "graceful"
)

// ServerConfig configures the HTTP API and live subscriber endpoint.
type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TrustProxy honours X-Forwarded-For, but only from TrustedProxies
	// (IPs or CIDRs).
	TrustProxy     bool     `mapstructure:"trust_proxy"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	RateLimit      struct {
		RequestsPerSecond int `mapstructure:"requests_per_second" validate:"min=1"`
		Burst             int `mapstructure:"burst" validate:"min=1"`
	} `mapstructure:"rate_limit"`
	Auth struct {
		Username     string `mapstructure:"username"`
		Password     string `mapstructure:"password"`
		PasswordHash string `mapstructure:"password_hash"`
		BcryptCost   int    `mapstructure:"bcrypt_cost" validate:"min=4,max=31"`
	} `mapstructure:"auth"`
}

// GCPConfig configures the Cloud Logging poll channel.
type GCPConfig struct {
	ProjectID    string        `mapstructure:"project_id"`
	Filter       string        `mapstructure:"filter"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"min=1s"`
	PageSize     int           `mapstructure:"page_size" validate:"min=1,max=1000"`
	Lookback     time.Duration `mapstructure:"lookback" validate:"min=0"`
}

// AnalysisConfig configures the remote analysis service.
type AnalysisConfig struct {
	URL         string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"min=1ms"`
	MaxFailures uint32        `mapstructure:"max_failures" validate:"min=1"`
	Cooldown    time.Duration `mapstructure:"cooldown" validate:"min=1ms"`
}

// MongoDBConfig configures the operational alert store.
type MongoDBConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database" validate:"required"`
	Collection  string `mapstructure:"collection" validate:"required"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size" validate:"min=1"`

	// ConnectTimeout bounds server selection for each connection attempt
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"min=1ms"`
}

// ClickHouseConfig configures the analytics alert store.
type ClickHouseConfig struct {
	Addr          string        `mapstructure:"addr"`
	Database      string        `mapstructure:"database" validate:"required"`
	Table         string        `mapstructure:"table" validate:"required"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	TLS           bool          `mapstructure:"tls"`
	MaxPoolSize   int           `mapstructure:"max_pool_size" validate:"min=1"`
	BatchSize     int           `mapstructure:"batch_size" validate:"min=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"min=1ms"`
}

// RedisConfig configures the shared dedup store. An empty Addr selects the
// in-process LRU instead.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	PoolSize int           `mapstructure:"pool_size" validate:"min=1"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl" validate:"min=1s"`
}

// NATSConfig configures the optional alert relay.
type NATSConfig struct {
	URL         string `mapstructure:"url"`
	Subject     string `mapstructure:"subject" validate:"required"`
	MinSeverity string `mapstructure:"min_severity" validate:"oneof=INFO MEDIUM HIGH"`
}

// ReportConfig addresses the incident report payloads built by the reporter stage.
type ReportConfig struct {
	SlackChannel        string `mapstructure:"slack_channel"`
	GitHubRepo          string `mapstructure:"github_repo"`
	PagerDutyRoutingKey string `mapstructure:"pagerduty_routing_key"`
	ConsoleURL          string `mapstructure:"console_url" validate:"omitempty,url"`
}

// Config holds all configuration for the Vigil service
type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	GCP         GCPConfig        `mapstructure:"gcp"`
	Analysis    AnalysisConfig   `mapstructure:"analysis"`
	MongoDB     MongoDBConfig    `mapstructure:"mongodb"`
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse"`
	Redis       RedisConfig      `mapstructure:"redis"`
	NATS        NATSConfig       `mapstructure:"nats"`
	Report      ReportConfig     `mapstructure:"report"`
	StartupMode StartupMode      `mapstructure:"startup_mode" validate:"oneof=strict graceful"`
	SQLitePath  string           `mapstructure:"sqlite_path" validate:"required"`
	RulesFile   string           `mapstructure:"rules_file"`
	DedupSize   int              `mapstructure:"dedup_size" validate:"min=1"`
	SinkTimeout time.Duration    `mapstructure:"sink_timeout" validate:"min=1ms"`
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"*"})
	viper.SetDefault("server.trust_proxy", false)
	viper.SetDefault("server.trusted_proxies", []string{})
	viper.SetDefault("server.rate_limit.requests_per_second", 50)
	viper.SetDefault("server.rate_limit.burst", 100)
	viper.SetDefault("server.auth.username", "")
	viper.SetDefault("server.auth.password", "")
	viper.SetDefault("server.auth.password_hash", "")
	viper.SetDefault("server.auth.bcrypt_cost", bcrypt.DefaultCost)

	viper.SetDefault("gcp.project_id", "")
	viper.SetDefault("gcp.filter", "")
	viper.SetDefault("gcp.poll_interval", 15*time.Second)
	viper.SetDefault("gcp.page_size", 50)
	viper.SetDefault("gcp.lookback", 5*time.Minute)

	viper.SetDefault("analysis.url", "")
	viper.SetDefault("analysis.timeout", 30*time.Second)
	viper.SetDefault("analysis.max_failures", 5)
	viper.SetDefault("analysis.cooldown", 30*time.Second)

	viper.SetDefault("mongodb.uri", "")
	viper.SetDefault("mongodb.database", "vigil")
	viper.SetDefault("mongodb.collection", "alerts")
	viper.SetDefault("mongodb.max_pool_size", 10)
	viper.SetDefault("mongodb.connect_timeout", 5*time.Second)

	viper.SetDefault("clickhouse.addr", "")
	viper.SetDefault("clickhouse.database", "vigil")
	viper.SetDefault("clickhouse.table", "cloud_alerts")
	viper.SetDefault("clickhouse.username", "default")
	viper.SetDefault("clickhouse.password", "")
	viper.SetDefault("clickhouse.tls", false)
	viper.SetDefault("clickhouse.max_pool_size", 10)
	viper.SetDefault("clickhouse.batch_size", 100)
	viper.SetDefault("clickhouse.flush_interval", 2*time.Second)

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dedup_ttl", 24*time.Hour)

	viper.SetDefault("nats.url", "")
	viper.SetDefault("nats.subject", "vigil.alerts")
	viper.SetDefault("nats.min_severity", "HIGH")

	viper.SetDefault("report.slack_channel", "#security-incidents")
	viper.SetDefault("report.github_repo", "")
	viper.SetDefault("report.pagerduty_routing_key", "")
	viper.SetDefault("report.console_url", "")

	viper.SetDefault("startup_mode", string(StartupModeGraceful))
	viper.SetDefault("sqlite_path", "data/vigil.db")
	viper.SetDefault("rules_file", "")
	viper.SetDefault("dedup_size", 10000)
	viper.SetDefault("sink_timeout", 5*time.Second)
}

func loadFromEnv() {
	viper.SetEnvPrefix("VIGIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Plain names used by the deployment manifests
	_ = viper.BindEnv("server.port", "VIGIL_SERVER_PORT", "PORT")
	_ = viper.BindEnv("gcp.project_id", "VIGIL_GCP_PROJECT_ID", "GCP_PROJECT_ID")
	_ = viper.BindEnv("analysis.url", "VIGIL_ANALYSIS_URL", "ANALYSIS_SERVICE_URL")
	_ = viper.BindEnv("mongodb.uri", "VIGIL_MONGODB_URI", "MONGO_URI")
	_ = viper.BindEnv("clickhouse.database", "VIGIL_CLICKHOUSE_DATABASE", "ANALYTICS_DATASET")
	_ = viper.BindEnv("clickhouse.table", "VIGIL_CLICKHOUSE_TABLE", "ANALYTICS_TABLE")
}

// LoadConfig loads configuration from config.yaml (optional), environment
// variables and defaults, in increasing order of precedence for env.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	if err := hashPassword(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// AuthEnabled reports whether operator routes require basic auth.
func (c *Config) AuthEnabled() bool {
	return c.Server.Auth.Username != "" && c.Server.Auth.PasswordHash != ""
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func validateConfig(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if config.Server.Auth.Username != "" && config.Server.Auth.Password == "" && config.Server.Auth.PasswordHash == "" {
		return fmt.Errorf("invalid configuration: server.auth.username set without a password")
	}
	for _, proxy := range config.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err == nil {
			continue
		}
		if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid configuration: trusted proxy %q is not an IP or CIDR", proxy)
		}
	}
	return nil
}

// hashPassword replaces a plaintext operator password with its bcrypt hash
// so the plaintext does not outlive config loading.
func hashPassword(config *Config) error {
	auth := &config.Server.Auth
	if auth.Password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(auth.Password), auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash operator password: %w", err)
	}
	auth.PasswordHash = string(hash)
	auth.Password = ""
	return nil
}
