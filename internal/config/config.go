package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete configuration shared by the authority,
// monitor and reaper binaries. Each binary reads only the sections it needs.
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Security   SecurityConfig   `yaml:"security" envconfig:"SECURITY"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Database   DatabaseConfig   `yaml:"database" envconfig:"DATABASE"`
	LocalStore LocalStoreConfig `yaml:"local_store" envconfig:"LOCAL_STORE"`
	License    LicenseConfig    `yaml:"license" envconfig:"LICENSE"`
	Reaper     ReaperConfig     `yaml:"reaper" envconfig:"REAPER"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket  WebSocketConfig  `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"60s"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	// AdminTokenHash is the bcrypt hash of the bearer token accepted by the
	// admin license routes. Empty disables the admin API.
	AdminTokenHash string          `yaml:"admin_token_hash" envconfig:"ADMIN_TOKEN_HASH"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration for the public
// verification endpoint
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// DatabaseConfig describes the relational store. The authority uses it for
// license records, the monitor for its device table.
type DatabaseConfig struct {
	Driver         string        `yaml:"driver" envconfig:"DRIVER" default:"sqlite"`
	DSN            string        `yaml:"dsn" envconfig:"DSN" default:"data/licensehub.db"`
	MaxConns       int           `yaml:"max_conns" envconfig:"MAX_CONNS" default:"10"`
	RetryAttempts  int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" envconfig:"RETRY_BASE_DELAY" default:"100ms"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" envconfig:"RETRY_MAX_DELAY" default:"2s"`
}

// LocalStoreConfig selects the instance key-value store backend
type LocalStoreConfig struct {
	Backend     string `yaml:"backend" envconfig:"BACKEND" default:"sqlite"`
	SQLitePath  string `yaml:"sqlite_path" envconfig:"SQLITE_PATH" default:"data/instance.db"`
	RedisURL    string `yaml:"redis_url" envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisPrefix string `yaml:"redis_prefix" envconfig:"REDIS_PREFIX" default:"licensehub:instance:"`
}

// LicenseConfig holds the monitored instance's license client settings
type LicenseConfig struct {
	AuthorityURL       string        `yaml:"authority_url" envconfig:"AUTHORITY_URL" default:"http://localhost:8081"`
	Key                string        `yaml:"key" envconfig:"KEY"`
	UserID             string        `yaml:"user_id" envconfig:"USER_ID"`
	RefreshInterval    time.Duration `yaml:"refresh_interval" envconfig:"REFRESH_INTERVAL" default:"1h"`
	GracePeriod        time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD" default:"168h"`
	CheckTimeout       time.Duration `yaml:"check_timeout" envconfig:"CHECK_TIMEOUT" default:"10s"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures" envconfig:"BREAKER_MAX_FAILURES" default:"3"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" envconfig:"BREAKER_OPEN_TIMEOUT" default:"1m"`
}

// ReaperConfig controls the dormant license reaper
type ReaperConfig struct {
	Enabled        bool          `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	Interval       time.Duration `yaml:"interval" envconfig:"INTERVAL" default:"24h"`
	DormancyPeriod time.Duration `yaml:"dormancy_period" envconfig:"DORMANCY_PERIOD" default:"8760h"`
}

// TelemetryConfig controls OpenTelemetry providers
type TelemetryConfig struct {
	ServiceName   string  `yaml:"service_name" envconfig:"SERVICE_NAME" default:"licensehub"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1"`
}

// WebSocketConfig contains WebSocket configuration for the status feed
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" default:"30s"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
}

// Load loads configuration from environment variables and an optional
// config file. Explicitly set environment variables win over the file.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := getConfigFilePath(); configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// pick returns the file value unless the env var was set explicitly or the
// file left the field empty.
func pick[T comparable](key string, envValue, fileValue T) T {
	var zero T
	if _, set := os.LookupEnv(EnvPrefix + "_" + key); set || fileValue == zero {
		return envValue
	}
	return fileValue
}

// mergeConfigs merges file config with env config (explicit env takes precedence)
func mergeConfigs(f, e Config) Config {
	e.Server.Port = pick("SERVER_PORT", e.Server.Port, f.Server.Port)
	e.Server.ReadTimeout = pick("SERVER_READ_TIMEOUT", e.Server.ReadTimeout, f.Server.ReadTimeout)
	e.Server.WriteTimeout = pick("SERVER_WRITE_TIMEOUT", e.Server.WriteTimeout, f.Server.WriteTimeout)
	e.Server.IdleTimeout = pick("SERVER_IDLE_TIMEOUT", e.Server.IdleTimeout, f.Server.IdleTimeout)
	e.Server.ShutdownTimeout = pick("SERVER_SHUTDOWN_TIMEOUT", e.Server.ShutdownTimeout, f.Server.ShutdownTimeout)
	e.Server.RequestTimeout = pick("SERVER_REQUEST_TIMEOUT", e.Server.RequestTimeout, f.Server.RequestTimeout)
	e.Server.MaxUploadBytes = pick("SERVER_MAX_UPLOAD_BYTES", e.Server.MaxUploadBytes, f.Server.MaxUploadBytes)

	e.Security.AdminTokenHash = pick("SECURITY_ADMIN_TOKEN_HASH", e.Security.AdminTokenHash, f.Security.AdminTokenHash)
	e.Security.RateLimit.RPS = pick("SECURITY_RATE_LIMIT_RPS", e.Security.RateLimit.RPS, f.Security.RateLimit.RPS)
	e.Security.RateLimit.Burst = pick("SECURITY_RATE_LIMIT_BURST", e.Security.RateLimit.Burst, f.Security.RateLimit.Burst)

	e.Logging.Level = pick("LOGGING_LEVEL", e.Logging.Level, f.Logging.Level)
	e.Logging.Output = pick("LOGGING_OUTPUT", e.Logging.Output, f.Logging.Output)
	e.Logging.FilePath = pick("LOGGING_FILE_PATH", e.Logging.FilePath, f.Logging.FilePath)

	e.Database.Driver = pick("DATABASE_DRIVER", e.Database.Driver, f.Database.Driver)
	e.Database.DSN = pick("DATABASE_DSN", e.Database.DSN, f.Database.DSN)
	e.Database.MaxConns = pick("DATABASE_MAX_CONNS", e.Database.MaxConns, f.Database.MaxConns)
	e.Database.RetryAttempts = pick("DATABASE_RETRY_ATTEMPTS", e.Database.RetryAttempts, f.Database.RetryAttempts)
	e.Database.RetryBaseDelay = pick("DATABASE_RETRY_BASE_DELAY", e.Database.RetryBaseDelay, f.Database.RetryBaseDelay)
	e.Database.RetryMaxDelay = pick("DATABASE_RETRY_MAX_DELAY", e.Database.RetryMaxDelay, f.Database.RetryMaxDelay)

	e.LocalStore.Backend = pick("LOCAL_STORE_BACKEND", e.LocalStore.Backend, f.LocalStore.Backend)
	e.LocalStore.SQLitePath = pick("LOCAL_STORE_SQLITE_PATH", e.LocalStore.SQLitePath, f.LocalStore.SQLitePath)
	e.LocalStore.RedisURL = pick("LOCAL_STORE_REDIS_URL", e.LocalStore.RedisURL, f.LocalStore.RedisURL)
	e.LocalStore.RedisPrefix = pick("LOCAL_STORE_REDIS_PREFIX", e.LocalStore.RedisPrefix, f.LocalStore.RedisPrefix)

	e.License.AuthorityURL = pick("LICENSE_AUTHORITY_URL", e.License.AuthorityURL, f.License.AuthorityURL)
	e.License.Key = pick("LICENSE_KEY", e.License.Key, f.License.Key)
	e.License.UserID = pick("LICENSE_USER_ID", e.License.UserID, f.License.UserID)
	e.License.RefreshInterval = pick("LICENSE_REFRESH_INTERVAL", e.License.RefreshInterval, f.License.RefreshInterval)
	e.License.GracePeriod = pick("LICENSE_GRACE_PERIOD", e.License.GracePeriod, f.License.GracePeriod)
	e.License.CheckTimeout = pick("LICENSE_CHECK_TIMEOUT", e.License.CheckTimeout, f.License.CheckTimeout)
	e.License.BreakerMaxFailures = pick("LICENSE_BREAKER_MAX_FAILURES", e.License.BreakerMaxFailures, f.License.BreakerMaxFailures)
	e.License.BreakerOpenTimeout = pick("LICENSE_BREAKER_OPEN_TIMEOUT", e.License.BreakerOpenTimeout, f.License.BreakerOpenTimeout)

	e.Reaper.Interval = pick("REAPER_INTERVAL", e.Reaper.Interval, f.Reaper.Interval)
	e.Reaper.DormancyPeriod = pick("REAPER_DORMANCY_PERIOD", e.Reaper.DormancyPeriod, f.Reaper.DormancyPeriod)

	e.Telemetry.ServiceName = pick("TELEMETRY_SERVICE_NAME", e.Telemetry.ServiceName, f.Telemetry.ServiceName)
	e.Telemetry.Environment = pick("TELEMETRY_ENVIRONMENT", e.Telemetry.Environment, f.Telemetry.Environment)
	e.Telemetry.TraceExporter = pick("TELEMETRY_TRACE_EXPORTER", e.Telemetry.TraceExporter, f.Telemetry.TraceExporter)

	return e
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch c.LocalStore.Backend {
	case LocalStoreSQLite, LocalStoreRedis:
	default:
		return fmt.Errorf("unsupported local store backend: %q", c.LocalStore.Backend)
	}

	if u, err := url.Parse(c.License.AuthorityURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid license authority url: %q", c.License.AuthorityURL)
	}

	if c.License.RefreshInterval < MinRefreshInterval {
		return fmt.Errorf("license refresh interval must be at least %s", MinRefreshInterval)
	}

	if c.License.GracePeriod <= 0 {
		return fmt.Errorf("license grace period must be positive")
	}

	if c.License.CheckTimeout <= 0 {
		return fmt.Errorf("license check timeout must be positive")
	}

	if c.Reaper.DormancyPeriod <= 0 {
		return fmt.Errorf("reaper dormancy period must be positive")
	}

	if c.Reaper.Enabled && c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper interval must be positive")
	}

	// JSON is the only supported log format
	c.Logging.Format = "json"

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  60 * time.Second,
			MaxUploadBytes:  10 << 20, // 10MB
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/app.log",
		},
		Database: DatabaseConfig{
			Driver:         DriverSQLite,
			DSN:            "data/licensehub.db",
			MaxConns:       10,
			RetryAttempts:  DefaultRetryAttempts,
			RetryBaseDelay: DefaultRetryBaseDelay,
			RetryMaxDelay:  DefaultRetryMaxDelay,
		},
		LocalStore: LocalStoreConfig{
			Backend:     LocalStoreSQLite,
			SQLitePath:  "data/instance.db",
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "licensehub:instance:",
		},
		License: LicenseConfig{
			AuthorityURL:       "http://localhost:8081",
			RefreshInterval:    DefaultRefreshInterval,
			GracePeriod:        DefaultGracePeriod,
			CheckTimeout:       DefaultCheckTimeout,
			BreakerMaxFailures: 3,
			BreakerOpenTimeout: time.Minute,
		},
		Reaper: ReaperConfig{
			Enabled:        true,
			Interval:       DefaultReaperInterval,
			DormancyPeriod: DefaultDormancyPeriod,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   AppName,
			Environment:   "development",
			TraceExporter: "none",
			SampleRatio:   1,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}
