package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingKey is returned when a required configuration key is absent.
var ErrMissingKey = errors.New("missing required configuration key")

// EnvironmentVariable selects config.<env>.yaml as the default config file.
const EnvironmentVariable = "EUREKA_ENVIRONMENT"

const dateLayout = "2006-01-02"

// requiredKeys have no defaults; a run without them must not touch the store.
var requiredKeys = []string{"server", "port", "db_connection_string"}

// Storage backend names accepted by storage.type.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageBolt     = "bolt"
	StorageRedis    = "redis"
)

// Config holds the complete application configuration
type Config struct {
	Server             string              `mapstructure:"server"`
	Port               int                 `mapstructure:"port"`
	DBConnectionString string              `mapstructure:"db_connection_string"`
	ServerOptions      ServerOptionsConfig `mapstructure:"server_options"`
	Storage            StorageConfig       `mapstructure:"storage"`
	Fetch              FetchConfig         `mapstructure:"fetch"`
	Tracking           TrackingConfig      `mapstructure:"tracking"`
	Logging            LoggingConfig       `mapstructure:"logging"`
	Metrics            MetricsConfig       `mapstructure:"metrics"`
	Reports            ReportsConfig       `mapstructure:"reports"`
}

// ServerOptionsConfig tunes how the Minecraft server address is resolved.
type ServerOptionsConfig struct {
	SRVLookup bool `mapstructure:"srv_lookup"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig tunes the Redis client. The address comes from db_connection_string.
type RedisConfig struct {
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FetchConfig controls the Server List Ping client.
type FetchConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	ProtocolVersion int           `mapstructure:"protocol_version"`
	Resolver        string        `mapstructure:"resolver"`
}

// TrackingConfig controls play time accounting.
type TrackingConfig struct {
	// Increment is credited per observation and is also the daemon interval.
	Increment time.Duration `mapstructure:"increment"`
	Timezone  string        `mapstructure:"timezone"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines where metrics are exposed or pushed.
type MetricsConfig struct {
	ListenAddress  string `mapstructure:"listen_address"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// ReportsConfig controls the read-only report commands.
type ReportsConfig struct {
	// MapStart is the YYYY-MM-DD date the current map opened. Empty
	// disables the map leaderboard.
	MapStart string `mapstructure:"map_start"`
}

// MapStartDate parses reports.map_start. The zero time is returned when
// it is unset.
func (c *Config) MapStartDate() (time.Time, error) {
	if c.Reports.MapStart == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, c.Reports.MapStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reports map start %q: %w", c.Reports.MapStart, err)
	}
	return t, nil
}

// DefaultPath returns config.yaml, or config.<env>.yaml when
// EUREKA_ENVIRONMENT is set.
func DefaultPath() string {
	if env := strings.TrimSpace(os.Getenv(EnvironmentVariable)); env != "" {
		return fmt.Sprintf("config.%s.yaml", env)
	}
	return "config.yaml"
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath()
	}

	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("MCLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range requiredKeys {
		// Keys without defaults are invisible to Unmarshal unless bound.
		_ = v.BindEnv(key)
	}

	// A missing file is fatal: the required keys would be absent anyway.
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_options.srv_lookup", false)

	// Storage defaults
	v.SetDefault("storage.type", StorageSQLite)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 0)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Fetch defaults
	v.SetDefault("fetch.timeout", "5s")
	v.SetDefault("fetch.protocol_version", 47)
	v.SetDefault("fetch.resolver", "1.1.1.1:53")

	// Tracking defaults
	v.SetDefault("tracking.increment", "60s")
	v.SetDefault("tracking.timezone", "Local")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.listen_address", "127.0.0.1:9090")
	v.SetDefault("metrics.pushgateway_url", "")

	// Report defaults
	v.SetDefault("reports.map_start", "")
}

// Location resolves tracking.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Tracking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Tracking.Timezone, err)
	}
	return loc, nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Server) == "" {
		return fmt.Errorf("%w: server", ErrMissingKey)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.DBConnectionString) == "" {
		return fmt.Errorf("%w: db_connection_string", ErrMissingKey)
	}

	switch cfg.Storage.Type {
	case StorageSQLite, StoragePostgres, StorageBolt, StorageRedis:
	default:
		return fmt.Errorf("unsupported storage type: %q", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.PoolSize <= 0 {
		return fmt.Errorf("invalid redis pool size: %d", cfg.Storage.Redis.PoolSize)
	}

	if cfg.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if cfg.Fetch.ProtocolVersion < 0 {
		return fmt.Errorf("invalid protocol version: %d", cfg.Fetch.ProtocolVersion)
	}
	if cfg.ServerOptions.SRVLookup && cfg.Fetch.Resolver == "" {
		return fmt.Errorf("fetch resolver is required for SRV lookup")
	}

	// Play time is stored in whole seconds.
	if cfg.Tracking.Increment < time.Second || cfg.Tracking.Increment%time.Second != 0 {
		return fmt.Errorf("tracking increment must be a whole number of seconds, got %s", cfg.Tracking.Increment)
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}

	if _, err := cfg.MapStartDate(); err != nil {
		return err
	}

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", cfg.Logging.Format)
	}

	return nil
}
