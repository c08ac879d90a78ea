package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Usage      UsageConfig      `mapstructure:"usage"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	CORS       CORSConfig       `mapstructure:"cors"`

	// Providers are created on startup when no provider of the same
	// category and name exists yet.
	Providers []ProviderSeed `mapstructure:"providers"`

	// Path of the file the config was read from, empty when only defaults/env were used.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	MetricsPort      int           `mapstructure:"metrics_port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// GatewayConfig holds the forwarding defaults. The timeouts here seed the
// timeout_settings row and are used whenever that row is missing.
type GatewayConfig struct {
	StreamFirstByteTimeout time.Duration   `mapstructure:"stream_first_byte_timeout"`
	StreamIdleTimeout      time.Duration   `mapstructure:"stream_idle_timeout"`
	NonStreamTimeout       time.Duration   `mapstructure:"non_stream_timeout"`
	DebugLog               bool            `mapstructure:"debug_log"`
	Transport              TransportConfig `mapstructure:"transport"`
}

type TransportConfig struct {
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

type AuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Token      string `mapstructure:"token"`
	HeaderName string `mapstructure:"header_name"`
}

// ProviderSeed is a provider declared in the config file. APIKey may
// reference environment variables as ${NAME}.
type ProviderSeed struct {
	Category         string `mapstructure:"category"`
	Name             string `mapstructure:"name"`
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	Priority         int    `mapstructure:"priority"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	BlacklistMinutes int    `mapstructure:"blacklist_minutes"`
	Disabled         bool   `mapstructure:"disabled"`
}

type UsageConfig struct {
	QueueName     string `mapstructure:"queue_name"`
	BatchSize     int    `mapstructure:"batch_size"`
	DrainSchedule string `mapstructure:"drain_schedule"`
	PruneSchedule string `mapstructure:"prune_schedule"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type MonitoringConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	ServiceName   string `mapstructure:"service_name"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

var cfg *Config

// Load reads config.yaml (if any), environment variables and defaults.
// A fresh viper instance is used on every call so Load can be re-run by the watcher.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ccg-gateway")
	}

	setDefaults(v)

	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.File = v.ConfigFileUsed()

	if config.Auth.Enabled && config.Auth.Token == "" {
		return nil, fmt.Errorf("auth.enabled requires auth.token")
	}

	cfg = &config
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7788)
	v.SetDefault("server.metrics_port", 7789)
	v.SetDefault("server.read_timeout", "30s")
	// Streams can last for minutes, so no write deadline by default.
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown", "30s")

	// Database defaults
	v.SetDefault("database.url", "data/ccg_gateway.db")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.max_idle_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")

	// Redis defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	// Gateway defaults
	v.SetDefault("gateway.stream_first_byte_timeout", "30s")
	v.SetDefault("gateway.stream_idle_timeout", "60s")
	v.SetDefault("gateway.non_stream_timeout", "120s")
	v.SetDefault("gateway.debug_log", false)
	v.SetDefault("gateway.transport.connect_timeout", "10s")
	v.SetDefault("gateway.transport.tls_handshake_timeout", "10s")
	v.SetDefault("gateway.transport.max_conns_per_host", 100)
	v.SetDefault("gateway.transport.max_idle_conns", 20)
	v.SetDefault("gateway.transport.idle_conn_timeout", "90s")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.header_name", "X-CCG-Token")

	// Usage defaults
	v.SetDefault("usage.queue_name", "ccg:usage:queue")
	v.SetDefault("usage.batch_size", 100)
	v.SetDefault("usage.drain_schedule", "@every 10s")
	v.SetDefault("usage.prune_schedule", "0 3 * * *")
	v.SetDefault("usage.retention_days", 90)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.service_name", "ccg-gateway")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "")

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 86400)
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.host", "GATEWAY_HOST")
	v.BindEnv("server.port", "GATEWAY_PORT")
	v.BindEnv("server.metrics_port", "METRICS_PORT")

	// Database
	v.BindEnv("database.url", "DATABASE_URL")

	// Redis
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// Gateway
	v.BindEnv("gateway.stream_first_byte_timeout", "STREAM_FIRST_BYTE_TIMEOUT")
	v.BindEnv("gateway.stream_idle_timeout", "STREAM_IDLE_TIMEOUT")
	v.BindEnv("gateway.non_stream_timeout", "NON_STREAM_TIMEOUT")

	// Auth
	v.BindEnv("auth.enabled", "CCG_AUTH_ENABLED")
	v.BindEnv("auth.token", "CCG_AUTH_TOKEN")
	v.BindEnv("auth.header_name", "CCG_AUTH_HEADER_NAME")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")
}

func Get() *Config {
	return cfg
}
