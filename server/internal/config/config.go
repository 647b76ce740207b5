package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort      = 8888
	DefaultEnv           = "DEV"
	DefaultStaticDir     = "static"
	DefaultShutdownGrace = 5 * time.Second

	DefaultInterval     = 10 * time.Second
	DefaultFetchTimeout = 10 * time.Second

	DefaultCity           = "Singapore"
	DefaultAPIKeyEnv      = "OPENWEATHER_API_KEY"
	DefaultMaxRetries     = 2
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 5 * time.Second

	DefaultPollInterval = time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultAcceptBurst  = 10

	DefaultRedisAddr = "localhost:6379"
	DefaultMirrorKey = "livefeed:snapshot"
	DefaultMirrorTTL = time.Hour
)

// Environment variables that override the file.
const (
	EnvPort     = "PORT"
	EnvMode     = "ENV"
	EnvLogLevel = "LOG_LEVEL"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Refresher RefresherConfig `yaml:"refresher"`
	Source    SourceConfig    `yaml:"source"`
	Stream    StreamConfig    `yaml:"stream"`
	Mirror    MirrorConfig    `yaml:"mirror"`
}

// ServerConfig holds listener and process settings.
type ServerConfig struct {
	// HTTPPort serves the streams, REST API, metrics and UI (default 8888).
	HTTPPort int `yaml:"http_port"`

	// Env is the deployment mode. "DEV" turns on debug text logging unless
	// log.level / log.format say otherwise.
	Env string `yaml:"env"`

	// StaticDir holds the UI; index.html is served for unknown paths.
	StaticDir string `yaml:"static_dir"`

	// ShutdownGrace bounds how long open connections may take to finish.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Addr returns the listen address for HTTPPort.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.HTTPPort)
}

// IsDev reports whether the server runs in development mode.
func (s ServerConfig) IsDev() bool {
	return strings.EqualFold(s.Env, "DEV")
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// RefresherConfig controls the background fetch loop.
type RefresherConfig struct {
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// SourceConfig configures the OpenWeatherMap upstream.
type SourceConfig struct {
	// Endpoint overrides the current-weather URL (tests, proxies).
	Endpoint string `yaml:"endpoint"`
	City     string `yaml:"city"`

	// Units is passed through to the upstream: standard | metric | imperial.
	Units string `yaml:"units"`

	// APIKeyEnv is the name of the environment variable that holds the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	MaxRetries     int           `yaml:"max_retries"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// APIKey returns the API key resolved from the environment.
func (s SourceConfig) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// StreamConfig controls streaming sessions.
type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxSessions caps concurrent sessions; 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// AcceptRate limits new sessions per second; 0 means unlimited.
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`
}

// MirrorConfig controls the Redis copy of the latest snapshot.
type MirrorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	Key       string        `yaml:"key"`
	TTL       time.Duration `yaml:"ttl"`
}

// Load reads the config file at path, applies environment overrides and
// validates the result. An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("server config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("server config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	applyModeDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values. Log settings
// are left empty; they depend on server.env.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:      DefaultHTTPPort,
			Env:           DefaultEnv,
			StaticDir:     DefaultStaticDir,
			ShutdownGrace: DefaultShutdownGrace,
		},
		Refresher: RefresherConfig{
			Interval:     DefaultInterval,
			FetchTimeout: DefaultFetchTimeout,
		},
		Source: SourceConfig{
			City:           DefaultCity,
			APIKeyEnv:      DefaultAPIKeyEnv,
			MaxRetries:     DefaultMaxRetries,
			BackoffInitial: DefaultBackoffInitial,
			BackoffMax:     DefaultBackoffMax,
		},
		Stream: StreamConfig{
			PollInterval: DefaultPollInterval,
			WriteTimeout: DefaultWriteTimeout,
			AcceptBurst:  DefaultAcceptBurst,
		},
		Mirror: MirrorConfig{
			RedisAddr: DefaultRedisAddr,
			Key:       DefaultMirrorKey,
			TTL:       DefaultMirrorTTL,
		},
	}
}

// applyEnv overlays PORT, ENV and LOG_LEVEL.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q is not a port number", EnvPort, v)
		}
		cfg.Server.HTTPPort = port
	}
	if v, ok := lookup(EnvMode); ok && v != "" {
		cfg.Server.Env = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// applyModeDefaults fills unset log settings from server.env.
func applyModeDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
		if cfg.Server.IsDev() {
			cfg.Log.Level = "debug"
		}
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
		if cfg.Server.IsDev() {
			cfg.Log.Format = "text"
		}
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.ShutdownGrace < 0 {
		return fmt.Errorf("server.shutdown_grace must not be negative")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}

	if cfg.Refresher.Interval <= 0 {
		return fmt.Errorf("refresher.interval must be positive")
	}
	if cfg.Refresher.FetchTimeout <= 0 {
		return fmt.Errorf("refresher.fetch_timeout must be positive")
	}

	if cfg.Source.City == "" {
		return fmt.Errorf("source.city is required")
	}
	switch cfg.Source.Units {
	case "", "standard", "metric", "imperial":
	default:
		return fmt.Errorf("source.units %q unknown: want standard|metric|imperial", cfg.Source.Units)
	}
	if cfg.Source.MaxRetries < 0 {
		return fmt.Errorf("source.max_retries must not be negative")
	}
	if cfg.Source.BackoffInitial < 0 || cfg.Source.BackoffMax < 0 {
		return fmt.Errorf("source backoff must not be negative")
	}

	if cfg.Stream.PollInterval <= 0 {
		return fmt.Errorf("stream.poll_interval must be positive")
	}
	if cfg.Stream.WriteTimeout <= 0 {
		return fmt.Errorf("stream.write_timeout must be positive")
	}
	if cfg.Stream.MaxSessions < 0 {
		return fmt.Errorf("stream.max_sessions must not be negative")
	}
	if cfg.Stream.AcceptRate < 0 {
		return fmt.Errorf("stream.accept_rate must not be negative")
	}
	if cfg.Stream.AcceptRate > 0 && cfg.Stream.AcceptBurst < 1 {
		return fmt.Errorf("stream.accept_burst must be at least 1 when accept_rate is set")
	}

	if cfg.Mirror.Enabled && cfg.Mirror.RedisAddr == "" {
		return fmt.Errorf("mirror.redis_addr is required when mirror is enabled")
	}
	if cfg.Mirror.TTL < 0 {
		return fmt.Errorf("mirror.ttl must not be negative")
	}
	return nil
}
