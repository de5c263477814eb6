package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Patterns PatternsConfig `yaml:"patterns" mapstructure:"patterns"`
	Model    ModelConfig    `yaml:"model" mapstructure:"model"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Events   EventsConfig   `yaml:"events" mapstructure:"events"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int             `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration   `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig contains per-client request rate limits
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// EngineConfig contains pseudonymization engine configuration
type EngineConfig struct {
	MaxTextLength   int           `yaml:"max_text_length" mapstructure:"max_text_length"`
	MinConfidence   float64       `yaml:"min_confidence" mapstructure:"min_confidence"`
	DefaultLanguage string        `yaml:"default_language" mapstructure:"default_language"`
	BatchWorkers    int           `yaml:"batch_workers" mapstructure:"batch_workers"`
	ModelTimeout    time.Duration `yaml:"model_timeout" mapstructure:"model_timeout"`
}

// PatternsConfig configures the deterministic pattern detectors. ID and
// License map a language code to additional regex patterns.
type PatternsConfig struct {
	Detectors []string            `yaml:"detectors" mapstructure:"detectors"`
	ID        map[string][]string `yaml:"id" mapstructure:"id"`
	License   map[string][]string `yaml:"license" mapstructure:"license"`
}

// ModelConfig configures the external statistical span producer
type ModelConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	URL           string        `yaml:"url" mapstructure:"url"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MinConfidence float64       `yaml:"min_confidence" mapstructure:"min_confidence"`
}

// CacheConfig contains detection-result cache configuration
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// EventsConfig contains WebSocket event hub configuration
type EventsConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Engine: EngineConfig{
			MaxTextLength:   100_000,
			MinConfidence:   0.5,
			DefaultLanguage: "en",
			BatchWorkers:    4,
			ModelTimeout:    10 * time.Second,
		},
		Patterns: PatternsConfig{
			Detectors: []string{"all"},
		},
		Model: ModelConfig{
			Enabled:       false,
			URL:           "http://localhost:8001",
			Timeout:       10 * time.Second,
			MinConfidence: 0.5,
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     time.Hour,
			KeyPrefix:      "textveil:detect:",
		},
		Events: EventsConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteTimeout:    10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
