package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"gopkg.in/yaml.v3"
)

// FrontendConfig holds the Cognit Frontend endpoint and credentials.
// The credential fields are never logged.
type FrontendConfig struct {
	Endpoint string `yaml:"cognit_frontend_engine_endpoint"`
	Username string `yaml:"cognit_frontend_engine_usr"`
	Password string `yaml:"cognit_frontend_engine_pwd"`
}

// RuntimeConfig holds supervisor tuning knobs.
type RuntimeConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	TickInterval time.Duration `yaml:"tick_interval"`
	ProbePeriod  time.Duration `yaml:"probe_period"`
	LogLevel     string        `yaml:"log_level"`
}

// RedisConfig holds the optional shared upload-cache backend settings.
// Leave Addr empty to keep the cache in-process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TracingConfig holds the optional OTLP trace exporter settings.
type TracingConfig struct {
	Endpoint string `yaml:"otlp_endpoint"`
	Insecure bool   `yaml:"otlp_insecure"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Frontend FrontendConfig `yaml:"frontend"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			QueueSize:    50,
			TickInterval: 50 * time.Millisecond,
			ProbePeriod:  2 * time.Second,
			LogLevel:     "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("COGNIT_FRONTEND_ENDPOINT"); v != "" {
		cfg.Frontend.Endpoint = v
	}
	if v := os.Getenv("COGNIT_FRONTEND_USR"); v != "" {
		cfg.Frontend.Username = v
	}
	if v := os.Getenv("COGNIT_FRONTEND_PWD"); v != "" {
		cfg.Frontend.Password = v
	}
	if v := os.Getenv("COGNIT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("COGNIT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("COGNIT_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("COGNIT_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("COGNIT_LOG_LEVEL"); v != "" {
		cfg.Runtime.LogLevel = v
	}
}

// Validate rejects a config that cannot reach the Cognit Frontend.
// Endpoint and both credentials are mandatory.
func (c *Config) Validate() error {
	if c.Frontend.Endpoint == "" {
		return fmt.Errorf("%w: cognit_frontend_engine_endpoint is required", domain.ErrConfig)
	}
	if c.Frontend.Username == "" {
		return fmt.Errorf("%w: cognit_frontend_engine_usr is required", domain.ErrConfig)
	}
	if c.Frontend.Password == "" {
		return fmt.Errorf("%w: cognit_frontend_engine_pwd is required", domain.ErrConfig)
	}
	if c.Runtime.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive", domain.ErrConfig)
	}
	if c.Runtime.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", domain.ErrConfig)
	}
	return nil
}
