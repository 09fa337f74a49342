package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Frontend = FrontendConfig{
		Endpoint: "https://frontend.cognit.example:8000",
		Username: "device",
		Password: "secret",
	}
	return cfg
}

func TestDefaultsAreServeReady(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Runtime.QueueSize != 50 {
		t.Fatalf("queue size default = %d, want 50", cfg.Runtime.QueueSize)
	}
	if cfg.Runtime.TickInterval != 50*time.Millisecond {
		t.Fatalf("tick default = %v", cfg.Runtime.TickInterval)
	}
	if cfg.Runtime.ProbePeriod != 2*time.Second {
		t.Fatalf("probe period default = %v", cfg.Runtime.ProbePeriod)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cognit.yml")
	content := `
frontend:
  cognit_frontend_engine_endpoint: https://frontend.cognit.example:8000
  cognit_frontend_engine_usr: device
  cognit_frontend_engine_pwd: secret
runtime:
  queue_size: 10
  log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Frontend.Endpoint != "https://frontend.cognit.example:8000" {
		t.Fatalf("endpoint = %q", cfg.Frontend.Endpoint)
	}
	if cfg.Runtime.QueueSize != 10 {
		t.Fatalf("queue size override lost: %d", cfg.Runtime.QueueSize)
	}
	if cfg.Runtime.TickInterval != 50*time.Millisecond {
		t.Fatal("unset fields must keep their defaults")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yml"))
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestEnvOverridesFileValues(t *testing.T) {
	t.Setenv("COGNIT_FRONTEND_ENDPOINT", "https://override.example:8000")
	t.Setenv("COGNIT_LOG_LEVEL", "debug")

	cfg := validConfig()
	LoadFromEnv(cfg)

	if cfg.Frontend.Endpoint != "https://override.example:8000" {
		t.Fatalf("endpoint not overridden: %q", cfg.Frontend.Endpoint)
	}
	if cfg.Frontend.Username != "device" {
		t.Fatal("unset env vars must not clear existing values")
	}
	if cfg.Runtime.LogLevel != "debug" {
		t.Fatalf("log level not overridden: %q", cfg.Runtime.LogLevel)
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	for _, strip := range []func(*Config){
		func(c *Config) { c.Frontend.Endpoint = "" },
		func(c *Config) { c.Frontend.Username = "" },
		func(c *Config) { c.Frontend.Password = "" },
		func(c *Config) { c.Runtime.QueueSize = 0 },
	} {
		cfg := validConfig()
		strip(cfg)
		if err := cfg.Validate(); !errors.Is(err, domain.ErrConfig) {
			t.Fatalf("want config error, got %v", err)
		}
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("complete config should validate: %v", err)
	}
}
