package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	cfg, err := Load(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Resolver.Backend != ResolverYTDLP {
		t.Errorf("Resolver.Backend = %q, want %q", cfg.Resolver.Backend, ResolverYTDLP)
	}
	if cfg.Cleanup.Delay.Duration != DefaultCleanupDelay {
		t.Errorf("Cleanup.Delay = %v, want %v", cfg.Cleanup.Delay, DefaultCleanupDelay)
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signreel.toml")
	content := `
data_dir = "` + dir + `"

[server]
port = 8080
auth_token = "secret"

[resolver]
backend = "HTTP"
timeout = "30s"

[cleanup]
delay = "2s"

[pipeline]
concurrency = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("AuthToken = %q, want secret", cfg.Server.AuthToken)
	}
	if cfg.Resolver.Backend != ResolverHTTP {
		t.Errorf("Resolver.Backend = %q, want %q", cfg.Resolver.Backend, ResolverHTTP)
	}
	if cfg.Resolver.Timeout.Duration != 30*time.Second {
		t.Errorf("Resolver.Timeout = %v, want 30s", cfg.Resolver.Timeout)
	}
	if cfg.Cleanup.Delay.Duration != 2*time.Second {
		t.Errorf("Cleanup.Delay = %v, want 2s", cfg.Cleanup.Delay)
	}
	if cfg.Pipeline.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Pipeline.Concurrency)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signreel.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = 8080\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvPort, "9090")
	t.Setenv(EnvCleanupDelay, "1s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Cleanup.Delay.Duration != time.Second {
		t.Errorf("Cleanup.Delay = %v, want 1s", cfg.Cleanup.Delay)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvPort, "70000")

	if _, err := Load(filepath.Join(t.TempDir(), "none.toml")); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestValidate_UnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"dataset backend", func(c *Config) { c.Dataset.Backend = "csv" }},
		{"resolver backend", func(c *Config) { c.Resolver.Backend = "ftp" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty json path", func(c *Config) { c.Dataset.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 1m30s ")); err != nil {
		t.Fatalf("UnmarshalText error: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected error for invalid duration")
	}
}
