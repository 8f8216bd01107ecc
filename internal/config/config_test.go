// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"
  token_ttl: "24h"

rules:
  path: "./rules.toml"

sync:
  write_timeout: "5s"
  read_timeout: "60s"
  ping_interval: "20s"
  dedupe_ttl: "5m"
  dedupe_size: 10000

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "test-secret")
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, 24*time.Hour)
	}
	if cfg.Rules.Path != "./rules.toml" {
		t.Errorf("Rules.Path = %q, want %q", cfg.Rules.Path, "./rules.toml")
	}
	if cfg.Sync.WriteTimeout != 5*time.Second {
		t.Errorf("Sync.WriteTimeout = %v, want %v", cfg.Sync.WriteTimeout, 5*time.Second)
	}
	if cfg.Sync.DedupeTTL != 5*time.Minute {
		t.Errorf("Sync.DedupeTTL = %v, want %v", cfg.Sync.DedupeTTL, 5*time.Minute)
	}
	if cfg.Sync.DedupeSize != 10000 {
		t.Errorf("Sync.DedupeSize = %d, want %d", cfg.Sync.DedupeSize, 10000)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("WEFT_TEST_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "${WEFT_TEST_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "from-env")
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "x${WEFT_DEFINITELY_UNSET_VAR}y"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "xy" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "xy")
	}
}

func TestLoad_MissingHTTPAddr(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "test-secret"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "http_addr") {
		t.Errorf("Load() error = %v, want http_addr validation error", err)
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("Load() error = %v, want jwt_secret validation error", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "test-secret"
sync:
  ping_interval: "not-a-duration"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ping_interval") {
		t.Errorf("Load() error = %v, want ping_interval parse error", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}
