package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws"
	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws/gateway"
)

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		gateway.EnvURL, gateway.EnvToken, gateway.EnvOrigin,
		gateway.EnvTLSCert, gateway.EnvTLSKey, gateway.EnvTLSCA,
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}

	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gateway.URL != ws.DefaultEndpoint {
		t.Errorf("expected default url, got %s", cfg.Gateway.URL)
	}

	if cfg.Gateway.RequestTimeout != 30*time.Second {
		t.Errorf("expected 30s request timeout, got %v", cfg.Gateway.RequestTimeout)
	}

	if cfg.Gateway.Identity != ws.DefaultClientIdentity() {
		t.Errorf("expected default identity, got %+v", cfg.Gateway.Identity)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "gatewayctl.yaml", `
gateway:
  url: ws://gateway.internal:18789
  token: from-file
  request_timeout: 5s
  max_reconnect_attempts: 4
  requests_per_second: 2.5
client:
  id: cli
  display_name: Gateway CLI
logging:
  level: debug
  json: true
  file: /tmp/gatewayctl.log
metrics:
  addr: ":9102"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gateway.URL != "ws://gateway.internal:18789" || cfg.Gateway.Token != "from-file" {
		t.Errorf("gateway section not applied: %+v", cfg.Gateway)
	}

	if cfg.Gateway.RequestTimeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Gateway.RequestTimeout)
	}

	if cfg.Gateway.HandshakeTimeout != 10*time.Second {
		t.Errorf("unset handshake timeout should keep default, got %v", cfg.Gateway.HandshakeTimeout)
	}

	if cfg.Gateway.MaxReconnectAttempts != 4 || cfg.Gateway.RequestsPerSecond != 2.5 {
		t.Errorf("unexpected reconnect/rate settings: %+v", cfg.Gateway)
	}

	if cfg.Gateway.Identity.ID != "cli" || cfg.Gateway.Identity.DisplayName != "Gateway CLI" {
		t.Errorf("identity not applied: %+v", cfg.Gateway.Identity)
	}

	if cfg.Gateway.Identity.Platform != "web" {
		t.Errorf("unset identity fields should keep defaults, got %+v", cfg.Gateway.Identity)
	}

	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON || cfg.Logging.File.Path != "/tmp/gatewayctl.log" {
		t.Errorf("logging not applied: %+v", cfg.Logging)
	}

	if cfg.MetricsAddr != ":9102" {
		t.Errorf("expected metrics addr :9102, got %s", cfg.MetricsAddr)
	}
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "gatewayctl.toml", `
[gateway]
url = "wss://gateway.example.com"
origin = "https://gateway.example.com"
handshake_timeout = "3s"

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gateway.URL != "wss://gateway.example.com" || cfg.Gateway.Origin != "https://gateway.example.com" {
		t.Errorf("gateway section not applied: %+v", cfg.Gateway)
	}

	if cfg.Gateway.HandshakeTimeout != 3*time.Second {
		t.Errorf("expected 3s handshake timeout, got %v", cfg.Gateway.HandshakeTimeout)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("expected warn level, got %s", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "gatewayctl.yml", "gateway:\n  url: ws://file:1\n  token: from-file\n")

	t.Setenv(gateway.EnvURL, "ws://env:2")
	t.Setenv(gateway.EnvToken, "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gateway.URL != "ws://env:2" || cfg.Gateway.Token != "from-env" {
		t.Errorf("env should override file: %+v", cfg.Gateway)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown extension", file: "config.json", content: "{}"},
		{name: "bad yaml", file: "bad.yaml", content: "gateway: [unterminated"},
		{name: "bad toml", file: "bad.toml", content: "[gateway\nurl ="},
		{name: "bad duration", file: "dur.yaml", content: "gateway:\n  request_timeout: soon\n"},
		{name: "half tls", file: "tls.yaml", content: "gateway:\n  tls:\n    cert_file: /nonexistent\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)

			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}

	cfg = Default()
	cfg.Gateway.URL = "http://localhost"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for http url")
	}

	cfg = Default()
	cfg.Gateway.RequestsPerSecond = -1

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative rate")
	}
}
