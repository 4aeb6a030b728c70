// Package config loads gatewayctl settings from a YAML or TOML file and
// the environment.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/LLIEPJIOK/openclaw-gateway/ws/internal/logging"
	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws"
	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws/gateway"
)

type fileConfig struct {
	Gateway gatewaySection  `yaml:"gateway" toml:"gateway"`
	Client  identitySection `yaml:"client" toml:"client"`
	Logging loggingSection  `yaml:"logging" toml:"logging"`
	Metrics metricsSection  `yaml:"metrics" toml:"metrics"`
}

type gatewaySection struct {
	URL                  string     `yaml:"url" toml:"url"`
	Token                string     `yaml:"token" toml:"token"`
	Origin               string     `yaml:"origin" toml:"origin"`
	RequestTimeout       string     `yaml:"request_timeout" toml:"request_timeout"`
	HandshakeTimeout     string     `yaml:"handshake_timeout" toml:"handshake_timeout"`
	ReconnectInterval    string     `yaml:"reconnect_interval" toml:"reconnect_interval"`
	MaxReconnectInterval string     `yaml:"max_reconnect_interval" toml:"max_reconnect_interval"`
	MaxReconnectAttempts int        `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	RequestsPerSecond    float64    `yaml:"requests_per_second" toml:"requests_per_second"`
	RequestBurst         int        `yaml:"request_burst" toml:"request_burst"`
	TLS                  tlsSection `yaml:"tls" toml:"tls"`
}

type tlsSection struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
	CAFile   string `yaml:"ca_file" toml:"ca_file"`
}

type identitySection struct {
	ID           string `yaml:"id" toml:"id"`
	DisplayName  string `yaml:"display_name" toml:"display_name"`
	Version      string `yaml:"version" toml:"version"`
	Platform     string `yaml:"platform" toml:"platform"`
	Mode         string `yaml:"mode" toml:"mode"`
	DeviceFamily string `yaml:"device_family" toml:"device_family"`
}

type loggingSection struct {
	Level      string `yaml:"level" toml:"level"`
	JSON       bool   `yaml:"json" toml:"json"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

type metricsSection struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Config is the resolved gatewayctl configuration.
type Config struct {
	Gateway     gateway.Config
	Logging     logging.Config
	MetricsAddr string
}

func Default() Config {
	return Config{
		Gateway: gateway.DefaultConfig(),
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads path (if not empty), then applies OPENCLAW_GATEWAY_* and TLS_*
// environment variables on top. The format follows the file extension:
// .yaml, .yml or .toml.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return Config{}, err
		}

		if err := raw.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var raw fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return raw, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return raw, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return raw, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return raw, fmt.Errorf("unsupported config format %q", ext)
	}

	return raw, nil
}

func (f fileConfig) apply(cfg *Config) error {
	g := f.Gateway

	setString(&cfg.Gateway.URL, g.URL)
	setString(&cfg.Gateway.Token, g.Token)
	setString(&cfg.Gateway.Origin, g.Origin)

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"request_timeout", g.RequestTimeout, &cfg.Gateway.RequestTimeout},
		{"handshake_timeout", g.HandshakeTimeout, &cfg.Gateway.HandshakeTimeout},
		{"reconnect_interval", g.ReconnectInterval, &cfg.Gateway.ReconnectInterval},
		{"max_reconnect_interval", g.MaxReconnectInterval, &cfg.Gateway.MaxReconnectInterval},
	}

	for _, d := range durations {
		if strings.TrimSpace(d.value) == "" {
			continue
		}

		v, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}

		*d.dst = v
	}

	if g.MaxReconnectAttempts != 0 {
		cfg.Gateway.MaxReconnectAttempts = g.MaxReconnectAttempts
	}

	if g.RequestsPerSecond != 0 {
		cfg.Gateway.RequestsPerSecond = g.RequestsPerSecond
	}

	if g.RequestBurst != 0 {
		cfg.Gateway.RequestBurst = g.RequestBurst
	}

	if g.TLS.CertFile != "" || g.TLS.KeyFile != "" {
		tlsCfg, err := loadTLSFiles(g.TLS)
		if err != nil {
			return err
		}

		cfg.Gateway.TLS = tlsCfg
	}

	id := &cfg.Gateway.Identity
	setString(&id.ID, f.Client.ID)
	setString(&id.DisplayName, f.Client.DisplayName)
	setString(&id.Version, f.Client.Version)
	setString(&id.Platform, f.Client.Platform)
	setString(&id.Mode, f.Client.Mode)
	setString(&id.DeviceFamily, f.Client.DeviceFamily)

	setString(&cfg.Logging.Level, f.Logging.Level)
	cfg.Logging.JSON = cfg.Logging.JSON || f.Logging.JSON
	cfg.Logging.File = logging.FileConfig{
		Path:       strings.TrimSpace(f.Logging.File),
		MaxSizeMB:  f.Logging.MaxSizeMB,
		MaxBackups: f.Logging.MaxBackups,
		Compress:   f.Logging.Compress,
	}

	setString(&cfg.MetricsAddr, f.Metrics.Addr)

	return nil
}

func loadTLSFiles(s tlsSection) (*tls.Config, error) {
	if s.CertFile == "" || s.KeyFile == "" {
		return nil, fmt.Errorf("tls: cert_file and key_file are both required")
	}

	certPEM, err := os.ReadFile(s.CertFile)
	if err != nil {
		return nil, fmt.Errorf("tls: read cert: %w", err)
	}

	keyPEM, err := os.ReadFile(s.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: read key: %w", err)
	}

	var caPEM []byte
	if s.CAFile != "" {
		caPEM, err = os.ReadFile(s.CAFile)
		if err != nil {
			return nil, fmt.Errorf("tls: read ca: %w", err)
		}
	}

	return gateway.TLSConfigFromPEM(certPEM, keyPEM, caPEM)
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnv(gateway.EnvURL); ok {
		cfg.Gateway.URL = v
	}

	if v, ok := os.LookupEnv(gateway.EnvToken); ok && v != "" {
		cfg.Gateway.Token = v
	}

	if v, ok := lookupEnv(gateway.EnvOrigin); ok {
		cfg.Gateway.Origin = v
	}

	if _, ok := lookupEnv(gateway.EnvTLSCert); ok {
		tlsCfg, err := gateway.TLSConfigFromEnv()
		if err != nil {
			return err
		}

		cfg.Gateway.TLS = tlsCfg
	}

	return nil
}

// Validate checks the gateway settings and the logging level.
func (c Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Gateway.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}

	if c.Gateway.Identity == (ws.ClientIdentity{}) {
		return fmt.Errorf("client identity must not be empty")
	}

	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)

	return v, ok && v != ""
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
