// Package gateway wires ws.Client to an OpenClaw gateway with its usual
// defaults.
package gateway

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws"
)

const (
	EnvURL    = "OPENCLAW_GATEWAY_URL"
	EnvToken  = "OPENCLAW_GATEWAY_TOKEN"
	EnvOrigin = "OPENCLAW_GATEWAY_ORIGIN"
)

type Config struct {
	URL    string      // адрес шлюза, ws:// или wss://
	Token  string      // токен оператора
	Origin string      // заголовок Origin при апгрейде
	TLS    *tls.Config // nil для ws://

	Identity ws.ClientIdentity

	RequestTimeout       time.Duration
	HandshakeTimeout     time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	MaxReconnectAttempts int
	RequestsPerSecond    float64
	RequestBurst         int

	Logger  *slog.Logger
	Metrics *ws.Metrics
}

// DefaultConfig targets a gateway on localhost.
func DefaultConfig() Config {
	def := ws.DefaultClientConfig(ws.DefaultEndpoint, "")

	return Config{
		URL:                  def.URL,
		Origin:               def.Origin,
		Identity:             def.Identity,
		RequestTimeout:       def.RequestTimeout,
		HandshakeTimeout:     def.HandshakeTimeout,
		ReconnectInterval:    def.ReconnectInterval,
		MaxReconnectInterval: def.MaxReconnectInterval,
	}
}

// ConfigFromEnv starts from DefaultConfig and applies OPENCLAW_GATEWAY_*
// variables. TLS is loaded from TLS_CERT/TLS_KEY/TLS_CA for wss:// URLs
// when those are set.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv(EnvURL)); v != "" {
		cfg.URL = v
	}

	if v := os.Getenv(EnvToken); v != "" {
		cfg.Token = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvOrigin)); v != "" {
		cfg.Origin = v
	}

	if strings.HasPrefix(cfg.URL, "wss://") && os.Getenv(EnvTLSCert) != "" {
		tlsCfg, err := TLSConfigFromEnv()
		if err != nil {
			return Config{}, err
		}

		cfg.TLS = tlsCfg
	}

	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid gateway url: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("gateway url %q has no host", c.URL)
	}

	if c.RequestTimeout < 0 || c.HandshakeTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	return nil
}

// ClientConfig converts c into a ws.ClientConfig.
func (c Config) ClientConfig() ws.ClientConfig {
	cc := ws.DefaultClientConfig(c.URL, c.Token)
	cc.Origin = c.Origin
	cc.TLS = c.TLS
	cc.RequestTimeout = c.RequestTimeout
	cc.HandshakeTimeout = c.HandshakeTimeout
	cc.ReconnectInterval = c.ReconnectInterval
	cc.MaxReconnectInterval = c.MaxReconnectInterval
	cc.MaxReconnectAttempts = c.MaxReconnectAttempts
	cc.RequestsPerSecond = c.RequestsPerSecond
	cc.RequestBurst = c.RequestBurst
	cc.Metrics = c.Metrics

	if c.Identity != (ws.ClientIdentity{}) {
		cc.Identity = c.Identity
	}

	if c.Logger != nil {
		cc.Logger = c.Logger
	}

	return cc
}

// New validates cfg and returns a client that connects on first use.
func New(cfg Config) (*ws.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return ws.NewClient(cfg.ClientConfig()), nil
}
