// Package cli implements the gatewayctl commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/openclaw-gateway/ws/internal/config"
	"github.com/LLIEPJIOK/openclaw-gateway/ws/internal/logging"
	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws"
	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws/gateway"
)

type globalFlags struct {
	configPath  string
	url         string
	token       string
	origin      string
	logLevel    string
	logJSON     bool
	logFile     string
	metricsAddr string
}

// app holds state shared by the commands of one invocation.
type app struct {
	flags globalFlags

	cfg     config.Config
	logger  *logging.Logger
	metrics *ws.Metrics

	registry      *prometheus.Registry
	metricsServer *http.Server
}

// Execute runs gatewayctl with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "gatewayctl",
		Short: "gatewayctl talks to an OpenClaw gateway over its websocket protocol",
		Long: `gatewayctl connects to an OpenClaw gateway as an operator, performs the
challenge handshake and then sends requests or follows pushed events.

Settings come from --config (YAML or TOML), then OPENCLAW_GATEWAY_URL,
OPENCLAW_GATEWAY_TOKEN and OPENCLAW_GATEWAY_ORIGIN, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.flags.configPath, "config", "", "Configuration file (.yaml, .yml or .toml)")
	f.StringVar(&a.flags.url, "url", "", "Gateway websocket URL (default "+ws.DefaultEndpoint+")")
	f.StringVar(&a.flags.token, "token", "", "Operator token")
	f.StringVar(&a.flags.origin, "origin", "", "Origin header sent on upgrade")
	f.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.BoolVar(&a.flags.logJSON, "log-json", false, "Log in JSON format")
	f.StringVar(&a.flags.logFile, "log-file", "", "Also write logs to this file, rotated by size")
	f.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	root.AddCommand(
		newConnectCommand(a),
		newCallCommand(a),
		newWatchCommand(a),
		newScheduleCommand(a),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// flags win over file and environment
	if a.flags.url != "" {
		cfg.Gateway.URL = a.flags.url
	}

	if a.flags.token != "" {
		cfg.Gateway.Token = a.flags.token
	}

	if a.flags.origin != "" {
		cfg.Gateway.Origin = a.flags.origin
	}

	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}

	if a.flags.logJSON {
		cfg.Logging.JSON = true
	}

	if a.flags.logFile != "" {
		cfg.Logging.File.Path = a.flags.logFile
	}

	if a.flags.metricsAddr != "" {
		cfg.MetricsAddr = a.flags.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.New(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(a.logger.Logger)

	a.registry = prometheus.NewRegistry()
	a.metrics = ws.NewMetrics(ws.WithRegistry(a.registry))

	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			return err
		}
	}

	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	a.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()

	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	return nil
}

func (a *app) teardown() error {
	var errs []error

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		errs = append(errs, a.metricsServer.Shutdown(ctx))
	}

	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}

	return errors.Join(errs...)
}

// newClient returns a client that logs through the command logger and
// reports to the command registry.
func (a *app) newClient() (*ws.Client, error) {
	gc := a.cfg.Gateway
	gc.Logger = a.logger.Logger
	gc.Metrics = a.metrics

	return gateway.New(gc)
}
