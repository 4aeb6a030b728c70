package ws

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for requests_total.
const (
	outcomeOK       = "ok"
	outcomeRemote   = "remote_error"
	outcomeTimeout  = "timeout"
	outcomeClosed   = "closed"
	outcomeCanceled = "canceled"
	outcomeFailed   = "failed"
)

type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "openclaw").
	Namespace string

	// Subsystem is the metrics subsystem (default: "gateway_client").
	Subsystem string

	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer

	// KnownNames limits the method and event labels. Names outside the set
	// are recorded as OtherLabel. Empty keeps every name.
	KnownNames []string
}

// OtherLabel replaces method and event names outside MetricsConfig.KnownNames.
const OtherLabel = "other"

type MetricsOption func(*MetricsConfig)

func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// WithKnownNames bounds the method and event label values to names.
func WithKnownNames(names ...string) MetricsOption {
	return func(c *MetricsConfig) {
		c.KnownNames = append(c.KnownNames, names...)
	}
}

// Metrics collects client-side protocol metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	known map[string]struct{}

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	pending          prometheus.Gauge
	events           *prometheus.CounterVec
	handlerPanics    *prometheus.CounterVec
	frameErrors      *prometheus.CounterVec
	unknownResponses prometheus.Counter
	handshakes       *prometheus.CounterVec
	state            prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with the configured
// registry. It panics if registration fails, like prometheus.MustRegister.
//
// Method and event names become label values as sent, so a gateway pushing
// arbitrary event names grows the series count without bound. Pass
// WithKnownNames to fold everything else into OtherLabel.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "openclaw",
		Subsystem: "gateway_client",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	newOpts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts(newOpts("requests_total", "Requests sent to the gateway by outcome.")),
			[]string{"method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "request_duration_seconds",
				Help:        "Time from sending a request to its outcome.",
				ConstLabels: cfg.ConstLabels,
				Buckets:     cfg.Buckets,
			},
			[]string{"method"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts(newOpts("pending_requests", "Requests awaiting a response.")),
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts(newOpts("events_total", "Events pushed by the gateway.")),
			[]string{"event"},
		),
		handlerPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts(newOpts("handler_panics_total", "Event handlers that panicked.")),
			[]string{"event"},
		),
		frameErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts(newOpts("frame_errors_total", "Inbound frames dropped as undecodable.")),
			[]string{"reason"},
		),
		unknownResponses: prometheus.NewCounter(
			prometheus.CounterOpts(newOpts("unknown_responses_total", "Responses with no pending request.")),
		),
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts(newOpts("handshakes_total", "Completed handshakes by result.")),
			[]string{"result"},
		),
		state: prometheus.NewGauge(
			prometheus.GaugeOpts(newOpts("connection_state", "Current connection state (0=idle .. 5=closed).")),
		),
	}

	if len(cfg.KnownNames) > 0 {
		m.known = make(map[string]struct{}, len(cfg.KnownNames))
		for _, name := range cfg.KnownNames {
			m.known[name] = struct{}{}
		}
	}

	if cfg.Registry != nil {
		cfg.Registry.MustRegister(
			m.requests,
			m.requestDuration,
			m.pending,
			m.events,
			m.handlerPanics,
			m.frameErrors,
			m.unknownResponses,
			m.handshakes,
			m.state,
		)
	}

	return m
}

func (m *Metrics) label(name string) string {
	if m.known == nil {
		return name
	}

	if _, ok := m.known[name]; ok {
		return name
	}

	return OtherLabel
}

func (m *Metrics) requestStarted() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) requestFinished(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pending.Dec()
	method = m.label(method)
	m.requests.WithLabelValues(method, outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) eventDispatched(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(m.label(event)).Inc()
}

func (m *Metrics) handlerPanicked(event string) {
	if m == nil {
		return
	}
	m.handlerPanics.WithLabelValues(m.label(event)).Inc()
}

func (m *Metrics) frameDropped(reason string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) unknownResponse() {
	if m == nil {
		return
	}
	m.unknownResponses.Inc()
}

func (m *Metrics) handshakeFinished(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) stateChanged(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
