package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetrics_RequestOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	c := newCorrelator(sequentialIDs("a", "b", "c"), discardLogger(), m)

	for range 3 {
		if _, err := c.register("chat.send", nil); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if got := metricGaugeValue(t, m.pending); got != 3 {
		t.Errorf("expected 3 pending, got %v", got)
	}

	c.resolve(&Response{ID: "a", OK: true})
	c.resolve(&Response{ID: "b", Error: &ErrorBody{Message: "nope"}})
	c.reject("c", ErrRequestTimeout)
	c.resolve(&Response{ID: "zzz", OK: true})

	if got := metricGaugeValue(t, m.pending); got != 0 {
		t.Errorf("expected 0 pending, got %v", got)
	}

	for outcome, want := range map[string]float64{
		outcomeOK:      1,
		outcomeRemote:  1,
		outcomeTimeout: 1,
		outcomeClosed:  0,
	} {
		got := metricCounterValue(t, m.requests.WithLabelValues("chat.send", outcome))
		if got != want {
			t.Errorf("outcome %s: expected %v, got %v", outcome, want, got)
		}
	}

	if got := metricHistogramCount(t, m.requestDuration.WithLabelValues("chat.send")); got != 3 {
		t.Errorf("expected 3 duration samples, got %d", got)
	}

	if got := metricCounterValue(t, m.unknownResponses); got != 1 {
		t.Errorf("expected 1 unknown response, got %v", got)
	}
}

func TestMetrics_EventsAndPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithNamespace("test"))
	d := newDispatcher(discardLogger(), m)

	d.subscribe("tick", func(json.RawMessage) { panic("boom") })
	d.dispatch("tick", nil)
	d.dispatch("tick", nil)

	if got := metricCounterValue(t, m.events.WithLabelValues("tick")); got != 2 {
		t.Errorf("expected 2 events, got %v", got)
	}

	if got := metricCounterValue(t, m.handlerPanics.WithLabelValues("tick")); got != 2 {
		t.Errorf("expected 2 panics, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "test_gateway_client_events_total" {
			found = true
		}
	}

	if !found {
		t.Error("expected namespaced events_total metric in registry")
	}
}

func TestMetrics_KnownNamesCollapseOthers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithKnownNames("chat", "chat.send"))

	m.eventDispatched("chat")
	for _, name := range []string{"spam.1", "spam.2", "spam.3"} {
		m.eventDispatched(name)
	}

	m.requestStarted()
	m.requestFinished("chat.send", outcomeOK, time.Millisecond)
	m.requestStarted()
	m.requestFinished("random.method", outcomeOK, time.Millisecond)

	if got := metricCounterValue(t, m.events.WithLabelValues("chat")); got != 1 {
		t.Errorf("expected 1 chat event, got %v", got)
	}

	if got := metricCounterValue(t, m.events.WithLabelValues(OtherLabel)); got != 3 {
		t.Errorf("expected 3 collapsed events, got %v", got)
	}

	if got := metricCounterValue(t, m.requests.WithLabelValues(OtherLabel, outcomeOK)); got != 1 {
		t.Errorf("expected 1 collapsed request, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, f := range families {
		if f.GetName() == "openclaw_gateway_client_events_total" && len(f.GetMetric()) != 2 {
			t.Errorf("expected 2 event series, got %d", len(f.GetMetric()))
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.requestStarted()
	m.requestFinished("m", outcomeOK, time.Second)
	m.eventDispatched("e")
	m.handlerPanicked("e")
	m.frameDropped("invalid")
	m.unknownResponse()
	m.handshakeFinished("ok")
	m.stateChanged(StateConnected)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: outcomeOK},
		{err: &RemoteError{Message: "x"}, want: outcomeRemote},
		{err: ErrRequestTimeout, want: outcomeTimeout},
		{err: ErrConnectionClosed, want: outcomeClosed},
		{err: ErrRequestCanceled, want: outcomeCanceled},
		{err: &TransportError{Op: "write"}, want: outcomeFailed},
	}

	for _, tt := range tests {
		if got := outcomeOf(tt.err); got != tt.want {
			t.Errorf("outcomeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
