package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hwmqtt"

// Metrics holds the service's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	state        *prometheus.GaugeVec
	sensors      prometheus.Gauge
	publishes    *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	starts       *prometheus.CounterVec
	crashes      prometheus.Counter
	tickDuration prometheus.Histogram
	broker       prometheus.Gauge
	brokerLosses prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "service_state",
			Help:      "1 for the current lifecycle state of the telemetry service",
		}, []string{"state"}),
		sensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sensors",
			Help:      "Number of sensors in the catalog",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "state_publishes_total",
			Help:      "State publishes by result",
		}, []string{"result"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sensors_skipped_total",
			Help:      "Sensors skipped during a tick by reason",
		}, []string{"reason"}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "service_starts_total",
			Help:      "Service start attempts by result",
		}, []string{"result"}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "loop_failures_total",
			Help:      "Update loops ended by a fatal error",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent refreshing hardware and publishing one tick",
			Buckets:   prometheus.DefBuckets,
		}),
		broker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "broker_connected",
			Help:      "1 while the active run holds a live broker connection",
		}),
		brokerLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broker_connection_losses_total",
			Help:      "Broker connections dropped while a run was active",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.sensors, m.publishes, m.skipped, m.starts, m.crashes, m.tickDuration, m.broker, m.brokerLosses)
	}
	return m
}

func (m *Metrics) setState(state State) {
	if m == nil {
		return
	}
	for _, s := range []State{StateStopped, StateStarting, StateRunning, StateStopping} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) setSensors(n int) {
	if m == nil {
		return
	}
	m.sensors.Set(float64(n))
}

func (m *Metrics) published(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.publishes.WithLabelValues("ok").Inc()
		return
	}
	m.publishes.WithLabelValues("failed").Inc()
}

func (m *Metrics) skip(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) started(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.starts.WithLabelValues("ok").Inc()
		return
	}
	m.starts.WithLabelValues("failed").Inc()
}

func (m *Metrics) crashed() {
	if m == nil {
		return
	}
	m.crashes.Inc()
}

func (m *Metrics) observeTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) setBrokerConnected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.broker.Set(1)
		return
	}
	m.broker.Set(0)
}

func (m *Metrics) connectionLost() {
	if m == nil {
		return
	}
	m.brokerLosses.Inc()
}
