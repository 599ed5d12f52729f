package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Verification outcomes used as the "outcome" label
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
	OutcomeEncodeError = "encode_error"
)

// StateSample is a point-in-time view of the shared pipeline state
type StateSample struct {
	PrimaryCandidate     bool
	HeuristicCandidate   bool
	VerificationInFlight bool
	CooldownActive       bool
	Episode              uint64
}

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Capture loop counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	ReadErrors      atomic.Uint64
	FramesSkipped   atomic.Uint64
	DetectorErrors  atomic.Uint64
	HeuristicErrors atomic.Uint64

	// Verification loop counters
	Alerts atomic.Uint64

	// Display
	StreamClients atomic.Int64

	verifications *prometheus.CounterVec
	notifications *prometheus.CounterVec
	verifyLatency prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}
	counter("hazardwatch_frames_read_total", "Frames returned by the source", &m.FramesRead)
	counter("hazardwatch_frames_processed_total", "Frames detected, annotated and published", &m.FramesProcessed)
	counter("hazardwatch_read_errors_total", "Source read failures", &m.ReadErrors)
	counter("hazardwatch_frames_skipped_total", "Frames dropped after a processing failure", &m.FramesSkipped)
	counter("hazardwatch_detector_errors_total", "Primary detector failures", &m.DetectorErrors)
	counter("hazardwatch_heuristic_errors_total", "Fall heuristic failures", &m.HeuristicErrors)
	counter("hazardwatch_alerts_total", "Alerts dispatched", &m.Alerts)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "hazardwatch_stream_clients",
			Help: "Connected display clients",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))

	m.verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hazardwatch_verifications_total",
		Help: "Verifier calls by outcome",
	}, []string{"outcome"})
	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hazardwatch_notifications_total",
		Help: "Notification attempts by channel and result",
	}, []string{"channel", "result"})
	m.verifyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hazardwatch_verification_seconds",
		Help:    "Verifier call latency",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	})
	m.registry.MustRegister(m.verifications, m.notifications, m.verifyLatency)
}

// RegisterState exposes candidate and cooldown gauges sampled from fn
func (m *Metrics) RegisterState(fn func() StateSample) {
	if m == nil {
		return
	}
	gauge := func(name, help string, get func(StateSample) float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return get(fn()) },
		))
	}
	gauge("hazardwatch_primary_candidate", "1 when the primary detector flags the latest frame", func(s StateSample) float64 { return b2f(s.PrimaryCandidate) })
	gauge("hazardwatch_heuristic_candidate", "1 when the fall heuristic flags the latest frame", func(s StateSample) float64 { return b2f(s.HeuristicCandidate) })
	gauge("hazardwatch_verification_in_flight", "1 while a verifier call is outstanding", func(s StateSample) float64 { return b2f(s.VerificationInFlight) })
	gauge("hazardwatch_cooldown_active", "1 while alerts are suppressed", func(s StateSample) float64 { return b2f(s.CooldownActive) })
	gauge("hazardwatch_candidate_episode", "Number of candidate episodes seen", func(s StateSample) float64 { return float64(s.Episode) })
}

// Verification records a verifier call outcome and its latency in seconds
func (m *Metrics) Verification(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.verifyLatency.Observe(seconds)
	}
}

// Notification records a delivery attempt on channel
func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// FrameRead counts a frame returned by the source
func (m *Metrics) FrameRead() {
	if m != nil {
		m.FramesRead.Add(1)
	}
}

// FrameProcessed counts a published frame
func (m *Metrics) FrameProcessed() {
	if m != nil {
		m.FramesProcessed.Add(1)
	}
}

// ReadError counts a source read failure
func (m *Metrics) ReadError() {
	if m != nil {
		m.ReadErrors.Add(1)
	}
}

// FrameSkipped counts a frame dropped mid-processing
func (m *Metrics) FrameSkipped() {
	if m != nil {
		m.FramesSkipped.Add(1)
	}
}

// DetectorError counts a primary detector failure
func (m *Metrics) DetectorError() {
	if m != nil {
		m.DetectorErrors.Add(1)
	}
}

// HeuristicError counts a fall heuristic failure
func (m *Metrics) HeuristicError() {
	if m != nil {
		m.HeuristicErrors.Add(1)
	}
}

// Alert counts a dispatched alert
func (m *Metrics) Alert() {
	if m != nil {
		m.Alerts.Add(1)
	}
}

// StreamClient adjusts the connected display client gauge by delta
func (m *Metrics) StreamClient(delta int64) {
	if m != nil {
		m.StreamClients.Add(delta)
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
