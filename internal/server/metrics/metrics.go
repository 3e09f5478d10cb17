// Package metrics holds the Prometheus collectors of the vault server.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	Logins              prometheus.Counter
	ForcedLogouts       prometheus.Counter
	SignatureRejections prometheus.Counter
	UnlockAttempts      *prometheus.CounterVec
	LiveConnections     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Logins: f.NewCounter(prometheus.CounterOpts{
			Name: "msa_logins_total",
			Help: "Total number of sessions issued",
		}),
		ForcedLogouts: f.NewCounter(prometheus.CounterOpts{
			Name: "msa_forced_logouts_total",
			Help: "Total number of device-lock commands pushed to live connections",
		}),
		SignatureRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "msa_signature_rejections_total",
			Help: "Total number of requests rejected by the signature check",
		}),
		UnlockAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msa_unlock_attempts_total",
			Help: "Master key unlock attempts by result",
		}, []string{"result"}),
		LiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "msa_live_connections",
			Help: "Number of open real-time connections",
		}),
	}
}

func (m *Metrics) IncLogins() {
	if m == nil {
		return
	}
	m.Logins.Inc()
}

func (m *Metrics) IncForcedLogouts(n int) {
	if m == nil {
		return
	}
	m.ForcedLogouts.Add(float64(n))
}

func (m *Metrics) IncSignatureRejections() {
	if m == nil {
		return
	}
	m.SignatureRejections.Inc()
}

// ObserveUnlock records an unlock attempt; ok selects the "success" or
// "failure" label.
func (m *Metrics) ObserveUnlock(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.UnlockAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.LiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.LiveConnections.Dec()
}
