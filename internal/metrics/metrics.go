package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the gateway's Prometheus collectors. All methods are safe
// for concurrent use and tolerate a nil receiver, so instrumentation points
// never need nil checks.
type Recorder struct {
	probesTotal    *prometheus.CounterVec
	blockedTotal   *prometheus.CounterVec
	connectSeconds prometheus.Histogram
}

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "probegw",
			Name:      "probes_total",
			Help:      "Probe attempts by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		blockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "probegw",
			Name:      "blocked_total",
			Help:      "Connection requests refused before any I/O, by reason.",
		}, []string{"reason"}),
		connectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "probegw",
			Name:      "connect_duration_seconds",
			Help:      "Time to establish outbound connections.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}),
	}

	reg.MustRegister(r.probesTotal, r.blockedTotal, r.connectSeconds)
	return r
}

// ObserveProbe counts one finished probe.
func (r *Recorder) ObserveProbe(protocol, outcome string) {
	if r == nil {
		return
	}
	r.probesTotal.WithLabelValues(protocol, outcome).Inc()
}

// ObserveBlocked counts one pre-flight security block.
func (r *Recorder) ObserveBlocked(reason string) {
	if r == nil {
		return
	}
	r.blockedTotal.WithLabelValues(reason).Inc()
}

// ObserveConnect records the latency of a successful connection.
func (r *Recorder) ObserveConnect(d time.Duration) {
	if r == nil {
		return
	}
	r.connectSeconds.Observe(d.Seconds())
}
