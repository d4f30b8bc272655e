// Package metrics exposes Prometheus collectors for the attendance flow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"classattend/internal/ledger"
)

// Recorder implements attendance.Observer.
type Recorder struct {
	sessions     *prometheus.CounterVec
	redemptions  *prometheus.CounterVec
	verification *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_sessions_issued_total",
			Help: "Sessions issued, by class.",
		}, []string{"class_id"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_redemptions_total",
			Help: "Redemption attempts, by method and result.",
		}, []string{"method", "result"}),
		verification: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendance_verification_duration_seconds",
			Help:    "Latency of face and biometric oracle calls.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"method", "allowed"}),
	}
	reg.MustRegister(r.sessions, r.redemptions, r.verification)
	return r
}

func methodLabel(m ledger.Method) string {
	if m.Valid() {
		return string(m)
	}
	return "unknown"
}

// SessionIssued counts an issued session.
func (r *Recorder) SessionIssued(classID string) {
	r.sessions.WithLabelValues(classID).Inc()
}

// Redemption counts one attempt outcome.
func (r *Recorder) Redemption(method ledger.Method, result string) {
	r.redemptions.WithLabelValues(methodLabel(method), result).Inc()
}

// Verification observes an oracle call.
func (r *Recorder) Verification(method ledger.Method, d time.Duration, allowed bool) {
	label := "false"
	if allowed {
		label = "true"
	}
	r.verification.WithLabelValues(methodLabel(method), label).Observe(d.Seconds())
}
