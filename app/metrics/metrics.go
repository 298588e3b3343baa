package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bot's counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Admission verdicts by kind (noop, ban, kick) and check
	Admissions *prometheus.CounterVec

	// Verification outcomes: auto_passed, passed, escalated, expired
	Verifications *prometheus.CounterVec

	// Captcha attempt results: passed, wrong, timeout
	CaptchaAttempts *prometheus.CounterVec

	// Report lifecycle: opened, and every terminal state
	Reports *prometheus.CounterVec

	// External service latency by service (phash, ocr)
	ExternalLatency *prometheus.HistogramVec

	// Handler panics recovered by the router
	Panics prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Admissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_admissions_total",
			Help: "Admission check verdicts by action and check",
		}, []string{"action", "check"}),

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_verifications_total",
			Help: "Verification outcomes",
		}, []string{"outcome"}),

		CaptchaAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_captcha_attempts_total",
			Help: "Captcha attempt results",
		}, []string{"result"}),

		Reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_reports_total",
			Help: "Report cards by kind and state",
		}, []string{"kind", "state"}),

		ExternalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_external_call_duration_seconds",
			Help:    "Duration of calls to external services",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service", "status"}),

		Panics: f.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_handler_panics_total",
			Help: "Panics recovered in event handlers",
		}),
	}
}

func (m *Metrics) IncAdmission(action, check string) {
	if m != nil {
		m.Admissions.WithLabelValues(action, check).Inc()
	}
}

func (m *Metrics) IncVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncCaptchaAttempt(result string) {
	if m != nil {
		m.CaptchaAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncReport(kind, state string) {
	if m != nil {
		m.Reports.WithLabelValues(kind, state).Inc()
	}
}

// ObserveExternal records a call duration; status is "ok" or "error".
func (m *Metrics) ObserveExternal(service string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ExternalLatency.WithLabelValues(service, status).Observe(d.Seconds())
}

func (m *Metrics) IncPanic() {
	if m != nil {
		m.Panics.Inc()
	}
}
