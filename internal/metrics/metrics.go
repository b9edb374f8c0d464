// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what components report to. Nop discards everything.
type Recorder interface {
	RecordSessionState(state string)
	RecordProfileLookup(ok bool)
	RecordEligibilityCheck(eligible bool, err error)
	RecordReviewSubmission(outcome string)
	RecordHTTPRequest(method string, status int, duration time.Duration)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	sessionState     *prometheus.CounterVec
	profileLookup    *prometheus.CounterVec
	eligibility      *prometheus.CounterVec
	reviewSubmission *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      prometheus.Histogram
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kurasi_session_transitions_total",
			Help: "Session state transitions by target state.",
		}, []string{"state"}),
		profileLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kurasi_profile_lookups_total",
			Help: "Profile enrichment lookups by result.",
		}, []string{"result"}),
		eligibility: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kurasi_review_eligibility_checks_total",
			Help: "Review eligibility checks by outcome.",
		}, []string{"outcome"}),
		reviewSubmission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kurasi_review_submissions_total",
			Help: "Review submissions by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kurasi_http_requests_total",
			Help: "Ops HTTP requests by method and status code.",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kurasi_http_request_duration_seconds",
			Help:    "Ops HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sessionState,
		c.profileLookup,
		c.eligibility,
		c.reviewSubmission,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

func (c *Collector) RecordSessionState(state string) {
	c.sessionState.WithLabelValues(state).Inc()
}

func (c *Collector) RecordProfileLookup(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.profileLookup.WithLabelValues(result).Inc()
}

func (c *Collector) RecordEligibilityCheck(eligible bool, err error) {
	outcome := "ineligible"
	switch {
	case err != nil:
		outcome = "error"
	case eligible:
		outcome = "eligible"
	}
	c.eligibility.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordReviewSubmission(outcome string) {
	c.reviewSubmission.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordHTTPRequest(method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Nop is a Recorder that records nothing.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordSessionState(string)                    {}
func (Nop) RecordProfileLookup(bool)                     {}
func (Nop) RecordEligibilityCheck(bool, error)           {}
func (Nop) RecordReviewSubmission(string)                {}
func (Nop) RecordHTTPRequest(string, int, time.Duration) {}

// Handler returns the HTTP handler serving gatherer for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
