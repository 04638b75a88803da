// Package metrics exposes Prometheus metrics for campaigns, delivery attempts
// and the HTTP API. Helpers are no-ops until SetGlobal is called.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Attempt results
const (
	ResultSuccess   = "success"
	ResultTemporary = "temporary"
	ResultPermanent = "permanent"
	ResultRejected  = "rejected"
)

// Campaign outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// Metrics holds all Prometheus metrics for blast
type Metrics struct {
	// Recipient counters
	RecipientsSentTotal   *prometheus.CounterVec
	RecipientsFailedTotal *prometheus.CounterVec

	// Delivery attempts
	DeliveryAttemptsTotal *prometheus.CounterVec
	RetriesTotal          *prometheus.CounterVec
	RateLimitedTotal      *prometheus.CounterVec
	PacingWaitSeconds     prometheus.Histogram

	// Campaigns
	CampaignsTotal          *prometheus.CounterVec
	CampaignsActive         prometheus.Gauge
	CampaignDurationSeconds prometheus.Histogram

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RecipientsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blast_recipients_sent_total",
				Help: "Total number of recipients delivered to",
			},
			[]string{"transport"},
		),
		RecipientsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blast_recipients_failed_total",
				Help: "Total number of recipients that exhausted their attempts",
			},
			[]string{"transport"},
		),

		DeliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blast_delivery_attempts_total",
				Help: "Total number of delivery attempts by result",
			},
			[]string{"transport", "result"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blast_delivery_retries_total",
				Help: "Total number of repeated delivery attempts",
			},
			[]string{"transport"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blast_rate_limited_total",
				Help: "Total number of provider rate limit signals",
			},
			[]string{"transport"},
		),
		PacingWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blast_pacing_wait_seconds",
				Help:    "Time spent waiting for the pacing clock before an attempt",
				Buckets: []float64{0, 1, 5, 10, 20, 30, 40, 50, 60, 120},
			},
		),

		CampaignsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blast_campaigns_total",
				Help: "Total number of campaigns run",
			},
			[]string{"transport", "outcome"},
		),
		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blast_campaigns_active",
				Help: "Number of campaigns currently sending",
			},
		),
		CampaignDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blast_campaign_duration_seconds",
				Help:    "Campaign duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blast_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blast_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 120, 600, 3600},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blast_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blast_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blast_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.RecipientsSentTotal,
		m.RecipientsFailedTotal,
		m.DeliveryAttemptsTotal,
		m.RetriesTotal,
		m.RateLimitedTotal,
		m.PacingWaitSeconds,
		m.CampaignsTotal,
		m.CampaignsActive,
		m.CampaignDurationSeconds,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncRecipientsSent counts a delivered recipient
func IncRecipientsSent(transport string) {
	if m := Global(); m != nil {
		m.RecipientsSentTotal.WithLabelValues(transport).Inc()
	}
}

// IncRecipientsFailed counts a recipient whose attempts are exhausted
func IncRecipientsFailed(transport string) {
	if m := Global(); m != nil {
		m.RecipientsFailedTotal.WithLabelValues(transport).Inc()
	}
}

// IncDeliveryAttempts counts one attempt with its result
func IncDeliveryAttempts(transport, result string) {
	if m := Global(); m != nil {
		m.DeliveryAttemptsTotal.WithLabelValues(transport, result).Inc()
	}
}

func IncRetries(transport string) {
	if m := Global(); m != nil {
		m.RetriesTotal.WithLabelValues(transport).Inc()
	}
}

func IncRateLimited(transport string) {
	if m := Global(); m != nil {
		m.RateLimitedTotal.WithLabelValues(transport).Inc()
	}
}

// ObservePacingWait records time spent on the pacing clock
func ObservePacingWait(d time.Duration) {
	if m := Global(); m != nil {
		m.PacingWaitSeconds.Observe(d.Seconds())
	}
}

// CampaignStarted marks a campaign as active
func CampaignStarted() {
	if m := Global(); m != nil {
		m.CampaignsActive.Inc()
	}
}

// CampaignFinished records the outcome and duration of a campaign
func CampaignFinished(transport, outcome string, d time.Duration) {
	if m := Global(); m != nil {
		m.CampaignsActive.Dec()
		m.CampaignsTotal.WithLabelValues(transport, outcome).Inc()
		m.CampaignDurationSeconds.Observe(d.Seconds())
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
