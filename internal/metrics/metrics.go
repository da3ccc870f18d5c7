// Package metrics exposes Prometheus instrumentation for the retrieval
// engine and the HTTP surface.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/models"
)

var (
	attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_attempts_total",
		Help: "Total OTP retrieval attempts by product, mode and terminal status",
	}, []string{"product", "mode", "status"})

	retrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "otp_retrieval_duration_seconds",
		Help:    "End-to-end retrieval latency by mode",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 45},
	}, []string{"mode"})

	accountFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_account_failovers_total",
		Help: "Times a mailbox account failed and the next one was tried",
	})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_rate_limited_total",
		Help: "Requests denied by the per-user rate limiter",
	})
)

// ObserveAttempt records one finished request.
func ObserveAttempt(product, mode, status string, took time.Duration) {
	attempts.WithLabelValues(product, mode, status).Inc()
	retrievalDuration.WithLabelValues(mode).Observe(took.Seconds())
}

// ObserveFailover counts one account-level failure that advanced the loop.
func ObserveFailover() {
	accountFailovers.Inc()
}

// ObserveRateLimited counts one denied request.
func ObserveRateLimited() {
	rateLimited.Inc()
}

// OutcomeSink derives the failover counter from recorded outcomes. A
// non-terminal account error means the loop moved on to the next account.
type OutcomeSink struct{}

// Append inspects one outcome; it never fails.
func (OutcomeSink) Append(_ context.Context, o models.AttemptOutcome) error {
	if !o.Terminal && o.AccountID != nil {
		ObserveFailover()
	}
	return nil
}
