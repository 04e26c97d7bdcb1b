// Package metrics exposes reconciliation counters to Prometheus.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for Reconciliations.
const (
	OutcomePaid      = "paid"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
	OutcomeConfirmed = "confirmed"
)

var (
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "reconciliations_total",
		Help:      "Bank transfer reconciliation attempts by bank and outcome.",
	}, []string{"bank", "outcome"})

	ReceiptFetchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bookstore",
		Name:      "receipt_fetch_seconds",
		Help:      "Time to download and parse a bank receipt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"bank"})

	SubscriptionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstore",
		Name:      "subscriptions_expired_total",
		Help:      "Subscriptions flipped to expired by the sweep.",
	})
)

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
