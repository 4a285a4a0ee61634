// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrpay_transfers_total",
			Help: "Transfer requests by outcome kind.",
		},
		[]string{"outcome"},
	)

	transferAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrpay_transferred_amount_total",
			Help: "Sum of completed transfer amounts in minor units.",
		},
	)

	verifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrpay_signature_verify_duration_seconds",
			Help:    "Duration of signature verification.",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
		},
		[]string{"algorithm"},
	)

	commitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrpay_ledger_commit_duration_seconds",
			Help:    "Duration of atomic ledger transfers.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	walletsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrpay_wallets_created_total",
			Help: "Wallets registered.",
		},
	)
)

// ObserveTransfer counts a transfer outcome; "completed" for success,
// otherwise the error kind.
func ObserveTransfer(outcome string, amount int64) {
	transfersTotal.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		transferAmount.Add(float64(amount))
	}
}

// ObserveVerify records one signature verification.
func ObserveVerify(algorithm string, d time.Duration) {
	verifyDuration.WithLabelValues(algorithm).Observe(d.Seconds())
}

// ObserveCommit records one ledger commit.
func ObserveCommit(d time.Duration) {
	commitDuration.Observe(d.Seconds())
}

// WalletCreated counts a registered wallet.
func WalletCreated() {
	walletsCreated.Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
