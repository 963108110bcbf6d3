// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	accrualPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloud_miner",
			Subsystem: "accrual",
			Name:      "passes_total",
			Help:      "Accrual passes by outcome.",
		},
		[]string{"result"},
	)

	accrualCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloud_miner",
			Subsystem: "accrual",
			Name:      "events_total",
			Help:      "Accrual events written, by kind.",
		},
		[]string{"kind"},
	)

	accrualDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cloud_miner",
			Subsystem: "accrual",
			Name:      "pass_duration_seconds",
			Help:      "Duration of accrual passes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	withdrawals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloud_miner",
			Subsystem: "withdrawals",
			Name:      "transitions_total",
			Help:      "Withdrawal requests created and decided, by status.",
		},
		[]string{"status"},
	)

	invoices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloud_miner",
			Subsystem: "invoices",
			Name:      "transitions_total",
			Help:      "Invoices issued and confirmed, by status.",
		},
		[]string{"status"},
	)

	updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloud_miner",
			Subsystem: "telegram",
			Name:      "updates_total",
			Help:      "Handled Telegram updates by event kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		accrualPasses,
		accrualCredits,
		accrualDuration,
		withdrawals,
		invoices,
		updates,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordAccrualPass records the outcome of one pass.
// result is "applied", "skipped" or "failed".
func RecordAccrualPass(result string, duration time.Duration) {
	accrualPasses.WithLabelValues(result).Inc()
	accrualDuration.Observe(duration.Seconds())
}

// RecordAccrualEvents counts written accrual events of a kind
func RecordAccrualEvents(kind string, n int) {
	if n > 0 {
		accrualCredits.WithLabelValues(kind).Add(float64(n))
	}
}

func RecordWithdrawal(status string) {
	withdrawals.WithLabelValues(status).Inc()
}

func RecordInvoice(status string) {
	invoices.WithLabelValues(status).Inc()
}

func RecordUpdate(kind string) {
	updates.WithLabelValues(kind).Inc()
}
