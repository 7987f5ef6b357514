// Package metrics registers the Prometheus collectors of the ledger engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerPostingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Ledger credit and debit calls by outcome",
	}, []string{
		"direction",    // credit, debit
		"service_type", // bbps, pos, settlement, ...
		"outcome",      // posted, replayed, rejected
	})

	ledgerPostingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_posting_duration_seconds",
		Help:    "Duration of one ledger unit of work",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"direction"})

	ledgerEntryTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entry_transitions_total",
		Help: "Ledger entry status changes",
	}, []string{"from", "to"})

	schemeResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheme_resolutions_total",
		Help: "Fee rate resolutions by tier and clamping",
	}, []string{"service", "tier", "clamped"})

	commissionSharesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_shares_total",
		Help: "Commission shares credited to upline partners",
	}, []string{"role"})

	settlementTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transitions_total",
		Help: "Settlement status changes",
	}, []string{"mode", "status"})

	payoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_payout_duration_seconds",
		Help:    "Time spent calling the payout executor including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_settlement_runs_total",
		Help: "Batch settlement invocations by outcome",
	}, []string{"outcome"})

	batchTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_settlement_transactions_total",
		Help: "Provider transactions seen by the batch runner",
	}, []string{"result"}) // processed, failed, held

	transferSagasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_sagas_total",
		Help: "Transfer sagas by final state",
	}, []string{"kind", "state"})

	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Provider payment callbacks handled by the worker",
	}, []string{"service_type", "outcome"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served by the API gateway",
	}, []string{"method", "route", "status"})

	httpPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_panics_total",
		Help: "Handler panics recovered by the API gateway",
	}, []string{"route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func RecordPosting(direction, serviceType, outcome string, seconds float64) {
	ledgerPostingsTotal.WithLabelValues(direction, serviceType, outcome).Inc()
	ledgerPostingDuration.WithLabelValues(direction).Observe(seconds)
}

func RecordEntryTransition(from, to string) {
	ledgerEntryTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordSchemeResolution(service, tier string, clamped bool) {
	c := "false"
	if clamped {
		c = "true"
	}
	schemeResolutionsTotal.WithLabelValues(service, tier, c).Inc()
}

func RecordCommissionShare(role string) {
	commissionSharesTotal.WithLabelValues(role).Inc()
}

func RecordSettlementTransition(mode, status string) {
	settlementTransitionsTotal.WithLabelValues(mode, status).Inc()
}

func RecordPayout(outcome string, seconds float64) {
	payoutDuration.WithLabelValues(outcome).Observe(seconds)
}

func RecordBatchRun(outcome string, processed, failed, held int) {
	batchRunsTotal.WithLabelValues(outcome).Inc()
	batchTransactionsTotal.WithLabelValues("processed").Add(float64(processed))
	batchTransactionsTotal.WithLabelValues("failed").Add(float64(failed))
	batchTransactionsTotal.WithLabelValues("held").Add(float64(held))
}

func RecordTransferSaga(kind, state string) {
	transferSagasTotal.WithLabelValues(kind, state).Inc()
}

func RecordCallback(serviceType, outcome string) {
	callbacksTotal.WithLabelValues(serviceType, outcome).Inc()
}

func RecordHTTPRequest(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func RecordPanic(route string) {
	httpPanicsTotal.WithLabelValues(route).Inc()
}
