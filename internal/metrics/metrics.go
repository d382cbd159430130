// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatpay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	// SettlementCallbacks counts processed callbacks by delivered status
	// and outcome (applied, duplicate, stale, unknown, error).
	SettlementCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpay_settlement_callbacks_total",
		Help: "Settlement callbacks processed, by status and outcome",
	}, []string{"status", "outcome"})

	TransferGroups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpay_transfer_groups_total",
		Help: "Transfer groups resolved, by terminal status",
	}, []string{"status"})

	SessionEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpay_session_evictions_total",
		Help: "Pending actions evicted after their TTL, by kind",
	}, []string{"kind"})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpay_provider_calls_total",
		Help: "Calls to external collaborators, by provider, operation and result",
	}, []string{"provider", "op", "result"})
)

// Result maps an error to the result label of ProviderCalls.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
