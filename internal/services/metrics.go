// Package services – pipeline instrumentation
//
// Prometheus collectors for the message pipeline. Labels stay low-cardinality:
// admission status, message type, dispatch outcome, and receipt check result
// are all small closed sets.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// admissionsTotal counts intake decisions by status.
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_admissions_total",
			Help: "Total number of intake admission decisions.",
		},
		[]string{"status"},
	)

	// dispatchTotal counts dispatched messages by type and outcome
	// (replied, fallback, failed).
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Total number of dispatched messages by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// retriesTotal counts retried attempts by operation.
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_retries_total",
			Help: "Total number of retried attempts by operation.",
		},
		[]string{"op"},
	)

	// receiptChecksTotal counts duplicate-receipt checks by result
	// (duplicate, unique, skipped, degraded).
	receiptChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_checks_total",
			Help: "Total number of duplicate-receipt checks by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(admissionsTotal, dispatchTotal, retriesTotal, receiptChecksTotal)
}
