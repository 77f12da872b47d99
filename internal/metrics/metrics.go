package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_holds_acquired_total",
		Help: "Holds granted for a full seat batch",
	})

	HoldConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_hold_conflicts_total",
		Help: "Hold requests rejected because seats were sold or leased",
	}, []string{"reason"})

	SeatsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_leases_released_total",
		Help: "Seat leases released by their owning session",
	})

	HoldsExtended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_holds_extended_total",
		Help: "Hold extensions that kept at least one seat",
	})

	LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_ledger_write_retries_total",
		Help: "Ledger writes retried after a successful lease operation",
	})

	LedgerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_ledger_write_failures_total",
		Help: "Ledger writes abandoned after all retries; left for reconciliation",
	}, []string{"op"})

	SeatsHealed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_ledger_healed_total",
		Help: "HELD ledger rows returned to AVAILABLE because their lease was gone",
	}, []string{"source"})
)
