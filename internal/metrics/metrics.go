/**
 * @description
 * Prometheus counters for the ledger service. Registered with the default
 * registry and exposed through /metrics on the HTTP server.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts ingested processor events by type and outcome
	// ("processed" or "already_processed").
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_processed_total",
		Help: "Processor events ingested, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// LedgerEntries counts appended ledger entries by entry type.
	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_appended_total",
		Help: "Ledger entries appended, by entry type.",
	}, []string{"entry_type"})

	// PayoutsCreated counts payouts created by generation runs.
	PayoutsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_payouts_created_total",
		Help: "Payouts created by generation runs.",
	})

	// PayoutsPaid counts payouts settled by payout_paid events.
	PayoutsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_payouts_paid_total",
		Help: "Payouts marked paid by settlement.",
	})
)
