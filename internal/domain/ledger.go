/**
 * @description
 * Ledger entry domain model. The ledger is the single source of truth for all
 * restaurant balances: every movement of money is one immutable signed-amount
 * row, and a balance is nothing more than the sum of a restaurant's rows in
 * one currency. Rows are only ever inserted, never updated or deleted.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType enumerates the accounting categories of ledger entries.
type LedgerEntryType string

const (
	EntryCharge        LedgerEntryType = "charge"         // money in from a successful charge
	EntryFee           LedgerEntryType = "fee"            // processor fee deduction
	EntryRefund        LedgerEntryType = "refund"         // money out from a refund
	EntryRefundFee     LedgerEntryType = "refund_fee"     // fee refund (unused by current policy)
	EntryPayoutReserve LedgerEntryType = "payout_reserve" // funds earmarked for an in-flight payout
	EntryPayoutRelease LedgerEntryType = "payout_release" // final deduction once a payout is paid
)

// Reference types stored on ledger entries linking back to the cause.
const (
	ReferenceProcessorEvent = "processor_event"
	ReferencePayout         = "payout"
)

// LedgerEntry maps to the `ledger_entries` table. Positive amounts are
// credits, negative amounts are debits.
type LedgerEntry struct {
	ID            uuid.UUID              `json:"id"`
	RestaurantID  string                 `json:"restaurant_id"`
	Currency      string                 `json:"currency"`
	EntryType     LedgerEntryType        `json:"entry_type"`
	Amount        int64                  `json:"amount"` // minor units, signed
	ReferenceType string                 `json:"reference_type"`
	ReferenceID   string                 `json:"reference_id"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// RestaurantBalance is the response shape for the balance query.
type RestaurantBalance struct {
	RestaurantID string     `json:"restaurant_id"`
	Currency     string     `json:"currency"`
	Available    int64      `json:"available"`
	Pending      int64      `json:"pending"` // reserved funds, not yet surfaced separately
	LastEventAt  *time.Time `json:"last_event_at,omitempty"`
}
