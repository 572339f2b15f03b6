/**
 * @description
 * Payout domain models. A payout is the result of one generation run for one
 * (restaurant, currency, as-of-date) tuple; the unique constraint over that
 * tuple is what makes generation idempotent per day. A payout owns its
 * breakdown items exclusively.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus enumerates the payout lifecycle states.
type PayoutStatus string

const (
	PayoutCreated PayoutStatus = "created" // funds reserved, awaiting processor confirmation
	PayoutPaid    PayoutStatus = "paid"    // processor confirmed payment
	PayoutFailed  PayoutStatus = "failed"
)

// Payout item types derived from the ledger breakdown.
const (
	ItemGrossSales = "gross_sales"
	ItemFees       = "fees"
	ItemRefunds    = "refunds"
)

// Payout maps to the `payouts` table.
type Payout struct {
	ID           uuid.UUID    `json:"id"`
	PayoutID     string       `json:"payout_id"` // external identifier, e.g. "po_3f1a9c"
	RestaurantID string       `json:"restaurant_id"`
	Currency     string       `json:"currency"`
	Amount       int64        `json:"amount"` // minor units, > 0
	Status       PayoutStatus `json:"status"`
	AsOfDate     time.Time    `json:"as_of_date"` // date component only
	PaidAt       *time.Time   `json:"paid_at,omitempty"`
	Items        []PayoutItem `json:"items,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// PayoutItem is one breakdown line of a payout, owned by its parent.
type PayoutItem struct {
	ID       uuid.UUID `json:"id"`
	PayoutID uuid.UUID `json:"-"` // parent payouts.id, not the external identifier
	ItemType string    `json:"type"`
	Amount   int64     `json:"amount"`
}

// PayoutRunRequest is the DTO for triggering a payout generation run.
type PayoutRunRequest struct {
	Currency  string `json:"currency"`
	AsOf      string `json:"as_of"` // YYYY-MM-DD
	MinAmount int64  `json:"min_amount"`
}

// PayoutRunResponse summarizes a completed generation run.
type PayoutRunResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	PayoutsCreated int    `json:"payouts_created"`
}

// PayoutResponse is the lookup response including the item breakdown.
type PayoutResponse struct {
	PayoutID     string               `json:"payout_id"`
	RestaurantID string               `json:"restaurant_id"`
	Currency     string               `json:"currency"`
	Amount       int64                `json:"amount"`
	Status       PayoutStatus         `json:"status"`
	AsOfDate     string               `json:"as_of_date"`
	CreatedAt    time.Time            `json:"created_at"`
	PaidAt       *time.Time           `json:"paid_at,omitempty"`
	Items        []PayoutItemResponse `json:"items"`
}

// PayoutItemResponse is one breakdown line in the lookup response.
type PayoutItemResponse struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}
