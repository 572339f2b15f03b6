/**
 * @description
 * This file defines the processor event domain model and the ingestion DTO.
 * Events are the only way money movement enters the system: the payment
 * processor pushes one event per charge, refund, or payout confirmation, and
 * the service records it exactly once.
 *
 * @notes
 * - Amounts are `int64` minor units (cents/céntimos) to avoid floating-point
 *   inaccuracies with financial data.
 * - The external `event_id` is the idempotency key; it is unique across the
 *   whole table and an event is never reprocessed once stored.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the processor event kinds the service understands.
type EventType string

const (
	EventChargeSucceeded EventType = "charge_succeeded"
	EventRefundSucceeded EventType = "refund_succeeded"
	EventPayoutPaid      EventType = "payout_paid"
)

// KnownEventType reports whether the given kind is one of the closed set of
// processor event types.
func KnownEventType(t EventType) bool {
	switch t {
	case EventChargeSucceeded, EventRefundSucceeded, EventPayoutPaid:
		return true
	}
	return false
}

// ProcessorEvent maps to the `processor_events` table. Immutable once stored.
type ProcessorEvent struct {
	ID           uuid.UUID              `json:"id"`
	EventID      string                 `json:"event_id"`
	EventType    EventType              `json:"event_type"`
	OccurredAt   time.Time              `json:"occurred_at"`
	RestaurantID string                 `json:"restaurant_id"`
	Currency     string                 `json:"currency"`
	Amount       int64                  `json:"amount"` // minor units, > 0
	Fee          int64                  `json:"fee"`    // minor units, >= 0
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	ProcessedAt  time.Time              `json:"processed_at"`
	CreatedAt    time.Time              `json:"created_at"`
}

// IngestEventRequest is the DTO for inbound processor events, whether they
// arrive over HTTP or from the AMQP queue.
type IngestEventRequest struct {
	EventID      string                 `json:"event_id"`
	EventType    EventType              `json:"event_type"`
	OccurredAt   time.Time              `json:"occurred_at"`
	RestaurantID string                 `json:"restaurant_id"`
	Currency     string                 `json:"currency"`
	Amount       int64                  `json:"amount"`
	Fee          int64                  `json:"fee"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Normalize trims identifiers and uppercases the currency code. It must be
// called before Validate so that validation sees the canonical form.
func (r *IngestEventRequest) Normalize() {
	r.EventID = strings.TrimSpace(r.EventID)
	r.RestaurantID = strings.TrimSpace(r.RestaurantID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

// Validate rejects malformed events before any state is touched.
func (r *IngestEventRequest) Validate() error {
	if r.EventID == "" {
		return &Error{Code: "INVALID_EVENT_ID", Message: "event_id must not be empty"}
	}
	if !KnownEventType(r.EventType) {
		return InvalidEventTypeError(string(r.EventType))
	}
	if len(r.Currency) != 3 {
		return InvalidCurrencyError(r.Currency)
	}
	if r.RestaurantID == "" {
		return &Error{Code: "INVALID_RESTAURANT_ID", Message: "restaurant_id must not be empty"}
	}
	if r.Amount <= 0 {
		return InvalidAmountError(r.Amount, "amount must be positive")
	}
	if r.Fee < 0 {
		return InvalidAmountError(r.Fee, "fee must be non-negative")
	}
	return nil
}

// IngestEventResponse is returned to the caller of the ingestion endpoint.
type IngestEventResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"` // "processed" or "already_processed"
	Message string `json:"message"`
}
