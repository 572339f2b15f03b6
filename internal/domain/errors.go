/**
 * @description
 * Coded domain errors. Every error the core can surface to a caller carries a
 * stable machine-readable code, a human-readable message, and optional
 * structured details. The API layer translates these into the standard error
 * envelope; internal callers match them with errors.Is against the sentinel
 * values below (two errors are "the same" when their codes match).
 */

package domain

import "fmt"

// Error is the coded error type used for all domain-level failures.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches by code so that sentinel values work with errors.Is regardless
// of the message or details a constructor filled in.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors for errors.Is matching. Constructors below produce
// instances with populated messages and details.
var (
	ErrInvalidEventType   = &Error{Code: "INVALID_EVENT_TYPE", Message: "unknown event type"}
	ErrInvalidCurrency    = &Error{Code: "INVALID_CURRENCY", Message: "invalid currency"}
	ErrInvalidAmount      = &Error{Code: "INVALID_AMOUNT", Message: "invalid amount"}
	ErrDuplicateEvent     = &Error{Code: "DUPLICATE_EVENT", Message: "event has already been processed"}
	ErrDuplicatePayout    = &Error{Code: "DUPLICATE_PAYOUT", Message: "payout already exists for this date"}
	ErrRestaurantNotFound = &Error{Code: "RESTAURANT_NOT_FOUND", Message: "restaurant not found"}
	ErrPayoutNotFound     = &Error{Code: "PAYOUT_NOT_FOUND", Message: "payout not found"}
	ErrPayoutNotPayable   = &Error{Code: "PAYOUT_NOT_PAYABLE", Message: "payout is not in a payable state"}
)

// InvalidEventTypeError is returned when an unknown event kind is received.
func InvalidEventTypeError(eventType string) *Error {
	return &Error{
		Code:    ErrInvalidEventType.Code,
		Message: fmt.Sprintf("unknown event type: %s", eventType),
		Details: map[string]interface{}{"event_type": eventType},
	}
}

// InvalidCurrencyError is returned when a currency code is not exactly three
// characters.
func InvalidCurrencyError(currency string) *Error {
	return &Error{
		Code:    ErrInvalidCurrency.Code,
		Message: fmt.Sprintf("invalid currency: %q", currency),
		Details: map[string]interface{}{"currency": currency},
	}
}

// InvalidAmountError is returned for non-positive amounts, negative fees and
// non-positive payout minimums.
func InvalidAmountError(amount int64, reason string) *Error {
	return &Error{
		Code:    ErrInvalidAmount.Code,
		Message: fmt.Sprintf("invalid amount %d: %s", amount, reason),
		Details: map[string]interface{}{"amount": amount, "reason": reason},
	}
}

// RestaurantNotFoundError is returned when a restaurant has no ledger
// entries at all for the requested currency.
func RestaurantNotFoundError(restaurantID string) *Error {
	return &Error{
		Code:    ErrRestaurantNotFound.Code,
		Message: fmt.Sprintf("restaurant %s not found", restaurantID),
		Details: map[string]interface{}{"restaurant_id": restaurantID},
	}
}

// PayoutNotFoundError is returned when a payout identifier is unknown.
func PayoutNotFoundError(payoutID string) *Error {
	return &Error{
		Code:    ErrPayoutNotFound.Code,
		Message: fmt.Sprintf("payout %s not found", payoutID),
		Details: map[string]interface{}{"payout_id": payoutID},
	}
}
