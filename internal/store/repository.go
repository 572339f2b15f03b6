/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access required by the ledger service. Defining an interface decouples the
 * business logic from the PostgreSQL implementation and lets tests substitute
 * lightweight stubs.
 *
 * The ledger contract is append-only: entries are inserted and aggregated,
 * never updated or deleted. RunInTx provides the transaction-scoped unit of
 * work — every multi-write operation (event ingestion, payout creation,
 * settlement) runs its writes against the Repository passed to the callback
 * so that they commit or roll back as one atomic unit.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mesa247/ledger-service/internal/domain"
)

var (
	ErrEventNotFound    = errors.New("processor event not found")
	ErrPayoutNotFound   = errors.New("payout not found")
	ErrDuplicateEvent   = errors.New("processor event already exists")
	ErrDuplicatePayout  = errors.New("payout already exists for restaurant and date")
	ErrPayoutNotPayable = errors.New("payout is not in created state")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// RunInTx executes fn against a Repository bound to a single database
	// transaction. fn returning an error rolls everything back.
	RunInTx(ctx context.Context, fn func(Repository) error) error

	// Processor event methods
	GetEventByEventID(ctx context.Context, eventID string) (*domain.ProcessorEvent, error)
	CreateEvent(ctx context.Context, event *domain.ProcessorEvent) error

	// Ledger methods (append-only)
	CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	GetBalance(ctx context.Context, restaurantID, currency string) (int64, error)
	GetLastActivity(ctx context.Context, restaurantID, currency string) (*time.Time, error)
	GetBreakdown(ctx context.Context, restaurantID, currency string) (map[domain.LedgerEntryType]int64, error)
	ListRestaurantsWithEntries(ctx context.Context, currency string) ([]string, error)

	// Payout methods
	CreatePayout(ctx context.Context, payout *domain.Payout) error
	CreatePayoutItems(ctx context.Context, items []domain.PayoutItem) error
	GetPayoutByPayoutID(ctx context.Context, payoutID string) (*domain.Payout, error)
	PayoutExistsForDate(ctx context.Context, restaurantID, currency string, asOfDate time.Time) (bool, error)
	MarkPayoutPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
}
