/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Contains all SQL
 * for the processor_events, ledger_entries, payouts and payout_items tables.
 *
 * Concurrency notes:
 * - Duplicate event ids and duplicate (restaurant, currency, as_of_date)
 *   payouts are detected through the tables' unique constraints; a 23505 from
 *   the database is mapped to ErrDuplicateEvent / ErrDuplicatePayout so
 *   callers can treat a lost race as "already exists" rather than a failure.
 * - MarkPayoutPaid only matches rows still in 'created' state, so a stale
 *   payout_paid event can never release funds twice.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mesa247/ledger-service/internal/domain"
)

// querier is the subset of pgx operations shared by *pgxpool.Pool and pgx.Tx,
// allowing the same repository code to run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is the concrete Repository backed by PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool // nil when the repository is bound to a transaction
	db   querier
}

// NewPostgresRepository creates a new repository over a connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RunInTx runs fn against a repository bound to one database transaction.
// Nested calls reuse the enclosing transaction.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Rollback is a no-op once Commit has succeeded.
	defer tx.Rollback(ctx)

	if err := fn(&PostgresRepository{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetEventByEventID retrieves a processor event by its external identifier.
func (r *PostgresRepository) GetEventByEventID(ctx context.Context, eventID string) (*domain.ProcessorEvent, error) {
	var (
		event    domain.ProcessorEvent
		metadata []byte
	)
	query := `
		SELECT id, event_id, event_type, occurred_at, restaurant_id, currency,
		       amount, fee, metadata, processed_at, created_at
		FROM processor_events
		WHERE event_id = $1
	`
	err := r.db.QueryRow(ctx, query, eventID).Scan(
		&event.ID, &event.EventID, &event.EventType, &event.OccurredAt,
		&event.RestaurantID, &event.Currency, &event.Amount, &event.Fee,
		&metadata, &event.ProcessedAt, &event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	return &event, nil
}

// CreateEvent inserts a processor event. A duplicate event_id surfaces as
// ErrDuplicateEvent via the unique constraint.
func (r *PostgresRepository) CreateEvent(ctx context.Context, event *domain.ProcessorEvent) error {
	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO processor_events
			(event_id, event_type, occurred_at, restaurant_id, currency, amount, fee, metadata, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err = r.db.QueryRow(ctx, query,
		event.EventID, event.EventType, event.OccurredAt, event.RestaurantID,
		event.Currency, event.Amount, event.Fee, metadata, event.ProcessedAt,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// CreateLedgerEntry appends one immutable ledger row.
func (r *PostgresRepository) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_entries
			(restaurant_id, currency, entry_type, amount, reference_type, reference_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		entry.RestaurantID, entry.Currency, entry.EntryType, entry.Amount,
		entry.ReferenceType, entry.ReferenceID, metadata,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// GetBalance sums all entry amounts for a (restaurant, currency) pair.
// Returns 0 when no entries exist.
func (r *PostgresRepository) GetBalance(ctx context.Context, restaurantID, currency string) (int64, error) {
	var balance int64
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE restaurant_id = $1 AND currency = $2
	`
	if err := r.db.QueryRow(ctx, query, restaurantID, currency).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// GetLastActivity returns the most recent entry timestamp for the pair, or
// nil when no entries exist.
func (r *PostgresRepository) GetLastActivity(ctx context.Context, restaurantID, currency string) (*time.Time, error) {
	var last *time.Time
	query := `
		SELECT MAX(created_at)
		FROM ledger_entries
		WHERE restaurant_id = $1 AND currency = $2
	`
	if err := r.db.QueryRow(ctx, query, restaurantID, currency).Scan(&last); err != nil {
		return nil, err
	}
	return last, nil
}

// GetBreakdown sums entry amounts grouped by entry type for the pair.
func (r *PostgresRepository) GetBreakdown(ctx context.Context, restaurantID, currency string) (map[domain.LedgerEntryType]int64, error) {
	query := `
		SELECT entry_type, SUM(amount)
		FROM ledger_entries
		WHERE restaurant_id = $1 AND currency = $2
		GROUP BY entry_type
	`
	rows, err := r.db.Query(ctx, query, restaurantID, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := make(map[domain.LedgerEntryType]int64)
	for rows.Next() {
		var (
			entryType domain.LedgerEntryType
			total     int64
		)
		if err := rows.Scan(&entryType, &total); err != nil {
			return nil, err
		}
		breakdown[entryType] = total
	}
	return breakdown, rows.Err()
}

// ListRestaurantsWithEntries returns the distinct restaurant ids that have at
// least one ledger entry in the given currency.
func (r *PostgresRepository) ListRestaurantsWithEntries(ctx context.Context, currency string) ([]string, error) {
	query := `SELECT DISTINCT restaurant_id FROM ledger_entries WHERE currency = $1`
	rows, err := r.db.Query(ctx, query, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreatePayout inserts a payout row in 'created' state. A duplicate
// (restaurant_id, currency, as_of_date) surfaces as ErrDuplicatePayout.
func (r *PostgresRepository) CreatePayout(ctx context.Context, payout *domain.Payout) error {
	query := `
		INSERT INTO payouts (payout_id, restaurant_id, currency, amount, status, as_of_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		payout.PayoutID, payout.RestaurantID, payout.Currency,
		payout.Amount, payout.Status, payout.AsOfDate,
	).Scan(&payout.ID, &payout.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayout
		}
		return err
	}
	return nil
}

// CreatePayoutItems inserts the breakdown lines for a payout.
func (r *PostgresRepository) CreatePayoutItems(ctx context.Context, items []domain.PayoutItem) error {
	query := `
		INSERT INTO payout_items (payout_id, item_type, amount)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	for i := range items {
		if err := r.db.QueryRow(ctx, query, items[i].PayoutID, items[i].ItemType, items[i].Amount).Scan(&items[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// GetPayoutByPayoutID retrieves a payout with its items by the external
// payout identifier.
func (r *PostgresRepository) GetPayoutByPayoutID(ctx context.Context, payoutID string) (*domain.Payout, error) {
	var payout domain.Payout
	query := `
		SELECT id, payout_id, restaurant_id, currency, amount, status, as_of_date, paid_at, created_at
		FROM payouts
		WHERE payout_id = $1
	`
	err := r.db.QueryRow(ctx, query, payoutID).Scan(
		&payout.ID, &payout.PayoutID, &payout.RestaurantID, &payout.Currency,
		&payout.Amount, &payout.Status, &payout.AsOfDate, &payout.PaidAt, &payout.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}

	itemsQuery := `
		SELECT id, payout_id, item_type, amount
		FROM payout_items
		WHERE payout_id = $1
		ORDER BY item_type
	`
	rows, err := r.db.Query(ctx, itemsQuery, payout.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.PayoutItem
		if err := rows.Scan(&item.ID, &item.PayoutID, &item.ItemType, &item.Amount); err != nil {
			return nil, err
		}
		payout.Items = append(payout.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &payout, nil
}

// PayoutExistsForDate reports whether a payout already exists for the tuple.
// This is a convenience pre-check; the unique constraint remains the source
// of truth under concurrency.
func (r *PostgresRepository) PayoutExistsForDate(ctx context.Context, restaurantID, currency string, asOfDate time.Time) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payouts
			WHERE restaurant_id = $1 AND currency = $2 AND as_of_date = $3
		)
	`
	if err := r.db.QueryRow(ctx, query, restaurantID, currency, asOfDate).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkPayoutPaid transitions a payout from 'created' to 'paid'. A payout in
// any other state is left untouched and ErrPayoutNotPayable is returned.
func (r *PostgresRepository) MarkPayoutPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	query := `
		UPDATE payouts
		SET status = $2, paid_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := r.db.Exec(ctx, query, id, domain.PayoutPaid, paidAt, domain.PayoutCreated)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPayoutNotPayable
	}
	return nil
}

func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}
