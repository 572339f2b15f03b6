/**
 * @description
 * Payout generation and lookup logic. A payout run walks every restaurant
 * with ledger activity in a currency, snapshots its available balance, and,
 * for balances meeting the minimum, creates a payout with a category
 * breakdown and a PAYOUT_RESERVE entry that zeroes the balance, all in one
 * transaction per restaurant.
 *
 * Failure isolation: one restaurant failing its payout never aborts the run;
 * the error is logged and the walk continues. At most one payout exists per
 * (restaurant, currency, as_of_date), enforced by a unique constraint, so a
 * re-run of the same date only picks up restaurants skipped or failed before.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mesa247/ledger-service/internal/domain"
	"github.com/mesa247/ledger-service/internal/metrics"
	"github.com/mesa247/ledger-service/internal/store"
	"github.com/mesa247/ledger-service/pkg/rabbitmq"
)

// GeneratePayouts runs a payout pass for every eligible restaurant with
// activity in the given currency. Returns the number of payouts created.
func (s *Service) GeneratePayouts(ctx context.Context, currency string, asOfDate time.Time, minAmount int64) (int, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return 0, domain.InvalidCurrencyError(currency)
	}
	if minAmount <= 0 {
		return 0, domain.InvalidAmountError(minAmount, "min_amount must be positive")
	}

	restaurantIDs, err := s.repo.ListRestaurantsWithEntries(ctx, currency)
	if err != nil {
		return 0, fmt.Errorf("list restaurants: %w", err)
	}
	log.Printf("level=info component=payouts msg=\"payout run started\" currency=%s as_of=%s restaurants=%d",
		currency, asOfDate.Format("2006-01-02"), len(restaurantIDs))

	created := 0
	for _, restaurantID := range restaurantIDs {
		payout, err := s.generatePayoutForRestaurant(ctx, restaurantID, currency, asOfDate, minAmount)
		if err != nil {
			log.Printf("level=error component=payouts msg=\"payout generation failed\" restaurant_id=%s err=%v", restaurantID, err)
			continue
		}
		if payout == nil {
			continue
		}
		created++
		metrics.PayoutsCreated.Inc()
		s.publishPayoutEvent(ctx, rabbitmq.RoutingPayoutCreated, payout)
	}

	log.Printf("level=info component=payouts msg=\"payout run finished\" currency=%s created=%d", currency, created)
	return created, nil
}

// generatePayoutForRestaurant creates at most one payout for a restaurant.
// A nil payout with nil error means the restaurant was skipped.
func (s *Service) generatePayoutForRestaurant(ctx context.Context, restaurantID, currency string, asOfDate time.Time, minAmount int64) (*domain.Payout, error) {
	exists, err := s.repo.PayoutExistsForDate(ctx, restaurantID, currency, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("check existing payout: %w", err)
	}
	if exists {
		log.Printf("level=info component=payouts msg=\"payout already exists for date; skipping\" restaurant_id=%s as_of=%s",
			restaurantID, asOfDate.Format("2006-01-02"))
		return nil, nil
	}

	// Cheap pre-filter only; the authoritative balance is recomputed inside
	// the transaction from the same snapshot that feeds the items.
	balance, err := s.repo.GetBalance(ctx, restaurantID, currency)
	if err != nil {
		return nil, fmt.Errorf("compute balance: %w", err)
	}
	if balance < minAmount {
		log.Printf("level=info component=payouts msg=\"balance below minimum; skipping\" restaurant_id=%s balance=%d min_amount=%d",
			restaurantID, balance, minAmount)
		return nil, nil
	}

	var payout *domain.Payout
	err = s.repo.RunInTx(ctx, func(r store.Repository) error {
		breakdown, err := r.GetBreakdown(ctx, restaurantID, currency)
		if err != nil {
			return fmt.Errorf("compute breakdown: %w", err)
		}
		// One snapshot for everything: amount, items and reserve all derive
		// from this breakdown, so an event committing mid-run cannot split
		// them.
		var available int64
		for _, sum := range breakdown {
			available += sum
		}
		if available < minAmount {
			log.Printf("level=info component=payouts msg=\"balance fell below minimum inside run; skipping\" restaurant_id=%s balance=%d min_amount=%d",
				restaurantID, available, minAmount)
			return nil
		}

		payout = &domain.Payout{
			PayoutID:     newPayoutID(),
			RestaurantID: restaurantID,
			Currency:     currency,
			Amount:       available,
			Status:       domain.PayoutCreated,
			AsOfDate:     asOfDate,
		}
		if err := r.CreatePayout(ctx, payout); err != nil {
			return err
		}
		items := payoutItemsFromBreakdown(payout.ID, breakdown)
		if len(items) > 0 {
			if err := r.CreatePayoutItems(ctx, items); err != nil {
				return fmt.Errorf("store payout items: %w", err)
			}
			payout.Items = items
		}

		reserve := &domain.LedgerEntry{
			RestaurantID:  restaurantID,
			Currency:      currency,
			EntryType:     domain.EntryPayoutReserve,
			Amount:        -available,
			ReferenceType: domain.ReferencePayout,
			ReferenceID:   payout.PayoutID,
			Metadata:      map[string]interface{}{"as_of_date": asOfDate.Format("2006-01-02")},
		}
		if err := r.CreateLedgerEntry(ctx, reserve); err != nil {
			return fmt.Errorf("append reserve entry: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicatePayout) {
			// A concurrent run won the insert; nothing to do here.
			log.Printf("level=info component=payouts msg=\"payout created concurrently; skipping\" restaurant_id=%s as_of=%s",
				restaurantID, asOfDate.Format("2006-01-02"))
			return nil, nil
		}
		return nil, err
	}
	if payout == nil {
		return nil, nil
	}

	log.Printf("level=info component=payouts msg=\"payout created\" payout_id=%s restaurant_id=%s amount=%d currency=%s",
		payout.PayoutID, restaurantID, payout.Amount, currency)
	return payout, nil
}

// GetPayout returns a payout with its item breakdown by external identifier.
func (s *Service) GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	payout, err := s.repo.GetPayoutByPayoutID(ctx, strings.TrimSpace(payoutID))
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			return nil, domain.PayoutNotFoundError(payoutID)
		}
		return nil, fmt.Errorf("lookup payout: %w", err)
	}
	return payout, nil
}

// payoutItemsFromBreakdown maps ledger sums to payout line items. Only
// categories with a non-zero sum produce an item; refund-fee, reserve and
// release entries never do.
func payoutItemsFromBreakdown(payoutID uuid.UUID, breakdown map[domain.LedgerEntryType]int64) []domain.PayoutItem {
	var items []domain.PayoutItem
	if amount, ok := breakdown[domain.EntryCharge]; ok && amount != 0 {
		items = append(items, domain.PayoutItem{PayoutID: payoutID, ItemType: domain.ItemGrossSales, Amount: amount})
	}
	if amount, ok := breakdown[domain.EntryFee]; ok && amount != 0 {
		items = append(items, domain.PayoutItem{PayoutID: payoutID, ItemType: domain.ItemFees, Amount: amount})
	}
	if amount, ok := breakdown[domain.EntryRefund]; ok && amount != 0 {
		items = append(items, domain.PayoutItem{PayoutID: payoutID, ItemType: domain.ItemRefunds, Amount: amount})
	}
	return items
}

// newPayoutID generates the external payout identifier, e.g. "po_1a2b3c4d5e6f".
func newPayoutID() string {
	return "po_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
