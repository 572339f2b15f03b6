/**
 * @description
 * Balance query logic. A restaurant's available balance is derived purely by
 * summing its ledger entries for a currency; nothing is cached or
 * materialized. Pending is always zero in the current settlement model.
 */

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesa247/ledger-service/internal/domain"
)

// GetRestaurantBalance returns the derived balance for a restaurant in the
// given currency. A restaurant with no ledger activity at all in the currency
// is reported as not found; a restaurant whose entries sum to zero is a valid
// zero balance.
func (s *Service) GetRestaurantBalance(ctx context.Context, restaurantID, currency string) (*domain.RestaurantBalance, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, domain.InvalidCurrencyError(currency)
	}

	available, err := s.repo.GetBalance(ctx, restaurantID, currency)
	if err != nil {
		return nil, fmt.Errorf("compute balance: %w", err)
	}
	lastEventAt, err := s.repo.GetLastActivity(ctx, restaurantID, currency)
	if err != nil {
		return nil, fmt.Errorf("fetch last activity: %w", err)
	}

	if available == 0 && lastEventAt == nil {
		return nil, domain.RestaurantNotFoundError(restaurantID)
	}

	return &domain.RestaurantBalance{
		RestaurantID: restaurantID,
		Currency:     currency,
		Available:    available,
		Pending:      0,
		LastEventAt:  lastEventAt,
	}, nil
}
