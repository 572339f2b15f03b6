/**
 * @description
 * This file contains the core business logic for processor event ingestion.
 * The `Service` struct orchestrates all ledger operations, coordinating the
 * database repository, the message producer, and the metrics counters.
 *
 * Key features:
 * - Idempotent ingestion: an event_id is processed exactly once. The cheap
 *   existence pre-check avoids most duplicate transactions, but the unique
 *   constraint on processor_events.event_id is the source of truth: a racer
 *   losing the insert observes the constraint violation and reports the same
 *   "already processed" outcome as a straight duplicate.
 * - Atomicity: the ProcessorEvent insert and all ledger effects it implies
 *   commit or roll back as one unit via the repository's RunInTx scope.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store, internal/metrics: Domain models, data
 *   access, counters.
 * - pkg/rabbitmq: Best-effort domain event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mesa247/ledger-service/internal/domain"
	"github.com/mesa247/ledger-service/internal/metrics"
	"github.com/mesa247/ledger-service/internal/store"
	"github.com/mesa247/ledger-service/pkg/rabbitmq"
)

// Ingestion outcome messages, also surfaced through the HTTP API.
const (
	MessageProcessed        = "Event processed successfully"
	MessageAlreadyProcessed = "Event already processed"
)

// Service provides the core business logic for the ledger service.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher

	rateLimiter           IngestRateLimiter
	ingestRateLimitPerMin int
}

// NewService creates a new ledger service instance. producer may be nil when
// RabbitMQ is unavailable; publishing is best-effort.
func NewService(repo store.Repository, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
	}
}

// IngestEvent records a processor event and applies its ledger effects.
// Returns (isNew, message): isNew is false when the event_id was seen before,
// in which case nothing was written.
func (s *Service) IngestEvent(ctx context.Context, req domain.IngestEventRequest) (bool, string, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return false, "", err
	}

	// Convenience pre-check; the unique constraint below is what actually
	// guarantees exactly-once under concurrency.
	existing, err := s.repo.GetEventByEventID(ctx, req.EventID)
	if err != nil && !errors.Is(err, store.ErrEventNotFound) {
		return false, "", fmt.Errorf("lookup event: %w", err)
	}
	if existing != nil {
		log.Printf("level=info component=ingest msg=\"duplicate event detected\" event_id=%s processed_at=%s",
			req.EventID, existing.ProcessedAt.Format(time.RFC3339))
		metrics.EventsProcessed.WithLabelValues(string(req.EventType), "already_processed").Inc()
		return false, MessageAlreadyProcessed, nil
	}

	var (
		entriesWritten []domain.LedgerEntryType
		settledPayout  *domain.Payout
	)

	err = s.repo.RunInTx(ctx, func(r store.Repository) error {
		event := &domain.ProcessorEvent{
			EventID:      req.EventID,
			EventType:    req.EventType,
			OccurredAt:   req.OccurredAt,
			RestaurantID: req.RestaurantID,
			Currency:     req.Currency,
			Amount:       req.Amount,
			Fee:          req.Fee,
			Metadata:     req.Metadata,
			ProcessedAt:  time.Now().UTC(),
		}
		if err := r.CreateEvent(ctx, event); err != nil {
			return err
		}

		switch req.EventType {
		case domain.EventChargeSucceeded:
			types, err := s.applyChargeSucceeded(ctx, r, req)
			if err != nil {
				return err
			}
			entriesWritten = types
		case domain.EventRefundSucceeded:
			if err := s.applyRefundSucceeded(ctx, r, req); err != nil {
				return err
			}
			entriesWritten = []domain.LedgerEntryType{domain.EntryRefund}
		case domain.EventPayoutPaid:
			payout, released, err := s.applyPayoutPaid(ctx, r, req)
			if err != nil {
				return err
			}
			if released {
				settledPayout = payout
				entriesWritten = []domain.LedgerEntryType{domain.EntryPayoutReserve, domain.EntryPayoutRelease}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			// Lost the insert race; same outcome as a plain duplicate.
			log.Printf("level=info component=ingest msg=\"duplicate event via constraint\" event_id=%s", req.EventID)
			metrics.EventsProcessed.WithLabelValues(string(req.EventType), "already_processed").Inc()
			return false, MessageAlreadyProcessed, nil
		}
		return false, "", fmt.Errorf("process event %s: %w", req.EventID, err)
	}

	metrics.EventsProcessed.WithLabelValues(string(req.EventType), "processed").Inc()
	for _, entryType := range entriesWritten {
		metrics.LedgerEntries.WithLabelValues(string(entryType)).Inc()
	}
	if settledPayout != nil {
		metrics.PayoutsPaid.Inc()
		s.publishPayoutEvent(ctx, rabbitmq.RoutingPayoutPaid, settledPayout)
	}
	s.publishProcessedEvent(ctx, req)

	log.Printf("level=info component=ingest msg=\"event processed\" event_id=%s event_type=%s restaurant_id=%s amount=%d",
		req.EventID, req.EventType, req.RestaurantID, req.Amount)
	return true, MessageProcessed, nil
}

// applyChargeSucceeded appends a CHARGE credit and, when a fee was charged,
// a FEE debit referencing the same event.
func (s *Service) applyChargeSucceeded(ctx context.Context, r store.Repository, req domain.IngestEventRequest) ([]domain.LedgerEntryType, error) {
	charge := &domain.LedgerEntry{
		RestaurantID:  req.RestaurantID,
		Currency:      req.Currency,
		EntryType:     domain.EntryCharge,
		Amount:        req.Amount,
		ReferenceType: domain.ReferenceProcessorEvent,
		ReferenceID:   req.EventID,
		Metadata:      req.Metadata,
	}
	if err := r.CreateLedgerEntry(ctx, charge); err != nil {
		return nil, fmt.Errorf("append charge entry: %w", err)
	}
	written := []domain.LedgerEntryType{domain.EntryCharge}

	if req.Fee > 0 {
		fee := &domain.LedgerEntry{
			RestaurantID:  req.RestaurantID,
			Currency:      req.Currency,
			EntryType:     domain.EntryFee,
			Amount:        -req.Fee,
			ReferenceType: domain.ReferenceProcessorEvent,
			ReferenceID:   req.EventID,
			Metadata:      map[string]interface{}{"fee_for": req.EventID},
		}
		if err := r.CreateLedgerEntry(ctx, fee); err != nil {
			return nil, fmt.Errorf("append fee entry: %w", err)
		}
		written = append(written, domain.EntryFee)
	}
	return written, nil
}

// applyRefundSucceeded appends a REFUND debit. The fee from the original
// charge is never refunded.
func (s *Service) applyRefundSucceeded(ctx context.Context, r store.Repository, req domain.IngestEventRequest) error {
	refund := &domain.LedgerEntry{
		RestaurantID:  req.RestaurantID,
		Currency:      req.Currency,
		EntryType:     domain.EntryRefund,
		Amount:        -req.Amount,
		ReferenceType: domain.ReferenceProcessorEvent,
		ReferenceID:   req.EventID,
		Metadata:      req.Metadata,
	}
	if err := r.CreateLedgerEntry(ctx, refund); err != nil {
		return fmt.Errorf("append refund entry: %w", err)
	}
	return nil
}

// applyPayoutPaid resolves the payout named in the event metadata and settles
// it. A missing or unknown payout_id records the event without ledger side
// effects (returned released=false); that is a processor data problem, not a
// reason to reject the event.
func (s *Service) applyPayoutPaid(ctx context.Context, r store.Repository, req domain.IngestEventRequest) (*domain.Payout, bool, error) {
	payoutID := metadataString(req.Metadata, "payout_id")
	if payoutID == "" {
		log.Printf("level=warn component=ingest msg=\"payout_paid event missing payout_id in metadata\" event_id=%s", req.EventID)
		return nil, false, nil
	}

	payout, err := r.GetPayoutByPayoutID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			log.Printf("level=warn component=ingest msg=\"payout not found for payout_paid event\" event_id=%s payout_id=%s", req.EventID, payoutID)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup payout %s: %w", payoutID, err)
	}

	released, err := s.settlePayout(ctx, r, payout)
	if err != nil {
		return nil, false, err
	}
	return payout, released, nil
}

// settlePayout transitions the payout to paid and swaps the earmark for the
// final deduction: a PAYOUT_RESERVE reversal of +amount cancels the hold
// placed at generation, and a PAYOUT_RELEASE of -amount removes the funds for
// good. The pair nets to zero, so a restaurant that was fully paid out ends
// at balance 0, not -amount. All writes share the enclosing ingestion
// transaction. A payout no longer in created state is left untouched: funds
// are never released twice.
func (s *Service) settlePayout(ctx context.Context, r store.Repository, payout *domain.Payout) (bool, error) {
	paidAt := time.Now().UTC()
	if err := r.MarkPayoutPaid(ctx, payout.ID, paidAt); err != nil {
		if errors.Is(err, store.ErrPayoutNotPayable) {
			log.Printf("level=warn component=settlement msg=\"payout not in created state; skipping release\" payout_id=%s status=%s",
				payout.PayoutID, payout.Status)
			return false, nil
		}
		return false, fmt.Errorf("mark payout paid: %w", err)
	}

	reserveReversal := &domain.LedgerEntry{
		RestaurantID:  payout.RestaurantID,
		Currency:      payout.Currency,
		EntryType:     domain.EntryPayoutReserve,
		Amount:        payout.Amount,
		ReferenceType: domain.ReferencePayout,
		ReferenceID:   payout.PayoutID,
		Metadata:      map[string]interface{}{"payout_id": payout.PayoutID, "reversal": true},
	}
	if err := r.CreateLedgerEntry(ctx, reserveReversal); err != nil {
		return false, fmt.Errorf("append reserve reversal entry: %w", err)
	}

	release := &domain.LedgerEntry{
		RestaurantID:  payout.RestaurantID,
		Currency:      payout.Currency,
		EntryType:     domain.EntryPayoutRelease,
		Amount:        -payout.Amount,
		ReferenceType: domain.ReferencePayout,
		ReferenceID:   payout.PayoutID,
		Metadata:      map[string]interface{}{"payout_id": payout.PayoutID},
	}
	if err := r.CreateLedgerEntry(ctx, release); err != nil {
		return false, fmt.Errorf("append release entry: %w", err)
	}

	payout.Status = domain.PayoutPaid
	payout.PaidAt = &paidAt
	log.Printf("level=info component=settlement msg=\"payout marked as paid\" payout_id=%s amount=%d", payout.PayoutID, payout.Amount)
	return true, nil
}

func (s *Service) publishProcessedEvent(ctx context.Context, req domain.IngestEventRequest) {
	if s.eventProducer == nil {
		return
	}
	msg := rabbitmq.ProcessedEventMessage{
		EventID:      req.EventID,
		EventType:    string(req.EventType),
		RestaurantID: req.RestaurantID,
		Currency:     req.Currency,
		Amount:       req.Amount,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RoutingEventProcessed, msg); err != nil {
		log.Printf("level=warn component=ingest msg=\"event publish failed\" event_id=%s err=%v", req.EventID, err)
	}
}

func (s *Service) publishPayoutEvent(ctx context.Context, routingKey string, payout *domain.Payout) {
	if s.eventProducer == nil {
		return
	}
	msg := rabbitmq.PayoutMessage{
		PayoutID:     payout.PayoutID,
		RestaurantID: payout.RestaurantID,
		Currency:     payout.Currency,
		Amount:       payout.Amount,
		Status:       string(payout.Status),
		Timestamp:    time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, routingKey, msg); err != nil {
		log.Printf("level=warn component=payouts msg=\"payout event publish failed\" payout_id=%s err=%v", payout.PayoutID, err)
	}
}

func metadataString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key].(string)
	if !ok {
		return ""
	}
	return value
}
