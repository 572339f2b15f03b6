package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mesa247/ledger-service/internal/domain"
	"github.com/mesa247/ledger-service/internal/store"
)

// ledgerRepoStub is an in-memory Repository used across the service tests.
// RunInTx simply runs the callback against the stub itself, so transactional
// code paths exercise the same state. GetBalance and GetBreakdown return
// seeded values when present and otherwise derive them from the appended
// entries, mirroring the SQL aggregation.
type ledgerRepoStub struct {
	store.Repository

	events  map[string]*domain.ProcessorEvent
	entries []*domain.LedgerEntry
	payouts map[string]*domain.Payout
	items   []domain.PayoutItem

	balances     map[string]int64
	breakdowns   map[string]map[domain.LedgerEntryType]int64
	lastActivity map[string]*time.Time
	restaurants  []string
	payoutExists map[string]bool

	eventLookupErr  error
	createEventErr  error
	createPayoutErr map[string]error
	balanceErr      map[string]error
}

func newLedgerRepoStub() *ledgerRepoStub {
	return &ledgerRepoStub{
		events:          map[string]*domain.ProcessorEvent{},
		payouts:         map[string]*domain.Payout{},
		balances:        map[string]int64{},
		breakdowns:      map[string]map[domain.LedgerEntryType]int64{},
		lastActivity:    map[string]*time.Time{},
		payoutExists:    map[string]bool{},
		createPayoutErr: map[string]error{},
		balanceErr:      map[string]error{},
	}
}

func (s *ledgerRepoStub) RunInTx(ctx context.Context, fn func(store.Repository) error) error {
	return fn(s)
}

func (s *ledgerRepoStub) GetEventByEventID(ctx context.Context, eventID string) (*domain.ProcessorEvent, error) {
	if s.eventLookupErr != nil {
		return nil, s.eventLookupErr
	}
	event, ok := s.events[eventID]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	return event, nil
}

func (s *ledgerRepoStub) CreateEvent(ctx context.Context, event *domain.ProcessorEvent) error {
	if s.createEventErr != nil {
		return s.createEventErr
	}
	if _, ok := s.events[event.EventID]; ok {
		return store.ErrDuplicateEvent
	}
	event.ID = uuid.New()
	event.CreatedAt = time.Now().UTC()
	s.events[event.EventID] = event
	return nil
}

func (s *ledgerRepoStub) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *ledgerRepoStub) GetBalance(ctx context.Context, restaurantID, currency string) (int64, error) {
	if err := s.balanceErr[restaurantID]; err != nil {
		return 0, err
	}
	if balance, ok := s.balances[restaurantID]; ok {
		return balance, nil
	}
	var balance int64
	for _, entry := range s.entries {
		if entry.RestaurantID == restaurantID && entry.Currency == currency {
			balance += entry.Amount
		}
	}
	return balance, nil
}

func (s *ledgerRepoStub) GetLastActivity(ctx context.Context, restaurantID, currency string) (*time.Time, error) {
	return s.lastActivity[restaurantID], nil
}

func (s *ledgerRepoStub) GetBreakdown(ctx context.Context, restaurantID, currency string) (map[domain.LedgerEntryType]int64, error) {
	if breakdown, ok := s.breakdowns[restaurantID]; ok {
		return breakdown, nil
	}
	breakdown := map[domain.LedgerEntryType]int64{}
	for _, entry := range s.entries {
		if entry.RestaurantID == restaurantID && entry.Currency == currency {
			breakdown[entry.EntryType] += entry.Amount
		}
	}
	return breakdown, nil
}

func (s *ledgerRepoStub) ListRestaurantsWithEntries(ctx context.Context, currency string) ([]string, error) {
	return s.restaurants, nil
}

func (s *ledgerRepoStub) CreatePayout(ctx context.Context, payout *domain.Payout) error {
	if err := s.createPayoutErr[payout.RestaurantID]; err != nil {
		return err
	}
	payout.ID = uuid.New()
	payout.CreatedAt = time.Now().UTC()
	s.payouts[payout.PayoutID] = payout
	return nil
}

func (s *ledgerRepoStub) CreatePayoutItems(ctx context.Context, items []domain.PayoutItem) error {
	s.items = append(s.items, items...)
	return nil
}

func (s *ledgerRepoStub) GetPayoutByPayoutID(ctx context.Context, payoutID string) (*domain.Payout, error) {
	payout, ok := s.payouts[payoutID]
	if !ok {
		return nil, store.ErrPayoutNotFound
	}
	return payout, nil
}

func (s *ledgerRepoStub) PayoutExistsForDate(ctx context.Context, restaurantID, currency string, asOfDate time.Time) (bool, error) {
	return s.payoutExists[restaurantID], nil
}

func (s *ledgerRepoStub) MarkPayoutPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	for _, payout := range s.payouts {
		if payout.ID == id {
			if payout.Status != domain.PayoutCreated {
				return store.ErrPayoutNotPayable
			}
			payout.Status = domain.PayoutPaid
			payout.PaidAt = &paidAt
			return nil
		}
	}
	return store.ErrPayoutNotPayable
}

func (s *ledgerRepoStub) entriesOfType(entryType domain.LedgerEntryType) []*domain.LedgerEntry {
	var matched []*domain.LedgerEntry
	for _, entry := range s.entries {
		if entry.EntryType == entryType {
			matched = append(matched, entry)
		}
	}
	return matched
}

func chargeRequest(eventID string, amount, fee int64) domain.IngestEventRequest {
	return domain.IngestEventRequest{
		EventID:      eventID,
		EventType:    domain.EventChargeSucceeded,
		OccurredAt:   time.Now().UTC(),
		RestaurantID: "rest_abc",
		Currency:     "PEN",
		Amount:       amount,
		Fee:          fee,
	}
}

func TestIngestEvent_ChargeAppendsChargeAndFeeEntries(t *testing.T) {
	repo := newLedgerRepoStub()
	service := NewService(repo, nil)

	isNew, message, err := service.IngestEvent(context.Background(), chargeRequest("evt_1", 12000, 600))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !isNew {
		t.Fatal("expected first-seen event to be reported as new")
	}
	if message != MessageProcessed {
		t.Fatalf("unexpected message %q", message)
	}

	if len(repo.entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(repo.entries))
	}
	charge := repo.entriesOfType(domain.EntryCharge)
	if len(charge) != 1 || charge[0].Amount != 12000 {
		t.Fatalf("unexpected charge entries: %+v", charge)
	}
	fee := repo.entriesOfType(domain.EntryFee)
	if len(fee) != 1 || fee[0].Amount != -600 {
		t.Fatalf("unexpected fee entries: %+v", fee)
	}
	if fee[0].Metadata["fee_for"] != "evt_1" {
		t.Fatalf("expected fee entry to reference the charge event, got %v", fee[0].Metadata)
	}
}

func TestIngestEvent_ChargeWithoutFeeSkipsFeeEntry(t *testing.T) {
	repo := newLedgerRepoStub()
	service := NewService(repo, nil)

	if _, _, err := service.IngestEvent(context.Background(), chargeRequest("evt_2", 5000, 0)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected a single charge entry, got %d entries", len(repo.entries))
	}
	if repo.entries[0].EntryType != domain.EntryCharge {
		t.Fatalf("unexpected entry type %s", repo.entries[0].EntryType)
	}
}

func TestIngestEvent_RefundAppendsNegativeEntry(t *testing.T) {
	repo := newLedgerRepoStub()
	service := NewService(repo, nil)

	req := chargeRequest("evt_3", 4000, 0)
	req.EventType = domain.EventRefundSucceeded

	if _, _, err := service.IngestEvent(context.Background(), req); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	refunds := repo.entriesOfType(domain.EntryRefund)
	if len(refunds) != 1 || refunds[0].Amount != -4000 {
		t.Fatalf("unexpected refund entries: %+v", refunds)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("refund must never touch the original fee, got %d entries", len(repo.entries))
	}
}

func TestIngestEvent_DuplicateReturnsAlreadyProcessed(t *testing.T) {
	repo := newLedgerRepoStub()
	service := NewService(repo, nil)

	if _, _, err := service.IngestEvent(context.Background(), chargeRequest("evt_dup", 1000, 0)); err != nil {
		t.Fatalf("first ingestion failed: %v", err)
	}

	isNew, message, err := service.IngestEvent(context.Background(), chargeRequest("evt_dup", 1000, 0))
	if err != nil {
		t.Fatalf("expected nil error on duplicate, got %v", err)
	}
	if isNew {
		t.Fatal("expected duplicate to be reported as already processed")
	}
	if message != MessageAlreadyProcessed {
		t.Fatalf("unexpected message %q", message)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("duplicate must not append entries, got %d", len(repo.entries))
	}
}

func TestIngestEvent_LostInsertRaceReportsAlreadyProcessed(t *testing.T) {
	repo := newLedgerRepoStub()
	repo.createEventErr = store.ErrDuplicateEvent
	service := NewService(repo, nil)

	isNew, message, err := service.IngestEvent(context.Background(), chargeRequest("evt_race", 1000, 0))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if isNew || message != MessageAlreadyProcessed {
		t.Fatalf("expected already-processed outcome, got isNew=%t message=%q", isNew, message)
	}
	if len(repo.entries) != 0 {
		t.Fatalf("no entries expected after losing the insert race, got %d", len(repo.entries))
	}
}

func TestIngestEvent_RejectsInvalidEvents(t *testing.T) {
	repo := newLedgerRepoStub()
	service := NewService(repo, nil)

	unknown := chargeRequest("evt_bad", 1000, 0)
	unknown.EventType = "charge_pending"
	if _, _, err := service.IngestEvent(context.Background(), unknown); !errors.Is(err, domain.ErrInvalidEventType) {
		t.Fatalf("expected invalid event type error, got %v", err)
	}

	badCurrency := chargeRequest("evt_bad", 1000, 0)
	badCurrency.Currency = "SOLES"
	if _, _, err := service.IngestEvent(context.Background(), badCurrency); !errors.Is(err, domain.ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency error, got %v", err)
	}

	negative := chargeRequest("evt_bad", -5, 0)
	if _, _, err := service.IngestEvent(context.Background(), negative); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount error, got %v", err)
	}

	if len(repo.entries) != 0 || len(repo.events) != 0 {
		t.Fatal("rejected events must leave no state behind")
	}
}

func payoutPaidRequest(eventID, payoutID string) domain.IngestEventRequest {
	req := chargeRequest(eventID, 10800, 0)
	req.EventType = domain.EventPayoutPaid
	if payoutID != "" {
		req.Metadata = map[string]interface{}{"payout_id": payoutID}
	}
	return req
}

func TestIngestEvent_PayoutPaidSettlesPayout(t *testing.T) {
	repo := newLedgerRepoStub()
	repo.payouts["po_abc123"] = &domain.Payout{
		ID:           uuid.New(),
		PayoutID:     "po_abc123",
		RestaurantID: "rest_abc",
		Currency:     "PEN",
		Amount:       10800,
		Status:       domain.PayoutCreated,
	}
	service := NewService(repo, nil)

	isNew, _, err := service.IngestEvent(context.Background(), payoutPaidRequest("evt_pp", "po_abc123"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !isNew {
		t.Fatal("expected event to be recorded as new")
	}

	payout := repo.payouts["po_abc123"]
	if payout.Status != domain.PayoutPaid {
		t.Fatalf("expected payout to be paid, got %s", payout.Status)
	}
	if payout.PaidAt == nil {
		t.Fatal("expected paid_at to be set")
	}
	releases := repo.entriesOfType(domain.EntryPayoutRelease)
	if len(releases) != 1 || releases[0].Amount != -10800 {
		t.Fatalf("unexpected release entries: %+v", releases)
	}
	if releases[0].ReferenceID != "po_abc123" {
		t.Fatalf("release entry must reference the payout, got %q", releases[0].ReferenceID)
	}
	reversals := repo.entriesOfType(domain.EntryPayoutReserve)
	if len(reversals) != 1 || reversals[0].Amount != 10800 {
		t.Fatalf("settlement must reverse the reservation, got %+v", reversals)
	}
	if len(repo.entries) != 2 {
		t.Fatalf("expected exactly the reversal and release entries, got %d", len(repo.entries))
	}
}

func TestIngestEvent_PayoutPaidWithUnknownPayoutRecordsEventOnly(t *testing.T) {
	repo := newLedgerRepoStub()
	service := NewService(repo, nil)

	isNew, _, err := service.IngestEvent(context.Background(), payoutPaidRequest("evt_pp2", "po_missing"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !isNew {
		t.Fatal("expected event to be recorded")
	}
	if len(repo.entries) != 0 {
		t.Fatalf("unknown payout must not produce ledger entries, got %d", len(repo.entries))
	}
	if _, ok := repo.events["evt_pp2"]; !ok {
		t.Fatal("event must still be stored for audit")
	}
}

func TestIngestEvent_PayoutPaidWithoutPayoutIDRecordsEventOnly(t *testing.T) {
	repo := newLedgerRepoStub()
	service := NewService(repo, nil)

	isNew, _, err := service.IngestEvent(context.Background(), payoutPaidRequest("evt_pp3", ""))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !isNew || len(repo.entries) != 0 {
		t.Fatalf("expected recorded event with no entries, got isNew=%t entries=%d", isNew, len(repo.entries))
	}
}

func TestIngestEvent_PayoutPaidSkipsAlreadyPaidPayout(t *testing.T) {
	paidAt := time.Now().UTC()
	repo := newLedgerRepoStub()
	repo.payouts["po_paid"] = &domain.Payout{
		ID:           uuid.New(),
		PayoutID:     "po_paid",
		RestaurantID: "rest_abc",
		Currency:     "PEN",
		Amount:       5000,
		Status:       domain.PayoutPaid,
		PaidAt:       &paidAt,
	}
	service := NewService(repo, nil)

	isNew, _, err := service.IngestEvent(context.Background(), payoutPaidRequest("evt_pp4", "po_paid"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !isNew {
		t.Fatal("expected the confirmation event itself to be recorded")
	}
	if len(repo.entries) != 0 {
		t.Fatalf("funds must never be released twice, got %d entries", len(repo.entries))
	}
}

func TestIngestEvent_SettledPayoutLeavesZeroBalance(t *testing.T) {
	repo := newLedgerRepoStub()
	repo.restaurants = []string{"rest_abc"}
	service := NewService(repo, nil)
	ctx := context.Background()

	if _, _, err := service.IngestEvent(ctx, chargeRequest("evt_charge", 12000, 600)); err != nil {
		t.Fatalf("charge ingestion failed: %v", err)
	}
	refund := chargeRequest("evt_refund", 600, 0)
	refund.EventType = domain.EventRefundSucceeded
	if _, _, err := service.IngestEvent(ctx, refund); err != nil {
		t.Fatalf("refund ingestion failed: %v", err)
	}

	created, err := service.GeneratePayouts(ctx, "PEN", testAsOf, 5000)
	if err != nil {
		t.Fatalf("payout run failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 payout, got %d", created)
	}
	var payout *domain.Payout
	for _, p := range repo.payouts {
		payout = p
	}
	if payout.Amount != 10800 {
		t.Fatalf("expected payout of 10800, got %d", payout.Amount)
	}

	if _, _, err := service.IngestEvent(ctx, payoutPaidRequest("evt_settle", payout.PayoutID)); err != nil {
		t.Fatalf("settlement ingestion failed: %v", err)
	}
	if payout.Status != domain.PayoutPaid {
		t.Fatalf("expected payout to be paid, got %s", payout.Status)
	}

	var balance int64
	for _, entry := range repo.entries {
		balance += entry.Amount
	}
	if balance != 0 {
		t.Fatalf("a fully paid out restaurant must end at balance 0, got %d", balance)
	}
}
