/**
 * @description
 * This file contains the HTTP handlers for the ledger service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * All failures share one envelope: {"error": {"code", "message", "details"}}.
 * Domain errors carry their own code; everything else becomes INTERNAL_ERROR.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain: Service logic and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mesa247/ledger-service/internal/app"
	"github.com/mesa247/ledger-service/internal/domain"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service         *app.Service
	defaultCurrency string
}

// NewLedgerHandlers creates a new instance of LedgerHandlers. defaultCurrency
// is used when a balance query omits the currency parameter.
func NewLedgerHandlers(service *app.Service, defaultCurrency string) *LedgerHandlers {
	return &LedgerHandlers{service: service, defaultCurrency: defaultCurrency}
}

// IngestEventHandler handles processor event submissions. A first-seen event
// returns 201; a duplicate returns 200 with an already_processed status so
// that processor retries stay cheap and safe.
func (h *LedgerHandlers) IngestEventHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=ingest_event outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, &domain.Error{Code: "INVALID_BODY", Message: "request body is not valid JSON"})
		return
	}

	if retryAfter, limited := h.service.CheckIngestRateLimit(r.Context(), req.RestaurantID); limited {
		log.Printf("level=warn component=api endpoint=ingest_event outcome=rate_limited restaurant_id=%s retry_after=%d", req.RestaurantID, retryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, &domain.Error{
			Code:    "RATE_LIMITED",
			Message: "too many events for this restaurant; slow down",
			Details: map[string]interface{}{"retry_after_seconds": retryAfter},
		})
		return
	}

	isNew, message, err := h.service.IngestEvent(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "ingest_event", err)
		return
	}

	status := http.StatusCreated
	resultStatus := "processed"
	if !isNew {
		status = http.StatusOK
		resultStatus = "already_processed"
	}
	h.writeJSON(w, status, domain.IngestEventResponse{
		EventID: req.EventID,
		Status:  resultStatus,
		Message: message,
	})
}

// GetBalanceHandler returns the derived balance for one restaurant and
// currency.
func (h *LedgerHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	restaurantID := chi.URLParam(r, "restaurantID")
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = h.defaultCurrency
	}

	balance, err := h.service.GetRestaurantBalance(r.Context(), restaurantID, currency)
	if err != nil {
		h.writeServiceError(w, "get_balance", err)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// RunPayoutsHandler triggers a payout generation run. The run executes
// synchronously but the endpoint answers 202: callers observe the resulting
// payouts through the lookup endpoint, not this response.
func (h *LedgerHandlers) RunPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=run_payouts outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, &domain.Error{Code: "INVALID_BODY", Message: "request body is not valid JSON"})
		return
	}
	if req.Currency == "" {
		req.Currency = h.defaultCurrency
	}

	asOfDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, &domain.Error{
				Code:    "INVALID_DATE",
				Message: "as_of must be formatted as YYYY-MM-DD",
				Details: map[string]interface{}{"as_of": req.AsOf},
			})
			return
		}
		asOfDate = parsed
	}

	created, err := h.service.GeneratePayouts(r.Context(), req.Currency, asOfDate, req.MinAmount)
	if err != nil {
		h.writeServiceError(w, "run_payouts", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, domain.PayoutRunResponse{
		Status:         "completed",
		Message:        "Payout run completed",
		PayoutsCreated: created,
	})
}

// GetPayoutHandler returns one payout with its item breakdown.
func (h *LedgerHandlers) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "payoutID")

	payout, err := h.service.GetPayout(r.Context(), payoutID)
	if err != nil {
		h.writeServiceError(w, "get_payout", err)
		return
	}

	items := make([]domain.PayoutItemResponse, 0, len(payout.Items))
	for _, item := range payout.Items {
		items = append(items, domain.PayoutItemResponse{Type: item.ItemType, Amount: item.Amount})
	}

	h.writeJSON(w, http.StatusOK, domain.PayoutResponse{
		PayoutID:     payout.PayoutID,
		RestaurantID: payout.RestaurantID,
		Currency:     payout.Currency,
		Amount:       payout.Amount,
		Status:       payout.Status,
		AsOfDate:     payout.AsOfDate.Format("2006-01-02"),
		CreatedAt:    payout.CreatedAt,
		PaidAt:       payout.PaidAt,
		Items:        items,
	})
}

// writeServiceError maps service failures onto HTTP statuses. Validation
// codes get 400, not-found codes get 404, anything else is a 500 behind an
// opaque envelope.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		status := http.StatusBadRequest
		switch {
		case errors.Is(domainErr, domain.ErrRestaurantNotFound), errors.Is(domainErr, domain.ErrPayoutNotFound):
			status = http.StatusNotFound
		}
		log.Printf("level=warn component=api endpoint=%s outcome=reject code=%s err=%v", endpoint, domainErr.Code, err)
		h.writeError(w, status, domainErr)
		return
	}

	log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
	h.writeError(w, http.StatusInternalServerError, &domain.Error{Code: "INTERNAL_ERROR", Message: "internal server error"})
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing the standard error envelope.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, err *domain.Error) {
	h.writeJSON(w, status, map[string]*domain.Error{"error": err})
}
