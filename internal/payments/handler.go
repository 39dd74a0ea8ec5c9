// internal/payments/handler.go
package payments

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// payoutCeiling applies to every payout category except CLAIM.
var payoutCeiling = decimal.NewFromInt(10000)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

type Handler struct {
	service Service
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

func NewHandler(service Service, limiter *rate.Limiter, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		limiter: limiter,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Routes returns the HTTP surface of the command gateway.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/events", h.handleEvents)
	r.Route("/members/{memberId}", func(r chi.Router) {
		r.Get("/", h.handleGetMember)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/", h.handleCreateMember)
			r.Post("/charge", h.handleCharge)
			r.Post("/payout", h.handlePayout)
			r.Post("/trustly-account", h.handleTrustlyAccount)
			r.Post("/adyen-account", h.handleAdyenAccount)
			r.Post("/adyen-payout-account", h.handleAdyenPayoutAccount)
			r.Post("/transactions/{transactionId}/charge-completed", h.handleChargeCompleted)
			r.Post("/transactions/{transactionId}/charge-failed", h.handleChargeFailed)
			r.Post("/transactions/{transactionId}/payout-completed", h.handlePayoutCompleted)
			r.Post("/transactions/{transactionId}/payout-failed", h.handlePayoutFailed)
		})
	})
	return r
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes. Consistency violations
// are logged in full and answered with an opaque body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrDuplicateTransaction), IsRetryable(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("request body: %v", err)
	}
	return nil
}

func transactionIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "transactionId"))
	if err != nil {
		return uuid.Nil, invalid("transaction id: %v", err)
	}
	return id, nil
}

func orNow(t *time.Time, now func() time.Time) time.Time {
	if t == nil || t.IsZero() {
		return now()
	}
	return *t
}

func (h *Handler) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberId")
	if err := h.service.CreateMember(r.Context(), memberID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"memberId": memberID})
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.GetMember(r.Context(), chi.URLParam(r, "memberId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

type chargeRequest struct {
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        Money     `json:"amount"`
	Email         string    `json:"email"`
	CreatedBy     string    `json:"createdBy"`
}

func (h *Handler) handleCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.TransactionID == uuid.Nil {
		req.TransactionID = uuid.New()
	}

	result, err := h.service.CreateCharge(r.Context(), CreateChargeCommand{
		MemberID:      chi.URLParam(r, "memberId"),
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Timestamp:     h.now(),
		Email:         req.Email,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if result.Type != ChargeSuccess {
		writeJSON(w, http.StatusForbidden, result)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uuid.UUID{"transactionId": result.TransactionID})
}

type payoutRequest struct {
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        Money     `json:"amount"`
	Address       string    `json:"address"`
	CountryCode   string    `json:"countryCode"`
	DateOfBirth   string    `json:"dateOfBirth"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
}

func (h *Handler) handlePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	category := strings.ToUpper(strings.TrimSpace(query.Get("category")))
	if category == "" {
		category = CategoryClaim
	}
	if category != CategoryClaim && req.Amount.Amount.GreaterThan(payoutCeiling) {
		http.Error(w, "payout amount exceeds limit for category "+category, http.StatusBadRequest)
		return
	}

	var dob time.Time
	if req.DateOfBirth != "" {
		parsed, err := time.Parse(time.DateOnly, req.DateOfBirth)
		if err != nil {
			h.writeError(w, r, invalid("date of birth: %v", err))
			return
		}
		dob = parsed
	}
	if req.TransactionID == uuid.Nil {
		req.TransactionID = uuid.New()
	}

	accepted, err := h.service.CreatePayout(r.Context(), CreatePayoutCommand{
		MemberID:      chi.URLParam(r, "memberId"),
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Address:       req.Address,
		CountryCode:   req.CountryCode,
		DateOfBirth:   dob,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Timestamp:     h.now(),
		Category:      category,
		ReferenceID:   query.Get("referenceId"),
		Note:          query.Get("note"),
		Handler:       query.Get("handler"),
		Email:         req.Email,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !accepted {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uuid.UUID{"transactionId": req.TransactionID})
}

type trustlyAccountRequest struct {
	HedvigOrderID            uuid.UUID `json:"hedvigOrderId"`
	AccountID                string    `json:"accountId"`
	DirectDebitMandateActive *bool     `json:"directDebitMandateActive"`
	TrustlyBankDetails
}

func (h *Handler) handleTrustlyAccount(w http.ResponseWriter, r *http.Request) {
	var req trustlyAccountRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	err := h.service.UpdateTrustlyAccount(r.Context(), UpdateTrustlyAccountCommand{
		MemberID:                 chi.URLParam(r, "memberId"),
		HedvigOrderID:            req.HedvigOrderID,
		AccountID:                req.AccountID,
		DirectDebitMandateActive: MandateFromBool(req.DirectDebitMandateActive),
		TrustlyBankDetails:       req.TrustlyBankDetails,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adyenAccountRequest struct {
	RecurringDetailReference string `json:"recurringDetailReference"`
	ShopperReference         string `json:"shopperReference"`
	TokenStatus              string `json:"tokenStatus"`
}

func (h *Handler) handleAdyenAccount(w http.ResponseWriter, r *http.Request) {
	var req adyenAccountRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := ParseTokenRegistrationStatus(req.TokenStatus)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.service.UpdateAdyenAccount(r.Context(), UpdateAdyenAccountCommand{
		MemberID:                 chi.URLParam(r, "memberId"),
		RecurringDetailReference: req.RecurringDetailReference,
		TokenStatus:              status,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdyenPayoutAccount(w http.ResponseWriter, r *http.Request) {
	var req adyenAccountRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := ParseTokenRegistrationStatus(req.TokenStatus)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.service.UpdateAdyenPayoutAccount(r.Context(), UpdateAdyenPayoutAccountCommand{
		MemberID:         chi.URLParam(r, "memberId"),
		ShopperReference: req.ShopperReference,
		TokenStatus:      status,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type outcomeRequest struct {
	Amount    Money      `json:"amount"`
	Timestamp *time.Time `json:"timestamp"`
}

// outcome handles the four provider outcome endpoints; they differ only in
// the command they send.
func (h *Handler) outcome(w http.ResponseWriter, r *http.Request, withBody bool, send func(memberID string, txID uuid.UUID, req outcomeRequest) error) {
	txID, err := transactionIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req outcomeRequest
	if withBody {
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if err := send(chi.URLParam(r, "memberId"), txID, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChargeCompleted(w http.ResponseWriter, r *http.Request) {
	h.outcome(w, r, true, func(memberID string, txID uuid.UUID, req outcomeRequest) error {
		return h.service.ChargeCompleted(r.Context(), ChargeCompletedCommand{
			MemberID: memberID, TransactionID: txID, Amount: req.Amount, Timestamp: orNow(req.Timestamp, h.now),
		})
	})
}

func (h *Handler) handleChargeFailed(w http.ResponseWriter, r *http.Request) {
	h.outcome(w, r, false, func(memberID string, txID uuid.UUID, _ outcomeRequest) error {
		return h.service.ChargeFailed(r.Context(), ChargeFailedCommand{MemberID: memberID, TransactionID: txID})
	})
}

func (h *Handler) handlePayoutCompleted(w http.ResponseWriter, r *http.Request) {
	h.outcome(w, r, true, func(memberID string, txID uuid.UUID, req outcomeRequest) error {
		return h.service.PayoutCompleted(r.Context(), PayoutCompletedCommand{
			MemberID: memberID, TransactionID: txID, Amount: req.Amount, Timestamp: orNow(req.Timestamp, h.now),
		})
	})
}

func (h *Handler) handlePayoutFailed(w http.ResponseWriter, r *http.Request) {
	h.outcome(w, r, true, func(memberID string, txID uuid.UUID, req outcomeRequest) error {
		return h.service.PayoutFailed(r.Context(), PayoutFailedCommand{
			MemberID: memberID, TransactionID: txID, Amount: req.Amount, Timestamp: orNow(req.Timestamp, h.now),
		})
	})
}

type eventPage struct {
	Events []eventView `json:"events"`
	Next   int64       `json:"next"`
}

type eventView struct {
	ID        int64             `json:"id"`
	MemberID  string            `json:"memberId"`
	Type      string            `json:"type"`
	Version   int               `json:"version"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var after int64
	if s := query.Get("after"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		after = v
	}
	limit := defaultEventPage
	if s := query.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(v, maxEventPage)
	}

	events, err := h.service.Events(r.Context(), after, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page := eventPage{Events: make([]eventView, 0, len(events)), Next: after}
	for _, e := range events {
		page.Events = append(page.Events, eventView{
			ID:        e.ID,
			MemberID:  e.AggregateID,
			Type:      e.EventType,
			Version:   e.Version,
			Data:      e.EventData,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
		page.Next = e.ID
	}
	writeJSON(w, http.StatusOK, page)
}
