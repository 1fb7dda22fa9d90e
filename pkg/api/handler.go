package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

const (
	maxCustomerIDLen = 255
	maxBodyBytes     = 1 << 20
	maxHistoryLimit  = 500
)

var (
	errMissingCustomer = errors.New("customer ID not found")
	errInvalidCustomer = errors.New("invalid customer ID format")
)

// badRequestError marks malformed input that never reached validation
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

// Handler provides HTTP endpoints for loyalty standing and accrual
type Handler struct {
	config   Config
	validate *validator.Validate
}

// Routes mounts the customer endpoints. The customer is taken from Config.GetCustomerID.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tiers", h.ListTiers)
	r.Get("/standing", h.GetStanding)
	r.Post("/register", h.Register)
	r.Post("/purchases", h.RecordPurchase)
	r.Get("/history", h.History)
	r.Get("/eligibility", h.Eligibility)
}

// AdminRoutes mounts the administrative endpoints. Customer routes read the
// customer from the {customerID} parameter.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Put("/tiers", h.PutTiers)
	r.Post("/customers/{customerID}/reconcile", h.Reconcile)
	r.Post("/customers/{customerID}/adjustments", h.AdjustPoints)
}

// GetStanding returns the customer's tier, next tier, progress and balances
func (h *Handler) GetStanding(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	standing, err := h.config.Engine.GetStanding(r.Context(), customerID, h.config.GetLocale(r))
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get standing: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, standingResponse(standing))
}

// ListTiers returns the configured tier ladder
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.config.Engine.GetTiers(r.Context())
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get tiers: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, h.tiersResponse(r, tiers, nil))
}

// PutTiers replaces the tier ladder
func (h *Handler) PutTiers(w http.ResponseWriter, r *http.Request) {
	var req TiersRequest
	if !h.decode(w, r, &req) {
		return
	}

	tiers := make([]loyalty.TierDefinition, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tiers = append(tiers, t.definition())
	}

	warnings, err := h.config.Engine.SetTiers(r.Context(), tiers)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	stored, err := h.config.Engine.GetTiers(r.Context())
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to reload tiers: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, h.tiersResponse(r, stored, warnings))
}

// Register creates the customer, optionally recording a referrer
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	var since time.Time
	if req.Since != nil {
		since = *req.Since
	}
	if _, err := h.config.Engine.RegisterCustomer(r.Context(), customerID, req.ReferrerID, since); err != nil {
		h.handleError(w, r, err)
		return
	}

	standing, err := h.config.Engine.GetStanding(r.Context(), customerID, h.config.GetLocale(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, standingResponse(standing))
}

// RecordPurchase accrues a purchase for the customer
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	event := loyalty.PurchaseEvent{
		PurchaseID: req.PurchaseID,
		CustomerID: customerID,
		Liters:     req.Liters,
		Amount:     req.Amount,
		Metadata:   req.Metadata,
	}
	if req.Timestamp != nil {
		event.Timestamp = *req.Timestamp
	}

	outcome, err := h.config.Engine.RecordPurchase(r.Context(), event)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	standing, err := h.config.Engine.GetStanding(r.Context(), customerID, h.config.GetLocale(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PurchaseResponse{
		PurchaseID:    outcome.PurchaseID,
		Points:        outcome.Accrual.PointsAwarded,
		Cashback:      outcome.Accrual.CashbackAwarded,
		TierAtAccrual: outcome.Accrual.TierAtTimeOfPurchase.Name,
		Promoted:      outcome.Promoted,
		Commission:    outcome.Commission,
		Standing:      standingResponse(standing),
	})
}

// History lists ledger entries, newest first.
// Query parameters: kind, since, until (RFC 3339) and limit.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		h.handleError(w, r, &badRequestError{err})
		return
	}
	entries, err := h.config.Engine.History(r.Context(), customerID, filter)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to list history: %w", err))
		return
	}
	if entries == nil {
		entries = []*loyalty.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Eligibility reports whether the customer qualifies for the giveaway
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	res, err := h.config.Engine.CheckGiveawayEligibility(r.Context(), customerID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reconcile rebuilds the customer's balances from the ledger
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	if err := checkCustomerID(customerID); err != nil {
		h.handleError(w, r, err)
		return
	}
	res, err := h.config.Engine.Reconcile(r.Context(), customerID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AdjustPoints applies a manual points correction
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	if err := checkCustomerID(customerID); err != nil {
		h.handleError(w, r, err)
		return
	}
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := h.config.Engine.AdjustPoints(r.Context(), customerID, req.EntryID, req.Points, req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) customerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	customerID := h.config.GetCustomerID(r)
	if err := checkCustomerID(customerID); err != nil {
		h.handleError(w, r, err)
		return "", false
	}
	return customerID, true
}

func checkCustomerID(customerID string) error {
	if customerID == "" {
		return errMissingCustomer
	}
	if len(customerID) > maxCustomerIDLen {
		return &badRequestError{errInvalidCustomer}
	}
	return nil
}

// decode reads a JSON body into dst and validates it
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.handleError(w, r, &badRequestError{fmt.Errorf("invalid request body: %w", err)})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.handleError(w, r, err)
		return false
	}
	return true
}

func parseFilter(r *http.Request) (loyalty.LedgerFilter, error) {
	q := r.URL.Query()
	filter := loyalty.LedgerFilter{Kind: loyalty.EntryKind(q.Get("kind"))}

	switch filter.Kind {
	case "", loyalty.EntryKindPurchase, loyalty.EntryKindCommission, loyalty.EntryKindAdjustment:
	default:
		return filter, fmt.Errorf("unknown entry kind %q", filter.Kind)
	}

	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = &t
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 || limit > maxHistoryLimit {
			return filter, fmt.Errorf("limit must be between 0 and %d", maxHistoryLimit)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func standingResponse(s *loyalty.Standing) StandingResponse {
	resp := StandingResponse{
		CustomerID: s.CustomerID,
		Tier:       tierView(s.Current, s.CurrentDisplayName),
		Progress:   s.Progress,
		Balances: Balances{
			Liters:     s.State.CumulativeLiters,
			Points:     s.State.CumulativePoints,
			Spend:      s.State.CumulativeSpend,
			Cashback:   s.State.CumulativeCashback,
			Commission: s.State.CommissionBalance,
			Purchases:  s.State.PurchaseCount,
		},
		NextRequirements: s.NextRequirements,
	}
	if s.Next != nil {
		next := tierView(*s.Next, s.NextDisplayName)
		resp.NextTier = &next
	}
	return resp
}

func tierView(t loyalty.TierDefinition, displayName string) TierView {
	if displayName == "" {
		displayName = t.Name
	}
	return TierView{
		Name:          t.Name,
		DisplayName:   displayName,
		Level:         t.LevelNumber,
		MinimumLiters: t.Requirements.MinimumLiters,
		Benefits:      t.Benefits,
	}
}

func (h *Handler) tiersResponse(r *http.Request, tiers []loyalty.TierDefinition, warnings []string) TiersResponse {
	locale := h.config.GetLocale(r)
	catalog := h.config.Engine.Catalog()

	resp := TiersResponse{Tiers: make([]TierView, 0, len(tiers)), Warnings: warnings}
	for _, t := range tiers {
		resp.Tiers = append(resp.Tiers, tierView(t, catalog.TierName(locale, t.Name)))
	}
	return resp
}

// statusCode maps engine errors to HTTP status codes
func statusCode(err error) int {
	var validationErrs validator.ValidationErrors
	var badRequest *badRequestError
	switch {
	case errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.Is(err, errMissingCustomer):
		return http.StatusUnauthorized
	case errors.As(err, &validationErrs),
		errors.Is(err, loyalty.ErrInvalidPurchase),
		errors.Is(err, loyalty.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, loyalty.ErrConfiguration),
		errors.Is(err, loyalty.ErrDuplicateEntry),
		errors.Is(err, loyalty.ErrCustomerExists),
		errors.Is(err, loyalty.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, loyalty.ErrCustomerNotFound):
		return http.StatusNotFound
	case errors.Is(err, loyalty.ErrCircuitOpen),
		errors.Is(err, loyalty.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	status := statusCode(err)
	resp := ErrorResponse{Error: err.Error()}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		resp.Error = "validation failed"
		resp.Fields = fieldErrors(validationErrs)
	}
	if status == http.StatusInternalServerError {
		h.config.Logger.Error("loyalty api request failed",
			loyalty.Field{Key: "path", Value: r.URL.Path},
			loyalty.Field{Key: "error", Value: err.Error()},
		)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already started
		_ = err
	}
}
