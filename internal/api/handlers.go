package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/maltedev/landed-cost/internal/database"
	"github.com/maltedev/landed-cost/internal/fx"
	"github.com/maltedev/landed-cost/internal/importcost"
	"github.com/maltedev/landed-cost/internal/report"
	"github.com/maltedev/landed-cost/internal/tariff"
)

// QuoteService computes quotes.
type QuoteService interface {
	Quote(ctx context.Context, req importcost.Request) (*importcost.Result, error)
	ExchangeRate(ctx context.Context) (fx.Quote, error)
}

// CalculationStore reads recorded calculations.
type CalculationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*database.Calculation, error)
	List(ctx context.Context, filter database.ListFilter) ([]*database.Calculation, error)
}

// Outbox reports and manages the event delivery backlog.
type Outbox interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
	RequeueDeadLetters(ctx context.Context) (int64, error)
}

// Pinger checks a dependency's reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Handlers struct {
	quotes       QuoteService
	calculations CalculationStore
	outbox       Outbox
	db           Pinger
	logger       *slog.Logger
}

func NewHandlers(quotes QuoteService, calculations CalculationStore, outbox Outbox, db Pinger, logger *slog.Logger) *Handlers {
	return &Handlers{
		quotes:       quotes,
		calculations: calculations,
		outbox:       outbox,
		db:           db,
		logger:       logger.With("component", "api"),
	}
}

// QuoteRequest is the body of quote and calculation requests. Omitted
// rates are looked up in the tariff table; an omitted exchange rate is
// fetched from the configured provider.
type QuoteRequest struct {
	HSNCode                 string           `json:"hsn_code"`
	FOBPriceUSD             decimal.Decimal  `json:"fob_price_usd"`
	FreightInsurancePercent *decimal.Decimal `json:"freight_insurance_percent,omitempty"`
	Rates                   *tariff.RawRates `json:"rates,omitempty"`
	USDToINRRate            *decimal.Decimal `json:"usd_to_inr_rate,omitempty"`
	RateIsFinal             bool             `json:"rate_is_final,omitempty"`
}

func (q QuoteRequest) toRequest(record bool) importcost.Request {
	freight := importcost.DefaultFreightInsurancePercent
	if q.FreightInsurancePercent != nil {
		freight = *q.FreightInsurancePercent
	}
	return importcost.Request{
		HSNCode:                 strings.TrimSpace(q.HSNCode),
		FOBPriceUSD:             q.FOBPriceUSD,
		FreightInsurancePercent: freight,
		Rates:                   q.Rates,
		ExchangeRate:            q.USDToINRRate,
		RateIsFinal:             q.RateIsFinal,
		Record:                  record,
	}
}

// maxQuoteBodyBytes limits a quote request body.
const maxQuoteBodyBytes = 64 << 10

// CreateQuote computes a landed cost without recording it
func (h *Handlers) CreateQuote(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, false)
}

// CreateCalculation computes and records a landed cost
func (h *Handlers) CreateCalculation(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, true)
}

func (h *Handlers) quote(w http.ResponseWriter, r *http.Request, record bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxQuoteBodyBytes)

	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.HSNCode == "" {
		h.respondError(w, http.StatusBadRequest, "hsn_code is required")
		return
	}

	result, err := h.quotes.Quote(r.Context(), req.toRequest(record))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if record {
		status = http.StatusCreated
	}
	h.respondJSON(w, status, result)
}

// ListCalculations lists recorded calculations, newest first
func (h *Handlers) ListCalculations(w http.ResponseWriter, r *http.Request) {
	filter := database.ListFilter{HSNCode: r.URL.Query().Get("hsn")}

	if filter.HSNCode != "" {
		if err := tariff.ValidateHSN(filter.HSNCode); err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	calcs, err := h.calculations.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list calculations", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list calculations")
		return
	}

	h.respondJSON(w, http.StatusOK, calcs)
}

// GetCalculation returns a recorded calculation as stored
func (h *Handlers) GetCalculation(w http.ResponseWriter, r *http.Request) {
	calc, ok := h.loadCalculation(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, calc)
}

// GetCalculationReport streams a recorded calculation as a CSV attachment
func (h *Handlers) GetCalculationReport(w http.ResponseWriter, r *http.Request) {
	calc, ok := h.loadCalculation(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", report.FileName(calc.HSNCode, calc.CreatedAt)))
	w.WriteHeader(http.StatusOK)

	err := report.WriteCSV(w, report.Report{
		HSNCode:      calc.HSNCode,
		Breakdown:    calc.Breakdown,
		ExchangeRate: calc.ExchangeRate,
		GeneratedAt:  calc.CreatedAt,
	})
	if err != nil {
		h.logger.Error("failed to write report", "calculation_id", calc.ID, "error", err)
	}
}

// GetExchangeRate returns the buffered USD/INR rate quotes currently use
func (h *Handlers) GetExchangeRate(w http.ResponseWriter, r *http.Request) {
	q, err := h.quotes.ExchangeRate(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, q)
}

// Health reports database reachability and the outbox backlog
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("database ping failed", "error", err)
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "error",
			"database": "unreachable",
		})
		return
	}

	pendingCount, err := h.outbox.PendingCount(ctx)
	if err != nil {
		h.logger.Warn("failed to read pending count", "error", err)
	}
	deadLetterCount, err := h.outbox.DeadLetterCount(ctx)
	if err != nil {
		h.logger.Warn("failed to read dead letter count", "error", err)
	}

	health := map[string]interface{}{
		"status":   "ok",
		"database": "ok",
		"outbox": map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		},
	}

	status := http.StatusOK
	if pendingCount > pendingWarnThreshold {
		health["status"] = "warning"
		health["message"] = "High number of pending outbox events"
	}
	if deadLetterCount > deadLetterFailThreshold {
		health["status"] = "error"
		health["message"] = "High number of dead letter events"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, health)
}

// RequeueDeadLetters returns parked outbox events to delivery
func (h *Handlers) RequeueDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := h.outbox.RequeueDeadLetters(r.Context())
	if err != nil {
		h.logger.Error("failed to requeue dead letters", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to requeue dead letters")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}

func (h *Handlers) loadCalculation(w http.ResponseWriter, r *http.Request) (*database.Calculation, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "calculationID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid calculation id")
		return nil, false
	}

	calc, err := h.calculations.Get(r.Context(), id)
	if errors.Is(err, database.ErrCalculationNotFound) {
		h.respondError(w, http.StatusNotFound, "calculation not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get calculation", "calculation_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get calculation")
		return nil, false
	}

	return calc, true
}

func (h *Handlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, importcost.ErrInvalidRequest):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, importcost.ErrExchangeRate):
		h.logger.Error("exchange rate provider failed", "error", err)
		h.respondError(w, http.StatusBadGateway, "exchange rate unavailable")
	default:
		h.logger.Error("quote failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to calculate landed cost")
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
