// Package importcost puts a landed-cost quote together: it resolves duty
// rates for an HSN code, obtains and buffers the exchange rate, runs the
// calculator and optionally records the result.
package importcost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/maltedev/landed-cost/internal/database"
	"github.com/maltedev/landed-cost/internal/fx"
	"github.com/maltedev/landed-cost/internal/landedcost"
	"github.com/maltedev/landed-cost/internal/tariff"
)

var (
	// ErrInvalidRequest marks errors caused by the caller's input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrExchangeRate marks a failure of the exchange-rate provider.
	ErrExchangeRate = errors.New("exchange rate unavailable")
	// ErrRecordingDisabled is returned for Record requests when no recorder is configured.
	ErrRecordingDisabled = errors.New("recording is not configured")
)

// DefaultFreightInsurancePercent is applied when a caller does not state one.
var DefaultFreightInsurancePercent = decimal.NewFromInt(6)

// Recorder persists a calculation.
type Recorder interface {
	RecordCalculation(ctx context.Context, c *database.Calculation) error
}

// Request describes one quote.
type Request struct {
	HSNCode                 string
	FOBPriceUSD             decimal.Decimal
	FreightInsurancePercent decimal.Decimal

	// Rates overrides the tariff source when set. Empty fields fall back
	// individually under the configured policy.
	Rates *tariff.RawRates
	// ExchangeRate overrides the provider when set.
	ExchangeRate *decimal.Decimal
	// RateIsFinal skips the buffer; ExchangeRate is used as is.
	RateIsFinal bool

	Record bool
}

// Result is a computed quote.
type Result struct {
	CalculationID *uuid.UUID  `json:"calculation_id,omitempty"`
	HSNCode       string      `json:"hsn_code"`
	Rates         RatesResult `json:"rates"`
	ExchangeRate  fx.Quote    `json:"exchange_rate"`

	Breakdown landedcost.CostBreakdown `json:"breakdown"`
	CreatedAt time.Time                `json:"created_at"`
}

// RatesResult are the duty rates used and the ones that were defaulted.
type RatesResult struct {
	BCD       decimal.Decimal `json:"bcd"`
	SWC       decimal.Decimal `json:"swc"`
	IGST      decimal.Decimal `json:"igst"`
	Fallbacks []string        `json:"fallbacks"`
}

type Config struct {
	Policy tariff.FallbackPolicy
	Buffer decimal.Decimal
}

type Service struct {
	tariffs  tariff.Source
	rates    fx.Provider
	recorder Recorder
	config   Config
	logger   *slog.Logger
}

// NewService wires the collaborators. recorder may be nil, in which case
// Record requests fail with ErrRecordingDisabled.
func NewService(tariffs tariff.Source, rates fx.Provider, recorder Recorder, config Config, logger *slog.Logger) *Service {
	if config.Policy.Name == "" {
		config.Policy = tariff.DefaultFallbackPolicy()
	}
	return &Service{
		tariffs:  tariffs,
		rates:    rates,
		recorder: recorder,
		config:   config,
		logger:   logger.With("component", "importcost"),
	}
}

// Quote computes the landed cost for req.
func (s *Service) Quote(ctx context.Context, req Request) (*Result, error) {
	if err := tariff.ValidateHSN(req.HSNCode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.ExchangeRate != nil {
		// The buffer is added before the calculator validates the rate.
		if err := landedcost.ValidateScale("usd_to_inr_rate", *req.ExchangeRate); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if !req.ExchangeRate.IsPositive() {
			return nil, fmt.Errorf("%w: exchange rate must be positive", ErrInvalidRequest)
		}
	}
	if req.Record && s.recorder == nil {
		return nil, ErrRecordingDisabled
	}

	resolution := s.dutyRates(ctx, req)

	quote, err := s.exchangeRate(ctx, req)
	if err != nil {
		return nil, err
	}

	in := landedcost.DutyInputs{
		FOBPriceUSD:             req.FOBPriceUSD,
		FreightInsurancePercent: req.FreightInsurancePercent,
		USDToINRRate:            quote.Final,
		BCDPercent:              resolution.Rates.BCD,
		SWCPercent:              resolution.Rates.SWC,
		IGSTPercent:             resolution.Rates.IGST,
	}
	breakdown, err := landedcost.Calculate(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	result := &Result{
		HSNCode: req.HSNCode,
		Rates: RatesResult{
			BCD:       resolution.Rates.BCD,
			SWC:       resolution.Rates.SWC,
			IGST:      resolution.Rates.IGST,
			Fallbacks: resolution.Fallbacks,
		},
		ExchangeRate: quote,
		Breakdown:    breakdown,
		CreatedAt:    time.Now().UTC(),
	}
	if result.Rates.Fallbacks == nil {
		result.Rates.Fallbacks = []string{}
	}

	if req.Record {
		calc := &database.Calculation{
			HSNCode:       req.HSNCode,
			Inputs:        in,
			Breakdown:     breakdown,
			ExchangeRate:  quote,
			RateFallbacks: result.Rates.Fallbacks,
			CreatedAt:     result.CreatedAt,
		}
		if err := s.recorder.RecordCalculation(ctx, calc); err != nil {
			return nil, fmt.Errorf("record calculation: %w", err)
		}
		result.CalculationID = &calc.ID
	}

	s.logger.Info("landed cost calculated",
		"hsn_code", req.HSNCode,
		"usd_inr", quote.Final.String(),
		"landed_price", breakdown.LandedPriceAtFactory.StringFixed(2),
		"fallbacks", result.Rates.Fallbacks,
		"recorded", req.Record,
	)

	return result, nil
}

// ExchangeRate returns the buffered rate a quote would use right now.
func (s *Service) ExchangeRate(ctx context.Context) (fx.Quote, error) {
	return s.exchangeRate(ctx, Request{})
}

// dutyRates never fails: an unavailable tariff defaults every rate under
// the configured policy.
func (s *Service) dutyRates(ctx context.Context, req Request) tariff.Resolution {
	if req.Rates != nil {
		return tariff.Resolve(*req.Rates, s.config.Policy)
	}

	raw, err := s.tariffs.Lookup(ctx, req.HSNCode)
	if err != nil {
		s.logger.Warn("duty rates unavailable, applying fallback policy",
			"hsn_code", req.HSNCode,
			"policy", s.config.Policy.Name,
			"error", err)
		return tariff.FallbackResolution(s.config.Policy)
	}
	return tariff.Resolve(raw, s.config.Policy)
}

func (s *Service) exchangeRate(ctx context.Context, req Request) (fx.Quote, error) {
	var rate fx.Rate
	if req.ExchangeRate != nil {
		rate = fx.Rate{Value: *req.ExchangeRate, Source: "request", FetchedAt: time.Now()}
	} else {
		var err error
		rate, err = s.rates.USDToINR(ctx)
		if err != nil {
			return fx.Quote{}, fmt.Errorf("%w: %w", ErrExchangeRate, err)
		}
	}

	if req.RateIsFinal {
		return fx.Quote{Base: rate.Value, Buffer: decimal.Zero, Final: rate.Value, Source: rate.Source}, nil
	}
	return fx.ApplyBuffer(rate, s.config.Buffer), nil
}
