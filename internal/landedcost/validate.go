package landedcost

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput is matched by every InputError.
var ErrInvalidInput = errors.New("invalid duty input")

// Input bounds. At the maxima the landed price stays below 10^16 INR, the
// largest value a recorded calculation can hold, and every intermediate
// amount keeps a bounded number of digits.
const (
	MaxFOBPriceUSD  = 1_000_000_000
	MaxUSDToINRRate = 1_000
	MaxDutyPercent  = 1_000

	// MaxDecimalPlaces and MaxExponent bound the exponent of every input.
	MaxDecimalPlaces = 12
	MaxExponent      = 12
)

var (
	hundred         = decimal.NewFromInt(100)
	maxFOBPriceUSD  = decimal.NewFromInt(MaxFOBPriceUSD)
	maxUSDToINRRate = decimal.NewFromInt(MaxUSDToINRRate)
	maxDutyPercent  = decimal.NewFromInt(MaxDutyPercent)
)

// InputError describes the first field of DutyInputs that failed validation.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidInput, e.Field, e.Reason)
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ValidateScale rejects a value written with more than MaxDecimalPlaces
// decimal places or an exponent above MaxExponent. It only inspects the
// exponent, so it is safe to call before any arithmetic on untrusted values.
func ValidateScale(field string, d decimal.Decimal) error {
	exp := d.Exponent()
	if exp < -MaxDecimalPlaces {
		return &InputError{Field: field, Reason: fmt.Sprintf("must have at most %d decimal places", MaxDecimalPlaces)}
	}
	if exp > MaxExponent {
		return &InputError{Field: field, Reason: "exponent is out of range"}
	}
	return nil
}

// Validate rejects inputs the pipeline is not defined for, and inputs
// outside the bounds above.
func (in DutyInputs) Validate() error {
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"fob_price_usd", in.FOBPriceUSD},
		{"freight_insurance_percent", in.FreightInsurancePercent},
		{"usd_to_inr_rate", in.USDToINRRate},
		{"bcd_percent", in.BCDPercent},
		{"swc_percent", in.SWCPercent},
		{"igst_percent", in.IGSTPercent},
	}
	// Comparisons rescale their operands, so the exponents go first.
	for _, f := range fields {
		if err := ValidateScale(f.name, f.value); err != nil {
			return err
		}
	}

	if !in.FOBPriceUSD.IsPositive() || in.FOBPriceUSD.GreaterThan(maxFOBPriceUSD) {
		return &InputError{Field: "fob_price_usd", Reason: fmt.Sprintf("must be greater than 0 and at most %d", MaxFOBPriceUSD)}
	}
	if in.FreightInsurancePercent.IsNegative() || in.FreightInsurancePercent.GreaterThan(hundred) {
		return &InputError{Field: "freight_insurance_percent", Reason: "must be between 0 and 100"}
	}
	if !in.USDToINRRate.IsPositive() || in.USDToINRRate.GreaterThan(maxUSDToINRRate) {
		return &InputError{Field: "usd_to_inr_rate", Reason: fmt.Sprintf("must be greater than 0 and at most %d", MaxUSDToINRRate)}
	}

	for _, f := range fields[3:] {
		if f.value.IsNegative() || f.value.GreaterThan(maxDutyPercent) {
			return &InputError{Field: f.name, Reason: fmt.Sprintf("must be between 0 and %d", MaxDutyPercent)}
		}
	}

	return nil
}

// NewDutyInputs builds validated inputs from floating point values, as they
// arrive from forms and flags. Non-finite values are rejected.
func NewDutyInputs(fobUSD, freightPercent, usdToINR, bcd, swc, igst float64) (DutyInputs, error) {
	fields := []struct {
		name  string
		value float64
	}{
		{"fob_price_usd", fobUSD},
		{"freight_insurance_percent", freightPercent},
		{"usd_to_inr_rate", usdToINR},
		{"bcd_percent", bcd},
		{"swc_percent", swc},
		{"igst_percent", igst},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return DutyInputs{}, &InputError{Field: f.name, Reason: "must be a finite number"}
		}
	}

	in := DutyInputs{
		FOBPriceUSD:             decimal.NewFromFloat(fobUSD),
		FreightInsurancePercent: decimal.NewFromFloat(freightPercent),
		USDToINRRate:            decimal.NewFromFloat(usdToINR),
		BCDPercent:              decimal.NewFromFloat(bcd),
		SWCPercent:              decimal.NewFromFloat(swc),
		IGSTPercent:             decimal.NewFromFloat(igst),
	}
	if err := in.Validate(); err != nil {
		return DutyInputs{}, err
	}
	return in, nil
}
