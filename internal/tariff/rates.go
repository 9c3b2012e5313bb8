// Package tariff turns duty-rate text published for an HSN code into the
// percentages the landed-cost calculator consumes.
package tariff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyRate is returned for a rate cell that carried no text.
	ErrEmptyRate = errors.New("empty rate")
	// ErrInvalidHSN is returned for codes that are not 2, 4, 6 or 8 digits.
	ErrInvalidHSN = errors.New("invalid HSN code")
)

// Rate names used in Resolution.Fallbacks.
const (
	RateBCD  = "bcd"
	RateSWC  = "swc"
	RateIGST = "igst"
)

// RawRates holds the rates for one HSN code exactly as published, e.g. "7.5%".
type RawRates struct {
	BCD  string `json:"bcd" yaml:"bcd"`
	SWC  string `json:"swc" yaml:"swc"`
	IGST string `json:"igst" yaml:"igst"`
}

// Rates holds parsed duty percentages.
type Rates struct {
	BCD  decimal.Decimal `json:"bcd_percent"`
	SWC  decimal.Decimal `json:"swc_percent"`
	IGST decimal.Decimal `json:"igst_percent"`
}

// FallbackPolicy names the percentages used when a published rate is
// missing or unreadable.
type FallbackPolicy struct {
	Name string
	BCD  decimal.Decimal
	SWC  decimal.Decimal
	IGST decimal.Decimal
}

// DefaultFallbackPolicy is 0% BCD, 10% SWC and 12% IGST.
func DefaultFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{
		Name: "default",
		BCD:  decimal.Zero,
		SWC:  decimal.NewFromInt(10),
		IGST: decimal.NewFromInt(12),
	}
}

// ZeroFallbackPolicy treats every missing rate as 0%.
func ZeroFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{Name: "zero", BCD: decimal.Zero, SWC: decimal.Zero, IGST: decimal.Zero}
}

// PolicyByName returns the named built-in policy.
func PolicyByName(name string) (FallbackPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultFallbackPolicy(), nil
	case "zero":
		return ZeroFallbackPolicy(), nil
	default:
		return FallbackPolicy{}, fmt.Errorf("unknown fallback policy %q", name)
	}
}

// Rates returns the policy percentages as a full rate set.
func (p FallbackPolicy) Rates() Rates {
	return Rates{BCD: p.BCD, SWC: p.SWC, IGST: p.IGST}
}

// Resolution is the outcome of resolving published rates against a policy.
type Resolution struct {
	Rates     Rates    `json:"rates"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Resolve parses each published rate and substitutes the policy value for
// every rate that is empty or unreadable.
func Resolve(raw RawRates, policy FallbackPolicy) Resolution {
	var res Resolution
	pick := func(name, text string, fallback decimal.Decimal) decimal.Decimal {
		v, err := ParsePercent(text)
		if err != nil {
			res.Fallbacks = append(res.Fallbacks, name)
			return fallback
		}
		return v
	}

	res.Rates.BCD = pick(RateBCD, raw.BCD, policy.BCD)
	res.Rates.SWC = pick(RateSWC, raw.SWC, policy.SWC)
	res.Rates.IGST = pick(RateIGST, raw.IGST, policy.IGST)
	return res
}

// FallbackResolution applies the policy to every rate.
func FallbackResolution(policy FallbackPolicy) Resolution {
	return Resolution{
		Rates:     policy.Rates(),
		Fallbacks: []string{RateBCD, RateSWC, RateIGST},
	}
}

// ParsePercent reads a published percentage such as "7.5%", " 10 " or "18 %".
func ParsePercent(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return decimal.Zero, ErrEmptyRate
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", raw, err)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("parse rate %q: negative percentage", raw)
	}
	return v, nil
}

// ValidateHSN checks that code is a 2, 4, 6 or 8 digit HSN code.
func ValidateHSN(code string) error {
	switch len(code) {
	case 2, 4, 6, 8:
	default:
		return fmt.Errorf("%w: %q must have 2, 4, 6 or 8 digits", ErrInvalidHSN, code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q must contain only digits", ErrInvalidHSN, code)
		}
	}
	return nil
}
