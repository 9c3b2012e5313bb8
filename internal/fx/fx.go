// Package fx provides the USD to INR exchange rate used for landed-cost
// calculations and the operator buffer applied on top of it.
package fx

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateMissing is returned when a provider answer lacks USD or INR.
var ErrRateMissing = errors.New("USD or INR rate missing in response")

// DefaultBuffer is the amount in INR added to every market rate.
var DefaultBuffer = decimal.New(150, -2)

// Rate is an INR per USD market rate.
type Rate struct {
	Value     decimal.Decimal `json:"value"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Provider returns the current INR per USD rate.
type Provider interface {
	USDToINR(ctx context.Context) (Rate, error)
}

// Quote is a market rate together with the buffer applied to it.
// Final is the rate handed to the calculator.
type Quote struct {
	Base   decimal.Decimal `json:"base"`
	Buffer decimal.Decimal `json:"buffer"`
	Final  decimal.Decimal `json:"final"`
	Source string          `json:"source"`
}

// ApplyBuffer adds buffer to rate.
func ApplyBuffer(rate Rate, buffer decimal.Decimal) Quote {
	return Quote{
		Base:   rate.Value,
		Buffer: buffer,
		Final:  rate.Value.Add(buffer),
		Source: rate.Source,
	}
}

// StaticProvider always returns an operator-entered rate.
type StaticProvider struct {
	Value decimal.Decimal
}

func (p StaticProvider) USDToINR(ctx context.Context) (Rate, error) {
	if err := ctx.Err(); err != nil {
		return Rate{}, err
	}
	return Rate{Value: p.Value, Source: "manual", FetchedAt: time.Now()}, nil
}
