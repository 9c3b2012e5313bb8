// Package landedcost computes the landed price at factory of an imported
// product from its FOB price, freight, exchange rate and Indian customs
// duty rates.
//
// All arithmetic uses decimal values and is never rounded between steps.
// Rounding belongs to presentation (see CostBreakdown.Rounded).
package landedcost

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// assessableAdditionRate is the fixed 1% landing charge added to CIF.
	assessableAdditionRate = decimal.New(1, -2)
	// clearanceRate is the fixed 5% clearance and inland transportation charge.
	clearanceRate = decimal.New(5, -2)
)

// Currency of an amount in a breakdown.
type Currency string

const (
	USD Currency = "USD"
	INR Currency = "INR"
)

// DutyInputs holds everything a single calculation depends on.
// USDToINRRate must already include any operator buffer.
type DutyInputs struct {
	FOBPriceUSD             decimal.Decimal `json:"fob_price_usd"`
	FreightInsurancePercent decimal.Decimal `json:"freight_insurance_percent"`
	USDToINRRate            decimal.Decimal `json:"usd_to_inr_rate"`
	BCDPercent              decimal.Decimal `json:"bcd_percent"`
	SWCPercent              decimal.Decimal `json:"swc_percent"`
	IGSTPercent             decimal.Decimal `json:"igst_percent"`
}

// CostBreakdown contains every intermediate and terminal amount of a calculation.
type CostBreakdown struct {
	Inputs DutyInputs `json:"inputs"`

	FreightInsuranceAmount   decimal.Decimal `json:"freight_insurance_amount"`
	CIFValueUSD              decimal.Decimal `json:"cif_value_usd"`
	AssessableAdditionAmount decimal.Decimal `json:"assessable_addition_amount"`
	AssessableValueUSD       decimal.Decimal `json:"assessable_value_usd"`
	AssessableValueINR       decimal.Decimal `json:"assessable_value_inr"`
	BCDAmount                decimal.Decimal `json:"bcd_amount"`
	SWCAmount                decimal.Decimal `json:"swc_amount"`
	SubtotalBeforeIGST       decimal.Decimal `json:"subtotal_before_igst"`
	IGSTAmount               decimal.Decimal `json:"igst_amount"`
	TotalDuties              decimal.Decimal `json:"total_duties"`
	TotalPrice               decimal.Decimal `json:"total_price"`
	ClearanceTransportation  decimal.Decimal `json:"clearance_transportation"`
	LandedPriceAtFactory     decimal.Decimal `json:"landed_price_at_factory"`
	IGSTComponentFinal       decimal.Decimal `json:"igst_component_final"`
	BasicPriceLessIGST       decimal.Decimal `json:"basic_price_less_igst"`
}

// Line is one labelled amount of a breakdown, in calculation order.
type Line struct {
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// Calculate validates the inputs and computes the breakdown.
func Calculate(in DutyInputs) (CostBreakdown, error) {
	if err := in.Validate(); err != nil {
		return CostBreakdown{}, err
	}
	return Compute(in), nil
}

// Compute runs the landed-cost pipeline. It does not validate its input;
// use Calculate for values that come from outside the process.
func Compute(in DutyInputs) CostBreakdown {
	freight := in.FOBPriceUSD.Mul(percent(in.FreightInsurancePercent))
	cif := in.FOBPriceUSD.Add(freight)
	addition := cif.Mul(assessableAdditionRate)
	assessableUSD := cif.Add(addition)

	a := assessableUSD.Mul(in.USDToINRRate)
	b := a.Mul(percent(in.BCDPercent))
	// SWC is levied on the BCD amount, not on the assessable value.
	i := b.Mul(percent(in.SWCPercent))
	subtotal := a.Add(b).Add(i)
	c := subtotal.Mul(percent(in.IGSTPercent))

	totalDuties := b.Add(i).Add(c)
	totalPrice := a.Add(totalDuties)
	clearance := totalPrice.Mul(clearanceRate)
	landed := totalPrice.Add(clearance)

	igstFinal := embeddedIGST(landed, c, subtotal)

	return CostBreakdown{
		Inputs:                   in,
		FreightInsuranceAmount:   freight,
		CIFValueUSD:              cif,
		AssessableAdditionAmount: addition,
		AssessableValueUSD:       assessableUSD,
		AssessableValueINR:       a,
		BCDAmount:                b,
		SWCAmount:                i,
		SubtotalBeforeIGST:       subtotal,
		IGSTAmount:               c,
		TotalDuties:              totalDuties,
		TotalPrice:               totalPrice,
		ClearanceTransportation:  clearance,
		LandedPriceAtFactory:     landed,
		IGSTComponentFinal:       igstFinal,
		BasicPriceLessIGST:       landed.Sub(igstFinal),
	}
}

// embeddedIGST back-solves the IGST share contained in the landed price.
// A zero subtotal has no defined IGST ratio and yields zero.
func embeddedIGST(landed, igst, subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsZero() {
		return decimal.Zero
	}
	ratio := decimal.NewFromInt(1).Add(igst.Div(subtotal))
	return landed.Sub(landed.Div(ratio))
}

func percent(p decimal.Decimal) decimal.Decimal {
	return p.Shift(-2)
}

// Lines returns the breakdown as ordered labelled amounts, starting with
// the FOB price and ending with the GST split of the landed price.
func (b CostBreakdown) Lines() []Line {
	in := b.Inputs
	return []Line{
		{"fob_price_usd", "FOB Price (USD)", in.FOBPriceUSD, USD},
		{"freight_insurance_amount", fmt.Sprintf("Freight & Insurance (%s%%)", in.FreightInsurancePercent), b.FreightInsuranceAmount, USD},
		{"cif_value_usd", "CIF Value (USD)", b.CIFValueUSD, USD},
		{"assessable_addition_amount", "Assessable Addition (1%)", b.AssessableAdditionAmount, USD},
		{"assessable_value_usd", "Assessable Value (USD)", b.AssessableValueUSD, USD},
		{"assessable_value_inr", "Assessable Value (INR)", b.AssessableValueINR, INR},
		{"bcd_amount", fmt.Sprintf("BCD (%s%%)", in.BCDPercent), b.BCDAmount, INR},
		{"swc_amount", fmt.Sprintf("Social Welfare Surcharge (%s%%)", in.SWCPercent), b.SWCAmount, INR},
		{"subtotal_before_igst", "Subtotal (before IGST)", b.SubtotalBeforeIGST, INR},
		{"igst_amount", fmt.Sprintf("IGST (%s%%)", in.IGSTPercent), b.IGSTAmount, INR},
		{"total_duties", "Total Duties", b.TotalDuties, INR},
		{"total_price", "Total Price", b.TotalPrice, INR},
		{"clearance_transportation", "Clearance/Transportation (5%)", b.ClearanceTransportation, INR},
		{"landed_price_at_factory", "Landed Price at Factory", b.LandedPriceAtFactory, INR},
		{"basic_price_less_igst", "Basic Price (less IGST)", b.BasicPriceLessIGST, INR},
		{"igst_component_final", "IGST Component", b.IGSTComponentFinal, INR},
	}
}

// Rounded returns a copy with every derived amount rounded half away from
// zero to the given number of places. Inputs are left untouched.
func (b CostBreakdown) Rounded(places int32) CostBreakdown {
	r := func(d decimal.Decimal) decimal.Decimal { return d.Round(places) }
	return CostBreakdown{
		Inputs:                   b.Inputs,
		FreightInsuranceAmount:   r(b.FreightInsuranceAmount),
		CIFValueUSD:              r(b.CIFValueUSD),
		AssessableAdditionAmount: r(b.AssessableAdditionAmount),
		AssessableValueUSD:       r(b.AssessableValueUSD),
		AssessableValueINR:       r(b.AssessableValueINR),
		BCDAmount:                r(b.BCDAmount),
		SWCAmount:                r(b.SWCAmount),
		SubtotalBeforeIGST:       r(b.SubtotalBeforeIGST),
		IGSTAmount:               r(b.IGSTAmount),
		TotalDuties:              r(b.TotalDuties),
		TotalPrice:               r(b.TotalPrice),
		ClearanceTransportation:  r(b.ClearanceTransportation),
		LandedPriceAtFactory:     r(b.LandedPriceAtFactory),
		IGSTComponentFinal:       r(b.IGSTComponentFinal),
		BasicPriceLessIGST:       r(b.BasicPriceLessIGST),
	}
}
