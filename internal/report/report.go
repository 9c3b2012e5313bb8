// Package report renders landed-cost breakdowns for people: a numbered CSV
// report and a sectioned plain-text summary.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/maltedev/landed-cost/internal/fx"
	"github.com/maltedev/landed-cost/internal/landedcost"
)

// Report is a breakdown together with the context it was computed in.
type Report struct {
	HSNCode      string
	Breakdown    landedcost.CostBreakdown
	ExchangeRate fx.Quote
	GeneratedAt  time.Time
}

var printer = message.NewPrinter(language.English)

// FormatAmount renders d with two decimals, thousands grouping and the
// currency symbol, e.g. "₹33,930.74".
func FormatAmount(d decimal.Decimal, cur landedcost.Currency) string {
	symbol := "₹"
	if cur == landedcost.USD {
		symbol = "$"
	}
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	return sign + symbol + printer.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

// FileName is the download name of a CSV report.
func FileName(hsn string, t time.Time) string {
	return fmt.Sprintf("landed_cost_%s_%d.csv", hsn, t.Unix())
}

// WriteCSV writes one row per calculation step.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Step", "Label", "Amount", "Formatted"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i, line := range r.Breakdown.Lines() {
		row := []string{
			strconv.Itoa(i + 1),
			line.Label,
			line.Amount.StringFixed(2),
			FormatAmount(line.Amount, line.Currency),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteText writes a human-readable report grouped the way an importer
// reads it: exchange rate, basic price, assessable value, duties, final
// price and the GST split.
func WriteText(w io.Writer, r Report) error {
	b := r.Breakdown.Rounded(2)
	in := b.Inputs
	q := r.ExchangeRate

	tw := &textWriter{w: w}
	tw.heading(fmt.Sprintf("Landed cost for HSN %s", r.HSNCode))
	if !r.GeneratedAt.IsZero() {
		tw.row("Generated", r.GeneratedAt.UTC().Format(time.RFC3339))
	}

	tw.heading("Exchange rate")
	if !q.Final.IsZero() {
		tw.row("Base USD/INR rate", "₹"+q.Base.StringFixed(4))
		tw.row("Buffer applied", "₹"+q.Buffer.StringFixed(2))
		if q.Source != "" {
			tw.row("Source", q.Source)
		}
	}
	tw.row("Final rate used", "₹"+in.USDToINRRate.StringFixed(2))

	tw.heading("Basic price")
	tw.row("FOB price", FormatAmount(in.FOBPriceUSD, landedcost.USD))
	tw.row(fmt.Sprintf("Freight & insurance (%s%%)", in.FreightInsurancePercent), FormatAmount(b.FreightInsuranceAmount, landedcost.USD))
	tw.row("CIF value", FormatAmount(b.CIFValueUSD, landedcost.USD))

	tw.heading("Assessable value")
	tw.row("Assessable addition (1%)", FormatAmount(b.AssessableAdditionAmount, landedcost.USD))
	tw.row("Assessable value (USD)", FormatAmount(b.AssessableValueUSD, landedcost.USD))
	tw.row("Assessable value (INR) A", FormatAmount(b.AssessableValueINR, landedcost.INR))

	tw.heading("Customs duties")
	tw.row(fmt.Sprintf("BCD (%s%%) B", in.BCDPercent), FormatAmount(b.BCDAmount, landedcost.INR))
	tw.row(fmt.Sprintf("SWC (%s%%) i", in.SWCPercent), FormatAmount(b.SWCAmount, landedcost.INR))
	tw.row("Subtotal A+B+i", FormatAmount(b.SubtotalBeforeIGST, landedcost.INR))
	tw.row(fmt.Sprintf("IGST (%s%%) C", in.IGSTPercent), FormatAmount(b.IGSTAmount, landedcost.INR))
	tw.row("Total duties B+i+C", FormatAmount(b.TotalDuties, landedcost.INR))

	tw.heading("Final")
	tw.row("Total price", FormatAmount(b.TotalPrice, landedcost.INR))
	tw.row("Clearance/transportation (5%)", FormatAmount(b.ClearanceTransportation, landedcost.INR))
	tw.row("LANDED PRICE AT FACTORY", FormatAmount(b.LandedPriceAtFactory, landedcost.INR))

	tw.heading("GST split")
	tw.row("Basic price (less IGST)", FormatAmount(b.BasicPriceLessIGST, landedcost.INR))
	tw.row("IGST component", FormatAmount(b.IGSTComponentFinal, landedcost.INR))

	return tw.err
}

type textWriter struct {
	w       io.Writer
	err     error
	started bool
}

func (t *textWriter) heading(s string) {
	if t.started {
		t.printf("\n")
	}
	t.started = true
	t.printf("%s\n", s)
}

func (t *textWriter) row(label, value string) {
	t.printf("  %-32s %16s\n", label, value)
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}
