package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/landed-cost/internal/fx"
	"github.com/maltedev/landed-cost/internal/landedcost"
)

func fastenerReport(t *testing.T) Report {
	t.Helper()
	in, err := landedcost.NewDutyInputs(350, 6, 77, 0, 10, 12)
	require.NoError(t, err)
	b, err := landedcost.Calculate(in)
	require.NoError(t, err)

	return Report{
		HSNCode:   "73182100",
		Breakdown: b,
		ExchangeRate: fx.ApplyBuffer(fx.Rate{
			Value:  decimal.NewFromFloat(75.5),
			Source: "fixer",
		}, fx.DefaultBuffer),
		GeneratedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$350.00", FormatAmount(decimal.NewFromInt(350), landedcost.USD))
	assert.Equal(t, "₹33,930.74", FormatAmount(decimal.NewFromFloat(33930.73992), landedcost.INR))
	assert.Equal(t, "₹1,234,567.89", FormatAmount(decimal.NewFromFloat(1234567.891), landedcost.INR))
	assert.Equal(t, "₹0.00", FormatAmount(decimal.Zero, landedcost.INR))
	assert.Equal(t, "-$2.50", FormatAmount(decimal.NewFromFloat(-2.5), landedcost.USD))
}

func TestFileName(t *testing.T) {
	ts := time.Unix(1735689600, 0)
	assert.Equal(t, "landed_cost_73182100_1735689600.csv", FileName("73182100", ts))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, fastenerReport(t)))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 17)

	assert.Equal(t, []string{"Step", "Label", "Amount", "Formatted"}, rows[0])
	assert.Equal(t, []string{"1", "FOB Price (USD)", "350.00", "$350.00"}, rows[1])
	assert.Equal(t, []string{"2", "Freight & Insurance (6%)", "21.00", "$21.00"}, rows[2])
	assert.Equal(t, []string{"6", "Assessable Value (INR)", "28852.67", "₹28,852.67"}, rows[6])
	assert.Equal(t, []string{"8", "Social Welfare Surcharge (10%)", "0.00", "₹0.00"}, rows[8])
	assert.Equal(t, []string{"10", "IGST (12%)", "3462.32", "₹3,462.32"}, rows[10])
	assert.Equal(t, []string{"14", "Landed Price at Factory", "33930.74", "₹33,930.74"}, rows[14])
	assert.Equal(t, []string{"15", "Basic Price (less IGST)", "30295.30", "₹30,295.30"}, rows[15])
	assert.Equal(t, []string{"16", "IGST Component", "3635.44", "₹3,635.44"}, rows[16])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteCSV_WriterError(t *testing.T) {
	err := WriteCSV(failingWriter{}, fastenerReport(t))
	assert.Error(t, err)
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, fastenerReport(t)))
	out := buf.String()

	assert.Contains(t, out, "Landed cost for HSN 73182100")
	assert.Contains(t, out, "2025-03-01T10:00:00Z")
	assert.Contains(t, out, "₹75.5000")
	assert.Contains(t, out, "₹1.50")
	assert.Contains(t, out, "₹77.00")
	assert.Contains(t, out, "LANDED PRICE AT FACTORY")
	assert.Contains(t, out, "₹33,930.74")
	assert.Contains(t, out, "₹30,295.30")

	for _, section := range []string{"Exchange rate", "Basic price", "Assessable value", "Customs duties", "Final", "GST split"} {
		assert.Contains(t, out, "\n"+section+"\n")
	}
}

func TestWriteText_WriterError(t *testing.T) {
	assert.Error(t, WriteText(failingWriter{}, fastenerReport(t)))
}
