package tariff

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `
rates:
  "73182100": {bcd: "10%", swc: "10%", igst: "18%"}
  "840999":   {bcd: "7.5", swc: "10", igst: "28"}
  "8517":     {bcd: "20%", swc: "10%", igst: ""}
`

func TestTable_Lookup(t *testing.T) {
	ctx := context.Background()
	table, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())

	t.Run("exact code", func(t *testing.T) {
		r, err := table.Lookup(ctx, "73182100")
		require.NoError(t, err)
		assert.Equal(t, RawRates{BCD: "10%", SWC: "10%", IGST: "18%"}, r)
	})

	t.Run("six digit heading", func(t *testing.T) {
		r, err := table.Lookup(ctx, "84099949")
		require.NoError(t, err)
		assert.Equal(t, "28", r.IGST)
	})

	t.Run("four digit heading", func(t *testing.T) {
		r, err := table.Lookup(ctx, "85171300")
		require.NoError(t, err)
		assert.Equal(t, "20%", r.BCD)
		assert.Empty(t, r.IGST)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := table.Lookup(ctx, "01012100")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestParseTable_RejectsBadCodes(t *testing.T) {
	_, err := ParseTable([]byte(`rates: {"7318-21": {bcd: "10"}}`))
	assert.ErrorIs(t, err, ErrInvalidHSN)
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tariff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTable), 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
