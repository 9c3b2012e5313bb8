package tariff

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no rates are known for an HSN code.
var ErrNotFound = errors.New("HSN code not found")

// Source looks up the published duty rates of an HSN code.
type Source interface {
	Lookup(ctx context.Context, hsn string) (RawRates, error)
}

// Table is an in-memory tariff table. It is immutable after construction
// and safe for concurrent use.
type Table struct {
	byCode map[string]RawRates
}

type tableFile struct {
	Rates map[string]RawRates `yaml:"rates"`
}

// NewTable builds a table from rates keyed by HSN code.
func NewTable(rates map[string]RawRates) *Table {
	m := make(map[string]RawRates, len(rates))
	for code, r := range rates {
		m[code] = r
	}
	return &Table{byCode: m}
}

// LoadTable reads a YAML tariff table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tariff table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML tariff table and checks every code.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode tariff table: %w", err)
	}
	for code := range f.Rates {
		if err := ValidateHSN(code); err != nil {
			return nil, fmt.Errorf("tariff table: %w", err)
		}
	}
	return NewTable(f.Rates), nil
}

// Len returns the number of codes in the table.
func (t *Table) Len() int {
	return len(t.byCode)
}

// Lookup returns the rates for code, falling back from 8 to 6 to 4 digit
// headings when the exact code is not listed.
func (t *Table) Lookup(_ context.Context, code string) (RawRates, error) {
	if r, ok := t.byCode[code]; ok {
		return r, nil
	}
	for _, prefixLen := range []int{6, 4} {
		if len(code) > prefixLen {
			if r, ok := t.byCode[code[:prefixLen]]; ok {
				return r, nil
			}
		}
	}
	return RawRates{}, fmt.Errorf("%w: %s", ErrNotFound, code)
}
