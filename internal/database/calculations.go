package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/landed-cost/internal/fx"
	"github.com/maltedev/landed-cost/internal/landedcost"
)

// ErrCalculationNotFound is returned when no calculation has the requested id.
var ErrCalculationNotFound = errors.New("calculation not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Calculation is a recorded landed-cost calculation. The breakdown is a
// snapshot; reading it back never recomputes anything.
type Calculation struct {
	ID            uuid.UUID                `json:"id"`
	HSNCode       string                   `json:"hsn_code"`
	Inputs        landedcost.DutyInputs    `json:"inputs"`
	Breakdown     landedcost.CostBreakdown `json:"breakdown"`
	ExchangeRate  fx.Quote                 `json:"exchange_rate"`
	RateFallbacks []string                 `json:"rate_fallbacks"`
	CreatedAt     time.Time                `json:"created_at"`
}

// ListFilter narrows a calculation listing. A zero Limit means the default.
type ListFilter struct {
	HSNCode string
	Limit   int
}

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// CalculationRepository stores calculations in the calculations table.
type CalculationRepository struct {
	db *DB
}

func NewCalculationRepository(db *DB) *CalculationRepository {
	return &CalculationRepository{db: db}
}

// InsertWithTx inserts c within tx, assigning an id and timestamp when unset.
func (r *CalculationRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, c *Calculation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.RateFallbacks == nil {
		c.RateFallbacks = []string{}
	}

	inputs, err := json.Marshal(c.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	breakdown, err := json.Marshal(c.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}
	rate, err := json.Marshal(c.ExchangeRate)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange rate: %w", err)
	}

	query := `
		INSERT INTO calculations (
			id, hsn_code, inputs, breakdown, exchange_rate,
			rate_fallbacks, landed_price, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::numeric, $8
		)`

	_, err = tx.Exec(ctx, query,
		c.ID, c.HSNCode, inputs, breakdown, rate,
		c.RateFallbacks, c.Breakdown.LandedPriceAtFactory.StringFixed(4), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert calculation: %w", err)
	}

	return nil
}

// Get returns the calculation with the given id.
func (r *CalculationRepository) Get(ctx context.Context, id uuid.UUID) (*Calculation, error) {
	query := `
		SELECT id, hsn_code, inputs, breakdown, exchange_rate, rate_fallbacks, created_at
		FROM calculations
		WHERE id = $1`

	c, err := scanCalculation(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCalculationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calculation %s: %w", id, err)
	}
	return c, nil
}

// List returns calculations newest first.
func (r *CalculationRepository) List(ctx context.Context, filter ListFilter) ([]*Calculation, error) {
	query := `
		SELECT id, hsn_code, inputs, breakdown, exchange_rate, rate_fallbacks, created_at
		FROM calculations
		WHERE ($1 = '' OR hsn_code = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.pool.Query(ctx, query, filter.HSNCode, filter.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to list calculations: %w", err)
	}
	defer rows.Close()

	calcs := []*Calculation{}
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calculation: %w", err)
		}
		calcs = append(calcs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return calcs, nil
}

func scanCalculation(row pgx.Row) (*Calculation, error) {
	var (
		c                       Calculation
		inputs, breakdown, rate []byte
	)
	if err := row.Scan(&c.ID, &c.HSNCode, &inputs, &breakdown, &rate, &c.RateFallbacks, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputs, &c.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal(breakdown, &c.Breakdown); err != nil {
		return nil, fmt.Errorf("decode breakdown: %w", err)
	}
	if err := json.Unmarshal(rate, &c.ExchangeRate); err != nil {
		return nil, fmt.Errorf("decode exchange rate: %w", err)
	}
	return &c, nil
}
