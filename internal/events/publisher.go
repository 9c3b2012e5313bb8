package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/maltedev/landed-cost/internal/database"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeCalculationRecorded is published when a calculation is stored
	EventTypeCalculationRecorded EventType = "CALCULATION_RECORDED"

	aggregateCalculation = "calculation"
)

// CalculationRecordedPayload is the payload of CALCULATION_RECORDED
type CalculationRecordedPayload struct {
	EventID              string          `json:"event_id"`
	EventType            string          `json:"event_type"`
	Timestamp            time.Time       `json:"timestamp"`
	CalculationID        string          `json:"calculation_id"`
	HSNCode              string          `json:"hsn_code"`
	FOBPriceUSD          decimal.Decimal `json:"fob_price_usd"`
	USDToINRRate         decimal.Decimal `json:"usd_to_inr_rate"`
	LandedPriceAtFactory decimal.Decimal `json:"landed_price_at_factory"`
	BasicPriceLessIGST   decimal.Decimal `json:"basic_price_less_igst"`
	IGSTComponentFinal   decimal.Decimal `json:"igst_component_final"`
	RateFallbacks        []string        `json:"rate_fallbacks,omitempty"`
	Source               string          `json:"source"`
}

type txRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type calculationWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, c *database.Calculation) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher records calculations and their events using the transactional
// outbox pattern: both rows commit together or not at all.
type Publisher struct {
	db           txRunner
	calculations calculationWriter
	outbox       outboxWriter
	logger       *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:           db,
		calculations: database.NewCalculationRepository(db),
		outbox:       database.NewOutboxRepository(db),
		logger:       logger.With("component", "event_publisher"),
	}
}

// RecordCalculation stores c and queues a CALCULATION_RECORDED event.
// c.ID and c.CreatedAt are filled in when empty.
func (p *Publisher) RecordCalculation(ctx context.Context, c *database.Calculation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	payload := CalculationRecordedPayload{
		EventID:              uuid.New().String(),
		EventType:            string(EventTypeCalculationRecorded),
		Timestamp:            c.CreatedAt,
		CalculationID:        c.ID.String(),
		HSNCode:              c.HSNCode,
		FOBPriceUSD:          c.Inputs.FOBPriceUSD,
		USDToINRRate:         c.Inputs.USDToINRRate,
		LandedPriceAtFactory: c.Breakdown.LandedPriceAtFactory.Round(4),
		BasicPriceLessIGST:   c.Breakdown.BasicPriceLessIGST.Round(4),
		IGSTComponentFinal:   c.Breakdown.IGSTComponentFinal.Round(4),
		RateFallbacks:        c.RateFallbacks,
		Source:               c.ExchangeRate.Source,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateCalculation,
		AggregateID:   c.ID.String(),
		EventType:     string(EventTypeCalculationRecorded),
		Payload:       data,
		TargetStream:  database.DefaultTargetStream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.calculations.InsertWithTx(ctx, tx, c); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to record calculation: %w", err)
	}

	p.logger.Info("calculation recorded",
		"calculation_id", c.ID,
		"hsn_code", c.HSNCode,
		"event_id", payload.EventID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
