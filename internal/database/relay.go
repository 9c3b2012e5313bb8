package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relaySource = "landed-cost"

var errInvalidPayload = errors.New("payload is not valid JSON")

// RedisClient is the part of the Redis client the relay needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is the part of OutboxRepository the relay needs.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
	RequeueDeadLetters(ctx context.Context) (int64, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen approximately caps each target stream; zero leaves
	// streams untrimmed.
	StreamMaxLen int64
}

// Relay delivers outbox events to their Redis streams. Delivery is at least
// once: an event published just before a failed MarkProcessed is sent again.
type Relay struct {
	redis  RedisClient
	outbox OutboxRepo
	config RelayConfig
	logger *slog.Logger
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Relay{
		redis:  redisClient,
		outbox: outbox,
		config: config,
		logger: logger.With("component", "relay"),
	}
}

// Run relays batches every poll interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.config.PollInterval,
		"batch_size", r.config.BatchSize,
		"stream_max_len", r.config.StreamMaxLen)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.relayBatch(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to relay outbox batch", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type batchResult struct {
	Published int
	Failed    int
}

// relayBatch delivers one batch of due events. A failed event is recorded
// on its row and does not stop the batch.
func (r *Relay) relayBatch(ctx context.Context) (batchResult, error) {
	var res batchResult

	events, err := r.outbox.GetPending(ctx, r.config.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return res, nil
	}

	for _, event := range events {
		if err := r.deliver(ctx, event); err != nil {
			res.Failed++
			r.logger.Error("failed to deliver event",
				"event_id", event.ID,
				"event_type", event.EventType,
				"aggregate_id", event.AggregateID,
				"retry_count", event.RetryCount,
				"error", err)
			continue
		}
		res.Published++
	}

	r.logger.Debug("outbox batch relayed", "published", res.Published, "failed", res.Failed)
	return res, nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	if err := r.publish(ctx, event); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("published but not marked processed: %w", err)
	}

	r.logger.Info("event delivered",
		"event_id", event.ID,
		"event_type", event.EventType,
		"aggregate_id", event.AggregateID,
		"target_stream", event.TargetStream)
	return nil
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	values, err := streamValues(event)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: values,
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}

	if err := r.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// streamEnvelope is the JSON document stored in a stream entry's data field.
type streamEnvelope struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	AggregateType string           `json:"aggregate_type"`
	AggregateID   string           `json:"aggregate_id"`
	Timestamp     string           `json:"timestamp"`
	Payload       json.RawMessage  `json:"payload"`
	Metadata      envelopeMetadata `json:"metadata"`
}

type envelopeMetadata struct {
	Source       string `json:"source"`
	OutboxID     string `json:"outbox_id"`
	RetryCount   int    `json:"retry_count"`
	TargetStream string `json:"target_stream"`
}

// streamValues builds the fields of the stream entry for event. The routing
// fields are duplicated outside data so consumers can filter without
// decoding it.
func streamValues(event *OutboxEvent) (map[string]interface{}, error) {
	if !json.Valid(event.Payload) {
		return nil, errInvalidPayload
	}

	data, err := json.Marshal(streamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		Payload:       event.Payload,
		Metadata: envelopeMetadata{
			Source:       relaySource,
			OutboxID:     event.ID.String(),
			RetryCount:   event.RetryCount,
			TargetStream: event.TargetStream,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream entry: %w", err)
	}

	return map[string]interface{}{
		"data":           string(data),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"outbox_id":      event.ID.String(),
		"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
	}, nil
}

func (r *Relay) PendingCount(ctx context.Context) (int64, error) {
	return r.outbox.PendingCount(ctx)
}

func (r *Relay) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.outbox.DeadLetterCount(ctx)
}

// RequeueDeadLetters gives parked events a fresh retry budget.
func (r *Relay) RequeueDeadLetters(ctx context.Context) (int64, error) {
	n, err := r.outbox.RequeueDeadLetters(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("dead letters requeued", "count", n)
	}
	return n, nil
}
