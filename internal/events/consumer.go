package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamClient is the subset of the Redis client the consumer uses
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// HandlerFunc handles one recorded calculation
type HandlerFunc func(ctx context.Context, p CalculationRecordedPayload) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Name     string
	Block    time.Duration
	Count    int64
	RetryGap time.Duration
}

// Consumer reads CALCULATION_RECORDED events from a Redis stream as part of
// a consumer group. Messages are acknowledged once handled; messages of
// other types are acknowledged and skipped.
type Consumer struct {
	client StreamClient
	config ConsumerConfig
	logger *slog.Logger
}

func NewConsumer(client StreamClient, config ConsumerConfig, logger *slog.Logger) *Consumer {
	if config.Group == "" {
		config.Group = "landed-cost-consumers"
	}
	if config.Name == "" {
		config.Name = "consumer-1"
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.Count == 0 {
		config.Count = 10
	}
	if config.RetryGap == 0 {
		config.RetryGap = time.Second
	}
	return &Consumer{
		client: client,
		config: config,
		logger: logger.With("component", "consumer", "stream", config.Stream),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.config.Group)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.config.Group,
			Consumer: c.config.Name,
			Streams:  []string{c.config.Stream, ">"},
			Count:    c.config.Count,
			Block:    c.config.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryGap):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, msg, handle)
			}
		}
	}
}

// handleMessage leaves a message unacknowledged when the handler fails so
// it stays in the group's pending list.
func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage, handle HandlerFunc) {
	payload, ok, err := decodeMessage(msg)
	if err != nil {
		c.logger.Error("failed to decode message", "id", msg.ID, "error", err)
		return
	}

	if ok {
		if err := handle(ctx, payload); err != nil {
			c.logger.Error("failed to handle message",
				"id", msg.ID,
				"calculation_id", payload.CalculationID,
				"error", err)
			return
		}
	}

	if err := c.client.XAck(ctx, c.config.Stream, c.config.Group, msg.ID).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
	}
}

// decodeMessage extracts the payload from the envelope the relay writes.
// ok is false for events of another type.
func decodeMessage(msg redis.XMessage) (CalculationRecordedPayload, bool, error) {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(EventTypeCalculationRecorded) {
		return CalculationRecordedPayload{}, false, nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return CalculationRecordedPayload{}, false, errors.New("missing data in event")
	}

	var envelope struct {
		Payload CalculationRecordedPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return CalculationRecordedPayload{}, false, fmt.Errorf("failed to parse event: %w", err)
	}
	if envelope.Payload.CalculationID == "" {
		return CalculationRecordedPayload{}, false, errors.New("missing calculation_id in payload")
	}

	return envelope.Payload, true, nil
}
