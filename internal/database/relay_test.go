package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *MockOutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) DeadLetterCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) RequeueDeadLetters(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func calculationEvent(hsn string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "calculation",
		AggregateID:   uuid.NewString(),
		EventType:     "CALCULATION_RECORDED",
		Payload:       json.RawMessage(`{"hsn_code":"` + hsn + `","landed_price_at_factory":"33930.7399"}`),
		TargetStream:  DefaultTargetStream,
		RetryCount:    2,
		CreatedAt:     time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
}

// xaddValues returns the field map the relay passes to XAdd.
func xaddValues(args *redis.XAddArgs) map[string]interface{} {
	values, _ := args.Values.(map[string]interface{})
	return values
}

func newTestRelay(r RedisClient, o OutboxRepo) *Relay {
	return NewRelay(o, r, slog.Default(), RelayConfig{BatchSize: 10})
}

func TestRelay_RelayBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks every event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		events := []*OutboxEvent{calculationEvent("73182100"), calculationEvent("8409")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == "stream:landed_cost" &&
					args.MaxLen == 0 &&
					xaddValues(args)["event_type"] == event.EventType &&
					xaddValues(args)["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		res, err := relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, batchResult{Published: 2}, res)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("publish failure is recorded on the event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		event := calculationEvent("73182100")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		res, err := relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, batchResult{Failed: 1}, res)

		mockOutbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("empty batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		res, err := relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, batchResult{}, res)
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("outbox read failure", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(new(MockRedisClient), mockOutbox)

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection reset"))

		_, err := relay.relayBatch(ctx)
		assert.ErrorContains(t, err, "connection reset")
	})

	t.Run("one failing event does not stop the batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		events := []*OutboxEvent{calculationEvent("73182100"), calculationEvent("8409")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return xaddValues(args)["aggregate_id"] == events[0].AggregateID
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return xaddValues(args)["aggregate_id"] == events[1].AggregateID
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		res, err := relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, batchResult{Published: 1, Failed: 1}, res)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("invalid payload is marked failed without publishing", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		event := calculationEvent("73182100")
		event.Payload = json.RawMessage(`not json`)
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockOutbox.On("MarkFailed", ctx, event.ID, errInvalidPayload).Return(nil)

		res, err := relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("mark processed failure counts as failed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		event := calculationEvent("73182100")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, event.ID).Return(errors.New("db down"))

		res, err := relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, batchResult{Failed: 1}, res)
		mockOutbox.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestStreamValues(t *testing.T) {
	event := calculationEvent("73182100")

	values, err := streamValues(event)
	require.NoError(t, err)

	assert.Equal(t, "CALCULATION_RECORDED", values["event_type"])
	assert.Equal(t, "calculation", values["aggregate_type"])
	assert.Equal(t, event.AggregateID, values["aggregate_id"])
	assert.Equal(t, event.ID.String(), values["outbox_id"])
	assert.Equal(t, "1772361000000000000", values["timestamp"])

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &envelope))
	assert.Equal(t, event.ID.String(), envelope["id"])
	assert.Equal(t, "CALCULATION_RECORDED", envelope["type"])
	assert.Equal(t, "2026-03-01T10:30:00Z", envelope["timestamp"])
	assert.Equal(t, map[string]interface{}{
		"hsn_code":                "73182100",
		"landed_price_at_factory": "33930.7399",
	}, envelope["payload"])
	assert.Equal(t, map[string]interface{}{
		"source":        "landed-cost",
		"outbox_id":     event.ID.String(),
		"retry_count":   float64(2),
		"target_stream": "stream:landed_cost",
	}, envelope["metadata"])
}

func TestRelay_TrimsStreams(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := NewRelay(new(MockOutboxRepository), mockRedis, slog.Default(), RelayConfig{StreamMaxLen: 10000})

	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return args.MaxLen == 10000 && args.Approx &&
			xaddValues(args)["event_type"] == "CALCULATION_RECORDED"
	})).Return(nil)

	require.NoError(t, relay.publish(ctx, calculationEvent("73182100")))
	mockRedis.AssertExpectations(t)
}

func TestRelay_OutboxStats(t *testing.T) {
	ctx := context.Background()
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), mockOutbox)

	mockOutbox.On("PendingCount", ctx).Return(int64(3), nil)
	mockOutbox.On("DeadLetterCount", ctx).Return(int64(1), nil)
	mockOutbox.On("RequeueDeadLetters", ctx).Return(int64(1), nil)

	pending, err := relay.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	dead, err := relay.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	requeued, err := relay.RequeueDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)
}

func TestRelay_Run(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := NewRelay(mockOutbox, new(MockRedisClient), slog.Default(), RelayConfig{
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
	})

	polled := make(chan struct{}, 10)
	mockOutbox.On("GetPending", mock.Anything, 10).
		Run(func(mock.Arguments) {
			select {
			case polled <- struct{}{}:
			default:
			}
		}).
		Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Run(ctx)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-polled:
		case <-time.After(time.Second):
			t.Fatal("relay did not poll the outbox")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
