package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	return args.Get(0).(*redis.XStreamSliceCmd)
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	return args.Get(0).(*redis.IntCmd)
}

func recordedMessage(t *testing.T, id, calculationID string) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"type": string(EventTypeCalculationRecorded),
		"payload": map[string]interface{}{
			"calculation_id":          calculationID,
			"hsn_code":                "73182100",
			"landed_price_at_factory": "33930.7399",
		},
	})
	require.NoError(t, err)
	return redis.XMessage{
		ID: id,
		Values: map[string]interface{}{
			"event_type": string(EventTypeCalculationRecorded),
			"data":       string(data),
		},
	}
}

func TestDecodeMessage(t *testing.T) {
	t.Run("calculation recorded", func(t *testing.T) {
		p, ok, err := decodeMessage(recordedMessage(t, "1-0", "abc"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "abc", p.CalculationID)
		assert.Equal(t, "73182100", p.HSNCode)
		assert.Equal(t, "33930.7399", p.LandedPriceAtFactory.String())
	})

	t.Run("other event types are skipped", func(t *testing.T) {
		_, ok, err := decodeMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"event_type": "SOMETHING_ELSE"}})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing data", func(t *testing.T) {
		_, _, err := decodeMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{
			"event_type": string(EventTypeCalculationRecorded),
		}})
		assert.Error(t, err)
	})

	t.Run("missing calculation id", func(t *testing.T) {
		_, _, err := decodeMessage(recordedMessage(t, "1-0", ""))
		assert.Error(t, err)
	})
}

func TestConsumer_Run(t *testing.T) {
	config := ConsumerConfig{Stream: "stream:landed_cost", Group: "g", Name: "c"}

	t.Run("handles and acknowledges messages until cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", ctx, "stream:landed_cost", "g", "0").
			Return(redis.NewStatusResult("", errors.New("BUSYGROUP Consumer Group name already exists"))).Once()

		batch := []redis.XStream{{
			Stream: "stream:landed_cost",
			Messages: []redis.XMessage{
				recordedMessage(t, "1-0", "first"),
				{ID: "2-0", Values: map[string]interface{}{"event_type": "OTHER"}},
				recordedMessage(t, "3-0", "fails"),
			},
		}}
		client.On("XReadGroup", ctx, mock.Anything).Return(redis.NewXStreamSliceCmdResult(batch, nil)).Once()
		client.On("XReadGroup", ctx, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(redis.NewXStreamSliceCmdResult(nil, context.Canceled)).Once()
		client.On("XAck", ctx, "stream:landed_cost", "g", []string{"1-0"}).Return(redis.NewIntResult(1, nil)).Once()
		client.On("XAck", ctx, "stream:landed_cost", "g", []string{"2-0"}).Return(redis.NewIntResult(1, nil)).Once()

		var handled []string
		err := NewConsumer(client, config, slog.Default()).Run(ctx, func(_ context.Context, p CalculationRecordedPayload) error {
			handled = append(handled, p.CalculationID)
			if p.CalculationID == "fails" {
				return errors.New("handler failed")
			}
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{"first", "fails"}, handled)
		client.AssertExpectations(t)
		client.AssertNotCalled(t, "XAck", ctx, "stream:landed_cost", "g", []string{"3-0"})
	})

	t.Run("group creation failure", func(t *testing.T) {
		ctx := context.Background()
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", ctx, "stream:landed_cost", "g", "0").
			Return(redis.NewStatusResult("", errors.New("connection refused"))).Once()

		err := NewConsumer(client, config, slog.Default()).Run(ctx, nil)
		assert.Error(t, err)
		client.AssertNotCalled(t, "XReadGroup", mock.Anything, mock.Anything)
	})
}
