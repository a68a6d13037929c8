package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// sliceSource replays fixed messages through the handler
type sliceSource struct {
	messages []kafka.Message
	errs     []error
	closed   bool
}

func (s *sliceSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range s.messages {
		s.errs = append(s.errs, handler(ctx, msg))
	}
	return nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockProcessor) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func encode(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestPaymentEventWorker_DispatchesEvents(t *testing.T) {
	source := &sliceSource{messages: []kafka.Message{
		encode(t, models.PaymentSuccessEvent{BaseEvent: broker.NewBaseEvent(models.EventTypePaymentSuccess), OrderID: "o-1", Amount: 230000, TxID: "tx-1"}),
		encode(t, models.PaymentFailedEvent{BaseEvent: broker.NewBaseEvent(models.EventTypePaymentFailed), OrderID: "o-2", Reason: "declined"}),
	}}
	processor := &mockProcessor{}
	processor.On("HandlePaymentSuccess", mock.Anything, mock.MatchedBy(func(e *models.PaymentSuccessEvent) bool {
		return e.OrderID == "o-1" && e.Amount == 230000
	})).Return(nil).Once()
	processor.On("HandlePaymentFailed", mock.Anything, mock.MatchedBy(func(e *models.PaymentFailedEvent) bool {
		return e.OrderID == "o-2"
	})).Return(errors.New("retry later")).Once()

	w := NewPaymentEventWorker(source, processor)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())

	require.Len(t, source.errs, 2)
	assert.NoError(t, source.errs[0])
	assert.EqualError(t, source.errs[1], "retry later")
	assert.True(t, source.closed)
	processor.AssertExpectations(t)
}

type countingSweeper struct {
	calls int
	err   error
	panic bool
}

func (s *countingSweeper) Sweep(ctx context.Context) (int, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return 1, s.err
}

func TestStaleOrderScheduler(t *testing.T) {
	_, err := NewStaleOrderScheduler("not a schedule", &countingSweeper{})
	assert.Error(t, err)

	sweeper := &countingSweeper{}
	s, err := NewStaleOrderScheduler("@hourly", sweeper)
	require.NoError(t, err)

	s.RunOnce()
	sweeper.err = errors.New("db down")
	s.RunOnce()
	sweeper.panic = true
	assert.NotPanics(t, s.RunOnce)
	assert.Equal(t, 3, sweeper.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Start(ctx))
}
