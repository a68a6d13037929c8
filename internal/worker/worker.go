package worker

import (
	"context"
	"fmt"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MessageSource is a stream of broker messages
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentEventProcessor applies payment results to orders
type PaymentEventProcessor interface {
	HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error
	HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// PaymentEventWorker consumes payment events and confirms or logs orders
type PaymentEventWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentEventWorker creates a new payment event worker
func NewPaymentEventWorker(consumer MessageSource, processor PaymentEventProcessor) *PaymentEventWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentSuccess(processor.HandlePaymentSuccess)
	eventHandler.OnPaymentFailed(processor.HandlePaymentFailed)

	return &PaymentEventWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *PaymentEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the consumer
func (w *PaymentEventWorker) Stop() error {
	w.logger.Info("Stopping payment event worker")
	return w.consumer.Close()
}

// Sweeper cancels one batch of stale orders
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// StaleOrderScheduler runs the stale order sweep on a cron schedule
type StaleOrderScheduler struct {
	sched   *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
}

// NewStaleOrderScheduler registers the sweep under spec, e.g. "@hourly" or "0 */15 * * * *"
func NewStaleOrderScheduler(spec string, sweeper Sweeper) (*StaleOrderScheduler, error) {
	s := &StaleOrderScheduler{
		sched:   cron.New(cron.WithParser(cronParser)),
		sweeper: sweeper,
		logger:  util.GetLogger(),
	}
	if _, err := s.sched.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid stale order schedule %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce sweeps a single batch. Panics are logged, not propagated to the scheduler.
func (s *StaleOrderScheduler) RunOnce() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Stale order sweep panicked", zap.Any("panic", r))
		}
	}()

	cancelled, err := s.sweeper.Sweep(context.Background())
	if err != nil {
		s.logger.Error("Stale order sweep failed", zap.Error(err))
		return
	}
	s.logger.Debug("Stale order sweep finished", zap.Int("cancelled", cancelled))
}

// Start runs the scheduler until ctx is cancelled, then waits for a running sweep
func (s *StaleOrderScheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting stale order scheduler")
	s.sched.Start()
	<-ctx.Done()
	<-s.sched.Stop().Done()
	return nil
}
