package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const stalePaymentReason = "payment_timeout"

// StaleOrderSweeper cancels orders whose payment never arrived
type StaleOrderSweeper struct {
	orders      OrderRepository
	fulfillment *Fulfillment
	ttl         time.Duration
	batch       int
	now         func() time.Time
	logger      *zap.Logger
}

// NewStaleOrderSweeper creates a sweeper for unpaid orders older than ttl
func NewStaleOrderSweeper(orders OrderRepository, fulfillment *Fulfillment, ttl time.Duration, batch int) *StaleOrderSweeper {
	if batch <= 0 {
		batch = 100
	}
	return &StaleOrderSweeper{
		orders:      orders,
		fulfillment: fulfillment,
		ttl:         ttl,
		batch:       batch,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// Sweep cancels one batch of stale orders and returns how many it cancelled.
// An order confirmed concurrently wins over the sweep.
func (s *StaleOrderSweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "StaleOrderSweeper.Sweep")
	defer span.End()

	cutoff := s.now().Add(-s.ttl)
	orders, err := s.orders.ListStalePendingOrders(ctx, cutoff, s.batch)
	if err != nil {
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	cancelled := 0
	for _, order := range orders {
		if _, err := s.fulfillment.CancelOrder(ctx, order.ID, stalePaymentReason); err != nil {
			if errors.Is(err, models.ErrConflict) {
				s.logger.Debug("Stale order changed before sweep", zap.String("order_id", order.ID))
				continue
			}
			s.logger.Error("Failed to cancel stale order", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		s.logger.Info("Cancelled stale orders",
			zap.Int("cancelled", cancelled),
			zap.Time("cutoff", cutoff))
	}
	return cancelled, nil
}
