package service

import (
	"context"
	"fmt"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// allowedTransitions lists operator-driven status changes.
// PENDING to PROCESSING only happens through ConfirmPayment.
var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled, models.OrderStatusRefunded},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
	models.OrderStatusDelivered:  {models.OrderStatusRefunded},
}

// Fulfillment owns every order state change after creation
type Fulfillment struct {
	orders    OrderRepository
	inventory *InventoryAdjuster
	events    EventPublisher
	logger    *zap.Logger
}

// NewFulfillment creates a new fulfillment coordinator
func NewFulfillment(orders OrderRepository, inventory *InventoryAdjuster, events EventPublisher) *Fulfillment {
	return &Fulfillment{
		orders:    orders,
		inventory: inventory,
		events:    events,
		logger:    util.GetLogger(),
	}
}

// ConfirmPayment is the only writer of is_paid. It moves an unpaid PENDING order
// to paid PROCESSING, and only the caller that wins that transition adjusts
// inventory and announces the payment. It reports whether this call won.
func (f *Fulfillment) ConfirmPayment(ctx context.Context, orderID, txID string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "Fulfillment.ConfirmPayment", attribute.String("order_id", orderID))
	defer span.End()

	won, err := f.orders.MarkOrderPaid(ctx, orderID, txID)
	if err != nil {
		util.RecordError(span, err)
		return false, models.NewError(models.ErrPersistence, "could not confirm payment", err)
	}
	if !won {
		f.logger.Info("Payment already confirmed or order not payable",
			zap.String("order_id", orderID),
			zap.String("tx_id", txID))
		return false, nil
	}

	if err := f.inventory.DecrementInventory(ctx, orderID); err != nil {
		f.logger.Error("Inventory adjustment failed after payment",
			zap.String("order_id", orderID),
			zap.Error(err))
	}

	order, err := f.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		f.logger.Error("Failed to reload paid order", zap.String("order_id", orderID), zap.Error(err))
		return true, nil
	}

	util.OrdersPaidTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	f.logger.Info("Order paid",
		zap.String("order_id", orderID),
		zap.String("method", string(order.PaymentMethod)),
		zap.String("tx_id", txID))

	event := &models.OrderPaidEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:       orderID,
		PaymentMethod: order.PaymentMethod,
		Amount:        order.Total,
		TxID:          txID,
	}
	if err := f.events.PublishOrderPaid(ctx, event); err != nil {
		f.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}

	return true, nil
}

// CancelOrder cancels a PENDING or PROCESSING order and returns any stock it took
func (f *Fulfillment) CancelOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Fulfillment.CancelOrder", attribute.String("order_id", orderID))
	defer span.End()

	won, err := f.orders.TransitionOrderStatus(ctx, orderID,
		[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusProcessing},
		models.OrderStatusCancelled)
	if err != nil {
		util.RecordError(span, err)
		return nil, models.NewError(models.ErrPersistence, "could not cancel the order", err)
	}

	order, err := f.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, models.NewError(models.ErrConflict,
			fmt.Sprintf("order in status %s cannot be cancelled", order.Status), nil)
	}

	if err := f.inventory.RestockInventory(ctx, orderID); err != nil {
		f.logger.Error("Failed to restock cancelled order", zap.String("order_id", orderID), zap.Error(err))
	}

	util.OrdersCancelledTotal.WithLabelValues(reason).Inc()
	f.logger.Info("Order cancelled",
		zap.String("order_id", orderID),
		zap.String("reason", reason),
		zap.Bool("was_paid", order.IsPaid))

	event := &models.OrderCancelledEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		Reason:    reason,
		WasPaid:   order.IsPaid,
	}
	if err := f.events.PublishOrderCancelled(ctx, event); err != nil {
		f.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}

	return order, nil
}

// UpdateStatus applies an operator status change
func (f *Fulfillment) UpdateStatus(ctx context.Context, orderID string, to models.OrderStatus) (*models.Order, error) {
	order, err := f.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(order.Status, to) {
		return nil, models.NewError(models.ErrConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, to), nil)
	}
	if to == models.OrderStatusCancelled {
		return f.CancelOrder(ctx, orderID, "operator")
	}

	won, err := f.orders.TransitionOrderStatus(ctx, orderID, []models.OrderStatus{order.Status}, to)
	if err != nil {
		return nil, models.NewError(models.ErrPersistence, "could not update the order", err)
	}
	if !won {
		return nil, models.NewError(models.ErrConflict, "order was changed concurrently, reload and retry", nil)
	}

	f.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(to)))
	return f.orders.GetOrderByID(ctx, orderID)
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// HandlePaymentSuccess confirms payment from a gateway event, once per event
func (f *Fulfillment) HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	ctx, span := util.StartSpan(ctx, "Fulfillment.HandlePaymentSuccess")
	defer span.End()

	processed, err := f.orders.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		f.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	order, err := f.orders.GetOrderByID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", event.OrderID, err)
	}

	if event.Amount != order.Total {
		util.PaymentCallbacksTotal.WithLabelValues("event", "amount_mismatch").Inc()
		f.logger.Error("Payment event amount does not match order total",
			zap.String("order_id", event.OrderID),
			zap.Int64("amount", event.Amount),
			zap.Int64("total", order.Total))
	} else if _, err := f.ConfirmPayment(ctx, event.OrderID, event.TxID); err != nil {
		return err
	}

	if err := f.orders.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		f.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// HandlePaymentFailed records a failed attempt. The order stays PENDING so the customer can retry.
func (f *Fulfillment) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "Fulfillment.HandlePaymentFailed")
	defer span.End()

	processed, err := f.orders.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		return nil
	}

	util.PaymentCallbacksTotal.WithLabelValues("event", "failed").Inc()
	f.logger.Warn("Payment failed, order left pending",
		zap.String("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	if err := f.orders.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		f.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
