package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// InventoryAdjuster applies paid orders to variant stock
type InventoryAdjuster struct {
	orders    OrderRepository
	inventory InventoryRepository
	events    EventPublisher
	logger    *zap.Logger
}

// NewInventoryAdjuster creates a new inventory adjuster
func NewInventoryAdjuster(orders OrderRepository, inventory InventoryRepository, events EventPublisher) *InventoryAdjuster {
	return &InventoryAdjuster{
		orders:    orders,
		inventory: inventory,
		events:    events,
		logger:    util.GetLogger(),
	}
}

// DecrementInventory takes each precisely resolved line out of stock, once per order.
// Per-line failures are reported to operations and never returned.
func (a *InventoryAdjuster) DecrementInventory(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "InventoryAdjuster.DecrementInventory")
	defer span.End()

	claimed, err := a.inventory.ClaimInventoryAdjustment(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to claim inventory adjustment: %w", err)
	}
	if !claimed {
		a.logger.Info("Inventory already adjusted or order not payable, skipping",
			zap.String("order_id", orderID))
		return nil
	}

	items, err := a.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to get order items: %w", err)
	}

	for i := range items {
		item := &items[i]
		sel, ok := a.selector(orderID, item, "decrement")
		if !ok {
			continue
		}

		if err := a.inventory.DecrementVariantStock(ctx, sel, item.Quantity); err != nil {
			util.InventoryAdjustmentsTotal.WithLabelValues("decrement", "failed").Inc()
			a.logger.Error("Failed to decrement stock for paid order",
				zap.String("order_id", orderID),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
			a.reportShortfall(ctx, orderID, item, err)
			continue
		}
		util.InventoryAdjustmentsTotal.WithLabelValues("decrement", "ok").Inc()
	}

	return nil
}

// RestockInventory returns the stock of a cancelled order, only if it was taken and not yet returned
func (a *InventoryAdjuster) RestockInventory(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "InventoryAdjuster.RestockInventory")
	defer span.End()

	claimed, err := a.inventory.ClaimInventoryRestock(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to claim inventory restock: %w", err)
	}
	if !claimed {
		return nil
	}

	items, err := a.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to get order items: %w", err)
	}

	for i := range items {
		item := &items[i]
		sel, ok := a.selector(orderID, item, "restock")
		if !ok {
			continue
		}

		if err := a.inventory.IncrementVariantStock(ctx, sel, item.Quantity); err != nil {
			util.InventoryAdjustmentsTotal.WithLabelValues("restock", "failed").Inc()
			a.logger.Error("Failed to restock cancelled order line",
				zap.String("order_id", orderID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
			continue
		}
		util.InventoryAdjustmentsTotal.WithLabelValues("restock", "ok").Inc()
	}

	return nil
}

// selector returns the live variant key of item, or false for lines that cannot be adjusted precisely
func (a *InventoryAdjuster) selector(orderID string, item *models.OrderItem, direction string) (models.VariantSelector, bool) {
	switch item.ResolvedBy {
	case models.ResolvedByExplicitVariant, models.ResolvedBySizeColorMaterial:
		sel, ok := item.VariantSelector()
		if !ok {
			util.InventoryAdjustmentsTotal.WithLabelValues(direction, "skipped").Inc()
			a.logger.Warn("Order item lost its variant attributes, skipping",
				zap.String("order_id", orderID),
				zap.String("product_id", item.ProductID))
		}
		return sel, ok
	case models.ResolvedByAggregateFallback:
		util.InventoryAdjustmentsTotal.WithLabelValues(direction, "skipped").Inc()
		a.logger.Warn("Order item was resolved by aggregate stock, cannot adjust a specific variant",
			zap.String("order_id", orderID),
			zap.String("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity))
		return models.VariantSelector{}, false
	default:
		util.InventoryAdjustmentsTotal.WithLabelValues(direction, "skipped").Inc()
		a.logger.Warn("Order item has unknown resolution, skipping",
			zap.String("order_id", orderID),
			zap.String("product_id", item.ProductID),
			zap.String("resolved_by", string(item.ResolvedBy)))
		return models.VariantSelector{}, false
	}
}

func (a *InventoryAdjuster) reportShortfall(ctx context.Context, orderID string, item *models.OrderItem, cause error) {
	reason := "decrement_failed"
	switch {
	case errors.Is(cause, models.ErrInsufficientStock):
		reason = "oversold"
	case errors.Is(cause, models.ErrNotFound):
		reason = "variant_missing"
	}

	event := &models.InventoryShortfallEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeInventoryShortfall),
		OrderID:   orderID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Reason:    reason,
	}
	if err := a.events.PublishInventoryShortfall(ctx, event); err != nil {
		a.logger.Error("Failed to publish InventoryShortfall event", zap.Error(err))
	}
}
