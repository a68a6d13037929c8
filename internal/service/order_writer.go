package service

import (
	"context"
	"strings"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CreateOrderInput is everything the order writer snapshots onto a new order
type CreateOrderInput struct {
	StoreID         string
	UserID          *string
	Email           string
	Lines           []ResolvedLine
	Totals          Totals
	ShippingAddress *models.ShippingAddress
	ShippingMethod  string
	PaymentMethod   models.PaymentMethod
	CouponCode      *string
	CustomerNote    *string
}

// OrderWriter persists new orders together with their item snapshots
type OrderWriter struct {
	orders OrderRepository
	logger *zap.Logger
}

// NewOrderWriter creates a new order writer
func NewOrderWriter(orders OrderRepository) *OrderWriter {
	return &OrderWriter{orders: orders, logger: util.GetLogger()}
}

// CreateOrder writes a PENDING, unpaid order and its items in one transaction.
// Paid state is only ever set by payment confirmation.
func (w *OrderWriter) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderWriter.CreateOrder",
		attribute.String("payment_method", string(in.PaymentMethod)))
	defer span.End()

	if len(in.Lines) == 0 {
		return nil, nil, models.ErrEmptyCart
	}

	storeID := in.StoreID
	if storeID == "" {
		storeID = in.Lines[0].Product.StoreID
	}
	for i := range in.Lines {
		if in.Lines[i].Product.StoreID != storeID {
			return nil, nil, models.ErrCrossStoreCheckout
		}
	}

	shippingMethod := in.ShippingMethod
	if shippingMethod != models.ShippingExpress {
		shippingMethod = models.ShippingStandard
	}

	order := &models.Order{
		ID:             uuid.NewString(),
		StoreID:        storeID,
		UserID:         in.UserID,
		Email:          strings.TrimSpace(in.Email),
		Status:         models.OrderStatusPending,
		IsPaid:         false,
		PaymentMethod:  in.PaymentMethod,
		ShippingMethod: shippingMethod,
		Subtotal:       in.Totals.Subtotal,
		Tax:            in.Totals.Tax,
		Discount:       in.Totals.Discount,
		ShippingCost:   in.Totals.ShippingCost,
		Total:          in.Totals.Total,
		CouponCode:     in.CouponCode,
		CustomerNote:   in.CustomerNote,
	}
	if addr := in.ShippingAddress; addr != nil {
		order.ShippingName = addr.FullName
		order.ShippingPhone = addr.Phone
		order.ShippingAddress = addr.AddressLine
		order.ShippingWard = addr.Ward
		order.ShippingDistrict = addr.District
		order.ShippingCity = addr.City
		order.ShippingCountry = addr.Country
	}

	items := make([]models.OrderItem, len(in.Lines))
	for i := range in.Lines {
		items[i] = snapshotItem(order.ID, &in.Lines[i])
	}

	if err := w.orders.CreateOrderWithItems(ctx, order, items); err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("persistence").Inc()
		return nil, nil, models.NewError(models.ErrPersistence, "could not save the order", err)
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	w.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("store_id", storeID),
		zap.Int64("total", order.Total),
		zap.Int("items", len(items)))

	return order, items, nil
}

// snapshotItem copies everything the item shows so later catalog edits never reach it
func snapshotItem(orderID string, line *ResolvedLine) models.OrderItem {
	item := models.OrderItem{
		OrderID:     orderID,
		ProductID:   line.Product.ID,
		ProductName: line.Product.Name,
		ImageURL:    copyString(line.Product.ImageURL),
		ResolvedBy:  line.Resolution,
		UnitPrice:   line.UnitPrice,
		Quantity:    line.Quantity,
		LineTotal:   line.LineTotal().Round(0).IntPart(),
	}
	if v := line.Variant; v != nil {
		item.VariantID = stringPtr(v.ID)
		item.SizeID = stringPtr(v.SizeID)
		item.SizeName = stringPtr(v.SizeName)
		item.ColorID = stringPtr(v.ColorID)
		item.ColorName = stringPtr(v.ColorName)
		item.MaterialID = copyString(v.MaterialID)
		item.MaterialName = copyString(v.MaterialName)
	}
	return item
}

func stringPtr(s string) *string {
	return &s
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	return stringPtr(*s)
}
