package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-service/config"
	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutRequest represents a storefront checkout
type CheckoutRequest struct {
	Items           []models.CartLine       `json:"items" binding:"required,min=1,dive"`
	ShippingAddress *models.ShippingAddress `json:"shippingAddress,omitempty"`
	ShippingMethod  string                  `json:"shippingMethod,omitempty"`
	PaymentMethod   models.PaymentMethod    `json:"paymentMethod" binding:"required"`
	Coupon          *models.Coupon          `json:"coupon,omitempty"`
	CustomerNote    *string                 `json:"customerNote,omitempty"`
}

// Identity is the caller as resolved by the auth layer. An empty UserID is a guest.
type Identity struct {
	UserID string
	Email  string
}

// CheckoutInput wraps a checkout request with its transport context
type CheckoutInput struct {
	Request        *CheckoutRequest
	Identity       Identity
	IdempotencyKey string
	ClientIP       string
}

// CheckoutResult is a persisted order and its payment next step
type CheckoutResult struct {
	Order    *models.Order
	Items    []models.OrderItem
	Payment  *DispatchResult
	Replayed bool
}

// CheckoutService turns carts into priced, persisted, payable orders
type CheckoutService struct {
	catalog     CatalogReader
	orders      OrderRepository
	pricing     *PricingEngine
	writer      *OrderWriter
	dispatcher  *PaymentDispatcher
	reconciler  *Reconciler
	events      EventPublisher
	idempotency IdempotencyStore
	business    config.BusinessConfig
	logger      *zap.Logger
}

// NewCheckoutService creates a new checkout service. idempotency may be nil.
func NewCheckoutService(
	catalog CatalogReader,
	orders OrderRepository,
	pricing *PricingEngine,
	writer *OrderWriter,
	dispatcher *PaymentDispatcher,
	reconciler *Reconciler,
	events EventPublisher,
	idempotency IdempotencyStore,
	business config.BusinessConfig,
) *CheckoutService {
	return &CheckoutService{
		catalog:     catalog,
		orders:      orders,
		pricing:     pricing,
		writer:      writer,
		dispatcher:  dispatcher,
		reconciler:  reconciler,
		events:      events,
		idempotency: idempotency,
		business:    business,
		logger:      util.GetLogger(),
	}
}

// Checkout validates the cart against the live catalog, prices it, writes a
// PENDING order and dispatches payment. Validation failures create nothing.
// When payment dispatch fails the order survives and the error carries its id.
func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	req := in.Request
	if err := s.validateRequest(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if in.IdempotencyKey != "" && s.idempotency != nil {
		existing, err := s.idempotency.GetIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			s.logger.Warn("Idempotency lookup failed, continuing without it", zap.Error(err))
		} else if existing != "" {
			return s.replay(ctx, existing, in.ClientIP)
		}

		lockKey := "checkout-lock:" + in.IdempotencyKey
		token, acquired, err := s.idempotency.AcquireLock(ctx, lockKey, s.business.CheckoutLockTTL)
		switch {
		case err != nil:
			s.logger.Warn("Checkout lock unavailable, continuing without it", zap.Error(err))
		case !acquired:
			return nil, models.NewError(models.ErrConflict, "this checkout is already being processed", nil)
		default:
			defer func() {
				if err := s.idempotency.ReleaseLock(context.Background(), lockKey, token); err != nil {
					s.logger.Warn("Failed to release checkout lock", zap.Error(err))
				}
			}()
			if existing, err := s.idempotency.GetIdempotencyKey(ctx, in.IdempotencyKey); err == nil && existing != "" {
				return s.replay(ctx, existing, in.ClientIP)
			}
		}
	}

	lines, err := s.resolveCart(ctx, req.Items)
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	totals, err := s.pricing.Price(lines, req.Coupon, req.ShippingMethod)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_coupon").Inc()
		return nil, err
	}

	method := EffectiveMethod(req.PaymentMethod, totals.Total)
	if method != req.PaymentMethod {
		s.logger.Info("Zero total order settled as COD",
			zap.String("requested_method", string(req.PaymentMethod)))
	}

	var userID *string
	if in.Identity.UserID != "" {
		userID = stringPtr(in.Identity.UserID)
	}
	email := in.Identity.Email
	if email == "" && req.ShippingAddress != nil {
		email = req.ShippingAddress.Email
	}
	var couponCode *string
	if req.Coupon != nil {
		couponCode = stringPtr(req.Coupon.Code)
	}

	order, items, err := s.writer.CreateOrder(ctx, CreateOrderInput{
		UserID:          userID,
		Email:           email,
		Lines:           lines,
		Totals:          totals,
		ShippingAddress: req.ShippingAddress,
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   method,
		CouponCode:      couponCode,
		CustomerNote:    req.CustomerNote,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order_id", order.ID))
	util.OrdersCreatedTotal.WithLabelValues(string(method)).Inc()

	s.publishCreated(ctx, order, items)

	if in.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.SetIdempotencyKey(ctx, in.IdempotencyKey, order.ID, s.business.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to remember idempotency key", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	result := &CheckoutResult{Order: order, Items: items}
	dispatch, err := s.dispatcher.Dispatch(ctx, order, items, in.ClientIP)
	if err != nil {
		util.RecordError(span, err)
		return result, err
	}
	result.Payment = dispatch

	if dispatch.Paid {
		if reloaded, err := s.orders.GetOrderByID(ctx, order.ID); err == nil {
			result.Order = reloaded
		}
	}

	if _, err := s.reconciler.LinkOrdersToUser(ctx, in.Identity.UserID, in.Identity.Email); err != nil {
		s.logger.Warn("Guest order reconciliation failed", zap.Error(err))
	}

	return result, nil
}

func (s *CheckoutService) validateRequest(req *CheckoutRequest) error {
	if req == nil || len(req.Items) == 0 {
		return models.ErrEmptyCart
	}
	if s.business.MaxLinesPerOrder > 0 && len(req.Items) > s.business.MaxLinesPerOrder {
		return models.Validationf("a cart may hold at most %d lines", s.business.MaxLinesPerOrder)
	}
	for i, line := range req.Items {
		if strings.TrimSpace(line.ProductID) == "" {
			return models.Validationf("item %d has no product", i+1)
		}
		if line.Quantity <= 0 {
			return models.Validationf("item %d must have a positive quantity", i+1)
		}
		if s.business.MaxQuantityOnLine > 0 && line.Quantity > s.business.MaxQuantityOnLine {
			return models.Validationf("item %d exceeds the maximum quantity of %d", i+1, s.business.MaxQuantityOnLine)
		}
	}
	if !req.PaymentMethod.Valid() {
		return models.Validationf("unsupported payment method %q", req.PaymentMethod)
	}
	switch req.ShippingMethod {
	case "", models.ShippingStandard, models.ShippingExpress:
	default:
		return models.Validationf("unsupported shipping method %q", req.ShippingMethod)
	}
	return nil
}

// resolveCart loads every product once and resolves each line against it
func (s *CheckoutService) resolveCart(ctx context.Context, cart []models.CartLine) ([]ResolvedLine, error) {
	ids := make([]string, 0, len(cart))
	seen := make(map[string]bool, len(cart))
	for _, line := range cart {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}

	products, err := s.catalog.GetProductsWithVariants(ctx, ids)
	if err != nil {
		return nil, models.NewError(models.ErrPersistence, "could not load the catalog", err)
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	lines := make([]ResolvedLine, 0, len(cart))
	for _, line := range cart {
		product, ok := byID[line.ProductID]
		if !ok {
			return nil, models.NotFoundf("product %s not found", line.ProductID)
		}
		resolved, err := ResolveLine(product, line)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *resolved)
	}

	if err := checkCombinedStock(lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// checkCombinedStock rejects carts that ask for the same stock on several lines
func checkCombinedStock(lines []ResolvedLine) error {
	requested := make(map[string]int)
	for i := range lines {
		l := &lines[i]
		key := "product:" + l.Product.ID
		available := l.Product.AggregateInventory()
		if l.Variant != nil {
			key = "variant:" + l.Variant.ID
			available = l.Variant.Inventory
		}
		requested[key] += l.Quantity
		if requested[key] > available {
			return &models.InsufficientStockError{
				ProductName: l.Product.Name,
				Available:   available,
				Requested:   requested[key],
			}
		}
	}
	return nil
}

// replay answers a repeated checkout with the order it already created
func (s *CheckoutService) replay(ctx context.Context, orderID, clientIP string) (*CheckoutResult, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, models.WithOrder(models.NewError(models.ErrPersistence, "could not load order items", err), orderID)
	}

	s.logger.Info("Duplicate checkout request detected", zap.String("order_id", orderID))
	result := &CheckoutResult{Order: order, Items: items, Replayed: true}

	if !order.IsPaid && order.Status == models.OrderStatusPending {
		dispatch, err := s.dispatcher.Dispatch(ctx, order, items, clientIP)
		if err != nil {
			return result, err
		}
		result.Payment = dispatch
		if dispatch.Paid {
			if reloaded, err := s.orders.GetOrderByID(ctx, orderID); err == nil {
				result.Order = reloaded
			}
		}
		return result, nil
	}

	result.Payment = &DispatchResult{
		Method:  order.PaymentMethod,
		Paid:    order.IsPaid,
		Message: fmt.Sprintf("Order already placed, status %s", order.Status),
	}
	return result, nil
}

func (s *CheckoutService) publishCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, len(items))
	for i, item := range items {
		data[i] = models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		UserID:        order.UserID,
		PaymentMethod: order.PaymentMethod,
		Total:         order.Total,
		Items:         data,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// GetOrder retrieves an order with its items
func (s *CheckoutService) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, models.NewError(models.ErrPersistence, "could not load order items", err)
	}

	return order, items, nil
}

// RetryPayment dispatches payment again for an unpaid order
func (s *CheckoutService) RetryPayment(ctx context.Context, orderID, clientIP string) (*models.Order, *DispatchResult, error) {
	return s.dispatcher.RetryPayment(ctx, orderID, clientIP)
}

// LinkMyOrders runs guest order reconciliation for the caller
func (s *CheckoutService) LinkMyOrders(ctx context.Context, identity Identity) (int64, error) {
	if identity.UserID == "" {
		return 0, models.Validationf("sign in to link orders")
	}
	return s.reconciler.LinkOrdersToUser(ctx, identity.UserID, identity.Email)
}

// ListMyOrders reconciles guest orders for the caller, then lists theirs
func (s *CheckoutService) ListMyOrders(ctx context.Context, identity Identity) ([]models.Order, error) {
	if _, err := s.LinkMyOrders(ctx, identity); err != nil {
		if identity.UserID == "" {
			return nil, err
		}
		s.logger.Warn("Guest order reconciliation failed", zap.Error(err))
	}

	orders, err := s.orders.ListOrdersByUserID(ctx, identity.UserID)
	if err != nil {
		return nil, models.NewError(models.ErrPersistence, "could not list orders", err)
	}
	return orders, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
