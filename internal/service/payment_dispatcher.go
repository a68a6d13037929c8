package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const codConfirmationMessage = "Order placed, pay on delivery"

// DispatchResult is the client-facing outcome of routing an order to its payment method
type DispatchResult struct {
	Method  models.PaymentMethod
	Paid    bool
	Message string
	Intent  *payment.Intent
}

// CallbackAck is the response owed to a payment provider
type CallbackAck struct {
	Status int
	Body   any
}

// PaymentDispatcher routes orders to COD confirmation or an online provider
type PaymentDispatcher struct {
	providers   ProviderRegistry
	orders      OrderRepository
	fulfillment *Fulfillment
	timeout     time.Duration
	logger      *zap.Logger
}

// NewPaymentDispatcher creates a new payment dispatcher. timeout bounds every provider call.
func NewPaymentDispatcher(providers ProviderRegistry, orders OrderRepository, fulfillment *Fulfillment, timeout time.Duration) *PaymentDispatcher {
	return &PaymentDispatcher{
		providers:   providers,
		orders:      orders,
		fulfillment: fulfillment,
		timeout:     timeout,
		logger:      util.GetLogger(),
	}
}

// EffectiveMethod downgrades online methods to COD for zero-total orders,
// since no provider accepts a zero amount.
func EffectiveMethod(method models.PaymentMethod, total int64) models.PaymentMethod {
	if method.Online() && total == 0 {
		util.ZeroTotalDowngradesTotal.WithLabelValues(string(method)).Inc()
		return models.PaymentCOD
	}
	return method
}

// Dispatch confirms COD orders immediately and asks the provider for a payment intent otherwise.
// A provider failure leaves the order PENDING and the returned error carries its id.
func (d *PaymentDispatcher) Dispatch(ctx context.Context, order *models.Order, items []models.OrderItem, clientIP string) (*DispatchResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentDispatcher.Dispatch",
		attribute.String("order_id", order.ID),
		attribute.String("method", string(order.PaymentMethod)))
	defer span.End()

	method := order.PaymentMethod
	if method.Online() && order.Total == 0 {
		method = EffectiveMethod(method, order.Total)
	}

	if method == models.PaymentCOD {
		if _, err := d.fulfillment.ConfirmPayment(ctx, order.ID, ""); err != nil {
			util.RecordError(span, err)
			return nil, models.WithOrder(err, order.ID)
		}
		util.PaymentDispatchTotal.WithLabelValues(string(method), "confirmed").Inc()
		return &DispatchResult{Method: models.PaymentCOD, Paid: true, Message: codConfirmationMessage}, nil
	}

	provider, err := d.providers.Get(method)
	if err != nil {
		util.PaymentDispatchTotal.WithLabelValues(string(method), "unconfigured").Inc()
		return nil, models.WithOrder(err, order.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	intent, err := provider.BuildIntent(callCtx, payment.IntentRequest{Order: order, Items: items, ClientIP: clientIP})
	util.PaymentDispatchLatency.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
	if err != nil {
		result := "provider_error"
		if errors.Is(err, models.ErrConfiguration) {
			result = "unconfigured"
		} else if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result = "timeout"
		}
		util.PaymentDispatchTotal.WithLabelValues(string(method), result).Inc()
		util.RecordError(span, err)
		d.logger.Error("Payment dispatch failed, order kept pending",
			zap.String("order_id", order.ID),
			zap.String("method", string(method)),
			zap.Error(err))

		var classified *models.Error
		if !errors.As(err, &classified) {
			err = models.NewError(models.ErrProvider, "payment provider is unavailable", err)
		}
		return nil, models.WithOrder(err, order.ID)
	}

	if intent.Reference != "" {
		if err := d.orders.SetTransactionID(ctx, order.ID, intent.Reference); err != nil {
			d.logger.Error("Failed to store payment reference",
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
	}

	util.PaymentDispatchTotal.WithLabelValues(string(method), "intent_created").Inc()
	return &DispatchResult{Method: method, Intent: intent}, nil
}

// RetryPayment dispatches a still unpaid order again instead of creating a new one
func (d *PaymentDispatcher) RetryPayment(ctx context.Context, orderID, clientIP string) (*models.Order, *DispatchResult, error) {
	order, err := d.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.IsPaid || order.Status != models.OrderStatusPending {
		return nil, nil, &models.Error{
			Kind:    models.ErrConflict,
			Message: "order is not awaiting payment",
			OrderID: order.ID,
		}
	}

	items, err := d.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, models.WithOrder(models.NewError(models.ErrPersistence, "could not load order items", err), order.ID)
	}

	result, err := d.Dispatch(ctx, order, items, clientIP)
	return order, result, err
}

// HandleCallback verifies a provider notification and confirms the payment it reports
func (d *PaymentDispatcher) HandleCallback(ctx context.Context, method models.PaymentMethod, payload payment.CallbackPayload) (CallbackAck, error) {
	ctx, span := util.StartSpan(ctx, "PaymentDispatcher.HandleCallback", attribute.String("method", string(method)))
	defer span.End()

	provider, err := d.providers.Get(method)
	if err != nil {
		return CallbackAck{Status: http.StatusNotFound, Body: map[string]string{"error": "unknown payment method"}}, err
	}

	err = d.processCallback(ctx, method, provider, payload)
	if err != nil {
		util.RecordError(span, err)
		d.logger.Warn("Payment callback rejected", zap.String("method", string(method)), zap.Error(err))
	}
	status, body := provider.Acknowledge(err)
	return CallbackAck{Status: status, Body: body}, err
}

func (d *PaymentDispatcher) processCallback(ctx context.Context, method models.PaymentMethod, provider payment.Provider, payload payment.CallbackPayload) error {
	result, err := provider.VerifyCallback(ctx, payload)
	if err != nil {
		util.PaymentCallbacksTotal.WithLabelValues(string(method), "invalid").Inc()
		return err
	}
	if result.Ignored {
		util.PaymentCallbacksTotal.WithLabelValues(string(method), "ignored").Inc()
		return nil
	}

	order, err := d.orders.GetOrderByID(ctx, result.OrderID)
	if err != nil {
		util.PaymentCallbacksTotal.WithLabelValues(string(method), "unknown_order").Inc()
		return err
	}
	if result.Amount != order.Total {
		util.PaymentCallbacksTotal.WithLabelValues(string(method), "amount_mismatch").Inc()
		return payment.ErrAmountMismatch
	}

	if !result.Success {
		util.PaymentCallbacksTotal.WithLabelValues(string(method), "failed").Inc()
		d.logger.Warn("Provider reported failed payment",
			zap.String("order_id", order.ID),
			zap.String("reason", result.Reason))
		return nil
	}

	if order.Status == models.OrderStatusCancelled {
		util.PaymentCallbacksTotal.WithLabelValues(string(method), "cancelled_order").Inc()
		d.logger.Error("Payment received for cancelled order, needs refund",
			zap.String("order_id", order.ID),
			zap.String("tx_id", result.TransactionID))
		return models.NewError(models.ErrConflict, "order was cancelled", nil)
	}

	won, err := d.fulfillment.ConfirmPayment(ctx, order.ID, result.TransactionID)
	if err != nil {
		return err
	}
	if won {
		util.PaymentCallbacksTotal.WithLabelValues(string(method), "confirmed").Inc()
	} else {
		util.PaymentCallbacksTotal.WithLabelValues(string(method), "duplicate").Inc()
	}
	return nil
}
