package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// currencies Stripe charges in major units
var zeroDecimalCurrencies = map[string]bool{
	"vnd": true, "jpy": true, "krw": true, "clp": true, "pyg": true, "xof": true,
}

type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// CardProvider takes card payments through a Stripe hosted checkout session
type CardProvider struct {
	cfg        config.StripeConfig
	storefront string
	currency   string
	sessions   sessionCreator
	logger     *zap.Logger
}

// NewCardProvider creates a Stripe-backed card provider.
// Without a secret key every dispatch fails with a configuration error.
func NewCardProvider(cfg config.StripeConfig, storefrontBaseURL, currency string) *CardProvider {
	p := &CardProvider{
		cfg:        cfg,
		storefront: storefrontBaseURL,
		currency:   strings.ToLower(currency),
		logger:     util.GetLogger(),
	}
	if cfg.SecretKey != "" {
		sc := &client.API{}
		sc.Init(cfg.SecretKey, nil)
		p.sessions = sc.CheckoutSessions
	}
	return p
}

func (p *CardProvider) Method() models.PaymentMethod {
	return models.PaymentCard
}

// BuildIntent creates a checkout session whose success and cancel URLs carry the order id
func (p *CardProvider) BuildIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if p.sessions == nil {
		return nil, missingConfig("card", "STRIPE_SECRET_KEY")
	}
	order := req.Order
	if err := positiveAmount(order); err != nil {
		return nil, err
	}

	returnURL := ReturnURL(p.storefront, order.ID, models.PaymentCard)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(returnURL + "&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(returnURL + "&cancelled=true"),
		ClientReferenceID: stripe.String(order.ID),
		LineItems:         p.lineItems(order, req.Items),
	}
	if order.Email != "" {
		params.CustomerEmail = stripe.String(order.Email)
	}
	params.AddMetadata("orderId", order.ID)
	params.Context = ctx

	session, err := p.sessions.New(params)
	if err != nil {
		return nil, providerFailure("could not start card checkout", err)
	}

	p.logger.Info("Created checkout session",
		zap.String("order_id", order.ID),
		zap.String("session_id", session.ID))

	return &Intent{
		Method:    models.PaymentCard,
		Reference: session.ID,
		URL:       session.URL,
	}, nil
}

// lineItems itemizes the order when the itemization adds up to the total,
// otherwise it charges the total as a single line.
func (p *CardProvider) lineItems(order *models.Order, items []models.OrderItem) []*stripe.CheckoutSessionLineItemParams {
	var (
		lines []*stripe.CheckoutSessionLineItemParams
		sum   int64
	)
	for _, item := range items {
		unit := item.UnitPrice.Round(0).IntPart()
		sum += unit * int64(item.Quantity)
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.ProductName),
		}
		if item.ImageURL != nil && *item.ImageURL != "" {
			product.Images = []*string{item.ImageURL}
		}
		lines = append(lines, p.line(product, unit, int64(item.Quantity)))
	}
	if order.Tax > 0 {
		sum += order.Tax
		lines = append(lines, p.line(&stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String("Tax"),
		}, order.Tax, 1))
	}
	if order.ShippingCost > 0 {
		sum += order.ShippingCost
		lines = append(lines, p.line(&stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String("Shipping"),
		}, order.ShippingCost, 1))
	}

	if sum == order.Total {
		return lines
	}
	return []*stripe.CheckoutSessionLineItemParams{
		p.line(&stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(fmt.Sprintf("Order %s", order.ID)),
		}, order.Total, 1),
	}
}

func (p *CardProvider) line(product *stripe.CheckoutSessionLineItemPriceDataProductDataParams, amount, qty int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(p.currency),
			ProductData: product,
			UnitAmount:  stripe.Int64(p.toMinor(amount)),
		},
		Quantity: stripe.Int64(qty),
	}
}

func (p *CardProvider) toMinor(amount int64) int64 {
	if zeroDecimalCurrencies[p.currency] {
		return amount
	}
	return amount * 100
}

func (p *CardProvider) fromMinor(amount int64) int64 {
	if zeroDecimalCurrencies[p.currency] {
		return amount
	}
	return amount / 100
}

// VerifyCallback checks the webhook signature and extracts a completed session
func (p *CardProvider) VerifyCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	if p.cfg.WebhookSecret == "" {
		return nil, missingConfig("card", "STRIPE_WEBHOOK_SECRET")
	}

	event, err := webhook.ConstructEventWithOptions(payload.Body,
		payload.Header.Get("Stripe-Signature"),
		p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, models.NewError(models.ErrValidation, ErrInvalidSignature.Message, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
	default:
		return &CallbackResult{Ignored: true, Reason: string(event.Type)}, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, models.NewError(models.ErrValidation, "malformed checkout session", err)
	}

	orderID := session.ClientReferenceID
	if orderID == "" {
		orderID = session.Metadata["orderId"]
	}
	if orderID == "" {
		return nil, ErrUnknownOrder
	}

	return &CallbackResult{
		OrderID:       orderID,
		TransactionID: session.ID,
		Amount:        p.fromMinor(session.AmountTotal),
		Success:       session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Reason:        string(event.Type),
	}, nil
}

func (p *CardProvider) Acknowledge(err error) (int, any) {
	if err != nil {
		return http.StatusBadRequest, map[string]any{"received": false, "error": err.Error()}
	}
	return http.StatusOK, map[string]any{"received": true}
}
