package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"checkout-service/internal/models"
)

// Callback verification failures
var (
	ErrInvalidSignature = &models.Error{Kind: models.ErrValidation, Message: "invalid callback signature"}
	ErrAmountMismatch   = &models.Error{Kind: models.ErrValidation, Message: "callback amount does not match order total"}
	ErrUnknownOrder     = &models.Error{Kind: models.ErrNotFound, Message: "callback references an unknown order"}
)

// IntentRequest is everything a provider needs to start a payment
type IntentRequest struct {
	Order    *models.Order
	Items    []models.OrderItem
	ClientIP string
}

// Intent is the provider-specific next step handed back to the client.
// Reference is the provider's handle for the attempt and is stored on the order.
type Intent struct {
	Method     models.PaymentMethod
	Reference  string
	URL        string
	PayURL     string
	Deeplink   string
	QRCodeURL  string
	PaymentURL string
	Message    string
}

// CallbackPayload is the raw provider notification
type CallbackPayload struct {
	Body   []byte
	Query  url.Values
	Header http.Header
}

// CallbackResult is a verified provider notification.
// Ignored is set for authentic notifications that carry no payment outcome.
type CallbackResult struct {
	OrderID       string
	TransactionID string
	Amount        int64
	Success       bool
	Ignored       bool
	Reason        string
}

// Provider is one online payment gateway
type Provider interface {
	Method() models.PaymentMethod
	BuildIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	VerifyCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error)
	// Acknowledge renders the response the gateway expects for a processed callback
	Acknowledge(err error) (int, any)
}

// Registry looks up providers by payment method
type Registry struct {
	providers map[models.PaymentMethod]Provider
}

// NewRegistry creates a registry of the given providers
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.PaymentMethod]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Method()] = p
	}
	return r
}

// Get returns the provider for method
func (r *Registry) Get(method models.PaymentMethod) (Provider, error) {
	p, ok := r.providers[method]
	if !ok {
		return nil, models.NewError(models.ErrConfiguration,
			fmt.Sprintf("payment method %s is not available", method), nil)
	}
	return p, nil
}

// ReturnURL is the storefront confirmation page shared by every provider
func ReturnURL(storefrontBaseURL, orderID string, method models.PaymentMethod) string {
	q := url.Values{}
	q.Set("orderId", orderID)
	q.Set("method", string(method))
	return strings.TrimRight(storefrontBaseURL, "/") + "/payment/success?" + q.Encode()
}

// CallbackURL is where a provider posts its server-to-server notification
func CallbackURL(apiBaseURL string, method models.PaymentMethod) string {
	return strings.TrimRight(apiBaseURL, "/") + "/api/v1/payments/" + strings.ToLower(string(method)) + "/callback"
}

func missingConfig(provider string, missing ...string) error {
	return models.NewError(models.ErrConfiguration,
		fmt.Sprintf("%s payment is not configured", provider),
		fmt.Errorf("missing %s", strings.Join(missing, ", ")))
}

func providerFailure(message string, cause error) error {
	return models.NewError(models.ErrProvider, message, cause)
}

func positiveAmount(order *models.Order) error {
	if order.Total <= 0 {
		return models.Validationf("order %s has no payable amount", order.ID)
	}
	return nil
}
