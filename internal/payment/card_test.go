package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func newTestCard(sessions sessionCreator) *CardProvider {
	p := NewCardProvider(config.StripeConfig{WebhookSecret: "whsec_test"}, "https://shop.example.com", "VND")
	p.sessions = sessions
	return p
}

func cardItems() []models.OrderItem {
	return []models.OrderItem{{
		ProductID:   "p-1",
		ProductName: "Linen Shirt",
		UnitPrice:   decimal.NewFromInt(100000),
		Quantity:    2,
		LineTotal:   200000,
	}}
}

func sumLines(lines []*stripe.CheckoutSessionLineItemParams) int64 {
	var sum int64
	for _, l := range lines {
		sum += *l.PriceData.UnitAmount * *l.Quantity
	}
	return sum
}

func TestCard_BuildIntent_ItemizedSession(t *testing.T) {
	sessions := &fakeSessions{}
	p := newTestCard(sessions)
	order := testOrder(230000)

	intent, err := p.BuildIntent(context.Background(), IntentRequest{Order: order, Items: cardItems()})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", intent.Reference)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", intent.URL)

	params := sessions.params
	require.NotNil(t, params)
	assert.Equal(t, order.ID, *params.ClientReferenceID)
	assert.Contains(t, *params.SuccessURL, "orderId="+order.ID)
	assert.Contains(t, *params.CancelURL, "orderId="+order.ID)
	require.Len(t, params.LineItems, 2)
	assert.EqualValues(t, 230000, sumLines(params.LineItems))
	assert.Equal(t, "vnd", *params.LineItems[0].PriceData.Currency)
}

func TestCard_BuildIntent_DiscountCollapsesToSingleLine(t *testing.T) {
	sessions := &fakeSessions{}
	p := newTestCard(sessions)
	order := testOrder(130000)
	order.Discount = 100000

	_, err := p.BuildIntent(context.Background(), IntentRequest{Order: order, Items: cardItems()})
	require.NoError(t, err)
	require.Len(t, sessions.params.LineItems, 1)
	assert.EqualValues(t, 130000, sumLines(sessions.params.LineItems))
}

func TestCard_BuildIntent_Errors(t *testing.T) {
	unconfigured := NewCardProvider(config.StripeConfig{}, "https://shop.example.com", "VND")
	_, err := unconfigured.BuildIntent(context.Background(), IntentRequest{Order: testOrder(1000)})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	failing := newTestCard(&fakeSessions{err: fmt.Errorf("connection reset")})
	_, err = failing.BuildIntent(context.Background(), IntentRequest{Order: testOrder(1000)})
	assert.ErrorIs(t, err, models.ErrProvider)
}

func stripeSignature(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestCard_VerifyCallback(t *testing.T) {
	p := newTestCard(&fakeSessions{})
	payload := []byte(`{
		"id": "evt_test_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"client_reference_id": "order-1",
			"amount_total": 230000,
			"payment_status": "paid"
		}}
	}`)

	header := http.Header{}
	header.Set("Stripe-Signature", stripeSignature("whsec_test", payload))

	result, err := p.VerifyCallback(context.Background(), CallbackPayload{Body: payload, Header: header})
	require.NoError(t, err)
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, "cs_test_1", result.TransactionID)
	assert.EqualValues(t, 230000, result.Amount)
	assert.True(t, result.Success)

	header.Set("Stripe-Signature", stripeSignature("whsec_other", payload))
	_, err = p.VerifyCallback(context.Background(), CallbackPayload{Body: payload, Header: header})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCard_VerifyCallback_IgnoresOtherEvents(t *testing.T) {
	p := newTestCard(&fakeSessions{})
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	header := http.Header{}
	header.Set("Stripe-Signature", stripeSignature("whsec_test", payload))

	result, err := p.VerifyCallback(context.Background(), CallbackPayload{Body: payload, Header: header})
	require.NoError(t, err)
	assert.True(t, result.Ignored)
}
