package payment

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vnpConfig() config.VNPayConfig {
	return config.VNPayConfig{
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		TmnCode:    "TESTTMN1",
		HashSecret: "SECRETKEYFORTESTS",
		Locale:     "vn",
	}
}

func newTestBankRedirect() *BankRedirectProvider {
	p := NewBankRedirectProvider(vnpConfig(), "https://shop.example.com", "VND")
	p.now = func() time.Time { return time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC) }
	return p
}

// signedQuery mimics a VNPay IPN for the given fields
func signedQuery(p *BankRedirectProvider, fields url.Values) url.Values {
	q := url.Values{}
	for k, v := range fields {
		q[k] = v
	}
	q.Set("vnp_SecureHashType", "HmacSHA512")
	q.Set("vnp_SecureHash", strings.ToUpper(p.sign(fields.Encode())))
	return q
}

func TestBankRedirect_BuildIntent(t *testing.T) {
	p := newTestBankRedirect()
	order := testOrder(230000)

	intent, err := p.BuildIntent(context.Background(), IntentRequest{Order: order, ClientIP: "10.0.0.7"})
	require.NoError(t, err)
	assert.Equal(t, order.ID, intent.Reference)

	u, err := url.Parse(intent.PaymentURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "23000000", q.Get("vnp_Amount"))
	assert.Equal(t, order.ID, q.Get("vnp_TxnRef"))
	assert.Equal(t, "10.0.0.7", q.Get("vnp_IpAddr"))
	assert.Equal(t, "20240301100000", q.Get("vnp_CreateDate"))
	assert.Contains(t, q.Get("vnp_ReturnUrl"), "orderId="+order.ID)
	assert.Contains(t, q.Get("vnp_ReturnUrl"), "method=BANK_REDIRECT")

	hash := q.Get("vnp_SecureHash")
	q.Del("vnp_SecureHash")
	assert.Equal(t, p.sign(q.Encode()), hash)
}

func TestBankRedirect_MissingConfig(t *testing.T) {
	p := NewBankRedirectProvider(config.VNPayConfig{PayURL: "https://x"}, "https://shop.example.com", "VND")

	_, err := p.BuildIntent(context.Background(), IntentRequest{Order: testOrder(1000)})
	require.ErrorIs(t, err, models.ErrConfiguration)
	assert.Contains(t, err.Error(), "VNPAY_TMN_CODE")
}

func TestBankRedirect_VerifyCallback(t *testing.T) {
	p := newTestBankRedirect()
	fields := url.Values{}
	fields.Set("vnp_TmnCode", "TESTTMN1")
	fields.Set("vnp_TxnRef", "order-1")
	fields.Set("vnp_Amount", "23000000")
	fields.Set("vnp_ResponseCode", "00")
	fields.Set("vnp_TransactionStatus", "00")
	fields.Set("vnp_TransactionNo", "14123456")
	fields.Set("vnp_OrderInfo", "Payment for order order-1")

	result, err := p.VerifyCallback(context.Background(), CallbackPayload{Query: signedQuery(p, fields)})
	require.NoError(t, err)
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, "14123456", result.TransactionID)
	assert.EqualValues(t, 230000, result.Amount)
	assert.True(t, result.Success)

	fields.Set("vnp_ResponseCode", "24")
	result, err = p.VerifyCallback(context.Background(), CallbackPayload{Query: signedQuery(p, fields)})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestBankRedirect_VerifyCallback_Tampered(t *testing.T) {
	p := newTestBankRedirect()
	fields := url.Values{}
	fields.Set("vnp_TxnRef", "order-1")
	fields.Set("vnp_Amount", "23000000")
	fields.Set("vnp_ResponseCode", "00")

	q := signedQuery(p, fields)
	q.Set("vnp_Amount", "100")

	_, err := p.VerifyCallback(context.Background(), CallbackPayload{Query: q})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	status, body := p.Acknowledge(err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "97", body.(vnpAck).RspCode)
}

func TestBankRedirect_Acknowledge(t *testing.T) {
	p := newTestBankRedirect()

	_, body := p.Acknowledge(nil)
	assert.Equal(t, "00", body.(vnpAck).RspCode)
	_, body = p.Acknowledge(ErrAmountMismatch)
	assert.Equal(t, "04", body.(vnpAck).RspCode)
	_, body = p.Acknowledge(models.NotFoundf("order %s not found", "x"))
	assert.Equal(t, "01", body.(vnpAck).RspCode)
}
