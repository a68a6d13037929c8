package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"checkout-service/config"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func momoConfig(endpoint string) config.MoMoConfig {
	return config.MoMoConfig{
		Endpoint:    endpoint,
		PartnerCode: "MOMOTEST",
		AccessKey:   "access",
		SecretKey:   "secret",
	}
}

func TestWallet_BuildIntent(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		var req momoCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 230000, req.Amount)
		assert.Equal(t, momoRequestType, req.RequestType)
		assert.Contains(t, req.RedirectURL, "orderId=8c1f3c2e-order")
		assert.Equal(t, "https://api.example.com/api/v1/payments/wallet/callback", req.IpnURL)

		p := NewWalletProvider(momoConfig(""), "", "", nil)
		expected := p.sign(fmt.Sprintf(
			"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
			req.AccessKey, req.Amount, req.ExtraData, req.IpnURL, req.OrderID, req.OrderInfo,
			req.PartnerCode, req.RedirectURL, req.RequestID, req.RequestType))
		assert.Equal(t, expected, req.Signature)

		json.NewEncoder(w).Encode(momoCreateResponse{
			OrderID:    req.OrderID,
			ResultCode: 0,
			PayURL:     "https://test-payment.momo.vn/pay/abc",
			Deeplink:   "momo://app?action=pay",
			QRCodeURL:  "https://test-payment.momo.vn/qr/abc",
		})
	}))
	defer server.Close()

	p := NewWalletProvider(momoConfig(server.URL), "https://shop.example.com", "https://api.example.com", server.Client())
	intent, err := p.BuildIntent(context.Background(), IntentRequest{Order: testOrder(230000)})
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, "https://test-payment.momo.vn/pay/abc", intent.PayURL)
	assert.Equal(t, "momo://app?action=pay", intent.Deeplink)
	assert.Equal(t, "https://test-payment.momo.vn/qr/abc", intent.QRCodeURL)
	assert.Contains(t, intent.Reference, "8c1f3c2e-order_")
}

func TestWallet_ProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(momoCreateResponse{ResultCode: 22, Message: "amount out of range"})
	}))
	defer server.Close()

	p := NewWalletProvider(momoConfig(server.URL), "https://shop.example.com", "https://api.example.com", server.Client())
	_, err := p.BuildIntent(context.Background(), IntentRequest{Order: testOrder(230000)})
	require.ErrorIs(t, err, models.ErrProvider)
	assert.Contains(t, err.Error(), "amount out of range")
}

func TestWallet_MissingConfig(t *testing.T) {
	p := NewWalletProvider(config.MoMoConfig{Endpoint: "http://unused"}, "", "", nil)

	_, err := p.BuildIntent(context.Background(), IntentRequest{Order: testOrder(230000)})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func signedNotification(p *WalletProvider, n momoNotification) []byte {
	n.Signature = p.sign(fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		p.cfg.AccessKey, n.Amount, n.ExtraData, n.Message, n.OrderID, n.OrderInfo, n.OrderType,
		n.PartnerCode, n.PayType, n.RequestID, n.ResponseTime, n.ResultCode, n.TransID))
	body, _ := json.Marshal(n)
	return body
}

func TestWallet_VerifyCallback(t *testing.T) {
	p := NewWalletProvider(momoConfig("http://unused"), "", "", nil)
	n := momoNotification{
		PartnerCode:  "MOMOTEST",
		OrderID:      "order-1_abcd1234",
		RequestID:    "req-1",
		Amount:       230000,
		OrderInfo:    "Payment for order order-1",
		OrderType:    "momo_wallet",
		TransID:      4088878653,
		ResultCode:   0,
		Message:      "Successful.",
		PayType:      "qr",
		ResponseTime: 1721720663942,
		ExtraData:    base64.StdEncoding.EncodeToString([]byte("order-1")),
	}

	result, err := p.VerifyCallback(context.Background(), CallbackPayload{Body: signedNotification(p, n)})
	require.NoError(t, err)
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, "4088878653", result.TransactionID)
	assert.EqualValues(t, 230000, result.Amount)
	assert.True(t, result.Success)

	status, body := p.Acknowledge(nil)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Nil(t, body)
}

func TestWallet_VerifyCallback_BadSignature(t *testing.T) {
	p := NewWalletProvider(momoConfig("http://unused"), "", "", nil)
	body := signedNotification(p, momoNotification{
		OrderID:   "order-1_abcd1234",
		Amount:    230000,
		ExtraData: base64.StdEncoding.EncodeToString([]byte("order-1")),
	})

	var n momoNotification
	require.NoError(t, json.Unmarshal(body, &n))
	n.Amount = 1
	tampered, _ := json.Marshal(n)

	_, err := p.VerifyCallback(context.Background(), CallbackPayload{Body: tampered})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
