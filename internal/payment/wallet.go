package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const momoRequestType = "captureWallet"

// WalletProvider creates MoMo wallet payments (pay URL, deeplink and QR code)
type WalletProvider struct {
	cfg        config.MoMoConfig
	storefront string
	apiBase    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWalletProvider creates a MoMo-backed wallet provider
func NewWalletProvider(cfg config.MoMoConfig, storefrontBaseURL, apiBaseURL string, httpClient *http.Client) *WalletProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WalletProvider{
		cfg:        cfg,
		storefront: storefrontBaseURL,
		apiBase:    apiBaseURL,
		httpClient: httpClient,
		logger:     util.GetLogger(),
	}
}

func (p *WalletProvider) Method() models.PaymentMethod {
	return models.PaymentWallet
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
	Deeplink    string `json:"deeplink"`
	QRCodeURL   string `json:"qrCodeUrl"`
}

// momoNotification is the IPN body MoMo posts after a payment attempt
type momoNotification struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

func (p *WalletProvider) configured() error {
	var missing []string
	if p.cfg.PartnerCode == "" {
		missing = append(missing, "MOMO_PARTNER_CODE")
	}
	if p.cfg.AccessKey == "" {
		missing = append(missing, "MOMO_ACCESS_KEY")
	}
	if p.cfg.SecretKey == "" {
		missing = append(missing, "MOMO_SECRET_KEY")
	}
	if len(missing) > 0 {
		return missingConfig("wallet", missing...)
	}
	return nil
}

// BuildIntent registers the payment with MoMo.
// MoMo order ids are single-use, so every attempt gets its own and our order id rides in extraData.
func (p *WalletProvider) BuildIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}
	order := req.Order
	if err := positiveAmount(order); err != nil {
		return nil, err
	}

	attempt := uuid.NewString()
	body := momoCreateRequest{
		PartnerCode: p.cfg.PartnerCode,
		AccessKey:   p.cfg.AccessKey,
		RequestID:   attempt,
		Amount:      order.Total,
		OrderID:     fmt.Sprintf("%s_%s", order.ID, attempt[:8]),
		OrderInfo:   fmt.Sprintf("Payment for order %s", order.ID),
		RedirectURL: ReturnURL(p.storefront, order.ID, models.PaymentWallet),
		IpnURL:      CallbackURL(p.apiBase, models.PaymentWallet),
		ExtraData:   base64.StdEncoding.EncodeToString([]byte(order.ID)),
		RequestType: momoRequestType,
		Lang:        "vi",
	}
	body.Signature = p.sign(fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		body.AccessKey, body.Amount, body.ExtraData, body.IpnURL, body.OrderID, body.OrderInfo,
		body.PartnerCode, body.RedirectURL, body.RequestID, body.RequestType))

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wallet request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, providerFailure("could not reach wallet provider", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, providerFailure("could not reach wallet provider", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, providerFailure("could not read wallet provider response", err)
	}

	var out momoCreateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, providerFailure("unexpected wallet provider response",
			fmt.Errorf("status %d: %w", resp.StatusCode, err))
	}
	if out.ResultCode != 0 || out.PayURL == "" {
		return nil, providerFailure("wallet provider rejected the payment",
			fmt.Errorf("resultCode %d: %s", out.ResultCode, out.Message))
	}

	p.logger.Info("Created wallet payment",
		zap.String("order_id", order.ID),
		zap.String("momo_order_id", body.OrderID))

	return &Intent{
		Method:    models.PaymentWallet,
		Reference: body.OrderID,
		PayURL:    out.PayURL,
		Deeplink:  out.Deeplink,
		QRCodeURL: out.QRCodeURL,
	}, nil
}

// VerifyCallback checks the IPN signature and recovers our order id from extraData
func (p *WalletProvider) VerifyCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}

	var n momoNotification
	if err := json.Unmarshal(payload.Body, &n); err != nil {
		return nil, models.NewError(models.ErrValidation, "malformed wallet notification", err)
	}

	expected := p.sign(fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		p.cfg.AccessKey, n.Amount, n.ExtraData, n.Message, n.OrderID, n.OrderInfo, n.OrderType,
		n.PartnerCode, n.PayType, n.RequestID, n.ResponseTime, n.ResultCode, n.TransID))
	if !hmac.Equal([]byte(expected), []byte(n.Signature)) {
		return nil, ErrInvalidSignature
	}

	orderID, err := base64.StdEncoding.DecodeString(n.ExtraData)
	if err != nil || len(orderID) == 0 {
		return nil, ErrUnknownOrder
	}

	return &CallbackResult{
		OrderID:       string(orderID),
		TransactionID: strconv.FormatInt(n.TransID, 10),
		Amount:        n.Amount,
		Success:       n.ResultCode == 0,
		Reason:        n.Message,
	}, nil
}

// Acknowledge answers MoMo with 204, which stops IPN retries
func (p *WalletProvider) Acknowledge(err error) (int, any) {
	if err != nil {
		return http.StatusBadRequest, map[string]any{"message": err.Error()}
	}
	return http.StatusNoContent, nil
}

func (p *WalletProvider) sign(raw string) string {
	mac := hmac.New(sha256.New, []byte(p.cfg.SecretKey))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
