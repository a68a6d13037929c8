package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const (
	vnpVersion    = "2.1.0"
	vnpDateLayout = "20060102150405"
	vnpExpiry     = 15 * time.Minute
)

var vnpLocation = time.FixedZone("GMT+7", 7*60*60)

// BankRedirectProvider builds signed VNPay redirect URLs
type BankRedirectProvider struct {
	cfg        config.VNPayConfig
	storefront string
	currency   string
	now        func() time.Time
	logger     *zap.Logger
}

// NewBankRedirectProvider creates a VNPay-backed bank redirect provider
func NewBankRedirectProvider(cfg config.VNPayConfig, storefrontBaseURL, currency string) *BankRedirectProvider {
	return &BankRedirectProvider{
		cfg:        cfg,
		storefront: storefrontBaseURL,
		currency:   strings.ToUpper(currency),
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

func (p *BankRedirectProvider) Method() models.PaymentMethod {
	return models.PaymentBankRedirect
}

func (p *BankRedirectProvider) configured() error {
	var missing []string
	if p.cfg.TmnCode == "" {
		missing = append(missing, "VNPAY_TMN_CODE")
	}
	if p.cfg.HashSecret == "" {
		missing = append(missing, "VNPAY_HASH_SECRET")
	}
	if len(missing) > 0 {
		return missingConfig("bank redirect", missing...)
	}
	return nil
}

// BuildIntent signs a redirect URL. No network call is made, the bank page does the rest.
func (p *BankRedirectProvider) BuildIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}
	order := req.Order
	if err := positiveAmount(order); err != nil {
		return nil, err
	}

	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	locale := p.cfg.Locale
	if locale == "" {
		locale = "vn"
	}
	created := p.now().In(vnpLocation)

	params := url.Values{}
	params.Set("vnp_Version", vnpVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", p.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(order.Total*100, 10))
	params.Set("vnp_CurrCode", p.currency)
	params.Set("vnp_TxnRef", order.ID)
	params.Set("vnp_OrderInfo", fmt.Sprintf("Payment for order %s", order.ID))
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", locale)
	params.Set("vnp_ReturnUrl", ReturnURL(p.storefront, order.ID, models.PaymentBankRedirect))
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", created.Format(vnpDateLayout))
	params.Set("vnp_ExpireDate", created.Add(vnpExpiry).Format(vnpDateLayout))

	signed := params.Encode()
	paymentURL := p.cfg.PayURL + "?" + signed + "&vnp_SecureHash=" + p.sign(signed)

	p.logger.Info("Built bank redirect",
		zap.String("order_id", order.ID),
		zap.Int64("amount", order.Total))

	return &Intent{
		Method:     models.PaymentBankRedirect,
		Reference:  order.ID,
		PaymentURL: paymentURL,
	}, nil
}

// VerifyCallback validates the vnp_SecureHash of an IPN or return query
func (p *BankRedirectProvider) VerifyCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}

	query := payload.Query
	received := strings.ToLower(query.Get("vnp_SecureHash"))
	if received == "" {
		return nil, ErrInvalidSignature
	}

	fields := url.Values{}
	for key, values := range query {
		if !strings.HasPrefix(key, "vnp_") || key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		fields[key] = values
	}
	if !hmac.Equal([]byte(p.sign(fields.Encode())), []byte(received)) {
		return nil, ErrInvalidSignature
	}

	orderID := fields.Get("vnp_TxnRef")
	if orderID == "" {
		return nil, ErrUnknownOrder
	}
	amount, err := strconv.ParseInt(fields.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, models.NewError(models.ErrValidation, "malformed callback amount", err)
	}

	responseCode := fields.Get("vnp_ResponseCode")
	return &CallbackResult{
		OrderID:       orderID,
		TransactionID: fields.Get("vnp_TransactionNo"),
		Amount:        amount / 100,
		Success:       responseCode == "00" && fields.Get("vnp_TransactionStatus") == "00",
		Reason:        "response code " + responseCode,
	}, nil
}

type vnpAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// Acknowledge renders the RspCode body VNPay expects from an IPN endpoint
func (p *BankRedirectProvider) Acknowledge(err error) (int, any) {
	switch {
	case err == nil:
		return http.StatusOK, vnpAck{RspCode: "00", Message: "Confirm Success"}
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusOK, vnpAck{RspCode: "97", Message: "Invalid Checksum"}
	case errors.Is(err, ErrAmountMismatch):
		return http.StatusOK, vnpAck{RspCode: "04", Message: "Invalid Amount"}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusOK, vnpAck{RspCode: "01", Message: "Order Not Found"}
	case errors.Is(err, models.ErrConflict):
		return http.StatusOK, vnpAck{RspCode: "02", Message: "Order Already Confirmed"}
	default:
		return http.StatusOK, vnpAck{RspCode: "99", Message: "Unknown Error"}
	}
}

func (p *BankRedirectProvider) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(p.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
