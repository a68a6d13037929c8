package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	headerUserID         = "X-User-ID"
	headerUserEmail      = "X-User-Email"
	headerIdempotencyKey = "Idempotency-Key"
)

// CheckoutAPI is the checkout surface used by the handlers
type CheckoutAPI interface {
	Checkout(ctx context.Context, in service.CheckoutInput) (*service.CheckoutResult, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderItem, error)
	RetryPayment(ctx context.Context, orderID, clientIP string) (*models.Order, *service.DispatchResult, error)
	LinkMyOrders(ctx context.Context, identity service.Identity) (int64, error)
	ListMyOrders(ctx context.Context, identity service.Identity) ([]models.Order, error)
}

// StatusUpdater moves orders through their lifecycle
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, orderID string, to models.OrderStatus) (*models.Order, error)
}

// CallbackProcessor verifies provider notifications
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, method models.PaymentMethod, payload payment.CallbackPayload) (service.CallbackAck, error)
}

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	checkout  CheckoutAPI
	status    StatusUpdater
	callbacks CallbackProcessor
	readiness map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler. readiness names the dependencies /ready pings.
func NewHandler(checkout CheckoutAPI, status StatusUpdater, callbacks CallbackProcessor, readiness map[string]Pinger) *Handler {
	return &Handler{
		checkout:  checkout,
		status:    status,
		callbacks: callbacks,
		readiness: readiness,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.checkoutOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/payment", h.retryPayment)
		v1.PATCH("/orders/:id/status", h.updateStatus)

		v1.GET("/me/orders", h.listMyOrders)
		v1.POST("/me/orders/link", h.linkMyOrders)

		v1.POST("/payments/:method/callback", h.paymentCallback)
		v1.GET("/payments/:method/callback", h.paymentCallback)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, dep := range h.readiness {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "down"
			ready = false
			continue
		}
		checks[name] = "up"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// checkoutOrder handles checkout
func (h *Handler) checkoutOrder(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "INVALID_REQUEST",
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.checkout.Checkout(c.Request.Context(), service.CheckoutInput{
		Request:        &req,
		Identity:       identity(c),
		IdempotencyKey: c.GetHeader(headerIdempotencyKey),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, paymentResponse(result.Order, result.Payment))
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, items, err := h.checkout.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// retryPayment dispatches payment again for an unpaid order
func (h *Handler) retryPayment(c *gin.Context) {
	order, result, err := h.checkout.RetryPayment(c.Request.Context(), c.Param("id"), c.ClientIP())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, paymentResponse(order, result))
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// updateStatus applies an operator status transition
func (h *Handler) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "INVALID_REQUEST",
			"message": "status is required",
		})
		return
	}

	order, err := h.status.UpdateStatus(c.Request.Context(), c.Param("id"), models.OrderStatus(strings.ToUpper(string(req.Status))))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (h *Handler) listMyOrders(c *gin.Context) {
	orders, err := h.checkout.ListMyOrders(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) linkMyOrders(c *gin.Context) {
	linked, err := h.checkout.LinkMyOrders(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": linked})
}

// paymentCallback forwards a provider webhook or IPN and answers in the provider's format
func (h *Handler) paymentCallback(c *gin.Context) {
	method := models.PaymentMethod(strings.ToUpper(c.Param("method")))

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ack, err := h.callbacks.HandleCallback(c.Request.Context(), method, payment.CallbackPayload{
		Body:   body,
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header,
	})
	if err != nil {
		h.logger.Warn("Payment callback not applied",
			zap.String("method", string(method)),
			zap.Error(err))
	}

	if ack.Body == nil {
		c.Status(ack.Status)
		return
	}
	c.JSON(ack.Status, ack.Body)
}

func identity(c *gin.Context) service.Identity {
	return service.Identity{
		UserID: strings.TrimSpace(c.GetHeader(headerUserID)),
		Email:  strings.TrimSpace(c.GetHeader(headerUserEmail)),
	}
}

// paymentResponse flattens the dispatch result into the storefront contract
func paymentResponse(order *models.Order, result *service.DispatchResult) gin.H {
	resp := gin.H{
		"success": true,
		"orderId": order.ID,
		"status":  order.Status,
		"total":   order.Total,
	}
	if result == nil {
		return resp
	}

	resp["paymentMethod"] = result.Method
	if result.Message != "" {
		resp["message"] = result.Message
	}
	if intent := result.Intent; intent != nil {
		switch result.Method {
		case models.PaymentCard:
			resp["url"] = intent.URL
		case models.PaymentWallet:
			resp["payUrl"] = intent.PayURL
			resp["deeplink"] = intent.Deeplink
			resp["qrCodeUrl"] = intent.QRCodeURL
		case models.PaymentBankRedirect:
			resp["paymentUrl"] = intent.PaymentURL
		}
		if intent.Message != "" {
			resp["message"] = intent.Message
		}
	}
	return resp
}

// respondError maps the error taxonomy onto HTTP statuses
func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := classify(err)

	message := "Something went wrong, please try again"
	var stockErr *models.InsufficientStockError
	var appErr *models.Error
	switch {
	case errors.As(err, &stockErr):
		message = stockErr.Error()
	case errors.As(err, &appErr) && appErr.Message != "":
		message = appErr.Message
	}

	resp := gin.H{
		"success": false,
		"error":   code,
		"message": message,
	}
	if appErr != nil && appErr.OrderID != "" {
		resp["orderId"] = appErr.OrderID
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusBadRequest, "INSUFFICIENT_STOCK"
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusInternalServerError, "CONFIGURATION_ERROR"
	case errors.Is(err, models.ErrProvider):
		return http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
