package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"method"})

	OrdersPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders transitioned into paid",
	}, []string{"method"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected checkouts",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	}, []string{"reason"})

	ZeroTotalDowngradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_zero_total_downgrades_total",
		Help: "Online checkouts with a zero total settled as COD",
	}, []string{"method"})

	PaymentDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_dispatch_total",
		Help: "Total number of payment dispatches by method and result",
	}, []string{"method", "result"})

	PaymentDispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_dispatch_latency_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total number of provider callbacks by method and result",
	}, []string{"method", "result"})

	InventoryAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustments_total",
		Help: "Per-line inventory adjustments by direction and result",
	}, []string{"direction", "result"})

	GuestOrdersLinkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guest_orders_linked_total",
		Help: "Total number of guest orders linked to a user account",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
