package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeInventoryShortfall = "INVENTORY_SHORTFALL"
	EventTypePaymentSuccess     = "PAYMENT_SUCCESS"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	StoreID       string          `json:"store_id"`
	UserID        *string         `json:"user_id,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Total         int64           `json:"total"`
	Items         []OrderItemData `json:"items"`
}

// OrderPaidEvent published on the transition into paid
type OrderPaidEvent struct {
	BaseEvent
	OrderID       string        `json:"order_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Amount        int64         `json:"amount"`
	TxID          string        `json:"tx_id,omitempty"`
}

// OrderCancelledEvent published when an order is cancelled
type OrderCancelledEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	WasPaid bool   `json:"was_paid"`
}

// InventoryShortfallEvent tells operations that a paid line could not be decremented
type InventoryShortfallEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

// PaymentSuccessEvent consumed from the payment gateway adapter
type PaymentSuccessEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	TxID    string `json:"tx_id"`
}

// PaymentFailedEvent consumed from the payment gateway adapter
type PaymentFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}
