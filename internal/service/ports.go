package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
)

// CatalogReader returns products with their variants and resolved attribute names
type CatalogReader interface {
	GetProductsWithVariants(ctx context.Context, ids []string) ([]models.Product, error)
}

// OrderRepository persists orders and their items
type OrderRepository interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error)
	MarkOrderPaid(ctx context.Context, orderID, txID string) (bool, error)
	SetTransactionID(ctx context.Context, orderID, txID string) error
	TransitionOrderStatus(ctx context.Context, orderID string, from []models.OrderStatus, to models.OrderStatus) (bool, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	ListStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// InventoryRepository guards and applies variant stock changes
type InventoryRepository interface {
	ClaimInventoryAdjustment(ctx context.Context, orderID string) (bool, error)
	ClaimInventoryRestock(ctx context.Context, orderID string) (bool, error)
	DecrementVariantStock(ctx context.Context, sel models.VariantSelector, qty int) error
	IncrementVariantStock(ctx context.Context, sel models.VariantSelector, qty int) error
}

// GuestLinker attaches guest orders to a user by email
type GuestLinker interface {
	LinkGuestOrdersByEmail(ctx context.Context, userID, email string, caseInsensitive bool) (int64, error)
}

// EventPublisher publishes order lifecycle events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishInventoryShortfall(ctx context.Context, event *models.InventoryShortfallEvent) error
}

// IdempotencyStore remembers checkout keys and serializes concurrent duplicates
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// ProviderRegistry resolves an online payment provider
type ProviderRegistry interface {
	Get(method models.PaymentMethod) (payment.Provider, error)
}
