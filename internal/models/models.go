package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product as seen by checkout
type Product struct {
	ID          string          `db:"id" json:"id"`
	StoreID     string          `db:"store_id" json:"store_id"`
	Name        string          `db:"name" json:"name"`
	Price       decimal.Decimal `db:"price" json:"price"`
	ImageURL    *string         `db:"image_url" json:"image_url,omitempty"`
	IsPublished bool            `db:"is_published" json:"is_published"`
	IsArchived  bool            `db:"is_archived" json:"is_archived"`
	Variants    []Variant       `db:"-" json:"variants"`
}

// Variant is a sellable size/color/material combination of a product
type Variant struct {
	ID           string              `db:"id" json:"id"`
	ProductID    string              `db:"product_id" json:"product_id"`
	SizeID       string              `db:"size_id" json:"size_id"`
	SizeName     string              `db:"size_name" json:"size_name"`
	ColorID      string              `db:"color_id" json:"color_id"`
	ColorName    string              `db:"color_name" json:"color_name"`
	MaterialID   *string             `db:"material_id" json:"material_id,omitempty"`
	MaterialName *string             `db:"material_name" json:"material_name,omitempty"`
	Price        decimal.NullDecimal `db:"price" json:"price"`
	Inventory    int                 `db:"inventory" json:"inventory"`
	SKU          string              `db:"sku" json:"sku"`
}

// AggregateInventory sums stock across every variant of the product
func (p *Product) AggregateInventory() int {
	total := 0
	for _, v := range p.Variants {
		total += v.Inventory
	}
	return total
}

// Sellable reports whether the product can be checked out at all
func (p *Product) Sellable() bool {
	return p.IsPublished && !p.IsArchived
}

// CartLine is one client-supplied checkout line
type CartLine struct {
	ProductID  string  `json:"productId" binding:"required"`
	VariantID  *string `json:"variantId,omitempty"`
	SizeID     *string `json:"sizeId,omitempty"`
	ColorID    *string `json:"colorId,omitempty"`
	MaterialID *string `json:"materialId,omitempty"`
	Quantity   int     `json:"quantity" binding:"required,min=1"`
}

// CouponType distinguishes percentage from fixed-amount coupons
type CouponType string

const (
	CouponPercent CouponType = "PERCENT"
	CouponFixed   CouponType = "FIXED"
)

// Coupon is an already validated coupon as handed over by the coupon service
type Coupon struct {
	Code  string          `json:"code" binding:"required"`
	Value decimal.Decimal `json:"value"`
	Type  CouponType      `json:"type" binding:"required"`
}

// ShippingAddress is denormalized onto the order at checkout time
type ShippingAddress struct {
	FullName    string `json:"fullName"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	AddressLine string `json:"addressLine"`
	Ward        string `json:"ward"`
	District    string `json:"district"`
	City        string `json:"city"`
	Country     string `json:"country"`
}

// PaymentMethod identifies how an order is paid
type PaymentMethod string

const (
	PaymentCOD          PaymentMethod = "COD"
	PaymentCard         PaymentMethod = "CARD"
	PaymentWallet       PaymentMethod = "WALLET"
	PaymentBankRedirect PaymentMethod = "BANK_REDIRECT"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentCard, PaymentWallet, PaymentBankRedirect:
		return true
	}
	return false
}

// Online reports whether the method goes through an external provider
func (m PaymentMethod) Online() bool {
	return m.Valid() && m != PaymentCOD
}

// Shipping methods
const (
	ShippingStandard = "standard"
	ShippingExpress  = "express"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// Order represents a persisted, priced customer order
type Order struct {
	ID                 string        `db:"id" json:"id"`
	StoreID            string        `db:"store_id" json:"store_id"`
	UserID             *string       `db:"user_id" json:"user_id,omitempty"`
	Email              string        `db:"email" json:"email"`
	Status             OrderStatus   `db:"status" json:"status"`
	IsPaid             bool          `db:"is_paid" json:"is_paid"`
	PaymentMethod      PaymentMethod `db:"payment_method" json:"payment_method"`
	ShippingMethod     string        `db:"shipping_method" json:"shipping_method"`
	Subtotal           int64         `db:"subtotal" json:"subtotal"`
	Tax                int64         `db:"tax" json:"tax"`
	Discount           int64         `db:"discount" json:"discount"`
	ShippingCost       int64         `db:"shipping_cost" json:"shipping_cost"`
	Total              int64         `db:"total" json:"total"`
	ShippingName       string        `db:"shipping_name" json:"shipping_name"`
	ShippingPhone      string        `db:"shipping_phone" json:"shipping_phone"`
	ShippingAddress    string        `db:"shipping_address" json:"shipping_address"`
	ShippingWard       string        `db:"shipping_ward" json:"shipping_ward"`
	ShippingDistrict   string        `db:"shipping_district" json:"shipping_district"`
	ShippingCity       string        `db:"shipping_city" json:"shipping_city"`
	ShippingCountry    string        `db:"shipping_country" json:"shipping_country"`
	CouponCode         *string       `db:"coupon_code" json:"coupon_code,omitempty"`
	CustomerNote       *string       `db:"customer_note" json:"customer_note,omitempty"`
	TransactionID      *string       `db:"transaction_id" json:"transaction_id,omitempty"`
	InventoryAdjusted  bool          `db:"inventory_adjusted" json:"-"`
	InventoryRestocked bool          `db:"inventory_restocked" json:"-"`
	PaidAt             *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt        *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// OrderItem is a point-in-time snapshot of one purchased line
type OrderItem struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      string          `db:"order_id" json:"order_id"`
	ProductID    string          `db:"product_id" json:"product_id"`
	ProductName  string          `db:"product_name" json:"product_name"`
	ImageURL     *string         `db:"image_url" json:"image_url,omitempty"`
	VariantID    *string         `db:"variant_id" json:"-"`
	SizeID       *string         `db:"size_id" json:"-"`
	SizeName     *string         `db:"size_name" json:"size,omitempty"`
	ColorID      *string         `db:"color_id" json:"-"`
	ColorName    *string         `db:"color_name" json:"color,omitempty"`
	MaterialID   *string         `db:"material_id" json:"-"`
	MaterialName *string         `db:"material_name" json:"material,omitempty"`
	ResolvedBy   Resolution      `db:"resolved_by" json:"-"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity     int             `db:"quantity" json:"quantity"`
	LineTotal    int64           `db:"line_total" json:"line_total"`
}

// VariantSelector returns the live-variant lookup key of a precisely resolved item.
// ok is false for aggregate-fallback items.
func (i *OrderItem) VariantSelector() (sel VariantSelector, ok bool) {
	if i.SizeID == nil || i.ColorID == nil {
		return VariantSelector{}, false
	}
	return VariantSelector{
		ProductID:  i.ProductID,
		SizeID:     *i.SizeID,
		ColorID:    *i.ColorID,
		MaterialID: i.MaterialID,
	}, true
}

// VariantSelector identifies a live variant by its attribute tuple
type VariantSelector struct {
	ProductID  string
	SizeID     string
	ColorID    string
	MaterialID *string
}

// Resolution records how a cart line was matched to stock
type Resolution string

const (
	ResolvedByExplicitVariant   Resolution = "EXPLICIT_VARIANT"
	ResolvedBySizeColorMaterial Resolution = "SIZE_COLOR_MATERIAL"
	ResolvedByAggregateFallback Resolution = "AGGREGATE_FALLBACK"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
