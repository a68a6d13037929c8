package service

import (
	"checkout-service/config"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the monetary fields of an order in whole currency units
type Totals struct {
	Subtotal     int64 `json:"subtotal"`
	Tax          int64 `json:"tax"`
	Discount     int64 `json:"discount"`
	ShippingCost int64 `json:"shippingCost"`
	Total        int64 `json:"total"`
}

// PricingEngine computes order totals from resolved lines.
// It holds only configuration, so Price is a pure function of its arguments.
type PricingEngine struct {
	taxRate               decimal.Decimal
	freeShippingThreshold int64
	standardRate          int64
	expressRate           int64
}

// NewPricingEngine creates a pricing engine from the flat pricing rules
func NewPricingEngine(cfg config.PricingConfig) *PricingEngine {
	return &PricingEngine{
		taxRate:               cfg.TaxRate,
		freeShippingThreshold: cfg.FreeShippingThreshold,
		standardRate:          cfg.StandardShippingRate,
		expressRate:           cfg.ExpressShippingRate,
	}
}

// Price computes subtotal, tax, shipping, discount and total.
// The discount never exceeds subtotal plus tax, so shipping is always charged.
func (e *PricingEngine) Price(lines []ResolvedLine, coupon *models.Coupon, shippingMethod string) (Totals, error) {
	sum := decimal.Zero
	for i := range lines {
		sum = sum.Add(lines[i].LineTotal())
	}
	subtotal := sum.Round(0)
	tax := subtotal.Mul(e.taxRate).Round(0)

	discount, err := couponDiscount(coupon, subtotal, tax)
	if err != nil {
		return Totals{}, err
	}

	shipping := e.shippingCost(subtotal.IntPart(), shippingMethod)

	total := subtotal.Add(tax).Add(decimal.NewFromInt(shipping)).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal:     subtotal.IntPart(),
		Tax:          tax.IntPart(),
		Discount:     discount.IntPart(),
		ShippingCost: shipping,
		Total:        total.IntPart(),
	}, nil
}

func (e *PricingEngine) shippingCost(subtotal int64, method string) int64 {
	switch {
	case subtotal >= e.freeShippingThreshold:
		return 0
	case method == models.ShippingExpress:
		return e.expressRate
	default:
		return e.standardRate
	}
}

func couponDiscount(coupon *models.Coupon, subtotal, tax decimal.Decimal) (decimal.Decimal, error) {
	if coupon == nil {
		return decimal.Zero, nil
	}
	if coupon.Value.IsNegative() {
		return decimal.Zero, models.Validationf("coupon %s has a negative value", coupon.Code)
	}

	var discount decimal.Decimal
	switch coupon.Type {
	case models.CouponPercent:
		if coupon.Value.GreaterThan(hundred) {
			return decimal.Zero, models.Validationf("coupon %s exceeds 100 percent", coupon.Code)
		}
		discount = subtotal.Mul(coupon.Value).Div(hundred)
	case models.CouponFixed:
		discount = coupon.Value
	default:
		return decimal.Zero, models.Validationf("coupon %s has unknown type %q", coupon.Code, coupon.Type)
	}

	ceiling := subtotal.Add(tax)
	discount = decimal.Min(discount.Round(0), ceiling)
	return decimal.Max(discount, decimal.Zero), nil
}
