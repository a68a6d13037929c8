package service

import (
	"fmt"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// ResolvedLine is a cart line matched against live catalog state.
// Variant is nil when the line was resolved by aggregate fallback.
type ResolvedLine struct {
	Product    *models.Product
	Variant    *models.Variant
	Resolution models.Resolution
	UnitPrice  decimal.Decimal
	Quantity   int
}

// LineTotal is the unrounded unit price times quantity
func (l *ResolvedLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ResolveLine matches line to a variant of product and checks stock and price.
// It has no side effects.
func ResolveLine(product *models.Product, line models.CartLine) (*ResolvedLine, error) {
	if line.Quantity <= 0 {
		return nil, models.Validationf("quantity for %q must be positive", product.Name)
	}
	if !product.Sellable() {
		return nil, models.NotFoundf("%q is no longer available", product.Name)
	}

	resolved := &ResolvedLine{Product: product, Quantity: line.Quantity}

	switch {
	case line.VariantID != nil && *line.VariantID != "":
		v := findVariantByID(product, *line.VariantID)
		if v == nil {
			return nil, variantNotFound(product)
		}
		resolved.Variant = v
		resolved.Resolution = models.ResolvedByExplicitVariant

	case line.SizeID != nil && line.ColorID != nil:
		v := findVariantByAttributes(product, *line.SizeID, *line.ColorID, line.MaterialID)
		if v == nil {
			return nil, variantNotFound(product)
		}
		resolved.Variant = v
		resolved.Resolution = models.ResolvedBySizeColorMaterial

	default:
		resolved.Resolution = models.ResolvedByAggregateFallback
	}

	available := product.AggregateInventory()
	if resolved.Variant != nil {
		available = resolved.Variant.Inventory
	}
	if available < line.Quantity {
		return nil, &models.InsufficientStockError{
			ProductName: product.Name,
			Available:   available,
			Requested:   line.Quantity,
		}
	}

	price := product.Price
	if resolved.Variant != nil && resolved.Variant.Price.Valid {
		price = resolved.Variant.Price.Decimal
	}
	if price.IsNegative() {
		return nil, &models.Error{
			Kind:    models.ErrValidation,
			Message: fmt.Sprintf("%q has an invalid price", product.Name),
			Err:     models.ErrInvalidPrice,
		}
	}
	resolved.UnitPrice = price

	return resolved, nil
}

func findVariantByID(product *models.Product, id string) *models.Variant {
	for i := range product.Variants {
		if product.Variants[i].ID == id {
			return &product.Variants[i]
		}
	}
	return nil
}

// findVariantByAttributes returns the first variant in stored order matching the tuple.
// A nil materialID matches any material.
func findVariantByAttributes(product *models.Product, sizeID, colorID string, materialID *string) *models.Variant {
	for i := range product.Variants {
		v := &product.Variants[i]
		if v.SizeID != sizeID || v.ColorID != colorID {
			continue
		}
		if materialID != nil && *materialID != "" && (v.MaterialID == nil || *v.MaterialID != *materialID) {
			continue
		}
		return v
	}
	return nil
}

func variantNotFound(product *models.Product) error {
	return &models.Error{
		Kind:    models.ErrNotFound,
		Message: fmt.Sprintf("the selected option of %q is not available", product.Name),
		Err:     models.ErrVariantNotFound,
	}
}
