package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

// variantMatch matches a variant by its attribute tuple starting at placeholder $n
func variantMatch(n int) string {
	return fmt.Sprintf(
		"product_id = $%d AND size_id = $%d AND color_id = $%d AND COALESCE(material_id, '') = COALESCE($%d, '')",
		n, n+1, n+2, n+3)
}

// ClaimInventoryAdjustment sets the order's inventory_adjusted flag.
// It returns true only for the first caller after the order became paid,
// and never for an order that was cancelled before stock was taken.
func (s *Store) ClaimInventoryAdjustment(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET inventory_adjusted = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_paid = TRUE AND inventory_adjusted = FALSE AND status <> 'CANCELLED'`, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimInventoryRestock sets inventory_restocked for an order whose stock was taken
func (s *Store) ClaimInventoryRestock(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET inventory_restocked = TRUE, updated_at = NOW()
		WHERE id = $1 AND inventory_adjusted = TRUE AND inventory_restocked = FALSE`, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DecrementVariantStock takes qty units from the variant only if that many remain
func (s *Store) DecrementVariantStock(ctx context.Context, sel models.VariantSelector, qty int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE product_variants
		SET inventory = inventory - $1, updated_at = NOW()
		WHERE `+variantMatch(2)+` AND inventory >= $1`,
		qty, sel.ProductID, sel.SizeID, sel.ColorID, sel.MaterialID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var available int
	err = s.db.GetContext(ctx, &available, `
		SELECT inventory FROM product_variants
		WHERE `+variantMatch(1),
		sel.ProductID, sel.SizeID, sel.ColorID, sel.MaterialID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrVariantNotFound
	}
	if err != nil {
		return err
	}
	return &models.InsufficientStockError{ProductName: sel.ProductID, Available: available, Requested: qty}
}

// IncrementVariantStock returns qty units to the variant
func (s *Store) IncrementVariantStock(ctx context.Context, sel models.VariantSelector, qty int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE product_variants
		SET inventory = inventory + $1, updated_at = NOW()
		WHERE `+variantMatch(2),
		qty, sel.ProductID, sel.SizeID, sel.ColorID, sel.MaterialID)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrVariantNotFound
	}
	return nil
}
