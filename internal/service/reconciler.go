package service

import (
	"context"
	"fmt"
	"strings"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Reconciler links guest orders to a user account by email
type Reconciler struct {
	linker GuestLinker
	logger *zap.Logger
}

// NewReconciler creates a new guest/user reconciler
func NewReconciler(linker GuestLinker) *Reconciler {
	return &Reconciler{linker: linker, logger: util.GetLogger()}
}

// LinkOrdersToUser attaches unlinked orders placed with email to userID,
// first by exact match then case-insensitively. Orders that already have a
// user are never touched, so repeated calls converge to zero.
func (r *Reconciler) LinkOrdersToUser(ctx context.Context, userID, email string) (int64, error) {
	email = strings.TrimSpace(email)
	if userID == "" || email == "" {
		return 0, nil
	}

	ctx, span := util.StartSpan(ctx, "Reconciler.LinkOrdersToUser")
	defer span.End()

	exact, err := r.linker.LinkGuestOrdersByEmail(ctx, userID, email, false)
	if err != nil {
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to link guest orders: %w", err)
	}
	folded, err := r.linker.LinkGuestOrdersByEmail(ctx, userID, strings.ToLower(email), true)
	if err != nil {
		util.RecordError(span, err)
		return exact, fmt.Errorf("failed to link guest orders: %w", err)
	}

	linked := exact + folded
	if linked > 0 {
		util.GuestOrdersLinkedTotal.Add(float64(linked))
		r.logger.Info("Linked guest orders to user",
			zap.String("user_id", userID),
			zap.Int64("linked", linked))
	}
	return linked, nil
}
