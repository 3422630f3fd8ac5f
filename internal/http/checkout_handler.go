package http

import (
	"context"
	"net/http"
	"time"

	"github.com/mkorolev/storefront/internal/domain"
)

type CheckoutUseCase interface {
	Checkout(ctx context.Context, userID int64) (*domain.Order, error)
}

type CheckoutHandler struct {
	checkout CheckoutUseCase
	timeout  time.Duration
}

func NewCheckoutHandler(checkout CheckoutUseCase, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, timeout: timeout}
}

func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	order, err := h.checkout.Checkout(ctx, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}
