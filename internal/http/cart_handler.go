package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkorolev/storefront/internal/domain"
)

// CartUseCase is the slice of the cart service the handlers need.
type CartUseCase interface {
	GetCart(ctx context.Context, owner domain.CartOwner) (*domain.CartView, error)
	AddProduct(ctx context.Context, owner domain.CartOwner, productID int64, quantity int) error
	UpdateQuantity(ctx context.Context, owner domain.CartOwner, productID int64, newQuantity int) error
	RemoveProduct(ctx context.Context, owner domain.CartOwner, productID int64) error
	ClearCart(ctx context.Context, owner domain.CartOwner) error
	MergeGuestCartIntoUser(ctx context.Context, guestToken string, userID int64) (*domain.MergeResult, error)
}

type CartHandler struct {
	cart    CartUseCase
	timeout time.Duration
}

func NewCartHandler(cart CartUseCase, timeout time.Duration) *CartHandler {
	return &CartHandler{cart: cart, timeout: timeout}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	view, err := h.cart.GetCart(ctx, owner)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	if err := h.cart.AddProduct(ctx, owner, req.ProductID, req.Quantity); err != nil {
		respondDomainError(w, err)
		return
	}

	view, err := h.cart.GetCart(ctx, owner)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity < 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	if err := h.cart.UpdateQuantity(ctx, owner, productID, req.Quantity); err != nil {
		respondDomainError(w, err)
		return
	}

	view, err := h.cart.GetCart(ctx, owner)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	if err := h.cart.RemoveProduct(ctx, owner, productID); err != nil {
		respondDomainError(w, err)
		return
	}

	view, err := h.cart.GetCart(ctx, owner)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	if err := h.cart.ClearCart(ctx, owner); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, domain.NewCartView(nil))
}

// MergeCart folds the guest cart referenced by the caller's cookie into their
// user cart. Called by the frontend right after login.
func (h *CartHandler) MergeCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	token := getGuestTokenFromContext(r.Context())
	result, err := h.cart.MergeGuestCartIntoUser(ctx, token, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if result.Merged {
		// The guest cart is gone; expire the cookie.
		http.SetCookie(w, &http.Cookie{
			Name:     guestTokenCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	respondJSON(w, http.StatusOK, result)
}

func productIDParam(r *http.Request) (int64, error) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		return 0, domain.ErrProductNotFound
	}
	return productID, nil
}
