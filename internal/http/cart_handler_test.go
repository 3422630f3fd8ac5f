package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkorolev/storefront/internal/domain"
)

type cartMock struct {
	view       *domain.CartView
	merge      *domain.MergeResult
	err        error
	owners     []domain.CartOwner
	mergeToken string
}

func (c *cartMock) record(owner domain.CartOwner) {
	c.owners = append(c.owners, owner)
}

func (c *cartMock) GetCart(_ context.Context, owner domain.CartOwner) (*domain.CartView, error) {
	c.record(owner)
	if c.err != nil {
		return nil, c.err
	}
	return c.view, nil
}

func (c *cartMock) AddProduct(_ context.Context, owner domain.CartOwner, _ int64, _ int) error {
	c.record(owner)
	return c.err
}

func (c *cartMock) UpdateQuantity(_ context.Context, owner domain.CartOwner, _ int64, _ int) error {
	c.record(owner)
	return c.err
}

func (c *cartMock) RemoveProduct(_ context.Context, owner domain.CartOwner, _ int64) error {
	c.record(owner)
	return c.err
}

func (c *cartMock) ClearCart(_ context.Context, owner domain.CartOwner) error {
	c.record(owner)
	return c.err
}

func (c *cartMock) MergeGuestCartIntoUser(_ context.Context, token string, userID int64) (*domain.MergeResult, error) {
	c.record(domain.UserOwner(userID))
	c.mergeToken = token
	if c.err != nil {
		return nil, c.err
	}
	return c.merge, nil
}

func newCartRouter(mock *cartMock) http.Handler {
	handler := NewCartHandler(mock, 5*time.Second)
	r := chi.NewRouter()
	r.Use(AuthMiddleware)
	r.Get("/cart", handler.GetCart)
	r.Delete("/cart", handler.ClearCart)
	r.Post("/cart/items", handler.AddItem)
	r.Put("/cart/items/{product_id}", handler.UpdateQuantity)
	r.Delete("/cart/items/{product_id}", handler.RemoveItem)
	r.Post("/cart/merge", handler.MergeCart)
	return r
}

func sampleView() *domain.CartView {
	return domain.NewCartView([]domain.CartViewItem{
		{ProductID: 1, ProductName: "widget", Quantity: 2, Price: decimal.RequireFromString("25.00")},
	})
}

func TestGetCartAsUser(t *testing.T) {
	mock := &cartMock{view: sampleView()}
	router := newCartRouter(mock)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, mock.owners, 1)
	assert.Equal(t, domain.UserOwner(42), mock.owners[0])

	var view domain.CartView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Len(t, view.Items, 1)
}

func TestGetCartAsGuestMintsCookie(t *testing.T) {
	mock := &cartMock{view: sampleView()}
	router := newCartRouter(mock)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, mock.owners, 1)
	assert.True(t, mock.owners[0].IsGuest())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, guestTokenCookie, cookies[0].Name)
	assert.Equal(t, mock.owners[0].GuestToken, cookies[0].Value)
}

func TestGetCartReusesGuestCookie(t *testing.T) {
	mock := &cartMock{view: sampleView()}
	router := newCartRouter(mock)

	const token = "e4c0e1a7-1f42-4f8c-a6a5-2f3f2b9d8c01"
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: guestTokenCookie, Value: token})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, mock.owners, 1)
	assert.Equal(t, domain.GuestOwner(token), mock.owners[0])
	// No new cookie minted.
	assert.Empty(t, rec.Result().Cookies())
}

func TestAddItem(t *testing.T) {
	mock := &cartMock{view: sampleView()}
	router := newCartRouter(mock)

	body, _ := json.Marshal(AddItemRequestDTO{ProductID: 1, Quantity: 2})
	req := httptest.NewRequest(http.MethodPost, "/cart/items", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAddItemValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"zero quantity", `{"product_id":1,"quantity":0}`},
		{"excessive quantity", `{"product_id":1,"quantity":100}`},
		{"missing product", `{"quantity":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := &cartMock{view: sampleView()}
			router := newCartRouter(mock)

			req := httptest.NewRequest(http.MethodPost, "/cart/items", bytes.NewReader([]byte(tc.body)))
			req.Header.Set("X-User-ID", "42")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, mock.owners)
		})
	}
}

func TestAddItemInsufficientStock(t *testing.T) {
	mock := &cartMock{err: &domain.InsufficientStockError{
		ProductID:   1,
		ProductName: "widget",
		Requested:   5,
		Available:   2,
	}}
	router := newCartRouter(mock)

	body := []byte(`{"product_id":1,"quantity":5}`)
	req := httptest.NewRequest(http.MethodPost, "/cart/items", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_stock", resp.Code)
	details := resp.Details.(map[string]any)
	assert.Equal(t, float64(2), details["available"])
}

func TestUpdateQuantityBadProductID(t *testing.T) {
	router := newCartRouter(&cartMock{view: sampleView()})

	req := httptest.NewRequest(http.MethodPut, "/cart/items/abc", bytes.NewReader([]byte(`{"quantity":2}`)))
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveItemNotFound(t *testing.T) {
	router := newCartRouter(&cartMock{err: domain.ErrCartItemNotFound})

	req := httptest.NewRequest(http.MethodDelete, "/cart/items/1", nil)
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMergeCart(t *testing.T) {
	mock := &cartMock{merge: &domain.MergeResult{
		Merged: true,
		Adjustments: []domain.MergeAdjustment{
			{ProductID: 1, ProductName: "widget", Requested: 4, Merged: 2},
		},
	}}
	router := newCartRouter(mock)

	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	req.Header.Set("X-User-ID", "42")
	req.AddCookie(&http.Cookie{Name: guestTokenCookie, Value: "e4c0e1a7-1f42-4f8c-a6a5-2f3f2b9d8c01"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.MergeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Merged)
	require.Len(t, result.Adjustments, 1)
	assert.Equal(t, 2, result.Adjustments[0].Merged)

	// Guest cookie expired after a successful merge.
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, guestTokenCookie, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestMergeCartIgnoresMalformedGuestCookie(t *testing.T) {
	mock := &cartMock{merge: &domain.MergeResult{}}
	router := newCartRouter(mock)

	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	req.Header.Set("X-User-ID", "42")
	req.AddCookie(&http.Cookie{Name: guestTokenCookie, Value: "not-a-uuid"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// A garbage cookie means no guest cart; the raw value must never reach
	// the service, where it would hit a uuid column.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, mock.mergeToken)

	var result domain.MergeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Merged)
}

func TestMergeCartRequiresUser(t *testing.T) {
	router := newCartRouter(&cartMock{})

	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
