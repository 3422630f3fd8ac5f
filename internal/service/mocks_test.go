package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkorolev/storefront/internal/cache"
	"github.com/mkorolev/storefront/internal/domain"
	"github.com/mkorolev/storefront/internal/repository"
)

// mockTx runs the callback without a real transaction; the in-memory repos
// below ignore their tx argument. err fails before the callback runs,
// commitErr fails after it, like a commit that does not go through.
type mockTx struct {
	err       error
	commitErr error
}

func (m *mockTx) WithinTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	if m.err != nil {
		return m.err
	}
	if err := fn(nil); err != nil {
		return err
	}
	return m.commitErr
}

type mockStock struct {
	mu       sync.Mutex
	products map[int64]*domain.Product
}

func newMockStock(products ...*domain.Product) *mockStock {
	m := &mockStock{products: make(map[int64]*domain.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockStock) LockProducts(_ context.Context, _ *sql.Tx, ids []int64) (map[int64]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *mockStock) Reserve(_ context.Context, _ *sql.Tx, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.Quantity < quantity {
		return &domain.InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Requested:   quantity,
			Available:   p.Quantity,
		}
	}
	p.Quantity -= quantity
	return nil
}

func (m *mockStock) Release(_ context.Context, _ *sql.Tx, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Quantity += quantity
	return nil
}

func (m *mockStock) GetProduct(_ context.Context, productID int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return p, nil
}

func (m *mockStock) quantity(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].Quantity
}

type mockCartRepo struct {
	mu         sync.Mutex
	stock      *mockStock
	nextCartID int64
	carts      map[string]*domain.Cart
	items      map[int64]map[int64]*domain.CartItem
	locked     []string
	clearErr   error
}

func newMockCartRepo(stock *mockStock) *mockCartRepo {
	return &mockCartRepo{
		stock: stock,
		carts: make(map[string]*domain.Cart),
		items: make(map[int64]map[int64]*domain.CartItem),
	}
}

func (m *mockCartRepo) ResolveCart(_ context.Context, _ *sql.Tx, owner domain.CartOwner, createIfAbsent bool) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[owner.Key()]; ok {
		return c, nil
	}
	if !createIfAbsent {
		return nil, nil
	}
	m.nextCartID++
	c := &domain.Cart{ID: m.nextCartID, UserID: owner.UserID, GuestToken: owner.GuestToken}
	m.carts[owner.Key()] = c
	m.items[c.ID] = make(map[int64]*domain.CartItem)
	return c, nil
}

func (m *mockCartRepo) LockCart(_ context.Context, _ *sql.Tx, owner domain.CartOwner) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, owner.Key())
	if c, ok := m.carts[owner.Key()]; ok {
		return c, nil
	}
	return nil, nil
}

func (m *mockCartRepo) GetCart(_ context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[owner.Key()]; ok {
		return c, nil
	}
	return nil, nil
}

func (m *mockCartRepo) UpsertItem(_ context.Context, _ *sql.Tx, cartID, productID int64, delta int, priceAtAddition decimal.Decimal) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.lines(cartID)
	it, exists := lines[productID]
	next := delta
	if exists {
		next = it.Quantity + delta
	}
	if next <= 0 {
		delete(lines, productID)
		return 0, nil
	}
	if exists {
		it.Quantity = next
	} else {
		lines[productID] = &domain.CartItem{
			CartID:          cartID,
			ProductID:       productID,
			Quantity:        next,
			PriceAtAddition: priceAtAddition,
		}
	}
	return next, nil
}

func (m *mockCartRepo) SetItemQuantity(_ context.Context, _ *sql.Tx, cartID, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.lines(cartID)
	it, ok := lines[productID]
	if !ok {
		return domain.ErrCartItemNotFound
	}
	if quantity <= 0 {
		delete(lines, productID)
		return nil
	}
	it.Quantity = quantity
	return nil
}

func (m *mockCartRepo) GetItemQuantity(_ context.Context, _ *sql.Tx, cartID, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.lines(cartID)[productID]; ok {
		return it.Quantity, nil
	}
	return 0, nil
}

func (m *mockCartRepo) RemoveItem(_ context.Context, _ *sql.Tx, cartID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.lines(cartID)
	if _, ok := lines[productID]; !ok {
		return domain.ErrCartItemNotFound
	}
	delete(lines, productID)
	return nil
}

func (m *mockCartRepo) ListItems(_ context.Context, _ *sql.Tx, cartID int64) ([]domain.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CartItem
	for _, it := range m.lines(cartID) {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *mockCartRepo) ListItemsDetailed(_ context.Context, cartID int64) ([]domain.CartViewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CartViewItem
	for _, it := range m.lines(cartID) {
		p, ok := m.stock.products[it.ProductID]
		if !ok {
			continue
		}
		out = append(out, domain.CartViewItem{
			ProductID:       it.ProductID,
			ProductName:     p.Name,
			Quantity:        it.Quantity,
			Price:           p.Price,
			PriceAtAddition: it.PriceAtAddition,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *mockCartRepo) Clear(_ context.Context, _ *sql.Tx, cartID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.items, cartID)
	for key, c := range m.carts {
		if c.ID == cartID {
			delete(m.carts, key)
		}
	}
	return nil
}

func (m *mockCartRepo) lines(cartID int64) map[int64]*domain.CartItem {
	if m.items[cartID] == nil {
		m.items[cartID] = make(map[int64]*domain.CartItem)
	}
	return m.items[cartID]
}

func (m *mockCartRepo) itemQuantity(owner domain.CartOwner, productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[owner.Key()]
	if !ok {
		return 0
	}
	if it, ok := m.lines(c.ID)[productID]; ok {
		return it.Quantity
	}
	return 0
}

type mapCache struct {
	mu    sync.Mutex
	views map[string]*domain.CartView
}

func newMapCache() *mapCache {
	return &mapCache{views: make(map[string]*domain.CartView)}
}

func (m *mapCache) Get(_ context.Context, ownerKey string) (*domain.CartView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.views[ownerKey]; ok {
		return v, nil
	}
	return nil, cache.ErrCacheMiss
}

func (m *mapCache) Set(_ context.Context, ownerKey string, view *domain.CartView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[ownerKey] = view
	return nil
}

func (m *mapCache) Delete(_ context.Context, ownerKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, ownerKey)
	return nil
}

func (m *mapCache) has(ownerKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.views[ownerKey]
	return ok
}

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*domain.Order)}
}

func (m *mockOrderRepo) CreateOrder(_ context.Context, _ *sql.Tx, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	cp.Items = append([]domain.OrderItem(nil), order.Items...)
	m.orders[order.ID] = &cp
	return nil
}

func (m *mockOrderRepo) GetOrder(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (m *mockOrderRepo) GetOrderForUpdate(ctx context.Context, _ *sql.Tx, orderID uuid.UUID) (*domain.Order, error) {
	return m.GetOrder(ctx, orderID)
}

func (m *mockOrderRepo) ListUserOrders(_ context.Context, userID int64) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) ListOrders(_ context.Context) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, _ *sql.Tx, orderID uuid.UUID, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (m *mockOrderRepo) ReplaceItems(_ context.Context, _ *sql.Tx, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Items = append([]domain.OrderItem(nil), order.Items...)
	o.TotalAmount = order.TotalAmount
	return nil
}

func (m *mockOrderRepo) DeleteOrder(_ context.Context, _ *sql.Tx, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(m.orders, orderID)
	return nil
}

type mockOutbox struct {
	mu     sync.Mutex
	nextID int64
	events []*repository.OutboxEvent
}

func (m *mockOutbox) InsertEvent(_ context.Context, _ *sql.Tx, aggregateID, eventType string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.nextID++
	m.events = append(m.events, &repository.OutboxEvent{
		ID:          m.nextID,
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     data,
	})
	return nil
}

func (m *mockOutbox) GetUnprocessedEvents(_ context.Context, limit int) ([]*repository.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]*repository.OutboxEvent(nil), m.events...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockOutbox) MarkEventAsProcessed(_ context.Context, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.events {
		if e.ID == eventID {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockOutbox) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}
