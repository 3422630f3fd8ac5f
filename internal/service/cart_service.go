package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mkorolev/storefront/internal/cache"
	"github.com/mkorolev/storefront/internal/domain"
	"github.com/mkorolev/storefront/internal/metrics"
	"github.com/mkorolev/storefront/internal/repository"
)

// CartService orchestrates cart mutations against the cart store and the
// stock ledger.
//
// Stock accounting follows the deferred model: cart mutations never change
// products.quantity. Availability is checked against live stock while holding
// the product row lock, which serializes concurrent check-then-upsert
// sequences on the same product; the authoritative reservation happens at
// checkout.
type CartService struct {
	tx      repository.TxManager
	carts   repository.CartRepository
	stock   repository.StockLedger
	cache   cache.CartCache
	logger  *zap.Logger
	metrics *metrics.Metrics
	sfg     singleflight.Group

	// epochs orders cache fills against invalidations per owner, so a view
	// built before a mutation committed never survives in the cache.
	mu     sync.Mutex
	epochs map[string]uint64
}

func NewCartService(
	tx repository.TxManager,
	carts repository.CartRepository,
	stock repository.StockLedger,
	cartCache cache.CartCache,
	logger *zap.Logger,
	m *metrics.Metrics,
) *CartService {
	if cartCache == nil {
		cartCache = cache.NopCache{}
	}
	return &CartService{
		tx:      tx,
		carts:   carts,
		stock:   stock,
		cache:   cartCache,
		logger:  logger,
		metrics: m,
		epochs:  make(map[string]uint64),
	}
}

// GetCart returns the fully-materialized cart view with a total computed from
// live prices. An identity without a cart gets an empty view, not an error.
func (s *CartService) GetCart(ctx context.Context, owner domain.CartOwner) (*domain.CartView, error) {
	// Singleflight collapses concurrent cache misses for the same owner.
	v, err, _ := s.sfg.Do(owner.Key(), func() (interface{}, error) {
		view, err := s.cache.Get(ctx, owner.Key())
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cart cache get failed", zap.Error(err))
		}

		epoch := s.cacheEpoch(owner.Key())

		cart, err := s.carts.GetCart(ctx, owner)
		if err != nil {
			return nil, err
		}
		if cart == nil {
			return domain.NewCartView(nil), nil
		}

		items, err := s.carts.ListItemsDetailed(ctx, cart.ID)
		if err != nil {
			return nil, err
		}
		view = domain.NewCartView(items)
		s.fillCache(owner.Key(), epoch, view)

		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CartView), nil
}

// AddProduct adds quantity units of a product to the owner's cart, creating
// the cart lazily. It fails with *domain.InsufficientStockError when the
// combined cart quantity would exceed live availability.
func (s *CartService) AddProduct(ctx context.Context, owner domain.CartOwner, productID int64, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		products, err := s.stock.LockProducts(ctx, tx, []int64{productID})
		if err != nil {
			return err
		}
		product, ok := products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}

		cart, err := s.carts.ResolveCart(ctx, tx, owner, true)
		if err != nil {
			return err
		}

		current, err := s.carts.GetItemQuantity(ctx, tx, cart.ID, productID)
		if err != nil {
			return err
		}

		if current+quantity > product.Quantity {
			available := product.Quantity - current
			if available < 0 {
				available = 0
			}
			return &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   quantity,
				Available:   available,
			}
		}

		_, err = s.carts.UpsertItem(ctx, tx, cart.ID, productID, quantity, product.Price)
		return err
	})

	s.metrics.ObserveCartOp("add", resultLabel(err))
	if err != nil {
		return err
	}

	s.logger.Info("product added to cart",
		zap.String("owner", owner.Key()),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))
	s.invalidate(owner)
	return nil
}

// UpdateQuantity sets the absolute quantity of a cart line. A new quantity of
// zero (or less) is equivalent to RemoveProduct.
func (s *CartService) UpdateQuantity(ctx context.Context, owner domain.CartOwner, productID int64, newQuantity int) error {
	if newQuantity <= 0 {
		return s.RemoveProduct(ctx, owner, productID)
	}

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		products, err := s.stock.LockProducts(ctx, tx, []int64{productID})
		if err != nil {
			return err
		}
		product, ok := products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}

		cart, err := s.carts.ResolveCart(ctx, tx, owner, false)
		if err != nil {
			return err
		}
		if cart == nil {
			return domain.ErrCartItemNotFound
		}

		current, err := s.carts.GetItemQuantity(ctx, tx, cart.ID, productID)
		if err != nil {
			return err
		}
		if current == 0 {
			return domain.ErrCartItemNotFound
		}

		if newQuantity > product.Quantity {
			return &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   newQuantity,
				Available:   product.Quantity,
			}
		}

		return s.carts.SetItemQuantity(ctx, tx, cart.ID, productID, newQuantity)
	})

	s.metrics.ObserveCartOp("update", resultLabel(err))
	if err != nil {
		return err
	}

	s.invalidate(owner)
	return nil
}

func (s *CartService) RemoveProduct(ctx context.Context, owner domain.CartOwner, productID int64) error {
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		cart, err := s.carts.ResolveCart(ctx, tx, owner, false)
		if err != nil {
			return err
		}
		if cart == nil {
			return domain.ErrCartItemNotFound
		}
		return s.carts.RemoveItem(ctx, tx, cart.ID, productID)
	})

	s.metrics.ObserveCartOp("remove", resultLabel(err))
	if err != nil {
		return err
	}

	s.invalidate(owner)
	return nil
}

// ClearCart deletes all line items and the cart record. Clearing an absent
// cart is a no-op.
func (s *CartService) ClearCart(ctx context.Context, owner domain.CartOwner) error {
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		cart, err := s.carts.ResolveCart(ctx, tx, owner, false)
		if err != nil {
			return err
		}
		if cart == nil {
			return nil
		}
		return s.carts.Clear(ctx, tx, cart.ID)
	})

	s.metrics.ObserveCartOp("clear", resultLabel(err))
	if err != nil {
		return err
	}

	s.invalidate(owner)
	return nil
}

func (s *CartService) invalidate(owner domain.CartOwner) {
	s.mu.Lock()
	s.epochs[owner.Key()]++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, owner.Key()); err != nil {
		s.logger.Warn("cart cache invalidate failed",
			zap.String("owner", owner.Key()), zap.Error(err))
	}
}

func (s *CartService) cacheEpoch(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[key]
}

// fillCache writes the view through and re-deletes it when an invalidation
// raced the fill. invalidate bumps the epoch before deleting, so one of the
// two deletes always lands after this Set.
func (s *CartService) fillCache(key string, epoch uint64, view *domain.CartView) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, key, view); err != nil {
		s.logger.Warn("cart cache set failed", zap.Error(err))
		return
	}
	if s.cacheEpoch(key) != epoch {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("cart cache invalidate failed",
				zap.String("owner", key), zap.Error(err))
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsUserFacing(err):
		return "rejected"
	default:
		return "error"
	}
}
