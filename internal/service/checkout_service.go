package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkorolev/storefront/internal/cache"
	"github.com/mkorolev/storefront/internal/domain"
	"github.com/mkorolev/storefront/internal/metrics"
	"github.com/mkorolev/storefront/internal/repository"
)

const eventOrderCreated = "order.created"

// CheckoutFailedError wraps an unexpected infrastructure failure during
// checkout. User-facing rejections (empty cart, insufficient stock) are never
// wrapped; they pass through as their own types.
type CheckoutFailedError struct {
	State CheckoutState
	Err   error
}

func (e *CheckoutFailedError) Error() string {
	return fmt.Sprintf("checkout failed in state %s: %v", e.State, e.Err)
}

func (e *CheckoutFailedError) Unwrap() error { return e.Err }

// CheckoutService converts a user cart into a persisted order. Validation,
// stock decrement and order persistence run inside a single transaction, so a
// failed checkout leaves the ledger and the cart untouched.
type CheckoutService struct {
	tx      repository.TxManager
	carts   repository.CartRepository
	stock   repository.StockLedger
	orders  repository.OrderRepository
	outbox  repository.OutboxRepository
	cache   cache.CartCache
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewCheckoutService(
	tx repository.TxManager,
	carts repository.CartRepository,
	stock repository.StockLedger,
	orders repository.OrderRepository,
	outbox repository.OutboxRepository,
	cartCache cache.CartCache,
	logger *zap.Logger,
	m *metrics.Metrics,
) *CheckoutService {
	if cartCache == nil {
		cartCache = cache.NopCache{}
	}
	return &CheckoutService{
		tx:      tx,
		carts:   carts,
		stock:   stock,
		orders:  orders,
		outbox:  outbox,
		cache:   cartCache,
		logger:  logger,
		metrics: m,
	}
}

// Checkout places an order for everything in the user's cart.
//
// All cart lines are re-validated against live stock under row locks before
// any decrement happens; a single short line aborts the whole attempt with
// *domain.InsufficientStockError and no order is created. On success the cart
// is cleared in a separate transaction, and a clear failure is logged but
// never propagated: the committed order stands.
func (s *CheckoutService) Checkout(ctx context.Context, userID int64) (*domain.Order, error) {
	start := time.Now()
	order, err := s.checkout(ctx, userID)
	s.metrics.ObserveCheckout(resultLabel(err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if clearErr := s.clearCartAfterCommit(userID); clearErr != nil {
		s.logger.Error("post-checkout cart clear failed, order stands",
			zap.String("order_number", order.OrderNumber),
			zap.Int64("user_id", userID),
			zap.Error(clearErr))
	}

	s.logger.Info("checkout committed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", userID),
		zap.String("total", order.TotalAmount.String()),
		zap.Int("items", len(order.Items)))
	return order, nil
}

func (s *CheckoutService) checkout(ctx context.Context, userID int64) (*domain.Order, error) {
	if userID == 0 {
		return nil, domain.ErrNotAuthenticated
	}

	attempt := newCheckoutAttempt()
	var order *domain.Order

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		cart, err := s.carts.ResolveCart(ctx, tx, domain.UserOwner(userID), false)
		if err != nil {
			return err
		}
		if cart == nil {
			return domain.ErrEmptyCart
		}

		items, err := s.carts.ListItems(ctx, tx, cart.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return domain.ErrEmptyCart
		}

		ids := make([]int64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ProductID)
		}
		products, err := s.stock.LockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		for _, it := range items {
			product, ok := products[it.ProductID]
			if !ok {
				return domain.ErrProductNotFound
			}
			if it.Quantity > product.Quantity {
				return &domain.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   it.Quantity,
					Available:   product.Quantity,
				}
			}
		}
		attempt.transition(StateReserving)

		total := decimal.Zero
		orderItems := make([]domain.OrderItem, 0, len(items))
		for _, it := range items {
			product := products[it.ProductID]
			if err := s.stock.Reserve(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
			orderItems = append(orderItems, domain.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				Price:       product.Price,
				Quantity:    it.Quantity,
			})
			total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		attempt.transition(StatePersisting)

		order = &domain.Order{
			ID:          uuid.New(),
			UserID:      userID,
			OrderNumber: newOrderNumber(),
			TotalAmount: total,
			Status:      domain.OrderStatusPending,
			Items:       orderItems,
		}
		if err := s.orders.CreateOrder(ctx, tx, order); err != nil {
			return err
		}

		if err := s.outbox.InsertEvent(ctx, tx, order.ID.String(), eventOrderCreated, order); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		failedIn := attempt.state
		attempt.transition(StateAborted)
		if domain.IsUserFacing(err) {
			return nil, err
		}
		return nil, &CheckoutFailedError{State: failedIn, Err: err}
	}

	// Committed only after WithinTx has actually committed.
	attempt.transition(StateCommitted)
	return order, nil
}

func (s *CheckoutService) clearCartAfterCommit(userID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		cart, err := s.carts.ResolveCart(ctx, tx, domain.UserOwner(userID), false)
		if err != nil {
			return err
		}
		if cart == nil {
			return nil
		}
		return s.carts.Clear(ctx, tx, cart.ID)
	})
	if err != nil {
		return err
	}

	if err := s.cache.Delete(ctx, domain.UserOwner(userID).Key()); err != nil {
		s.logger.Warn("cart cache invalidate failed after checkout",
			zap.Int64("user_id", userID), zap.Error(err))
	}
	return nil
}

// newOrderNumber generates a human-readable order number, unique under the
// orders.order_number constraint.
func newOrderNumber() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("ORD-%d-%s", time.Now().Unix(), hex.EncodeToString(buf))
}
