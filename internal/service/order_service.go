package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkorolev/storefront/internal/domain"
	"github.com/mkorolev/storefront/internal/repository"
)

const eventOrderStatusChanged = "order.status_changed"

// OrderService serves order reads for customers and the admin lifecycle
// operations: status transitions, line edits and deletion with optional stock
// return.
type OrderService struct {
	tx     repository.TxManager
	orders repository.OrderRepository
	stock  repository.StockLedger
	outbox repository.OutboxRepository
	logger *zap.Logger
}

func NewOrderService(
	tx repository.TxManager,
	orders repository.OrderRepository,
	stock repository.StockLedger,
	outbox repository.OutboxRepository,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		tx:     tx,
		orders: orders,
		stock:  stock,
		outbox: outbox,
		logger: logger,
	}
}

func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

// GetUserOrder returns the order only if it belongs to the given user.
func (s *OrderService) GetUserOrder(ctx context.Context, id uuid.UUID, userID int64) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	return s.orders.ListUserOrders(ctx, userID)
}

func (s *OrderService) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return s.orders.ListOrders(ctx)
}

// UpdateStatus moves an order along the fulfillment ladder. Cancelling a
// not-yet-terminal order returns every line's quantity to the stock ledger in
// the same transaction.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.OrderStatus) (*domain.Order, error) {
	var updated *domain.Order

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := s.orders.GetOrderForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(next) {
			return domain.ErrInvalidStatusTransition
		}

		if next == domain.OrderStatusCancelled {
			if err := s.returnStock(ctx, tx, order); err != nil {
				return err
			}
		}

		if err := s.orders.UpdateStatus(ctx, tx, id, next); err != nil {
			return err
		}
		order.Status = next
		updated = order

		return s.outbox.InsertEvent(ctx, tx, order.ID.String(), eventOrderStatusChanged, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status updated",
		zap.String("order_id", id.String()),
		zap.String("status", string(next)))
	return updated, nil
}

// UpdateItems replaces line quantities on a non-terminal order. A zero
// quantity removes the line; the total is recomputed from the surviving
// lines' snapshot prices.
func (s *OrderService) UpdateItems(ctx context.Context, id uuid.UUID, quantities map[int64]int) (*domain.Order, error) {
	var updated *domain.Order

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := s.orders.GetOrderForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return domain.ErrInvalidStatusTransition
		}

		kept := make([]domain.OrderItem, 0, len(order.Items))
		for _, it := range order.Items {
			q, ok := quantities[it.ProductID]
			if !ok {
				kept = append(kept, it)
				continue
			}
			if q < 0 {
				return domain.ErrInvalidQuantity
			}
			if q == 0 {
				continue
			}
			it.Quantity = q
			kept = append(kept, it)
		}
		if len(kept) == 0 {
			return domain.ErrEmptyCart
		}

		order.Items = kept
		order.RecomputeTotal()
		updated = order

		return s.orders.ReplaceItems(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteOrder removes an order. When returnStock is set, quantities of a
// not-yet-cancelled order go back to the ledger first; cancelled orders
// already returned theirs.
func (s *OrderService) DeleteOrder(ctx context.Context, id uuid.UUID, returnStock bool) error {
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := s.orders.GetOrderForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		if returnStock && order.Status != domain.OrderStatusCancelled {
			if err := s.returnStock(ctx, tx, order); err != nil {
				return err
			}
		}

		return s.orders.DeleteOrder(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("order deleted", zap.String("order_id", id.String()))
	return nil
}

// returnStock puts every line's quantity back on the ledger. Lines whose
// product has since been deleted are skipped.
func (s *OrderService) returnStock(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	for _, it := range order.Items {
		err := s.stock.Release(ctx, tx, it.ProductID, it.Quantity)
		if err != nil && !errors.Is(err, domain.ErrProductNotFound) {
			return err
		}
	}
	return nil
}
