package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/mkorolev/storefront/internal/domain"
)

// MergeGuestCartIntoUser folds a guest cart into the user's cart after login.
// Line quantities are summed per product, then capped at live availability;
// every capped line is reported as a MergeAdjustment so the caller can tell
// the user what was trimmed. The guest cart and its token are destroyed in
// the same transaction, which makes a replayed merge with the same token a
// no-op.
func (s *CartService) MergeGuestCartIntoUser(ctx context.Context, guestToken string, userID int64) (*domain.MergeResult, error) {
	if userID == 0 {
		return nil, domain.ErrNotAuthenticated
	}
	result := &domain.MergeResult{}
	if guestToken == "" {
		return result, nil
	}

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		// The cart row lock serializes merges for the same token. A replay
		// blocked here resumes after the winner commits, finds the cart
		// deleted and falls through to the no-op branch.
		guestCart, err := s.carts.LockCart(ctx, tx, domain.GuestOwner(guestToken))
		if err != nil {
			return err
		}
		if guestCart == nil {
			return nil
		}

		guestItems, err := s.carts.ListItems(ctx, tx, guestCart.ID)
		if err != nil {
			return err
		}
		if len(guestItems) == 0 {
			return s.carts.Clear(ctx, tx, guestCart.ID)
		}

		// ListItems orders by product_id, so the lock set is acquired in
		// ascending order here and in every other cart mutation.
		ids := make([]int64, 0, len(guestItems))
		for _, it := range guestItems {
			ids = append(ids, it.ProductID)
		}
		products, err := s.stock.LockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		userCart, err := s.carts.ResolveCart(ctx, tx, domain.UserOwner(userID), true)
		if err != nil {
			return err
		}

		for _, it := range guestItems {
			product, ok := products[it.ProductID]
			if !ok {
				// Product deleted since the guest added it; drop the line.
				continue
			}

			userQty, err := s.carts.GetItemQuantity(ctx, tx, userCart.ID, it.ProductID)
			if err != nil {
				return err
			}

			addable := it.Quantity
			if userQty+it.Quantity > product.Quantity {
				addable = product.Quantity - userQty
				if addable < 0 {
					addable = 0
				}
				result.Adjustments = append(result.Adjustments, domain.MergeAdjustment{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   it.Quantity,
					Merged:      addable,
				})
			}
			if addable == 0 {
				continue
			}

			if _, err := s.carts.UpsertItem(ctx, tx, userCart.ID, it.ProductID, addable, product.Price); err != nil {
				return err
			}
		}

		if err := s.carts.Clear(ctx, tx, guestCart.ID); err != nil {
			return err
		}
		result.Merged = true
		return nil
	})

	s.metrics.ObserveCartOp("merge", resultLabel(err))
	if err != nil {
		return nil, err
	}

	if result.Merged {
		s.logger.Info("guest cart merged",
			zap.Int64("user_id", userID),
			zap.Int("adjustments", len(result.Adjustments)))
		s.invalidate(domain.GuestOwner(guestToken))
		s.invalidate(domain.UserOwner(userID))
	}
	return result, nil
}
