package cache

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"

	"github.com/mkorolev/storefront/internal/domain"
)

// BreakerCache wraps a CartCache with a circuit breaker so a struggling
// redis degrades the cart to direct database reads instead of adding latency
// to every request. A cache miss is not a failure and never trips the breaker.
type BreakerCache struct {
	inner CartCache
	cb    *gobreaker.CircuitBreaker[*domain.CartView]
}

func NewBreakerCache(inner CartCache, settings gobreaker.Settings) *BreakerCache {
	if settings.Name == "" {
		settings.Name = "cart-cache"
	}
	isMiss := settings.IsSuccessful
	settings.IsSuccessful = func(err error) bool {
		if err == nil || errors.Is(err, ErrCacheMiss) {
			return true
		}
		if isMiss != nil {
			return isMiss(err)
		}
		return false
	}
	return &BreakerCache{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[*domain.CartView](settings),
	}
}

func (b *BreakerCache) Get(ctx context.Context, ownerKey string) (*domain.CartView, error) {
	return b.cb.Execute(func() (*domain.CartView, error) {
		return b.inner.Get(ctx, ownerKey)
	})
}

func (b *BreakerCache) Set(ctx context.Context, ownerKey string, view *domain.CartView) error {
	_, err := b.cb.Execute(func() (*domain.CartView, error) {
		return nil, b.inner.Set(ctx, ownerKey, view)
	})
	return err
}

func (b *BreakerCache) Delete(ctx context.Context, ownerKey string) error {
	_, err := b.cb.Execute(func() (*domain.CartView, error) {
		return nil, b.inner.Delete(ctx, ownerKey)
	})
	return err
}
