package cache

import (
	"context"
	"errors"

	"github.com/mkorolev/storefront/internal/domain"
)

// CartCache caches rendered cart views keyed by cart owner. Stock quantities
// are never cached; the view carries lines and prices only.
type CartCache interface {
	Get(ctx context.Context, ownerKey string) (*domain.CartView, error)
	Set(ctx context.Context, ownerKey string, view *domain.CartView) error
	Delete(ctx context.Context, ownerKey string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache disables caching; used in tests and when redis is not configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.CartView, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, string, *domain.CartView) error   { return nil }
func (NopCache) Delete(context.Context, string) error                  { return nil }
