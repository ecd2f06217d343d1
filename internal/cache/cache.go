package cache

import (
	"context"
	"errors"

	"github.com/valnet/cart-service/internal/domain"
)

// CartCache holds raw cart state (cart record plus stored items, before any
// price reconciliation). Prices are never served from here.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
