package repository

import (
	"context"
	"time"

	"github.com/valnet/cart-service/internal/domain"
)

// CartStore defines the interface for cart data operations
// Consumers define this interface, not the MongoDB implementation
type CartStore interface {
	GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error)
	CreateCart(ctx context.Context, userID string) (*domain.Cart, error)
	ListItems(ctx context.Context, cartID string) ([]domain.LineItem, error)
	UpsertItem(ctx context.Context, cartID string, productID int64, quantity int, unitPrice float64) (*domain.LineItem, error)
	TouchCart(ctx context.Context, cartID string, ts time.Time) error
	RefreshProductPrice(ctx context.Context, productID int64, price float64) ([]string, error)
}
