package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/valnet/cart-service/internal/cache"
	"github.com/valnet/cart-service/internal/domain"
	"github.com/valnet/cart-service/internal/pricing"
	"github.com/valnet/cart-service/internal/repository"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPriceResolution wraps a pricing failure that occurred while
	// rebuilding a cart view. The whole read fails, no partial cart.
	ErrPriceResolution = errors.New("price resolution failed")
)

// CartAggregator owns the business rules: it rebuilds cart views with freshly
// reconciled prices and applies add/update mutations. It never bypasses the
// store and never trusts a client-supplied or cached price.
type CartAggregator struct {
	store   repository.CartStore
	pricing pricing.PriceResolver
	cache   cache.CartCache
	log     *zap.SugaredLogger
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartAggregator(store repository.CartStore, resolver pricing.PriceResolver, cache cache.CartCache, log *zap.SugaredLogger) *CartAggregator {
	return &CartAggregator{
		store:   store,
		pricing: resolver,
		cache:   cache,
		log:     log,
	}
}

// GetCartDetails resolves the user's cart, reconciles every line item's price
// against the pricing collaborator and returns the view with the recomputed
// total. Fails with repository.ErrCartNotFound if the user has no cart, and
// with ErrPriceResolution if any price lookup fails.
func (s *CartAggregator) GetCartDetails(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}

	raw, err := s.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := cloneCart(raw)
	if err := s.reconcile(ctx, view); err != nil {
		return nil, err
	}

	return view, nil
}

// AddOrUpdate upserts the candidate product into the user's cart at the
// authoritative price and returns the reconciled view. The candidate's price
// field, if any, is ignored.
func (s *CartAggregator) AddOrUpdate(ctx context.Context, userID string, item domain.LineItem) (*domain.Cart, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	if item.ProductID <= 0 {
		return nil, fmt.Errorf("%w: product id must be greater than 0", ErrInvalidArgument)
	}
	if item.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be greater than 0", ErrInvalidArgument)
	}

	cart, err := s.store.GetCartByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Always the collaborator's price, even for products never seen before.
	// An unresolvable product fails the mutation instead of getting a
	// fabricated price.
	price, err := s.pricing.GetPrice(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}

	// From here on the upsert may have committed, so cached raw state is
	// suspect no matter how the rest of the call goes. Invalidate on every
	// exit path, error paths included.
	defer s.invalidate(userID)

	if _, err := s.store.UpsertItem(ctx, cart.ID, item.ProductID, item.Quantity, price); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.store.TouchCart(ctx, cart.ID, now); err != nil {
		return nil, err
	}
	cart.UpdatedAt = now

	items, err := s.store.ListItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	view := *cart
	view.Items = items
	if err := s.reconcile(ctx, &view); err != nil {
		return nil, err
	}

	return &view, nil
}

// loadState returns the stored cart plus its raw line items, via the cache
// when possible. Prices in the result are last-known values only; callers
// must reconcile before exposing them.
func (s *CartAggregator) loadState(ctx context.Context, userID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil // cart is in cache
		}

		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warnw("cache get error", "user_id", userID, "err", err) // log cache error but continue
		}

		cart, errGet := s.store.GetCartByUser(ctx, userID)
		if errGet != nil {
			return nil, errGet
		}

		items, errList := s.store.ListItems(ctx, cart.ID)
		if errList != nil {
			return nil, errList
		}
		cart.Items = items

		go func() {
			errSet := s.cache.Set(context.Background(), userID, cart)
			if errSet != nil {
				s.log.Warnw("cache set error", "user_id", userID, "err", errSet)
			}
		}()

		return cart, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// reconcile overwrites each line item's unit price with the collaborator's
// current one and recomputes the total. Lookups are independent reads and run
// concurrently; the first failure aborts the rest.
func (s *CartAggregator) reconcile(ctx context.Context, cart *domain.Cart) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range cart.Items {
		i := i // per-iteration copy: module targets go 1.21, which shares the loop variable
		g.Go(func() error {
			price, err := s.pricing.GetPrice(gctx, cart.Items[i].ProductID)
			if err != nil {
				return fmt.Errorf("%w: product %d: %w", ErrPriceResolution, cart.Items[i].ProductID, err)
			}
			cart.Items[i].UnitPrice = price
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var total float64
	for _, item := range cart.Items {
		total += item.UnitPrice * float64(item.Quantity)
	}
	cart.Total = total

	return nil
}

func (s *CartAggregator) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warnw("cache invalidate error", "user_id", userID, "err", err)
	}
}

// cloneCart copies the cart and its item slice so reconciliation never
// mutates state shared through the cache or singleflight.
func cloneCart(cart *domain.Cart) *domain.Cart {
	view := *cart
	view.Items = make([]domain.LineItem, len(cart.Items))
	copy(view.Items, cart.Items)
	return &view
}
