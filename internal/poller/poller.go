package poller

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/valnet/cart-service/internal/cache"
	"github.com/valnet/cart-service/internal/repository"
)

// Poller consumes product price updates published by the pricing team and
// persists them into stored line items, so the "last-known" price in storage
// tracks the authoritative one between reads.
type Poller struct {
	store  repository.CartStore
	reader *kafka.Reader
	cache  cache.CartCache
	log    *zap.SugaredLogger
}

type priceUpdate struct {
	ProductID int64   `json:"product_id"`
	Price     float64 `json:"price"`
}

func New(store repository.CartStore, cache cache.CartCache, log *zap.SugaredLogger, topic string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "cart-service-price-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{store: store, reader: reader, cache: cache, log: log}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.consumePriceUpdate(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Errorw("error closing reader", "err", err)
	}
}

func (p *Poller) consumePriceUpdate(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Errorw("error reading message", "err", err)
		}
		return
	}

	p.apply(ctx, m.Value)
}

func (p *Poller) apply(ctx context.Context, payload []byte) {
	var update priceUpdate
	if errUnmarshal := json.Unmarshal(payload, &update); errUnmarshal != nil {
		p.log.Errorw("error parsing price update", "err", errUnmarshal)
		return
	}
	if update.ProductID <= 0 || update.Price < 0 {
		p.log.Warnw("skipping malformed price update", "product_id", update.ProductID, "price", update.Price)
		return
	}

	users, errRefresh := p.store.RefreshProductPrice(ctx, update.ProductID, update.Price)
	if errRefresh != nil {
		p.log.Errorw("failed to refresh product price", "product_id", update.ProductID, "err", errRefresh)
		return
	}

	// drop cached raw state for every affected cart
	for _, userID := range users {
		if errDelete := p.cache.Delete(ctx, userID); errDelete != nil {
			p.log.Warnw("failed to invalidate cache", "user_id", userID, "err", errDelete)
		}
	}

	if len(users) > 0 {
		p.log.Infow("applied price update", "product_id", update.ProductID, "price", update.Price, "carts", len(users))
	}
}
