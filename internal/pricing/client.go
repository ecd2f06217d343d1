package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	// ErrProductUnavailable covers every way the collaborator can fail to
	// resolve a price: unknown product, unreachable dependency, timeout,
	// open circuit breaker. Callers must not substitute a default price.
	ErrProductUnavailable = errors.New("product price unavailable")

	ErrInvalidProductID = errors.New("invalid product id")
)

// PriceResolver fetches the current authoritative unit price of a product.
type PriceResolver interface {
	GetPrice(ctx context.Context, productID int64) (float64, error)
}

type priceResponse struct {
	ProductID int64   `json:"product_id"`
	Price     float64 `json:"price"`
}

// Client calls the pricing team's HTTP endpoint. Every call carries a bounded
// timeout and passes through a circuit breaker, so a dead collaborator fails
// fast instead of holding request goroutines.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[float64]
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	settings := gobreaker.Settings{
		Name:     "pricing",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("pricing breaker state change", "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[float64](settings),
		timeout: timeout,
		log:     log,
	}
}

func (c *Client) GetPrice(ctx context.Context, productID int64) (float64, error) {
	if productID <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidProductID, productID)
	}

	price, err := c.breaker.Execute(func() (float64, error) {
		return c.fetch(ctx, productID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: breaker open for product %d", ErrProductUnavailable, productID)
		}
		return 0, err
	}

	return price, nil
}

func (c *Client) fetch(ctx context.Context, productID int64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/products/%d/price", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build pricing request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// timeouts and transport failures are indistinguishable from an
		// unknown product as far as callers are concerned
		return 0, fmt.Errorf("%w: product %d: %v", ErrProductUnavailable, productID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: product %d: pricing returned %d", ErrProductUnavailable, productID, resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: product %d: bad pricing payload: %v", ErrProductUnavailable, productID, err)
	}
	if body.Price < 0 {
		return 0, fmt.Errorf("%w: product %d: negative price %f", ErrProductUnavailable, productID, body.Price)
	}

	return body.Price, nil
}
