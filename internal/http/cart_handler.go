package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/valnet/cart-service/internal/domain"
	"github.com/valnet/cart-service/internal/pricing"
	"github.com/valnet/cart-service/internal/repository"
	"github.com/valnet/cart-service/internal/service"
)

// Aggregator is what the transport needs from the core
// Consumers define this interface, not the core implementation
type Aggregator interface {
	GetCartDetails(ctx context.Context, userID string) (*domain.Cart, error)
	AddOrUpdate(ctx context.Context, userID string, item domain.LineItem) (*domain.Cart, error)
}

type CartHandler struct {
	aggregator Aggregator
	timeout    time.Duration
	log        *zap.SugaredLogger
}

func NewCartHandler(aggregator Aggregator, timeout time.Duration, log *zap.SugaredLogger) *CartHandler {
	return &CartHandler{
		aggregator: aggregator,
		timeout:    timeout,
		log:        log,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type LineItemDTO struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// CartDTO is the client-facing cart shape. Cart id, user id and timestamps
// stay internal.
type CartDTO struct {
	Items []LineItemDTO `json:"items"`
	Total float64       `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func convertCart(c *domain.Cart) *CartDTO {
	dto := &CartDTO{
		Items: make([]LineItemDTO, len(c.Items)),
		Total: c.Total,
	}
	for i, item := range c.Items {
		dto.Items[i] = LineItemDTO{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		}
	}
	return dto
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := chi.URLParam(r, "userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user id is required")
		return
	}

	cart, err := h.aggregator.GetCartDetails(ctx, userID)
	if err != nil {
		h.handleCoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, convertCart(cart))
}

func (h *CartHandler) AddOrUpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := chi.URLParam(r, "userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user id is required")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be positive")
		return
	}

	cart, err := h.aggregator.AddOrUpdate(ctx, userID, domain.LineItem{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.handleCoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, convertCart(cart))
}

// handleCoreError maps core error kinds to HTTP status codes. Internal error
// details never reach the client.
func (h *CartHandler) handleCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument), errors.Is(err, pricing.ErrInvalidProductID):
		respondError(w, http.StatusBadRequest, "invalid_argument", "invalid request")
	case errors.Is(err, repository.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "cart_not_found", "no cart exists for this user")
	case errors.Is(err, service.ErrPriceResolution), errors.Is(err, pricing.ErrProductUnavailable):
		respondError(w, http.StatusBadGateway, "pricing_unavailable", "could not resolve current prices")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.log.Errorw("unhandled core error", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
