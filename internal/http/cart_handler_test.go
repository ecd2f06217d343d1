package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/valnet/cart-service/internal/domain"
	"github.com/valnet/cart-service/internal/pricing"
	"github.com/valnet/cart-service/internal/repository"
	"github.com/valnet/cart-service/internal/service"
)

type aggregatorMock struct {
	cart      *domain.Cart
	err       error
	gotUserID string
	gotItem   domain.LineItem
	addCalled bool
}

func (a *aggregatorMock) GetCartDetails(_ context.Context, userID string) (*domain.Cart, error) {
	a.gotUserID = userID
	if a.err != nil {
		return nil, a.err
	}
	return a.cart, nil
}

func (a *aggregatorMock) AddOrUpdate(_ context.Context, userID string, item domain.LineItem) (*domain.Cart, error) {
	a.gotUserID = userID
	a.gotItem = item
	a.addCalled = true
	if a.err != nil {
		return nil, a.err
	}
	return a.cart, nil
}

func newTestRouter(mock *aggregatorMock) *chi.Mux {
	handler := NewCartHandler(mock, 5*time.Second, zap.NewNop().Sugar())
	r := chi.NewRouter()
	r.Route("/cart/{userId}/cart", func(r chi.Router) {
		r.Get("/", handler.GetCart)
		r.Post("/items", handler.AddOrUpdateItem)
	})
	return r
}

func TestGetCart_Success(t *testing.T) {
	mock := &aggregatorMock{
		cart: &domain.Cart{
			ID:     "cart-1",
			UserID: "1",
			Items: []domain.LineItem{
				{ProductID: 11707, Quantity: 2, UnitPrice: 10},
				{ProductID: 78040, Quantity: 3, UnitPrice: 5},
			},
			Total: 35,
		},
	}
	router := newTestRouter(mock)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/cart/1/cart", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "1", mock.gotUserID)

	var resp CartDTO
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, int64(11707), resp.Items[0].ProductID)
	assert.Equal(t, 10.0, resp.Items[0].Price)
	assert.Equal(t, 35.0, resp.Total)

	// internal cart fields must not be serialized
	var raw map[string]any
	recorder2 := httptest.NewRecorder()
	router.ServeHTTP(recorder2, httptest.NewRequest("GET", "/cart/1/cart", nil))
	require.NoError(t, json.NewDecoder(recorder2.Body).Decode(&raw))
	assert.NotContains(t, raw, "id")
	assert.NotContains(t, raw, "user_id")
	assert.NotContains(t, raw, "updated_at")
}

func TestGetCart_NotFound(t *testing.T) {
	mock := &aggregatorMock{err: repository.ErrCartNotFound}
	router := newTestRouter(mock)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/cart/ghost/cart", nil))

	require.Equal(t, http.StatusNotFound, recorder.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "cart_not_found", resp.Code)
}

func TestGetCart_PricingDown(t *testing.T) {
	mock := &aggregatorMock{
		err: fmt.Errorf("%w: product 11707: %w", service.ErrPriceResolution, pricing.ErrProductUnavailable),
	}
	router := newTestRouter(mock)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/cart/1/cart", nil))

	require.Equal(t, http.StatusBadGateway, recorder.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "pricing_unavailable", resp.Code)
	assert.NotContains(t, resp.Error, "11707", "internal details must not leak")
}

func TestGetCart_UnhandledErrorIsOpaque(t *testing.T) {
	mock := &aggregatorMock{err: fmt.Errorf("mongo: connection reset")}
	router := newTestRouter(mock)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/cart/1/cart", nil))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.NotContains(t, resp.Error, "mongo")
}

func TestAddItem_Success(t *testing.T) {
	mock := &aggregatorMock{
		cart: &domain.Cart{
			Items: []domain.LineItem{{ProductID: 99999, Quantity: 1, UnitPrice: 42}},
			Total: 42,
		},
	}
	router := newTestRouter(mock)

	body := bytes.NewBufferString(`{"product_id":99999,"quantity":1}`)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("POST", "/cart/1/cart/items", body))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "1", mock.gotUserID)
	assert.Equal(t, int64(99999), mock.gotItem.ProductID)
	assert.Equal(t, 1, mock.gotItem.Quantity)

	var resp CartDTO
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, 42.0, resp.Total)
}

func TestAddItem_InvalidBody(t *testing.T) {
	mock := &aggregatorMock{}
	router := newTestRouter(mock)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("POST", "/cart/1/cart/items", bytes.NewBufferString("not json")))

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.False(t, mock.addCalled)
}

func TestAddItem_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"zero product id", `{"product_id":0,"quantity":1}`, "invalid_product_id"},
		{"negative product id", `{"product_id":-1,"quantity":1}`, "invalid_product_id"},
		{"zero quantity", `{"product_id":11707,"quantity":0}`, "invalid_quantity"},
		{"negative quantity", `{"product_id":11707,"quantity":-2}`, "invalid_quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &aggregatorMock{}
			router := newTestRouter(mock)

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest("POST", "/cart/1/cart/items", bytes.NewBufferString(tt.body)))

			require.Equal(t, http.StatusBadRequest, recorder.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.False(t, mock.addCalled, "invalid input must not reach the core")
		})
	}
}

func TestAddItem_ProductUnavailable(t *testing.T) {
	mock := &aggregatorMock{err: fmt.Errorf("%w: product 99999", pricing.ErrProductUnavailable)}
	router := newTestRouter(mock)

	body := bytes.NewBufferString(`{"product_id":99999,"quantity":1}`)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("POST", "/cart/1/cart/items", body))

	require.Equal(t, http.StatusBadGateway, recorder.Code)
}

func TestAddItem_CartNotFound(t *testing.T) {
	mock := &aggregatorMock{err: repository.ErrCartNotFound}
	router := newTestRouter(mock)

	body := bytes.NewBufferString(`{"product_id":11707,"quantity":1}`)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("POST", "/cart/ghost/cart/items", body))

	require.Equal(t, http.StatusNotFound, recorder.Code)
}
