package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seujia/storefront/internal/cart"
	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/handler"
	"github.com/seujia/storefront/internal/memstore"
)

func TestCartHandler(t *testing.T) {
	store := memstore.New()
	honeyID := store.AddProduct(catalog.Product{
		Slug:     "wild-forest-honey",
		Name:     "Wild Forest Honey",
		Price:    decimal.NewFromInt(349),
		IsActive: true,
		Variants: []catalog.Variant{{Size: "250g", Price: decimal.NewFromInt(189), Stock: 4}},
	})
	svc := cart.NewService(cart.NewMemoryStore(time.Hour), store.Products())
	router := chi.NewRouter()
	handler.NewCartHandler(svc).RegisterRoutes(router)

	const path = "/cart/sess_0123456789"

	rr := doRequest(t, router, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, mustItems(t, rr.Body.Bytes()))

	item := `{"product_id":"` + honeyID.String() + `","variant_size":"250g","quantity":2}`
	rr = doRequest(t, router, http.MethodPost, path+"/items", item, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doRequest(t, router, http.MethodPost, path+"/items", item, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var c cart.Cart
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&c))
	require.Len(t, c.Items, 1)
	assert.Equal(t, 4, c.Items[0].Quantity)

	rr = doRequest(t, router, http.MethodPost, path+"/items",
		`{"product_id":"`+honeyID.String()+`","quantity":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid cart item: please choose a size for Wild Forest Honey", decodeError(t, rr))

	rr = doRequest(t, router, http.MethodPut, path, `{"items":[]}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, mustItems(t, rr.Body.Bytes()))

	rr = doRequest(t, router, http.MethodPut, path,
		`{"items":[{"product_id":"`+honeyID.String()+`","variant_size":"250g","quantity":0}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Validation failed", decodeError(t, rr))

	rr = doRequest(t, router, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/cart/short", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid cart session id", decodeError(t, rr))
}

func mustItems(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Items json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	return string(payload.Items)
}
