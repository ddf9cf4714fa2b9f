package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/inventory"
	"github.com/seujia/storefront/internal/memstore"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Reserve(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) (inventory.Reservation, error) {
	args := m.Called(ctx, productID, variantSize, qty)
	return args.Get(0).(inventory.Reservation), args.Error(1)
}

func (m *MockStore) Release(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) error {
	args := m.Called(ctx, productID, variantSize, qty)
	return args.Error(0)
}

func ptr(s string) *string { return &s }

func newCatalog(t *testing.T, baseStock int) (*memstore.Store, uuid.UUID) {
	t.Helper()
	store := memstore.New()
	id := store.AddProduct(catalog.Product{
		Name:     "Wild Forest Honey",
		Price:    decimal.NewFromInt(349),
		Stock:    baseStock,
		IsActive: true,
		Variants: []catalog.Variant{
			{Size: "250g", Price: decimal.NewFromInt(189), Stock: 5},
			{Size: "500g", Price: decimal.NewFromInt(349), Stock: 3},
		},
	})
	return store, id
}

func TestLedger_Reserve(t *testing.T) {
	tests := []struct {
		name          string
		variant       *string
		qty           int
		want          inventory.Reservation
		wantStock     int
		wantOtherSize int
	}{
		{name: "base stock", variant: nil, qty: 4, want: inventory.Reservation{Reserved: 4}, wantStock: 6},
		{name: "base stock floors at zero", variant: nil, qty: 15, want: inventory.Reservation{Reserved: 10, Shortfall: 5}, wantStock: 0},
		{name: "variant only", variant: ptr("250g"), qty: 2, want: inventory.Reservation{Reserved: 2}, wantStock: 3, wantOtherSize: 3},
		{name: "variant floors at zero", variant: ptr("500g"), qty: 7, want: inventory.Reservation{Reserved: 3, Shortfall: 4}, wantStock: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, id := newCatalog(t, 10)
			ledger := inventory.NewLedger(store.Inventory())

			res, err := ledger.Reserve(context.Background(), id, tt.variant, tt.qty)

			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
			stock, ok := store.Stock(id, tt.variant)
			require.True(t, ok)
			assert.Equal(t, tt.wantStock, stock)

			if tt.variant != nil && *tt.variant == "250g" {
				other, _ := store.Stock(id, ptr("500g"))
				assert.Equal(t, tt.wantOtherSize, other)
				base, _ := store.Stock(id, nil)
				assert.Equal(t, 10, base)
			}
		})
	}
}

func TestLedger_Release(t *testing.T) {
	store, id := newCatalog(t, 0)
	ledger := inventory.NewLedger(store.Inventory())

	require.NoError(t, ledger.Release(context.Background(), id, nil, 7))
	require.NoError(t, ledger.Release(context.Background(), id, ptr("250g"), 100))

	base, _ := store.Stock(id, nil)
	variant, _ := store.Stock(id, ptr("250g"))
	assert.Equal(t, 7, base)
	assert.Equal(t, 105, variant)
}

func TestLedger_Errors(t *testing.T) {
	store, id := newCatalog(t, 10)
	ledger := inventory.NewLedger(store.Inventory())
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, id, nil, 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	assert.ErrorIs(t, ledger.Release(ctx, id, nil, -1), inventory.ErrInvalidQuantity)

	_, err = ledger.Reserve(ctx, uuid.Must(uuid.NewV4()), nil, 1)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, err = ledger.Reserve(ctx, id, ptr("2kg"), 1)
	assert.ErrorIs(t, err, catalog.ErrVariantNotFound)

	ms := new(MockStore)
	ms.On("Reserve", mock.Anything, id, (*string)(nil), 1).Return(inventory.Reservation{}, errors.New("connection reset")).Once()
	_, err = inventory.NewLedger(ms).Reserve(ctx, id, nil, 1)
	assert.ErrorContains(t, err, "connection reset")
	ms.AssertExpectations(t)
}

func TestLedger_ConcurrentReservations(t *testing.T) {
	const n = 50
	store, id := newCatalog(t, n-1)
	ledger := inventory.NewLedger(store.Inventory())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
		short    int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Reserve(context.Background(), id, nil, 1)
			assert.NoError(t, err)
			mu.Lock()
			reserved += res.Reserved
			short += res.Shortfall
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, n-1, reserved)
	assert.Equal(t, 1, short)
	stock, _ := store.Stock(id, nil)
	assert.Equal(t, 0, stock)
}
