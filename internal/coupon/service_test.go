package coupon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seujia/storefront/internal/coupon"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.Coupon), args.Error(1)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.Coupon), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]coupon.Coupon), args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) IncrementUses(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

func (m *MockRepository) DecrementUses(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

func intPtr(v int) *int { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestService_Validate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name         string
		code         string
		subtotal     decimal.Decimal
		stored       *coupon.Coupon
		repoErr      error
		wantValid    bool
		wantDiscount string
		wantTotal    string
		wantMessage  string
	}{
		{
			name:        "unknown code",
			code:        "NOPE",
			subtotal:    dec("500"),
			repoErr:     coupon.ErrCouponNotFound,
			wantMessage: "Invalid coupon code",
			wantTotal:   "500",
		},
		{
			name:        "inactive",
			code:        "OLD",
			subtotal:    dec("500"),
			stored:      &coupon.Coupon{Code: "OLD", DiscountType: coupon.DiscountFixed, DiscountValue: dec("50"), IsActive: false},
			wantMessage: "This coupon is no longer active",
			wantTotal:   "500",
		},
		{
			name:        "expired",
			code:        "GONE",
			subtotal:    dec("500"),
			stored:      &coupon.Coupon{Code: "GONE", DiscountType: coupon.DiscountFixed, DiscountValue: dec("50"), IsActive: true, ExpiresAt: &past},
			wantMessage: "This coupon has expired",
			wantTotal:   "500",
		},
		{
			name:     "usage cap reached",
			code:     "ONCE",
			subtotal: dec("10000"),
			stored: &coupon.Coupon{
				Code: "ONCE", DiscountType: coupon.DiscountPercentage, DiscountValue: dec("10"),
				IsActive: true, MaxUses: intPtr(1), CurrentUses: 1, ExpiresAt: &future,
			},
			wantMessage: "This coupon has reached its usage limit",
			wantTotal:   "10000",
		},
		{
			name:     "below minimum order value",
			code:     "BIG",
			subtotal: dec("499.99"),
			stored: &coupon.Coupon{
				Code: "BIG", DiscountType: coupon.DiscountFixed, DiscountValue: dec("50"),
				MinOrderValue: dec("500"), IsActive: true,
			},
			wantMessage: "Minimum order value of ₹500 required",
			wantTotal:   "499.99",
		},
		{
			name:     "fixed discount clamped to subtotal",
			code:     "FLAT500",
			subtotal: dec("300"),
			stored: &coupon.Coupon{
				Code: "FLAT500", DiscountType: coupon.DiscountFixed, DiscountValue: dec("500"), IsActive: true,
			},
			wantValid:    true,
			wantDiscount: "300",
			wantTotal:    "0",
			wantMessage:  "Coupon applied successfully",
		},
		{
			name:     "percentage discount",
			code:     "save10",
			subtotal: dec("378"),
			stored: &coupon.Coupon{
				Code: "SAVE10", DiscountType: coupon.DiscountPercentage, DiscountValue: dec("10"),
				MinOrderValue: dec("100"), IsActive: true,
			},
			wantValid:    true,
			wantDiscount: "37.8",
			wantTotal:    "340.2",
			wantMessage:  "Coupon applied successfully",
		},
		{
			name:     "percentage discount rounds to two places",
			code:     "ODD",
			subtotal: dec("99.99"),
			stored: &coupon.Coupon{
				Code: "ODD", DiscountType: coupon.DiscountPercentage, DiscountValue: dec("15"), IsActive: true,
			},
			wantValid:    true,
			wantDiscount: "15",
			wantTotal:    "84.99",
			wantMessage:  "Coupon applied successfully",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			if tt.stored != nil {
				repo.On("GetByCode", mock.Anything, tt.stored.Code).Return(tt.stored, nil).Once()
			} else {
				repo.On("GetByCode", mock.Anything, mock.Anything).Return(nil, tt.repoErr).Once()
			}

			svc := coupon.NewServiceWithClock(repo, func() time.Time { return now })
			got, err := svc.Validate(context.Background(), tt.code, tt.subtotal)
			require.NoError(t, err)

			assert.Equal(t, tt.wantValid, got.Valid)
			assert.Equal(t, tt.wantMessage, got.Message)
			assert.True(t, dec(tt.wantTotal).Equal(got.NewTotal), "new total: got %s want %s", got.NewTotal, tt.wantTotal)
			if tt.wantValid {
				assert.True(t, dec(tt.wantDiscount).Equal(got.Discount), "discount: got %s want %s", got.Discount, tt.wantDiscount)
				assert.NotNil(t, got.Coupon)
			} else {
				assert.True(t, got.Discount.IsZero())
			}
		})
	}
}

func TestService_Validate_RepositoryFailure(t *testing.T) {
	repo := new(MockRepository)
	repo.On("GetByCode", mock.Anything, "SAVE10").Return(nil, errors.New("connection reset")).Once()

	svc := coupon.NewService(repo)
	_, err := svc.Validate(context.Background(), "save10", dec("100"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	repo.AssertExpectations(t)
}

func TestService_Create(t *testing.T) {
	tests := []struct {
		name    string
		input   coupon.Coupon
		repoErr error
		wantErr error
	}{
		{
			name:  "success upper-cases code",
			input: coupon.Coupon{Code: " welcome ", DiscountType: coupon.DiscountFixed, DiscountValue: dec("25")},
		},
		{
			name:    "missing code",
			input:   coupon.Coupon{DiscountType: coupon.DiscountFixed, DiscountValue: dec("25")},
			wantErr: coupon.ErrInvalidCoupon,
		},
		{
			name:    "unknown discount type",
			input:   coupon.Coupon{Code: "X", DiscountType: "bogus", DiscountValue: dec("25")},
			wantErr: coupon.ErrInvalidCoupon,
		},
		{
			name:    "percentage above 100",
			input:   coupon.Coupon{Code: "X", DiscountType: coupon.DiscountPercentage, DiscountValue: dec("120")},
			wantErr: coupon.ErrInvalidCoupon,
		},
		{
			name:    "duplicate code",
			input:   coupon.Coupon{Code: "WELCOME", DiscountType: coupon.DiscountFixed, DiscountValue: dec("25")},
			repoErr: coupon.ErrCodeExists,
			wantErr: coupon.ErrCodeExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			if tt.wantErr == nil || tt.repoErr != nil {
				repo.On("Create", mock.Anything, mock.MatchedBy(func(c *coupon.Coupon) bool {
					return c.Code == "WELCOME" && c.IsActive && c.CurrentUses == 0
				})).Return(tt.repoErr).Once()
			}

			input := tt.input
			created, err := coupon.NewService(repo).Create(context.Background(), &input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, created)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "WELCOME", created.Code)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestService_Update_RejectsCapBelowUsage(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	repo := new(MockRepository)
	repo.On("GetByID", mock.Anything, id).Return(&coupon.Coupon{ID: id, Code: "SAVE10", CurrentUses: 5}, nil).Once()

	_, err := coupon.NewService(repo).Update(context.Background(), &coupon.Coupon{
		ID: id, Code: "SAVE10", DiscountType: coupon.DiscountPercentage, DiscountValue: dec("10"), MaxUses: intPtr(3),
	})

	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestService_IncrementUses_PropagatesCap(t *testing.T) {
	repo := new(MockRepository)
	repo.On("IncrementUses", mock.Anything, "ONCE").Return(coupon.ErrUsageCapped).Once()

	err := coupon.NewService(repo).IncrementUses(context.Background(), "ONCE")

	assert.ErrorIs(t, err, coupon.ErrUsageCapped)
	repo.AssertExpectations(t)
}
