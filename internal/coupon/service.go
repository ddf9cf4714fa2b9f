package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrInvalidCoupon = errors.New("invalid coupon")

const (
	msgInvalidCode = "Invalid coupon code"
	msgInactive    = "This coupon is no longer active"
	msgExpired     = "This coupon has expired"
	msgUsageLimit  = "This coupon has reached its usage limit"
	msgApplied     = "Coupon applied successfully"
)

type Service interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Validation, error)
	IncrementUses(ctx context.Context, code string) error
	DecrementUses(ctx context.Context, code string) error

	List(ctx context.Context) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) (*Coupon, error)
	Update(ctx context.Context, c *Coupon) (*Coupon, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) Service {
	return NewServiceWithClock(repo, time.Now)
}

func NewServiceWithClock(repo Repository, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{repo: repo, now: now}
}

func (s *service) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Validation, error) {
	subtotal = subtotal.Round(2)
	invalid := func(message string) Validation {
		return Validation{Valid: false, Discount: decimal.Zero, NewTotal: subtotal, Message: message}
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return invalid(msgInvalidCode), nil
	}

	c, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			log.Debug().Str("coupon_code", code).Msg("service: unknown coupon code")
			return invalid(msgInvalidCode), nil
		}
		log.Error().Err(err).Str("coupon_code", code).Msg("service: failed to fetch coupon")
		return Validation{}, fmt.Errorf("service: failed to fetch coupon: %w", err)
	}

	switch {
	case !c.IsActive:
		return invalid(msgInactive), nil
	case c.Expired(s.now()):
		return invalid(msgExpired), nil
	case c.Exhausted():
		return invalid(msgUsageLimit), nil
	case subtotal.LessThan(c.MinOrderValue):
		return invalid(fmt.Sprintf("Minimum order value of ₹%s required", c.MinOrderValue.String())), nil
	}

	discount := c.Discount(subtotal)
	return Validation{
		Valid:    true,
		Discount: discount,
		NewTotal: subtotal.Sub(discount).Round(2),
		Message:  msgApplied,
		Coupon:   c,
	}, nil
}

func (s *service) IncrementUses(ctx context.Context, code string) error {
	if err := s.repo.IncrementUses(ctx, code); err != nil {
		if errors.Is(err, ErrUsageCapped) || errors.Is(err, ErrCouponNotFound) {
			return err
		}
		return fmt.Errorf("service: failed to increment coupon uses: %w", err)
	}
	log.Info().Str("coupon_code", strings.ToUpper(code)).Msg("service: coupon usage incremented")
	return nil
}

func (s *service) DecrementUses(ctx context.Context, code string) error {
	if err := s.repo.DecrementUses(ctx, code); err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return err
		}
		return fmt.Errorf("service: failed to decrement coupon uses: %w", err)
	}
	log.Info().Str("coupon_code", strings.ToUpper(code)).Msg("service: coupon usage decremented")
	return nil
}

func (s *service) List(ctx context.Context) ([]Coupon, error) {
	coupons, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list coupons: %w", err)
	}
	return coupons, nil
}

func (s *service) Create(ctx context.Context, c *Coupon) (*Coupon, error) {
	if err := normalize(c); err != nil {
		return nil, err
	}
	c.ID = uuid.Nil
	c.CurrentUses = 0
	c.IsActive = true

	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCodeExists) {
			return nil, err
		}
		log.Error().Err(err).Str("coupon_code", c.Code).Msg("service: failed to create coupon")
		return nil, fmt.Errorf("service: failed to create coupon: %w", err)
	}

	log.Info().Stringer("coupon_id", c.ID).Str("coupon_code", c.Code).Msg("service: coupon created")
	return c, nil
}

func (s *service) Update(ctx context.Context, c *Coupon) (*Coupon, error) {
	if err := normalize(c); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.CurrentUses = existing.CurrentUses
	c.CreatedAt = existing.CreatedAt
	if c.MaxUses != nil && *c.MaxUses < c.CurrentUses {
		return nil, fmt.Errorf("%w: max_uses cannot be below current uses (%d)", ErrInvalidCoupon, c.CurrentUses)
	}

	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrCouponNotFound) || errors.Is(err, ErrCodeExists) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to update coupon: %w", err)
	}

	log.Info().Stringer("coupon_id", c.ID).Str("coupon_code", c.Code).Msg("service: coupon updated")
	return c, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return err
		}
		return fmt.Errorf("service: failed to delete coupon: %w", err)
	}
	log.Info().Stringer("coupon_id", id).Msg("service: coupon deleted")
	return nil
}

func normalize(c *Coupon) error {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCoupon)
	}
	if !c.DiscountType.Valid() {
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidCoupon, c.DiscountType)
	}
	if c.DiscountValue.IsNegative() {
		return fmt.Errorf("%w: discount value cannot be negative", ErrInvalidCoupon)
	}
	if c.DiscountType == DiscountPercentage && c.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: percentage discount cannot exceed 100", ErrInvalidCoupon)
	}
	if c.MinOrderValue.IsNegative() {
		return fmt.Errorf("%w: minimum order value cannot be negative", ErrInvalidCoupon)
	}
	if c.MaxUses != nil && *c.MaxUses < 0 {
		return fmt.Errorf("%w: max uses cannot be negative", ErrInvalidCoupon)
	}
	c.DiscountValue = c.DiscountValue.Round(2)
	c.MinOrderValue = c.MinOrderValue.Round(2)
	return nil
}
