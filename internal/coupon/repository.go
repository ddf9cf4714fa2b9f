package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/db"
)

var (
	ErrCouponNotFound = errors.New("coupon not found")
	ErrCodeExists     = errors.New("coupon code already exists")
	ErrUsageCapped    = errors.New("coupon usage limit reached")
)

type Repository interface {
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id uuid.UUID) error
	IncrementUses(ctx context.Context, code string) error
	DecrementUses(ctx context.Context, code string) error
}

type postgresRepository struct {
	db db.DB
}

func NewRepository(db db.DB) Repository {
	return &postgresRepository{db: db}
}

const couponColumns = `id, code, discount_type, discount_value, min_order_value, max_uses, current_uses, is_active, expires_at, created_at, updated_at`

func scanCoupon(row pgx.Row) (*Coupon, error) {
	var c Coupon
	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.DiscountType,
		&c.DiscountValue,
		&c.MinOrderValue,
		&c.MaxUses,
		&c.CurrentUses,
		&c.IsActive,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *postgresRepository) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM catalog.coupons WHERE code = $1`

	c, err := scanCoupon(r.db.QueryRow(ctx, query, strings.ToUpper(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("repository: failed to select coupon by code: %w", err)
	}
	return c, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM catalog.coupons WHERE id = $1`

	c, err := scanCoupon(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("repository: failed to select coupon by id %s: %w", id, err)
	}
	return c, nil
}

func (r *postgresRepository) List(ctx context.Context) ([]Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM catalog.coupons ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query coupons: %w", err)
	}
	defer rows.Close()

	coupons := make([]Coupon, 0)
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating coupons: %w", err)
	}
	return coupons, nil
}

func (r *postgresRepository) Create(ctx context.Context, c *Coupon) error {
	if c.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate coupon id: %w", err)
		}
		c.ID = id
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	query := `
		INSERT INTO catalog.coupons (id, code, discount_type, discount_value, min_order_value, max_uses, current_uses, is_active, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		c.ID,
		c.Code,
		string(c.DiscountType),
		c.DiscountValue,
		c.MinOrderValue,
		c.MaxUses,
		c.CurrentUses,
		c.IsActive,
		c.ExpiresAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrCodeExists
		}
		return fmt.Errorf("repository: failed to insert coupon: %w", err)
	}
	return nil
}

func (r *postgresRepository) Update(ctx context.Context, c *Coupon) error {
	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE catalog.coupons
		SET code = $2, discount_type = $3, discount_value = $4, min_order_value = $5,
		    max_uses = $6, is_active = $7, expires_at = $8, updated_at = $9
		WHERE id = $1
	`
	cmdTag, err := r.db.Exec(ctx, query,
		c.ID,
		c.Code,
		string(c.DiscountType),
		c.DiscountValue,
		c.MinOrderValue,
		c.MaxUses,
		c.IsActive,
		c.ExpiresAt,
		c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrCodeExists
		}
		return fmt.Errorf("repository: failed to update coupon %s: %w", c.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCouponNotFound
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM catalog.coupons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete coupon %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCouponNotFound
	}
	return nil
}

// IncrementUses bumps current_uses unless the cap has been reached. The
// condition is evaluated by the UPDATE itself so concurrent checkouts cannot
// push the counter past max_uses.
func (r *postgresRepository) IncrementUses(ctx context.Context, code string) error {
	query := `
		UPDATE catalog.coupons
		SET current_uses = current_uses + 1, updated_at = NOW()
		WHERE code = $1 AND (max_uses IS NULL OR current_uses < max_uses)
	`
	cmdTag, err := r.db.Exec(ctx, query, strings.ToUpper(code))
	if err != nil {
		return fmt.Errorf("repository: failed to increment coupon uses: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		if _, err := r.GetByCode(ctx, code); err != nil {
			return err
		}
		log.Warn().Str("coupon_code", code).Msg("repository: coupon usage cap reached")
		return ErrUsageCapped
	}
	return nil
}

func (r *postgresRepository) DecrementUses(ctx context.Context, code string) error {
	query := `
		UPDATE catalog.coupons
		SET current_uses = GREATEST(current_uses - 1, 0), updated_at = NOW()
		WHERE code = $1
	`
	cmdTag, err := r.db.Exec(ctx, query, strings.ToUpper(code))
	if err != nil {
		return fmt.Errorf("repository: failed to decrement coupon uses: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCouponNotFound
	}
	return nil
}
