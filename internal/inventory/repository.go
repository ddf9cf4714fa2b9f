package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/db"
)

type postgresStore struct {
	db db.DB
}

func NewPostgresStore(db db.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Reserve(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) (Reservation, error) {
	var res Reservation

	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		current, err := lockStock(ctx, tx, productID, variantSize)
		if err != nil {
			return err
		}

		take := min(current, qty)
		res = Reservation{Reserved: take, Shortfall: qty - take}
		if take == 0 {
			return nil
		}

		return adjustStock(ctx, tx, productID, variantSize, -take)
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

func (s *postgresStore) Release(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) error {
	return adjustStock(ctx, s.db, productID, variantSize, qty)
}

func lockStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, variantSize *string) (int, error) {
	var (
		current int
		err     error
	)
	if variantSize == nil {
		err = tx.QueryRow(ctx, `SELECT stock FROM catalog.products WHERE id = $1 FOR UPDATE`, productID).Scan(&current)
	} else {
		err = tx.QueryRow(ctx,
			`SELECT stock FROM catalog.product_variants WHERE product_id = $1 AND size = $2 FOR UPDATE`,
			productID, *variantSize,
		).Scan(&current)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if variantSize == nil {
				return 0, catalog.ErrProductNotFound
			}
			return 0, catalog.ErrVariantNotFound
		}
		return 0, fmt.Errorf("repository: failed to lock stock row: %w", err)
	}
	return current, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func adjustStock(ctx context.Context, q execer, productID uuid.UUID, variantSize *string, delta int) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if variantSize == nil {
		tag, err = q.Exec(ctx,
			`UPDATE catalog.products SET stock = GREATEST(stock + $2, 0), updated_at = NOW() WHERE id = $1`,
			productID, delta,
		)
	} else {
		tag, err = q.Exec(ctx,
			`UPDATE catalog.product_variants SET stock = GREATEST(stock + $3, 0) WHERE product_id = $1 AND size = $2`,
			productID, *variantSize, delta,
		)
	}
	if err != nil {
		return fmt.Errorf("repository: failed to update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if variantSize == nil {
			return catalog.ErrProductNotFound
		}
		return catalog.ErrVariantNotFound
	}
	return nil
}
