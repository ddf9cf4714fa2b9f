package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/db"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("product variant not found")
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetBySlug(ctx context.Context, slug string) (*Product, error)
	ListActive(ctx context.Context) ([]Product, error)
}

type postgresRepository struct {
	db db.DB
}

func NewRepository(db db.DB) Repository {
	return &postgresRepository{db: db}
}

const productColumns = `id, slug, name, description, price, image_url, stock, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Variants = []Variant{}
	return &p, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM catalog.products WHERE id = $1`

	p, err := scanProduct(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product by id %s: %w", id, err)
	}

	if err := r.loadVariants(ctx, []*Product{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *postgresRepository) GetBySlug(ctx context.Context, slug string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM catalog.products WHERE slug = $1 AND is_active`

	p, err := scanProduct(r.db.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product by slug %q: %w", slug, err)
	}

	if err := r.loadVariants(ctx, []*Product{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *postgresRepository) ListActive(ctx context.Context) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM catalog.products WHERE is_active ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating products: %w", err)
	}

	if err := r.loadVariants(ctx, products); err != nil {
		return nil, err
	}

	result := make([]Product, 0, len(products))
	for _, p := range products {
		result = append(result, *p)
	}
	return result, nil
}

func (r *postgresRepository) loadVariants(ctx context.Context, products []*Product) error {
	if len(products) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*Product, len(products))
	ids := make([]uuid.UUID, 0, len(products))
	for _, p := range products {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	query := `
		SELECT product_id, size, price, stock
		FROM catalog.product_variants
		WHERE product_id = ANY($1)
		ORDER BY product_id, position, size
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query product variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID uuid.UUID
		var v Variant
		if err := rows.Scan(&productID, &v.Size, &v.Price, &v.Stock); err != nil {
			return fmt.Errorf("repository: failed to scan product variant: %w", err)
		}
		if p, ok := byID[productID]; ok {
			p.Variants = append(p.Variants, v)
		} else {
			log.Warn().Stringer("product_id", productID).Msg("repository: variant row for unknown product")
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating product variants: %w", err)
	}
	return nil
}
