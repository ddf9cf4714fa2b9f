package cart

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/catalog"
)

var (
	ErrInvalidSession = errors.New("invalid cart session id")
	ErrInvalidItem    = errors.New("invalid cart item")
)

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

type ProductReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
}

type Service interface {
	Get(ctx context.Context, sessionID string) (*Cart, error)
	Replace(ctx context.Context, sessionID string, items []Item) (*Cart, error)
	AddItem(ctx context.Context, sessionID string, item Item) (*Cart, error)
	Clear(ctx context.Context, sessionID string) error
}

type service struct {
	store    Store
	products ProductReader
	now      func() time.Time
}

func NewService(store Store, products ProductReader) Service {
	return &service{store: store, products: products, now: time.Now}
}

func (s *service) Get(ctx context.Context, sessionID string) (*Cart, error) {
	if !sessionPattern.MatchString(sessionID) {
		return nil, ErrInvalidSession
	}

	c, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return &Cart{SessionID: sessionID, Items: []Item{}}, nil
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("service: failed to load cart")
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}
	return c, nil
}

func (s *service) Replace(ctx context.Context, sessionID string, items []Item) (*Cart, error) {
	if !sessionPattern.MatchString(sessionID) {
		return nil, ErrInvalidSession
	}

	c := &Cart{SessionID: sessionID, Items: []Item{}}
	for _, item := range items {
		item, err := s.checkItem(ctx, item)
		if err != nil {
			return nil, err
		}
		c.Add(item)
	}
	return c, s.save(ctx, c)
}

func (s *service) AddItem(ctx context.Context, sessionID string, item Item) (*Cart, error) {
	c, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	item, err = s.checkItem(ctx, item)
	if err != nil {
		return nil, err
	}
	c.Add(item)
	return c, s.save(ctx, c)
}

func (s *service) Clear(ctx context.Context, sessionID string) error {
	if !sessionPattern.MatchString(sessionID) {
		return ErrInvalidSession
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("service: failed to clear cart")
		return fmt.Errorf("service: failed to clear cart: %w", err)
	}
	return nil
}

func (s *service) save(ctx context.Context, c *Cart) error {
	c.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, c); err != nil {
		log.Error().Err(err).Str("session_id", c.SessionID).Msg("service: failed to save cart")
		return fmt.Errorf("service: failed to save cart: %w", err)
	}
	return nil
}

// checkItem makes sure the line refers to a purchasable product and size.
// Prices are not stored in the cart; checkout prices from the catalog.
func (s *service) checkItem(ctx context.Context, item Item) (Item, error) {
	if item.Quantity <= 0 {
		return item, fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidItem)
	}
	if item.VariantSize != nil && strings.TrimSpace(*item.VariantSize) == "" {
		item.VariantSize = nil
	}
	if s.products == nil {
		return item, nil
	}

	p, err := s.products.GetByID(ctx, item.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return item, fmt.Errorf("%w: product %s does not exist", ErrInvalidItem, item.ProductID)
		}
		return item, fmt.Errorf("service: failed to fetch product: %w", err)
	}
	if !p.IsActive {
		return item, fmt.Errorf("%w: %s is no longer available", ErrInvalidItem, p.Name)
	}
	if p.HasVariants() && item.VariantSize == nil {
		return item, fmt.Errorf("%w: please choose a size for %s", ErrInvalidItem, p.Name)
	}
	if item.VariantSize != nil {
		if _, ok := p.Variant(*item.VariantSize); !ok {
			return item, fmt.Errorf("%w: size %s is not available for %s", ErrInvalidItem, *item.VariantSize, p.Name)
		}
	}
	return item, nil
}
