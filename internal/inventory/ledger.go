package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

var ErrInvalidQuantity = errors.New("quantity must be greater than zero")

// Reservation reports how much of a requested quantity was taken from stock.
// Reserved+Shortfall always equals the requested quantity.
type Reservation struct {
	Reserved  int `json:"reserved"`
	Shortfall int `json:"shortfall"`
}

func (r Reservation) Short() bool {
	return r.Shortfall > 0
}

// Store performs the atomic stock mutations. A nil variantSize addresses the
// product's base stock.
type Store interface {
	Reserve(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) (Reservation, error)
	Release(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) error
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Reserve decrements stock by up to qty. Stock never goes below zero; whatever
// could not be taken is reported as shortfall.
func (l *Ledger) Reserve(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}

	res, err := l.store.Reserve(ctx, productID, variantSize, qty)
	if err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Str("variant", sizeLabel(variantSize)).Int("quantity", qty).Msg("inventory: failed to reserve stock")
		return Reservation{}, fmt.Errorf("inventory: reserve %s: %w", productID, err)
	}

	if res.Short() {
		log.Warn().
			Stringer("product_id", productID).
			Str("variant", sizeLabel(variantSize)).
			Int("requested", qty).
			Int("shortfall", res.Shortfall).
			Msg("inventory: insufficient stock, reserved what was available")
	}
	return res, nil
}

// Release returns qty units to stock.
func (l *Ledger) Release(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	if err := l.store.Release(ctx, productID, variantSize, qty); err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Str("variant", sizeLabel(variantSize)).Int("quantity", qty).Msg("inventory: failed to release stock")
		return fmt.Errorf("inventory: release %s: %w", productID, err)
	}

	log.Debug().Stringer("product_id", productID).Str("variant", sizeLabel(variantSize)).Int("quantity", qty).Msg("inventory: stock released")
	return nil
}

func sizeLabel(size *string) string {
	if size == nil {
		return "base"
	}
	return *size
}
