package shipping

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	unitWeightKg      = 0.4
	packagingWeightKg = 0.1
	minimumWeightKg   = 0.5
)

var ErrNoCarrier = errors.New("no courier services available for this location")

// QuoteRequest describes a shipment to be priced. OrderValue is the value
// after discounts.
type QuoteRequest struct {
	Region     string          `json:"state"`
	Pincode    string          `json:"pincode"`
	OrderValue decimal.Decimal `json:"order_value"`
	Units      int             `json:"units"`
	IsCOD      bool            `json:"is_cod"`
}

type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// RateRequest asks a carrier aggregator for serviceable couriers.
type RateRequest struct {
	PickupPincode   string
	DeliveryPincode string
	WeightKg        float64
	IsCOD           bool
}

type CarrierRate struct {
	CarrierName   string
	ETA           string
	FreightCharge decimal.Decimal
	CODCharge     decimal.Decimal
}

func (r CarrierRate) Total(isCOD bool) decimal.Decimal {
	if isCOD {
		return r.FreightCharge.Add(r.CODCharge)
	}
	return r.FreightCharge
}

// RateService returns the cheapest serviceable courier for a shipment.
type RateService interface {
	Quote(ctx context.Context, req RateRequest) (CarrierRate, error)
}

// PackageWeight estimates the parcel weight in kilograms for units jars.
func PackageWeight(units int) float64 {
	w := float64(units)*unitWeightKg + packagingWeightKg
	w = math.Round(w*100) / 100
	return math.Max(w, minimumWeightKg)
}

type TableQuoter struct {
	calc *Calculator
}

func NewTableQuoter(calc *Calculator) *TableQuoter {
	return &TableQuoter{calc: calc}
}

func (q *TableQuoter) Quote(_ context.Context, req QuoteRequest) (Quote, error) {
	return q.calc.Compute(req.Region, req.OrderValue, req.IsCOD), nil
}

// CarrierQuoter prices shipments with live courier rates. The region's free
// shipping threshold still applies. When the carrier cannot be reached, a
// flat rate is charged instead.
type CarrierQuoter struct {
	rates         RateService
	catalog       *Catalog
	pickupPincode string
	flatBase      decimal.Decimal
	flatCOD       decimal.Decimal
}

func NewCarrierQuoter(rates RateService, catalog *Catalog, pickupPincode string) *CarrierQuoter {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &CarrierQuoter{
		rates:         rates,
		catalog:       catalog,
		pickupPincode: pickupPincode,
		flatBase:      decimal.NewFromInt(50),
		flatCOD:       decimal.NewFromInt(30),
	}
}

func (q *CarrierQuoter) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	rate, _ := q.catalog.Lookup(req.Region)

	carrier, err := q.rates.Quote(ctx, RateRequest{
		PickupPincode:   q.pickupPincode,
		DeliveryPincode: req.Pincode,
		WeightKg:        PackageWeight(req.Units),
		IsCOD:           req.IsCOD,
	})
	if err != nil {
		log.Warn().Err(err).Str("pincode", req.Pincode).Msg("shipping: carrier quote failed, using flat rate")
		return applyRate(q.flatBase, q.flatCOD, rate.FreeShippingThreshold, req.OrderValue, req.IsCOD), nil
	}

	quote := applyRate(carrier.FreightCharge, carrier.CODCharge, rate.FreeShippingThreshold, req.OrderValue, req.IsCOD)
	quote.Carrier = carrier.CarrierName
	quote.ETA = carrier.ETA
	return quote, nil
}

// FallbackQuoter tries primary first and uses secondary when primary is nil
// or fails.
type FallbackQuoter struct {
	primary   Quoter
	secondary Quoter
}

func NewFallbackQuoter(primary, secondary Quoter) *FallbackQuoter {
	return &FallbackQuoter{primary: primary, secondary: secondary}
}

func (q *FallbackQuoter) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if q.primary != nil {
		quote, err := q.primary.Quote(ctx, req)
		if err == nil {
			return quote, nil
		}
		log.Warn().Err(err).Str("region", req.Region).Msg("shipping: primary quoter failed")
	}
	return q.secondary.Quote(ctx, req)
}
