package shipping

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed rates.yaml
var defaultRatesYAML []byte

// Rate is the delivery tariff for one destination region.
// FreeShippingThreshold is nil when the region never ships free.
type Rate struct {
	Region                string
	BaseCharge            decimal.Decimal
	CODCharge             decimal.Decimal
	FreeShippingThreshold *decimal.Decimal
}

type rateEntry struct {
	Region                string   `yaml:"region"`
	BaseCharge            float64  `yaml:"base_charge"`
	CODCharge             float64  `yaml:"cod_charge"`
	FreeShippingThreshold *float64 `yaml:"free_shipping_threshold"`
}

type ratesFile struct {
	Default rateEntry   `yaml:"default"`
	Regions []rateEntry `yaml:"regions"`
}

func (e rateEntry) toRate() (Rate, error) {
	if e.BaseCharge < 0 || e.CODCharge < 0 {
		return Rate{}, fmt.Errorf("shipping: negative charge for region %q", e.Region)
	}
	r := Rate{
		Region:     strings.TrimSpace(e.Region),
		BaseCharge: decimal.NewFromFloat(e.BaseCharge).Round(2),
		CODCharge:  decimal.NewFromFloat(e.CODCharge).Round(2),
	}
	if e.FreeShippingThreshold != nil {
		t := decimal.NewFromFloat(*e.FreeShippingThreshold).Round(2)
		r.FreeShippingThreshold = &t
	}
	return r, nil
}

// Catalog maps regions to rates. Lookups are case-insensitive and fall back
// to the default rate for unknown regions.
type Catalog struct {
	rates    map[string]Rate
	fallback Rate
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var f ratesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("shipping: failed to parse rate catalog: %w", err)
	}
	if len(f.Regions) == 0 {
		return nil, errors.New("shipping: rate catalog has no regions")
	}

	fallback, err := f.Default.toRate()
	if err != nil {
		return nil, err
	}
	fallback.Region = ""

	c := &Catalog{rates: make(map[string]Rate, len(f.Regions)), fallback: fallback}
	for _, e := range f.Regions {
		r, err := e.toRate()
		if err != nil {
			return nil, err
		}
		if r.Region == "" {
			return nil, errors.New("shipping: rate entry without region")
		}
		key := normalizeRegion(r.Region)
		if _, dup := c.rates[key]; dup {
			return nil, fmt.Errorf("shipping: duplicate region %q", r.Region)
		}
		c.rates[key] = r
	}
	return c, nil
}

// DefaultCatalog returns the built-in rate table.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultRatesYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads an override table from path, or returns the built-in
// table when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shipping: failed to read rate catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Lookup returns the rate for region and whether it was an exact match.
func (c *Catalog) Lookup(region string) (Rate, bool) {
	if r, ok := c.rates[normalizeRegion(region)]; ok {
		return r, true
	}
	return c.fallback, false
}

func (c *Catalog) Regions() []string {
	regions := make([]string, 0, len(c.rates))
	for _, r := range c.rates {
		regions = append(regions, r.Region)
	}
	return regions
}

func normalizeRegion(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}
