package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderCOD      Provider = "cod"
	ProviderRazorpay Provider = "razorpay"
	ProviderStripe   Provider = "stripe"
)

func (p Provider) String() string {
	return string(p)
}

func (p Provider) Valid() bool {
	switch p {
	case ProviderCOD, ProviderRazorpay, ProviderStripe:
		return true
	}
	return false
}

// Online reports whether the provider collects payment up front.
func (p Provider) Online() bool {
	return p == ProviderRazorpay || p == ProviderStripe
}

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	// ErrTransient marks failures worth retrying: timeouts, 5xx and rate limits.
	ErrTransient = errors.New("transient payment gateway failure")
)

type IntentRequest struct {
	AmountMinor int64
	Currency    string
	Reference   string
	Notes       map[string]string
}

type Intent struct {
	Provider       Provider `json:"provider"`
	GatewayOrderID string   `json:"gateway_order_id"`
	ClientSecret   string   `json:"client_secret,omitempty"`
	AmountMinor    int64    `json:"amount"`
	Currency       string   `json:"currency"`
}

// Gateway creates payment intents and authenticates webhook deliveries for
// one online payment provider.
type Gateway interface {
	Provider() Provider
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	VerifyWebhook(payload []byte, header http.Header) error
	ParseWebhook(payload []byte) (Event, error)
}

// MinorUnits converts an amount to the smallest currency unit, rounding half
// away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
