package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const StripeSignatureHeader = "Stripe-Signature"

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Backends      *stripe.Backends
	intents       stripePaymentIntentAPI
}

type StripeGateway struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	intents := cfg.intents
	if intents == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		intents = client.New(key, cfg.Backends).PaymentIntents
	}
	return &StripeGateway{intents: intents, webhookSecret: cfg.WebhookSecret}, nil
}

func (g *StripeGateway) Provider() Provider {
	return ProviderStripe
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Reference != "" {
		params.SetIdempotencyKey("pi-" + req.Reference)
		params.Description = stripe.String("Order " + req.Reference)
	}
	params.Metadata = make(map[string]string, len(req.Notes)+1)
	for k, v := range req.Notes {
		params.Metadata[k] = v
	}
	if req.Reference != "" {
		params.Metadata["order_number"] = req.Reference
	}

	pi, err := g.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
			return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
		}
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w: %v", ErrTransient, err)
	}

	return Intent{
		Provider:       ProviderStripe,
		GatewayOrderID: pi.ID,
		ClientSecret:   pi.ClientSecret,
		AmountMinor:    pi.Amount,
		Currency:       strings.ToUpper(string(pi.Currency)),
	}, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, header http.Header) error {
	if g.webhookSecret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	if err := webhook.ValidatePayload(payload, header.Get(StripeSignatureHeader), g.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

type stripeIntentObject struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

func (g *StripeGateway) ParseWebhook(payload []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if envelope.Type == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	ev := Event{Kind: EventUnknown, Provider: ProviderStripe, RawType: envelope.Type}

	switch stripe.EventType(envelope.Type) {
	case stripe.EventTypePaymentIntentSucceeded:
		ev.Kind = EventPaymentSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		ev.Kind = EventPaymentFailed
	default:
		return ev, nil
	}

	var pi stripeIntentObject
	if err := json.Unmarshal(envelope.Data.Object, &pi); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev.GatewayPaymentID = pi.ID
	ev.GatewayOrderID = pi.ID
	ev.OrderNumber = pi.Metadata["order_number"]
	ev.AmountMinor = pi.Amount
	return ev, nil
}
