package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultRazorpayBaseURL  = "https://api.razorpay.com"
	RazorpaySignatureHeader = "X-Razorpay-Signature"
)

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

type RazorpayGateway struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
}

func NewRazorpayGateway(cfg RazorpayConfig) (*RazorpayGateway, error) {
	if strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.KeySecret) == "" {
		return nil, errors.New("razorpay: key id and secret are required")
	}
	g := &RazorpayGateway{
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    cfg.HTTPClient,
		timeout:       cfg.Timeout,
	}
	if g.baseURL == "" {
		g.baseURL = DefaultRazorpayBaseURL
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{}
	}
	if g.timeout <= 0 {
		g.timeout = 10 * time.Second
	}
	return g, nil
}

func (g *RazorpayGateway) Provider() Provider {
	return ProviderRazorpay
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *RazorpayGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Reference,
		Notes:    req.Notes,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("razorpay: failed to encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return Intent{}, fmt.Errorf("razorpay: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Intent{}, fmt.Errorf("razorpay: create order: %w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Intent{}, fmt.Errorf("razorpay: failed to read response: %w: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 300 {
		var apiErr razorpayErrorResponse
		_ = json.Unmarshal(raw, &apiErr)
		log.Error().Int("status", resp.StatusCode).Str("code", apiErr.Error.Code).Str("reference", req.Reference).Msg("razorpay: create order rejected")
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return Intent{}, fmt.Errorf("razorpay: create order: status %d: %w", resp.StatusCode, ErrTransient)
		}
		return Intent{}, fmt.Errorf("razorpay: create order: status %d: %s", resp.StatusCode, apiErr.Error.Description)
	}

	var order razorpayOrderResponse
	if err := json.Unmarshal(raw, &order); err != nil {
		return Intent{}, fmt.Errorf("razorpay: failed to decode order: %w", err)
	}
	if order.ID == "" {
		return Intent{}, errors.New("razorpay: order response without id")
	}

	return Intent{
		Provider:       ProviderRazorpay,
		GatewayOrderID: order.ID,
		AmountMinor:    order.Amount,
		Currency:       order.Currency,
	}, nil
}

// VerifyWebhook checks the hex HMAC-SHA256 of the raw body against the
// X-Razorpay-Signature header.
func (g *RazorpayGateway) VerifyWebhook(payload []byte, header http.Header) error {
	if g.webhookSecret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	if !VerifyHMACSHA256(payload, header.Get(RazorpaySignatureHeader), g.webhookSecret) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyHMACSHA256 reports whether signature is the hex-encoded HMAC-SHA256
// of payload under secret. The comparison is constant time.
func VerifyHMACSHA256(payload []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

func SignHMACSHA256(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string        `json:"id"`
				OrderID string        `json:"order_id"`
				Amount  int64         `json:"amount"`
				Status  string        `json:"status"`
				Notes   razorpayNotes `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// razorpayNotes accepts the notes object as well as the empty array Razorpay
// sends for entities created without notes.
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	notes := razorpayNotes{}
	switch v := raw.(type) {
	case map[string]any:
		for key, value := range v {
			switch value := value.(type) {
			case nil:
			case string:
				notes[key] = value
			default:
				notes[key] = fmt.Sprint(value)
			}
		}
	case []any, nil:
	default:
		return fmt.Errorf("unexpected notes value of type %T", raw)
	}
	*n = notes
	return nil
}

func (g *RazorpayGateway) ParseWebhook(payload []byte) (Event, error) {
	var wh razorpayWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if wh.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	entity := wh.Payload.Payment.Entity
	ev := Event{
		Kind:             EventUnknown,
		Provider:         ProviderRazorpay,
		RawType:          wh.Event,
		GatewayPaymentID: entity.ID,
		GatewayOrderID:   entity.OrderID,
		OrderNumber:      entity.Notes["order_number"],
		AmountMinor:      entity.Amount,
	}

	switch wh.Event {
	case "payment.captured", "payment.authorized", "order.paid":
		ev.Kind = EventPaymentSucceeded
	case "payment.failed":
		ev.Kind = EventPaymentFailed
	}
	return ev, nil
}
