package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/seujia/storefront/internal/shipping"
)

const (
	DefaultBaseURL = "https://apiv2.shiprocket.in/v1/external"

	// Tokens are valid for ten days; refresh a day early.
	tokenLifetime = 9 * 24 * time.Hour
)

var (
	ErrAuthFailed    = errors.New("shiprocket authentication failed")
	ErrNotConfigured = errors.New("shiprocket credentials not configured")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shiprocket: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	timeout    time.Duration
	maxTries   uint
	retryDelay time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time
	group  singleflight.Group
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(maxTries uint, initialDelay time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.retryDelay = initialDelay
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(email, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		email:      email,
		password:   password,
		httpClient: &http.Client{},
		timeout:    10 * time.Second,
		maxTries:   3,
		retryDelay: 200 * time.Millisecond,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.token != "" && c.now().Before(c.expiry) {
		token := c.token
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("login", func() (any, error) {
		c.mu.RLock()
		if c.token != "" && c.now().Before(c.expiry) {
			token := c.token
			c.mu.RUnlock()
			return token, nil
		}
		c.mu.RUnlock()

		token, err := c.login(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.token = token
		c.expiry = c.now().Add(tokenLifetime)
		c.mu.Unlock()

		log.Info().Msg("shiprocket: authenticated")
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}

func (c *Client) login(ctx context.Context) (string, error) {
	if c.email == "" || c.password == "" {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return "", fmt.Errorf("shiprocket: failed to encode login: %w", err)
	}

	body, err := c.send(ctx, http.MethodPost, "/auth/login", payload, "")
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("shiprocket: failed to decode login response: %w", err)
	}
	if resp.Token == "" {
		return "", ErrAuthFailed
	}
	return resp.Token, nil
}

// get performs an authenticated GET, refreshing the token once on 401.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.send(ctx, http.MethodGet, path, nil, token)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
		if token, err = c.authToken(ctx); err != nil {
			return nil, err
		}
		return c.send(ctx, http.MethodGet, path, nil, token)
	}
	return body, err
}

// send executes one logical request with retries. Network errors, 429 and
// 5xx responses are retried; other 4xx responses are returned immediately.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay

	return backoff.Retry(ctx, func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("shiprocket: failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("shiprocket: request failed")
			return nil, fmt.Errorf("shiprocket: request %s: %w", path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("shiprocket: failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			se := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
			if se.Temporary() {
				log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("shiprocket: transient error")
				return nil, se
			}
			return nil, backoff.Permanent(se)
		}
		return body, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
}

type serviceabilityResponse struct {
	Data struct {
		AvailableCourierCompanies []struct {
			CourierName   string          `json:"courier_name"`
			FreightCharge decimal.Decimal `json:"freight_charge"`
			CODCharges    decimal.Decimal `json:"cod_charges"`
			ETD           string          `json:"etd"`
		} `json:"available_courier_companies"`
	} `json:"data"`
}

// Quote returns the cheapest serviceable courier for the shipment.
func (c *Client) Quote(ctx context.Context, req shipping.RateRequest) (shipping.CarrierRate, error) {
	q := url.Values{}
	q.Set("pickup_postcode", req.PickupPincode)
	q.Set("delivery_postcode", req.DeliveryPincode)
	q.Set("weight", strconv.FormatFloat(req.WeightKg, 'f', -1, 64))
	cod := "0"
	if req.IsCOD {
		cod = "1"
	}
	q.Set("cod", cod)

	body, err := c.get(ctx, "/courier/serviceability/?"+q.Encode())
	if err != nil {
		return shipping.CarrierRate{}, err
	}

	var resp serviceabilityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return shipping.CarrierRate{}, fmt.Errorf("shiprocket: failed to decode serviceability: %w", err)
	}

	var (
		best  shipping.CarrierRate
		found bool
	)
	for _, cc := range resp.Data.AvailableCourierCompanies {
		rate := shipping.CarrierRate{
			CarrierName:   cc.CourierName,
			ETA:           cc.ETD,
			FreightCharge: cc.FreightCharge,
			CODCharge:     cc.CODCharges,
		}
		if !req.IsCOD {
			rate.CODCharge = decimal.Zero
		}
		if !found || rate.Total(req.IsCOD).LessThan(best.Total(req.IsCOD)) {
			best, found = rate, true
		}
	}
	if !found {
		return shipping.CarrierRate{}, shipping.ErrNoCarrier
	}
	return best, nil
}

type trackingResponse struct {
	TrackingData struct {
		ShipmentStatus any `json:"shipment_status"`
		ShipmentTrack  []struct {
			AWBCode       string  `json:"awb_code"`
			CourierName   string  `json:"courier_name"`
			CurrentStatus string  `json:"current_status"`
			Origin        string  `json:"origin"`
			Destination   string  `json:"destination"`
			DeliveredDate *string `json:"delivered_date"`
			EDD           *string `json:"edd"`
		} `json:"shipment_track"`
		Activities []struct {
			Date     string `json:"date"`
			Status   string `json:"status"`
			Activity string `json:"activity"`
			Location string `json:"location"`
		} `json:"shipment_track_activities"`
		Error string `json:"error"`
	} `json:"tracking_data"`
}

func (c *Client) TrackByAWB(ctx context.Context, awb string) (shipping.Tracking, error) {
	awb = strings.TrimSpace(awb)
	if awb == "" {
		return shipping.Tracking{}, shipping.ErrShipmentNotFound
	}

	body, err := c.get(ctx, "/courier/track/awb/"+url.PathEscape(awb))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return shipping.Tracking{}, shipping.ErrShipmentNotFound
		}
		return shipping.Tracking{}, err
	}

	var resp trackingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return shipping.Tracking{}, fmt.Errorf("shiprocket: failed to decode tracking: %w", err)
	}

	td := resp.TrackingData
	if len(td.ShipmentTrack) == 0 && len(td.Activities) == 0 {
		if td.Error != "" {
			log.Info().Str("awb", awb).Str("reason", td.Error).Msg("shiprocket: no tracking data")
		}
		return shipping.Tracking{}, shipping.ErrShipmentNotFound
	}

	t := shipping.Tracking{AWB: awb, History: make([]shipping.TrackingEvent, 0, len(td.Activities))}
	if len(td.ShipmentTrack) > 0 {
		st := td.ShipmentTrack[0]
		t.Courier = st.CourierName
		t.CurrentStatus = st.CurrentStatus
		t.Origin = st.Origin
		t.Destination = st.Destination
		if st.EDD != nil {
			t.ETA = *st.EDD
		}
		if st.DeliveredDate != nil && *st.DeliveredDate != "" {
			t.DeliveredAt = st.DeliveredDate
		}
	}
	for _, a := range td.Activities {
		t.History = append(t.History, shipping.TrackingEvent{
			Date:     a.Date,
			Status:   a.Status,
			Activity: a.Activity,
			Location: a.Location,
		})
	}
	if t.CurrentStatus == "" && len(t.History) > 0 {
		t.CurrentStatus = t.History[0].Activity
	}
	return t, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
