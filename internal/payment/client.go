// Package payment creates hosted checkout charges for tier upgrades.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"keisha/internal/domain"
)

const (
	defaultBaseURL = "https://api.commerce.coinbase.com"
	defaultTimeout = 20 * time.Second
	apiVersion     = "2018-03-22"
)

// Payment methods offered at checkout. Bitcoin carries a discount over
// the Cash App price.
const (
	MethodBitcoin = "bitcoin"
	MethodCashApp = "cashapp"
)

var ErrInvalidCharge = errors.New("payment: invalid charge request")

// methodPriceCents maps paid tiers to per-method prices. The catalog's
// PriceCents is the bitcoin baseline; Cash App checkout costs more.
var methodPriceCents = map[domain.Tier]map[string]int{
	domain.TierMonthly: {MethodBitcoin: 1000, MethodCashApp: 2000},
	domain.TierAnnual:  {MethodBitcoin: 10000, MethodCashApp: 15000},
}

type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to a Coinbase-Commerce-style charge API.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type ChargeRequest struct {
	IdentityID string
	Email      string
	Tier       domain.Tier
	Method     string
	ReturnURL  string
	CancelURL  string
}

// Charge is the created checkout session. HostedURL is where the client
// redirects the user to complete payment.
type Charge struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	HostedURL  string    `json:"hosted_url"`
	PriceCents int       `json:"price_cents"`
	Tier       string    `json:"tier"`
	Method     string    `json:"method"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type chargePayload struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  localPrice        `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	CancelURL   string            `json:"cancel_url,omitempty"`
}

type localPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type chargeResponse struct {
	Data struct {
		ID        string    `json:"id"`
		Code      string    `json:"code"`
		HostedURL string    `json:"hosted_url"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"data"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("payment: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{apiKey: opts.APIKey, baseURL: baseURL, client: client}, nil
}

// PriceCents returns the checkout price for a tier and method. ok is
// false for free tiers or unknown methods.
func PriceCents(tier domain.Tier, method string) (int, bool) {
	prices, ok := methodPriceCents[tier]
	if !ok {
		return 0, false
	}
	cents, ok := prices[method]
	return cents, ok
}

func validate(req ChargeRequest) error {
	if strings.TrimSpace(req.IdentityID) == "" {
		return fmt.Errorf("%w: identity id is required", ErrInvalidCharge)
	}
	if _, ok := methodPriceCents[req.Tier]; !ok {
		return fmt.Errorf("%w: tier %q is not purchasable", ErrInvalidCharge, req.Tier)
	}
	if req.Method != MethodBitcoin && req.Method != MethodCashApp {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidCharge, req.Method)
	}
	if req.ReturnURL == "" || req.CancelURL == "" {
		return fmt.Errorf("%w: return and cancel urls are required", ErrInvalidCharge)
	}
	return nil
}

// CreateCharge creates a hosted checkout charge for the requested tier.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	cents, _ := PriceCents(req.Tier, req.Method)
	payload := chargePayload{
		Name:        fmt.Sprintf("Keisha %s plan", req.Tier),
		Description: fmt.Sprintf("%s subscription via %s", req.Tier, req.Method),
		PricingType: "fixed_price",
		LocalPrice: localPrice{
			Amount:   fmt.Sprintf("%d.%02d", cents/100, cents%100),
			Currency: "USD",
		},
		Metadata: map[string]string{
			"identity_id": req.IdentityID,
			"email":       req.Email,
			"tier":        string(req.Tier),
			"method":      req.Method,
		},
		RedirectURL: req.ReturnURL,
		CancelURL:   req.CancelURL,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("payment: encode charge: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", &buf)
	if err != nil {
		return nil, fmt.Errorf("payment: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-CC-Api-Key", c.apiKey)
	httpReq.Header.Set("X-CC-Version", apiVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProviderFailure, err)
	}
	var out chargeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProviderFailure, err)
	}
	if resp.StatusCode >= 300 {
		msg := out.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: create charge: %s", domain.ErrProviderFailure, msg)
	}
	if out.Data.HostedURL == "" {
		return nil, fmt.Errorf("%w: charge response missing hosted url", domain.ErrProviderFailure)
	}
	return &Charge{
		ID:         out.Data.ID,
		Code:       out.Data.Code,
		HostedURL:  out.Data.HostedURL,
		PriceCents: cents,
		Tier:       string(req.Tier),
		Method:     req.Method,
		ExpiresAt:  out.Data.ExpiresAt,
	}, nil
}
