package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fundline/internal/config"
	"fundline/internal/domain"
)

// StripeClient opens hosted checkout sessions via the Stripe API.
type StripeClient struct {
	APIKey     string
	BaseURL    string
	SuccessURL string
	CancelURL  string
	HTTP       *http.Client
}

func NewStripeClient(cfg *config.Config) *StripeClient {
	base := cfg.Providers.Stripe.APIBaseURL
	if base == "" {
		base = "https://api.stripe.com"
	}
	return &StripeClient{
		APIKey:     cfg.Providers.Stripe.APIKey,
		BaseURL:    strings.TrimRight(base, "/"),
		SuccessURL: cfg.Checkout.SuccessURL,
		CancelURL:  cfg.Checkout.CancelURL,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *StripeClient) Provider() domain.Provider {
	return domain.ProviderStripe
}

func (c *StripeClient) Open(ctx context.Context, intent domain.Intent, project domain.Project) (Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", c.SuccessURL)
	form.Set("cancel_url", c.CancelURL)
	form.Set("client_reference_id", intent.ID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(intent.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(intent.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", "Contribution to "+project.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("stripe checkout: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("stripe checkout: status %d: %s", resp.StatusCode, truncate(body))
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Session{}, fmt.Errorf("stripe checkout: decode response: %w", err)
	}
	if out.ID == "" {
		return Session{}, fmt.Errorf("stripe checkout: response missing session id")
	}
	return Session{Reference: out.ID, RedirectURL: out.URL}, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
