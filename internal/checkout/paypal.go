package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fundline/internal/config"
	"fundline/internal/domain"
)

// PayPalClient opens payments via the PayPal REST API. An OAuth client
// credentials token is fetched per call; tokens are short-lived and calls
// are rare enough that caching is not worth the state.
type PayPalClient struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	SuccessURL   string
	CancelURL    string
	HTTP         *http.Client
}

func NewPayPalClient(cfg *config.Config) *PayPalClient {
	base := cfg.Providers.PayPal.APIBaseURL
	if base == "" {
		base = "https://api.sandbox.paypal.com"
	}
	return &PayPalClient{
		ClientID:     cfg.Providers.PayPal.ClientID,
		ClientSecret: cfg.Providers.PayPal.ClientSecret,
		BaseURL:      strings.TrimRight(base, "/"),
		SuccessURL:   cfg.Checkout.SuccessURL,
		CancelURL:    cfg.Checkout.CancelURL,
		HTTP:         &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *PayPalClient) Provider() domain.Provider {
	return domain.ProviderPayPal
}

func (c *PayPalClient) token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token: status %d: %s", resp.StatusCode, truncate(body))
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("paypal token: empty access_token")
	}
	return out.AccessToken, nil
}

func (c *PayPalClient) Open(ctx context.Context, intent domain.Intent, project domain.Project) (Session, error) {
	token, err := c.token(ctx)
	if err != nil {
		return Session{}, err
	}

	payload := map[string]any{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"redirect_urls": map[string]string{
			"return_url": c.SuccessURL,
			"cancel_url": c.CancelURL,
		},
		"transactions": []map[string]any{{
			"amount": map[string]string{
				"total":    fmt.Sprintf("%d.%02d", intent.Amount/100, intent.Amount%100),
				"currency": intent.Currency,
			},
			"description": "Contribution to " + project.Name,
			"custom":      intent.ID,
		}},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v1/payments/payment", bytes.NewReader(raw))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("paypal payment: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("paypal payment: status %d: %s", resp.StatusCode, truncate(body))
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Session{}, fmt.Errorf("paypal payment: decode response: %w", err)
	}
	if out.ID == "" {
		return Session{}, fmt.Errorf("paypal payment: response missing payment id")
	}
	s := Session{Reference: out.ID}
	for _, l := range out.Links {
		if l.Rel == "approval_url" {
			s.RedirectURL = l.Href
			break
		}
	}
	return s, nil
}
