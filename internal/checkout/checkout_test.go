package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fundline/internal/config"
	"fundline/internal/domain"
)

var testIntent = domain.Intent{
	ID:        "intent-1",
	ProjectID: "project_1",
	Amount:    2500,
	Currency:  "USD",
}

var testProject = domain.Project{
	ID:       "project_1",
	Name:     "Open Source Project 1",
	Currency: "USD",
}

func TestStripeClientOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("auth header = %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("line_items[0][price_data][unit_amount]"); got != "2500" {
			t.Errorf("unit_amount = %q", got)
		}
		if got := r.PostForm.Get("client_reference_id"); got != "intent-1" {
			t.Errorf("client_reference_id = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_test_1",
			"url": "https://checkout.stripe.test/pay/cs_test_1",
		})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Providers.Stripe.APIKey = "sk_test"
	cfg.Providers.Stripe.APIBaseURL = srv.URL
	c := NewStripeClient(cfg)

	s, err := c.Open(context.Background(), testIntent, testProject)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Reference != "cs_test_1" {
		t.Fatalf("reference = %s", s.Reference)
	}
	if s.RedirectURL == "" {
		t.Fatalf("redirect url missing")
	}
}

func TestStripeClientOpenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Providers.Stripe.APIBaseURL = srv.URL
	c := NewStripeClient(cfg)
	if _, err := c.Open(context.Background(), testIntent, testProject); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestPayPalClientOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			user, pass, _ := r.BasicAuth()
			if user != "client-id" || pass != "client-secret" {
				t.Errorf("basic auth = %s:%s", user, pass)
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok_1"})
		case "/v1/payments/payment":
			if got := r.Header.Get("Authorization"); got != "Bearer tok_1" {
				t.Errorf("auth header = %q", got)
			}
			var payload struct {
				Transactions []struct {
					Amount struct {
						Total string `json:"total"`
					} `json:"amount"`
				} `json:"transactions"`
			}
			json.NewDecoder(r.Body).Decode(&payload)
			if len(payload.Transactions) != 1 || payload.Transactions[0].Amount.Total != "25.00" {
				t.Errorf("payload = %+v", payload)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"id": "PAY-1",
				"links": []map[string]string{
					{"rel": "self", "href": "https://paypal.test/self"},
					{"rel": "approval_url", "href": "https://paypal.test/approve"},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Providers.PayPal.ClientID = "client-id"
	cfg.Providers.PayPal.ClientSecret = "client-secret"
	cfg.Providers.PayPal.APIBaseURL = srv.URL
	c := NewPayPalClient(cfg)

	s, err := c.Open(context.Background(), testIntent, testProject)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Reference != "PAY-1" {
		t.Fatalf("reference = %s", s.Reference)
	}
	if s.RedirectURL != "https://paypal.test/approve" {
		t.Fatalf("redirect = %s", s.RedirectURL)
	}
}

func TestRegistryLookup(t *testing.T) {
	cfg := config.Default()
	reg := NewRegistry(NewStripeClient(cfg), NewPayPalClient(cfg))
	if _, err := reg.For(domain.ProviderStripe); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.For("venmo"); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
