package fundlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Fundline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents a catalog entry.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	FundingGoal int64  `json:"funding_goal"`
	Currency    string `json:"currency"`
}

// Intent represents a funding attempt.
type Intent struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	Amount            int64   `json:"amount"`
	Currency          string  `json:"currency"`
	Provider          string  `json:"provider"`
	ProviderReference *string `json:"provider_reference,omitempty"`
	State             string  `json:"state"`
	SupporterName     string  `json:"supporter_name,omitempty"`
	SupporterEmail    string  `json:"supporter_email,omitempty"`
	Message           string  `json:"message,omitempty"`
	CreatedAt         string  `json:"created_at"`
	SettledAt         *string `json:"settled_at,omitempty"`
}

// CreatedIntent wraps the create response, including the checkout redirect
// when one was opened.
type CreatedIntent struct {
	Intent      Intent `json:"intent"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// AuditEntry represents one applied transition.
type AuditEntry struct {
	ID        int64  `json:"id"`
	IntentID  string `json:"intent_id"`
	EventID   string `json:"event_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	TS        string `json:"ts"`
}

// ProjectTotals represents the funding projection for a project.
type ProjectTotals struct {
	ProjectID       string  `json:"project_id"`
	ConfirmedAmount int64   `json:"confirmed_amount"`
	Currency        string  `json:"currency"`
	FundingGoal     int64   `json:"funding_goal"`
	PercentOfGoal   float64 `json:"percent_of_goal"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIntentParams are the create-intent request fields.
type CreateIntentParams struct {
	ProjectID      string `json:"project_id"`
	Amount         int64  `json:"amount"`
	Provider       string `json:"provider"`
	SupporterName  string `json:"supporter_name,omitempty"`
	SupporterEmail string `json:"supporter_email,omitempty"`
	Message        string `json:"message,omitempty"`
	OpenCheckout   bool   `json:"open_checkout,omitempty"`
}

// CreateIntent opens a new funding intent.
func (c *Client) CreateIntent(ctx context.Context, p CreateIntentParams) (CreatedIntent, error) {
	var resp CreatedIntent
	err := c.do(ctx, http.MethodPost, "v1/intents", p, &resp)
	return resp, err
}

// GetIntent fetches an intent by id.
func (c *Client) GetIntent(ctx context.Context, id string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodGet, "v1/intents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListIntents returns intents, optionally filtered by project.
func (c *Client) ListIntents(ctx context.Context, projectID string) ([]Intent, error) {
	endpoint := "v1/intents"
	if projectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(projectID)
	}
	var resp []Intent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AttachReference binds a provider checkout reference to an intent.
func (c *Client) AttachReference(ctx context.Context, intentID, reference string) (Intent, error) {
	body := map[string]string{"provider_reference": reference}
	var resp Intent
	endpoint := fmt.Sprintf("v1/intents/%s/reference", url.PathEscape(intentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// IntentAudit returns the intent's transition trail.
func (c *Client) IntentAudit(ctx context.Context, intentID string) ([]AuditEntry, error) {
	var resp []AuditEntry
	endpoint := fmt.Sprintf("v1/intents/%s/audit", url.PathEscape(intentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListProjects returns the project catalog.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v1/projects", nil, &resp)
	return resp, err
}

// ProjectTotals returns the funding projection for one project.
func (c *Client) ProjectTotals(ctx context.Context, projectID string) (ProjectTotals, error) {
	var resp ProjectTotals
	endpoint := fmt.Sprintf("v1/projects/%s/totals", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Event represents one activity log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// ListEvents tails the activity log, newest first.
func (c *Client) ListEvents(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v1/events?limit=%d", limit)
	if projectID != "" {
		endpoint += "&project_id=" + url.QueryEscape(projectID)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AllTotals returns funding projections for every project.
func (c *Client) AllTotals(ctx context.Context) ([]ProjectTotals, error) {
	var resp []ProjectTotals
	err := c.do(ctx, http.MethodGet, "v1/totals", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
