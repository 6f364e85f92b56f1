package domain

// Provider identifies which external payment network an intent was opened
// against.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderPayPal
}

// IntentState is the lifecycle state of a funding intent.
// Pending -> Confirmed | Failed; Confirmed -> Reversed. Failed and Reversed
// are final.
type IntentState string

const (
	StatePending   IntentState = "pending"
	StateConfirmed IntentState = "confirmed"
	StateFailed    IntentState = "failed"
	StateReversed  IntentState = "reversed"
)

// Outcome is the canonical result claimed by a settlement event.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeReversed  Outcome = "reversed"
)

// Intent is a single funding attempt. Amounts are integer minor units
// (cents). ProviderReference is nil until the provider acknowledges the
// checkout session, and is set at most once.
type Intent struct {
	ID                string      `json:"id"`
	ProjectID         string      `json:"project_id"`
	Amount            int64       `json:"amount"`
	Currency          string      `json:"currency"`
	Provider          Provider    `json:"provider"`
	ProviderReference *string     `json:"provider_reference,omitempty"`
	State             IntentState `json:"state" enum:"pending,confirmed,failed,reversed"`
	SupporterName     string      `json:"supporter_name,omitempty"`
	SupporterEmail    string      `json:"supporter_email,omitempty"`
	Message           string      `json:"message,omitempty"`
	CreatedAt         string      `json:"created_at" format:"date-time"`
	SettledAt         *string     `json:"settled_at,omitempty" format:"date-time"`
}

// Project is static reference data loaded from config; the core never
// mutates it.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	FundingGoal int64  `json:"funding_goal"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// SettlementEvent is a decoded, verified provider notification. EventID is
// provider-assigned and is the deduplication key.
type SettlementEvent struct {
	EventID           string   `json:"event_id"`
	Provider          Provider `json:"provider"`
	ProviderReference string   `json:"provider_reference"`
	Outcome           Outcome  `json:"outcome" enum:"succeeded,failed,reversed"`
	ReceivedAt        string   `json:"received_at" format:"date-time"`
}

// AuditEntry records one applied transition. Entries are append-only; the
// (intent_id, event_id) pair is unique and doubles as the idempotency guard.
type AuditEntry struct {
	ID        int64       `json:"id"`
	IntentID  string      `json:"intent_id"`
	EventID   string      `json:"event_id"`
	FromState IntentState `json:"from_state"`
	ToState   IntentState `json:"to_state"`
	TS        string      `json:"ts" format:"date-time"`
}

// ProjectTotals is the read-side projection for one project. Percent is
// unrounded; presentation rounding belongs to callers.
type ProjectTotals struct {
	ProjectID       string  `json:"project_id"`
	ConfirmedAmount int64   `json:"confirmed_amount"`
	Currency        string  `json:"currency"`
	FundingGoal     int64   `json:"funding_goal"`
	PercentOfGoal   float64 `json:"percent_of_goal"`
}

// Event is one row of the append-only activity log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
