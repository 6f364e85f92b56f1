package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fundline/internal/domain"
)

// PayPalVerifier checks transmission headers: HMAC-SHA256 over
// "<transmission_id>|<transmission_time>|<body>" keyed by the webhook
// secret, with an RFC 3339 transmission time inside the replay window.
type PayPalVerifier struct {
	Secret string
}

func NewPayPalVerifier(secret string) *PayPalVerifier {
	return &PayPalVerifier{Secret: secret}
}

func (v *PayPalVerifier) Provider() domain.Provider {
	return domain.ProviderPayPal
}

var paypalOutcomes = map[string]domain.Outcome{
	"PAYMENT.SALE.COMPLETED": domain.OutcomeSucceeded,
	"PAYMENT.SALE.DENIED":    domain.OutcomeFailed,
	"PAYMENT.SALE.REFUNDED":  domain.OutcomeReversed,
}

type paypalEnvelope struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ParentPayment string `json:"parent_payment"`
	} `json:"resource"`
}

func (v *PayPalVerifier) Verify(header http.Header, body []byte, now time.Time) (domain.SettlementEvent, error) {
	id := header.Get("Paypal-Transmission-Id")
	tt := header.Get("Paypal-Transmission-Time")
	sig := header.Get("Paypal-Transmission-Sig")
	if id == "" || tt == "" || sig == "" {
		return domain.SettlementEvent{}, ErrMissingSignature
	}
	ts, err := time.Parse(time.RFC3339, tt)
	if err != nil {
		return domain.SettlementEvent{}, fmt.Errorf("%w: bad transmission time", ErrMissingSignature)
	}
	if !withinTolerance(ts, now) {
		return domain.SettlementEvent{}, ErrStaleTimestamp
	}
	if !hmac.Equal([]byte(sig), []byte(paypalMAC(v.Secret, id, tt, body))) {
		return domain.SettlementEvent{}, ErrBadSignature
	}

	var env paypalEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.SettlementEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.ID == "" || env.Resource.ParentPayment == "" {
		return domain.SettlementEvent{}, ErrMalformedPayload
	}
	outcome, ok := paypalOutcomes[env.EventType]
	if !ok {
		return domain.SettlementEvent{}, fmt.Errorf("%w: %s", ErrUnknownEvent, env.EventType)
	}
	return domain.SettlementEvent{
		EventID:           env.ID,
		Provider:          domain.ProviderPayPal,
		ProviderReference: env.Resource.ParentPayment,
		Outcome:           outcome,
		ReceivedAt:        now.UTC().Format(time.RFC3339),
	}, nil
}

func paypalMAC(secret, transmissionID, transmissionTime string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%s|%s|", transmissionID, transmissionTime)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// SignPayPal returns the transmission signature for the given material.
// Used by tests and the local replay tool.
func SignPayPal(secret, transmissionID, transmissionTime string, body []byte) string {
	return paypalMAC(secret, transmissionID, transmissionTime, body)
}
