package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fundline/internal/domain"
)

// StripeVerifier checks Stripe-Signature headers: "t=<unix>,v1=<hex hmac>",
// HMAC-SHA256 over "<t>.<body>" keyed by the endpoint webhook secret.
type StripeVerifier struct {
	Secret string
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{Secret: secret}
}

func (v *StripeVerifier) Provider() domain.Provider {
	return domain.ProviderStripe
}

var stripeOutcomes = map[string]domain.Outcome{
	"checkout.session.completed":            domain.OutcomeSucceeded,
	"checkout.session.async_payment_failed": domain.OutcomeFailed,
	"charge.refunded":                       domain.OutcomeReversed,
}

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (v *StripeVerifier) Verify(header http.Header, body []byte, now time.Time) (domain.SettlementEvent, error) {
	sig := header.Get("Stripe-Signature")
	if sig == "" {
		return domain.SettlementEvent{}, ErrMissingSignature
	}
	ts, mac, err := parseStripeSignature(sig)
	if err != nil {
		return domain.SettlementEvent{}, err
	}
	if !withinTolerance(time.Unix(ts, 0), now) {
		return domain.SettlementEvent{}, ErrStaleTimestamp
	}
	expected := stripeMAC(v.Secret, ts, body)
	if !hmac.Equal([]byte(mac), []byte(expected)) {
		return domain.SettlementEvent{}, ErrBadSignature
	}

	var env stripeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.SettlementEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.ID == "" || env.Data.Object.ID == "" {
		return domain.SettlementEvent{}, ErrMalformedPayload
	}
	outcome, ok := stripeOutcomes[env.Type]
	if !ok {
		return domain.SettlementEvent{}, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Type)
	}
	return domain.SettlementEvent{
		EventID:           env.ID,
		Provider:          domain.ProviderStripe,
		ProviderReference: env.Data.Object.ID,
		Outcome:           outcome,
		ReceivedAt:        now.UTC().Format(time.RFC3339),
	}, nil
}

func parseStripeSignature(header string) (ts int64, mac string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", ErrMissingSignature)
			}
		case "v1":
			mac = v
		}
	}
	if ts == 0 || mac == "" {
		return 0, "", ErrMissingSignature
	}
	return ts, mac, nil
}

func stripeMAC(secret string, ts int64, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", ts)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// SignStripe builds a Stripe-Signature header value. Used by tests and the
// local replay tool.
func SignStripe(secret string, ts time.Time, body []byte) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, stripeMAC(secret, unix, body))
}
