package settlement

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"fundline/internal/domain"
)

var paypalNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func paypalHeaders(secret, id string, ts time.Time, body []byte) http.Header {
	tt := ts.UTC().Format(time.RFC3339)
	h := http.Header{}
	h.Set("Paypal-Transmission-Id", id)
	h.Set("Paypal-Transmission-Time", tt)
	h.Set("Paypal-Transmission-Sig", SignPayPal(secret, id, tt, body))
	return h
}

func TestPayPalVerifyCompleted(t *testing.T) {
	v := NewPayPalVerifier("pp_secret")
	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","resource":{"parent_payment":"PAY-1"}}`)

	ev, err := v.Verify(paypalHeaders("pp_secret", "tx-1", paypalNow, body), body, paypalNow)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.EventID != "WH-1" || ev.ProviderReference != "PAY-1" {
		t.Fatalf("decoded event = %+v", ev)
	}
	if ev.Outcome != domain.OutcomeSucceeded {
		t.Fatalf("outcome = %s, want succeeded", ev.Outcome)
	}
	if ev.Provider != domain.ProviderPayPal {
		t.Fatalf("provider = %s", ev.Provider)
	}
}

func TestPayPalVerifyOutcomeMapping(t *testing.T) {
	v := NewPayPalVerifier("pp_secret")
	cases := []struct {
		eventType string
		want      domain.Outcome
	}{
		{"PAYMENT.SALE.DENIED", domain.OutcomeFailed},
		{"PAYMENT.SALE.REFUNDED", domain.OutcomeReversed},
	}
	for _, tc := range cases {
		body := []byte(`{"id":"WH-m","event_type":"` + tc.eventType + `","resource":{"parent_payment":"PAY-m"}}`)
		ev, err := v.Verify(paypalHeaders("pp_secret", "tx-m", paypalNow, body), body, paypalNow)
		if err != nil {
			t.Fatalf("%s: %v", tc.eventType, err)
		}
		if ev.Outcome != tc.want {
			t.Fatalf("%s: outcome = %s, want %s", tc.eventType, ev.Outcome, tc.want)
		}
	}
}

func TestPayPalVerifyRejections(t *testing.T) {
	v := NewPayPalVerifier("pp_secret")
	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","resource":{"parent_payment":"PAY-1"}}`)

	if _, err := v.Verify(http.Header{}, body, paypalNow); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("missing headers: %v", err)
	}

	_, err := v.Verify(paypalHeaders("other", "tx-1", paypalNow, body), body, paypalNow)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong secret: %v", err)
	}

	// transmission id is part of the signed material
	h := paypalHeaders("pp_secret", "tx-1", paypalNow, body)
	h.Set("Paypal-Transmission-Id", "tx-2")
	if _, err := v.Verify(h, body, paypalNow); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("swapped transmission id: %v", err)
	}

	old := paypalNow.Add(-10 * time.Minute)
	if _, err := v.Verify(paypalHeaders("pp_secret", "tx-1", old, body), body, paypalNow); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("stale: %v", err)
	}
}

func TestPayPalVerifyUnknownAndMalformed(t *testing.T) {
	v := NewPayPalVerifier("pp_secret")

	body := []byte(`{"id":"WH-1","event_type":"BILLING.PLAN.CREATED","resource":{"parent_payment":"PAY-1"}}`)
	_, err := v.Verify(paypalHeaders("pp_secret", "tx-1", paypalNow, body), body, paypalNow)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("unmapped type: %v", err)
	}

	body = []byte(`{"event_type":"PAYMENT.SALE.COMPLETED","resource":{}}`)
	_, err = v.Verify(paypalHeaders("pp_secret", "tx-1", paypalNow, body), body, paypalNow)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("missing ids: %v", err)
	}
}
