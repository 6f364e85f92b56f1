package settlement

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"fundline/internal/domain"
	"fundline/internal/ledger"
	"fundline/internal/metrics"
)

// Dispatcher routes raw provider notifications through the matching
// verifier and into the ledger.
type Dispatcher struct {
	Ledger    *ledger.Ledger
	Metrics   *metrics.Metrics
	Now       func() time.Time
	verifiers map[domain.Provider]Verifier
}

func NewDispatcher(l *ledger.Ledger, m *metrics.Metrics, verifiers ...Verifier) *Dispatcher {
	d := &Dispatcher{
		Ledger:    l,
		Metrics:   m,
		Now:       time.Now,
		verifiers: make(map[domain.Provider]Verifier, len(verifiers)),
	}
	for _, v := range verifiers {
		d.verifiers[v.Provider()] = v
	}
	return d
}

// ErrVerification wraps any authentication failure. Callers must answer
// these uniformly so the HTTP response does not leak which check failed.
var ErrVerification = errors.New("verification failed")

// HandleSettlement verifies and applies one raw notification. Verification
// failures come back as ErrVerification; everything downstream is reported
// through the ApplyResult.
func (d *Dispatcher) HandleSettlement(provider domain.Provider, header http.Header, body []byte) (ledger.ApplyResult, error) {
	v, ok := d.verifiers[provider]
	if !ok {
		return ledger.ApplyResult{}, fmt.Errorf("no verifier for provider %q", provider)
	}
	ev, err := v.Verify(header, body, d.Now())
	if err != nil {
		log.Printf("settlement: %s verification rejected: %v", provider, err)
		d.count(provider, string(ledger.StatusVerificationFailed))
		return ledger.ApplyResult{Status: ledger.StatusVerificationFailed, Reason: err.Error()},
			fmt.Errorf("%w: %v", ErrVerification, err)
	}

	res, err := d.Ledger.ApplySettlement(ev)
	if err != nil {
		return ledger.ApplyResult{}, err
	}
	d.count(provider, string(res.Status))
	log.Printf("settlement: %s event %s -> %s (intent %s)", provider, ev.EventID, res.Status, res.IntentID)
	return res, nil
}

func (d *Dispatcher) count(provider domain.Provider, outcome string) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.Settlements.WithLabelValues(string(provider), outcome).Inc()
}
