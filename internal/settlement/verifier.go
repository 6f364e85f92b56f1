package settlement

import (
	"errors"
	"net/http"
	"time"

	"fundline/internal/domain"
)

// Tolerance bounds how stale a signed notification may be before it is
// treated as a replay.
const Tolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrStaleTimestamp   = errors.New("timestamp outside tolerance")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownEvent     = errors.New("unknown event type")
)

// Verifier authenticates a raw provider notification and decodes it into a
// canonical settlement event. Verification failures must not be
// distinguishable by cause to the caller's HTTP client.
type Verifier interface {
	Provider() domain.Provider
	Verify(header http.Header, body []byte, now time.Time) (domain.SettlementEvent, error)
}

func withinTolerance(ts, now time.Time) bool {
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d <= Tolerance
}
