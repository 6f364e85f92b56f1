package events

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Event types written to the activity log.
const (
	TypeIntentCreated      = "intent.created"
	TypeReferenceAttached  = "reference.attached"
	TypeSettlementApplied  = "settlement.applied"
	TypeSettlementRejected = "settlement.rejected"
)

// Writer appends rows to the events table. Writes happen inside the same
// transaction as the state change they describe.
type Writer struct {
	Now func() time.Time
}

func NewWriter(now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{Now: now}
}

type Entry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	Payload    any
}

// WriteTx appends one entry within tx.
func (w *Writer) WriteTx(tx *sql.Tx, e Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err = tx.Exec(
		`INSERT INTO events (ts, type, project_id, entity_kind, entity_id, payload_json) VALUES (?, ?, ?, ?, ?, ?)`,
		ts, e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), string(payload),
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
