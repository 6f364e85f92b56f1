package repo

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fundline/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repo wraps all SQL access. Methods with a Tx suffix run inside a caller
// supplied transaction; the rest use the pooled connection directly.
type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// --- projects ---

// UpsertProject inserts or refreshes a catalog project. Called at startup
// when seeding from config.
func (r *Repo) UpsertProject(p domain.Project) error {
	_, err := r.DB.Exec(`
		INSERT INTO projects (id, name, description, funding_goal, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			description=excluded.description,
			funding_goal=excluded.funding_goal,
			currency=excluded.currency`,
		p.ID, p.Name, nullable(p.Description), p.FundingGoal, p.Currency, p.CreatedAt,
	)
	return err
}

func (r *Repo) GetProject(id string) (domain.Project, error) {
	row := r.DB.QueryRow(`
		SELECT id, name, description, funding_goal, currency, created_at
		FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

func (r *Repo) ListProjects() ([]domain.Project, error) {
	rows, err := r.DB.Query(`
		SELECT id, name, description, funding_goal, currency, created_at
		FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := row.Scan(&p.ID, &p.Name, &desc, &p.FundingGoal, &p.Currency, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Description = desc.String
	return p, nil
}

// --- intents ---

func (r *Repo) InsertIntentTx(tx *sql.Tx, in domain.Intent) error {
	_, err := tx.Exec(`
		INSERT INTO intents (id, project_id, amount, currency, provider, provider_reference, state,
			supporter_name, supporter_email, message, created_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.ProjectID, in.Amount, in.Currency, string(in.Provider),
		in.ProviderReference, string(in.State),
		nullable(in.SupporterName), nullable(in.SupporterEmail), nullable(in.Message),
		in.CreatedAt, in.SettledAt,
	)
	return err
}

const intentColumns = `id, project_id, amount, currency, provider, provider_reference, state,
	supporter_name, supporter_email, message, created_at, settled_at`

func (r *Repo) GetIntent(id string) (domain.Intent, error) {
	row := r.DB.QueryRow(`SELECT `+intentColumns+` FROM intents WHERE id = ?`, id)
	return scanIntent(row)
}

func (r *Repo) GetIntentTx(tx *sql.Tx, id string) (domain.Intent, error) {
	row := tx.QueryRow(`SELECT `+intentColumns+` FROM intents WHERE id = ?`, id)
	return scanIntent(row)
}

// FindByProviderReferenceTx resolves an intent from a verified settlement
// event. The (provider, provider_reference) pair is unique by schema.
func (r *Repo) FindByProviderReferenceTx(tx *sql.Tx, provider domain.Provider, ref string) (domain.Intent, error) {
	row := tx.QueryRow(`SELECT `+intentColumns+` FROM intents WHERE provider = ? AND provider_reference = ?`,
		string(provider), ref)
	return scanIntent(row)
}

// IntentFilter narrows ListIntents. Zero values mean no filtering.
type IntentFilter struct {
	ProjectID string
	State     domain.IntentState
	Provider  domain.Provider
	Limit     int
}

func (r *Repo) ListIntents(f IntentFilter) ([]domain.Intent, error) {
	var where []string
	var args []any
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	if f.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, string(f.Provider))
	}
	q := `SELECT ` + intentColumns + ` FROM intents`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.DB.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []domain.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

// AttachProviderReferenceTx sets provider_reference once. Returns false
// when the intent already carries a reference (or does not exist; callers
// distinguish via GetIntentTx).
func (r *Repo) AttachProviderReferenceTx(tx *sql.Tx, id, ref string) (bool, error) {
	res, err := tx.Exec(
		`UPDATE intents SET provider_reference = ? WHERE id = ? AND provider_reference IS NULL`,
		ref, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateIntentStateTx moves an intent from one state to another with a
// compare-and-set guard. Returns false when the row was not in `from`.
func (r *Repo) UpdateIntentStateTx(tx *sql.Tx, id string, from, to domain.IntentState, settledAt *string) (bool, error) {
	res, err := tx.Exec(
		`UPDATE intents SET state = ?, settled_at = ? WHERE id = ? AND state = ?`,
		string(to), settledAt, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanIntent(row scanner) (domain.Intent, error) {
	var in domain.Intent
	var ref, name, email, msg, settled sql.NullString
	var provider, state string
	err := row.Scan(&in.ID, &in.ProjectID, &in.Amount, &in.Currency, &provider, &ref, &state,
		&name, &email, &msg, &in.CreatedAt, &settled)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.Provider = domain.Provider(provider)
	in.State = domain.IntentState(state)
	if ref.Valid {
		in.ProviderReference = &ref.String
	}
	in.SupporterName = name.String
	in.SupporterEmail = email.String
	in.Message = msg.String
	if settled.Valid {
		in.SettledAt = &settled.String
	}
	return in, nil
}

// --- audit ---

// HasAppliedEventTx reports whether event_id was already recorded for the
// intent. The audit table is the idempotency set.
func (r *Repo) HasAppliedEventTx(tx *sql.Tx, intentID, eventID string) (bool, error) {
	var n int
	err := tx.QueryRow(
		`SELECT COUNT(1) FROM intent_audit WHERE intent_id = ? AND event_id = ?`,
		intentID, eventID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) InsertAuditTx(tx *sql.Tx, a domain.AuditEntry) error {
	_, err := tx.Exec(
		`INSERT INTO intent_audit (intent_id, event_id, from_state, to_state, ts) VALUES (?, ?, ?, ?, ?)`,
		a.IntentID, a.EventID, string(a.FromState), string(a.ToState), a.TS)
	return err
}

func (r *Repo) ListAudit(intentID string) ([]domain.AuditEntry, error) {
	rows, err := r.DB.Query(`
		SELECT id, intent_id, event_id, from_state, to_state, ts
		FROM intent_audit WHERE intent_id = ? ORDER BY id`, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var a domain.AuditEntry
		var from, to string
		if err := rows.Scan(&a.ID, &a.IntentID, &a.EventID, &from, &to, &a.TS); err != nil {
			return nil, err
		}
		a.FromState = domain.IntentState(from)
		a.ToState = domain.IntentState(to)
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// --- totals ---

// ConfirmedTotal sums confirmed intent amounts for one project.
func (r *Repo) ConfirmedTotal(projectID string) (int64, error) {
	var total int64
	err := r.DB.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM intents
		WHERE project_id = ? AND state = ?`,
		projectID, string(domain.StateConfirmed)).Scan(&total)
	return total, err
}

// ConfirmedTotals sums confirmed intent amounts grouped by project.
func (r *Repo) ConfirmedTotals() (map[string]int64, error) {
	rows, err := r.DB.Query(`
		SELECT project_id, SUM(amount) FROM intents
		WHERE state = ? GROUP BY project_id`,
		string(domain.StateConfirmed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var id string
		var sum int64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		totals[id] = sum
	}
	return totals, rows.Err()
}

// --- events ---

// LatestEvents returns the most recent activity log entries, newest first.
// Empty projectID means all projects.
func (r *Repo) LatestEvents(projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, ts, type, project_id, entity_kind, entity_id, payload_json FROM events`
	var args []any
	if projectID != "" {
		q += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.DB.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var pid, eid sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &pid, &e.EntityKind, &eid, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = pid.String
		e.EntityID = eid.String
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Tx starts a transaction on the underlying connection.
func (r *Repo) Tx() (*sql.Tx, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}
