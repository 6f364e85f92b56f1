package ledger

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"fundline/internal/config"
	"fundline/internal/domain"
	"fundline/internal/events"
	"fundline/internal/repo"
)

// Ledger holds the funding-intent state machine and its persistence.
// Settlement application runs in a single transaction together with its
// audit and activity-log rows.
type Ledger struct {
	DB     *sql.DB
	Repo   *repo.Repo
	Events *events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, r *repo.Repo, w *events.Writer, cfg *config.Config) *Ledger {
	return &Ledger{
		DB:     db,
		Repo:   r,
		Events: w,
		Config: cfg,
		Now:    time.Now,
	}
}

func (l *Ledger) now() string {
	return l.Now().UTC().Format(time.RFC3339)
}

// SeedProjects syncs the config project catalog into the database. Existing
// rows keep their created_at.
func (l *Ledger) SeedProjects() error {
	existing := map[string]string{}
	projects, err := l.Repo.ListProjects()
	if err != nil {
		return err
	}
	for _, p := range projects {
		existing[p.ID] = p.CreatedAt
	}
	for id, pc := range l.Config.Projects {
		createdAt, ok := existing[id]
		if !ok {
			createdAt = l.now()
		}
		err := l.Repo.UpsertProject(domain.Project{
			ID:          id,
			Name:        pc.Name,
			Description: pc.Description,
			FundingGoal: pc.FundingGoal,
			Currency:    pc.Currency,
			CreatedAt:   createdAt,
		})
		if err != nil {
			return fmt.Errorf("seed project %s: %w", id, err)
		}
	}
	return nil
}

// CreateIntentParams carries everything needed to open a new funding intent.
type CreateIntentParams struct {
	ProjectID      string
	Amount         int64
	Provider       domain.Provider
	SupporterName  string
	SupporterEmail string
	Message        string
}

// CreateIntent opens a new pending intent. Amount is minor units and must be
// positive; currency is inherited from the project.
func (l *Ledger) CreateIntent(p CreateIntentParams) (domain.Intent, error) {
	if p.Amount <= 0 {
		return domain.Intent{}, fmt.Errorf("amount must be positive, got %d", p.Amount)
	}
	if !p.Provider.Valid() {
		return domain.Intent{}, fmt.Errorf("unknown provider %q", p.Provider)
	}
	project, err := l.Repo.GetProject(p.ProjectID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Intent{}, fmt.Errorf("project %s: %w", p.ProjectID, repo.ErrNotFound)
		}
		return domain.Intent{}, err
	}

	in := domain.Intent{
		ID:             uuid.NewString(),
		ProjectID:      project.ID,
		Amount:         p.Amount,
		Currency:       project.Currency,
		Provider:       p.Provider,
		State:          domain.StatePending,
		SupporterName:  p.SupporterName,
		SupporterEmail: p.SupporterEmail,
		Message:        p.Message,
		CreatedAt:      l.now(),
	}

	tx, err := l.Repo.Tx()
	if err != nil {
		return domain.Intent{}, err
	}
	defer tx.Rollback()

	if err := l.Repo.InsertIntentTx(tx, in); err != nil {
		return domain.Intent{}, err
	}

	err = l.Events.WriteTx(tx, events.Entry{
		Type:       events.TypeIntentCreated,
		ProjectID:  in.ProjectID,
		EntityKind: "intent",
		EntityID:   in.ID,
		Payload: map[string]any{
			"amount":   in.Amount,
			"currency": in.Currency,
			"provider": in.Provider,
		},
	})
	if err != nil {
		return domain.Intent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Intent{}, err
	}
	return in, nil
}

// ErrReferenceConflict is returned when an intent already carries a
// different provider reference.
type ErrReferenceConflict struct {
	IntentID string
	Existing string
	Proposed string
}

func (e *ErrReferenceConflict) Error() string {
	return fmt.Sprintf("intent %s already assigned reference %s, refusing %s", e.IntentID, e.Existing, e.Proposed)
}

// AttachProviderReference binds a checkout session reference to an intent.
// Assignment happens at most once; re-attaching the same reference is a
// no-op, a different one is a conflict. The update and its activity-log row
// commit together.
func (l *Ledger) AttachProviderReference(intentID, ref string) (domain.Intent, error) {
	if ref == "" {
		return domain.Intent{}, fmt.Errorf("provider reference must not be empty")
	}
	tx, err := l.Repo.Tx()
	if err != nil {
		return domain.Intent{}, err
	}
	defer tx.Rollback()

	updated, err := l.Repo.AttachProviderReferenceTx(tx, intentID, ref)
	if err != nil {
		return domain.Intent{}, err
	}
	in, err := l.Repo.GetIntentTx(tx, intentID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Intent{}, fmt.Errorf("intent %s: %w", intentID, repo.ErrNotFound)
		}
		return domain.Intent{}, err
	}
	if !updated {
		if in.ProviderReference != nil && *in.ProviderReference == ref {
			return in, nil
		}
		existing := ""
		if in.ProviderReference != nil {
			existing = *in.ProviderReference
		}
		return domain.Intent{}, &ErrReferenceConflict{IntentID: intentID, Existing: existing, Proposed: ref}
	}

	err = l.Events.WriteTx(tx, events.Entry{
		Type:       events.TypeReferenceAttached,
		ProjectID:  in.ProjectID,
		EntityKind: "intent",
		EntityID:   in.ID,
		Payload:    map[string]any{"provider_reference": ref},
	})
	if err != nil {
		return domain.Intent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Intent{}, err
	}
	return in, nil
}

// ApplyStatus classifies what a settlement application did.
type ApplyStatus string

const (
	StatusApplied            ApplyStatus = "applied"
	StatusDuplicate          ApplyStatus = "duplicate"
	StatusRejected           ApplyStatus = "rejected"
	StatusIntentNotFound     ApplyStatus = "intent_not_found"
	StatusVerificationFailed ApplyStatus = "verification_failed"
)

// ApplyResult reports the outcome of one settlement event.
type ApplyResult struct {
	Status    ApplyStatus
	IntentID  string
	FromState domain.IntentState
	ToState   domain.IntentState
	Reason    string
}

func targetState(o domain.Outcome) (domain.IntentState, error) {
	switch o {
	case domain.OutcomeSucceeded:
		return domain.StateConfirmed, nil
	case domain.OutcomeFailed:
		return domain.StateFailed, nil
	case domain.OutcomeReversed:
		return domain.StateReversed, nil
	}
	return "", fmt.Errorf("unknown outcome %q", o)
}

func ensureIntentTransition(from, to domain.IntentState) error {
	switch from {
	case domain.StatePending:
		if to == domain.StateConfirmed || to == domain.StateFailed {
			return nil
		}
	case domain.StateConfirmed:
		if to == domain.StateReversed {
			return nil
		}
	}
	return fmt.Errorf("invalid intent transition %s -> %s", from, to)
}

// ApplySettlement applies a verified settlement event. Duplicate event ids
// short-circuit before legality is checked, so replays of an already
// consumed event never surface as rejections.
func (l *Ledger) ApplySettlement(ev domain.SettlementEvent) (ApplyResult, error) {
	to, err := targetState(ev.Outcome)
	if err != nil {
		return ApplyResult{Status: StatusRejected, Reason: err.Error()}, nil
	}

	tx, err := l.Repo.Tx()
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback()

	in, err := l.Repo.FindByProviderReferenceTx(tx, ev.Provider, ev.ProviderReference)
	if err != nil {
		if err == repo.ErrNotFound {
			return ApplyResult{
				Status: StatusIntentNotFound,
				Reason: fmt.Sprintf("no intent for %s reference %s", ev.Provider, ev.ProviderReference),
			}, nil
		}
		return ApplyResult{}, err
	}

	seen, err := l.Repo.HasAppliedEventTx(tx, in.ID, ev.EventID)
	if err != nil {
		return ApplyResult{}, err
	}
	if seen {
		return ApplyResult{Status: StatusDuplicate, IntentID: in.ID, FromState: in.State, ToState: in.State}, nil
	}

	from := in.State
	if err := ensureIntentTransition(from, to); err != nil {
		res := ApplyResult{
			Status:    StatusRejected,
			IntentID:  in.ID,
			FromState: from,
			ToState:   to,
			Reason:    err.Error(),
		}
		werr := l.Events.WriteTx(tx, events.Entry{
			Type:       events.TypeSettlementRejected,
			ProjectID:  in.ProjectID,
			EntityKind: "intent",
			EntityID:   in.ID,
			Payload: map[string]any{
				"event_id": ev.EventID,
				"from":     from,
				"to":       to,
				"reason":   res.Reason,
			},
		})
		if werr != nil {
			return ApplyResult{}, werr
		}
		if err := tx.Commit(); err != nil {
			return ApplyResult{}, err
		}
		return res, nil
	}

	ts := l.now()
	ok, err := l.Repo.UpdateIntentStateTx(tx, in.ID, from, to, &ts)
	if err != nil {
		return ApplyResult{}, err
	}
	if !ok {
		// CAS on state lost to a concurrent writer.
		return ApplyResult{Status: StatusRejected, IntentID: in.ID, FromState: from, ToState: to,
			Reason: "concurrent state change"}, nil
	}

	err = l.Repo.InsertAuditTx(tx, domain.AuditEntry{
		IntentID:  in.ID,
		EventID:   ev.EventID,
		FromState: from,
		ToState:   to,
		TS:        ts,
	})
	if err != nil {
		return ApplyResult{}, err
	}

	err = l.Events.WriteTx(tx, events.Entry{
		Type:       events.TypeSettlementApplied,
		ProjectID:  in.ProjectID,
		EntityKind: "intent",
		EntityID:   in.ID,
		Payload: map[string]any{
			"event_id": ev.EventID,
			"from":     from,
			"to":       to,
			"outcome":  ev.Outcome,
		},
	})
	if err != nil {
		return ApplyResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Status: StatusApplied, IntentID: in.ID, FromState: from, ToState: to}, nil
}

// ProjectTotals computes the funding projection for one project.
func (l *Ledger) ProjectTotals(projectID string) (domain.ProjectTotals, error) {
	project, err := l.Repo.GetProject(projectID)
	if err != nil {
		return domain.ProjectTotals{}, err
	}
	total, err := l.Repo.ConfirmedTotal(projectID)
	if err != nil {
		return domain.ProjectTotals{}, err
	}
	return totalsFor(project, total), nil
}

// AllProjectTotals computes projections for every catalog project, including
// those with no confirmed intents.
func (l *Ledger) AllProjectTotals() ([]domain.ProjectTotals, error) {
	projects, err := l.Repo.ListProjects()
	if err != nil {
		return nil, err
	}
	sums, err := l.Repo.ConfirmedTotals()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProjectTotals, 0, len(projects))
	for _, p := range projects {
		out = append(out, totalsFor(p, sums[p.ID]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

func totalsFor(p domain.Project, confirmed int64) domain.ProjectTotals {
	t := domain.ProjectTotals{
		ProjectID:       p.ID,
		ConfirmedAmount: confirmed,
		Currency:        p.Currency,
		FundingGoal:     p.FundingGoal,
	}
	if p.FundingGoal > 0 {
		t.PercentOfGoal = float64(confirmed) / float64(p.FundingGoal) * 100
	}
	return t
}
