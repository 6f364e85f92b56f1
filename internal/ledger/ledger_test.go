package ledger_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fundline/internal/config"
	"fundline/internal/db"
	"fundline/internal/domain"
	"fundline/internal/events"
	"fundline/internal/ledger"
	"fundline/internal/migrate"
	"fundline/internal/repo"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	l := ledger.New(conn, repo.New(conn), events.NewWriter(now), cfg)
	l.Now = now
	if err := l.SeedProjects(); err != nil {
		t.Fatalf("seed projects: %v", err)
	}
	return l
}

func createPendingIntent(t *testing.T, l *ledger.Ledger, amount int64) domain.Intent {
	t.Helper()
	in, err := l.CreateIntent(ledger.CreateIntentParams{
		ProjectID: "project_1",
		Amount:    amount,
		Provider:  domain.ProviderStripe,
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return in
}

func TestCreateIntentValidation(t *testing.T) {
	l := newTestLedger(t)

	if _, err := l.CreateIntent(ledger.CreateIntentParams{
		ProjectID: "project_1", Amount: 0, Provider: domain.ProviderStripe,
	}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if _, err := l.CreateIntent(ledger.CreateIntentParams{
		ProjectID: "project_1", Amount: -500, Provider: domain.ProviderStripe,
	}); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	if _, err := l.CreateIntent(ledger.CreateIntentParams{
		ProjectID: "project_1", Amount: 100, Provider: "venmo",
	}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	_, err := l.CreateIntent(ledger.CreateIntentParams{
		ProjectID: "missing", Amount: 100, Provider: domain.ProviderStripe,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing project, got %v", err)
	}

	in := createPendingIntent(t, l, 2500)
	if in.State != domain.StatePending {
		t.Fatalf("new intent state = %s, want pending", in.State)
	}
	if in.Currency != "USD" {
		t.Fatalf("currency = %s, want USD (inherited from project)", in.Currency)
	}
	if in.ProviderReference != nil {
		t.Fatalf("new intent must not carry a provider reference")
	}
}

func TestAttachProviderReference(t *testing.T) {
	l := newTestLedger(t)
	in := createPendingIntent(t, l, 1000)

	got, err := l.AttachProviderReference(in.ID, "sess_1")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.ProviderReference == nil || *got.ProviderReference != "sess_1" {
		t.Fatalf("reference not attached: %+v", got.ProviderReference)
	}

	// the attach commits together with its activity-log row
	evs, err := l.Repo.LatestEvents("project_1", 10)
	if err != nil {
		t.Fatal(err)
	}
	var logged bool
	for _, e := range evs {
		if e.Type == "reference.attached" && e.EntityID == in.ID {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("no reference.attached log entry for intent %s", in.ID)
	}

	// same reference again is a no-op
	if _, err := l.AttachProviderReference(in.ID, "sess_1"); err != nil {
		t.Fatalf("re-attach same reference: %v", err)
	}

	// different reference is a conflict
	_, err = l.AttachProviderReference(in.ID, "sess_2")
	var rc *ledger.ErrReferenceConflict
	if !errors.As(err, &rc) {
		t.Fatalf("expected reference conflict, got %v", err)
	}
	if rc.Existing != "sess_1" {
		t.Fatalf("conflict existing = %s, want sess_1", rc.Existing)
	}

	if _, err := l.AttachProviderReference(in.ID, ""); err == nil {
		t.Fatalf("expected error for empty reference")
	}
}

func applyEvent(t *testing.T, l *ledger.Ledger, eventID, ref string, outcome domain.Outcome) ledger.ApplyResult {
	t.Helper()
	res, err := l.ApplySettlement(domain.SettlementEvent{
		EventID:           eventID,
		Provider:          domain.ProviderStripe,
		ProviderReference: ref,
		Outcome:           outcome,
	})
	if err != nil {
		t.Fatalf("apply %s: %v", eventID, err)
	}
	return res
}

func TestApplySettlementLifecycle(t *testing.T) {
	l := newTestLedger(t)
	in := createPendingIntent(t, l, 100)
	if _, err := l.AttachProviderReference(in.ID, "sess_1"); err != nil {
		t.Fatal(err)
	}

	res := applyEvent(t, l, "evt_1", "sess_1", domain.OutcomeSucceeded)
	if res.Status != ledger.StatusApplied {
		t.Fatalf("first apply = %s, want applied", res.Status)
	}
	if res.FromState != domain.StatePending || res.ToState != domain.StateConfirmed {
		t.Fatalf("transition %s -> %s, want pending -> confirmed", res.FromState, res.ToState)
	}

	got, err := l.Repo.GetIntent(in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.StateConfirmed {
		t.Fatalf("state = %s, want confirmed", got.State)
	}
	if got.SettledAt == nil {
		t.Fatalf("settled_at not set on confirmation")
	}

	totals, err := l.ProjectTotals("project_1")
	if err != nil {
		t.Fatal(err)
	}
	if totals.ConfirmedAmount != 100 {
		t.Fatalf("confirmed total = %d, want 100", totals.ConfirmedAmount)
	}

	// replay of the consumed event is a duplicate, never a rejection
	res = applyEvent(t, l, "evt_1", "sess_1", domain.OutcomeSucceeded)
	if res.Status != ledger.StatusDuplicate {
		t.Fatalf("replay = %s, want duplicate", res.Status)
	}

	// a fresh contradictory event is rejected without state change
	res = applyEvent(t, l, "evt_2", "sess_1", domain.OutcomeFailed)
	if res.Status != ledger.StatusRejected {
		t.Fatalf("contradictory event = %s, want rejected", res.Status)
	}
	got, _ = l.Repo.GetIntent(in.ID)
	if got.State != domain.StateConfirmed {
		t.Fatalf("state after rejection = %s, want confirmed", got.State)
	}
	totals, _ = l.ProjectTotals("project_1")
	if totals.ConfirmedAmount != 100 {
		t.Fatalf("total after rejection = %d, want 100", totals.ConfirmedAmount)
	}
}

func TestApplySettlementReversal(t *testing.T) {
	l := newTestLedger(t)
	in := createPendingIntent(t, l, 300)
	if _, err := l.AttachProviderReference(in.ID, "sess_r"); err != nil {
		t.Fatal(err)
	}

	// reversal before confirmation is illegal
	res := applyEvent(t, l, "evt_r0", "sess_r", domain.OutcomeReversed)
	if res.Status != ledger.StatusRejected {
		t.Fatalf("reversal on pending = %s, want rejected", res.Status)
	}

	applyEvent(t, l, "evt_r1", "sess_r", domain.OutcomeSucceeded)
	res = applyEvent(t, l, "evt_r2", "sess_r", domain.OutcomeReversed)
	if res.Status != ledger.StatusApplied {
		t.Fatalf("reversal after confirm = %s, want applied", res.Status)
	}

	totals, err := l.ProjectTotals("project_1")
	if err != nil {
		t.Fatal(err)
	}
	if totals.ConfirmedAmount != 0 {
		t.Fatalf("total after reversal = %d, want 0", totals.ConfirmedAmount)
	}

	// reversed is final
	res = applyEvent(t, l, "evt_r3", "sess_r", domain.OutcomeSucceeded)
	if res.Status != ledger.StatusRejected {
		t.Fatalf("event on final state = %s, want rejected", res.Status)
	}
}

func TestApplySettlementConcurrentDeliveries(t *testing.T) {
	l := newTestLedger(t)
	in := createPendingIntent(t, l, 750)
	if _, err := l.AttachProviderReference(in.ID, "sess_c"); err != nil {
		t.Fatal(err)
	}

	// distinct success events for the same intent race each other; exactly
	// one may win the pending -> confirmed transition
	const workers = 8
	results := make([]ledger.ApplyResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.ApplySettlement(domain.SettlementEvent{
				EventID:           fmt.Sprintf("evt_c%d", i),
				Provider:          domain.ProviderStripe,
				ProviderReference: "sess_c",
				Outcome:           domain.OutcomeSucceeded,
			})
		}(i)
	}
	wg.Wait()

	var applied, rejected int
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		switch results[i].Status {
		case ledger.StatusApplied:
			applied++
		case ledger.StatusRejected:
			rejected++
		default:
			t.Fatalf("worker %d status = %s", i, results[i].Status)
		}
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want exactly 1", applied)
	}
	if rejected != workers-1 {
		t.Fatalf("rejected = %d, want %d", rejected, workers-1)
	}

	got, err := l.Repo.GetIntent(in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.StateConfirmed {
		t.Fatalf("state = %s, want confirmed", got.State)
	}
	totals, err := l.ProjectTotals("project_1")
	if err != nil {
		t.Fatal(err)
	}
	if totals.ConfirmedAmount != 750 {
		t.Fatalf("confirmed total = %d, want 750 counted once", totals.ConfirmedAmount)
	}
}

func TestApplySettlementUnknownReference(t *testing.T) {
	l := newTestLedger(t)
	res := applyEvent(t, l, "evt_x", "sess_missing", domain.OutcomeSucceeded)
	if res.Status != ledger.StatusIntentNotFound {
		t.Fatalf("unknown reference = %s, want intent_not_found", res.Status)
	}
}

func TestAuditTrail(t *testing.T) {
	l := newTestLedger(t)
	in := createPendingIntent(t, l, 500)
	if _, err := l.AttachProviderReference(in.ID, "sess_a"); err != nil {
		t.Fatal(err)
	}
	applyEvent(t, l, "evt_a1", "sess_a", domain.OutcomeSucceeded)
	applyEvent(t, l, "evt_a1", "sess_a", domain.OutcomeSucceeded) // duplicate, no entry
	applyEvent(t, l, "evt_a2", "sess_a", domain.OutcomeReversed)

	entries, err := l.Repo.ListAudit(in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].EventID != "evt_a1" || entries[0].ToState != domain.StateConfirmed {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].EventID != "evt_a2" || entries[1].ToState != domain.StateReversed {
		t.Fatalf("second entry = %+v", entries[1])
	}
}

func TestAllProjectTotalsIncludesEmptyProjects(t *testing.T) {
	l := newTestLedger(t)
	in := createPendingIntent(t, l, 100000)
	if _, err := l.AttachProviderReference(in.ID, "sess_t"); err != nil {
		t.Fatal(err)
	}
	applyEvent(t, l, "evt_t", "sess_t", domain.OutcomeSucceeded)

	totals, err := l.AllProjectTotals()
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 {
		t.Fatalf("totals rows = %d, want 2", len(totals))
	}
	if totals[0].ProjectID != "project_1" || totals[0].ConfirmedAmount != 100000 {
		t.Fatalf("project_1 totals = %+v", totals[0])
	}
	if totals[0].PercentOfGoal != 20.0 {
		t.Fatalf("percent = %v, want 20.0", totals[0].PercentOfGoal)
	}
	if totals[1].ProjectID != "project_2" || totals[1].ConfirmedAmount != 0 {
		t.Fatalf("project_2 totals = %+v", totals[1])
	}
}
