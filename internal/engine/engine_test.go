package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"luvia/internal/config"
	"luvia/internal/db"
	"luvia/internal/domain"
	"luvia/internal/engine"
	"luvia/internal/migrate"
	"luvia/internal/sop"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("luvia-test")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	seedUsers(t, ctx, eng)
	return testEnv{Engine: eng, Ctx: ctx}
}

func seedUsers(t *testing.T, ctx context.Context, eng *engine.Engine) {
	t.Helper()
	now := "2026-01-01T00:00:00Z"
	users := []domain.User{
		{ID: "client-1", Name: "Sarah Premium", Role: domain.RoleClient, Tier: domain.TierSeedling, Points: 12450, CreatedAt: now},
		{ID: "cleaner-1", Name: "Ngozi Field", Role: domain.RoleCleaner, Tier: domain.TierSeedling, CreatedAt: now},
	}
	for _, u := range users {
		if err := eng.Repo.InsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
}

func bookCleaningJob(t *testing.T, env testEnv) domain.Job {
	t.Helper()
	job, err := env.Engine.BookJob(env.Ctx, engine.BookJobOptions{
		ClientID:     "client-1",
		Service:      domain.ServiceCleaning,
		PropertySize: "Small (1-2 Rooms)",
		Location:     "Lekki Phase 1",
		ActorID:      "client-1",
	})
	if err != nil {
		t.Fatalf("book job: %v", err)
	}
	return job
}

func TestBookJobAmountsAndStatus(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	if !strings.HasPrefix(job.ID, "LUV-") || len(job.ID) != 8 {
		t.Fatalf("unexpected job id %q", job.ID)
	}
	if job.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", job.Status)
	}
	if job.TotalAmount != 15000 || job.ReleasedAmount != 10500 || job.EscrowAmount != 4500 {
		t.Fatalf("unexpected amounts: %d/%d/%d", job.TotalAmount, job.ReleasedAmount, job.EscrowAmount)
	}
	if job.ReleasedAmount+job.EscrowAmount != job.TotalAmount {
		t.Fatalf("split does not sum to total")
	}
	if len(job.SOPList) != 0 {
		t.Fatalf("expected empty checklist, got %d items", len(job.SOPList))
	}
}

func TestBookJobWithPointsDebitsBalance(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.Engine.BookJob(env.Ctx, engine.BookJobOptions{
		ClientID:      "client-1",
		Service:       domain.ServiceCleaning,
		PropertySize:  "Small",
		PointsToApply: 10000,
		ActorID:       "client-1",
	})
	if err != nil {
		t.Fatalf("book job: %v", err)
	}
	if job.TotalAmount != 14900 {
		t.Fatalf("total = %d, want 14900", job.TotalAmount)
	}
	user, err := env.Engine.Repo.GetUser(env.Ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if user.Points != 2450 {
		t.Fatalf("points = %d, want 2450", user.Points)
	}
}

func TestBookJobInsufficientPoints(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.BookJob(env.Ctx, engine.BookJobOptions{
		ClientID:      "client-1",
		Service:       domain.ServiceCleaning,
		PropertySize:  "Small",
		PointsToApply: 999999,
		ActorID:       "client-1",
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInjectSOPMovesJobToWorkInProgress(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	job, err := env.Engine.InjectSOP(env.Ctx, job.ID, []string{"mod-kitchen", "mod-security"}, []sop.CustomTask{{Text: "Photograph store room", Mandatory: false}}, "admin-1")
	if err != nil {
		t.Fatalf("inject sop: %v", err)
	}
	if job.Status != domain.StatusWorkInProgress {
		t.Fatalf("status = %s, want WORK_IN_PROGRESS", job.Status)
	}
	if len(job.SOPList) != 4 {
		t.Fatalf("checklist has %d items, want 4", len(job.SOPList))
	}
}

func TestInjectSOPEmptyIsRejected(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	_, err := env.Engine.InjectSOP(env.Ctx, job.ID, nil, nil, "admin-1")
	if err == nil {
		t.Fatal("expected rejection for empty composition")
	}
	got, err := env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status changed to %s on rejected injection", got.Status)
	}
}

func TestTravelStatusesPassThrough(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	job, err := env.Engine.SetTravelStatus(env.Ctx, job.ID, domain.StatusEnRoute, "cleaner-1")
	if err != nil || job.Status != domain.StatusEnRoute {
		t.Fatalf("to EN_ROUTE: %v (status %s)", err, job.Status)
	}
	job, err = env.Engine.SetTravelStatus(env.Ctx, job.ID, domain.StatusOnSite, "cleaner-1")
	if err != nil || job.Status != domain.StatusOnSite {
		t.Fatalf("to ON_SITE: %v (status %s)", err, job.Status)
	}
	// backward move is rejected
	if _, err := env.Engine.SetTravelStatus(env.Ctx, job.ID, domain.StatusEnRoute, "cleaner-1"); err == nil {
		t.Fatal("expected rejection of backward transition")
	}
	// injection still reaches WORK_IN_PROGRESS from ON_SITE
	job, err = env.Engine.InjectSOP(env.Ctx, job.ID, []string{"mod-security"}, nil, "admin-1")
	if err != nil || job.Status != domain.StatusWorkInProgress {
		t.Fatalf("inject from ON_SITE: %v (status %s)", err, job.Status)
	}
}

func TestToggleAndRecordValue(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	job, err := env.Engine.InjectSOP(env.Ctx, job.ID, []string{"mod-kitchen"}, nil, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	taskID := job.SOPList[0].ID // Degrease Extractor Hood
	atpID := job.SOPList[1].ID  // ATP Baseline, scientific

	job, err = env.Engine.ToggleTask(env.Ctx, job.ID, taskID, "cleaner-1")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !job.SOPList[0].IsCompleted {
		t.Fatal("toggle did not complete task")
	}
	// scientific tasks reject toggling
	if _, err := env.Engine.ToggleTask(env.Ctx, job.ID, atpID, "cleaner-1"); err == nil {
		t.Fatal("expected toggle rejection for scientific task")
	}
	job, err = env.Engine.RecordValue(env.Ctx, job.ID, atpID, "1240", "cleaner-1")
	if err != nil {
		t.Fatalf("record value: %v", err)
	}
	if !job.SOPList[1].IsCompleted || job.SOPList[1].Value == nil || *job.SOPList[1].Value != "1240" {
		t.Fatalf("scientific task not completed by value: %+v", job.SOPList[1])
	}
	// clearing the value un-marks completion
	job, err = env.Engine.RecordValue(env.Ctx, job.ID, atpID, "", "cleaner-1")
	if err != nil {
		t.Fatalf("clear value: %v", err)
	}
	if job.SOPList[1].IsCompleted {
		t.Fatal("empty value left task completed")
	}
	// unknown task id
	if _, err := env.Engine.ToggleTask(env.Ctx, job.ID, "no-such-task", "cleaner-1"); err == nil {
		t.Fatal("expected not found for unknown task")
	}
}

func TestSubmitForReviewGating(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	job, err := env.Engine.InjectSOP(env.Ctx, job.ID, []string{"mod-kitchen"}, nil, "admin-1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.SubmitForReview(env.Ctx, job.ID, "cleaner-1")
	if err == nil {
		t.Fatal("expected rejection with nothing satisfied")
	}
	if !strings.Contains(err.Error(), "2 items remain") {
		t.Fatalf("rejection should name missing count, got %q", err.Error())
	}
	got, _ := env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if got.Status != domain.StatusWorkInProgress {
		t.Fatalf("status mutated on rejection: %s", got.Status)
	}

	job, err = env.Engine.AttachEvidence(env.Ctx, job.ID, job.SOPList[0].ID, "cleaner-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.SOPList[0].EvidenceURL == nil || !job.SOPList[0].IsCompleted {
		t.Fatalf("evidence attach incomplete: %+v", job.SOPList[0])
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, job.ID, "cleaner-1"); err == nil {
		t.Fatal("expected rejection while scientific reading missing")
	}

	if _, err := env.Engine.RecordValue(env.Ctx, job.ID, job.SOPList[1].ID, "14", "cleaner-1"); err != nil {
		t.Fatal(err)
	}
	job, err = env.Engine.SubmitForReview(env.Ctx, job.ID, "cleaner-1")
	if err != nil {
		t.Fatalf("submit after satisfying gate: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", job.Status)
	}
}

func TestSubmitForReviewOptionalOnlyChecklist(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	job, err := env.Engine.InjectSOP(env.Ctx, job.ID, nil, []sop.CustomTask{
		{Text: "Wipe skirting boards", Mandatory: false},
	}, "admin-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.ToggleTask(env.Ctx, job.ID, job.SOPList[0].ID, "cleaner-1"); err != nil {
		t.Fatal(err)
	}

	// Nothing mandatory, so nothing can hold the submission back.
	job, err = env.Engine.SubmitForReview(env.Ctx, job.ID, "cleaner-1")
	if err != nil {
		t.Fatalf("submit with optional-only checklist: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", job.Status)
	}
}

func TestReleaseEscrowLifecycle(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)

	// release before COMPLETED is rejected without mutation
	_, err := env.Engine.ReleaseEscrow(env.Ctx, job.ID, "client-1")
	if err == nil {
		t.Fatal("expected rejection on PENDING job")
	}
	got, _ := env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status mutated on rejected release: %s", got.Status)
	}

	job, err = env.Engine.InjectSOP(env.Ctx, job.ID, nil, []sop.CustomTask{
		{Text: "Mop entrance", Mandatory: true},
		{Text: "Sanitize handles", Mandatory: true},
	}, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, item := range job.SOPList {
		if _, err := env.Engine.AttachEvidence(env.Ctx, job.ID, item.ID, "cleaner-1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, job.ID, "cleaner-1"); err != nil {
		t.Fatal(err)
	}

	job, err = env.Engine.ReleaseEscrow(env.Ctx, job.ID, "client-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if job.Status != domain.StatusVerified {
		t.Fatalf("status = %s, want VERIFIED", job.Status)
	}
	// second release fails, no double pay
	if _, err := env.Engine.ReleaseEscrow(env.Ctx, job.ID, "client-1"); err == nil {
		t.Fatal("expected second release to fail")
	}
	txns, err := env.Engine.Repo.ListTransactions(env.Ctx, "client-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	releases := 0
	for _, txn := range txns {
		if txn.Kind == domain.TxnEscrowRelease {
			releases++
			if txn.Amount != 4500 {
				t.Fatalf("release amount = %d, want 4500", txn.Amount)
			}
		}
	}
	if releases != 1 {
		t.Fatalf("release transactions = %d, want 1", releases)
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	if job.TotalAmount != 15000 || job.ReleasedAmount != 10500 || job.EscrowAmount != 4500 {
		t.Fatalf("unexpected amounts: %+v", job)
	}
	job, err := env.Engine.InjectSOP(env.Ctx, job.ID, nil, []sop.CustomTask{
		{Text: "Deep clean kitchen", Mandatory: true},
		{Text: "Window detail", Mandatory: true},
	}, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, job.ID, "cleaner-1"); err == nil {
		t.Fatal("expected rejection at 0/2 evidence")
	}
	for _, item := range job.SOPList {
		if _, err := env.Engine.AttachEvidence(env.Ctx, job.ID, item.ID, "cleaner-1"); err != nil {
			t.Fatal(err)
		}
	}
	job, err = env.Engine.SubmitForReview(env.Ctx, job.ID, "cleaner-1")
	if err != nil || job.Status != domain.StatusCompleted {
		t.Fatalf("submit: %v (status %s)", err, job.Status)
	}
	job, err = env.Engine.ReleaseEscrow(env.Ctx, job.ID, "client-1")
	if err != nil || job.Status != domain.StatusVerified {
		t.Fatalf("release: %v (status %s)", err, job.Status)
	}
	if _, err := env.Engine.ReleaseEscrow(env.Ctx, job.ID, "client-1"); err == nil {
		t.Fatal("expected error on repeat release")
	}
}

func TestProgressView(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	job, err := env.Engine.InjectSOP(env.Ctx, job.ID, []string{"mod-kitchen"}, nil, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.Progress(env.Ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Percent != 0 || view.MandatoryDone || view.Missing != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.NextMandatory == nil || view.NextMandatory.Task != "Degrease Extractor Hood" {
		t.Fatalf("next mandatory = %+v", view.NextMandatory)
	}
	if _, err := env.Engine.AttachEvidence(env.Ctx, job.ID, job.SOPList[0].ID, "cleaner-1"); err != nil {
		t.Fatal(err)
	}
	view, err = env.Engine.Progress(env.Ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Percent != 50 {
		t.Fatalf("percent = %d, want 50", view.Percent)
	}
	if view.NextMandatory == nil || view.NextMandatory.Task != "ATP Baseline (Countertops)" {
		t.Fatalf("next mandatory = %+v", view.NextMandatory)
	}
}

func TestPricingFactorSetting(t *testing.T) {
	env := newTestEnv(t)
	factor, err := env.Engine.PricingFactor(env.Ctx)
	if err != nil || factor != 1.0 {
		t.Fatalf("default factor = %v (%v)", factor, err)
	}
	if err := env.Engine.SetPricingFactor(env.Ctx, 2.0, "admin-1"); err != nil {
		t.Fatalf("set factor: %v", err)
	}
	if err := env.Engine.SetPricingFactor(env.Ctx, 3.5, "admin-1"); err == nil {
		t.Fatal("expected out-of-range rejection")
	}
	job := bookCleaningJob(t, env)
	if job.TotalAmount != 30000 {
		t.Fatalf("total with factor 2.0 = %d, want 30000", job.TotalAmount)
	}
}

func TestCheckoutLedger(t *testing.T) {
	env := newTestEnv(t)
	products := []domain.Product{
		{ID: "p1", Name: "pH-Neutral Floor Solvent", Category: "Liquids", Price: 4500, Eco: true},
		{ID: "p4", Name: "Commercial ATP Meter", Category: "Tools", Price: 18500},
	}
	for _, p := range products {
		if err := env.Engine.Repo.InsertProduct(env.Ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	res, err := env.Engine.Checkout(env.Ctx, "client-1", []engine.CheckoutItem{
		{ProductID: "p1", Quantity: 2, AutoRefill: true},
		{ProductID: "p4", Quantity: 1},
	}, 5000, "client-1")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.Subtotal != 27500 {
		t.Fatalf("subtotal = %d, want 27500", res.Subtotal)
	}
	// only the auto-refill line is discounted: 10% of 2x4500
	if res.RefillDiscount != 900 {
		t.Fatalf("refill discount = %d, want 900", res.RefillDiscount)
	}
	if res.PointsDiscount != 50 || res.Total != 26550 {
		t.Fatalf("points discount/total = %d/%d", res.PointsDiscount, res.Total)
	}
	if res.PointsEarned != 265 {
		t.Fatalf("earned = %d, want 265", res.PointsEarned)
	}
	wantBalance := int64(12450) - 5000 + 265
	if res.PointsBalance != wantBalance {
		t.Fatalf("balance = %d, want %d", res.PointsBalance, wantBalance)
	}
	user, _ := env.Engine.Repo.GetUser(env.Ctx, "client-1")
	if user.Points != wantBalance {
		t.Fatalf("stored balance = %d, want %d", user.Points, wantBalance)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	job := bookCleaningJob(t, env)
	if _, err := env.Engine.InjectSOP(env.Ctx, job.ID, []string{"mod-security"}, nil, "admin-1"); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "", "job", job.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(evts) < 3 {
		t.Fatalf("expected booked, injected and status events, got %d", len(evts))
	}
}
