package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"luvia/internal/config"
	"luvia/internal/domain"
	"luvia/internal/events"
	"luvia/internal/evidence"
	"luvia/internal/pricing"
	"luvia/internal/repo"
	"luvia/internal/sop"
)

const pricingFactorKey = "pricing.factor"

// Engine owns the canonical job collection and is the only component that
// commits status transitions. Every operation runs in one transaction and
// leaves the store untouched on rejection.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Evidence evidence.Store
	Config   *config.Config
	Now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Evidence: &evidence.StubStore{},
		Config:   cfg,
		Now:      time.Now,
		locks:    map[string]*sync.Mutex{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// lockJob serializes mutations per job id. Jobs are independent, so there
// is no global write lock; transitions within one job apply in the order
// received.
func (e *Engine) lockJob(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// PricingFactor returns the current global demand multiplier. The settings
// row wins over the config default.
func (e *Engine) PricingFactor(ctx context.Context) (float64, error) {
	raw, err := e.Repo.GetSetting(ctx, pricingFactorKey)
	if errors.Is(err, repo.ErrNotFound) {
		if e.Config != nil && e.Config.Pricing.Factor != 0 {
			return e.Config.Pricing.Factor, nil
		}
		return pricing.MinFactor, nil
	}
	if err != nil {
		return 0, err
	}
	factor, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s setting: %w", pricingFactorKey, err)
	}
	return factor, nil
}

// SetPricingFactor updates the demand multiplier for all future quotes.
func (e *Engine) SetPricingFactor(ctx context.Context, factor float64, actorID string) error {
	if err := pricing.ValidateFactor(factor); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpsertSetting(ctx, tx, pricingFactorKey, strconv.FormatFloat(factor, 'f', -1, 64), now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeFactorChanged, "setting", pricingFactorKey, actorID, events.EventPayload{"factor": factor}); err != nil {
		return err
	}
	return tx.Commit()
}

// QuoteBooking prices a booking with the current demand factor applied.
func (e *Engine) QuoteBooking(ctx context.Context, service domain.ServiceType, size string, tier domain.SubscriptionTier, points int64) (pricing.Quote, error) {
	factor, err := e.PricingFactor(ctx)
	if err != nil {
		return pricing.Quote{}, err
	}
	return pricing.Compute(pricing.Input{
		Service:       service,
		PropertySize:  size,
		Tier:          tier,
		Factor:        factor,
		PointsToApply: points,
	})
}

// BookJobOptions are the booking parameters.
type BookJobOptions struct {
	ClientID      string
	Service       domain.ServiceType
	PropertySize  string
	Location      string
	ServiceName   string
	PointsToApply int64
	ModuleIDs     []string
	CustomTasks   []sop.CustomTask
	ActorID       string
}

// BookJob quotes the booking, debits any redeemed points and creates the
// job in PENDING. The checklist may be pre-seeded here but no status
// transition happens until a non-empty SOP is injected.
func (e *Engine) BookJob(ctx context.Context, opts BookJobOptions) (domain.Job, error) {
	if opts.ClientID == "" {
		return domain.Job{}, domain.Invalid("client id is required")
	}
	client, err := e.Repo.GetUser(ctx, opts.ClientID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Job{}, domain.NotFound(fmt.Sprintf("unknown user %q", opts.ClientID))
	}
	if err != nil {
		return domain.Job{}, err
	}
	if opts.PointsToApply > client.Points {
		return domain.Job{}, domain.Invalid(fmt.Sprintf("insufficient points balance: have %d, want %d", client.Points, opts.PointsToApply))
	}
	factor, err := e.PricingFactor(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	quote, err := pricing.Compute(pricing.Input{
		Service:       opts.Service,
		PropertySize:  opts.PropertySize,
		Tier:          client.Tier,
		Factor:        factor,
		PointsToApply: opts.PointsToApply,
	})
	if err != nil {
		return domain.Job{}, err
	}
	items, err := sop.Compose(opts.ModuleIDs, opts.CustomTasks)
	if err != nil {
		return domain.Job{}, err
	}

	serviceName := opts.ServiceName
	if serviceName == "" && e.Config != nil {
		serviceName = e.Config.Booking.ServiceNames[string(opts.Service)]
	}
	if serviceName == "" {
		serviceName = string(opts.Service)
	}

	id, err := e.newJobID(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	job := domain.Job{
		ID:             id,
		ServiceName:    serviceName,
		Type:           opts.Service,
		ClientID:       client.ID,
		ClientName:     client.Name,
		Location:       opts.Location,
		PropertyType:   opts.PropertySize,
		Status:         domain.StatusPending,
		TotalAmount:    quote.Total,
		ReleasedAmount: quote.Released,
		EscrowAmount:   quote.Escrow,
		Tier:           client.Tier,
		Date:           now,
		SOPList:        items,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertJob(ctx, tx, job); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if quote.PointsSpent > 0 {
		if err := e.Repo.UpdateUserPoints(ctx, tx, client.ID, client.Points-quote.PointsSpent); err != nil {
			return domain.Job{}, err
		}
	}
	if err := e.Repo.InsertTransaction(ctx, tx, domain.Transaction{
		ID:          uuid.NewString(),
		Kind:        domain.TxnBooking,
		UserID:      client.ID,
		JobID:       &job.ID,
		Amount:      quote.Total,
		PointsDelta: -quote.PointsSpent,
		CreatedAt:   now,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeJobBooked, "job", job.ID, opts.ActorID, events.EventPayload{
		"total":    quote.Total,
		"released": quote.Released,
		"escrow":   quote.Escrow,
		"status":   job.Status,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (e *Engine) newJobID(ctx context.Context) (string, error) {
	for range 64 {
		id := fmt.Sprintf("LUV-%04d", rand.IntN(10000))
		exists, err := e.Repo.JobExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", errors.New("job id space exhausted")
}

// SetTravelStatus records EN_ROUTE or ON_SITE. These states carry no
// gating; the transition table still rejects backward moves.
func (e *Engine) SetTravelStatus(ctx context.Context, jobID string, status domain.JobStatus, actorID string) (domain.Job, error) {
	if status != domain.StatusEnRoute && status != domain.StatusOnSite {
		return domain.Job{}, domain.Invalid(fmt.Sprintf("status %s is not a travel status", status))
	}
	unlock := e.lockJob(jobID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	job, err := e.getJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := domain.EnsureTransition(job.Status, status); err != nil {
		return domain.Job{}, err
	}
	if err := e.transition(ctx, tx, &job, status, actorID); err != nil {
		return domain.Job{}, err
	}
	return job, tx.Commit()
}

// InjectSOP composes a checklist from catalog modules and custom tasks and
// attaches it to the job. A non-empty attachment moves the job to
// WORK_IN_PROGRESS unless it is already there.
func (e *Engine) InjectSOP(ctx context.Context, jobID string, moduleIDs []string, custom []sop.CustomTask, actorID string) (domain.Job, error) {
	unlock := e.lockJob(jobID)
	defer unlock()

	items, err := sop.Compose(moduleIDs, custom)
	if err != nil {
		return domain.Job{}, err
	}
	if len(items) == 0 {
		return domain.Job{}, domain.Invalid("nothing to inject: no modules or custom tasks selected")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	job, err := e.getJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status == domain.StatusCompleted || job.Status == domain.StatusVerified {
		return domain.Job{}, domain.StateConflict(fmt.Sprintf("job %s is %s; checklist is frozen", jobID, job.Status))
	}
	if err := e.Repo.AppendSOPItems(ctx, tx, jobID, items); err != nil {
		return domain.Job{}, err
	}
	job.SOPList = append(job.SOPList, items...)
	if err := e.Events.Append(ctx, tx, events.TypeSOPInjected, "job", jobID, actorID, events.EventPayload{
		"modules": moduleIDs,
		"custom":  len(custom),
		"items":   len(items),
	}); err != nil {
		return domain.Job{}, err
	}
	if job.Status != domain.StatusWorkInProgress {
		if err := domain.EnsureTransition(job.Status, domain.StatusWorkInProgress); err != nil {
			return domain.Job{}, err
		}
		if err := e.transition(ctx, tx, &job, domain.StatusWorkInProgress, actorID); err != nil {
			return domain.Job{}, err
		}
	}
	return job, tx.Commit()
}

// transition writes the status change and its event inside the caller's tx.
func (e *Engine) transition(ctx context.Context, tx *sql.Tx, job *domain.Job, to domain.JobStatus, actorID string) error {
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateJobStatus(ctx, tx, job.ID, to, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeJobStatus, "job", job.ID, actorID, events.EventPayload{
		"from": job.Status,
		"to":   to,
	}); err != nil {
		return err
	}
	job.Status = to
	job.UpdatedAt = now
	return nil
}

func (e *Engine) getJobTx(ctx context.Context, tx *sql.Tx, jobID string) (domain.Job, error) {
	job, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return job, domain.NotFound(fmt.Sprintf("unknown job %q", jobID))
	}
	return job, err
}

func findTask(job domain.Job, taskID string) (*domain.SOPItem, error) {
	for i := range job.SOPList {
		if job.SOPList[i].ID == taskID {
			return &job.SOPList[i], nil
		}
	}
	return nil, domain.NotFound(fmt.Sprintf("task %q not found in job %s", taskID, job.ID))
}

// mutateTask loads the job under its lock, applies fn to one checklist
// item and persists it. fn must not touch other items.
func (e *Engine) mutateTask(ctx context.Context, jobID, taskID, actorID, mutation string, fn func(*domain.SOPItem) error) (domain.Job, error) {
	unlock := e.lockJob(jobID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	job, err := e.getJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status == domain.StatusCompleted || job.Status == domain.StatusVerified {
		return domain.Job{}, domain.StateConflict(fmt.Sprintf("job %s is %s; checklist is frozen", jobID, job.Status))
	}
	item, err := findTask(job, taskID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := fn(item); err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.UpdateSOPItem(ctx, tx, jobID, *item); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskMutated, "job", jobID, actorID, events.EventPayload{
		"task":      taskID,
		"mutation":  mutation,
		"completed": item.IsCompleted,
	}); err != nil {
		return domain.Job{}, err
	}
	return job, tx.Commit()
}

// ToggleTask flips completion on a non-scientific task.
func (e *Engine) ToggleTask(ctx context.Context, jobID, taskID, actorID string) (domain.Job, error) {
	return e.mutateTask(ctx, jobID, taskID, actorID, "toggle", func(item *domain.SOPItem) error {
		if item.Category == domain.CategoryScientific {
			return domain.Invalid(fmt.Sprintf("task %q is scientific; record a value instead", item.Task))
		}
		item.IsCompleted = !item.IsCompleted
		return nil
	})
}

// RecordValue stores a scientific reading. A non-empty value marks the
// task complete; clearing the value un-marks it.
func (e *Engine) RecordValue(ctx context.Context, jobID, taskID, value, actorID string) (domain.Job, error) {
	return e.mutateTask(ctx, jobID, taskID, actorID, "record_value", func(item *domain.SOPItem) error {
		if item.Category != domain.CategoryScientific {
			return domain.Invalid(fmt.Sprintf("task %q is not scientific", item.Task))
		}
		if value == "" {
			item.Value = nil
			item.IsCompleted = false
			return nil
		}
		item.Value = &value
		item.IsCompleted = true
		return nil
	})
}

// AttachEvidence captures a proof reference for the task and forces it
// complete. This is the only path that verifies non-scientific mandatory
// tasks.
func (e *Engine) AttachEvidence(ctx context.Context, jobID, taskID, actorID string) (domain.Job, error) {
	url, err := e.Evidence.Capture(ctx, jobID, taskID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("capture evidence: %w", err)
	}
	return e.mutateTask(ctx, jobID, taskID, actorID, "attach_evidence", func(item *domain.SOPItem) error {
		item.EvidenceURL = &url
		item.IsCompleted = true
		return nil
	})
}

// SubmitForReview attempts WORK_IN_PROGRESS -> COMPLETED. The move is
// rejected with the missing count while any mandatory task lacks its
// evidence or reading.
func (e *Engine) SubmitForReview(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	unlock := e.lockJob(jobID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	job, err := e.getJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := domain.EnsureTransition(job.Status, domain.StatusCompleted); err != nil {
		return domain.Job{}, err
	}
	if !sop.AllMandatorySatisfied(job.SOPList) {
		missing := sop.MissingMandatory(job.SOPList)
		return domain.Job{}, domain.StateConflict(fmt.Sprintf("mandatory evidence missing, %d items remain", missing))
	}
	if err := e.transition(ctx, tx, &job, domain.StatusCompleted, actorID); err != nil {
		return domain.Job{}, err
	}
	return job, tx.Commit()
}

// ReleaseEscrow finalizes a COMPLETED job: the held share is paid out, a
// ledger row is written and the job becomes VERIFIED. Calling it again
// fails on the precondition; it never double-pays.
func (e *Engine) ReleaseEscrow(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	unlock := e.lockJob(jobID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	job, err := e.getJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status != domain.StatusCompleted {
		return domain.Job{}, domain.StateConflict(fmt.Sprintf("job not ready for release: status is %s", job.Status))
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.InsertTransaction(ctx, tx, domain.Transaction{
		ID:        uuid.NewString(),
		Kind:      domain.TxnEscrowRelease,
		UserID:    job.ClientID,
		JobID:     &job.ID,
		Amount:    job.EscrowAmount,
		CreatedAt: now,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := e.transition(ctx, tx, &job, domain.StatusVerified, actorID); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeEscrowReleased, "job", job.ID, actorID, events.EventPayload{
		"escrow": job.EscrowAmount,
	}); err != nil {
		return domain.Job{}, err
	}
	return job, tx.Commit()
}

// JobProgress is the tracker view of one job.
type JobProgress struct {
	Job           domain.Job      `json:"job"`
	Percent       int             `json:"percent"`
	MandatoryDone bool            `json:"mandatory_done"`
	Missing       int             `json:"missing"`
	NextMandatory *domain.SOPItem `json:"next_mandatory,omitempty"`
}

// Progress computes the execution view used by dashboards.
func (e *Engine) Progress(ctx context.Context, jobID string) (JobProgress, error) {
	job, err := e.Repo.GetJob(ctx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return JobProgress{}, domain.NotFound(fmt.Sprintf("unknown job %q", jobID))
	}
	if err != nil {
		return JobProgress{}, err
	}
	return JobProgress{
		Job:           job,
		Percent:       sop.Progress(job.SOPList),
		MandatoryDone: sop.AllMandatorySatisfied(job.SOPList),
		Missing:       sop.MissingMandatory(job.SOPList),
		NextMandatory: sop.NextMandatoryIncomplete(job.SOPList),
	}, nil
}

// CheckoutItem is one marketplace cart line. AutoRefill marks the line as a
// recurring supply subscription, which takes 10% off that line.
type CheckoutItem struct {
	ProductID  string
	Quantity   int
	AutoRefill bool
}

// CheckoutResult is the settled purchase.
type CheckoutResult struct {
	Subtotal       int64 `json:"subtotal"`
	RefillDiscount int64 `json:"refill_discount"`
	PointsDiscount int64 `json:"points_discount"`
	Total          int64 `json:"total"`
	PointsSpent    int64 `json:"points_spent"`
	PointsEarned   int64 `json:"points_earned"`
	PointsBalance  int64 `json:"points_balance"`
}

// Checkout settles a marketplace cart against the points ledger. Spending
// debits the exact points applied; earning credits floor(total/100). This
// ledger never touches job escrow.
func (e *Engine) Checkout(ctx context.Context, userID string, items []CheckoutItem, pointsToApply int64, actorID string) (CheckoutResult, error) {
	if len(items) == 0 {
		return CheckoutResult{}, domain.Invalid("cart is empty")
	}
	if pointsToApply < 0 {
		return CheckoutResult{}, domain.Invalid("points to apply must not be negative")
	}
	user, err := e.Repo.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return CheckoutResult{}, domain.NotFound(fmt.Sprintf("unknown user %q", userID))
	}
	if err != nil {
		return CheckoutResult{}, err
	}
	if pointsToApply > user.Points {
		return CheckoutResult{}, domain.Invalid(fmt.Sprintf("insufficient points balance: have %d, want %d", user.Points, pointsToApply))
	}

	var subtotal, refillDiscount int64
	for _, line := range items {
		if line.Quantity <= 0 {
			return CheckoutResult{}, domain.Invalid(fmt.Sprintf("invalid quantity %d for product %q", line.Quantity, line.ProductID))
		}
		p, err := e.Repo.GetProduct(ctx, line.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			return CheckoutResult{}, domain.NotFound(fmt.Sprintf("unknown product %q", line.ProductID))
		}
		if err != nil {
			return CheckoutResult{}, err
		}
		linePrice := p.Price * int64(line.Quantity)
		subtotal += linePrice
		if line.AutoRefill {
			refillDiscount += linePrice / 10
		}
	}
	after := subtotal - refillDiscount
	pointsValue := pointsToApply / pricing.PointsPerNaira
	if pointsValue > after {
		pointsValue = after
	}
	pointsSpent := pointsValue * pricing.PointsPerNaira
	total := after - pointsValue
	earned := total / pricing.PointsPerNaira
	balance := user.Points - pointsSpent + earned

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CheckoutResult{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateUserPoints(ctx, tx, user.ID, balance); err != nil {
		return CheckoutResult{}, err
	}
	if err := e.Repo.InsertTransaction(ctx, tx, domain.Transaction{
		ID:          uuid.NewString(),
		Kind:        domain.TxnPurchase,
		UserID:      user.ID,
		Amount:      total,
		PointsDelta: earned - pointsSpent,
		CreatedAt:   now,
	}); err != nil {
		return CheckoutResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePurchase, "user", user.ID, actorID, events.EventPayload{
		"total":  total,
		"spent":  pointsSpent,
		"earned": earned,
	}); err != nil {
		return CheckoutResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{
		Subtotal:       subtotal,
		RefillDiscount: refillDiscount,
		PointsDiscount: pointsValue,
		Total:          total,
		PointsSpent:    pointsSpent,
		PointsEarned:   earned,
		PointsBalance:  balance,
	}, nil
}
