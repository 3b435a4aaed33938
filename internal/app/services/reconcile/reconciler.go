package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nightstudio/paywall/internal/app/metrics"
	"github.com/nightstudio/paywall/internal/app/storage"
	"github.com/nightstudio/paywall/internal/app/system"
	"github.com/nightstudio/paywall/pkg/logger"
)

// Report summarises one reconciliation pass.
type Report struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// Reconciler retries purchase writes recorded in the journal. It never
// settles again: the payment in each entry has already been taken.
type Reconciler struct {
	journal   *Journal
	purchases storage.PurchaseStore
	schedule  string
	log       *logger.Logger

	runMu sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Reconciler)(nil)

// NewReconciler constructs a reconciler. schedule is a standard cron
// expression or descriptor such as "@every 5m".
func NewReconciler(journal *Journal, purchases storage.PurchaseStore, schedule string, log *logger.Logger) (*Reconciler, error) {
	if journal == nil {
		return nil, errors.New("journal required")
	}
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	return &Reconciler{journal: journal, purchases: purchases, schedule: schedule, log: log}, nil
}

func (r *Reconciler) Name() string { return "purchase-reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(r.log))))
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.WithError(err).Warn("reconciliation pass failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}
	c.Start()
	r.cron = c
	r.running = true
	r.log.Infof("purchase reconciler started (%s)", r.schedule)
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.running = false
	r.cron = nil
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("purchase reconciler stopped")
	return nil
}

// RunOnce processes every pending entry. A conflict means the purchase was
// recorded by another path and counts as resolved.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	entries, err := r.journal.Pending()
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := r.log.WithField("journal_id", e.ID).
			WithField("reference", e.Purchase.TxSignature).
			WithField("viewer_id", e.Purchase.UserID).
			WithField("post_id", e.Purchase.PostID)

		_, writeErr := r.purchases.CreatePurchase(ctx, e.Purchase)
		note := "recorded"
		if errors.Is(writeErr, storage.ErrConflict) {
			note = r.conflictNote(ctx, e)
			writeErr = nil
		}
		if writeErr != nil {
			report.Failed++
			entry.WithError(writeErr).Warnf("purchase write retry %d failed", e.Attempts+1)
			if err := r.journal.MarkRetryFailed(e.ID, writeErr); err != nil {
				return report, err
			}
			continue
		}
		if err := r.journal.MarkResolved(e.ID, note); err != nil {
			return report, err
		}
		report.Resolved++
		entry.Infof("reconciled settled payment (%s)", note)
	}

	report.Pending = len(entries) - report.Resolved
	metrics.RecordReconcile(report.Resolved, report.Failed, report.Pending)
	return report, nil
}

// conflictNote distinguishes a purchase that already carries this entry's
// reference from one recorded by a different settlement, which needs a refund.
func (r *Reconciler) conflictNote(ctx context.Context, e Entry) string {
	existing, err := r.purchases.FindPurchase(ctx, e.Purchase.UserID, e.Purchase.PostID)
	if err != nil || existing.TxSignature == e.Purchase.TxSignature {
		return "already recorded"
	}
	r.log.WithField("reference", e.Purchase.TxSignature).
		WithField("recorded_reference", existing.TxSignature).
		Warn("settled payment duplicates an existing purchase; refund required")
	return "duplicate of " + existing.TxSignature
}

// Schedule returns the cron expression the reconciler runs on.
func (r *Reconciler) Schedule() string { return r.schedule }

// nextRun reports when the scheduler fires next; zero when stopped.
func (r *Reconciler) nextRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron == nil {
		return time.Time{}
	}
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
