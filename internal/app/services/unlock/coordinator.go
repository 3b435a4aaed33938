// Package unlock runs the pay-to-unlock transaction: validate, settle once,
// record the purchase.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/metrics"
	"github.com/nightstudio/paywall/internal/app/storage"
	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/pkg/logger"
)

// Status is the terminal classification of an unlock attempt.
type Status string

const (
	StatusUnlocked Status = "unlocked"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Outcome reasons produced by the coordinator itself. Settlement declines
// carry the settler's reason verbatim.
const (
	ReasonIdentityRequired      = "identity_required"
	ReasonNotLocked             = "not_locked"
	ReasonCreator               = "creator"
	ReasonAlreadyUnlocked       = "already_unlocked"
	ReasonSettlementUnavailable = "settlement_unavailable"
	ReasonSettlementDeclined    = "settlement_declined"
	ReasonRecordWriteFailed     = "payment_recorded_write_failed"
)

// Outcome is returned for every attempt that got past argument decoding.
// State is the attempt's terminal state.
//
// When a settlement loses the race to record, Reference and Purchase belong
// to the recorded purchase and DuplicateReference names the settlement that
// needs a refund.
type Outcome struct {
	Status             Status             `json:"status"`
	State              string             `json:"state"`
	Reason             string             `json:"reason,omitempty"`
	Reference          string             `json:"reference,omitempty"`
	DuplicateReference string             `json:"duplicate_reference,omitempty"`
	Purchase           *purchase.Purchase `json:"purchase,omitempty"`
}

// Err maps a non-unlocked outcome onto the service error taxonomy.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusUnlocked:
		return nil
	case StatusRejected:
		if o.Reason == ReasonIdentityRequired {
			return apperrors.IdentityRequired()
		}
		return apperrors.SettlementRejected(o.Reason)
	default:
		return apperrors.RecordWriteFailed(o.Reference, nil)
	}
}

// FailureRecorder keeps settled-but-unrecorded purchases for reconciliation.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, p purchase.Purchase, cause error) error
}

// Coordinator executes unlock attempts. It holds no lock across settlement;
// the purchase store's (user, post) uniqueness is the only serialisation.
type Coordinator struct {
	purchases storage.PurchaseStore
	settler   Settler
	journal   FailureRecorder
	log       *logger.Logger
	now       func() time.Time
}

// New constructs a coordinator. settler is used by Unlock; UnlockWith takes
// one per call.
func New(purchases storage.PurchaseStore, settler Settler, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewDefault("unlock")
	}
	return &Coordinator{purchases: purchases, settler: settler, log: log, now: time.Now}
}

// WithJournal attaches the reconciliation journal.
func (c *Coordinator) WithJournal(j FailureRecorder) *Coordinator {
	c.journal = j
	return c
}

// Unlock runs an attempt with the configured settler.
func (c *Coordinator) Unlock(ctx context.Context, viewerID string, p post.Post) (Outcome, error) {
	if c.settler == nil {
		return Outcome{}, apperrors.Internal("no settler configured", nil)
	}
	return c.UnlockWith(ctx, viewerID, p, c.settler)
}

// UnlockWith runs an attempt, invoking settle at most once.
//
// Errors are returned only before anything has been charged: a failed
// purchase lookup or a transition the attempt refuses. Everything after
// settlement is an Outcome.
func (c *Coordinator) UnlockWith(ctx context.Context, viewerID string, p post.Post, settle Settler) (Outcome, error) {
	started := c.now()
	a := newAttempt(c.log, viewerID, p.ID)
	if err := a.fire(eventValidate); err != nil {
		return Outcome{}, apperrors.Internal("start unlock attempt", err)
	}

	outcome, err := c.run(ctx, a, viewerID, p, settle)
	if err != nil {
		return Outcome{}, err
	}
	outcome.State = a.state()
	metrics.RecordUnlock(string(outcome.Status), outcome.Reason, c.now().Sub(started))
	return outcome, nil
}

func (c *Coordinator) run(ctx context.Context, a *attempt, viewerID string, p post.Post, settle Settler) (Outcome, error) {
	switch {
	case viewerID == "":
		return finish(a, eventReject, Outcome{Status: StatusRejected, Reason: ReasonIdentityRequired})
	case !p.Locked:
		return finish(a, eventShortCircuit, Outcome{Status: StatusUnlocked, Reason: ReasonNotLocked})
	case viewerID == p.CreatorID:
		return finish(a, eventShortCircuit, Outcome{Status: StatusUnlocked, Reason: ReasonCreator})
	}

	existing, err := c.purchases.FindPurchase(ctx, viewerID, p.ID)
	switch {
	case err == nil:
		return finish(a, eventShortCircuit, Outcome{
			Status:    StatusUnlocked,
			Reason:    ReasonAlreadyUnlocked,
			Reference: existing.TxSignature,
			Purchase:  &existing,
		})
	case !errors.Is(err, storage.ErrNotFound):
		return Outcome{}, fmt.Errorf("check existing purchase: %w", err)
	}

	if err := a.fire(eventSettle); err != nil {
		return Outcome{}, apperrors.Internal("begin settlement", err)
	}
	settled, ok := c.settle(ctx, settle, viewerID, p)
	if !ok {
		return finish(a, eventReject, Outcome{Status: StatusRejected, Reason: settled.Reason})
	}
	return c.record(ctx, a, viewerID, p, settled.Reference), nil
}

// finish ends an attempt that has not been charged.
func finish(a *attempt, event string, out Outcome) (Outcome, error) {
	if err := a.fire(event); err != nil {
		return Outcome{}, apperrors.Internal("finish unlock attempt", err)
	}
	return out, nil
}

// settle calls the settler and normalises its answer. ok is false for any
// decline or transport error.
func (c *Coordinator) settle(ctx context.Context, settler Settler, viewerID string, p post.Post) (Settlement, bool) {
	started := c.now()
	s, err := settler.Settle(ctx, viewerID, p)
	elapsed := c.now().Sub(started)

	entry := c.log.WithField("viewer_id", viewerID).WithField("post_id", p.ID)
	switch {
	case err != nil:
		metrics.RecordSettlement("error", elapsed)
		entry.WithError(err).Warn("settlement unavailable")
		return Declined(ReasonSettlementUnavailable), false
	case !s.OK:
		metrics.RecordSettlement("declined", elapsed)
		if s.Reason == "" {
			s.Reason = ReasonSettlementDeclined
		}
		entry.WithField("reason", s.Reason).Info("settlement declined")
		return s, false
	case s.Reference == "":
		// a success without a reference cannot be reconciled
		metrics.RecordSettlement("error", elapsed)
		entry.Error("settlement reported success without a reference")
		return Declined(ReasonSettlementUnavailable), false
	}
	metrics.RecordSettlement("ok", elapsed)
	return s, true
}

// record persists the purchase for a settled payment. The caller's context
// may already be cancelled; the write proceeds regardless.
func (c *Coordinator) record(ctx context.Context, a *attempt, viewerID string, p post.Post, reference string) Outcome {
	writeCtx := context.WithoutCancel(ctx)
	pending := purchase.Purchase{
		UserID:      viewerID,
		PostID:      p.ID,
		TxSignature: reference,
		PaidAmount:  p.Price,
		Currency:    p.Currency,
		CreatedAt:   c.now().UTC(),
	}
	entry := c.log.WithField("viewer_id", viewerID).WithField("post_id", p.ID).WithField("reference", reference)

	if err := a.fire(eventRecord); err != nil {
		return c.recordFailed(writeCtx, a, entry, pending, err)
	}

	created, err := c.purchases.CreatePurchase(writeCtx, pending)
	switch {
	case err == nil:
		_ = a.fire(eventRecorded)
		entry.Info("post unlocked")
		return Outcome{Status: StatusUnlocked, Reference: reference, Purchase: &created}

	case errors.Is(err, storage.ErrConflict):
		// a concurrent attempt for the same pair recorded first; this
		// settlement is a duplicate charge
		_ = a.fire(eventRecorded)
		metrics.RecordDuplicateSettlement()
		entry.Warn("duplicate settlement for already unlocked post; refund required")
		out := Outcome{Status: StatusUnlocked, Reason: ReasonAlreadyUnlocked, DuplicateReference: reference}
		if winner, findErr := c.purchases.FindPurchase(writeCtx, viewerID, p.ID); findErr == nil {
			out.Reference = winner.TxSignature
			out.Purchase = &winner
		} else {
			entry.WithError(findErr).Warn("recorded purchase lookup failed")
		}
		return out
	}
	return c.recordFailed(writeCtx, a, entry, pending, err)
}

// recordFailed journals a settled payment that has no purchase row.
func (c *Coordinator) recordFailed(ctx context.Context, a *attempt, entry *logrus.Entry, pending purchase.Purchase, err error) Outcome {
	_ = a.fire(eventRecordFail)
	metrics.RecordWriteFailure()
	entry.WithError(err).Error("payment settled but purchase record write failed")
	if c.journal != nil {
		if jErr := c.journal.RecordFailure(ctx, pending, err); jErr != nil {
			entry.WithError(jErr).Error("reconciliation journal write failed")
		}
	}
	return Outcome{Status: StatusFailed, Reason: ReasonRecordWriteFailed, Reference: pending.TxSignature}
}
