// Package access decides how much of a post a viewer may see.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/metrics"
	"github.com/nightstudio/paywall/internal/app/storage"
	"github.com/nightstudio/paywall/pkg/logger"
)

// Reasons attached to a denied decision.
const (
	ReasonNoIdentity      = "no_identity"
	ReasonPaymentRequired = "payment_required"
)

// PurchaseFinder is the read side of storage.PurchaseStore.
type PurchaseFinder interface {
	FindPurchase(ctx context.Context, userID, postID string) (purchase.Purchase, error)
}

// Result is the outcome of ResolveVisibility. Price and Currency are only set
// when the denial can be lifted by paying.
type Result struct {
	FullContentVisible bool             `json:"full_content_visible"`
	UnlockRequired     bool             `json:"unlock_required"`
	Reason             string           `json:"reason,omitempty"`
	Price              *decimal.Decimal `json:"price,omitempty"`
	Currency           post.Currency    `json:"currency,omitempty"`
}

var visible = Result{FullContentVisible: true}

// Engine resolves visibility. It never writes.
type Engine struct {
	purchases PurchaseFinder
	log       *logger.Logger
}

// New constructs an engine reading purchases from the given store.
func New(purchases PurchaseFinder, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("access")
	}
	return &Engine{purchases: purchases, log: log}
}

// ResolveVisibility decides whether viewerID may see the full content of p.
// An empty viewerID means an anonymous viewer. Lookup failures are returned
// as errors rather than being treated as either outcome.
func (e *Engine) ResolveVisibility(ctx context.Context, p post.Post, viewerID string) (Result, error) {
	if !p.Locked {
		metrics.RecordVisibility("free")
		return visible, nil
	}
	if viewerID == "" {
		metrics.RecordVisibility(ReasonNoIdentity)
		return Result{UnlockRequired: true, Reason: ReasonNoIdentity}, nil
	}
	if viewerID == p.CreatorID {
		metrics.RecordVisibility("creator")
		return visible, nil
	}

	_, err := e.purchases.FindPurchase(ctx, viewerID, p.ID)
	switch {
	case err == nil:
		metrics.RecordVisibility("purchased")
		return visible, nil
	case errors.Is(err, storage.ErrNotFound):
		metrics.RecordVisibility(ReasonPaymentRequired)
		price := p.Price
		return Result{
			UnlockRequired: true,
			Reason:         ReasonPaymentRequired,
			Price:          &price,
			Currency:       p.Currency,
		}, nil
	default:
		e.log.WithError(err).WithField("post_id", p.ID).Warn("purchase lookup failed")
		return Result{}, fmt.Errorf("resolve visibility for post %s: %w", p.ID, err)
	}
}

// PostView is the shape of a post handed to a viewer. MediaURL is empty
// unless the decision allows full content.
type PostView struct {
	ID         string          `json:"id"`
	CreatorID  string          `json:"creator_id"`
	Title      string          `json:"title"`
	TeaserText string          `json:"teaser_text"`
	MediaURL   string          `json:"media_url,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Currency   post.Currency   `json:"currency"`
	Locked     bool            `json:"locked"`
	LikesCount int             `json:"likes_count"`
	CreatedAt  time.Time       `json:"created_at"`
	Access     Result          `json:"access"`
}

// Redact projects p through a decision. The teaser is always kept.
func Redact(p post.Post, r Result) PostView {
	v := PostView{
		ID:         p.ID,
		CreatorID:  p.CreatorID,
		Title:      p.Title,
		TeaserText: p.TeaserText,
		Price:      p.Price,
		Currency:   p.Currency,
		Locked:     p.Locked,
		LikesCount: p.LikesCount,
		CreatedAt:  p.CreatedAt,
		Access:     r,
	}
	if r.FullContentVisible {
		v.MediaURL = p.MediaURL
	}
	return v
}

// View resolves and redacts in one step.
func (e *Engine) View(ctx context.Context, p post.Post, viewerID string) (PostView, error) {
	r, err := e.ResolveVisibility(ctx, p, viewerID)
	if err != nil {
		return PostView{}, err
	}
	return Redact(p, r), nil
}

// ViewAll redacts a page of posts for one viewer, preserving order.
func (e *Engine) ViewAll(ctx context.Context, posts []post.Post, viewerID string) ([]PostView, error) {
	out := make([]PostView, 0, len(posts))
	for _, p := range posts {
		v, err := e.View(ctx, p, viewerID)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
