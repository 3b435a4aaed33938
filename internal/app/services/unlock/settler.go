package unlock

import (
	"context"

	"github.com/nightstudio/paywall/internal/app/domain/post"
)

// Settlement is what a payment boundary reports back. Reference identifies
// the transfer when OK; Reason explains a decline otherwise.
type Settlement struct {
	OK        bool
	Reference string
	Reason    string
}

// Settler moves the viewer's funds for a post. Implementations must not
// record purchases themselves. A returned error means the settler could not
// be reached or answered nonsense; declines are reported through Settlement.
type Settler interface {
	Settle(ctx context.Context, viewerID string, p post.Post) (Settlement, error)
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, viewerID string, p post.Post) (Settlement, error)

func (f SettlerFunc) Settle(ctx context.Context, viewerID string, p post.Post) (Settlement, error) {
	return f(ctx, viewerID, p)
}

// Settled returns a successful settlement.
func Settled(reference string) Settlement {
	return Settlement{OK: true, Reference: reference}
}

// Declined returns a failed settlement.
func Declined(reason string) Settlement {
	return Settlement{Reason: reason}
}
