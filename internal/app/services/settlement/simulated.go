// Package settlement provides Settler implementations for the unlock
// coordinator.
package settlement

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/services/unlock"
	"github.com/nightstudio/paywall/pkg/logger"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Simulated pretends to transfer funds. Every request succeeds after Delay
// with a reference of the form simulated_tx_<unix-ms>_<9 base36 chars>.
type Simulated struct {
	delay time.Duration
	now   func() time.Time
	log   *logger.Logger
}

var _ unlock.Settler = (*Simulated)(nil)

// NewSimulated constructs a simulated settler. A negative delay is treated as zero.
func NewSimulated(delay time.Duration, log *logger.Logger) *Simulated {
	if delay < 0 {
		delay = 0
	}
	if log == nil {
		log = logger.NewDefault("settlement-simulated")
	}
	return &Simulated{delay: delay, now: time.Now, log: log}
}

func (s *Simulated) Settle(ctx context.Context, viewerID string, p post.Post) (unlock.Settlement, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return unlock.Settlement{}, ctx.Err()
		case <-timer.C:
		}
	}

	suffix, err := randomBase36(9)
	if err != nil {
		return unlock.Settlement{}, fmt.Errorf("generate reference: %w", err)
	}
	ref := fmt.Sprintf("simulated_tx_%d_%s", s.now().UnixMilli(), suffix)
	s.log.WithField("viewer_id", viewerID).
		WithField("post_id", p.ID).
		WithField("amount", p.Price.String()+" "+string(p.Currency)).
		Debugf("simulated settlement %s", ref)
	return unlock.Settled(ref), nil
}

func randomBase36(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = base36[idx.Int64()]
	}
	return string(out), nil
}
