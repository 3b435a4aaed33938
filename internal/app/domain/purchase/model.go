package purchase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/post"
)

// Purchase records that UserID paid for PostID. At most one exists per pair.
type Purchase struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	PostID      string          `json:"post_id"`
	TxSignature string          `json:"tx_signature"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Currency    post.Currency   `json:"currency"`
	CreatedAt   time.Time       `json:"created_at"`
}
