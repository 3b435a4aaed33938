package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
)

type purchaseRow struct {
	ID          string          `db:"id"`
	UserID      string          `db:"user_id"`
	PostID      string          `db:"post_id"`
	TxSignature string          `db:"tx_signature"`
	PaidAmount  decimal.Decimal `db:"paid_amount"`
	Currency    string          `db:"currency"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (r purchaseRow) toDomain() purchase.Purchase {
	return purchase.Purchase{
		ID:          r.ID,
		UserID:      r.UserID,
		PostID:      r.PostID,
		TxSignature: r.TxSignature,
		PaidAmount:  r.PaidAmount,
		Currency:    post.Currency(r.Currency),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

const purchaseColumns = `id, user_id, post_id, tx_signature, paid_amount, currency, created_at`

func (s *Store) FindPurchase(ctx context.Context, userID, postID string) (purchase.Purchase, error) {
	var row purchaseRow
	query := s.db.Rebind(`SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = ? AND post_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, userID, postID); err != nil {
		return purchase.Purchase{}, s.mapError(err, "purchase "+userID+"/"+postID)
	}
	return row.toDomain(), nil
}

// CreatePurchase relies on the purchases_user_post_key unique index; a
// duplicate pair surfaces as storage.ErrConflict.
func (s *Store) CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := s.db.Rebind(`
		INSERT INTO purchases (id, user_id, post_id, tx_signature, paid_amount, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.PostID, p.TxSignature, p.PaidAmount.String(), string(p.Currency), p.CreatedAt)
	if err != nil {
		return purchase.Purchase{}, s.mapError(err, "create purchase "+p.UserID+"/"+p.PostID)
	}
	return p, nil
}

func (s *Store) ListPurchasesByUser(ctx context.Context, userID string) ([]purchase.Purchase, error) {
	var rows []purchaseRow
	query := s.db.Rebind(`SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = ? ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, s.mapError(err, "list purchases "+userID)
	}
	result := make([]purchase.Purchase, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}
