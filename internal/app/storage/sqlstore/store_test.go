package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), nil), mock
}

func TestCreatePurchaseMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO purchases`).
		WithArgs(sqlmock.AnyArg(), "u1", "p1", "tx123", "5", "USDC", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "purchases_user_post_key"})

	_, err := store.CreatePurchase(context.Background(), purchase.Purchase{
		UserID: "u1", PostID: "p1", TxSignature: "tx123", PaidAmount: decimal.NewFromInt(5), Currency: "USDC",
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreatePurchaseMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO purchases`).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	_, err := store.CreatePurchase(context.Background(), purchase.Purchase{UserID: "u1", PostID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindPurchaseNoRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM purchases WHERE user_id = \$1 AND post_id = \$2`).
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "post_id", "tx_signature", "paid_amount", "currency", "created_at"}))

	_, err := store.FindPurchase(context.Background(), "u1", "p1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateFollowRollsBackOnDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO follows`).
		WithArgs("a", "b", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})
	mock.ExpectRollback()

	if _, err := store.CreateFollow(context.Background(), followOf("a", "b")); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMapErrorPassesThroughUnknown(t *testing.T) {
	store, _ := newMockStore(t)
	boom := errors.New("connection reset")
	err := store.mapError(boom, "op")
	if !errors.Is(err, boom) || errors.Is(err, storage.ErrConflict) {
		t.Fatalf("unexpected mapping: %v", err)
	}
	if store.mapError(nil, "op") != nil {
		t.Fatalf("nil should stay nil")
	}
}

func TestWithForeignKeys(t *testing.T) {
	cases := map[string]string{
		"paywall.db":                  "paywall.db?_foreign_keys=on",
		"file:x.db?cache=shared":      "file:x.db?cache=shared&_foreign_keys=on",
		"paywall.db?_foreign_keys=on": "paywall.db?_foreign_keys=on",
	}
	for in, want := range cases {
		if got := withForeignKeys(in); got != want {
			t.Fatalf("withForeignKeys(%q) = %q, want %q", in, got, want)
		}
	}
}
