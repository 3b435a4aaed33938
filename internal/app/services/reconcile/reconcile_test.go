package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/storage"
	"github.com/nightstudio/paywall/internal/app/storage/memory"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "nested", "reconcile.jsonl"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func settled(ref string) purchase.Purchase {
	return purchase.Purchase{
		UserID:      "u1",
		PostID:      "p1",
		TxSignature: ref,
		PaidAmount:  decimal.NewFromInt(5),
		Currency:    post.USDC,
		CreatedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestJournal_FoldsRecords(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	if err := j.RecordFailure(ctx, settled("tx-a"), errors.New("conn reset")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.RecordFailure(ctx, settled("tx-b"), nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	pending, err := j.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Purchase.TxSignature != "tx-a" || pending[0].LastError != "conn reset" {
		t.Fatalf("unexpected pending %+v", pending)
	}

	if err := j.MarkRetryFailed(pending[0].ID, errors.New("still down")); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if err := j.MarkResolved(pending[1].ID, "recorded"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pending, err = j.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError != "still down" {
		t.Fatalf("unexpected pending after resolve %+v", pending)
	}
}

func TestJournal_SkipsTornLines(t *testing.T) {
	j := openJournal(t)
	if err := j.RecordFailure(context.Background(), settled("tx-a"), nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString(`{"kind":"write_fai` + "\n")
	f.Close()

	pending, err := j.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}
}

type flakyStore struct {
	storage.PurchaseStore
	failures int
}

func (f *flakyStore) CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	if f.failures > 0 {
		f.failures--
		return purchase.Purchase{}, errors.New("database unavailable")
	}
	return f.PurchaseStore.CreatePurchase(ctx, p)
}

func TestReconciler_RetriesOnlyTheWrite(t *testing.T) {
	j := openJournal(t)
	mem := memory.New()
	store := &flakyStore{PurchaseStore: mem, failures: 1}
	ctx := context.Background()

	if err := j.RecordFailure(ctx, settled("tx-a"), errors.New("timeout")); err != nil {
		t.Fatalf("record: %v", err)
	}

	r, err := NewReconciler(j, store, "@every 1m", nil)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	report, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if report.Resolved != 0 || report.Failed != 1 || report.Pending != 1 {
		t.Fatalf("unexpected first report %+v", report)
	}

	report, err = r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report.Resolved != 1 || report.Pending != 0 {
		t.Fatalf("unexpected second report %+v", report)
	}

	rec, err := mem.FindPurchase(ctx, "u1", "p1")
	if err != nil || rec.TxSignature != "tx-a" {
		t.Fatalf("purchase not recorded: %+v %v", rec, err)
	}

	pending, _ := j.Pending()
	if len(pending) != 0 {
		t.Fatalf("journal still has %d pending entries", len(pending))
	}
}

func TestReconciler_ConflictResolves(t *testing.T) {
	j := openJournal(t)
	mem := memory.New()
	ctx := context.Background()

	if _, err := mem.CreatePurchase(ctx, settled("tx-winner")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := j.RecordFailure(ctx, settled("tx-loser"), errors.New("timeout")); err != nil {
		t.Fatalf("record: %v", err)
	}

	r, err := NewReconciler(j, mem, "", nil)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	report, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Resolved != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	raw, err := os.ReadFile(j.Path())
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if !strings.Contains(string(raw), `"note":"duplicate of tx-winner"`) {
		t.Fatalf("duplicate settlement not noted:\n%s", raw)
	}
}

func TestNewReconciler_RejectsBadSchedule(t *testing.T) {
	if _, err := NewReconciler(openJournal(t), memory.New(), "every now and then", nil); err == nil {
		t.Fatalf("expected schedule parse error")
	}
	if _, err := NewReconciler(nil, memory.New(), "", nil); err == nil {
		t.Fatalf("expected journal required error")
	}
}

func TestReconciler_StartStop(t *testing.T) {
	r, err := NewReconciler(openJournal(t), memory.New(), "@every 1h", nil)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if next := r.nextRun(); next.IsZero() {
		t.Fatalf("expected a scheduled run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !r.nextRun().IsZero() {
		t.Fatalf("scheduler still registered after stop")
	}
}
