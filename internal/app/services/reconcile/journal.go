// Package reconcile keeps settled payments whose purchase record could not be
// written and retries the write until it lands.
package reconcile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightstudio/paywall/internal/app/domain/purchase"
)

// Entry kinds appended to the journal.
const (
	KindWriteFailed = "write_failed"
	KindRetryFailed = "retry_failed"
	KindResolved    = "resolved"
)

// Record is one JSONL line.
type Record struct {
	Kind     string             `json:"kind"`
	ID       string             `json:"id"`
	Time     time.Time          `json:"time"`
	Purchase *purchase.Purchase `json:"purchase,omitempty"`
	Error    string             `json:"error,omitempty"`
	Note     string             `json:"note,omitempty"`
}

// Entry is an unresolved failure folded from the journal.
type Entry struct {
	ID        string
	Purchase  purchase.Purchase
	FirstSeen time.Time
	LastError string
	Attempts  int
}

// Journal is an append-only JSONL file. Entries are never rewritten; a
// resolved record closes an earlier write_failed record with the same ID.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
	now  func() time.Time
}

// OpenJournal opens (creating if needed) the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, file: f, now: time.Now}, nil
}

// Path returns the journal file location.
func (j *Journal) Path() string { return j.path }

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// RecordFailure appends a settled purchase that could not be written.
func (j *Journal) RecordFailure(_ context.Context, p purchase.Purchase, cause error) error {
	rec := Record{Kind: KindWriteFailed, ID: uuid.NewString(), Purchase: &p}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return j.append(rec)
}

// MarkRetryFailed notes another unsuccessful write attempt for id.
func (j *Journal) MarkRetryFailed(id string, cause error) error {
	return j.append(Record{Kind: KindRetryFailed, ID: id, Error: cause.Error()})
}

// MarkResolved closes id.
func (j *Journal) MarkResolved(id, note string) error {
	return j.append(Record{Kind: KindResolved, ID: id, Note: note})
}

func (j *Journal) append(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rec.Time.IsZero() {
		rec.Time = j.now().UTC()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := j.file.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return j.file.Sync()
}

// Pending folds the journal into the unresolved entries in journal order.
// Lines that fail to decode are skipped so one torn write cannot block
// reconciliation of everything after it.
func (j *Journal) Pending() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer f.Close()
	return fold(f)
}

func fold(r io.Reader) ([]Entry, error) {
	open := make(map[string]*Entry)
	var order []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.ID == "" {
			continue
		}
		switch rec.Kind {
		case KindWriteFailed:
			if rec.Purchase == nil {
				continue
			}
			if _, seen := open[rec.ID]; !seen {
				order = append(order, rec.ID)
			}
			open[rec.ID] = &Entry{ID: rec.ID, Purchase: *rec.Purchase, FirstSeen: rec.Time, LastError: rec.Error}
		case KindRetryFailed:
			if e, ok := open[rec.ID]; ok {
				e.Attempts++
				e.LastError = rec.Error
			}
		case KindResolved:
			delete(open, rec.ID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	out := make([]Entry, 0, len(open))
	for _, id := range order {
		if e, ok := open[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}
