package watch

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/alerte/dbopen"
	"github.com/hazyhaar/alerte/sources"
	_ "modernc.org/sqlite"
)

// weightsDetector is the detector the binary wires up: it watches the
// priority_weights table for feedback-driven updates.
func weightsDetector() ChangeDetector {
	return MaxColumnDetector("priority_weights", "updated_at")
}

func weightedDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(sources.Schema))
	r := sources.NewRegistry(db)
	ctx := context.Background()
	if err := r.InsertSource(ctx, &sources.Source{
		ID: "src_watch", URL: "https://feed.example.com/markets", Active: true,
	}); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	if err := r.UpsertWeight(ctx, &sources.PriorityWeight{SourceID: "src_watch"}); err != nil {
		t.Fatalf("seed weight: %v", err)
	}
	return db
}

// touchWeights advances updated_at by a full second so the detector sees a
// new token regardless of wall-clock resolution.
func touchWeights(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.Exec("UPDATE priority_weights SET updated_at = updated_at + 1000"); err != nil {
		t.Fatalf("touch weights: %v", err)
	}
}

func TestMaxColumnDetector_WeightsTable(t *testing.T) {
	// WHAT: The detector reads 0 from an empty priority_weights table and
	// the max updated_at once a weight row exists.
	// WHY: The zero default keeps a fresh database from looking changed.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(sources.Schema))
	ctx := context.Background()
	det := weightsDetector()

	v, err := det(ctx, db)
	if err != nil {
		t.Fatalf("detect on empty table: %v", err)
	}
	if v != 0 {
		t.Fatalf("empty table: got %d, want 0", v)
	}

	r := sources.NewRegistry(db)
	if err := r.InsertSource(ctx, &sources.Source{
		ID: "s", URL: "https://s.example.com", Active: true,
	}); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	if err := r.UpsertWeight(ctx, &sources.PriorityWeight{SourceID: "s"}); err != nil {
		t.Fatalf("seed weight: %v", err)
	}
	v, err = det(ctx, db)
	if err != nil {
		t.Fatalf("detect after upsert: %v", err)
	}
	if v <= 0 {
		t.Fatalf("after upsert: got %d, want > 0", v)
	}
}

func TestOnChange_RefreshesWhenWeightsMove(t *testing.T) {
	// WHAT: A priority_weights update triggers exactly one refresh per
	// change; a quiet table triggers none.
	// WHY: The emergency switch re-partitions its pools on this signal.
	db := weightedDB(t)

	var refreshes atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Detector: weightsDetector(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.OnChange(ctx, func() error {
		refreshes.Add(1)
		return nil
	})

	// Let the watcher seed its initial token.
	time.Sleep(60 * time.Millisecond)

	touchWeights(t, db)
	time.Sleep(100 * time.Millisecond)
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("after first update: got %d refreshes, want 1", got)
	}

	touchWeights(t, db)
	time.Sleep(100 * time.Millisecond)
	if got := refreshes.Load(); got != 2 {
		t.Fatalf("after second update: got %d refreshes, want 2", got)
	}

	time.Sleep(100 * time.Millisecond)
	if got := refreshes.Load(); got != 2 {
		t.Fatalf("quiet table: got %d refreshes, want still 2", got)
	}
}

func TestOnChange_FailedRefreshRetried(t *testing.T) {
	// WHAT: A failed refresh leaves the version token behind, so the next
	// poll retries until the refresh succeeds.
	// WHY: Dropping a weight change over a transient error would leave the
	// pools partitioned on stale priorities.
	db := weightedDB(t)

	var calls atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Detector: weightsDetector(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := w.Version()
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("pools busy")
		}
		return nil
	})

	time.Sleep(60 * time.Millisecond)
	touchWeights(t, db)
	time.Sleep(150 * time.Millisecond)

	if got := calls.Load(); got < 2 {
		t.Fatalf("expected a retry after the failed refresh, got %d calls", got)
	}
	if w.Version() <= before {
		t.Fatalf("version did not advance after successful retry: %d", w.Version())
	}
}

func TestOnChange_DebounceCoalescesBurst(t *testing.T) {
	// WHAT: A burst of weight updates inside the debounce window collapses
	// into a single refresh.
	// WHY: A feedback batch rewrites many weight rows back to back; the
	// pools should be re-partitioned once, not per row.
	db := weightedDB(t)

	var refreshes atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Debounce: 150 * time.Millisecond,
		Detector: weightsDetector(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.OnChange(ctx, func() error {
		refreshes.Add(1)
		return nil
	})

	time.Sleep(60 * time.Millisecond)
	for i := 0; i < 4; i++ {
		touchWeights(t, db)
		time.Sleep(25 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("burst of updates: got %d refreshes, want 1", got)
	}
}

func TestPragmaDataVersion(t *testing.T) {
	// WHAT: The default detector reads a non-negative data_version token.
	// WHY: It is the fallback when no table-specific detector is wired.
	db := dbopen.OpenMemory(t)
	v, err := PragmaDataVersion(context.Background(), db)
	if err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if v < 0 {
		t.Fatalf("data_version: got %d", v)
	}
}
