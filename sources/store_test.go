package sources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/alerte/dbopen"
	_ "modernc.org/sqlite"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return NewRegistry(db)
}

func TestApplySchema(t *testing.T) {
	// WHAT: Verify schema creates all registry tables.
	// WHY: Schema is the foundation — if it fails, nothing works.
	r := openTestRegistry(t)
	for _, table := range []string{"sources", "priority_weights", "performance_history", "priority_adjustments"} {
		var name string
		err := r.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestInsertAndGetSource(t *testing.T) {
	// WHAT: Insert a source and retrieve it by ID, with defaults applied.
	// WHY: Every scorer and adjuster starts from a registry lookup.
	r := openTestRegistry(t)
	ctx := context.Background()

	src := &Source{ID: "src-1", URL: "https://feed.example.com/rss", Name: "Example", Active: true}
	if err := r.InsertSource(ctx, src); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := r.GetSource(ctx, "src-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("source not found")
	}
	if got.Priority != 5 {
		t.Errorf("default priority: got %d, want 5", got.Priority)
	}
	if got.RefreshRate != 30 {
		t.Errorf("default refresh rate: got %d, want 30", got.RefreshRate)
	}
	if got.Category != CategoryOther {
		t.Errorf("default category: got %q", got.Category)
	}
	if !got.Active {
		t.Error("active should be true")
	}
}

func TestInsertSource_Validation(t *testing.T) {
	// WHAT: Missing URL and out-of-range priority are rejected as
	// ErrInvalidSource; duplicate URLs as ErrDuplicateSource.
	// WHY: HTTP handlers map these errors to 400 and 409.
	r := openTestRegistry(t)
	ctx := context.Background()

	if err := r.InsertSource(ctx, &Source{ID: "x"}); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("missing url: got %v", err)
	}
	if err := r.InsertSource(ctx, &Source{ID: "x", URL: "https://x.example.com", Priority: 11}); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("priority 11: got %v", err)
	}

	if err := r.InsertSource(ctx, &Source{ID: "a", URL: "https://dup.example.com"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := r.InsertSource(ctx, &Source{ID: "b", URL: "https://dup.example.com"}); !errors.Is(err, ErrDuplicateSource) {
		t.Errorf("duplicate url: got %v", err)
	}
}

func TestListSources_PriorityOrder(t *testing.T) {
	// WHAT: ListSources returns sources ordered by priority descending.
	// WHY: The scorer's tie-break contract depends on a stable base order.
	r := openTestRegistry(t)
	ctx := context.Background()

	for i, p := range []int{3, 9, 6} {
		r.InsertSource(ctx, &Source{
			ID:       fmt.Sprintf("src-%d", i),
			URL:      fmt.Sprintf("https://s%d.example.com", i),
			Priority: p,
			Active:   true,
		})
	}

	list, err := r.ListSources(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("count: got %d, want 3", len(list))
	}
	if list[0].Priority != 9 || list[1].Priority != 6 || list[2].Priority != 3 {
		t.Errorf("order: got %d,%d,%d", list[0].Priority, list[1].Priority, list[2].Priority)
	}
}

func TestUpsertAndGetWeight(t *testing.T) {
	// WHAT: Upsert writes and overwrites the weight record.
	// WHY: The dynamic adjuster updates weights in place after each cycle.
	r := openTestRegistry(t)
	ctx := context.Background()

	r.InsertSource(ctx, &Source{ID: "src-w", URL: "https://w.example.com", Active: true})

	w := &PriorityWeight{SourceID: "src-w", RelevanceScore: 0.8, Timeliness: 0.9,
		SourceReliability: 0.75, ContentQuality: 0.6, MarketImpact: 0.85}
	if err := r.UpsertWeight(ctx, w); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	w.SourceReliability = 0.95
	if err := r.UpsertWeight(ctx, w); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := r.GetWeight(ctx, "src-w")
	if err != nil {
		t.Fatalf("get weight: %v", err)
	}
	if got.SourceReliability != 0.95 {
		t.Errorf("reliability: got %v, want 0.95", got.SourceReliability)
	}
	if got.MarketImpact != 0.85 {
		t.Errorf("market impact: got %v, want 0.85", got.MarketImpact)
	}
}

func TestReliability_DefaultWhenUnknown(t *testing.T) {
	// WHAT: Reliability falls back to 0.7 for sources without a weight record.
	// WHY: The value scorer's credibility factor needs a defined default.
	r := openTestRegistry(t)
	if got := r.Reliability(context.Background(), "nope"); got != 0.7 {
		t.Errorf("default reliability: got %v, want 0.7", got)
	}
}

func TestAppendPerformance_CapsHistory(t *testing.T) {
	// WHAT: History is capped at MaxHistoryPerSource, oldest evicted first.
	// WHY: Unbounded history would skew metrics and grow without limit.
	r := openTestRegistry(t)
	ctx := context.Background()

	r.InsertSource(ctx, &Source{ID: "src-h", URL: "https://h.example.com", Active: true})

	base := time.Now().UnixMilli()
	for i := 0; i < MaxHistoryPerSource+10; i++ {
		err := r.AppendPerformance(ctx, &PerformanceRecord{
			SourceID:       "src-h",
			Success:        true,
			ResponseTimeMs: int64(i),
			RecordedAt:     base + int64(i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recs, err := r.History(ctx, "src-h")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != MaxHistoryPerSource {
		t.Fatalf("count: got %d, want %d", len(recs), MaxHistoryPerSource)
	}
	// Newest first; the oldest 10 must be gone.
	if recs[0].ResponseTimeMs != int64(MaxHistoryPerSource+9) {
		t.Errorf("newest: got %d", recs[0].ResponseTimeMs)
	}
	if recs[len(recs)-1].ResponseTimeMs != 10 {
		t.Errorf("oldest kept: got %d, want 10", recs[len(recs)-1].ResponseTimeMs)
	}
}

func TestMetrics_Aggregation(t *testing.T) {
	// WHAT: Metrics aggregates success rate, response time, and error history.
	// WHY: The dynamic adjuster's factors are computed from this view.
	r := openTestRegistry(t)
	ctx := context.Background()

	r.InsertSource(ctx, &Source{ID: "src-m", URL: "https://m.example.com", Active: true})
	base := time.Now().UnixMilli()

	r.AppendPerformance(ctx, &PerformanceRecord{SourceID: "src-m", Success: true, ResponseTimeMs: 100, QualityScore: 0.8, RecordedAt: base})
	r.AppendPerformance(ctx, &PerformanceRecord{SourceID: "src-m", Success: true, ResponseTimeMs: 300, QualityScore: 0.6, RecordedAt: base + 1})
	r.AppendPerformance(ctx, &PerformanceRecord{SourceID: "src-m", Success: false, ResponseTimeMs: 200, QualityScore: 0.4, ErrorMessage: "timeout", RecordedAt: base + 2})

	m, err := r.Metrics(ctx, "src-m")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.AverageResponseTime != 200 {
		t.Errorf("avg response time: got %v, want 200", m.AverageResponseTime)
	}
	if diff := m.SuccessRate - 2.0/3.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("success rate: got %v", m.SuccessRate)
	}
	if len(m.ErrorHistory) != 1 {
		t.Fatalf("error history: got %d entries", len(m.ErrorHistory))
	}
	if m.ErrorHistory[0].Message != "timeout" {
		t.Errorf("error message: got %q", m.ErrorHistory[0].Message)
	}
	if m.LastUpdateTime != base+2 {
		t.Errorf("last update: got %d, want %d", m.LastUpdateTime, base+2)
	}
}

func TestMetrics_EmptyHistory(t *testing.T) {
	// WHAT: Metrics with no history returns the zero value, not an error.
	// WHY: New sources have no history and must not break the adjuster.
	r := openTestRegistry(t)
	m, err := r.Metrics(context.Background(), "missing")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.SuccessRate != 0 || m.AverageResponseTime != 0 || len(m.ErrorHistory) != 0 {
		t.Errorf("expected zero metrics, got %+v", m)
	}
}

func TestInsertAndListAdjustments(t *testing.T) {
	// WHAT: Adjustments are appended and listed newest first.
	// WHY: The adjustment log is the priority-learning audit trail.
	r := openTestRegistry(t)
	ctx := context.Background()

	r.InsertSource(ctx, &Source{ID: "src-a", URL: "https://a.example.com", Active: true})
	now := time.Now().UnixMilli()

	r.InsertAdjustment(ctx, &PriorityAdjustment{SourceID: "src-a", OldPriority: 5, NewPriority: 7,
		Reason: "excellent performance", AdjustmentFactor: 1.3, CreatedAt: now, ValidUntil: now + 86400000})
	r.InsertAdjustment(ctx, &PriorityAdjustment{SourceID: "src-a", OldPriority: 7, NewPriority: 6,
		Reason: "poor timeliness", AdjustmentFactor: 0.85, CreatedAt: now + 1, ValidUntil: now + 1 + 86400000})

	adjs, err := r.ListAdjustments(ctx, "src-a", 10)
	if err != nil {
		t.Fatalf("list adjustments: %v", err)
	}
	if len(adjs) != 2 {
		t.Fatalf("count: got %d, want 2", len(adjs))
	}
	if adjs[0].NewPriority != 6 {
		t.Errorf("newest first: got new_priority %d", adjs[0].NewPriority)
	}
}

func TestWithSourceLock_SerializesSameSource(t *testing.T) {
	// WHAT: WithSourceLock serializes concurrent critical sections per source.
	// WHY: Unsynchronized read-modify-write of priority loses updates.
	r := openTestRegistry(t)

	var inSection, maxInSection int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.WithSourceLock("same", func() error {
				mu.Lock()
				inSection++
				if inSection > maxInSection {
					maxInSection = inSection
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inSection--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInSection != 1 {
		t.Errorf("critical section overlap: max concurrent %d, want 1", maxInSection)
	}
}

func TestDeleteSource_Cascades(t *testing.T) {
	// WHAT: Deleting a source removes its weight, history, and adjustments.
	// WHY: Orphaned rows would leak into metrics for reused IDs.
	r := openTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	r.InsertSource(ctx, &Source{ID: "src-d", URL: "https://d.example.com", Active: true})
	r.UpsertWeight(ctx, &PriorityWeight{SourceID: "src-d"})
	r.AppendPerformance(ctx, &PerformanceRecord{SourceID: "src-d", Success: true, RecordedAt: now})
	r.InsertAdjustment(ctx, &PriorityAdjustment{SourceID: "src-d", OldPriority: 5, NewPriority: 6, CreatedAt: now, ValidUntil: now + 86400000})

	if err := r.DeleteSource(ctx, "src-d"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var count int
	for _, table := range []string{"priority_weights", "performance_history", "priority_adjustments"} {
		err := r.DB.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&count)
		if err != nil && err != sql.ErrNoRows {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s: %d rows left after cascade", table, count)
		}
	}
}
