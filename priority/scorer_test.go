package priority

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/alerte/sources"
)

// stubAnalyzer returns a fixed analysis batch.
type stubAnalyzer struct {
	analyses []SourceAnalysis
	err      error
}

func (s stubAnalyzer) AnalyzeSources(ctx context.Context, srcs []*sources.Source) ([]SourceAnalysis, error) {
	return s.analyses, s.err
}

func src(id string, prio int) *sources.Source {
	return &sources.Source{ID: id, URL: "https://" + id + ".example.com", Priority: prio, Active: true}
}

func TestRankWith_AdjustedPriorityFormula(t *testing.T) {
	// WHAT: adjustedPriority = round(10·(0.7·analysisScore + 0.3·prio/10)).
	// WHY: The blend of external analysis and current priority is the
	// contract with the registry.
	s := NewScorer(nil, nil)

	ranked := s.RankWith(
		[]*sources.Source{src("a", 5)},
		[]SourceAnalysis{{SourceID: "a", QualityScore: 10, RelevanceScore: 10, ReliabilityScore: 10}},
	)
	if len(ranked) != 1 {
		t.Fatalf("count: got %d", len(ranked))
	}
	// analysisScore = 1.0 → round(10·(0.7 + 0.15)) = round(8.5) = 9 (away from zero)
	if ranked[0].AdjustedPriority != 9 {
		t.Errorf("adjusted: got %d, want 9", ranked[0].AdjustedPriority)
	}
}

func TestRankWith_SortAndProcessingOrder(t *testing.T) {
	// WHAT: Output is sorted descending with 1-based processing order,
	// ties broken by input order.
	// WHY: Processing order drives which source is fetched first in an
	// emergency window.
	s := NewScorer(nil, nil)

	srcs := []*sources.Source{src("low", 2), src("tie1", 5), src("tie2", 5), src("top", 9)}
	analyses := []SourceAnalysis{
		{SourceID: "low", QualityScore: 2, RelevanceScore: 2, ReliabilityScore: 2},
		{SourceID: "tie1", QualityScore: 6, RelevanceScore: 6, ReliabilityScore: 6},
		{SourceID: "tie2", QualityScore: 6, RelevanceScore: 6, ReliabilityScore: 6},
		{SourceID: "top", QualityScore: 9, RelevanceScore: 9, ReliabilityScore: 9},
	}
	ranked := s.RankWith(srcs, analyses)
	if len(ranked) != 4 {
		t.Fatalf("count: got %d", len(ranked))
	}
	if ranked[0].Source.ID != "top" {
		t.Errorf("first: got %s", ranked[0].Source.ID)
	}
	if ranked[1].Source.ID != "tie1" || ranked[2].Source.ID != "tie2" {
		t.Errorf("tie order: got %s, %s", ranked[1].Source.ID, ranked[2].Source.ID)
	}
	for i, sc := range ranked {
		if sc.ProcessingOrder != i+1 {
			t.Errorf("processing order at %d: got %d", i, sc.ProcessingOrder)
		}
	}
}

func TestRankWith_SkipsUnknownSource(t *testing.T) {
	// WHAT: An analysis for a source absent from the registry batch is
	// skipped; the rest survive.
	// WHY: A stale analyzer must not break the whole ranking.
	s := NewScorer(nil, nil)

	ranked := s.RankWith(
		[]*sources.Source{src("known", 5)},
		[]SourceAnalysis{
			{SourceID: "ghost", QualityScore: 9, RelevanceScore: 9, ReliabilityScore: 9},
			{SourceID: "known", QualityScore: 5, RelevanceScore: 5, ReliabilityScore: 5},
		},
	)
	if len(ranked) != 1 {
		t.Fatalf("count: got %d, want 1", len(ranked))
	}
	if ranked[0].Source.ID != "known" {
		t.Errorf("kept: got %s", ranked[0].Source.ID)
	}
}

func TestRankWith_LogsUnanalyzedSource(t *testing.T) {
	// WHAT: A source the analyzer skipped is logged by ID, not silently
	// dropped from view.
	// WHY: Operators must be able to tell "unranked" from "forgotten".
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewScorer(nil, logger)

	ranked := s.RankWith(
		[]*sources.Source{src("covered", 5), src("skipped", 5)},
		[]SourceAnalysis{{SourceID: "covered", QualityScore: 5, RelevanceScore: 5, ReliabilityScore: 5}},
	)
	if len(ranked) != 1 || ranked[0].Source.ID != "covered" {
		t.Fatalf("ranked: %+v", ranked)
	}
	if !strings.Contains(buf.String(), "skipped") {
		t.Errorf("missing-analysis log should name the source, got %q", buf.String())
	}
}

func TestUrgencyTiers(t *testing.T) {
	// WHAT: Urgency is derived from the mean of the three raw scores.
	// WHY: Emergency-tier sources feed the emergency source pool.
	cases := []struct {
		q, r, rel int
		want      Urgency
	}{
		{10, 9, 9, UrgencyEmergency}, // mean 9.33
		{9, 9, 9, UrgencyEmergency},  // mean 9
		{8, 7, 7, UrgencyHigh},       // mean 7.33
		{5, 5, 6, UrgencyMedium},     // mean 5.33
		{3, 4, 2, UrgencyLow},        // mean 3
	}
	for _, c := range cases {
		got := urgencyFor(SourceAnalysis{QualityScore: c.q, RelevanceScore: c.r, ReliabilityScore: c.rel})
		if got != c.want {
			t.Errorf("urgency(%d,%d,%d): got %s, want %s", c.q, c.r, c.rel, got, c.want)
		}
	}
}

func TestRank_AnalyzerError(t *testing.T) {
	// WHAT: Rank surfaces the analyzer's error.
	// WHY: Callers need to distinguish "no analysis" from "empty ranking".
	boom := errors.New("analyzer down")
	s := NewScorer(stubAnalyzer{err: boom}, nil)

	_, err := s.Rank(context.Background(), []*sources.Source{src("a", 5)})
	if !errors.Is(err, boom) {
		t.Fatalf("expected analyzer error, got %v", err)
	}
}
