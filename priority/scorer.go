package priority

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/hazyhaar/alerte/sources"
)

// Urgency is the tier assigned to a source from its raw analysis scores.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// SourceAnalysis is the externally supplied assessment of one source.
// Scores are 1–10 integers; Reasoning is free text.
type SourceAnalysis struct {
	SourceID         string `json:"source_id"`
	QualityScore     int    `json:"quality_score"`
	RelevanceScore   int    `json:"relevance_score"`
	ReliabilityScore int    `json:"reliability_score"`
	Reasoning        string `json:"reasoning"`
}

// SourceAnalyzer supplies SourceAnalysis batches for a set of sources.
// This is a pluggable capability: the core never assumes a specific vendor
// or call style behind it.
type SourceAnalyzer interface {
	AnalyzeSources(ctx context.Context, srcs []*sources.Source) ([]SourceAnalysis, error)
}

// ScoredSource is one ranked entry in a scoring batch.
type ScoredSource struct {
	Source           *sources.Source `json:"source"`
	Analysis         SourceAnalysis  `json:"analysis"`
	AdjustedPriority int             `json:"adjusted_priority"` // 1..10
	Urgency          Urgency         `json:"urgency"`
	ProcessingOrder  int             `json:"processing_order"` // 1-based after sort
}

// Scorer combines external source analyses with current priorities.
type Scorer struct {
	analyzer SourceAnalyzer
	logger   *slog.Logger
}

// NewScorer creates a Scorer around an injected analyzer. The analyzer may
// be nil when callers only use RankWith.
func NewScorer(analyzer SourceAnalyzer, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{analyzer: analyzer, logger: logger}
}

// Rank analyzes the given sources and ranks them.
func (s *Scorer) Rank(ctx context.Context, srcs []*sources.Source) ([]*ScoredSource, error) {
	analyses, err := s.analyzer.AnalyzeSources(ctx, srcs)
	if err != nil {
		return nil, err
	}
	return s.RankWith(srcs, analyses), nil
}

// RankWith combines already obtained analyses with the sources' current
// priorities. For each analysis:
//
//	analysisScore    = (0.3·quality + 0.4·relevance + 0.3·reliability) / 10
//	adjustedPriority = round(10 · (0.7·analysisScore + 0.3·currentPriority/10))
//
// The result is sorted descending by adjusted priority, ties broken by
// input order, and each entry gets a 1-based processing order. An analysis
// whose source is missing from srcs is skipped, and a source missing from
// the analyses batch is logged; neither is dropped silently.
func (s *Scorer) RankWith(srcs []*sources.Source, analyses []SourceAnalysis) []*ScoredSource {
	byID := make(map[string]*sources.Source, len(srcs))
	order := make(map[string]int, len(srcs))
	for i, src := range srcs {
		byID[src.ID] = src
		order[src.ID] = i
	}

	analyzed := make(map[string]bool, len(analyses))
	for _, a := range analyses {
		analyzed[a.SourceID] = true
	}
	for _, src := range srcs {
		if !analyzed[src.ID] {
			s.logger.Warn("source missing from analysis batch, left unranked", "source_id", src.ID)
		}
	}

	out := make([]*ScoredSource, 0, len(analyses))
	for _, a := range analyses {
		src, ok := byID[a.SourceID]
		if !ok {
			s.logger.Warn("analysis for unknown source skipped", "source_id", a.SourceID)
			continue
		}

		analysisScore := (0.3*float64(a.QualityScore) + 0.4*float64(a.RelevanceScore) +
			0.3*float64(a.ReliabilityScore)) / 10.0
		adjusted := int(math.Round(10 * (0.7*analysisScore + 0.3*float64(src.Priority)/10.0)))
		adjusted = clampPriority(adjusted)

		out = append(out, &ScoredSource{
			Source:           src,
			Analysis:         a,
			AdjustedPriority: adjusted,
			Urgency:          urgencyFor(a),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AdjustedPriority != out[j].AdjustedPriority {
			return out[i].AdjustedPriority > out[j].AdjustedPriority
		}
		return order[out[i].Source.ID] < order[out[j].Source.ID]
	})
	for i, sc := range out {
		sc.ProcessingOrder = i + 1
	}
	return out
}

// urgencyFor derives the tier from the mean of the three raw 1–10 scores.
func urgencyFor(a SourceAnalysis) Urgency {
	mean := float64(a.QualityScore+a.RelevanceScore+a.ReliabilityScore) / 3.0
	switch {
	case mean >= 9:
		return UrgencyEmergency
	case mean >= 7:
		return UrgencyHigh
	case mean >= 5:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}
