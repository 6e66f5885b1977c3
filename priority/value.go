// Package priority implements the adaptive source prioritization core:
// per-item information value scoring, analyzer-driven batch ranking,
// performance-driven dynamic priority adjustment, and the emergency
// priority switch for volatile market conditions.
package priority

import (
	"context"
	"math"
	"strings"
	"time"
)

// FeedItem is one entry from an external fetcher. Ephemeral — scored and
// discarded, never persisted.
type FeedItem struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
	Tags        []string  `json:"tags,omitempty"`
}

// ValueFactors are the five scoring factors, each on the 0–100 scale.
type ValueFactors struct {
	Timeliness    float64 `json:"timeliness"`
	Relevance     float64 `json:"relevance"`
	Uniqueness    float64 `json:"uniqueness"`
	Actionability float64 `json:"actionability"`
	Credibility   float64 `json:"credibility"`
}

// InformationValue is the scored value of a single feed item. Score and all
// factors use one consistent 0–100 scale: factors are computed in [0,1],
// weighted, and multiplied by 100 exactly once.
type InformationValue struct {
	Score       float64      `json:"score"` // 0..100
	Factors     ValueFactors `json:"factors"`
	Explanation string       `json:"explanation"`
}

// ReliabilityLookup resolves a source's stored reliability weight in [0,1].
// Implementations return 0.7 for unknown sources (sources.Registry does).
type ReliabilityLookup interface {
	Reliability(ctx context.Context, sourceID string) float64
}

// domainKeywords drive the relevance factor. Five hits saturate it.
var domainKeywords = []string{
	"market", "trading", "price", "rate", "currency", "dollar", "euro",
	"bitcoin", "crypto", "stock", "index", "fed", "inflation", "earnings",
	"volatility", "central bank", "interest",
}

// actionableKeywords drive the actionability factor, 0.1 per hit.
var actionableKeywords = []string{
	"buy", "sell", "target", "support", "resistance", "forecast",
	"breakout", "entry", "exit", "stop loss", "upgrade", "downgrade",
}

// ValueScorer scores feed items. Pure apart from the reliability lookup.
type ValueScorer struct {
	lookup ReliabilityLookup
	now    func() time.Time
}

// ValueScorerOption configures a ValueScorer.
type ValueScorerOption func(*ValueScorer)

// WithClock overrides the scorer's clock, for deterministic timeliness tests.
func WithClock(now func() time.Time) ValueScorerOption {
	return func(s *ValueScorer) { s.now = now }
}

// NewValueScorer creates a ValueScorer backed by the given reliability lookup.
func NewValueScorer(lookup ReliabilityLookup, opts ...ValueScorerOption) *ValueScorer {
	s := &ValueScorer{lookup: lookup, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score computes the information value of one feed item.
//
// Factors, each in [0,1] before display scaling:
//
//	timeliness    linear decay to zero over one hour of age
//	relevance     domain keyword hits in title+description, capped
//	uniqueness    distinct words / total words in the title
//	actionability 0.1 per actionable keyword, capped
//	credibility   the source's stored reliability weight (0.7 default)
//
// Weighted sum: 0.25·t + 0.30·r + 0.15·u + 0.20·a + 0.10·c, scaled to 0–100.
func (s *ValueScorer) Score(ctx context.Context, item *FeedItem) *InformationValue {
	t := timelinessFactor(item.PublishedAt, s.now())
	r := relevanceFactor(item.Title + " " + item.Description)
	u := uniquenessFactor(item.Title)
	a := actionabilityFactor(item.Title + " " + item.Description)
	c := s.lookup.Reliability(ctx, item.SourceID)

	weighted := 0.25*t + 0.30*r + 0.15*u + 0.20*a + 0.10*c

	return &InformationValue{
		Score: math.Round(weighted*100*100) / 100,
		Factors: ValueFactors{
			Timeliness:    math.Round(t * 100),
			Relevance:     math.Round(r * 100),
			Uniqueness:    math.Round(u * 100),
			Actionability: math.Round(a * 100),
			Credibility:   math.Round(c * 100),
		},
		Explanation: explainValue(t, r, a),
	}
}

func timelinessFactor(publishedAt, now time.Time) float64 {
	if publishedAt.IsZero() {
		return 0
	}
	ageMinutes := now.Sub(publishedAt).Minutes()
	if ageMinutes < 0 {
		ageMinutes = 0
	}
	return math.Max(0, 1-ageMinutes/60)
}

func relevanceFactor(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return math.Min(1.0, float64(hits)/5.0)
}

func uniquenessFactor(title string) float64 {
	words := strings.Fields(strings.ToLower(title))
	if len(words) == 0 {
		return 0
	}
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[w] = struct{}{}
	}
	return float64(len(distinct)) / float64(len(words))
}

func actionabilityFactor(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.0
	for _, kw := range actionableKeywords {
		if strings.Contains(lower, kw) {
			score += 0.1
		}
	}
	return math.Min(1.0, score)
}

func explainValue(timeliness, relevance, actionability float64) string {
	var parts []string
	switch {
	case timeliness > 0.8:
		parts = append(parts, "very recent")
	case timeliness < 0.2:
		parts = append(parts, "stale")
	}
	if relevance >= 0.6 {
		parts = append(parts, "strong domain relevance")
	}
	if actionability >= 0.3 {
		parts = append(parts, "contains actionable signals")
	}
	if len(parts) == 0 {
		return "no standout factors"
	}
	return strings.Join(parts, ", ")
}
