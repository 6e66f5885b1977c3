package priority

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hazyhaar/alerte/sources"
)

// Adjuster recalculates a source's priority from its recent performance.
// All read-modify-write work runs under the registry's per-source lock, so
// concurrent adjustments of the same source cannot lose updates.
type Adjuster struct {
	registry *sources.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// AdjusterOption configures an Adjuster.
type AdjusterOption func(*Adjuster)

// WithAdjusterClock overrides the clock, for deterministic time-factor tests.
func WithAdjusterClock(now func() time.Time) AdjusterOption {
	return func(a *Adjuster) { a.now = now }
}

// NewAdjuster creates an Adjuster bound to a registry.
func NewAdjuster(registry *sources.Registry, logger *slog.Logger, opts ...AdjusterOption) *Adjuster {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adjuster{registry: registry, logger: logger, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Adjust recomputes the priority of one source from its rolling metrics,
// persists the new priority and refreshed weight fields, and appends a
// PriorityAdjustment (valid for 24h) to the log.
func (a *Adjuster) Adjust(ctx context.Context, sourceID string) (*sources.PriorityAdjustment, error) {
	var adj *sources.PriorityAdjustment
	err := a.registry.WithSourceLock(sourceID, func() error {
		src, err := a.registry.GetSource(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("priority: load source: %w", err)
		}
		if src == nil {
			return fmt.Errorf("priority: source not found: %s", sourceID)
		}
		metrics, err := a.registry.Metrics(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("priority: load metrics: %w", err)
		}

		now := a.now()
		perfFactor := PerformanceFactor(metrics)
		timeFactor := timeFactorFor(now.UnixMilli() - metrics.LastUpdateTime)
		relFactor := reliabilityFactorFor(len(metrics.ErrorHistory))
		factor := (perfFactor + timeFactor + relFactor) / 3.0

		newPriority := clampPriority(int(math.Round(float64(src.Priority) * factor)))

		if err := a.registry.SetPriority(ctx, sourceID, newPriority); err != nil {
			return fmt.Errorf("priority: set priority: %w", err)
		}
		if err := a.updateWeights(ctx, sourceID, metrics, timeFactor, relFactor); err != nil {
			return err
		}

		adj = &sources.PriorityAdjustment{
			SourceID:         sourceID,
			OldPriority:      src.Priority,
			NewPriority:      newPriority,
			Reason:           adjustmentReason(perfFactor, timeFactor, relFactor),
			AdjustmentFactor: factor,
			CreatedAt:        now.UnixMilli(),
			ValidUntil:       now.Add(24 * time.Hour).UnixMilli(),
		}
		if err := a.registry.InsertAdjustment(ctx, adj); err != nil {
			return fmt.Errorf("priority: log adjustment: %w", err)
		}

		a.logger.Info("priority adjusted",
			"source_id", sourceID,
			"old", src.Priority, "new", newPriority,
			"factor", factor, "reason", adj.Reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adj, nil
}

// updateWeights refreshes the stored weight record's reliability, timeliness,
// and content quality from the latest metrics, preserving the other fields.
func (a *Adjuster) updateWeights(ctx context.Context, sourceID string, metrics *sources.PerformanceMetrics, timeFactor, relFactor float64) error {
	w, err := a.registry.GetWeight(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("priority: load weight: %w", err)
	}
	if w == nil {
		w = &sources.PriorityWeight{SourceID: sourceID, RelevanceScore: 0.5, MarketImpact: 0.5}
	}
	w.SourceReliability = relFactor
	// timeFactor spans 0.8..1.2; shift into [0,1] for the weight record.
	w.Timeliness = clamp01(timeFactor - 0.2)
	w.ContentQuality = clamp01(metrics.ContentQualityScore)
	if err := a.registry.UpsertWeight(ctx, w); err != nil {
		return fmt.Errorf("priority: update weight: %w", err)
	}
	return nil
}

// PerformanceFactor weighs success rate, latency, and content quality:
// 0.5·successRate + 0.3·max(0, 1 − avgResponseTime/10000) + 0.2·quality.
func PerformanceFactor(m *sources.PerformanceMetrics) float64 {
	latency := math.Max(0, 1-m.AverageResponseTime/10000)
	return 0.5*m.SuccessRate + 0.3*latency + 0.2*m.ContentQualityScore
}

// timeFactorFor rewards recently updated sources. ageMs is the time since
// the source's last recorded activity.
func timeFactorFor(ageMs int64) float64 {
	age := time.Duration(ageMs) * time.Millisecond
	switch {
	case age < 30*time.Minute:
		return 1.2
	case age < 60*time.Minute:
		return 1.1
	case age < 120*time.Minute:
		return 1.0
	case age < 360*time.Minute:
		return 0.9
	default:
		return 0.8
	}
}

// reliabilityFactorFor degrades with accumulated errors, floored at 0.5.
func reliabilityFactorFor(errorCount int) float64 {
	return math.Max(0.5, 1-float64(errorCount)/100)
}

// adjustmentReason names the factors that deviated from neutral.
func adjustmentReason(perf, tf, rel float64) string {
	var parts []string
	switch {
	case perf > 1.1:
		parts = append(parts, "excellent recent performance")
	case perf < 0.9:
		parts = append(parts, "poor recent performance")
	}
	switch {
	case tf > 1.1:
		parts = append(parts, "fresh activity")
	case tf < 0.9:
		parts = append(parts, "stale activity")
	}
	switch {
	case rel > 1.1:
		parts = append(parts, "excellent reliability")
	case rel < 0.9:
		parts = append(parts, "degraded reliability")
	}
	if len(parts) == 0 {
		return "all factors within normal bounds"
	}
	return strings.Join(parts, "; ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
