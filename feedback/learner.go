// Package feedback closes the learning loop: execution results from the
// fetch pipeline are folded into per-source performance history, poor
// performers are re-prioritized, and recurring patterns are surfaced with
// a confidence grade.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/alerte/sources"
)

// ExecutionResult is one observed fetch outcome reported by the pipeline.
type ExecutionResult struct {
	SourceID       string  `json:"source_id"`
	Success        bool    `json:"success"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	QualityScore   float64 `json:"quality_score"` // 0..1
	ErrorMessage   string  `json:"error_message,omitempty"`
	Timestamp      int64   `json:"timestamp"` // unix ms
}

// Pattern is one recurring behavior detected in a result batch.
type Pattern struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Report summarizes one ProcessResults run.
type Report struct {
	Processed int       `json:"processed"`
	Adjusted  []string  `json:"adjusted"` // source IDs whose priority was re-evaluated
	Patterns  []Pattern `json:"patterns"`
}

// Thresholds that mark a source as needing re-prioritization.
const (
	minSuccessRate = 0.7
	maxAvgResponse = 10_000 // ms
	minAvgQuality  = 0.5
)

// PriorityAdjuster re-evaluates one source's priority. Implemented by
// priority.Adjuster.
type PriorityAdjuster interface {
	Adjust(ctx context.Context, sourceID string) (*sources.PriorityAdjustment, error)
}

// Learner folds execution results into the registry and drives the
// priority feedback loop.
type Learner struct {
	registry *sources.Registry
	adjuster PriorityAdjuster
	logger   *slog.Logger
}

// NewLearner creates a Learner. adjuster may be nil, in which case poor
// performers are reported but not re-prioritized.
func NewLearner(registry *sources.Registry, adjuster PriorityAdjuster, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{registry: registry, adjuster: adjuster, logger: logger}
}

// ProcessResults records a batch of execution results, re-prioritizes
// sources whose batch metrics cross a trouble threshold, and reports the
// patterns found in the batch. Per-source history is capped by the store;
// old records roll off.
func (l *Learner) ProcessResults(ctx context.Context, results []ExecutionResult) (*Report, error) {
	report := &Report{Adjusted: []string{}, Patterns: []Pattern{}}

	perSource := make(map[string][]ExecutionResult)
	for _, res := range results {
		if res.SourceID == "" {
			continue
		}
		rec := &sources.PerformanceRecord{
			SourceID:       res.SourceID,
			Success:        res.Success,
			ResponseTimeMs: res.ResponseTimeMs,
			QualityScore:   res.QualityScore,
			ErrorMessage:   res.ErrorMessage,
			RecordedAt:     res.Timestamp,
		}
		if rec.RecordedAt == 0 {
			rec.RecordedAt = time.Now().UnixMilli()
		}
		if err := l.registry.AppendPerformance(ctx, rec); err != nil {
			return nil, fmt.Errorf("feedback: record result for %s: %w", res.SourceID, err)
		}
		report.Processed++
		perSource[res.SourceID] = append(perSource[res.SourceID], res)
	}

	for sourceID, batch := range perSource {
		if !needsAdjustment(batch) {
			continue
		}
		report.Adjusted = append(report.Adjusted, sourceID)
		if l.adjuster == nil {
			continue
		}
		adj, err := l.adjuster.Adjust(ctx, sourceID)
		if err != nil {
			l.logger.Error("feedback adjustment failed", "source_id", sourceID, "error", err)
			continue
		}
		l.logger.Info("source re-prioritized from feedback",
			"source_id", sourceID,
			"old_priority", adj.OldPriority,
			"new_priority", adj.NewPriority,
			"reason", adj.Reason)
	}
	sort.Strings(report.Adjusted)

	report.Patterns = IdentifyPatterns(results)
	return report, nil
}

// needsAdjustment reports whether a batch's aggregate metrics cross any
// trouble threshold.
func needsAdjustment(batch []ExecutionResult) bool {
	if len(batch) == 0 {
		return false
	}
	var ok int
	var rtSum int64
	var qSum float64
	for _, r := range batch {
		if r.Success {
			ok++
		}
		rtSum += r.ResponseTimeMs
		qSum += r.QualityScore
	}
	n := float64(len(batch))
	successRate := float64(ok) / n
	avgResponse := float64(rtSum) / n
	avgQuality := qSum / n
	return successRate < minSuccessRate || avgResponse > maxAvgResponse || avgQuality < minAvgQuality
}

// IdentifyPatterns looks for hour-of-day performance structure in a
// batch: the three hours with the most successes, graded by how much
// evidence the batch carries.
func IdentifyPatterns(results []ExecutionResult) []Pattern {
	if len(results) == 0 {
		return []Pattern{}
	}

	type bucket struct {
		hour int
		ok   int
	}
	byHour := make(map[int]*bucket)
	for _, r := range results {
		h := time.UnixMilli(r.Timestamp).UTC().Hour()
		b := byHour[h]
		if b == nil {
			b = &bucket{hour: h}
			byHour[h] = b
		}
		if r.Success {
			b.ok++
		}
	}

	buckets := make([]*bucket, 0, len(byHour))
	for _, b := range byHour {
		buckets = append(buckets, b)
	}
	// Ranked by success count, not rate: an hour with one lucky fetch must
	// not outrank an hour that delivered nine out of ten.
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].ok != buckets[j].ok {
			return buckets[i].ok > buckets[j].ok
		}
		return buckets[i].hour < buckets[j].hour
	})
	if len(buckets) > 3 {
		buckets = buckets[:3]
	}

	hours := make([]int, 0, 3)
	for _, b := range buckets {
		hours = append(hours, b.hour)
	}
	return []Pattern{{
		Type:        "time_based_performance",
		Description: fmt.Sprintf("best-performing hours (UTC): %v", hours),
		Confidence:  ConfidenceFor(len(results)),
	}}
}

// ConfidenceFor grades a pattern by sample count. More evidence never
// lowers confidence.
func ConfidenceFor(samples int) float64 {
	switch {
	case samples >= 100:
		return 0.95
	case samples >= 50:
		return 0.85
	case samples >= 20:
		return 0.75
	case samples >= 10:
		return 0.65
	default:
		return 0.5
	}
}
