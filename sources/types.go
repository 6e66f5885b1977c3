// Package sources holds the source registry: monitored feed sources, their
// priority weights, rolling performance history, and the log of dynamic
// priority adjustments. It is the only long-lived mutable state in the
// module; concurrent adjustments to the same source are serialized through
// Registry.WithSourceLock.
package sources

// Category classifies the market a source covers.
type Category string

const (
	CategoryForex   Category = "forex"
	CategoryFinance Category = "finance"
	CategoryCrypto  Category = "crypto"
	CategoryOther   Category = "other"
)

// Source is a monitored feed source.
type Source struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Priority    int      `json:"priority"`     // 1..10, higher = polled first
	SuccessRate float64  `json:"success_rate"` // 0..1
	ErrorCount  int      `json:"error_count"`
	RefreshRate int      `json:"refresh_rate"` // seconds
	Active      bool     `json:"active"`
	CreatedAt   int64    `json:"created_at"` // unix ms
	UpdatedAt   int64    `json:"updated_at"`
}

// PriorityWeight is the per-source scoring weight record. Each field is
// in [0,1]. Updated in place by the dynamic adjuster.
type PriorityWeight struct {
	SourceID          string  `json:"source_id"`
	RelevanceScore    float64 `json:"relevance_score"`
	Timeliness        float64 `json:"timeliness"`
	SourceReliability float64 `json:"source_reliability"`
	ContentQuality    float64 `json:"content_quality"`
	MarketImpact      float64 `json:"market_impact"`
	UpdatedAt         int64   `json:"updated_at"`
}

// PerformanceRecord is one observed execution outcome for a source.
// Records form the rolling history behind PerformanceMetrics; the store
// keeps at most MaxHistoryPerSource of them per source.
type PerformanceRecord struct {
	ID             string  `json:"id"`
	SourceID       string  `json:"source_id"`
	Success        bool    `json:"success"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	QualityScore   float64 `json:"quality_score"` // 0..1
	ErrorMessage   string  `json:"error_message,omitempty"`
	RecordedAt     int64   `json:"recorded_at"` // unix ms
}

// ErrorRecord is one failure entry in a source's error history.
type ErrorRecord struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// PerformanceMetrics is the aggregate view over a source's rolling history.
type PerformanceMetrics struct {
	AverageResponseTime float64       `json:"average_response_time"` // ms
	SuccessRate         float64       `json:"success_rate"`          // 0..1
	ContentQualityScore float64       `json:"content_quality_score"` // 0..1
	RelevanceScore      float64       `json:"relevance_score"`       // 0..1
	LastUpdateTime      int64         `json:"last_update_time"`      // unix ms
	ErrorHistory        []ErrorRecord `json:"error_history"`
}

// PriorityAdjustment records one dynamic priority change for a source.
// ValidUntil is always CreatedAt + 24h.
type PriorityAdjustment struct {
	ID               string  `json:"id"`
	SourceID         string  `json:"source_id"`
	OldPriority      int     `json:"old_priority"`
	NewPriority      int     `json:"new_priority"`
	Reason           string  `json:"reason"`
	AdjustmentFactor float64 `json:"adjustment_factor"`
	CreatedAt        int64   `json:"created_at"`   // unix ms
	ValidUntil       int64   `json:"valid_until"`  // unix ms
}

// MaxHistoryPerSource bounds the rolling performance history per source.
// Oldest records are evicted first.
const MaxHistoryPerSource = 50
