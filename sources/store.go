package sources

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/alerte/dbopen"
)

// validate checks the fields every write must respect.
func validate(src *Source) error {
	if src.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidSource)
	}
	if src.Priority < 0 || src.Priority > 10 {
		return fmt.Errorf("%w: priority %d out of range [1,10]", ErrInvalidSource, src.Priority)
	}
	return nil
}

// InsertSource adds a new source. Zero priority defaults to 5, zero refresh
// rate to 30 seconds.
func (r *Registry) InsertSource(ctx context.Context, src *Source) error {
	if err := validate(src); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	if src.ID == "" {
		src.ID = r.newID()
	}
	if src.CreatedAt == 0 {
		src.CreatedAt = now
	}
	if src.UpdatedAt == 0 {
		src.UpdatedAt = now
	}
	if src.Category == "" {
		src.Category = CategoryOther
	}
	if src.Priority == 0 {
		src.Priority = 5
	}
	if src.RefreshRate == 0 {
		src.RefreshRate = 30
	}
	if src.SuccessRate == 0 {
		src.SuccessRate = 1.0
	}

	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sources (id, url, name, category, priority, success_rate,
		error_count, refresh_rate, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.URL, src.Name, src.Category, src.Priority, src.SuccessRate,
		src.ErrorCount, src.RefreshRate, src.Active, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, src.URL)
	}
	return err
}

// GetSource retrieves a source by ID. Returns nil when not found.
func (r *Registry) GetSource(ctx context.Context, id string) (*Source, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, url, name, category, priority, success_rate, error_count,
		refresh_rate, active, created_at, updated_at
		FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// ListSources returns all sources ordered by priority descending.
func (r *Registry) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, url, name, category, priority, success_rate, error_count,
		refresh_rate, active, created_at, updated_at
		FROM sources ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSourceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// UpdateSource updates a source's mutable fields.
func (r *Registry) UpdateSource(ctx context.Context, src *Source) error {
	if err := validate(src); err != nil {
		return err
	}
	src.UpdatedAt = time.Now().UnixMilli()
	_, err := r.DB.ExecContext(ctx,
		`UPDATE sources SET url=?, name=?, category=?, priority=?, success_rate=?,
		error_count=?, refresh_rate=?, active=?, updated_at=?
		WHERE id=?`,
		src.URL, src.Name, src.Category, src.Priority, src.SuccessRate,
		src.ErrorCount, src.RefreshRate, src.Active, src.UpdatedAt, src.ID,
	)
	return err
}

// SetPriority updates only the priority column.
func (r *Registry) SetPriority(ctx context.Context, id string, priority int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE sources SET priority=?, updated_at=? WHERE id=?`,
		priority, time.Now().UnixMilli(), id)
	return err
}

// DeleteSource removes a source (cascades to weights, history, adjustments).
func (r *Registry) DeleteSource(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	return err
}

// --- Priority weights ---

// GetWeight returns the weight record for a source, or nil when absent.
func (r *Registry) GetWeight(ctx context.Context, sourceID string) (*PriorityWeight, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT source_id, relevance_score, timeliness, source_reliability,
		content_quality, market_impact, updated_at
		FROM priority_weights WHERE source_id = ?`, sourceID)

	var w PriorityWeight
	err := row.Scan(&w.SourceID, &w.RelevanceScore, &w.Timeliness,
		&w.SourceReliability, &w.ContentQuality, &w.MarketImpact, &w.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan weight: %w", err)
	}
	return &w, nil
}

// UpsertWeight writes the weight record for a source, replacing any
// previous one.
func (r *Registry) UpsertWeight(ctx context.Context, w *PriorityWeight) error {
	w.UpdatedAt = time.Now().UnixMilli()
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO priority_weights (source_id, relevance_score, timeliness,
		source_reliability, content_quality, market_impact, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
		relevance_score=excluded.relevance_score,
		timeliness=excluded.timeliness,
		source_reliability=excluded.source_reliability,
		content_quality=excluded.content_quality,
		market_impact=excluded.market_impact,
		updated_at=excluded.updated_at`,
		w.SourceID, w.RelevanceScore, w.Timeliness, w.SourceReliability,
		w.ContentQuality, w.MarketImpact, w.UpdatedAt,
	)
	return err
}

// Reliability returns the stored source_reliability weight for a source,
// or 0.7 when the source has no weight record.
func (r *Registry) Reliability(ctx context.Context, sourceID string) float64 {
	w, err := r.GetWeight(ctx, sourceID)
	if err != nil || w == nil {
		return 0.7
	}
	return w.SourceReliability
}

// --- Performance history ---

// AppendPerformance records one execution outcome and evicts the oldest
// rows beyond MaxHistoryPerSource in the same transaction.
func (r *Registry) AppendPerformance(ctx context.Context, rec *PerformanceRecord) error {
	if rec.ID == "" {
		rec.ID = r.newID()
	}
	if rec.RecordedAt == 0 {
		rec.RecordedAt = time.Now().UnixMilli()
	}
	return dbopen.RunTx(ctx, r.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO performance_history (id, source_id, success,
			response_time_ms, quality_score, error_message, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SourceID, rec.Success, rec.ResponseTimeMs,
			rec.QualityScore, rec.ErrorMessage, rec.RecordedAt)
		if err != nil {
			return fmt.Errorf("insert performance: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM performance_history WHERE source_id = ? AND id NOT IN (
			SELECT id FROM performance_history WHERE source_id = ?
			ORDER BY recorded_at DESC, id DESC LIMIT ?)`,
			rec.SourceID, rec.SourceID, MaxHistoryPerSource)
		if err != nil {
			return fmt.Errorf("evict performance: %w", err)
		}
		return nil
	})
}

// History returns a source's performance records, newest first.
func (r *Registry) History(ctx context.Context, sourceID string) ([]*PerformanceRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, source_id, success, response_time_ms, quality_score,
		error_message, recorded_at
		FROM performance_history WHERE source_id = ?
		ORDER BY recorded_at DESC, id DESC`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PerformanceRecord
	for rows.Next() {
		var rec PerformanceRecord
		var success int
		if err := rows.Scan(&rec.ID, &rec.SourceID, &success, &rec.ResponseTimeMs,
			&rec.QualityScore, &rec.ErrorMessage, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		rec.Success = success != 0
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Metrics aggregates a source's rolling history into PerformanceMetrics.
// With no history all fields are zero.
func (r *Registry) Metrics(ctx context.Context, sourceID string) (*PerformanceMetrics, error) {
	recs, err := r.History(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	m := &PerformanceMetrics{}
	if len(recs) == 0 {
		return m, nil
	}

	var totalRT int64
	var successes int
	var totalQuality float64
	for _, rec := range recs {
		totalRT += rec.ResponseTimeMs
		totalQuality += rec.QualityScore
		if rec.Success {
			successes++
		} else {
			m.ErrorHistory = append(m.ErrorHistory, ErrorRecord{
				Timestamp: rec.RecordedAt,
				Message:   rec.ErrorMessage,
			})
		}
	}
	n := float64(len(recs))
	m.AverageResponseTime = float64(totalRT) / n
	m.SuccessRate = float64(successes) / n
	m.ContentQualityScore = totalQuality / n
	m.LastUpdateTime = recs[0].RecordedAt

	if w, err := r.GetWeight(ctx, sourceID); err == nil && w != nil {
		m.RelevanceScore = w.RelevanceScore
	}
	return m, nil
}

// --- Adjustments ---

// InsertAdjustment appends a priority adjustment to the log.
func (r *Registry) InsertAdjustment(ctx context.Context, adj *PriorityAdjustment) error {
	if adj.ID == "" {
		adj.ID = r.newID()
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO priority_adjustments (id, source_id, old_priority,
		new_priority, reason, adjustment_factor, created_at, valid_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		adj.ID, adj.SourceID, adj.OldPriority, adj.NewPriority, adj.Reason,
		adj.AdjustmentFactor, adj.CreatedAt, adj.ValidUntil)
	return err
}

// ListAdjustments returns a source's adjustments, newest first.
func (r *Registry) ListAdjustments(ctx context.Context, sourceID string, limit int) ([]*PriorityAdjustment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, source_id, old_priority, new_priority, reason,
		adjustment_factor, created_at, valid_until
		FROM priority_adjustments WHERE source_id = ?
		ORDER BY created_at DESC LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PriorityAdjustment
	for rows.Next() {
		var adj PriorityAdjustment
		if err := rows.Scan(&adj.ID, &adj.SourceID, &adj.OldPriority,
			&adj.NewPriority, &adj.Reason, &adj.AdjustmentFactor,
			&adj.CreatedAt, &adj.ValidUntil); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, &adj)
	}
	return out, rows.Err()
}

func scanSource(row *sql.Row) (*Source, error) {
	var src Source
	var active int
	err := row.Scan(&src.ID, &src.URL, &src.Name, &src.Category, &src.Priority,
		&src.SuccessRate, &src.ErrorCount, &src.RefreshRate, &active,
		&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Active = active != 0
	return &src, nil
}

func scanSourceRows(rows *sql.Rows) (*Source, error) {
	var src Source
	var active int
	err := rows.Scan(&src.ID, &src.URL, &src.Name, &src.Category, &src.Priority,
		&src.SuccessRate, &src.ErrorCount, &src.RefreshRate, &active,
		&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Active = active != 0
	return &src, nil
}
