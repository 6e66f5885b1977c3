package emergency

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Schema is the emergency subsystem's sqlite DDL. Responses are
// append-only; actions and results are stored as JSON documents since
// they are read back whole, never queried field by field.
const Schema = `
CREATE TABLE IF NOT EXISTS emergency_responses (
	id               TEXT PRIMARY KEY,
	emergency_id     TEXT NOT NULL,
	actions          TEXT NOT NULL DEFAULT '[]',
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	result           TEXT NOT NULL DEFAULT '{}',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_emergency ON emergency_responses(emergency_id, created_at);
`

// ApplySchema creates the emergency tables.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("emergency: apply schema: %w", err)
	}
	return nil
}

// History is the append-only store of finished responses.
type History struct {
	db *sql.DB
}

// NewHistory creates a History over an open database.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Append stores one finished response. Responses are never updated.
func (h *History) Append(ctx context.Context, resp *Response) error {
	actions, err := json.Marshal(resp.Actions)
	if err != nil {
		return fmt.Errorf("emergency: marshal actions: %w", err)
	}
	result, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("emergency: marshal result: %w", err)
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO emergency_responses (id, emergency_id, actions, response_time_ms, status, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.EmergencyID, string(actions), resp.ResponseTimeMs,
		string(resp.Status), string(result), resp.Timestamp)
	if err != nil {
		return fmt.Errorf("emergency: append response: %w", err)
	}
	return nil
}

// ListByEmergency returns all responses for one emergency, oldest first.
func (h *History) ListByEmergency(ctx context.Context, emergencyID string) ([]*Response, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, emergency_id, actions, response_time_ms, status, result, created_at
		FROM emergency_responses WHERE emergency_id = ? ORDER BY created_at ASC`,
		emergencyID)
	if err != nil {
		return nil, fmt.Errorf("emergency: list responses: %w", err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

// Recent returns the latest responses across all emergencies, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]*Response, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, emergency_id, actions, response_time_ms, status, result, created_at
		FROM emergency_responses ORDER BY created_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("emergency: recent responses: %w", err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

func scanResponses(rows *sql.Rows) ([]*Response, error) {
	var out []*Response
	for rows.Next() {
		var (
			r              Response
			actions, result string
			status         string
		)
		if err := rows.Scan(&r.ID, &r.EmergencyID, &actions, &r.ResponseTimeMs, &status, &result, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("emergency: scan response: %w", err)
		}
		r.Status = ResponseStatus(status)
		if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
			return nil, fmt.Errorf("emergency: decode actions: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &r.Result); err != nil {
			return nil, fmt.Errorf("emergency: decode result: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("emergency: iterate responses: %w", err)
	}
	return out, nil
}
