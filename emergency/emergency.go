// Package emergency implements the classification-to-response core: protocol
// selection, the response executor state machine, escalation monitoring,
// response analysis, and the append-only response history.
//
// An emergency arrives as an Information record produced by an external
// classifier. The executor selects a protocol, runs its immediate steps,
// fans out notifications while preparing follow-up actions, and assembles
// an EmergencyResponse that callers always receive well-formed — failures
// inside the pipeline become a failed response, never a raw error.
package emergency

import "time"

// Urgency is the classifier-assigned severity tier.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Classification is the external classifier's verdict on an item.
type Classification struct {
	Category     string  `json:"category"`
	UrgencyLevel Urgency `json:"urgency_level"`
}

// Information is one classified emergency. Immutable once received.
type Information struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Classification Classification `json:"classification"`
}

// ActionStatus tracks one response action's lifecycle.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// Action is one executed or scheduled response step.
type Action struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Description   string            `json:"description"`
	ExecutionTime time.Time         `json:"execution_time"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Status        ActionStatus      `json:"status"`
	Result        string            `json:"result,omitempty"`
}

// ResponseStatus is the final state of a response.
type ResponseStatus string

const (
	StatusExecuting ResponseStatus = "executing"
	StatusCompleted ResponseStatus = "completed"
	StatusFailed    ResponseStatus = "failed"
)

// Result summarizes the outcome of a response.
type Result struct {
	Summary             string `json:"summary"`
	NotificationsSent   int    `json:"notifications_sent"`
	NotificationsFailed int    `json:"notifications_failed"`
	EscalationRequired  bool   `json:"escalation_required"`
	Error               string `json:"error,omitempty"`
}

// Response is the record of one emergency handling run. Created once per
// emergency, appended to the per-emergency history, never mutated after
// being stored.
type Response struct {
	ID             string         `json:"id"`
	EmergencyID    string         `json:"emergency_id"`
	Actions        []Action       `json:"actions"`
	ResponseTimeMs int64          `json:"response_time_ms"` // protocol selection to notification completion
	Status         ResponseStatus `json:"status"`
	Result         Result         `json:"result"`
	Timestamp      int64          `json:"timestamp"` // unix ms
}
