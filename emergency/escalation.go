package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/alerte/alerts"
)

// Monitor watches response timing and triggers escalation when a response
// crosses EscalationDelay. Escalation is a flag on the result plus one
// notification burst to the most urgent channels; it fires at most once
// per response and does not change the response status.
type Monitor struct {
	notifier Notifier
	logger   *slog.Logger
	delay    time.Duration
}

// NewMonitor creates a Monitor with the standard EscalationDelay.
func NewMonitor(notifier Notifier, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{notifier: notifier, logger: logger, delay: EscalationDelay}
}

// Check flags and dispatches escalation if elapsed exceeds the delay and
// the response has not already been escalated.
func (m *Monitor) Check(ctx context.Context, resp *Response, info *Information, elapsed time.Duration) {
	if elapsed <= m.delay || resp.Result.EscalationRequired {
		return
	}
	resp.Result.EscalationRequired = true

	msg := fmt.Sprintf("response %s for emergency %s exceeded %s (took %s)",
		resp.ID, resp.EmergencyID, m.delay, elapsed.Round(time.Millisecond))
	m.logger.Warn("escalating slow response",
		"response_id", resp.ID,
		"emergency_id", resp.EmergencyID,
		"elapsed_ms", elapsed.Milliseconds())

	res := m.notifier.DispatchEscalation(ctx, alerts.Alert{
		Type:      "escalation",
		Urgency:   string(info.Classification.UrgencyLevel),
		Message:   msg,
		Emergency: info,
	})
	if len(res.Failed) > 0 {
		m.logger.Error("escalation delivery incomplete",
			"response_id", resp.ID, "failed", len(res.Failed))
	}
}
