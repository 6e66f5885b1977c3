package emergency

import (
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Analysis is the post-response review of one handled emergency. All three
// scores are 0-100; accuracy is the completed share of planned actions.
type Analysis struct {
	ResponseID         string          `json:"response_id"`
	EmergencyID        string          `json:"emergency_id"`
	EffectivenessScore float64         `json:"effectiveness_score"`
	TimelinessScore    float64         `json:"timeliness_score"`
	ActionAccuracy     float64         `json:"action_accuracy"`
	Improvements       []string        `json:"improvements"`
	Lessons            []string        `json:"lessons"`
	NextActions        []PlannedAction `json:"next_actions"`
}

// PlannedAction is a follow-up the analysis schedules.
type PlannedAction struct {
	Action string `json:"action"`
	DueAt  int64  `json:"due_at"` // unix ms
}

// Analyzer grades finished responses and proposes follow-ups.
type Analyzer struct {
	logger *slog.Logger
	now    func() time.Time
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithAnalyzerClock overrides the clock. Test hook.
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(logger *slog.Logger, opts ...AnalyzerOption) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analyzer{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze grades one response. It is pure given the response and the
// clock; the same response always yields the same review.
func (a *Analyzer) Analyze(resp *Response, info *Information) *Analysis {
	an := &Analysis{
		ResponseID:      resp.ID,
		EmergencyID:     resp.EmergencyID,
		TimelinessScore: timelinessScore(resp.ResponseTimeMs),
		ActionAccuracy:  actionAccuracy(resp.Actions),
		Improvements:    []string{},
		Lessons:         []string{},
	}
	an.EffectivenessScore = effectivenessScore(resp)

	if resp.ResponseTimeMs > MaxResponseTime.Milliseconds() {
		an.Improvements = append(an.Improvements,
			fmt.Sprintf("response took %dms; optimize protocol steps to stay under %s", resp.ResponseTimeMs, MaxResponseTime))
	}
	if resp.Result.NotificationsFailed > 0 {
		an.Improvements = append(an.Improvements,
			fmt.Sprintf("%d notification channel(s) failed; review channel health", resp.Result.NotificationsFailed))
	}
	if failed := failedActions(resp.Actions); failed > 0 {
		an.Improvements = append(an.Improvements,
			fmt.Sprintf("%d action(s) failed; improve retry handling for protocol steps", failed))
	}

	switch resp.Status {
	case StatusCompleted:
		an.Lessons = append(an.Lessons,
			fmt.Sprintf("protocol handled %s within budget", info.Classification.Category))
	case StatusExecuting:
		an.Lessons = append(an.Lessons,
			fmt.Sprintf("response for %s overran the budget; later steps may still be settling", info.Classification.Category))
	case StatusFailed:
		an.Lessons = append(an.Lessons,
			fmt.Sprintf("protocol for %s needs revision: %s", info.Classification.Category, resp.Result.Error))
	}
	if resp.Result.EscalationRequired {
		an.Lessons = append(an.Lessons, "escalation path was exercised; confirm operators acknowledged")
	}

	now := a.now()
	an.NextActions = []PlannedAction{
		{Action: "monitor_market_reaction", DueAt: now.Add(30 * time.Minute).UnixMilli()},
	}
	if info.Classification.UrgencyLevel == UrgencyCritical {
		an.NextActions = append(an.NextActions,
			PlannedAction{Action: "post_mortem_review", DueAt: now.Add(24 * time.Hour).UnixMilli()})
	}

	a.logger.Info("response analyzed",
		"response_id", resp.ID,
		"effectiveness", an.EffectivenessScore,
		"timeliness", an.TimelinessScore,
		"accuracy", an.ActionAccuracy)
	return an
}

// timelinessScore grades response time in tiers rather than on a curve:
// under 10s is ideal, under 20s is fine, within the response budget is
// acceptable, anything slower scores the floor.
func timelinessScore(ms int64) float64 {
	switch {
	case ms <= 10_000:
		return 100
	case ms <= 20_000:
		return 85
	case ms <= MaxResponseTime.Milliseconds():
		return 70
	default:
		return 50
	}
}

// effectivenessScore blends action completion with timing:
// round(100 * (0.7*completed/total + 0.3*timely)), where timely is 1.0
// within the response budget and 0.5 beyond it. No actions scores zero.
func effectivenessScore(resp *Response) float64 {
	total := len(resp.Actions)
	if total == 0 {
		return 0
	}
	timely := 0.5
	if resp.ResponseTimeMs <= MaxResponseTime.Milliseconds() {
		timely = 1.0
	}
	ratio := float64(completedActions(resp.Actions)) / float64(total)
	return math.Round(100 * (0.7*ratio + 0.3*timely))
}

// actionAccuracy is round(100*completed/total) over all planned actions,
// pending ones included. No actions scores zero.
func actionAccuracy(actions []Action) float64 {
	if len(actions) == 0 {
		return 0
	}
	return math.Round(100 * float64(completedActions(actions)) / float64(len(actions)))
}

func completedActions(actions []Action) int {
	n := 0
	for _, act := range actions {
		if act.Status == ActionCompleted {
			n++
		}
	}
	return n
}

func failedActions(actions []Action) int {
	n := 0
	for _, act := range actions {
		if act.Status == ActionFailed {
			n++
		}
	}
	return n
}
