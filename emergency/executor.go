package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/alerte/alerts"
	"github.com/hazyhaar/alerte/idgen"
)

// Response timing contract. A response that settles within MaxResponseTime
// completes; beyond it, it is reported as still executing. Crossing
// EscalationDelay flags the response for escalation exactly once,
// independent of its final status.
const (
	MaxResponseTime = 30 * time.Second
	EscalationDelay = 15 * time.Second
)

// StepRunner executes one protocol step against the outside world.
type StepRunner interface {
	RunStep(ctx context.Context, info *Information, step Step) (string, error)
}

// Notifier fans emergency alerts out to the configured channels. It is
// implemented by alerts.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, a alerts.Alert) alerts.DispatchResult
	DispatchEscalation(ctx context.Context, a alerts.Alert) alerts.DispatchResult
}

// Executor runs the response state machine for one emergency at a time:
// select protocol, execute immediate steps, notify while preparing
// follow-up actions, settle timing and escalation, persist.
type Executor struct {
	selector *Selector
	runner   StepRunner
	notifier Notifier
	history  *History
	monitor  *Monitor
	logger   *slog.Logger
	newID    idgen.Generator
	since    func(time.Time) time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHistory persists every finished response to the given store.
func WithHistory(h *History) ExecutorOption {
	return func(e *Executor) { e.history = h }
}

// WithIDGenerator overrides the response/action ID generator.
func WithIDGenerator(g idgen.Generator) ExecutorOption {
	return func(e *Executor) { e.newID = g }
}

// withElapsed overrides elapsed-time measurement. Test hook.
func withElapsed(f func(time.Time) time.Duration) ExecutorOption {
	return func(e *Executor) { e.since = f }
}

// NewExecutor creates an Executor. selector, runner and notifier are
// required; a nil logger falls back to slog.Default.
func NewExecutor(selector *Selector, runner StepRunner, notifier Notifier, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		selector: selector,
		runner:   runner,
		notifier: notifier,
		logger:   logger,
		newID:    idgen.Prefixed("rsp_", idgen.Default),
		since:    time.Since,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.monitor = NewMonitor(notifier, logger)
	return e
}

// HandleEmergency runs the full response for one classified emergency.
// It never returns an error: any internal failure, including a panic in a
// step runner, settles into a failed Response the caller can inspect.
func (e *Executor) HandleEmergency(ctx context.Context, info *Information) (resp *Response) {
	start := time.Now()
	resp = &Response{
		ID:          e.newID(),
		EmergencyID: info.ID,
		Actions:     []Action{},
		Status:      StatusExecuting,
		Timestamp:   start.UnixMilli(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("emergency response panicked", "emergency_id", info.ID, "panic", r)
			resp.Status = StatusFailed
			resp.Result.Error = fmt.Sprintf("response panicked: %v", r)
			resp.Result.Summary = "response aborted"
			resp.ResponseTimeMs = e.since(start).Milliseconds()
		}
		e.persist(resp)
	}()

	protocol := e.selector.Select(info)
	e.logger.Info("handling emergency",
		"emergency_id", info.ID,
		"category", info.Classification.Category,
		"urgency", info.Classification.UrgencyLevel,
		"protocol", protocol.ID)

	e.runImmediateSteps(ctx, info, protocol, resp)

	// Notification and follow-up preparation proceed in parallel; both
	// must settle before the response is finalized.
	var (
		wg        sync.WaitGroup
		dispatch  alerts.DispatchResult
		followUps []Action
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatch = e.notifier.Dispatch(ctx, alerts.Alert{
			Type:      "emergency",
			Urgency:   string(info.Classification.UrgencyLevel),
			Message:   info.Content,
			Emergency: info,
		})
	}()
	go func() {
		defer wg.Done()
		followUps = e.prepareFollowUps(protocol)
	}()
	wg.Wait()

	resp.Result.NotificationsSent = len(dispatch.Successful)
	resp.Result.NotificationsFailed = len(dispatch.Failed)
	resp.Actions = append(resp.Actions, followUps...)

	elapsed := e.since(start)
	resp.ResponseTimeMs = elapsed.Milliseconds()

	// Status is driven solely by the response budget. Individual step
	// failures are recorded on their actions; only a whole-pipeline
	// failure (the recover above) yields StatusFailed.
	if elapsed > MaxResponseTime {
		resp.Status = StatusExecuting
		resp.Result.Summary = fmt.Sprintf("still executing past the %s budget", MaxResponseTime)
	} else {
		resp.Status = StatusCompleted
		resp.Result.Summary = fmt.Sprintf("protocol %s executed", protocol.ID)
	}

	e.monitor.Check(ctx, resp, info, elapsed)

	e.logger.Info("emergency response settled",
		"emergency_id", info.ID,
		"response_id", resp.ID,
		"status", resp.Status,
		"response_time_ms", resp.ResponseTimeMs,
		"escalated", resp.Result.EscalationRequired)
	return resp
}

// runImmediateSteps executes required steps with order <= 2 sequentially,
// each under its own deadline. A failing step is logged and recorded on
// its action; the remaining immediate steps still run.
func (e *Executor) runImmediateSteps(ctx context.Context, info *Information, p *Protocol, resp *Response) {
	for _, step := range p.Steps {
		if step.Order > 2 || !step.Required {
			continue
		}
		action := Action{
			ID:            e.newID(),
			Type:          step.Action,
			Description:   step.Description,
			ExecutionTime: time.Now(),
			Parameters:    step.Parameters,
			Status:        ActionPending,
		}

		stepCtx := ctx
		var cancel context.CancelFunc
		if step.TimeoutMs > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
		}
		result, err := e.runner.RunStep(stepCtx, info, step)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			action.Status = ActionFailed
			action.Result = err.Error()
			resp.Actions = append(resp.Actions, action)
			e.logger.Error("immediate step failed",
				"emergency_id", info.ID, "step", step.Action, "error", err)
			continue
		}
		action.Status = ActionCompleted
		action.Result = result
		resp.Actions = append(resp.Actions, action)
	}
}

// prepareFollowUps schedules steps with order > 2 as pending actions for
// later execution. Steps at or below order 2 never become follow-ups.
func (e *Executor) prepareFollowUps(p *Protocol) []Action {
	var actions []Action
	for _, step := range p.Steps {
		if step.Order <= 2 {
			continue
		}
		actions = append(actions, Action{
			ID:            e.newID(),
			Type:          step.Action,
			Description:   step.Description,
			ExecutionTime: time.Now(),
			Parameters:    step.Parameters,
			Status:        ActionPending,
		})
	}
	return actions
}

func (e *Executor) persist(resp *Response) {
	if e.history == nil {
		return
	}
	if err := e.history.Append(context.Background(), resp); err != nil {
		e.logger.Error("persist response failed", "response_id", resp.ID, "error", err)
	}
}

// SimulatedRunner is the built-in StepRunner used when no real action
// backend is wired: it acknowledges each step without side effects.
// Delay, when set, stalls each step to exercise timeout handling.
type SimulatedRunner struct {
	Delay time.Duration
}

func (s *SimulatedRunner) RunStep(ctx context.Context, info *Information, step Step) (string, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", fmt.Errorf("emergency: step %s: %w", step.Action, ctx.Err())
		}
	}
	return "simulated: " + step.Action, nil
}
