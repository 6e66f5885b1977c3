// Package alerts provides multi-channel notification fan-out for emergency
// handling. A Dispatcher selects channels by alert urgency and sends to all
// of them concurrently; per-channel failures are collected, never raised.
//
// Channel priority is inverted relative to source priority: 1 is the most
// urgent channel (paging an operator), 4 the least (a log line).
package alerts

import (
	"context"
	"log/slog"
	"sync"
)

// Urgency values a dispatcher selects on. They mirror the classifier's
// urgency tiers.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Alert is the payload fanned out to channels.
type Alert struct {
	Type      string `json:"type"` // "emergency" or "escalation"
	Urgency   string `json:"urgency"`
	Message   string `json:"message"`
	Emergency any    `json:"emergency,omitempty"`
}

// Channel is one alert delivery target.
type Channel interface {
	// Name identifies the channel in dispatch results and logs.
	Name() string

	// Priority is the channel's urgency rank; lower is more urgent.
	Priority() int

	// Active reports whether the channel should receive alerts at all.
	Active() bool

	// Send delivers one alert. Implementations honour ctx cancellation.
	Send(ctx context.Context, a Alert) error
}

// ChannelFailure records one channel that could not be reached.
type ChannelFailure struct {
	Channel string `json:"channel"`
	Error   string `json:"error"`
}

// DispatchResult is the settled outcome of one fan-out. It is always
// well-formed; a dispatch never fails as a whole.
type DispatchResult struct {
	Successful []string         `json:"successful"`
	Failed     []ChannelFailure `json:"failed"`
}

// Dispatcher fans alerts out to a configured channel set.
type Dispatcher struct {
	mu       sync.RWMutex
	channels []Channel
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given channels.
func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{channels: channels, logger: logger}
}

// Replace installs a new channel set wholesale, e.g. after a config reload.
func (d *Dispatcher) Replace(channels []Channel) {
	d.mu.Lock()
	d.channels = channels
	d.mu.Unlock()
	d.logger.Info("alert channels replaced", "count", len(channels))
}

// Channels returns a snapshot of the current channel set.
func (d *Dispatcher) Channels() []Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// Dispatch selects channels by the alert's urgency and sends concurrently:
//
//	critical  all active channels
//	high      active channels with priority <= 2
//	medium    active channels with priority <= 3
//	otherwise active channels with priority <= 4
//
// Every channel settles; failures land in the result, not in an error.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) DispatchResult {
	return d.fanOut(ctx, a, d.selectByUrgency(a.Urgency))
}

// DispatchEscalation sends to the most urgent channels (priority <= 2)
// regardless of the alert's urgency, so a stalled low-urgency response
// still reaches an operator.
func (d *Dispatcher) DispatchEscalation(ctx context.Context, a Alert) DispatchResult {
	var targets []Channel
	for _, ch := range d.Channels() {
		if ch.Active() && ch.Priority() <= 2 {
			targets = append(targets, ch)
		}
	}
	return d.fanOut(ctx, a, targets)
}

func (d *Dispatcher) selectByUrgency(urgency string) []Channel {
	maxPriority := 4
	switch urgency {
	case UrgencyCritical:
		maxPriority = 0 // all active channels
	case UrgencyHigh:
		maxPriority = 2
	case UrgencyMedium:
		maxPriority = 3
	}

	var targets []Channel
	for _, ch := range d.Channels() {
		if !ch.Active() {
			continue
		}
		if maxPriority == 0 || ch.Priority() <= maxPriority {
			targets = append(targets, ch)
		}
	}
	return targets
}

func (d *Dispatcher) fanOut(ctx context.Context, a Alert, targets []Channel) DispatchResult {
	result := DispatchResult{Successful: []string{}, Failed: []ChannelFailure{}}
	if len(targets) == 0 {
		d.logger.Warn("no channels selected for alert", "type", a.Type, "urgency", a.Urgency)
		return result
	}

	type outcome struct {
		name string
		err  error
	}
	outcomes := make([]outcome, len(targets))

	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			outcomes[i] = outcome{name: ch.Name(), err: ch.Send(ctx, a)}
		}(i, ch)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			d.logger.Error("alert send failed", "channel", o.name, "error", o.err)
			result.Failed = append(result.Failed, ChannelFailure{Channel: o.name, Error: o.err.Error()})
			continue
		}
		result.Successful = append(result.Successful, o.name)
	}
	return result
}
