package alerts

import (
	"context"
	"log/slog"
)

// Console writes alerts to the structured log. It is the lowest-urgency
// channel and the usual catch-all in development setups.
type Console struct {
	name     string
	priority int
	active   bool
	logger   *slog.Logger
}

// NewConsole creates a console channel.
func NewConsole(name string, priority int, active bool, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{name: name, priority: priority, active: active, logger: logger}
}

func (c *Console) Name() string  { return c.name }
func (c *Console) Priority() int { return c.priority }
func (c *Console) Active() bool  { return c.active }

// Send logs the alert. It never fails.
func (c *Console) Send(ctx context.Context, a Alert) error {
	c.logger.Warn("ALERT",
		"channel", c.name,
		"type", a.Type,
		"urgency", a.Urgency,
		"message", a.Message)
	return nil
}
