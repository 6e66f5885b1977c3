package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChannelConfig is one channel entry in the YAML channels file.
type ChannelConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"` // "webhook" or "console"
	URL       string `yaml:"url,omitempty"`
	Priority  int    `yaml:"priority"`
	Active    bool   `yaml:"active"`
	TimeoutMs int64  `yaml:"timeout_ms,omitempty"`
}

type channelsFile struct {
	Channels []ChannelConfig `yaml:"channels"`
}

// LoadChannels reads a YAML channels file and builds the channel set.
func LoadChannels(path string, logger *slog.Logger) ([]Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("alerts: read channels: %w", err)
	}
	var cf channelsFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("alerts: parse channels: %w", err)
	}
	return BuildChannels(cf.Channels, logger)
}

// BuildChannels turns channel configs into live channels. Priorities
// outside [1,4] and unknown types are rejected.
func BuildChannels(configs []ChannelConfig, logger *slog.Logger) ([]Channel, error) {
	channels := make([]Channel, 0, len(configs))
	for _, c := range configs {
		if c.Name == "" {
			return nil, fmt.Errorf("alerts: channel without name")
		}
		if c.Priority < 1 || c.Priority > 4 {
			return nil, fmt.Errorf("alerts: channel %q: priority %d out of range [1,4]", c.Name, c.Priority)
		}
		switch c.Type {
		case "webhook":
			if c.URL == "" {
				return nil, fmt.Errorf("alerts: webhook channel %q without url", c.Name)
			}
			var opts []WebhookOption
			if c.TimeoutMs > 0 {
				opts = append(opts, WithHTTPClient(&http.Client{
					Timeout: time.Duration(c.TimeoutMs) * time.Millisecond,
				}))
			}
			channels = append(channels, NewWebhook(c.Name, c.URL, c.Priority, c.Active, opts...))
		case "console":
			channels = append(channels, NewConsole(c.Name, c.Priority, c.Active, logger))
		default:
			return nil, fmt.Errorf("alerts: channel %q: unknown type %q", c.Name, c.Type)
		}
	}
	return channels, nil
}
