package priority

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/alerte/sources"
)

// Volatility classifies overall market turbulence.
type Volatility string

const (
	VolatilityLow     Volatility = "low"
	VolatilityMedium  Volatility = "medium"
	VolatilityHigh    Volatility = "high"
	VolatilityExtreme Volatility = "extreme"
)

// News intensity levels.
const (
	NewsNormal   = "normal"
	NewsBreaking = "breaking"
)

// MarketCondition describes the current market state driving the switch.
type MarketCondition struct {
	Volatility    Volatility `json:"volatility"`
	NewsIntensity string     `json:"news_intensity"`
}

// EmergencyConfig is the active polling configuration produced by the
// switch. Each Reconfigure call replaces the whole object; configs are
// never merged.
type EmergencyConfig struct {
	Volatility       Volatility    `json:"volatility"`
	NewsIntensity    string        `json:"news_intensity"`
	RefreshInterval  time.Duration `json:"refresh_interval"`
	FetchTimeout     time.Duration `json:"fetch_timeout"`
	EmergencySources []string      `json:"emergency_sources"` // source IDs
	NormalSources    []string      `json:"normal_sources"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// Switch reconfigures refresh/timeout parameters and source pools for
// volatile market conditions.
type Switch struct {
	registry *sources.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	current  *EmergencyConfig
	lastCond *MarketCondition
}

// NewSwitch creates a Switch bound to a registry.
func NewSwitch(registry *sources.Registry, logger *slog.Logger) *Switch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Switch{registry: registry, logger: logger}
}

// Reconfigure partitions all known sources into emergency and normal pools
// for the given market condition and installs the resulting config:
//
//	extreme/high volatility: emergency if marketImpact > 0.7 and timeliness > 0.8
//	breaking news:           emergency if timeliness > 0.9 and relevance > 0.8
//	otherwise:               no source is treated as emergency-only
//
// When both apply, the volatility rule wins. Refresh/timeout pairs:
// extreme 15s/10s, high 20s/12s, otherwise 30s/15s.
func (s *Switch) Reconfigure(ctx context.Context, cond MarketCondition) (*EmergencyConfig, error) {
	srcs, err := s.registry.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("priority: list sources: %w", err)
	}

	cfg := &EmergencyConfig{
		Volatility:    cond.Volatility,
		NewsIntensity: cond.NewsIntensity,
		GeneratedAt:   time.Now(),
	}
	switch cond.Volatility {
	case VolatilityExtreme:
		cfg.RefreshInterval = 15 * time.Second
		cfg.FetchTimeout = 10 * time.Second
	case VolatilityHigh:
		cfg.RefreshInterval = 20 * time.Second
		cfg.FetchTimeout = 12 * time.Second
	default:
		cfg.RefreshInterval = 30 * time.Second
		cfg.FetchTimeout = 15 * time.Second
	}

	highVol := cond.Volatility == VolatilityExtreme || cond.Volatility == VolatilityHigh
	breaking := cond.NewsIntensity == NewsBreaking

	for _, src := range srcs {
		w, err := s.registry.GetWeight(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("priority: weight for %s: %w", src.ID, err)
		}

		qualifies := false
		if w != nil {
			switch {
			case highVol:
				qualifies = w.MarketImpact > 0.7 && w.Timeliness > 0.8
			case breaking:
				qualifies = w.Timeliness > 0.9 && w.RelevanceScore > 0.8
			}
		}
		if qualifies {
			cfg.EmergencySources = append(cfg.EmergencySources, src.ID)
		} else {
			cfg.NormalSources = append(cfg.NormalSources, src.ID)
		}
	}

	s.mu.Lock()
	s.current = cfg
	s.lastCond = &cond
	s.mu.Unlock()

	s.logger.Info("emergency config installed",
		"volatility", cond.Volatility,
		"news", cond.NewsIntensity,
		"refresh", cfg.RefreshInterval,
		"emergency_sources", len(cfg.EmergencySources),
		"normal_sources", len(cfg.NormalSources))
	return cfg, nil
}

// Config returns the currently installed config, or nil before the first
// Reconfigure.
func (s *Switch) Config() *EmergencyConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Refresh re-partitions the pools under the last installed market
// condition. A no-op before the first Reconfigure. Used when source
// weights change while the condition holds.
func (s *Switch) Refresh(ctx context.Context) error {
	s.mu.Lock()
	cond := s.lastCond
	s.mu.Unlock()
	if cond == nil {
		return nil
	}
	_, err := s.Reconfigure(ctx, *cond)
	return err
}

// AutomaticAction is one trigger to run when market conditions change.
type AutomaticAction struct {
	Name string
	Run  func(ctx context.Context) error
}

// ActionOutcome is the settled result of one automatic action.
type ActionOutcome struct {
	Name string
	Err  error
}

// RunAutomaticActions executes all actions concurrently and collects every
// outcome. One failing action never cancels the others.
func (s *Switch) RunAutomaticActions(ctx context.Context, actions []AutomaticAction) []ActionOutcome {
	outcomes := make([]ActionOutcome, len(actions))
	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action AutomaticAction) {
			defer wg.Done()
			err := action.Run(ctx)
			outcomes[i] = ActionOutcome{Name: action.Name, Err: err}
			if err != nil {
				s.logger.Error("automatic action failed", "action", action.Name, "error", err)
			}
		}(i, action)
	}
	wg.Wait()
	return outcomes
}
