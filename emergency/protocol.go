package emergency

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Step is one ordered action inside a protocol. Required steps with
// order <= 2 are executed immediately; later steps are scheduled as
// follow-up actions.
type Step struct {
	Order       int               `yaml:"order" json:"order"`
	Action      string            `yaml:"action" json:"action"`
	Description string            `yaml:"description" json:"description"`
	TimeoutMs   int64             `yaml:"timeout_ms" json:"timeout_ms"`
	Required    bool              `yaml:"required" json:"required"`
	Parameters  map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// EscalationRule names who gets pulled in when a response exceeds a
// threshold.
type EscalationRule struct {
	ThresholdMs int64  `yaml:"threshold_ms" json:"threshold_ms"`
	NotifyRole  string `yaml:"notify_role" json:"notify_role"`
}

// Protocol is the ordered response plan for one emergency type. Static
// configuration, loaded at startup.
type Protocol struct {
	ID            string           `yaml:"id" json:"id"`
	EmergencyType string           `yaml:"emergency_type" json:"emergency_type"`
	Steps         []Step           `yaml:"steps" json:"steps"`
	TimeoutMs     int64            `yaml:"timeout_ms" json:"timeout_ms"`
	Escalation    []EscalationRule `yaml:"escalation,omitempty" json:"escalation,omitempty"`
}

// FallbackProtocolID is tried when an emergency's category has no protocol.
const FallbackProtocolID = "market_crisis"

// DefaultProtocol is the built-in last resort: assess, then notify.
func DefaultProtocol() *Protocol {
	return &Protocol{
		ID:            "default",
		EmergencyType: "default",
		TimeoutMs:     60_000,
		Steps: []Step{
			{Order: 1, Action: "assess_situation", Description: "Assess the situation and confirm severity", TimeoutMs: 10_000, Required: true},
			{Order: 2, Action: "notify", Description: "Notify configured alert channels", TimeoutMs: 15_000, Required: true},
		},
	}
}

// BuiltinProtocols is the protocol table compiled into the binary. A YAML
// protocol file extends or overrides these entries.
func BuiltinProtocols() map[string]*Protocol {
	crisis := &Protocol{
		ID:            "market_crisis",
		EmergencyType: "market_crisis",
		TimeoutMs:     120_000,
		Steps: []Step{
			{Order: 1, Action: "assess_situation", Description: "Assess market state and confirm the crisis signal", TimeoutMs: 10_000, Required: true},
			{Order: 2, Action: "pause_automated_trading", Description: "Pause automated posting and trading hooks", TimeoutMs: 5_000, Required: true},
			{Order: 3, Action: "gather_context", Description: "Collect related items from emergency sources", TimeoutMs: 30_000, Required: false},
			{Order: 4, Action: "publish_summary", Description: "Publish a situation summary to subscribers", TimeoutMs: 30_000, Required: false},
		},
		Escalation: []EscalationRule{
			{ThresholdMs: 15_000, NotifyRole: "on_call_operator"},
		},
	}
	flash := &Protocol{
		ID:            "flash_crash",
		EmergencyType: "flash_crash",
		TimeoutMs:     60_000,
		Steps: []Step{
			{Order: 1, Action: "verify_price_feed", Description: "Cross-check the move against a second price feed", TimeoutMs: 8_000, Required: true},
			{Order: 2, Action: "notify", Description: "Alert all channels about the price dislocation", TimeoutMs: 10_000, Required: true},
			{Order: 3, Action: "track_recovery", Description: "Track price recovery for the next window", TimeoutMs: 60_000, Required: false},
		},
	}
	regulation := &Protocol{
		ID:            "regulation_change",
		EmergencyType: "regulation_change",
		TimeoutMs:     180_000,
		Steps: []Step{
			{Order: 1, Action: "assess_situation", Description: "Identify affected markets and instruments", TimeoutMs: 15_000, Required: true},
			{Order: 3, Action: "compile_briefing", Description: "Compile a regulatory briefing for subscribers", TimeoutMs: 60_000, Required: false},
		},
	}
	return map[string]*Protocol{
		crisis.ID:     crisis,
		flash.ID:      flash,
		regulation.ID: regulation,
	}
}

// Selector maps an emergency's category to a protocol. It never returns
// nil: unknown categories fall back to market_crisis, and to the built-in
// default protocol when that is also absent.
type Selector struct {
	protocols map[string]*Protocol
	logger    *slog.Logger
}

// NewSelector creates a Selector over the given protocol table. A nil map
// selects from the built-in table.
func NewSelector(protocols map[string]*Protocol, logger *slog.Logger) *Selector {
	if protocols == nil {
		protocols = BuiltinProtocols()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{protocols: protocols, logger: logger}
}

// Select resolves the protocol for an emergency via the fallback chain.
func (s *Selector) Select(info *Information) *Protocol {
	if p, ok := s.protocols[info.Classification.Category]; ok {
		return p
	}
	if p, ok := s.protocols[FallbackProtocolID]; ok {
		s.logger.Warn("no protocol for category, using fallback",
			"category", info.Classification.Category, "fallback", FallbackProtocolID)
		return p
	}
	s.logger.Warn("fallback protocol missing, using built-in default",
		"category", info.Classification.Category)
	return DefaultProtocol()
}

// protocolFile is the YAML layout of a protocol configuration file.
type protocolFile struct {
	Protocols []*Protocol `yaml:"protocols"`
}

// LoadProtocols reads a YAML protocol file and merges it over the built-in
// table (file entries win).
func LoadProtocols(path string) (map[string]*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("emergency: read protocols: %w", err)
	}
	var pf protocolFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("emergency: parse protocols: %w", err)
	}

	table := BuiltinProtocols()
	for _, p := range pf.Protocols {
		if p.ID == "" {
			return nil, fmt.Errorf("emergency: protocol without id in %s", path)
		}
		sortSteps(p)
		table[p.ID] = p
	}
	return table, nil
}

func sortSteps(p *Protocol) {
	sort.SliceStable(p.Steps, func(i, j int) bool {
		return p.Steps[i].Order < p.Steps[j].Order
	})
}
