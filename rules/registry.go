package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// Document is the payload served by the rule source. Limits are strings so
// they survive YAML untouched and are parsed into decimals on apply.
type Document struct {
	DefaultRule *model.CalculationRule `yaml:"defaultRule"`
	Rules       []RuleEntry            `yaml:"rules"`
	Limits      []LimitEntry           `yaml:"limits"`
}

// RuleEntry binds a calculation rule to a (pts, processingEntity) pair.
type RuleEntry struct {
	PTS                   string `yaml:"pts"`
	ProcessingEntity      string `yaml:"processingEntity"`
	model.CalculationRule `yaml:",inline"`
}

// LimitEntry binds an exposure limit to a counterparty.
type LimitEntry struct {
	Counterparty string `yaml:"counterparty"`
	LimitUSD     string `yaml:"limitUsd"`
}

type snapshot struct {
	defaultRule  model.CalculationRule
	defaultLimit decimal.Decimal
	rules        map[string]model.CalculationRule
	limits       map[string]decimal.Decimal
}

// Registry answers rule and limit lookups from an immutable snapshot that
// the refresher replaces wholesale. Lookups never block a replacement for
// long, and a missing entry falls back to the defaults.
type Registry struct {
	mu   sync.RWMutex
	snap *snapshot
	log  *logging.ComponentLogger
}

// NewRegistry creates a registry serving only the built-in default rule and
// the given default limit.
func NewRegistry(defaultLimit decimal.Decimal, log *logging.ComponentLogger) *Registry {
	return &Registry{
		snap: &snapshot{
			defaultRule:  model.DefaultRule(),
			defaultLimit: defaultLimit,
			rules:        map[string]model.CalculationRule{},
			limits:       map[string]decimal.Decimal{},
		},
		log: log,
	}
}

// Rule returns the configured rule for (pts, processingEntity), or the
// default rule when none is configured.
func (r *Registry) Rule(pts, processingEntity string) model.CalculationRule {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()

	if rule, ok := snap.rules[ruleKey(pts, processingEntity)]; ok {
		return rule
	}
	return snap.defaultRule
}

// Limit returns the configured exposure limit for the counterparty, or the
// default limit when none is configured.
func (r *Registry) Limit(counterparty string) decimal.Decimal {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()

	if limit, ok := snap.limits[counterparty]; ok {
		return limit
	}
	return snap.defaultLimit
}

// Apply decodes a rule document and swaps in the new snapshot. A decode or
// parse failure leaves the current snapshot untouched.
func (r *Registry) Apply(raw []byte) error {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode rule document: %w", err)
	}

	r.mu.RLock()
	defaultLimit := r.snap.defaultLimit
	r.mu.RUnlock()

	next := &snapshot{
		defaultRule:  model.DefaultRule(),
		defaultLimit: defaultLimit,
		rules:        make(map[string]model.CalculationRule, len(doc.Rules)),
		limits:       make(map[string]decimal.Decimal, len(doc.Limits)),
	}

	if doc.DefaultRule != nil {
		next.defaultRule = normalizeRule(*doc.DefaultRule)
	}
	for _, entry := range doc.Rules {
		if entry.PTS == "" || entry.ProcessingEntity == "" {
			return fmt.Errorf("rule entry missing pts or processingEntity")
		}
		next.rules[ruleKey(entry.PTS, entry.ProcessingEntity)] = normalizeRule(entry.CalculationRule)
	}
	for _, entry := range doc.Limits {
		limit, err := decimal.NewFromString(entry.LimitUSD)
		if err != nil {
			return fmt.Errorf("invalid limit for counterparty %s: %w", entry.Counterparty, err)
		}
		next.limits[entry.Counterparty] = limit
	}

	r.mu.Lock()
	r.snap = next
	r.mu.Unlock()

	r.log.Info().
		Int("rules", len(next.rules)).
		Int("limits", len(next.limits)).
		Msg("Rule snapshot replaced")
	return nil
}

func normalizeRule(rule model.CalculationRule) model.CalculationRule {
	return model.CalculationRule{
		BusinessStatuses: upperAll(rule.BusinessStatuses),
		Directions:       upperAll(rule.Directions),
		SettlementTypes:  upperAll(rule.SettlementTypes),
	}
}

func upperAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToUpper(strings.TrimSpace(v))
	}
	return out
}

func ruleKey(pts, processingEntity string) string {
	return pts + "|" + processingEntity
}
