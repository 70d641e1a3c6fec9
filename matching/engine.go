package matching

import (
	"context"
	"time"

	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/events"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
	"github.com/vstore/vstore/node"
)

// Mode selects how the engine decides on storage nodes.
type Mode string

const (
	// ModeRulesOnly evaluates only the best-scoring applicable rule.
	ModeRulesOnly Mode = "rules_only"
	// ModeRulesNextOnNoMatch tries applicable rules in score order until
	// enough nodes are decided.
	ModeRulesNextOnNoMatch Mode = "rules_next_on_no_match"
	// ModeFallbackHeuristic skips rules and uses the built-in heuristic.
	ModeFallbackHeuristic Mode = "fallback_only"
	// ModeRulesThenFallback runs the rules first and falls back to the
	// heuristic when they decide nothing.
	ModeRulesThenFallback Mode = "rules_then_fallback"
	// ModeRandom picks any known node.
	ModeRandom Mode = "random"
)

// ParseMode maps a configuration string to a Mode, defaulting to
// ModeRulesNextOnNoMatch for unknown values.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeRulesOnly, ModeRulesNextOnNoMatch, ModeFallbackHeuristic,
		ModeRulesThenFallback, ModeRandom:
		return Mode(s)
	}
	return ModeRulesNextOnNoMatch
}

// RuleSource provides the candidate rules for a file.
type RuleSource interface {
	ListMatchingMimeType(ctx context.Context, mimeType string) ([]*models.DecisionRule, error)
}

// Decision is the outcome of matching a file against the node topology.
//
// DecidedNodes keeps one entry per evaluated layer in storeMultiple mode,
// nil where a layer produced nothing, so callers can line results up with
// the rule's layers. ValidNodes holds only usable nodes. An empty
// ValidNodes with PhoneDecided set means the file stays on the device.
type Decision struct {
	DecidedNodes []*models.StorageNode
	ValidNodes   []*models.StorageNode
	UsedRule     *models.DecisionRule
	UsedLayer    int
	PhoneDecided bool
}

func newDecision() *Decision {
	return &Decision{UsedLayer: -1}
}

func (d *Decision) accept(n *models.StorageNode, layerIdx int) {
	if d.UsedLayer < 0 {
		d.UsedLayer = layerIdx
	}
	d.DecidedNodes = append(d.DecidedNodes, n)
	d.ValidNodes = append(d.ValidNodes, n)
}

// PhoneOnly reports whether the file should stay on the device.
func (d *Decision) PhoneOnly() bool {
	return d.PhoneDecided && len(d.ValidNodes) == 0
}

// NodeIDs returns the ids of the usable decided nodes.
func (d *Decision) NodeIDs() []string {
	ids := make([]string, 0, len(d.ValidNodes))
	for _, n := range d.ValidNodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Engine matches files against decision rules and the node registry.
type Engine struct {
	registry *node.Registry
	rules    RuleSource
	bus      events.Bus
	now      func() time.Time
	log      *logger.Logger
}

func New(registry *node.Registry, rules RuleSource, bus events.Bus, log *logger.Logger) *Engine {
	return &Engine{
		registry: registry,
		rules:    rules,
		bus:      bus,
		now:      time.Now,
		log:      log,
	}
}

// Decide picks the storage nodes for the file according to the mode. A
// decision with no valid nodes and PhoneDecided unset means matching found
// nothing; the caller chooses what that implies.
func (e *Engine) Decide(ctx context.Context, f *models.StoredFile, mode Mode) (*Decision, error) {
	if f == nil {
		return nil, errs.Validation("matching: file is nil")
	}

	e.publish(ctx, events.TopicMatchingStarted, events.MatchingStarted{FileID: f.ID})

	d := newDecision()
	switch mode {
	case ModeRandom:
		if n := e.registry.RandomNode(); n != nil {
			d.accept(n, 0)
		}
	case ModeFallbackHeuristic:
		if n := e.fallbackNode(f); n != nil {
			d.accept(n, 0)
		}
	case ModeRulesOnly:
		e.decideByRules(ctx, f, d, false)
	case ModeRulesThenFallback:
		e.decideByRules(ctx, f, d, true)
		if len(d.ValidNodes) == 0 && !d.PhoneDecided {
			if n := e.fallbackNode(f); n != nil {
				d.accept(n, 0)
			}
		}
	default:
		e.decideByRules(ctx, f, d, true)
	}

	if d.UsedRule != nil {
		e.publish(ctx, events.TopicMatchingRuleUsed, events.MatchingRuleUsed{
			FileID:     f.ID,
			RuleID:     d.UsedRule.ID,
			LayerIndex: d.UsedLayer,
		})
	}
	e.publish(ctx, events.TopicMatchingNodeDecided, events.MatchingNodeDecided{
		FileID:  f.ID,
		NodeIDs: d.NodeIDs(),
	})
	return d, nil
}

// decideByRules evaluates the applicable rules in descending score order.
// With tryNext set, rules after the first are consulted until the current
// rule's replication factor is satisfied; otherwise only the best rule runs.
func (e *Engine) decideByRules(ctx context.Context, f *models.StoredFile, d *Decision, tryNext bool) {
	rules, err := e.rules.ListMatchingMimeType(ctx, f.MimeType)
	if err != nil {
		// A rule store outage must not block storing the file.
		e.log.Warn("rule lookup failed, deciding without rules", "error", err)
		return
	}

	applicable := filterRules(rules, f, e.now())
	sortRulesByScore(applicable)
	if len(applicable) == 0 {
		return
	}

	for _, rule := range applicable {
		res := e.resolveRule(rule, f, d)
		if d.UsedRule == nil && res != resolutionNone {
			d.UsedRule = rule
		}
		// The replication target follows the rule currently tried, so a
		// continuation rule with a higher factor keeps accumulating.
		replication := rule.ReplicationFactor
		if replication <= 0 {
			replication = 1
		}
		switch res {
		case resolutionPhoneOnly:
			d.PhoneDecided = true
			return
		case resolutionNodes:
			if !tryNext || len(d.ValidNodes) >= replication {
				return
			}
		}
		if !tryNext {
			return
		}
	}
}

func (e *Engine) publish(ctx context.Context, topic string, event any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, topic, event); err != nil {
		e.log.Warn("event publish failed", "topic", topic, "error", err)
	}
}
