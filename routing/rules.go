/*
Logic:       A priority-ordered rule engine consulted by the Model
             Manager before its task_type -> default_worker mapping,
             letting operators hand-override learned/declared defaults
             with conditions over task type, principal, tier, and tags.
Root Cause:  Spec §4.3 step 1 names only the task_type -> default_worker
             mapping; SPEC_FULL.md §11 supplements an optional override
             consulted ahead of it ("Routing rule engine as selection
             override").
Context:     Adapted from tokenhub's router.ParseDirectives override
             mechanism (in-band fields like mode/budget/min_weight
             resolved into a Policy consulted ahead of normal selection)
             and models.Model.Weight priority ordering, generalised into
             a priority-sorted []Rule, AND-of-conditions matching, and a
             first-match-wins Evaluate over this orchestrator's selection
             inputs (task_type, principal_id, quality_tier, tags),
             narrowed to the two actions this domain needs: force a
             specific worker, or block selection
             outright (e.g. a maintenance window).
*/
package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/execstate"
)

// RuleAction is what happens when a rule's conditions all match.
type RuleAction string

const (
	ActionForceWorker RuleAction = "force_worker"
	ActionBlock       RuleAction = "block"
)

// ConditionOp is a condition comparison operator.
type ConditionOp string

const (
	OpEquals   ConditionOp = "eq"
	OpNotEquals ConditionOp = "neq"
	OpContains ConditionOp = "contains"
	OpIn       ConditionOp = "in"
)

// Condition is one field/operator/value test against a SelectionContext.
type Condition struct {
	Field    string
	Operator ConditionOp
	Value    string
}

// Rule is a single priority-ordered override.
type Rule struct {
	ID         string
	Priority   int // lower runs first
	Enabled    bool
	Conditions []Condition
	Action     RuleAction
	TargetWorkerID string
	Reason     string
}

// SelectionContext is the subset of a selection request a rule may
// condition on.
type SelectionContext struct {
	TaskType    string
	PrincipalID string
	QualityTier execstate.QualityTier
	Tags        map[string]string
}

// Decision is the outcome of evaluating the rule set against a context.
type Decision struct {
	Matched        bool
	RuleID         string
	Action         RuleAction
	TargetWorkerID string
	Reason         string
}

// RuleSet is a concurrency-safe, priority-ordered set of override rules.
type RuleSet struct {
	mu     sync.RWMutex
	rules  []Rule
	logger zerolog.Logger
}

// NewRuleSet constructs an empty RuleSet.
func NewRuleSet(logger zerolog.Logger) *RuleSet {
	return &RuleSet{logger: logger.With().Str("component", "routing_rules").Logger()}
}

// AddRule inserts a rule and re-sorts by priority.
func (rs *RuleSet) AddRule(r Rule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = append(rs.rules, r)
	sort.Slice(rs.rules, func(i, j int) bool { return rs.rules[i].Priority < rs.rules[j].Priority })
}

// RemoveRule deletes a rule by id.
func (rs *RuleSet) RemoveRule(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, r := range rs.rules {
		if r.ID == id {
			rs.rules = append(rs.rules[:i], rs.rules[i+1:]...)
			return
		}
	}
}

// Evaluate returns the first enabled rule whose conditions all match,
// or a zero-value (unmatched) Decision if none do.
func (rs *RuleSet) Evaluate(sc SelectionContext) Decision {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	for _, rule := range rs.rules {
		if !rule.Enabled {
			continue
		}
		if matchesAll(rule.Conditions, sc) {
			rs.logger.Debug().Str("rule_id", rule.ID).Str("action", string(rule.Action)).
				Str("task_type", sc.TaskType).Msg("routing rule matched")
			return Decision{
				Matched:        true,
				RuleID:         rule.ID,
				Action:         rule.Action,
				TargetWorkerID: rule.TargetWorkerID,
				Reason:         rule.Reason,
			}
		}
	}
	return Decision{}
}

func matchesAll(conditions []Condition, sc SelectionContext) bool {
	for _, c := range conditions {
		if !matches(c, sc) {
			return false
		}
	}
	return true
}

func matches(c Condition, sc SelectionContext) bool {
	field := resolveField(c.Field, sc)
	switch c.Operator {
	case OpEquals:
		return field == c.Value
	case OpNotEquals:
		return field != c.Value
	case OpContains:
		return strings.Contains(field, c.Value)
	case OpIn:
		for _, v := range strings.Split(c.Value, ",") {
			if strings.TrimSpace(v) == field {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func resolveField(field string, sc SelectionContext) string {
	switch field {
	case "task_type":
		return sc.TaskType
	case "principal_id":
		return sc.PrincipalID
	case "quality_tier":
		return string(sc.QualityTier)
	default:
		if strings.HasPrefix(field, "tag.") {
			return sc.Tags[strings.TrimPrefix(field, "tag.")]
		}
		return ""
	}
}

func (d Decision) String() string {
	if !d.Matched {
		return "no rule matched"
	}
	return fmt.Sprintf("rule %s -> %s (%s): %s", d.RuleID, d.Action, d.TargetWorkerID, d.Reason)
}
