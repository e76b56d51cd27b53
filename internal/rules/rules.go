// Package rules compiles additive risk boosts from configuration and evaluates
// them against a feature vector.
package rules

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/fraudguard/internal/condition"
	"github.com/gyaneshwarpardhi/fraudguard/internal/config"
	"github.com/gyaneshwarpardhi/fraudguard/internal/features"
)

// Rule is a compiled boost.
type Rule struct {
	id     string
	source string
	expr   condition.Expr
	points float64
}

func (r *Rule) ID() string         { return r.id }
func (r *Rule) Expression() string { return r.source }
func (r *Rule) Points() float64    { return r.points }

// Set is an ordered, immutable collection of rules.
// Reloading policy builds a new Set rather than mutating one.
type Set struct {
	rules []*Rule
}

// Match records a rule that fired.
type Match struct {
	RuleID string  `json:"rule_id"`
	Points float64 `json:"points"`
}

// Build compiles enabled boosts. Every expression is parsed once here and every
// referenced fact is checked against the known feature names.
func Build(defs []config.BoostDef) (*Set, error) {
	s := &Set{}
	for _, d := range defs {
		if d.Disabled {
			continue
		}
		ast, err := condition.Parse(d.Expression)
		if err != nil {
			return nil, fmt.Errorf("boost %s: parse %q: %w", d.ID, d.Expression, err)
		}
		for _, f := range condition.Fields(ast) {
			if !knownFact(f) {
				return nil, fmt.Errorf("boost %s: unknown fact %q", d.ID, f)
			}
		}
		s.rules = append(s.rules, &Rule{id: d.ID, source: d.Expression, expr: ast, points: d.Points})
	}
	return s, nil
}

// MustBuildDefaults compiles config.DefaultBoosts.
func MustBuildDefaults() *Set {
	s, err := Build(config.DefaultBoosts())
	if err != nil {
		panic(err)
	}
	return s
}

// Rules returns the compiled rules in evaluation order.
func (s *Set) Rules() []*Rule {
	return s.rules
}

// Len returns the number of compiled rules.
func (s *Set) Len() int {
	return len(s.rules)
}

// Evaluate returns every rule that holds for v, in order. Rules are independent:
// one failing to evaluate aborts the whole assessment rather than silently
// dropping a boost.
func (s *Set) Evaluate(v features.Vector) ([]Match, error) {
	f := Facts{v: v}
	var out []Match
	for _, r := range s.rules {
		ok, err := condition.Evaluate(r.expr, f)
		if err != nil {
			return nil, fmt.Errorf("boost %s: %w", r.id, err)
		}
		if ok {
			out = append(out, Match{RuleID: r.id, Points: r.points})
		}
	}
	return out, nil
}

// Facts exposes a feature vector to the condition evaluator.
//
//	amount, txn_velocity, device_change, location_change, amount_ratio,
//	account_limit_exceeded, rapid_txn, amount_mod_10,
//	meta.account_type, meta.account_limit
type Facts struct {
	v features.Vector
}

// NewFacts wraps v.
func NewFacts(v features.Vector) Facts { return Facts{v: v} }

// Resolve implements condition.EvalContext.
func (f Facts) Resolve(path []string) (interface{}, bool) {
	switch len(path) {
	case 1:
		switch path[0] {
		case features.Amount:
			return f.v.Amount, true
		case features.Velocity:
			return f.v.Velocity, true
		case features.DeviceChange:
			return f.v.DeviceChange, true
		case features.LocationChange:
			return f.v.LocationChange, true
		case features.AmountRatio:
			return f.v.AmountRatio, true
		case features.AccountLimitExceeded:
			return f.v.AccountLimitExceeded, true
		case features.RapidTransaction:
			return f.v.RapidTransaction, true
		case "amount_mod_10":
			return f.v.Meta.Remainder10, true
		}
	case 2:
		if path[0] != "meta" {
			return nil, false
		}
		switch path[1] {
		case "account_type":
			return f.v.Meta.AccountType, true
		case "account_limit":
			return f.v.Meta.AccountLimit, true
		}
	}
	return nil, false
}

func knownFact(path string) bool {
	_, ok := Facts{}.Resolve(strings.Split(path, "."))
	return ok
}
