// Package rule implements the rule registry and the match/apply matching
// protocol (§4.E): rules are registered per (operation, target type) as an
// insertion-ordered hint range, matched in order with ambiguity detection,
// and falling through a type's base chain when nothing matches.
package rule

import (
	"fmt"

	"github.com/dalfy/build2/internal/target"
)

// MatchResult is returned by a successful Match; nil (the zero value's
// pointer form) indicates no match. A rule may stash arbitrary per-match
// state in the target's Extra slot directly; MatchResult only needs to
// signal that this rule claims the action.
type MatchResult struct {
	// Hint optionally narrows which sub-range of a type's rules a
	// subsequent re-match should consider (§4.E "prefix hint").
	Hint string
}

// Rule is the contract every concrete rule (including the builtin file and
// group rules) implements (§3 "Rule").
type Rule interface {
	// Name identifies the rule for diagnostics (ambiguous_match citations,
	// "while matching rule N" context).
	Name() string
	// Match reports whether this rule claims action A on target t, given an
	// optional caller hint. A non-nil result means the rule matched.
	Match(a target.ActionKey, t *target.Target, hint string) (*MatchResult, error)
	// Apply runs after a successful, unambiguous Match: it resolves
	// prerequisites (appending to t's prerequisite_targets for a) and
	// returns the recipe to execute.
	Apply(a target.ActionKey, t *target.Target, mr *MatchResult) (target.Recipe, error)
}

// opType is the registry key: one action's operation id crossed with one
// target type name (§4.E "rules[A.op][tt.id]").
type opType struct {
	op      int
	typeKey string
}

// entry is one registered rule; entries are kept in insertion order, so a
// hint's "prefix range" can be resolved as a contiguous slice.
type entry struct {
	rule Rule
}

// Registry is the per-root-scope hinted multimap of rules (§4.E). Like
// target.TypeRegistry, it is keyed by an opaque root-scope identity rather
// than being owned by scope.Scope, per the spec's own note about keying
// registrations on root scope identity to survive subproject reloads.
type Registry struct {
	byRoot map[any]map[opType][]entry
}

// NewRegistry constructs an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{byRoot: make(map[any]map[opType][]entry)}
}

// Register appends rule r to the insertion-ordered list for (root, op,
// typeName). Order matters: it is both the default match order and the
// unit a hint's prefix range addresses.
func (reg *Registry) Register(root any, op int, typeName string, r Rule) {
	m, ok := reg.byRoot[root]
	if !ok {
		m = make(map[opType][]entry)
		reg.byRoot[root] = m
	}
	key := opType{op: op, typeKey: typeName}
	m[key] = append(m[key], entry{rule: r})
}

// AmbiguousMatchError reports that two or more rules matched the same
// action/target with no disambiguating hint (§4.E step 1.b).
type AmbiguousMatchError struct {
	Action target.ActionKey
	Target string
	First  string
	Second string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous_match: rules %q and %q both match action %+v on target %s",
		e.First, e.Second, e.Action, e.Target)
}

// NoRuleError reports that no rule matched at any level of the type's base
// chain (§4.E step 2).
type NoRuleError struct {
	Action target.ActionKey
	Target string
}

func (e *NoRuleError) Error() string {
	return fmt.Sprintf("no_rule: no rule matches action %+v on target %s", e.Action, e.Target)
}

// MatchContextError wraps an underlying error with the "while matching
// rule N to action A on target T" framing required by §4.E / §7.
type MatchContextError struct {
	Rule   string
	Phase  string // "matching" or "applying"
	Action target.ActionKey
	Target string
	Err    error
}

func (e *MatchContextError) Error() string {
	return fmt.Sprintf("while %s rule %s to action %+v on target %s: %v", e.Phase, e.Rule, e.Action, e.Target, e.Err)
}

func (e *MatchContextError) Unwrap() error { return e.Err }

// Matched is the result of a successful, unambiguous Match call: the
// winning rule and its MatchResult, ready to be Applied.
type Matched struct {
	Rule   Rule
	Result *MatchResult
}

// Match runs the matching algorithm described in §4.E for target t under
// action a, starting at tt and falling through its base chain. hint
// narrows the candidate range within one type's rule list, if given.
func Match(reg *Registry, root any, a target.ActionKey, t *target.Target, tt *target.TypeDescriptor, hint string) (*Matched, error) {
	m, ok := reg.byRoot[root]
	if !ok {
		return nil, &NoRuleError{Action: a, Target: t.Key().String()}
	}
	for typ := tt; typ != nil; typ = typ.Base {
		key := opType{op: a.Op, typeKey: typ.Name}
		candidates, ok := m[key]
		if !ok || len(candidates) == 0 {
			continue
		}
		rng := candidates
		if hint != "" && len(candidates) > 1 {
			// A hint is only meaningful when more than one rule is
			// registered; with exactly one rule, the hint is ignored
			// (§4.E step 1.a "uniqueness case").
			if narrowed, ok := narrowByHint(candidates, hint); ok {
				rng = narrowed
			}
		}
		var winner *entry
		var winnerResult *MatchResult
		for i := range rng {
			r := rng[i].rule
			res, err := r.Match(a, t, hint)
			if err != nil {
				return nil, &MatchContextError{Rule: r.Name(), Phase: "matching", Action: a, Target: t.Key().String(), Err: err}
			}
			if res == nil {
				continue
			}
			if winner != nil {
				return nil, &AmbiguousMatchError{Action: a, Target: t.Key().String(), First: winner.rule.Name(), Second: r.Name()}
			}
			winner = &rng[i]
			winnerResult = res
		}
		if winner != nil {
			return &Matched{Rule: winner.rule, Result: winnerResult}, nil
		}
	}
	return nil, &NoRuleError{Action: a, Target: t.Key().String()}
}

// narrowByHint finds the contiguous sub-range of candidates whose rule
// names share hint as a prefix. This models "a prefix hint selects a
// contiguous range" (§4.E) against insertion-ordered names.
func narrowByHint(candidates []entry, hint string) ([]entry, bool) {
	start := -1
	end := -1
	for i, c := range candidates {
		if hasPrefix(c.rule.Name(), hint) {
			if start == -1 {
				start = i
			}
			end = i + 1
		} else if start != -1 {
			break
		}
	}
	if start == -1 {
		return nil, false
	}
	return candidates[start:end], true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Apply runs m.Rule's Apply step, wrapping any error with the same
// "while applying" context as Match.
func Apply(a target.ActionKey, t *target.Target, m *Matched) (target.Recipe, error) {
	recipe, err := m.Rule.Apply(a, t, m.Result)
	if err != nil {
		return nil, &MatchContextError{Rule: m.Rule.Name(), Phase: "applying", Action: a, Target: t.Key().String(), Err: err}
	}
	return recipe, nil
}
