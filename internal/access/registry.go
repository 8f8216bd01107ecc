// ABOUTME: Per-type registry of named access-control rules with subtype inheritance.
// ABOUTME: A mutation is authorized iff every effective rule for the target's type passes.

package access

import (
	"errors"
	"fmt"

	"github.com/2389/weft/internal/syncable"
)

// ErrAccessDenied is the sentinel all rule denials match via errors.Is.
var ErrAccessDenied = errors.New("access denied")

// DeniedError reports which rule rejected which target.
type DeniedError struct {
	Rule string
	Ref  syncable.Ref
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied by rule %q for %s", e.Rule, e.Ref)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// RuleFunc is a predicate over (actor context, target wrapper, operation
// options). Returning false denies the operation; returning an error aborts
// evaluation with that error.
type RuleFunc func(ctx *Context, target syncable.Object, options map[string]any) (bool, error)

// Rule is a named predicate attached to a syncable type.
type Rule struct {
	Name string
	Test RuleFunc
}

// Registry holds the statically-constructed rule tables, assembled at
// startup. A type's effective rule set is the union of its own rules and its
// ancestors', with a same-named rule in a more specific type overriding the
// ancestor's. A type with no effective rules is unrestricted by this engine.
type Registry struct {
	rules   map[string][]Rule
	parents map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rules:   make(map[string][]Rule),
		parents: make(map[string]string),
	}
}

// Register attaches a rule to a type. Registering a name already present on
// the same type replaces it in place.
func (r *Registry) Register(typeName string, rule Rule) {
	for i, existing := range r.rules[typeName] {
		if existing.Name == rule.Name {
			r.rules[typeName][i] = rule
			return
		}
	}
	r.rules[typeName] = append(r.rules[typeName], rule)
}

// SetParent declares that child inherits parent's rules. Returns an error if
// the link would close an inheritance cycle.
func (r *Registry) SetParent(child, parent string) error {
	for t := parent; t != ""; t = r.parents[t] {
		if t == child {
			return fmt.Errorf("inheritance cycle: %s already descends from %s", parent, child)
		}
	}
	r.parents[child] = parent
	return nil
}

// EffectiveRules returns the composed rule table for a type: ancestor rules
// first in registration order, with same-named rules overridden in place by
// more specific types.
func (r *Registry) EffectiveRules(typeName string) []Rule {
	var chain []string
	for t := typeName; t != ""; t = r.parents[t] {
		chain = append(chain, t)
	}

	var out []Rule
	index := make(map[string]int)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, rule := range r.rules[chain[i]] {
			if pos, ok := index[rule.Name]; ok {
				out[pos] = rule
				continue
			}
			index[rule.Name] = len(out)
			out = append(out, rule)
		}
	}
	return out
}

// Validate runs every effective rule for the target's type. The first rule
// returning false yields a *DeniedError naming it; a rule error propagates
// unchanged.
func (r *Registry) Validate(ctx *Context, target syncable.Object, options map[string]any) error {
	for _, rule := range r.EffectiveRules(target.Ref().Type) {
		ok, err := rule.Test(ctx, target, options)
		if err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if !ok {
			return &DeniedError{Rule: rule.Name, Ref: target.Ref()}
		}
	}
	return nil
}

// SecuredByActorRule builds the common "actor must secure the target" rule:
// it passes when the context's actor is associated to the target, or to an
// ancestor reachable over secures edges, via a secures association.
func SecuredByActorRule(name string) Rule {
	return Rule{
		Name: name,
		Test: func(ctx *Context, target syncable.Object, _ map[string]any) (bool, error) {
			return ctx.SecuredByActor(target), nil
		},
	}
}
