// ABOUTME: CEL-backed access-control rules, compiled once at registry assembly.
// ABOUTME: Expressions see `actor`, `target`, and `options` as JSON-shaped maps.

package access

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/2389/weft/internal/syncable"
)

// celEnv is the shared compile environment for expression rules.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("actor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("options", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// CompileRule builds a named rule from a CEL expression. The expression is
// evaluated against the actor's record document (empty map when no actor is
// bound or its record is absent), the target's record document, and the
// operation options. It must evaluate to a bool.
//
// Example expression:
//
//	target.fields.visibility == "public" || actor.id == target.fields.owner
func CompileRule(name, expr string) (Rule, error) {
	env, err := celEnv()
	if err != nil {
		return Rule{}, fmt.Errorf("building CEL environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Rule{}, fmt.Errorf("compiling rule %q: %w", name, iss.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return Rule{}, fmt.Errorf("building program for rule %q: %w", name, err)
	}

	test := func(ctx *Context, target syncable.Object, options map[string]any) (bool, error) {
		actorDoc := map[string]any{}
		if actor, ok := ctx.Actor(); ok {
			doc, err := actor.Syncable().Doc()
			if err != nil {
				return false, err
			}
			actorDoc = doc
		}
		targetDoc, err := target.Syncable().Doc()
		if err != nil {
			return false, err
		}
		if options == nil {
			options = map[string]any{}
		}

		out, _, err := prg.Eval(map[string]any{
			"actor":   actorDoc,
			"target":  targetDoc,
			"options": options,
		})
		if err != nil {
			return false, fmt.Errorf("evaluating: %w", err)
		}
		verdict, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("expression returned %T, want bool", out.Value())
		}
		return verdict, nil
	}

	return Rule{Name: name, Test: test}, nil
}
