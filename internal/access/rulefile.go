// ABOUTME: TOML rule file loader: compiles declared CEL rules and type
// ABOUTME: inheritance into a populated registry.

package access

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ruleFile is the on-disk shape of a rule definitions file:
//
//	[types.task]
//	parent = "base"
//
//	[[types.task.rules]]
//	name = "owner-only"
//	secured_by_actor = true
//
//	[[types.task.rules]]
//	name = "not-archived"
//	expr = "!has(target.fields.archived) || target.fields.archived == false"
type ruleFile struct {
	Types map[string]typeDef `toml:"types"`
}

type typeDef struct {
	Parent string    `toml:"parent"`
	Rules  []ruleDef `toml:"rules"`
}

type ruleDef struct {
	Name           string `toml:"name"`
	Expr           string `toml:"expr"`
	SecuredByActor bool   `toml:"secured_by_actor"`
}

// LoadRules reads a TOML rule file and registers its contents into registry.
// Parents are linked after all rules are registered so declaration order in
// the file does not matter.
func LoadRules(path string, registry *Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading rule file: %w", err)
	}
	return parseRules(data, registry)
}

func parseRules(data []byte, registry *Registry) error {
	var file ruleFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing rule file: %w", err)
	}

	for typeName, def := range file.Types {
		for _, rd := range def.Rules {
			rule, err := buildRule(rd)
			if err != nil {
				return fmt.Errorf("type %q: %w", typeName, err)
			}
			registry.Register(typeName, rule)
		}
	}

	for typeName, def := range file.Types {
		if def.Parent == "" {
			continue
		}
		if err := registry.SetParent(typeName, def.Parent); err != nil {
			return fmt.Errorf("type %q: %w", typeName, err)
		}
	}
	return nil
}

func buildRule(rd ruleDef) (Rule, error) {
	if rd.Name == "" {
		return Rule{}, fmt.Errorf("rule without a name")
	}
	if rd.SecuredByActor {
		if rd.Expr != "" {
			return Rule{}, fmt.Errorf("rule %q: secured_by_actor and expr are mutually exclusive", rd.Name)
		}
		return SecuredByActorRule(rd.Name), nil
	}
	if rd.Expr == "" {
		return Rule{}, fmt.Errorf("rule %q: needs expr or secured_by_actor", rd.Name)
	}
	return CompileRule(rd.Name, rd.Expr)
}
