// ABOUTME: Built-in $associate and $unassociate change handlers.
// ABOUTME: Always available regardless of the domain handler catalog.

package change

import (
	"github.com/2389/weft/internal/syncable"
)

// Built-in change type discriminators.
const (
	TypeAssociate   = "$associate"
	TypeUnassociate = "$unassociate"
)

// Slot names used by the built-in handlers.
const (
	slotTarget = "target"
	slotSource = "source"
)

// AssociateOptions carries the option keys understood by $associate.
const (
	optName      = "name"
	optRequisite = "requisite"
	optSecures   = "secures"
)

// associateHandler adds a named association from source to target. Secures
// defaults to false; requisite defaults to the value of secures when not
// given explicitly.
func associateHandler(tx *Transaction) error {
	target, err := tx.Object(slotTarget)
	if err != nil {
		return err
	}
	source, err := tx.Object(slotSource)
	if err != nil {
		return err
	}

	opts := tx.Options()
	secures := optBool(opts, optSecures, false)
	assoc := syncable.Association{
		Ref:       source.Ref(),
		Name:      optString(opts, optName),
		Secures:   secures,
		Requisite: optBool(opts, optRequisite, secures),
	}

	tx.Update(target).Associate(assoc)
	return nil
}

// unassociateHandler removes the named association from source to target.
// Removing an absent association is a no-op and yields an empty delta.
func unassociateHandler(tx *Transaction) error {
	target, err := tx.Object(slotTarget)
	if err != nil {
		return err
	}
	source, err := tx.Object(slotSource)
	if err != nil {
		return err
	}

	tx.Update(target).Unassociate(source.Ref(), optString(tx.Options(), optName))
	return nil
}

func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optBool(opts map[string]any, key string, fallback bool) bool {
	v, ok := opts[key]
	if !ok {
		return fallback
	}
	b, _ := v.(bool)
	return b
}
