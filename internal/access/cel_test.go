// ABOUTME: Tests for CEL expression rules: compile errors, evaluation, actor binding.

package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/weft/internal/syncable"
)

func TestCompileRule_InvalidExpressionFails(t *testing.T) {
	_, err := CompileRule("broken", "target.fields.")
	assert.Error(t, err)
}

func TestCompileRule_EvaluatesAgainstTargetFields(t *testing.T) {
	rule, err := CompileRule("public-only", `target.fields.visibility == "public"`)
	require.NoError(t, err)

	pub := syncable.New("note", "n1")
	pub.Set("visibility", "public")
	priv := syncable.New("note", "n2")
	priv.Set("visibility", "private")

	m, ctx := graphWith(t, pub, priv)

	ok, err := rule.Test(ctx, mustObject(t, m, pub.Ref()), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rule.Test(ctx, mustObject(t, m, priv.Ref()), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompileRule_SeesActorAndOptions(t *testing.T) {
	rule, err := CompileRule("owner-or-force", `actor.id == target.fields.owner || options.force == true`)
	require.NoError(t, err)

	user := syncable.New("user", "u1")
	note := syncable.New("note", "n1")
	note.Set("owner", "u1")

	m, ctx := graphWith(t, user, note)
	ctx.Initialize(user.Ref())

	ok, err := rule.Test(ctx, mustObject(t, m, note.Ref()), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Without an actor bound the expression sees an empty actor map, and
	// actor.id errors at evaluation. The force option short-circuits first.
	ctx.Clear()
	ok, err = rule.Test(ctx, mustObject(t, m, note.Ref()), map[string]any{"force": true})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileRule_NonBoolResultErrors(t *testing.T) {
	rule, err := CompileRule("typed", `target.id`)
	require.NoError(t, err)

	note := syncable.New("note", "n1")
	m, ctx := graphWith(t, note)

	_, err = rule.Test(ctx, mustObject(t, m, note.Ref()), nil)
	assert.Error(t, err)
}
