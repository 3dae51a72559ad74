package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalfy/build2/internal/variable"
)

func TestMapFindLongestPrefix(t *testing.T) {
	pool := variable.NewPool()
	m := NewMap(pool)
	root := m.InsertRoot("proj/", "src/proj/")
	sub := m.Insert("proj/pkg/")
	assert.Same(t, sub, m.Find("proj/pkg/deep/"), "expected longest-prefix match to return sub scope")
	assert.Same(t, m.Global(), m.Find("other/"), "expected global scope fallback")
	assert.Same(t, root, sub.Root(), "expected sub scope's root to be proj root")
}

func TestInsertOrderIndependentRethreading(t *testing.T) {
	pool := variable.NewPool()
	m := NewMap(pool)
	// Insert the deep scope first, then the intermediate one; the deep
	// scope should get re-parented onto the intermediate once it appears.
	deep := m.Insert("a/b/c/")
	mid := m.Insert("a/b/")
	assert.Same(t, mid, deep.Parent(), "expected deep's parent to be rethreaded to mid")
}

func TestOverridePrecedence(t *testing.T) {
	pool := variable.NewPool()
	v, err := pool.Intern("x", variable.KindString, variable.VisNormal, true)
	require.NoError(t, err)
	m := NewMap(pool)
	outer := m.InsertRoot("outer/", "src/outer/")
	inner := m.Insert("outer/inner/")

	require.NoError(t, outer.SetVar(prefixOf(v), variable.NewList(variable.KindString, []string{"p"}), variable.Assign))
	require.NoError(t, inner.SetVar(v, variable.NewScalar(variable.KindString, "v"), variable.Assign))
	got, ok := inner.Find(pool, "x", nil)
	require.True(t, ok, "expected a value")
	assert.Equal(t, "[p, v]", got.String())

	// A project-visibility override declared in a different project must not apply.
	otherProjectVar := overrideOf(v, ".__override")
	otherProjectVar.Visibility = variable.VisProject
	otherRoot := m.InsertRoot("otherproj/", "src/otherproj/")
	require.NoError(t, otherRoot.SetVar(otherProjectVar, variable.NewScalar(variable.KindString, "o"), variable.Assign))
	got2, ok := inner.Find(pool, "x", nil)
	require.True(t, ok, "expected a value")
	assert.Equal(t, "[p, v]", got2.String(), "expected override in a different project to be ignored")
}

func TestProjectVisibilityGatesAcrossRootBoundary(t *testing.T) {
	pool := variable.NewPool()
	v, err := pool.Intern("y", variable.KindString, variable.VisNormal, true)
	require.NoError(t, err)
	override := overrideOf(v, ".__override")
	override.Visibility = variable.VisProject

	m := NewMap(pool)
	outerRoot := m.InsertRoot("p1/", "src/p1/")
	inner := m.Insert("p1/pkg/")
	require.NoError(t, inner.SetVar(v, variable.NewScalar(variable.KindString, "base"), variable.Assign))
	require.NoError(t, outerRoot.SetVar(override, variable.NewScalar(variable.KindString, "o"), variable.Assign))

	// Same root: the override is visible and should apply.
	got, ok := inner.Find(pool, "y", nil)
	require.True(t, ok)
	assert.Equal(t, "o", got.String(), "expected override to apply within its own root")

	// Simulate inner belonging to a different project (its root differs
	// from outerRoot where the project-visibility override lives): the
	// override must then be suppressed.
	foreignRoot := m.InsertRoot("p2/", "src/p2/")
	inner.root = foreignRoot
	got2, ok := inner.Find(pool, "y", nil)
	require.True(t, ok)
	assert.Equal(t, "base", got2.String(), "expected project-visibility override to be suppressed across root boundary")
}

func prefixOf(v *variable.Variable) *variable.Variable {
	return overrideOf(v, ".__prefix")
}

func overrideOf(v *variable.Variable, suffix string) *variable.Variable {
	for _, ov := range v.Overrides() {
		if ov.Name == v.Name+suffix {
			return ov
		}
	}
	panic("no " + suffix + " override found")
}
