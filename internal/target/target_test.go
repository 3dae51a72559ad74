package target

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalfy/build2/internal/name"
)

func TestGraphGetOrCreateSingleWinner(t *testing.T) {
	g := NewGraph()
	typ := &TypeDescriptor{Name: "cxx_binary"}
	key := name.Key{Type: "cxx_binary", DirOut: "foo/", Value: "bar"}

	var created int32
	const n = 64
	var wg sync.WaitGroup
	results := make([]*Target, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			t, wasCreated := g.GetOrCreate(key, func() *Target {
				atomic.AddInt32(&created, 1)
				return New(key, typ)
			})
			results[i] = t
			_ = wasCreated
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, created, "expected exactly one creation")
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i], "goroutine %d observed a different target pointer", i)
	}
	assert.Equal(t, 1, g.Len())
}

func TestTypeIsOrExtends(t *testing.T) {
	base := &TypeDescriptor{Name: "cxx_library"}
	derived := &TypeDescriptor{Name: "cxx_binary", Base: base}
	assert.True(t, derived.IsOrExtends(base), "expected derived to extend base")
	assert.True(t, derived.IsOrExtends(derived), "expected a type to extend itself")
	unrelated := &TypeDescriptor{Name: "genrule"}
	assert.False(t, derived.IsOrExtends(unrelated), "did not expect derived to extend an unrelated type")
}

func TestTypeRegistryRegisterIdempotent(t *testing.T) {
	r := NewTypeRegistry()
	root := "root-key" // any comparable root-scope identity stand-in
	d1 := r.Register(root, "cxx_binary", nil, false, "")
	d2 := r.Register(root, "cxx_binary", nil, false, "")
	assert.Same(t, d1, d2, "expected idempotent registration to return the same descriptor")
	_, ok := r.Lookup(root, "missing")
	assert.False(t, ok, "did not expect a lookup hit for an unregistered type")
	_, ok = r.Lookup("other-root", "cxx_binary")
	assert.False(t, ok, "registrations must not leak across root-scope keys")
}

func TestRecipeAssignmentOnce(t *testing.T) {
	typ := &TypeDescriptor{Name: "genrule"}
	tgt := New(name.Key{Type: "genrule", Value: "gen"}, typ)
	a := ActionKey{Meta: 1, Op: 1}

	assert.True(t, tgt.SetRecipe(a, NoopRecipe), "expected first SetRecipe to succeed")
	assert.False(t, tgt.SetRecipe(a, NoopRecipe), "expected second SetRecipe for the same action to fail")
	_, ok := tgt.Recipe(a)
	assert.True(t, ok, "expected a recipe to be retrievable")
}

func TestStateTransitionMonotonicity(t *testing.T) {
	typ := &TypeDescriptor{Name: "genrule"}
	tgt := New(name.Key{Type: "genrule", Value: "gen"}, typ)

	require.Equal(t, Unknown, tgt.State())
	assert.True(t, tgt.CompareAndSwapState(Unknown, Postponed), "expected Unknown->Postponed to succeed")
	assert.False(t, tgt.CompareAndSwapState(Unknown, Postponed), "expected a stale Unknown->Postponed CAS to fail once state has moved on")
	assert.True(t, tgt.CompareAndSwapState(Postponed, Changed), "expected Postponed->Changed to succeed")
	assert.True(t, tgt.State().IsTerminal(), "expected Changed to be a terminal state")
}

func TestResolveExtFixedExtWinsOverBlank(t *testing.T) {
	r := NewTypeRegistry()
	root := "root"
	r.Register(root, "obj_file", nil, false, "o")

	assert.Equal(t, "o", r.ResolveExt(root, "obj_file", ""), "expected a blank ext to resolve to the type's fixed ext")
	assert.Equal(t, "o", r.ResolveExt(root, "obj_file", "o"), "expected an already-specified matching ext to pass through")
	assert.Equal(t, "so", r.ResolveExt(root, "obj_file", "so"), "expected an already-specified ext to be left alone even if it differs from FixedExt")
}

func TestResolveExtWalksBaseChain(t *testing.T) {
	r := NewTypeRegistry()
	root := "root"
	base := r.Register(root, "cxx_library", nil, false, "a")
	r.Register(root, "cxx_binary", base, false, "")

	assert.Equal(t, "a", r.ResolveExt(root, "cxx_binary", ""), "expected ext resolution to fall through to the base type's FixedExt")
}

func TestResolveExtUnknownTypeLeavesExtUnchanged(t *testing.T) {
	r := NewTypeRegistry()
	assert.Equal(t, "", r.ResolveExt("root", "nonexistent", ""))
}

func TestFixedExtUnifiesGraphIdentity(t *testing.T) {
	typeReg := NewTypeRegistry()
	root := "root"
	typeReg.Register(root, "obj_file", nil, false, "o")

	g := NewGraph()
	blank := name.Key{Type: "obj_file", Value: "main"}
	blank.Ext = typeReg.ResolveExt(root, "obj_file", blank.Ext)
	explicit := name.Key{Type: "obj_file", Value: "main", Ext: "o"}
	explicit.Ext = typeReg.ResolveExt(root, "obj_file", explicit.Ext)

	typ := &TypeDescriptor{Name: "obj_file", FixedExt: "o"}
	first, created1 := g.GetOrCreate(blank, func() *Target { return New(blank, typ) })
	second, created2 := g.GetOrCreate(explicit, func() *Target { return New(explicit, typ) })

	assert.True(t, created1)
	assert.False(t, created2, "expected the explicit-ext insert to find the blank-ext target already present")
	assert.Same(t, first, second, "expected a blank ext and its resolved fixed ext to identify the same target")
}

func TestPrerequisiteTargetsAppendOnly(t *testing.T) {
	typ := &TypeDescriptor{Name: "genrule"}
	tgt := New(name.Key{Type: "genrule", Value: "gen"}, typ)
	dep1 := New(name.Key{Type: "genrule", Value: "dep1"}, typ)
	dep2 := New(name.Key{Type: "genrule", Value: "dep2"}, typ)
	a := ActionKey{Meta: 1, Op: 1}

	tgt.AppendPrerequisiteTarget(a, dep1)
	tgt.AppendPrerequisiteTarget(a, dep2)

	got := tgt.PrerequisiteTargets(a)
	require.Len(t, got, 2)
	assert.Same(t, dep1, got[0])
	assert.Same(t, dep2, got[1])
}
