package action

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalfy/build2/internal/name"
	"github.com/dalfy/build2/internal/rule"
	"github.com/dalfy/build2/internal/target"
)

type stubRule struct {
	name   string
	recipe target.Recipe
	err    error
}

func (r *stubRule) Name() string { return r.name }
func (r *stubRule) Match(a target.ActionKey, t *target.Target, hint string) (*rule.MatchResult, error) {
	return &rule.MatchResult{}, nil
}
func (r *stubRule) Apply(a target.ActionKey, t *target.Target, mr *rule.MatchResult) (target.Recipe, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.recipe, nil
}

func newCtx(reg *rule.Registry, root any) *Context {
	return &Context{Rules: reg, Types: target.NewTypeRegistry(), Root: root}
}

func TestExecuteRunsRecipeOnce(t *testing.T) {
	reg := rule.NewRegistry()
	root := "root"
	var calls int
	reg.Register(root, 1, "genrule", &stubRule{name: "r", recipe: func(target.RecipeContext, *target.Target) (target.State, error) {
		calls++
		return target.Changed, nil
	}})
	typ := &target.TypeDescriptor{Name: "genrule"}
	tgt := target.New(name.Key{Type: "genrule", Value: "x"}, typ)
	a := target.ActionKey{Meta: 1, Op: 1}

	state, err := Execute(context.Background(), newCtx(reg, root), a, tgt)
	require.NoError(t, err)
	assert.Equal(t, target.Changed, state)
	assert.Equal(t, 1, calls)

	// Re-executing an already-terminal target must not run the recipe again.
	state2, err := Execute(context.Background(), newCtx(reg, root), a, tgt)
	require.NoError(t, err)
	assert.Equal(t, target.Changed, state2)
	assert.Equal(t, 1, calls)
}

func TestExecutePropagatesRecipeFailure(t *testing.T) {
	reg := rule.NewRegistry()
	root := "root"
	wantErr := errors.New("boom")
	reg.Register(root, 1, "genrule", &stubRule{name: "r", recipe: func(target.RecipeContext, *target.Target) (target.State, error) {
		return target.Failed, wantErr
	}})
	typ := &target.TypeDescriptor{Name: "genrule"}
	tgt := target.New(name.Key{Type: "genrule", Value: "x"}, typ)
	a := target.ActionKey{Meta: 1, Op: 1}

	_, err := Execute(context.Background(), newCtx(reg, root), a, tgt)
	assert.True(t, errors.Is(err, wantErr), "expected wrapped boom error, got %v", err)
	assert.Equal(t, target.Failed, tgt.State())
}

func TestExecutePrerequisiteFailurePropagates(t *testing.T) {
	reg := rule.NewRegistry()
	root := "root"
	a := target.ActionKey{Meta: 1, Op: 1}

	depType := &target.TypeDescriptor{Name: "gen_dep"}
	parentType := &target.TypeDescriptor{Name: "gen_parent"}
	reg.Register(root, 1, "gen_dep", &stubRule{name: "fails", recipe: func(target.RecipeContext, *target.Target) (target.State, error) {
		return target.Failed, errors.New("dep broke")
	}})
	reg.Register(root, 1, "gen_parent", &stubRule{name: "parent_rule", recipe: target.NoopRecipe})

	dep := target.New(name.Key{Type: "gen_dep", Value: "dep"}, depType)
	parent := target.New(name.Key{Type: "gen_parent", Value: "parent"}, parentType)
	// Simulate Apply having already resolved the prerequisite.
	parent.AppendPrerequisiteTarget(a, dep)

	_, err := Execute(context.Background(), newCtx(reg, root), a, parent)
	require.Error(t, err, "expected an aggregated error from the failed prerequisite")
	assert.Equal(t, target.Failed, parent.State())
}

func TestExecutePrerequisitesInvalidatesStaleMtime(t *testing.T) {
	reg := rule.NewRegistry()
	root := "root"
	a := target.ActionKey{Meta: 1, Op: 1}

	depType := &target.TypeDescriptor{Name: "gen_dep"}
	parentType := &target.TypeDescriptor{Name: "gen_parent"}
	reg.Register(root, 1, "gen_dep", &stubRule{name: "dep_rule", recipe: target.NoopRecipe})
	reg.Register(root, 1, "gen_parent", &stubRule{name: "parent_rule", recipe: target.NoopRecipe})

	dep := target.New(name.Key{Type: "gen_dep", Value: "dep"}, depType)
	dep.SetMtime(500)
	parent := target.New(name.Key{Type: "gen_parent", Value: "parent"}, parentType)
	parent.SetMtime(100)
	parent.AppendPrerequisiteTarget(a, dep)

	_, err := Execute(context.Background(), newCtx(reg, root), a, parent)
	require.NoError(t, err)
	assert.Equal(t, target.MtimeUnknown, parent.Mtime(), "expected a newer prerequisite to invalidate the parent's recorded mtime")
}

func TestExecutePrerequisitesLeavesFreshMtimeAlone(t *testing.T) {
	reg := rule.NewRegistry()
	root := "root"
	a := target.ActionKey{Meta: 1, Op: 1}

	depType := &target.TypeDescriptor{Name: "gen_dep"}
	parentType := &target.TypeDescriptor{Name: "gen_parent"}
	reg.Register(root, 1, "gen_dep", &stubRule{name: "dep_rule", recipe: target.NoopRecipe})
	reg.Register(root, 1, "gen_parent", &stubRule{name: "parent_rule", recipe: target.NoopRecipe})

	dep := target.New(name.Key{Type: "gen_dep", Value: "dep"}, depType)
	dep.SetMtime(100)
	parent := target.New(name.Key{Type: "gen_parent", Value: "parent"}, parentType)
	parent.SetMtime(500)
	parent.AppendPrerequisiteTarget(a, dep)

	_, err := Execute(context.Background(), newCtx(reg, root), a, parent)
	require.NoError(t, err)
	assert.EqualValues(t, 500, parent.Mtime(), "expected an older prerequisite to leave the parent's mtime untouched")
}

func TestSchedulerRunsBatchConcurrently(t *testing.T) {
	reg := rule.NewRegistry()
	root := "root"
	reg.Register(root, 1, "genrule", &stubRule{name: "r", recipe: func(target.RecipeContext, *target.Target) (target.State, error) {
		return target.Unchanged, nil
	}})
	typ := &target.TypeDescriptor{Name: "genrule"}
	a := target.ActionKey{Meta: 1, Op: 1}

	var targets []*target.Target
	for i := 0; i < 10; i++ {
		targets = append(targets, target.New(name.Key{Type: "genrule", Value: string(rune('a' + i))}, typ))
	}

	sched := NewScheduler(SchedulerOptions{Jobs: 4}, nil)
	results, err := sched.Run(context.Background(), newCtx(reg, root), Batch{Action: a, Targets: targets})
	require.NoError(t, err)
	require.Len(t, results, 10)
	for _, r := range results {
		assert.Equal(t, "unchanged", r.State)
	}
}

func TestSchedulerSerialStop(t *testing.T) {
	reg := rule.NewRegistry()
	root := "root"
	reg.Register(root, 1, "genrule", &stubRule{name: "r", recipe: func(target.RecipeContext, *target.Target) (target.State, error) {
		return target.Failed, errors.New("always fails")
	}})
	typ := &target.TypeDescriptor{Name: "genrule"}
	a := target.ActionKey{Meta: 1, Op: 1}

	var targets []*target.Target
	for i := 0; i < 20; i++ {
		targets = append(targets, target.New(name.Key{Type: "genrule", Value: string(rune('a' + i))}, typ))
	}

	sched := NewScheduler(SchedulerOptions{Jobs: 1, SerialStop: true}, nil)
	_, err := sched.Run(context.Background(), newCtx(reg, root), Batch{Action: a, Targets: targets})
	require.Error(t, err, "expected an aggregated failure error")
}
