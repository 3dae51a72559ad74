package project

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalfy/build2/internal/action"
	"github.com/dalfy/build2/internal/name"
	"github.com/dalfy/build2/internal/scope"
	"github.com/dalfy/build2/internal/target"
	"github.com/dalfy/build2/internal/variable"
)

func newTestEngine(loader Loader) *Engine {
	pool := variable.NewPool()
	return NewEngine(scope.NewMap(pool), loader)
}

func TestBootstrapCreatesRootScope(t *testing.T) {
	e := newTestEngine(nil)
	p, err := e.Bootstrap(context.Background(), "out/", "")
	require.NoError(t, err)
	assert.True(t, p.Root.IsRoot(), "expected a root scope")

	p2, err := e.Bootstrap(context.Background(), "out/", "")
	require.NoError(t, err)
	assert.Same(t, p, p2, "expected the same project on a second bootstrap of the same out_base")
}

func TestBootstrapSrcRootMismatch(t *testing.T) {
	loader := func(ctx context.Context, root *scope.Scope, buildfilePath string) error {
		root.SrcPath = name.NormalizeDir("bootstrapped-src/")
		return nil
	}
	e := newTestEngine(loader)
	_, err := e.Bootstrap(context.Background(), "out/", "explicit-src/")
	require.Error(t, err, "expected a src_root_mismatch error")
	var mismatch *SrcRootMismatchError
	assert.True(t, asSrcRootMismatch(err, &mismatch), "expected SrcRootMismatchError, got %v", err)
}

func asSrcRootMismatch(err error, target **SrcRootMismatchError) bool {
	if e, ok := err.(*SrcRootMismatchError); ok {
		*target = e
		return true
	}
	return false
}

func TestRunOperationBatchRejectsMetaOpMismatch(t *testing.T) {
	e := newTestEngine(nil)
	p, err := e.Bootstrap(context.Background(), "out/", "")
	require.NoError(t, err)
	p.Root.SetActiveMetaOp("configure")

	meta := &action.MetaOperation{Name: "perform", ID: 2}
	op := &action.Operation{Name: "update", ID: 1}
	sched := NewScheduler(action.SchedulerOptions{Jobs: 1})

	_, err = p.RunOperationBatch(context.Background(), meta, op, []TargetRef{{Type: "genrule", DirOut: "out/", Value: "x"}}, sched)
	require.Error(t, err, "expected a meta_op_mismatch error")
	mismatch, ok := err.(*action.MetaOpMismatchError)
	require.True(t, ok, "expected MetaOpMismatchError, got %v", err)
	assert.Equal(t, "configure", mismatch.Expected)
	assert.Equal(t, "perform", mismatch.Got)
}

func TestDiscoverRootsErrorsOnMissingStartDir(t *testing.T) {
	dir, err := DiscoverRoots("/nonexistent-path-should-not-exist-xyz")
	assert.Error(t, err, "expected an error scanning a nonexistent path, got dir=%s", dir)
}

func TestSetDefaultTargetAliases(t *testing.T) {
	e := newTestEngine(nil)
	p, err := e.Bootstrap(context.Background(), "out/", "")
	require.NoError(t, err)
	typ := &target.TypeDescriptor{Name: "genrule"}
	first := target.New(name.Key{Type: "genrule", DirOut: "out/pkg/", Value: "main"}, typ)
	p.SetDefaultTarget("out/pkg/", first)

	alias := name.Key{Type: "", DirOut: "out/pkg/", Value: ""}
	got, ok := p.Graph.Get(alias)
	require.True(t, ok)
	assert.Same(t, first, got, "expected the default-target alias to resolve to the same target")
}
