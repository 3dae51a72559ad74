package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalfy/build2/internal/buildspec"
	"github.com/dalfy/build2/internal/config"
)

func TestInternIdentStable(t *testing.T) {
	internTable = map[string]int{}
	internNext = 1

	a := internIdent("perform")
	b := internIdent("configure")
	c := internIdent("perform")
	assert.NotEqual(t, a, b, "expected distinct names to get distinct ids")
	assert.Equal(t, a, c, "expected the same name to get the same id on a later call")
}

func TestTargetRefsParsesDirAndTypedNames(t *testing.T) {
	opBatch := buildspec.OpBatch{
		Name: "update",
		Targets: []buildspec.TargetSpec{
			{Name: "dir{./}"},
			{Name: "cxx_binary{foo}", SrcBase: "/alt/src"},
		},
	}
	refs := targetRefs(opBatch)
	require.Len(t, refs, 2)
	assert.Equal(t, "dir", refs[0].Type)
	assert.Equal(t, "./", refs[0].Value)
	assert.Equal(t, "cxx_binary", refs[1].Type)
	assert.Equal(t, "foo", refs[1].Value)
	assert.Equal(t, "/alt/src", refs[1].DirSrcOut)
}

func TestApplyConfigDefaultsFillsUnsetFlags(t *testing.T) {
	opts.Concurrency.Jobs = 0
	opts.Concurrency.MaxJobs = 0
	opts.Concurrency.QueueDepth = 0

	cfg := config.Default()
	cfg.Build.Jobs = 4
	cfg.Build.MaxJobs = 16
	cfg.Build.QueueDepth = 8

	applyConfigDefaults(cfg)

	assert.Equal(t, 4, opts.Concurrency.Jobs)
	assert.Equal(t, 16, opts.Concurrency.MaxJobs)
	assert.Equal(t, 8, opts.Concurrency.QueueDepth)
}

func TestApplyConfigDefaultsDoesNotOverrideExplicitFlags(t *testing.T) {
	opts.Concurrency.Jobs = 2
	opts.Concurrency.MaxJobs = 0
	opts.Concurrency.QueueDepth = 0

	cfg := config.Default()
	cfg.Build.Jobs = 4

	applyConfigDefaults(cfg)

	assert.Equal(t, 2, opts.Concurrency.Jobs, "expected an explicit --jobs flag to win over config")
}
