package target

import (
	"github.com/dalfy/build2/internal/cmap"
	"github.com/dalfy/build2/internal/name"
)

// Graph is the concurrent target uniqueness map (§3 invariant 1: "there is
// exactly one Target object per target_key"). It is built directly on
// internal/cmap's AddOrGet primitive so concurrent matchers racing to
// create the same target key get exactly one winner and everyone else
// awaits that winner's result, rather than polling.
type Graph struct {
	m *cmap.Map[name.Key, *Target]
}

// NewGraph constructs an empty target graph.
func NewGraph() *Graph {
	hasher := func(k name.Key) uint64 {
		return cmap.XXHashes(k.Type, k.DirOut, k.DirSrcOut, k.Value, k.Ext)
	}
	return &Graph{m: cmap.New[name.Key, *Target](cmap.DefaultShardCount, hasher)}
}

// GetOrCreate returns the existing target for key, or creates one via
// create if absent, blocking concurrent callers racing on the same key until the
// winner's target is ready (§4.D, §5 "claim and wait").
func (g *Graph) GetOrCreate(key name.Key, create func() *Target) (t *Target, created bool) {
	return g.m.AddOrGet(key, create)
}

// Get returns the target for key, if it has already been created.
func (g *Graph) Get(key name.Key) (*Target, bool) {
	return g.m.Get(key)
}

// Len returns the number of targets currently in the graph.
func (g *Graph) Len() int { return g.m.Len() }

// All returns a snapshot of every target currently in the graph.
func (g *Graph) All() []*Target { return g.m.Values() }
