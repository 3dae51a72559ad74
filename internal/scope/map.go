package scope

import (
	"strings"
	"sync"

	"github.com/dalfy/build2/internal/variable"
)

// Map is the directory-keyed scope map (§4.C): a lookup by path returns the
// longest-prefix (most qualified) scope, terminated by a single
// distinguished global scope keyed by the empty path.
type Map struct {
	mu     sync.RWMutex
	byPath map[string]*Scope
	global *Scope
	pool   *variable.Pool
}

// NewMap constructs a scope map with its distinguished global scope.
func NewMap(pool *variable.Pool) *Map {
	g := newScope("", "", pool)
	return &Map{
		byPath: map[string]*Scope{"": g},
		global: g,
		pool:   pool,
	}
}

// Global returns the distinguished global scope.
func (m *Map) Global() *Scope { return m.global }

// Insert creates a scope at outPath if absent (or returns the existing
// one), re-threading parent/root pointers among existing descendants so
// the tree stays correct regardless of insertion order.
func (m *Map) Insert(outPath string) *Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byPath[outPath]; ok {
		return s
	}
	s := newScope(outPath, "", m.pool)
	s.parent = m.findLocked(parentOf(outPath))
	s.root = s.parent.root
	m.byPath[outPath] = s
	m.rethreadDescendants(s)
	return s
}

// InsertRoot creates (or re-promotes) a scope at outPath as a root scope --
// its own root, with srcPath set. Promoting an existing scope to root
// re-threads root pointers for any subscopes whose previous root was an
// ancestor of it (§4.C).
func (m *Map) InsertRoot(outPath, srcPath string) *Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byPath[outPath]
	if !ok {
		s = newScope(outPath, srcPath, m.pool)
		s.parent = m.findLocked(parentOf(outPath))
		m.byPath[outPath] = s
	}
	s.SrcPath = srcPath
	oldRoot := s.root
	s.root = s
	if oldRoot != s {
		m.promoteRootLocked(s, oldRoot)
	}
	m.rethreadDescendants(s)
	return s
}

// promoteRootLocked re-threads the root pointer of every scope whose
// previous root was oldRoot and which is now a descendant of newRoot.
func (m *Map) promoteRootLocked(newRoot, oldRoot *Scope) {
	for path, s := range m.byPath {
		if s == newRoot {
			continue
		}
		if s.root == oldRoot && strings.HasPrefix(path, newRoot.OutPath) {
			s.root = newRoot
		}
	}
}

// rethreadDescendants fixes up parent/root pointers for any scope whose
// longest existing prefix is now s (i.e. s was inserted "between" an
// ancestor and some pre-existing descendants).
func (m *Map) rethreadDescendants(s *Scope) {
	for path, other := range m.byPath {
		if other == s || path == "" {
			continue
		}
		if !strings.HasPrefix(path, s.OutPath) {
			continue
		}
		// s must be a strictly better (longer) prefix than other's current parent.
		if other.parent != nil && len(other.parent.OutPath) >= len(s.OutPath) {
			continue
		}
		other.parent = s
		if !other.IsRoot() {
			other.root = s.root
		}
	}
}

// Find returns the most-qualified (longest-prefix) scope for outPath,
// terminating at the global scope if nothing more specific matches.
func (m *Map) Find(outPath string) *Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(outPath)
}

func (m *Map) findLocked(outPath string) *Scope {
	p := outPath
	for {
		if s, ok := m.byPath[p]; ok {
			return s
		}
		if p == "" {
			return m.global
		}
		p = parentOf(p)
	}
}

// parentOf returns the parent directory of a normalized, slash-separated,
// trailing-slash-terminated (or empty) out-tree path.
func parentOf(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	if idx := strings.LastIndexByte(p, '/'); idx != -1 {
		return p[:idx+1]
	}
	return ""
}
