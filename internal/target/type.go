package target

import "sync"

// TypeDescriptor describes one registered target type (§3 "TargetType"):
// its name, the base type it extends (for the rule-matching walk up the
// base chain, §4.E), and whether instances are addressed by mtime or by
// derived output path.
type TypeDescriptor struct {
	Name string
	Base *TypeDescriptor

	// ByMtime is true for source-like types whose freshness is judged by
	// filesystem mtime rather than a recorded output path (§3).
	ByMtime bool

	// FixedExt, if non-empty, is the extension implied by this type when a
	// target key's Ext field is left blank (§3 "target_key").
	FixedExt string
}

// IsOrExtends reports whether d is other or extends it, walking the base
// chain (§4.E "type -> base chain walk").
func (d *TypeDescriptor) IsOrExtends(other *TypeDescriptor) bool {
	for t := d; t != nil; t = t.Base {
		if t == other {
			return true
		}
	}
	return false
}

// TypeRegistry is the root-scope-keyed table of registered target types
// (§4.D). Registrations are keyed by an opaque root-scope identity
// (interface{} so this package need not import scope) per the spec's
// own note that registries key off root scope identity rather than being
// owned by a Scope value.
type TypeRegistry struct {
	mu    sync.RWMutex
	byKey map[any]map[string]*TypeDescriptor
}

// NewTypeRegistry constructs an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{byKey: make(map[any]map[string]*TypeDescriptor)}
}

// Register adds (or returns the existing) type descriptor named name under
// root, extending base (base may be nil for a root type).
func (r *TypeRegistry) Register(root any, name string, base *TypeDescriptor, byMtime bool, fixedExt string) *TypeDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byKey[root]
	if !ok {
		m = make(map[string]*TypeDescriptor)
		r.byKey[root] = m
	}
	if d, ok := m[name]; ok {
		return d
	}
	d := &TypeDescriptor{Name: name, Base: base, ByMtime: byMtime, FixedExt: fixedExt}
	m[name] = d
	return d
}

// Lookup returns the registered type descriptor named name under root.
func (r *TypeRegistry) Lookup(root any, name string) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byKey[root]
	if !ok {
		return nil, false
	}
	d, ok := m[name]
	return d, ok
}

// ResolveExt resolves a target key's Ext field against the type registered
// as typeName under root (§3 "Target key", §4.D "resolves fixed extension
// if the type has one"): an already-specified ext is returned unchanged,
// an unspecified ext is resolved to the nearest FixedExt found walking the
// type's base chain, and falls back to the empty (wildcard) ext if neither
// the type nor any of its bases declares one.
func (r *TypeRegistry) ResolveExt(root any, typeName, ext string) string {
	if ext != "" {
		return ext
	}
	typ, ok := r.Lookup(root, typeName)
	if !ok {
		return ext
	}
	for t := typ; t != nil; t = t.Base {
		if t.FixedExt != "" {
			return t.FixedExt
		}
	}
	return ext
}
