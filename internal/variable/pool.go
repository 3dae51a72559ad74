package variable

import (
	"fmt"
	"sync"
)

// Visibility controls the depth at which a variable may be seen, per §4.B
// step 1-2 of scope lookup: a target-visibility variable is visible to
// target-context lookups; a project-visibility variable stops being
// visible once lookup crosses a root-scope boundary outward.
type Visibility int

const (
	// VisNormal variables are visible anywhere the name is reachable.
	VisNormal Visibility = iota
	// VisProject variables are not visible outside their declaring root scope.
	VisProject
	// VisScope marks a scope-level variable. Scope lookup does not
	// restrict it: it is searched in target context and in the scope walk
	// alike, as VisNormal is.
	VisScope
	// VisTarget marks a target-level variable. Scope lookup does not
	// restrict it: it is also found by the scope walk when no target is in
	// lookup context.
	VisTarget
)

func (v Visibility) String() string {
	switch v {
	case VisNormal:
		return "normal"
	case VisProject:
		return "project"
	case VisScope:
		return "scope"
	case VisTarget:
		return "target"
	default:
		return "unknown"
	}
}

// OverrideSuffix names a variable x itself (OverrideNone) and the three
// synthesized override variables a pool creates alongside every interned
// variable x: x.__override, x.__prefix, x.__suffix (§4.B).
type OverrideSuffix int

const (
	OverrideNone OverrideSuffix = iota
	OverrideOverride
	OverridePrefix
	OverrideSuffix_
)

func (s OverrideSuffix) suffix() string {
	switch s {
	case OverrideOverride:
		return ".__override"
	case OverridePrefix:
		return ".__prefix"
	case OverrideSuffix_:
		return ".__suffix"
	default:
		return ""
	}
}

// Variable is an interned variable descriptor: a declared name, its static
// type (if any), its visibility, whether later declarations may override
// it, and the chain of synthesized override variables that were created
// alongside it.
type Variable struct {
	Name          string
	Kind          Kind
	Visibility    Visibility
	Overridable   bool
	base          *Variable // nil for the base variable itself
	suffix        OverrideSuffix
	overrides     []*Variable // base.overrides; created outer->inner: override, prefix, suffix
}

// IsOverride reports whether this Variable is one of the synthesized
// override variables rather than the original declaration.
func (v *Variable) IsOverride() bool { return v.base != nil }

// Overrides returns the chain of synthesized override variables for this
// variable (empty if v is itself an override).
func (v *Variable) Overrides() []*Variable {
	if v.base != nil {
		return v.base.overrides
	}
	return v.overrides
}

// Pool is the global, append-only interned set of variable descriptors
// (§4.B). Inserting an existing name with a compatible Kind is idempotent;
// inserting with a conflicting Kind fails with ErrTypeConflict.
type Pool struct {
	mu   sync.RWMutex
	vars map[string]*Variable
}

// NewPool constructs an empty variable pool.
func NewPool() *Pool {
	return &Pool{vars: make(map[string]*Variable)}
}

// Intern registers (or looks up) a variable by name, kind, visibility, and
// overridability, also creating its three synthesized override variables
// the first time it is declared. It is safe to call repeatedly with the
// same (name, kind) from multiple goroutines.
func (p *Pool) Intern(name string, kind Kind, vis Visibility, overridable bool) (*Variable, error) {
	p.mu.RLock()
	if v, ok := p.vars[name]; ok {
		p.mu.RUnlock()
		if v.Kind != kind && kind != KindNull && v.Kind != KindNull {
			return nil, &ErrTypeConflict{Name: name, Previous: v.Kind, New: kind}
		}
		return v, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.vars[name]; ok { // re-check under write lock
		if v.Kind != kind && kind != KindNull && v.Kind != KindNull {
			return nil, &ErrTypeConflict{Name: name, Previous: v.Kind, New: kind}
		}
		return v, nil
	}
	v := &Variable{Name: name, Kind: kind, Visibility: vis, Overridable: overridable}
	for _, suf := range []OverrideSuffix{OverrideOverride, OverridePrefix, OverrideSuffix_} {
		ov := &Variable{
			Name:       name + suf.suffix(),
			Kind:       kind,
			Visibility: vis,
			base:       v,
			suffix:     suf,
		}
		v.overrides = append(v.overrides, ov)
		p.vars[ov.Name] = ov
	}
	p.vars[name] = v
	return v, nil
}

// Lookup returns the interned variable by its fully qualified name (which
// may itself be one of the synthesized override names), or false if it has
// never been interned.
func (p *Pool) Lookup(name string) (*Variable, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.vars[name]
	return v, ok
}

// MustIntern is a convenience wrapper around Intern that panics on type
// conflict; used for the engine's own built-in variable declarations where
// a conflict would indicate a programming error, not user input.
func (p *Pool) MustIntern(name string, kind Kind, vis Visibility, overridable bool) *Variable {
	v, err := p.Intern(name, kind, vis, overridable)
	if err != nil {
		panic(fmt.Sprintf("variable: %s", err))
	}
	return v
}
