// Package scope implements the directory-keyed scope hierarchy (§4.C) and
// the scope-side half of variable resolution (§4.B): walking parents,
// honouring visibility at root-scope boundaries, and applying override
// chains once an "original" value has been found.
package scope

import (
	"sync"

	"github.com/dalfy/build2/internal/variable"
)

// TargetContext is satisfied by anything that can supply target-scoped
// variable lookups for Scope.Find's first step (§4.B step 1): the
// target's own vars, its type/pattern-specific vars, and its group's vars,
// if any. target.Target implements this structurally; neither package
// imports the other.
type TargetContext interface {
	// TargetVars returns the target's own per-target variable map.
	TargetVars() map[string]variable.Value
	// TargetTypeName returns the dynamic type name used to key
	// type/pattern-specific variables.
	TargetTypeName() string
	// TargetName returns the target's value name, used as the cache key's
	// target-name component.
	TargetName() string
	// GroupVars returns the vars of this target's owning group, if any.
	GroupVars() (map[string]variable.Value, bool)
}

// Scope is one node of the directory-keyed scope hierarchy (§3 "Scope").
type Scope struct {
	OutPath      string
	SrcPath      string
	parent       *Scope
	root         *Scope
	amalgamation *Scope

	mu       sync.RWMutex
	vars     map[string]variable.Value
	typeVars map[string]map[string]variable.TypeValue // targetTypeOrPattern -> varName -> TypeValue
	modules  map[string]bool
	sourced  map[string]bool
	metaOp   string // active meta-operation impl name for this root

	pool          *variable.Pool
	typeCache     *variable.Cache
	overrideCache *variable.Cache
}

// newScope allocates a bare scope; it is always its own root until
// threaded into a Map.
func newScope(out, src string, pool *variable.Pool) *Scope {
	s := &Scope{
		OutPath:       out,
		SrcPath:       src,
		vars:          make(map[string]variable.Value),
		typeVars:      make(map[string]map[string]variable.TypeValue),
		modules:       make(map[string]bool),
		sourced:       make(map[string]bool),
		pool:          pool,
		typeCache:     variable.NewCache(),
		overrideCache: variable.NewCache(),
	}
	s.root = s
	return s
}

// IsRoot reports whether this scope is its own root, i.e. it was
// bootstrapped as a project root rather than a subdirectory scope.
func (s *Scope) IsRoot() bool { return s.root == s }

// Root returns this scope's root scope.
func (s *Scope) Root() *Scope { return s.root }

// OutDir returns the scope's out-tree directory (its OutPath).
func (s *Scope) OutDir() string { return s.OutPath }

// Parent returns the parent scope, or nil for the global scope.
func (s *Scope) Parent() *Scope { return s.parent }

// Amalgamation returns the strong-amalgamation pointer, if any (§3).
func (s *Scope) Amalgamation() *Scope { return s.amalgamation }

// SetAmalgamation sets the strong-amalgamation pointer used when this
// root's subprojects are folded into an outer one during bootstrap_src.
func (s *Scope) SetAmalgamation(outer *Scope) { s.amalgamation = outer }

// SetActiveMetaOp records which meta-operation implementation is active
// for this root scope (checked by the action package for meta_op_mismatch).
func (s *Scope) SetActiveMetaOp(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaOp = name
}

// ActiveMetaOp returns the active meta-operation implementation name for
// this root scope, or "" if none has been set yet.
func (s *Scope) ActiveMetaOp() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metaOp
}

// MarkSourced records that buildfile path has already been sourced in this
// root, returning true if it was already marked (so callers can skip
// re-sourcing it).
func (s *Scope) MarkSourced(path string) (alreadySourced bool) {
	root := s.root
	root.mu.Lock()
	defer root.mu.Unlock()
	if root.sourced[path] {
		return true
	}
	root.sourced[path] = true
	return false
}

// MarkModuleLoaded records a loaded module (buildfile `import`/`using`
// target) by name, returning true if it was already loaded.
func (s *Scope) MarkModuleLoaded(name string) (alreadyLoaded bool) {
	root := s.root
	root.mu.Lock()
	defer root.mu.Unlock()
	if root.modules[name] {
		return true
	}
	root.modules[name] = true
	return false
}

// SetVar assigns, prepends, or appends a plain scope variable (not
// target-type-specific). Assign with a null value clears it.
func (s *Scope) SetVar(v *variable.Variable, val variable.Value, flag variable.ExtraFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stem := s.vars[v.Name]
	merged, err := variable.Concat(stem, val, flag)
	if err != nil {
		return err
	}
	s.vars[v.Name] = merged
	return nil
}

// SetTypeVar assigns a target-type/pattern-specific value for v under the
// given type-or-pattern key.
func (s *Scope) SetTypeVar(typeOrPattern string, v *variable.Variable, tv variable.TypeValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.typeVars[typeOrPattern]
	if !ok {
		m = make(map[string]variable.TypeValue)
		s.typeVars[typeOrPattern] = m
	}
	m[v.Name] = tv
	s.typeCache.BumpStem(cacheStemKey(typeOrPattern, v.Name))
}

func cacheStemKey(typeOrPattern, varName string) string {
	return typeOrPattern + "\x00" + varName
}

// rawVar returns the directly-stored scope variable (not walking parents),
// and whether it was present.
func (s *Scope) rawVar(name string) (variable.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

func (s *Scope) rawTypeVar(typeOrPattern, varName string) (variable.TypeValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.typeVars[typeOrPattern]
	if !ok {
		return variable.TypeValue{}, false
	}
	tv, ok := m[varName]
	return tv, ok
}

// typeVarStem resolves the recursive type/pattern-specific stem lookup
// described in §4.B: find the value at typeOrPattern in this scope; if it
// carries Prepend/Append, recursively resolve the next-outward stem
// (parent scope, same type key) and concatenate, memoizing the result.
func (s *Scope) typeVarStem(typeOrPattern string, v *variable.Variable) (variable.Value, bool) {
	key := variable.CacheKey{Variable: v, TargetType: typeOrPattern, TargetName: ""}
	stemKey := cacheStemKey(typeOrPattern, v.Name)
	if cached, ok := s.typeCache.Get(key, stemKey); ok {
		return cached, true
	}
	tv, ok := s.rawTypeVar(typeOrPattern, v.Name)
	if !ok {
		if s.parent == nil {
			return variable.Value{}, false
		}
		return s.parent.typeVarStem(typeOrPattern, v)
	}
	if tv.Extra == variable.Assign {
		s.typeCache.Set(key, stemKey, tv.Value)
		return tv.Value, true
	}
	var outer variable.Value
	if s.parent != nil {
		outer, _ = s.parent.typeVarStem(typeOrPattern, v)
	}
	merged, err := variable.Concat(outer, tv.Value, tv.Extra)
	if err != nil {
		// A type conflict here surfaces at lookup time as a missing value;
		// the conflict error itself is not returned to the caller.
		return variable.Value{}, false
	}
	s.typeCache.Set(key, stemKey, merged)
	return merged, true
}

// Find resolves a variable by name for this scope, optionally in the
// context of a target (tc may be nil for a pure scope lookup), following
// the depth-ordered search described in §4.B.
func (s *Scope) Find(pool *variable.Pool, varName string, tc TargetContext) (variable.Value, bool) {
	v, ok := pool.Lookup(varName)
	if !ok {
		return variable.Value{}, false
	}
	return s.find(v, tc)
}

func (s *Scope) find(v *variable.Variable, tc TargetContext) (variable.Value, bool) {
	// Step 1: target context, if visibility permits and a target is given.
	if tc != nil && v.Visibility <= variable.VisTarget {
		if val, ok := tc.TargetVars()[v.Name]; ok {
			return s.applyOverrides(v, val, tc)
		}
		if val, ok := s.typeVarStem(tc.TargetTypeName(), v); ok {
			return s.applyOverrides(v, val, tc)
		}
		if groupVars, has := tc.GroupVars(); has {
			if val, ok := groupVars[v.Name]; ok {
				return s.applyOverrides(v, val, tc)
			}
		}
	}
	// Step 2: scope vars, walking parents; project-visibility variables
	// stop being visible once we cross a root-scope boundary outward.
	for sc := s; sc != nil; sc = sc.parent {
		if val, ok := sc.rawVar(v.Name); ok {
			if v.Visibility == variable.VisProject && sc.root != s.root {
				return variable.Value{}, false
			}
			return s.applyOverrides(v, val, tc)
		}
		if sc.IsRoot() && sc.parent != nil && v.Visibility == variable.VisProject {
			// Crossing out of the declaring root: project-visibility stops here.
			break
		}
	}
	return variable.Value{}, false
}

// applyOverrides applies the chain of synthesized override variables
// (outer -> inner) onto an original value found at v, per §4.B step 3.
func (s *Scope) applyOverrides(v *variable.Variable, original variable.Value, tc TargetContext) (variable.Value, bool) {
	result := original
	for _, ov := range v.Overrides() {
		val, ok := s.findOverrideValue(ov, tc)
		if !ok {
			continue
		}
		flag := variable.Assign
		switch {
		case hasSuffix(ov.Name, ".__prefix"):
			flag = variable.Prepend
		case hasSuffix(ov.Name, ".__suffix"):
			flag = variable.Append
		case hasSuffix(ov.Name, ".__override"):
			flag = variable.Assign
		}
		merged, err := variable.Concat(result, val, flag)
		if err != nil {
			continue // a conflicting override is ignored rather than poisoning the lookup
		}
		result = merged
	}
	return result, true
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}

// findOverrideValue looks up an override variable's own value the same way
// as a normal variable (scope walk, target context), honouring its
// individual visibility -- an override declared project-visible in a
// different project must not apply (§8 scenario 4).
func (s *Scope) findOverrideValue(ov *variable.Variable, tc TargetContext) (variable.Value, bool) {
	if tc != nil && ov.Visibility <= variable.VisTarget {
		if val, ok := tc.TargetVars()[ov.Name]; ok {
			return val, true
		}
	}
	for sc := s; sc != nil; sc = sc.parent {
		if val, ok := sc.rawVar(ov.Name); ok {
			if ov.Visibility == variable.VisProject && sc.root != s.root {
				return variable.Value{}, false
			}
			return val, true
		}
	}
	return variable.Value{}, false
}
