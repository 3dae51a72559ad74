// Package target implements the target graph (§4.D): the target-type
// registry, the Target object itself, and the concurrent uniqueness map
// keyed by target_key.
package target

import (
	"path"
	"sync"
	"sync/atomic"

	"github.com/dalfy/build2/internal/name"
	"github.com/dalfy/build2/internal/variable"
)

// State is a target's position in the execution state machine (§3, §4.F).
// Transitions are monotone within one action:
// unknown -> postponed* -> {unchanged, changed, failed}.
type State int32

const (
	Unknown State = iota
	Postponed
	Unchanged
	Changed
	Failed
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Postponed:
		return "postponed"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// IsTerminal reports whether s is one of the terminal states for an action
// (unchanged, changed, or failed).
func (s State) IsTerminal() bool {
	return s == Unchanged || s == Changed || s == Failed
}

// Sentinel mtime values (§3 "Target.mtime").
const (
	MtimeUnknown     int64 = -1
	MtimeNonexistent int64 = -2
)

// ActionKey identifies one (meta-operation, operation) action; it is the
// per-action key used for a target's recipe and matched prerequisite
// targets slots. The action package re-exports this as its own Key
// type so the two packages share one representation without either
// importing the other's higher-level types.
type ActionKey struct {
	Meta int
	Op   int
}

// Recipe is the function invoked in the execute phase to transform a
// target (§3 "Recipe"). It returns the resulting terminal state, or an
// error which always drives the target to Failed.
type Recipe func(ctx RecipeContext, t *Target) (State, error)

// RecipeContext is the minimal context a recipe needs; process spawning
// and filesystem primitives are external collaborators (§1), so this is
// intentionally narrow -- just a cancellation signal.
type RecipeContext interface {
	Done() <-chan struct{}
	Err() error
}

// Distinguished recipes (§3 "recipe: ... may be the distinguished noop,
// default, group, or a concrete recipe").
var (
	NoopRecipe Recipe = func(RecipeContext, *Target) (State, error) { return Unchanged, nil }
	// GroupRecipe is the marker recipe a group target receives; the
	// scheduler treats a member's execution as triggering the group's.
	GroupRecipe Recipe = func(RecipeContext, *Target) (State, error) { return Unchanged, nil }
	// DefaultRecipe marks a target that relies entirely on its
	// prerequisites' states (no work of its own).
	DefaultRecipe Recipe = func(RecipeContext, *Target) (State, error) { return Unchanged, nil }
)

// Prerequisite is a reference to a dependency (§3 "Prerequisite"): it is
// resolved to a concrete Target at match time and carries the scope that
// declared it, for variable lookup.
type Prerequisite struct {
	Project string
	Type    string
	Dir     string
	DirOut  string
	Value   string
	Ext     string // optional
	Scope   VarScope
}

// VarScope is the minimal surface Prerequisite needs from a scope; defined
// here (rather than imported from the scope package) purely as the
// narrowest possible interface, satisfied structurally by *scope.Scope.
type VarScope interface {
	OutDir() string
}

// Target represents one node in the dependency graph (§3 "Target").
type Target struct {
	key   name.Key
	Type  *TypeDescriptor
	Group *Target

	Prerequisites []*Prerequisite

	mu            sync.Mutex
	prereqTargets map[ActionKey][]*Target
	recipes       map[ActionKey]Recipe
	done          map[ActionKey]chan struct{}

	state int32 // State, atomically updated
	mtime int64
	path  string

	Vars map[string]variable.Value

	// Extra is a small auxiliary slot rules use to stash match data
	// between match and apply (§3 "extra").
	Extra any
}

// New constructs a fresh, Unknown-state target for key under typ.
func New(key name.Key, typ *TypeDescriptor) *Target {
	return &Target{
		key:           key,
		Type:          typ,
		prereqTargets: make(map[ActionKey][]*Target),
		recipes:       make(map[ActionKey]Recipe),
		done:          make(map[ActionKey]chan struct{}),
		state:         int32(Unknown),
		mtime:         MtimeUnknown,
		Vars:          make(map[string]variable.Value),
	}
}

// DoneChan returns the channel that is closed once action a reaches a
// terminal state on this target, creating it on first use. Callers that
// lose the CompareAndSwapState race to claim a target wait on this channel
// instead of polling (§5 "suspension points").
func (t *Target) DoneChan(a ActionKey) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.done[a]
	if !ok {
		ch = make(chan struct{})
		t.done[a] = ch
	}
	return ch
}

// MarkDone closes action a's done channel, waking any goroutine waiting on
// DoneChan. It is a no-op if called twice for the same action.
func (t *Target) MarkDone(a ActionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.done[a]
	if !ok {
		ch = make(chan struct{})
		t.done[a] = ch
	}
	select {
	case <-ch:
		// already closed
	default:
		close(ch)
	}
}

// Key returns the target's identity (type, dir_out, dir_src_out, name, ext).
func (t *Target) Key() name.Key { return t.key }

// State returns the target's current state.
func (t *Target) State() State { return State(atomic.LoadInt32(&t.state)) }

// SetState unconditionally sets the target's state.
func (t *Target) SetState(s State) { atomic.StoreInt32(&t.state, int32(s)) }

// CompareAndSwapState attempts the transition before->after, returning true
// if it applied. Used for the single-writer-once-claimed discipline
// described in §4.F/§5.
func (t *Target) CompareAndSwapState(before, after State) bool {
	return atomic.CompareAndSwapInt32(&t.state, int32(before), int32(after))
}

// Mtime returns the target's stored mtime, or one of the sentinel values.
func (t *Target) Mtime() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mtime
}

// SetMtime records the target's resolved mtime (for mtime-based targets).
func (t *Target) SetMtime(m int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mtime = m
}

// Path returns the target's derived file path (for path-based targets).
func (t *Target) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// SetPath records the target's derived file path.
func (t *Target) SetPath(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.path = p
}

// SetRecipe assigns the recipe for action A. It is a bug to assign twice
// for the same action (§3 invariant 2); callers in the rule/action
// packages should treat a false return as a programming error.
func (t *Target) SetRecipe(a ActionKey, r Recipe) (ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, present := t.recipes[a]; present {
		return false
	}
	t.recipes[a] = r
	return true
}

// Recipe returns the recipe assigned for action A, if any.
func (t *Target) Recipe(a ActionKey) (Recipe, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.recipes[a]
	return r, ok
}

// AppendPrerequisiteTarget appends a resolved prerequisite target for
// action A. Per §3 invariant 3, entries are only ever appended here, never
// reordered or removed after match.
func (t *Target) AppendPrerequisiteTarget(a ActionKey, dep *Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prereqTargets[a] = append(t.prereqTargets[a], dep)
}

// PrerequisiteTargets returns the resolved prerequisite targets for
// action A, in declaration order.
func (t *Target) PrerequisiteTargets(a ActionKey) []*Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	ret := make([]*Target, len(t.prereqTargets[a]))
	copy(ret, t.prereqTargets[a])
	return ret
}

// AddPrerequisite declares a (not-yet-resolved) prerequisite.
func (t *Target) AddPrerequisite(p *Prerequisite) {
	t.Prerequisites = append(t.Prerequisites, p)
}

// TargetVars, TargetTypeName, TargetName, and GroupVars implement
// scope.TargetContext structurally (the scope package defines the
// interface; Target satisfies it without scope needing to be imported
// here).
func (t *Target) TargetVars() map[string]variable.Value { return t.Vars }
func (t *Target) TargetTypeName() string {
	if t.Type == nil {
		return ""
	}
	return t.Type.Name
}
func (t *Target) TargetName() string { return t.key.Value }
func (t *Target) GroupVars() (map[string]variable.Value, bool) {
	if t.Group == nil {
		return nil, false
	}
	return t.Group.Vars, true
}

// PackageDir returns the directory-component of the target's key, "." at
// the repo root (mirrors the teacher's BuildLabel).
func (t *Target) PackageDir() string {
	if t.key.DirOut == "" {
		return "."
	}
	return t.key.DirOut
}

// OutDir returns the directory a path-based target's outputs live under.
func (t *Target) OutDir() string {
	return path.Clean(t.key.DirOut)
}
