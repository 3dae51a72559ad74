package action

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/dalfy/build2/internal/rule"
	"github.com/dalfy/build2/internal/target"
)

// Execute drives the two-phase match-then-execute pass for action a on
// target t (§4.F, §5). Concurrent callers racing on the same (a, t) pair
// all observe the same outcome: exactly one of them performs the work (the
// "claim"), and the rest cooperatively wait on the target's done channel
// rather than polling or repeating match.
func Execute(ctx context.Context, actx *Context, a Key, t *target.Target) (target.State, error) {
	if s := t.State(); s.IsTerminal() {
		return s, nil
	}
	if t.CompareAndSwapState(target.Unknown, target.Postponed) {
		err := executeClaimed(ctx, actx, a, t)
		if err != nil {
			t.SetState(target.Failed)
		}
		t.MarkDone(a)
		if t.Group != nil {
			triggerGroup(ctx, actx, a, t)
		}
		return t.State(), err
	}
	// Someone else claimed this target for this action first; wait for
	// them to finish rather than re-entering match (§3 invariant:
	// "match(A,T) followed by execute(A,T) yields the same outcome as a
	// direct execute that internally triggers match exactly once").
	select {
	case <-t.DoneChan(a):
	case <-ctx.Done():
		return t.State(), ctx.Err()
	}
	return t.State(), nil
}

// executeClaimed performs the actual match/apply/execute-prerequisites/
// recipe sequence for a target this goroutine has exclusively claimed.
func executeClaimed(ctx context.Context, actx *Context, a Key, t *target.Target) error {
	typ := actx.resolveType(t)
	m, err := rule.Match(actx.Rules, actx.Root, a, t, typ, "")
	if err != nil {
		return err
	}
	recipe, err := rule.Apply(a, t, m)
	if err != nil {
		return err
	}
	t.SetRecipe(a, recipe)

	if err := executePrerequisites(ctx, actx, a, t); err != nil {
		return err
	}

	state, err := recipe(ctx, t)
	if err != nil {
		return err
	}
	t.SetState(state)
	return nil
}

// executePrerequisites executes every prerequisite target resolved by
// Apply, in dependency order, before t's own recipe runs. A prerequisite's
// failure fails t without running its recipe (§3 "failed" propagation). A
// prerequisite that finishes with an mtime at least as new as t's own
// invalidates t's recorded mtime (§4.F "if T has an mtime and a
// prerequisite has a newer mtime, T must be regenerated").
func executePrerequisites(ctx context.Context, actx *Context, a Key, t *target.Target) error {
	deps := t.PrerequisiteTargets(a)
	var errs *multierror.Error
	for _, dep := range deps {
		state, err := Execute(ctx, actx, a, dep)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if state == target.Failed {
			errs = multierror.Append(errs, &PrerequisiteFailedError{Target: dep.Key().String()})
			continue
		}
		invalidateIfStale(t, dep)
	}
	return errs.ErrorOrNil()
}

// invalidateIfStale clears t's recorded mtime when a finished prerequisite
// is at least as new, so a staleness check run after this point (another
// rule's Match, or a hashdb.NeedsRebuild lookup) sees MtimeUnknown -- the
// sentinel every freshness check in this codebase already treats as "must
// rebuild" -- instead of a mtime that predates a dependency.
func invalidateIfStale(t, dep *target.Target) {
	tm := t.Mtime()
	if tm == target.MtimeUnknown || tm == target.MtimeNonexistent {
		return
	}
	dm := dep.Mtime()
	if dm == target.MtimeUnknown || dm == target.MtimeNonexistent {
		return
	}
	if dm >= tm {
		t.SetMtime(target.MtimeUnknown)
	}
}

// ReverseExecutePrerequisites walks a target's reverse dependencies
// (targets that declared t as a prerequisite) instead of its own
// prerequisites, for meta-operations that tear down in the opposite order
// (e.g. "disfigure" undoing what "configure" set up).
func ReverseExecutePrerequisites(ctx context.Context, actx *Context, a Key, t *target.Target, reverseDeps []*target.Target) error {
	var errs *multierror.Error
	for _, dep := range reverseDeps {
		state, err := Execute(ctx, actx, a, dep)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if state == target.Failed {
			errs = multierror.Append(errs, &PrerequisiteFailedError{Target: dep.Key().String()})
		}
	}
	return errs.ErrorOrNil()
}

// triggerGroup executes a member's group as soon as the member itself
// finishes, per §4.E "Group rule": the group's own recipe is the marker
// recipe, so this mostly just propagates the member's terminal state
// (group rules already match unconditionally).
func triggerGroup(ctx context.Context, actx *Context, a Key, member *target.Target) {
	if member.State() == target.Failed {
		member.Group.SetState(target.Failed)
	} else if member.Group.State() == target.Unknown {
		_, _ = Execute(ctx, actx, a, member.Group)
	}
	member.Group.MarkDone(a)
}

// PrerequisiteFailedError reports that a dependency failed, so this target
// fails without its recipe having run (§3, §7 "dependents also fail
// without re-reporting").
type PrerequisiteFailedError struct {
	Target string
}

func (e *PrerequisiteFailedError) Error() string {
	return "prerequisite " + e.Target + " failed"
}
