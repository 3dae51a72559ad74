// Package action implements the action composition model and the
// target execution state machine that drives it (§4.F): meta-operation ×
// operation batches, outer/inner action composition, the match-then-
// execute two-phase pass, and the bounded-concurrency scheduler.
package action

import (
	"context"
	"fmt"

	"github.com/dalfy/build2/internal/rule"
	"github.com/dalfy/build2/internal/target"
)

// Key identifies one (meta-operation, operation) action at runtime. It is
// target.ActionKey under another name so the action package has a type of
// its own to talk about in its public API without target needing to know
// about meta-operations or operations.
type Key = target.ActionKey

// MetaOperation is one top-level implementation selectable for a batch
// (e.g. "perform", "configure", "disfigure") (§3 "Meta-operation").
type MetaOperation struct {
	Name string
	ID   int

	// Load is invoked once per (root scope, buildfile) pair the first time
	// it is sourced under this meta-operation; it is the external parser
	// collaborator's entry point (§4.G step 4).
	Load func(ctx context.Context, rootKey any, buildfilePath string) error

	// OperationPre optionally translates a requested operation id before
	// matching begins (e.g. "default" -> "update").
	OperationPre func(opID int) int
}

// Operation is one operation selectable within a meta-operation batch
// (§3 "Operation"). Outer wraps Inner when the operation composes an outer
// pre/post action around an inner one (e.g. update(test) before test);
// rules see the outer action so they can decide whether to delegate.
type Operation struct {
	ID   int
	Name string

	Outer *Operation
}

// Effective returns the operation actually presented to rule matching: the
// outermost operation in the composition chain, per §4.E "rules see the
// outer action".
func (o *Operation) Effective() *Operation {
	for o.Outer != nil {
		o = o.Outer
	}
	return o
}

// MetaOpMismatchError reports that not every target in a batch resolved to
// the same meta-operation implementation in its root scope (§4.F).
type MetaOpMismatchError struct {
	Expected string
	Got      string
	Target   string
}

func (e *MetaOpMismatchError) Error() string {
	return fmt.Sprintf("meta_op_mismatch: target %s resolved to meta-operation %q, batch expected %q", e.Target, e.Got, e.Expected)
}

// OpMismatchError reports an operation-batch-level composition violation.
type OpMismatchError struct {
	Reason string
}

func (e *OpMismatchError) Error() string { return "op_mismatch: " + e.Reason }

// Context bundles the shared, (after load) effectively-immutable resources
// an execute pass needs: the rule registry, the root-scope identity rules
// and types are keyed under, and the type registry (§4 "Shared resources").
type Context struct {
	Rules *rule.Registry
	Types *target.TypeRegistry
	Root  any
}

// resolveType returns t's dynamic type as assigned at creation time;
// ctx.Types is not consulted.
func (ctx *Context) resolveType(t *target.Target) *target.TypeDescriptor {
	return t.Type
}
