package project

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dalfy/build2/internal/action"
	"github.com/dalfy/build2/internal/name"
	"github.com/dalfy/build2/internal/target"
)

// RunOperationBatch drives one operation batch against p's root scope
// (§4.G steps 5-6): every target must resolve to the meta-operation
// already active for this root, or the batch fails with
// *meta_op_mismatch*; matched targets are then handed to a scheduler.
func (p *Project) RunOperationBatch(ctx context.Context, meta *action.MetaOperation, op *action.Operation, targetKeys []TargetRef, sched *action.Scheduler) ([]action.Result, error) {
	if len(targetKeys) == 0 {
		return nil, nil
	}
	if active := p.Root.ActiveMetaOp(); active != "" && active != meta.Name {
		return nil, &action.MetaOpMismatchError{Expected: active, Got: meta.Name, Target: targetKeys[0].String()}
	}
	p.Root.SetActiveMetaOp(meta.Name)
	p.activeMetaOp = meta

	effectiveOp := op.Effective()
	opID := effectiveOp.ID
	if meta.OperationPre != nil {
		opID = meta.OperationPre(opID)
	}
	actionKey := action.Key{Meta: meta.ID, Op: opID}

	targets := make([]*target.Target, 0, len(targetKeys))
	for _, ref := range targetKeys {
		key := ref.Key()
		key.Ext = p.Types.ResolveExt(p.Root, ref.Type, key.Ext)
		t, created := p.Graph.GetOrCreate(key, func() *target.Target {
			typ, _ := p.Types.Lookup(p.Root, ref.Type)
			return target.New(key, typ)
		})
		_ = created
		targets = append(targets, t)
	}

	actx := &action.Context{Rules: p.Rules, Types: p.Types, Root: p.Root}
	return sched.Run(ctx, actx, action.Batch{Action: actionKey, Targets: targets})
}

// TargetRef is the minimal description of a requested target needed to
// resolve or create its graph entry.
type TargetRef struct {
	Type      string
	DirOut    string
	DirSrcOut string
	Value     string
	Ext       string
}

func (r TargetRef) Key() name.Key {
	return name.Key{Type: r.Type, DirOut: r.DirOut, DirSrcOut: r.DirSrcOut, Value: r.Value, Ext: r.Ext}
}

func (r TargetRef) String() string { return r.DirOut + r.Value }

// NewScheduler is a convenience constructor using a fresh, unregistered
// prometheus registry, for callers that don't need shared metrics.
func NewScheduler(opts action.SchedulerOptions) *action.Scheduler {
	return action.NewScheduler(opts, prometheus.NewRegistry())
}
