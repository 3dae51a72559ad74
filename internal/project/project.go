// Package project implements the project/scope bootstrap lifecycle
// (§4.G): out_base/src_base discovery, bootstrap_out/bootstrap_src
// reconciliation, root-scope creation, and the per-target load/match/
// execute drive loop.
package project

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/karrick/godirwalk"

	"github.com/dalfy/build2/internal/action"
	"github.com/dalfy/build2/internal/name"
	"github.com/dalfy/build2/internal/rule"
	"github.com/dalfy/build2/internal/scope"
	"github.com/dalfy/build2/internal/target"
)

// BootstrapMarker is the filename the upward directory scan looks for when
// out_base/src_base are not given explicitly.
const BootstrapMarker = "bootstrap.build"

// SrcRootMarker is the filename sourced during bootstrap_src.
const SrcRootMarker = "src-root.build"

// SrcRootMismatchError reports that the explicit, bootstrap-produced, and
// inferred src_root values disagree (§4.G step 2).
type SrcRootMismatchError struct {
	Explicit, Bootstrapped, Inferred string
}

func (e *SrcRootMismatchError) Error() string {
	return fmt.Sprintf("src_root_mismatch: explicit=%q bootstrap=%q inferred=%q", e.Explicit, e.Bootstrapped, e.Inferred)
}

// OutOfProjectError reports that a requested target's directory could not
// be associated with any project root.
type OutOfProjectError struct {
	Dir string
}

func (e *OutOfProjectError) Error() string {
	return fmt.Sprintf("out_of_project: %s is not under any discoverable project root", e.Dir)
}

// Loader is the external parser collaborator's load entry point (§4.G step
// 4): given a root scope and a buildfile path, it populates scope
// variables, target-type derivations, rule registrations, and prerequisite
// graphs. The concrete buildfile grammar is out of scope for this engine;
// only this contract is specified.
type Loader func(ctx context.Context, root *scope.Scope, buildfilePath string) error

// Project is one bootstrapped project: its root scope plus the registries
// keyed under that root's identity.
type Project struct {
	Root  *scope.Scope
	Rules *rule.Registry
	Types *target.TypeRegistry
	Graph *target.Graph

	loader       Loader
	activeMetaOp *action.MetaOperation
}

// Engine owns the shared scope map and the set of bootstrapped projects,
// keyed by out_root path (§3 "Scope" lifecycle: "created during bootstrap
// and live until the engine is reset").
type Engine struct {
	Scopes   *scope.Map
	projects map[string]*Project
	loader   Loader
}

// NewEngine constructs an engine with a fresh scope map and no projects.
func NewEngine(scopes *scope.Map, loader Loader) *Engine {
	return &Engine{Scopes: scopes, projects: make(map[string]*Project), loader: loader}
}

// Bootstrap runs §4.G steps 1-3 for outBase, creating or reusing its root
// project. explicitSrcBase, if non-empty, is the explicit src_root;
// otherwise the inferred src_root is outBase itself (bootstrap_out is
// modeled as loading BootstrapMarker via loader, which may itself set
// root.SrcPath).
func (e *Engine) Bootstrap(ctx context.Context, outBase, explicitSrcBase string) (*Project, error) {
	if p, ok := e.projects[outBase]; ok {
		return p, nil
	}
	inferredSrcBase := explicitSrcBase
	if inferredSrcBase == "" {
		inferredSrcBase = outBase
	}

	root := e.Scopes.InsertRoot(name.NormalizeDir(outBase), name.NormalizeDir(inferredSrcBase))
	p := &Project{
		Root:   root,
		Rules:  rule.NewRegistry(),
		Types:  target.NewTypeRegistry(),
		Graph:  target.NewGraph(),
		loader: e.loader,
	}

	bootstrapPath := filepath.Join(outBase, BootstrapMarker)
	bootstrappedSrcRoot := root.SrcPath
	if e.loader != nil {
		if !root.MarkSourced(bootstrapPath) {
			if err := e.loader(ctx, root, bootstrapPath); err != nil {
				return nil, err
			}
		}
		bootstrappedSrcRoot = root.SrcPath
	}

	if explicitSrcBase != "" && bootstrappedSrcRoot != "" &&
		name.NormalizeDir(explicitSrcBase) != name.NormalizeDir(bootstrappedSrcRoot) {
		return nil, &SrcRootMismatchError{Explicit: explicitSrcBase, Bootstrapped: bootstrappedSrcRoot, Inferred: inferredSrcBase}
	}
	if explicitSrcBase != "" {
		root.SrcPath = name.NormalizeDir(explicitSrcBase)
	} else if bootstrappedSrcRoot != "" {
		root.SrcPath = name.NormalizeDir(bootstrappedSrcRoot)
	} else {
		root.SrcPath = name.NormalizeDir(inferredSrcBase)
	}

	srcRootPath := filepath.Join(root.SrcPath, SrcRootMarker)
	if e.loader != nil && !root.MarkSourced(srcRootPath) {
		if err := e.loader(ctx, root, srcRootPath); err != nil {
			return nil, err
		}
	}

	e.projects[outBase] = p
	return p, nil
}

// DiscoverRoots scans upward from startDir for BootstrapMarker, returning
// the directory it was found in, or startDir itself if none is found
// anywhere above it (the caller then treats startDir as an implicit root).
// Each directory's entries are listed with godirwalk's scratch-buffer
// reader rather than os.ReadDir, the way the teacher's package discovery
// favours it for its lower per-call allocation cost.
func DiscoverRoots(startDir string) (string, error) {
	dir := filepath.Clean(startDir)
	for {
		entries, err := godirwalk.ReadDirents(dir, nil)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			if e.Name() == BootstrapMarker {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir, nil
		}
		dir = parent
	}
}

// Load invokes the active meta-operation's load callback for buildfilePath
// under p's root, skipping if it has already been sourced in this root
// (§4.G step 4, §3 "sourced" set). When no active meta-operation has a
// Load callback, the engine's Loader is used instead.
func (p *Project) Load(ctx context.Context, buildfilePath string) error {
	if p.Root.MarkSourced(buildfilePath) {
		return nil
	}
	if p.activeMetaOp != nil && p.activeMetaOp.Load != nil {
		return p.activeMetaOp.Load(ctx, p.Root, buildfilePath)
	}
	if p.loader == nil {
		return nil
	}
	return p.loader(ctx, p.Root, buildfilePath)
}

// SetDefaultTarget registers an implicit dir{./} alias for the buildfile's
// first explicitly declared target, so invoking the engine with no target
// name still resolves (§4.G "default target").
func (p *Project) SetDefaultTarget(dirOut string, first *target.Target) {
	alias := name.Key{Type: "", DirOut: dirOut, Value: ""}
	p.Graph.GetOrCreate(alias, func() *target.Target { return first })
}
