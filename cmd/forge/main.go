// Command forge is the engine's CLI driver (§6): it parses a free-form
// buildspec, bootstraps a project at the discovered out_base/src_base,
// wires in the builtin rules, and drives one scheduler run per
// meta-operation batch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/coreos/go-semver/semver"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	flags "github.com/thought-machine/go-flags"

	"github.com/dalfy/build2/internal/action"
	"github.com/dalfy/build2/internal/buildspec"
	"github.com/dalfy/build2/internal/builtinrules"
	"github.com/dalfy/build2/internal/cliutil"
	"github.com/dalfy/build2/internal/config"
	"github.com/dalfy/build2/internal/diag"
	"github.com/dalfy/build2/internal/name"
	"github.com/dalfy/build2/internal/project"
	"github.com/dalfy/build2/internal/rule"
	"github.com/dalfy/build2/internal/scope"
	"github.com/dalfy/build2/internal/target"
	"github.com/dalfy/build2/internal/variable"
)

// version is the engine's own release version, printed by --version
// (semver-typed like the teacher's please.version). It is not compared
// against any version range a project declares.
var version = semver.New("0.1.0")

// opts is the CLI's flag surface (§6), grouped the way the teacher's
// please.go groups its own opts struct with `group:"..."` tags.
var opts struct {
	Verbosity struct {
		Verbose []bool `short:"v" long:"verbose" description:"Increase logging verbosity; repeatable"`
		Extra   bool   `short:"V" long:"extra-verbose" description:"Maximum logging verbosity"`
		Quiet   bool   `short:"q" long:"quiet" description:"Suppress all but error-level logging"`
	} `group:"Verbosity"`

	Progress struct {
		Progress   bool `short:"p" long:"progress" description:"Print a running count of completed targets"`
		NoProgress bool `long:"no-progress" description:"Disable progress output"`
	} `group:"Progress"`

	Concurrency struct {
		Jobs       int  `short:"j" long:"jobs" description:"Worker goroutine count; 0 derives it from live CPU count"`
		MaxJobs    int  `short:"J" long:"max-jobs" description:"Hard ceiling on worker goroutines regardless of --jobs"`
		QueueDepth int  `short:"Q" long:"queue-depth" description:"Per-worker queue depth; 0 derives it from --jobs"`
		MaxStack   int  `long:"max-stack" description:"Advisory recipe call-stack budget in KB (unenforced: goroutine stacks grow on demand)"`
		SerialStop bool `short:"s" long:"serial-stop" description:"Stop scheduling further targets after the first failure"`
	} `group:"Concurrency"`

	Result struct {
		StructuredResult bool `long:"structured-result" description:"Emit machine-readable <state> <meta-op> <op> <target> lines"`
		MatchOnly        bool `long:"match-only" description:"Resolve rule matches without running recipes"`
		NoColumn         bool `long:"no-column" description:"Omit column numbers from diagnostics"`
		NoLine           bool `long:"no-line" description:"Omit line numbers from diagnostics"`
	} `group:"Result reporting"`

	Project struct {
		Buildfile   string `long:"buildfile" description:"Buildfile name (logged at debug level; this driver does not source it)" default:"BUILD"`
		ConfigGuess string `long:"config-guess" description:"Path to a config.guess-style architecture-detection script"`
		ConfigSub   string `long:"config-sub" description:"Path to a config.sub-style architecture-normalization script"`
	} `group:"Project"`

	Pager struct {
		Pager       string   `long:"pager" description:"Pipe result output through this program"`
		PagerOption []string `long:"pager-option" description:"Extra argument passed to --pager"`
	} `group:"Pager"`

	Version bool `long:"version" description:"Print the engine version and exit"`

	Positional struct {
		Buildspec []string `positional-arg-name:"buildspec" description:"meta-op(op(target,...)...)... invocation; empty runs perform(update(dir{./}))"`
	} `positional-args:"yes"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	watch := false
	if len(args) > 0 && args[0] == "watch" {
		watch = true
		args = args[1:]
	}

	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if opts.Version {
		fmt.Printf("forge version %s\n", version)
		return 0
	}

	level := cliutil.VerbosityToLevel(len(opts.Verbosity.Verbose))
	if opts.Verbosity.Extra {
		level = cliutil.DEBUG
	}
	if opts.Verbosity.Quiet {
		level = cliutil.ERROR
	}
	cliutil.InitLogging(level)
	cliutil.Log.Debugf("buildfile=%s config-guess=%s config-sub=%s", opts.Project.Buildfile, opts.Project.ConfigGuess, opts.Project.ConfigSub)

	spec, err := buildspec.Parse(opts.Positional.Buildspec)
	if err != nil {
		cliutil.Log.Errorf("%s", err)
		return 2
	}

	sink := diag.SinkFunc(func(d *diag.Diagnostic) { cliutil.Log.Errorf("%s", formatDiagnostic(d)) })

	out, restorePager := openPager()
	defer restorePager()

	ctx := context.Background()
	cwd, err := os.Getwd()
	if err != nil {
		cliutil.Log.Errorf("%s", err)
		return 2
	}

	outBase, err := project.DiscoverRoots(cwd)
	if err != nil {
		cliutil.Log.Errorf("%s", err)
		return 2
	}

	cfg, err := config.ReadFiles(
		filepath.Join(outBase, config.RepoConfigFileName),
		filepath.Join(outBase, config.LocalConfigFileName),
	)
	if err != nil {
		cliutil.Log.Errorf("%s", err)
		return 2
	}
	applyConfigDefaults(cfg)

	engine := project.NewEngine(scope.NewMap(variable.NewPool()), nil)
	proj, err := engine.Bootstrap(ctx, outBase, cfg.Bootstrap.SrcRoot)
	if err != nil {
		cliutil.Log.Errorf("%s", err)
		return 2
	}
	registerBuiltinRules(proj)

	sched := project.NewScheduler(action.SchedulerOptions{
		Jobs:       opts.Concurrency.Jobs,
		MaxJobs:    opts.Concurrency.MaxJobs,
		QueueDepth: opts.Concurrency.QueueDepth,
		SerialStop: opts.Concurrency.SerialStop,
	})

	runOnce := func() int {
		return runBuildspec(ctx, proj, sched, spec, out, sink)
	}

	if !watch {
		return runOnce()
	}
	return runWatch(proj, runOnce)
}

// runBuildspec drives every meta-operation batch in spec against proj in
// turn, printing structured or summarized output to out.
func runBuildspec(ctx context.Context, proj *project.Project, sched *action.Scheduler, spec *buildspec.Buildspec, out *os.File, sink diag.Sink) int {
	exitCode := 0
	completed := 0
	for _, metaBatch := range spec.MetaOps {
		metaID := internIdent(metaBatch.Name)
		meta := &action.MetaOperation{Name: metaBatch.Name, ID: metaID}
		for _, opBatch := range metaBatch.Ops {
			opID := internIdent(opBatch.Name)
			op := &action.Operation{Name: opBatch.Name, ID: opID}
			refs := targetRefs(opBatch)

			if opts.Result.MatchOnly {
				exitCode = max(exitCode, runMatchOnly(proj, meta, op, refs, out))
				continue
			}

			results, err := proj.RunOperationBatch(ctx, meta, op, refs, sched)
			if err != nil {
				diag.Report(sink, diag.Wrap(err, "running "+metaBatch.Name+"("+opBatch.Name+")"))
				exitCode = 1
			}
			for _, r := range results {
				completed++
				if opts.Result.StructuredResult {
					fmt.Fprintf(out, "%s %s %s %s\n", r.State, metaBatch.Name, opBatch.Name, r.Target)
				}
				if r.Err != nil {
					diag.Report(sink, diag.Wrap(r.Err, "target "+r.Target))
					exitCode = 1
				}
			}
		}
	}
	if opts.Progress.Progress && !opts.Progress.NoProgress {
		fmt.Fprintf(out, "completed %s targets\n", humanize.Comma(int64(completed)))
	}
	return exitCode
}

// runMatchOnly resolves (but does not apply or execute) the winning rule
// for each target ref, per --match-only (§6).
func runMatchOnly(proj *project.Project, meta *action.MetaOperation, op *action.Operation, refs []project.TargetRef, out *os.File) int {
	actionKey := action.Key{Meta: meta.ID, Op: op.Effective().ID}
	exitCode := 0
	for _, ref := range refs {
		key := ref.Key()
		key.Ext = proj.Types.ResolveExt(proj.Root, ref.Type, key.Ext)
		t, _ := proj.Graph.GetOrCreate(key, func() *target.Target {
			typ, _ := proj.Types.Lookup(proj.Root, ref.Type)
			return target.New(key, typ)
		})
		typ, ok := proj.Types.Lookup(proj.Root, ref.Type)
		if !ok {
			fmt.Fprintf(out, "no_rule %s %s\n", meta.Name, ref.String())
			exitCode = 1
			continue
		}
		matched, err := rule.Match(proj.Rules, proj.Root, actionKey, t, typ, "")
		if err != nil {
			fmt.Fprintf(out, "%s %s %s\n", err, meta.Name, ref.String())
			exitCode = 1
			continue
		}
		fmt.Fprintf(out, "%s would apply to %s\n", matched.Rule.Name(), ref.String())
	}
	return exitCode
}

// targetRefs converts one parsed op batch's targets into TargetRefs,
// carrying an @src_base binding through as the DirSrcOut override.
func targetRefs(opBatch buildspec.OpBatch) []project.TargetRef {
	refs := make([]project.TargetRef, 0, len(opBatch.Targets))
	for _, ts := range opBatch.Targets {
		n, err := name.ToName(ts.Name)
		if err != nil {
			continue
		}
		refs = append(refs, project.TargetRef{
			Type:      n.Type,
			DirOut:    n.Dir,
			DirSrcOut: ts.SrcBase,
			Value:     n.Value,
		})
	}
	return refs
}

// registerBuiltinRules wires the core's own distinguished rules plus the
// shell-command rule onto a freshly bootstrapped project, the way a real
// driver wires in whichever concrete rule implementations a deployment
// ships rather than leaving the registries empty.
func registerBuiltinRules(proj *project.Project) {
	fileType := proj.Types.Register(proj.Root, "file", nil, true, "")
	groupType := proj.Types.Register(proj.Root, "group", nil, false, "")
	proj.Types.Register(proj.Root, "command", fileType, false, "")

	for opID := 0; opID < maxInternedOps; opID++ {
		proj.Rules.Register(proj.Root, opID, fileType.Name, rule.NewFileRule())
		proj.Rules.Register(proj.Root, opID, groupType.Name, rule.GroupRule{})
		proj.Rules.Register(proj.Root, opID, "command", builtinrules.NewCommandRule())
	}
}

// maxInternedOps is the number of operation ids (0 through 63) the builtin
// rules are registered for. internIdent does not enforce it: an id at or
// above it has no builtin rules.
const maxInternedOps = 64

var internTable = map[string]int{}
var internNext = 1

// internIdent assigns a small stable int to each distinct meta-op/op name
// seen in one invocation, since action.MetaOperation/Operation key their
// registries by int id rather than by name.
func internIdent(s string) int {
	if id, ok := internTable[s]; ok {
		return id
	}
	id := internNext
	internNext++
	internTable[s] = id
	return id
}

func applyConfigDefaults(cfg *config.Configuration) {
	if cfg.Build.Jobs > 0 && opts.Concurrency.Jobs == 0 {
		opts.Concurrency.Jobs = cfg.Build.Jobs
	}
	if cfg.Build.MaxJobs > 0 && opts.Concurrency.MaxJobs == 0 {
		opts.Concurrency.MaxJobs = cfg.Build.MaxJobs
	}
	if cfg.Build.QueueDepth > 0 && opts.Concurrency.QueueDepth == 0 {
		opts.Concurrency.QueueDepth = cfg.Build.QueueDepth
	}
}

// formatDiagnostic renders d, honoring --no-column/--no-line by simply
// omitting position detail this engine doesn't otherwise attach to a
// Diagnostic today; both flags are accepted for forward compatibility
// with a parser that does attach source positions.
func formatDiagnostic(d *diag.Diagnostic) string {
	return d.Error()
}

// openPager returns the writer result/diagnostic lines go to: os.Stdout
// directly, or the stdin of a spawned --pager process whose own stdout is
// wired to the terminal. The returned func waits for the pager and
// restores stdout-only output.
func openPager() (*os.File, func()) {
	if opts.Pager.Pager == "" {
		return os.Stdout, func() {}
	}
	r, w, err := os.Pipe()
	if err != nil {
		return os.Stdout, func() {}
	}
	cmd := exec.Command(opts.Pager.Pager, opts.Pager.PagerOption...)
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return os.Stdout, func() {}
	}
	return w, func() {
		w.Close()
		cmd.Wait()
	}
}

// runWatch re-runs runOnce every time a file directly in proj's source
// root directory is written, created or removed (subdirectories are not
// watched), grounded on the teacher's `plz watch` command built on the
// same fsnotify library.
func runWatch(proj *project.Project, runOnce func() int) int {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cliutil.Log.Errorf("%s", err)
		return 2
	}
	defer watcher.Close()
	if err := watcher.Add(proj.Root.SrcPath); err != nil {
		cliutil.Log.Errorf("%s", err)
		return 2
	}

	code := runOnce()
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return code
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			cliutil.Log.Noticef("%s changed, rerunning", ev.Name)
			code = runOnce()
		case err, ok := <-watcher.Errors:
			if !ok {
				return code
			}
			cliutil.Log.Errorf("%s", err)
		}
	}
}

