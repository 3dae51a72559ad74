package rule

import (
	"os"

	"github.com/dalfy/build2/internal/target"
)

// FileRule is the distinguished fallback rule (§4.E "Fallback rule"): it
// matches any path-based target whose file exists on disk and whose
// prerequisites, if any, are all strictly older. It is the only rule
// permitted to short-circuit match without being ambiguous -- the
// matching loop in Match never considers it alongside user rules because
// it is only ever registered on the file target type itself, which no
// other rule targets.
type FileRule struct {
	// Stat is overridable for tests; defaults to os.Stat.
	Stat func(path string) (os.FileInfo, error)
}

// NewFileRule constructs a FileRule using os.Stat.
func NewFileRule() *FileRule {
	return &FileRule{Stat: os.Stat}
}

func (r *FileRule) Name() string { return "file" }

func (r *FileRule) Match(a target.ActionKey, t *target.Target, hint string) (*MatchResult, error) {
	p := t.Path()
	if p == "" {
		return nil, nil
	}
	info, err := r.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	mtime := info.ModTime().Unix()
	for _, dep := range t.PrerequisiteTargets(a) {
		depMtime := dep.Mtime()
		if depMtime == target.MtimeUnknown || depMtime == target.MtimeNonexistent {
			continue
		}
		if depMtime >= mtime {
			return nil, nil
		}
	}
	return &MatchResult{}, nil
}

func (r *FileRule) Apply(a target.ActionKey, t *target.Target, mr *MatchResult) (target.Recipe, error) {
	return target.NoopRecipe, nil
}

// GroupRule is the distinguished rule for group targets (§4.E "Group
// rule"): matching a group always succeeds and yields the marker recipe;
// the member targets carry the real state, and executing any one member
// triggers the group's recipe (the scheduler, not this rule, implements
// that fan-out).
type GroupRule struct{}

func (GroupRule) Name() string { return "group" }

func (GroupRule) Match(a target.ActionKey, t *target.Target, hint string) (*MatchResult, error) {
	return &MatchResult{}, nil
}

func (GroupRule) Apply(a target.ActionKey, t *target.Target, mr *MatchResult) (target.Recipe, error) {
	return target.GroupRecipe, nil
}
