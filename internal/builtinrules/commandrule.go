// Package builtinrules provides the "command rule" (§6): a concrete,
// testable instance of the Rule contract that runs a shell command as a
// target's recipe. It is not one of the spec's out-of-scope named
// language rules (cc/install/version/test) -- it is the generic
// shell-recipe primitive, analogous to the teacher's genrule concept,
// that exercises the core's match/apply/execute protocol end to end.
package builtinrules

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/alessio/shellescape"
	"github.com/google/shlex"

	"github.com/dalfy/build2/internal/diag"
	"github.com/dalfy/build2/internal/rule"
	"github.com/dalfy/build2/internal/target"
	"github.com/dalfy/build2/internal/variable"
)

// CommandVar is the variable name a command-rule target carries its
// shell command template under.
const CommandVar = "cmd"

// entrypoint mirrors the teacher's own BuildEntrypoint default
// (src/core/build_entrypoint.go): bash run with -u/-o pipefail so an
// unset variable or a failing stage of a pipe fails the whole recipe.
var entrypoint = []string{"bash", "--noprofile", "--norc", "-u", "-o", "pipefail", "-c"}

// CommandRule matches any target carrying a CommandVar value and runs it
// as a recipe, substituting each of the target's other variables into the
// command template as shell-escaped `$name` references before invoking
// it. Prerequisite resolution is the caller's responsibility (via
// t.AddPrerequisite before Apply runs); CommandRule only supplies the
// recipe.
type CommandRule struct{}

// NewCommandRule constructs a CommandRule.
func NewCommandRule() *CommandRule { return &CommandRule{} }

func (CommandRule) Name() string { return "command" }

func (CommandRule) Match(a target.ActionKey, t *target.Target, hint string) (*rule.MatchResult, error) {
	if _, ok := t.TargetVars()[CommandVar]; !ok {
		return nil, nil
	}
	return &rule.MatchResult{}, nil
}

func (CommandRule) Apply(a target.ActionKey, t *target.Target, mr *rule.MatchResult) (target.Recipe, error) {
	cmdVal, ok := t.TargetVars()[CommandVar]
	if !ok {
		return nil, diag.New(diag.KindFailed, "command rule matched without a "+CommandVar+" variable", nil)
	}
	template := cmdVal.String()
	return func(ctx target.RecipeContext, tgt *target.Target) (target.State, error) {
		command, err := expandVars(template, tgt.TargetVars())
		if err != nil {
			return target.Failed, diag.Wrap(err, "expanding command template for "+tgt.TargetName())
		}
		argv := append(append([]string{}, entrypoint...), command)
		goCtx, _ := ctx.(context.Context)
		if goCtx == nil {
			goCtx = context.Background()
		}
		cmd := exec.CommandContext(goCtx, argv[0], argv[1:]...)
		cmd.Dir = tgt.PackageDir()
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return target.Failed, diag.New(diag.KindProcessError, fmt.Sprintf("command for %s failed: %s", tgt.TargetName(), out.String()), err)
		}
		return target.Changed, nil
	}, nil
}

// expandVars tokenizes template the way a shell would (so quoting in the
// authored command is respected), replaces any token of the form $name
// found among vars with that variable's value, and re-quotes every
// resulting token (so shell operators in the template reach bash as
// literal words), grounded on the teacher's own use of
// google/shlex to tokenize and github.com/alessio/shellescape to re-quote
// substituted values in src/build/build_step.go.
func expandVars(template string, vars map[string]variable.Value) (string, error) {
	tokens, err := shlex.Split(template)
	if err != nil {
		return "", err
	}
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) > 1 && tok[0] == '$' {
			if v, ok := vars[tok[1:]]; ok {
				out = append(out, shellescape.Quote(v.String()))
				continue
			}
		}
		out = append(out, shellescape.Quote(tok))
	}
	result := ""
	for i, tok := range out {
		if i > 0 {
			result += " "
		}
		result += tok
	}
	return result, nil
}
