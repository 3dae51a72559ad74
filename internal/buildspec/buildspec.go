// Package buildspec parses the CLI's free-form invocation grammar (§6):
// meta-op(op(targets…, params)…)… with @ binding a target to an src_base.
package buildspec

import (
	"fmt"
	"strings"
)

// TargetSpec is one requested target, optionally bound to a specific
// src_base via the `@` suffix grammar (§6 "@ binding a target to an
// src_base").
type TargetSpec struct {
	Name    string
	SrcBase string // "" if unbound
}

// OpBatch is one operation batch: an operation name, the targets it
// applies to, and any trailing bare parameters (§3 "operation batch").
type OpBatch struct {
	Name    string
	Targets []TargetSpec
	Params  []string
}

// MetaOpBatch is one meta-operation batch: a single meta-op name and its
// sequence of operation batches (§3 "meta-operation batch").
type MetaOpBatch struct {
	Name string
	Ops  []OpBatch
}

// Buildspec is the fully-parsed invocation: an ordered sequence of
// meta-operation batches (§4 control flow, "a buildspec specifies a
// sequence of meta-operation batches").
type Buildspec struct {
	MetaOps []MetaOpBatch
}

// ParseError reports a syntax problem in the buildspec grammar.
type ParseError struct {
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("buildspec parse error at %d: %s", e.Pos, e.Reason)
}

// DefaultMetaOp and DefaultOp are used when the CLI is invoked with no
// free-form arguments (§8 "Empty buildspec -> implicit dir{./} with
// default meta-op perform, default op update").
const (
	DefaultMetaOp = "perform"
	DefaultOp     = "update"
	DefaultTarget = "dir{./}"
)

// Parse parses a sequence of whitespace-separated buildspec terms, each of
// the form `meta-op(op(targets,params)...)...`. An empty args list yields
// the implicit default buildspec.
func Parse(args []string) (*Buildspec, error) {
	if len(args) == 0 {
		return &Buildspec{MetaOps: []MetaOpBatch{{
			Name: DefaultMetaOp,
			Ops:  []OpBatch{{Name: DefaultOp, Targets: []TargetSpec{{Name: DefaultTarget}}}},
		}}}, nil
	}
	spec := &Buildspec{}
	for _, arg := range args {
		p := &parser{s: arg}
		batch, err := p.parseMetaOpBatch()
		if err != nil {
			return nil, err
		}
		spec.MetaOps = append(spec.MetaOps, *batch)
	}
	return spec, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) parseMetaOpBatch() (*MetaOpBatch, error) {
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}
	batch := &MetaOpBatch{Name: name}
	for {
		op, err := p.parseOpBatch()
		if err != nil {
			return nil, err
		}
		batch.Ops = append(batch.Ops, *op)
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			break
		}
	}
	return batch, nil
}

func (p *parser) parseOpBatch() (*OpBatch, error) {
	p.skipSpace()
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}
	op := &OpBatch{Name: name}
	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			break
		}
		item, err := p.parseItem()
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(item, "-") {
			op.Params = append(op.Params, item)
		} else {
			spec := TargetSpec{Name: item}
			if idx := strings.IndexByte(item, '@'); idx != -1 {
				spec.Name = item[:idx]
				spec.SrcBase = item[idx+1:]
			}
			op.Targets = append(op.Targets, spec)
		}
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
	}
	return op, nil
}

func (p *parser) parseItem() (string, error) {
	start := p.pos
	depth := 0
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
		} else if (c == ',' || c == ')') && depth == 0 {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", &ParseError{Pos: p.pos, Reason: "expected an item"}
	}
	return strings.TrimSpace(p.s[start:p.pos]), nil
}

func (p *parser) parseIdent() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && isIdentRune(p.s[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", &ParseError{Pos: p.pos, Reason: "expected an identifier"}
	}
	return p.s[start:p.pos], nil
}

func isIdentRune(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return &ParseError{Pos: p.pos, Reason: fmt.Sprintf("expected %q", c)}
	}
	p.pos++
	return nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}
