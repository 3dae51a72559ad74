// Package name implements the engine's structured name and path model (§4.A).
//
// A Name is a 4-tuple (project?, directory, type, value) plus a pair flag
// used to encode "a@b" pairs in flat lists. It stringifies reversibly: a
// simple name prints as its bare value, a directory-only name as its path
// with a trailing separator, a typed name as "type{value}", and a
// project-qualified name as "proj%value".
package name

import (
	"fmt"
	"path"
	"strings"
)

// Name is the engine-wide structured identifier described in §3/§4.A.
type Name struct {
	Project string
	Dir     string
	Type    string
	Value   string
	// Pair marks this name as the left-hand side of an "a@b" pair encoded
	// inline in a flat name list; b is carried by the following element.
	Pair bool
}

// ErrInvalidPath is returned when a path operation would escape its root
// or otherwise produce an invalid relative/absolute path (spec: invalid_path).
type ErrInvalidPath struct {
	Path   string
	Reason string
}

func (e *ErrInvalidPath) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// IsSimple returns true when the name has no project, no type, and an
// empty directory -- i.e. it's just a bare unit/value name.
func (n Name) IsSimple() bool {
	return n.Project == "" && n.Type == "" && n.Dir == ""
}

// IsDirectory returns true when this name denotes a directory: a non-empty
// directory component with an empty value.
func (n Name) IsDirectory() bool {
	return n.Dir != "" && n.Value == ""
}

// IsUnit returns true when this name denotes the unit name of a directory:
// empty directory and empty value.
func (n Name) IsUnit() bool {
	return n.Dir == "" && n.Value == ""
}

// String renders the name using the reversible grammar described in §4.A.
func (n Name) String() string {
	var b strings.Builder
	if n.Project != "" {
		b.WriteString(n.Project)
		b.WriteByte('%')
	}
	switch {
	case n.IsDirectory():
		b.WriteString(NormalizeDir(n.Dir))
	case n.Type != "":
		if n.Dir != "" {
			b.WriteString(NormalizeDir(n.Dir))
		}
		b.WriteString(n.Type)
		b.WriteByte('{')
		b.WriteString(n.Value)
		b.WriteByte('}')
	case n.Dir != "":
		b.WriteString(NormalizeDir(n.Dir))
		b.WriteString(n.Value)
	default:
		b.WriteString(n.Value)
	}
	return b.String()
}

// ToName is the inverse of String: it parses a name back out of its string
// form, treating a trailing separator as the directory marker.
func ToName(s string) (Name, error) {
	var n Name
	if idx := strings.IndexByte(s, '%'); idx != -1 && !strings.ContainsAny(s[:idx], "{}/") {
		n.Project = s[:idx]
		s = s[idx+1:]
	}
	if strings.HasSuffix(s, "/") {
		n.Dir = s
		return n, nil
	}
	if idx := strings.IndexByte(s, '{'); idx != -1 && strings.HasSuffix(s, "}") {
		typ := s[idx+1 : len(s)-1]
		if strings.ContainsRune(typ, '{') || strings.ContainsRune(typ, '}') {
			return Name{}, &ErrInvalidPath{Path: s, Reason: "unbalanced type braces"}
		}
		typeStart := idxTypeStart(s, idx)
		n.Dir = s[:typeStart]
		n.Type = s[typeStart:idx]
		n.Value = typ
		return n, nil
	}
	if idx := strings.LastIndexByte(s, '/'); idx != -1 {
		n.Dir = s[:idx+1]
		n.Value = s[idx+1:]
		return n, nil
	}
	n.Value = s
	return n, nil
}

// idxTypeStart finds where the type identifier begins, immediately after
// the directory portion (if any) of s, ending at the '{' found at brace.
func idxTypeStart(s string, brace int) int {
	if idx := strings.LastIndexByte(s[:brace], '/'); idx != -1 {
		return idx + 1
	}
	return 0
}

// NormalizeDir normalizes a directory path: cleaned and always terminated
// with a trailing separator (empty input stays empty, denoting the root).
func NormalizeDir(p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if cleaned == "." {
		return ""
	}
	return strings.TrimPrefix(cleaned, "/") + "/"
}

// NormalizeFile normalizes a leaf (file) path: cleaned, never directory
// terminated.
func NormalizeFile(p string) string {
	cleaned := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	return strings.TrimPrefix(cleaned, "/")
}

// Join concatenates a directory and a relative leaf component, normalizing
// the result. It fails with ErrInvalidPath if child tries to escape via a
// leading absolute component.
func Join(dir, child string) (string, error) {
	if strings.HasPrefix(child, "/") {
		return "", &ErrInvalidPath{Path: child, Reason: "relative path has a leading absolute component"}
	}
	return path.Join(dir, child), nil
}

// Key is the 5-tuple identity used for target uniqueness (§3 "Target key").
// Equality of Key values is the identity used by the target graph's
// uniqueness map; callers resolve the Ext field before using a Key there
// (see target.TypeRegistry.ResolveExt).
type Key struct {
	Type      string
	DirOut    string
	DirSrcOut string
	Value     string
	Ext       string
}

// String gives a debug-friendly rendering of a target key, e.g.
// "cxx_binary{foo/bar/baz.o}" for DirOut "foo/bar/", Value "baz", Ext "o";
// an unspecified Ext renders as ".*".
func (k Key) String() string {
	ext := k.Ext
	if ext == "" {
		ext = "*"
	}
	return fmt.Sprintf("%s{%s%s%s}", k.Type, k.DirOut, k.Value, "."+ext)
}
