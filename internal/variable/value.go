// Package variable implements the engine's typed variable system (§4.B):
// an interned, append-only pool of variable descriptors, typed values,
// visibility rules, and the prepend/append/override machinery used by
// target-type and pattern-specific values.
package variable

import (
	"fmt"
	"strings"
)

// Kind identifies the static type of a Value, mirroring the type set in
// §3: bool, uint64, string, path, dir_path, abs_dir_path, name, name_pair,
// target_triplet, project_name, their vectors, and an untyped "names".
type Kind int

const (
	// KindNull is the type of an explicitly-cleared or never-set value.
	KindNull Kind = iota
	KindBool
	KindUint64
	KindString
	KindPath
	KindDirPath
	KindAbsDirPath
	KindTargetName
	KindNamePair
	KindTargetTriplet
	KindProjectName
	// KindNames is the untyped list form used for flat "a@b"-pair lists.
	KindNames
)

var kindNames = map[Kind]string{
	KindNull:          "null",
	KindBool:          "bool",
	KindUint64:        "uint64",
	KindString:        "string",
	KindPath:          "path",
	KindDirPath:       "dir_path",
	KindAbsDirPath:    "abs_dir_path",
	KindTargetName:    "name",
	KindNamePair:      "name_pair",
	KindTargetTriplet: "target_triplet",
	KindProjectName:   "project_name",
	KindNames:         "names",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a typed (or null) variable value. Scalars are stored directly;
// vector values set List and use Items. A null value (Kind==KindNull) is
// distinct from an absent value: it is the explicit "clear" written by an
// assignment of null (§4.B "null propagation rules").
type Value struct {
	Kind  Kind
	List  bool
	Scalar string
	Items  []string
}

// IsNull reports whether v represents an explicit null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// String renders the value the way it would appear in a buildfile dump:
// bare for scalars, comma-separated and bracketed for lists.
func (v Value) String() string {
	if v.IsNull() {
		return "null"
	}
	if !v.List {
		return v.Scalar
	}
	return "[" + strings.Join(v.Items, ", ") + "]"
}

// Null returns the canonical null value.
func Null() Value { return Value{Kind: KindNull} }

// NewScalar constructs a scalar value of the given kind.
func NewScalar(kind Kind, s string) Value { return Value{Kind: kind, Scalar: s} }

// NewList constructs a vector value of the given kind.
func NewList(kind Kind, items []string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{Kind: kind, List: true, Items: cp}
}

// ErrTypeConflict is returned when two values or variable declarations of
// incompatible Kind collide (spec: type_conflict).
type ErrTypeConflict struct {
	Name     string
	Previous Kind
	New      Kind
}

func (e *ErrTypeConflict) Error() string {
	return fmt.Sprintf("type conflict for %q: previously %s, now %s", e.Name, e.Previous, e.New)
}

// Concat implements assign/prepend/append of one value onto a stem,
// honouring the null-propagation rules: null prepended/appended to anything
// is a no-op; with Assign the addition replaces the stem, so assigning null
// clears it. For Prepend/Append, Concat fails with ErrTypeConflict if both
// sides are non-null and their Kinds differ.
func Concat(stem, addition Value, flag ExtraFlag) (Value, error) {
	if flag == Assign {
		if addition.IsNull() {
			return Null(), nil
		}
		return addition, nil
	}
	if addition.IsNull() {
		return stem, nil // no-op
	}
	if stem.IsNull() {
		return addition, nil
	}
	if stem.Kind != addition.Kind {
		return Value{}, &ErrTypeConflict{Name: "<concat>", Previous: stem.Kind, New: addition.Kind}
	}
	stemItems := stem.Items
	if !stem.List {
		stemItems = []string{stem.Scalar}
	}
	addItems := addition.Items
	if !addition.List {
		addItems = []string{addition.Scalar}
	}
	var merged []string
	switch flag {
	case Prepend:
		merged = append(append([]string{}, addItems...), stemItems...)
	case Append:
		merged = append(append([]string{}, stemItems...), addItems...)
	default:
		return Value{}, fmt.Errorf("unknown extra flag %d", flag)
	}
	if !stem.List && !addition.List && len(merged) == 1 {
		return NewScalar(stem.Kind, merged[0]), nil
	}
	return NewList(stem.Kind, merged), nil
}

// ExtraFlag is the "extra" flag carried by a target-type/pattern-specific
// value: whether assignment replaces, prepends to, or appends to the next
// outward stem value (§4.B "Prepend/append semantics").
type ExtraFlag int

const (
	Assign ExtraFlag = iota
	Prepend
	Append
)

func (f ExtraFlag) String() string {
	switch f {
	case Assign:
		return "assign"
	case Prepend:
		return "prepend"
	case Append:
		return "append"
	default:
		return "unknown"
	}
}

// TypeValue pairs a Value with the extra flag that controls how it
// combines with the stem value found further outward.
type TypeValue struct {
	Value Value
	Extra ExtraFlag
}
