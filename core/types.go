// Package core provides the foundational types shared by the PetalRules
// evaluation engine.
//
// This package contains:
//   - The value kind registry: ValueKind and its coercion graph
//   - Value: the tagged, optional-aware value exchanged with rule operations
//   - VariableDelegate: the per-element context contract
//   - Build-time errors raised while constructing a rule tree
package core

import "fmt"

// ValueKind identifies the type of value a node resolves to.
// The set of kinds is closed; rule trees cannot introduce new ones.
type ValueKind string

const (
	KindUndefined  ValueKind = ""
	KindBoolean    ValueKind = "boolean"
	KindInteger    ValueKind = "integer"
	KindNumber     ValueKind = "number"
	KindString     ValueKind = "string"
	KindEnum       ValueKind = "enum"
	KindArray      ValueKind = "array"
	KindChildArray ValueKind = "child_array"
)

// Kinds lists every defined value kind in declaration order.
var Kinds = []ValueKind{
	KindBoolean,
	KindInteger,
	KindNumber,
	KindString,
	KindEnum,
	KindArray,
	KindChildArray,
}

// String returns the string representation of the ValueKind.
func (k ValueKind) String() string {
	if k == KindUndefined {
		return "undefined"
	}
	return string(k)
}

// Valid reports whether k is one of the defined kinds.
func (k ValueKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// CanCoerceTo reports whether a value of kind k may be used where target is
// expected. Integer widening to Number is the only implicit conversion.
func (k ValueKind) CanCoerceTo(target ValueKind) bool {
	if !k.Valid() || !target.Valid() {
		return false
	}
	if k == target {
		return true
	}
	return k == KindInteger && target == KindNumber
}

// ParseValueKind converts a kind name into a ValueKind.
func ParseValueKind(s string) (ValueKind, error) {
	k := ValueKind(s)
	if !k.Valid() {
		return KindUndefined, fmt.Errorf("unknown value kind %q", s)
	}
	return k, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so kinds can be read
// directly from rule files.
func (k *ValueKind) UnmarshalText(text []byte) error {
	parsed, err := ParseValueKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
