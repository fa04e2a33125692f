// Package petalrules is a declarative rule-evaluation engine. A rule tree of
// typed nodes is built once with a Builder and then resolved, as many times
// and from as many goroutines as needed, against VariableDelegates that each
// describe one UI element.
//
// This file re-exports the core types so that most callers only need to
// import this package:
//
//	import "github.com/petal-labs/petalrules"
//	import "github.com/petal-labs/petalrules/registry"
package petalrules

import (
	"github.com/petal-labs/petalrules/core"
)

// =============================================================================
// Core Package Re-exports
// =============================================================================

type (
	// ValueKind identifies the type of value a node resolves to.
	ValueKind = core.ValueKind

	// Value is a tagged value exchanged with rule operations.
	Value = core.Value

	// VariableDelegate is the per-element context a tree is evaluated against.
	VariableDelegate = core.VariableDelegate

	// VariableID identifies a variable exposed by a VariableDelegate.
	VariableID = core.VariableID

	// Variable declares a named variable with its id and kind.
	Variable = core.Variable

	// EnumType declares a named enumeration.
	EnumType = core.EnumType

	// BuildError describes a structural failure while constructing a node.
	BuildError = core.BuildError
)

const (
	KindBoolean    = core.KindBoolean
	KindInteger    = core.KindInteger
	KindNumber     = core.KindNumber
	KindString     = core.KindString
	KindEnum       = core.KindEnum
	KindArray      = core.KindArray
	KindChildArray = core.KindChildArray
)

// =============================================================================
// Convenience Functions
// =============================================================================

// Evaluate resolves a named rule of tree against root as the requested kind
// and returns only the typed value. Use ParseTree.Evaluate to also receive
// the diagnostics.
func Evaluate(tree *ParseTree, rule string, root VariableDelegate, kind ValueKind) Value {
	return tree.Evaluate(rule, root, kind).Value
}
