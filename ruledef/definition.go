// Package ruledef defines the serializable form of a rule set and compiles
// it into an evaluable ParseTree.
package ruledef

import (
	"fmt"
	"slices"

	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/registry"
)

// Diagnostic represents a validation error or warning produced by
// definition validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "RD-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// Node types.
const (
	TypeConstant     = "constant"
	TypeVariable     = "variable"
	TypeFunction     = "function"
	TypeForEachChild = "forEachChild"
	TypeIf           = "if"
	TypeCompare      = "compare"
	TypeLogic        = "logic"
	TypeMath         = "math"
	TypeSwitch       = "switch"
	TypeJoin         = "join"
)

var nodeTypes = []string{
	TypeConstant, TypeVariable, TypeFunction, TypeForEachChild, TypeIf,
	TypeCompare, TypeLogic, TypeMath, TypeSwitch, TypeJoin,
}

// Definition is the serializable representation of a rule set.
type Definition struct {
	Version   string          `json:"version,omitempty"`
	Enums     []core.EnumType `json:"enums,omitempty"`
	Variables []core.Variable `json:"variables,omitempty"`
	Rules     []Rule          `json:"rules"`
}

// Rule names one root node.
type Rule struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Root        *NodeDef `json:"root"`
}

// NodeDef is one serializable node. Which fields apply depends on Type:
//
//	constant      kind, value, enum (enum constants name a case in value)
//	variable      name
//	function      name, args
//	forEachChild  source, fn
//	if            cond, then, else
//	compare       op, left, right
//	logic         op (and, or, not), args
//	math          op, left, right
//	switch        source (the selector), cases, default, enum
//	join          separator, args
type NodeDef struct {
	Type      string         `json:"type"`
	Op        string         `json:"op,omitempty"`
	Value     any            `json:"value,omitempty"`
	Kind      core.ValueKind `json:"kind,omitempty"`
	Enum      string         `json:"enum,omitempty"`
	Name      string         `json:"name,omitempty"`
	Args      []*NodeDef     `json:"args,omitempty"`
	Cond      *NodeDef       `json:"cond,omitempty"`
	Then      *NodeDef       `json:"then,omitempty"`
	Else      *NodeDef       `json:"else,omitempty"`
	Source    *NodeDef       `json:"source,omitempty"`
	Fn        *NodeDef       `json:"fn,omitempty"`
	Left      *NodeDef       `json:"left,omitempty"`
	Right     *NodeDef       `json:"right,omitempty"`
	Cases     []CaseDef      `json:"cases,omitempty"`
	Default   *NodeDef       `json:"default,omitempty"`
	Separator string         `json:"separator,omitempty"`
}

// CaseDef is one switch case. Value is an integer or, for enum selectors,
// a case name.
type CaseDef struct {
	Value any      `json:"value"`
	Node  *NodeDef `json:"node"`
}

// WithDeclarations returns a copy of d that also declares the given enums
// and variables, skipping names d already declares.
func (d *Definition) WithDeclarations(enums []core.EnumType, vars []core.Variable) *Definition {
	out := *d
	out.Enums = slices.Clone(d.Enums)
	out.Variables = slices.Clone(d.Variables)
	for _, e := range enums {
		if !slices.ContainsFunc(out.Enums, func(x core.EnumType) bool { return x.Name == e.Name }) {
			out.Enums = append(out.Enums, e)
		}
	}
	for _, v := range vars {
		if !slices.ContainsFunc(out.Variables, func(x core.Variable) bool { return x.Name == v.Name }) {
			out.Variables = append(out.Variables, v)
		}
	}
	return &out
}

func (d *Definition) variable(name string) (core.Variable, bool) {
	for _, v := range d.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return core.Variable{}, false
}

func (d *Definition) hasEnum(name string) bool {
	return slices.ContainsFunc(d.Enums, func(e core.EnumType) bool { return e.Name == name })
}

// Validate checks structural integrity of the definition. It checks rules
// that can be verified without an operation library:
//   - RD-001: unknown node type
//   - RD-002: missing required field
//   - RD-003: duplicate rule name
//   - RD-004: reference to an undeclared enum or variable
//   - RD-005: unknown operator
//   - RD-006: forEachChild without a function (warning)
//
// Operation references are checked by ValidateWithLibrary.
func (d *Definition) Validate() []Diagnostic {
	var diags []Diagnostic

	if len(d.Rules) == 0 {
		diags = append(diags, Diagnostic{
			Code:     "RD-002",
			Severity: SeverityError,
			Message:  "Definition has no rules",
			Path:     "rules",
		})
	}

	seen := make(map[string]bool, len(d.Rules))
	for i, r := range d.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if r.Name == "" {
			diags = append(diags, missing(path+".name", "Rule name is required"))
		} else if seen[r.Name] {
			diags = append(diags, Diagnostic{
				Code:     "RD-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate rule name %q", r.Name),
				Path:     path + ".name",
			})
		}
		seen[r.Name] = true

		if r.Root == nil {
			diags = append(diags, missing(path+".root", "Rule root is required"))
			continue
		}
		diags = append(diags, d.validateNode(r.Root, path+".root")...)
	}
	return diags
}

// ValidateWithLibrary runs Validate and additionally checks that every
// function node names an operation of lib with a matching argument count:
//   - RD-007: unknown operation
//   - RD-008: argument count differs from the operation's arity
func (d *Definition) ValidateWithLibrary(lib registry.RuleDelegate) []Diagnostic {
	diags := d.Validate()
	if lib == nil {
		return diags
	}
	ops := make(map[string]registry.Operation)
	for _, op := range lib.Operations() {
		ops[op.Name] = op
	}
	for i, r := range d.Rules {
		visit(r.Root, fmt.Sprintf("rules[%d].root", i), func(nd *NodeDef, path string) {
			if nd.Type != TypeFunction || nd.Name == "" {
				return
			}
			op, ok := ops[nd.Name]
			if !ok {
				diags = append(diags, Diagnostic{
					Code:     "RD-007",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Unknown operation %q", nd.Name),
					Path:     path + ".name",
				})
				return
			}
			if len(nd.Args) != op.Arity() {
				diags = append(diags, Diagnostic{
					Code:     "RD-008",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Operation %s takes %d arguments, got %d", op.Signature(), op.Arity(), len(nd.Args)),
					Path:     path + ".args",
				})
			}
		})
	}
	return diags
}

func missing(path, msg string) Diagnostic {
	return Diagnostic{Code: "RD-002", Severity: SeverityError, Message: msg, Path: path}
}

func (d *Definition) validateNode(nd *NodeDef, path string) []Diagnostic {
	var diags []Diagnostic
	need := func(ok bool, field string) {
		if !ok {
			diags = append(diags, missing(path+"."+field, fmt.Sprintf("%s node requires %q", nd.Type, field)))
		}
	}
	badOp := func(valid []string) {
		if nd.Op == "" {
			need(false, "op")
			return
		}
		if !slices.Contains(valid, nd.Op) {
			diags = append(diags, Diagnostic{
				Code:     "RD-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Unknown %s operator %q", nd.Type, nd.Op),
				Path:     path + ".op",
			})
		}
	}
	undeclared := func(what, name, field string) {
		diags = append(diags, Diagnostic{
			Code:     "RD-004",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Undeclared %s %q", what, name),
			Path:     path + "." + field,
		})
	}

	switch nd.Type {
	case TypeConstant:
		need(nd.Kind != core.KindUndefined, "kind")
		need(nd.Value != nil, "value")
		if nd.Kind == core.KindEnum {
			need(nd.Enum != "", "enum")
			if nd.Enum != "" && !d.hasEnum(nd.Enum) {
				undeclared("enum", nd.Enum, "enum")
			}
		}
	case TypeVariable:
		need(nd.Name != "", "name")
		if nd.Name != "" {
			if _, ok := d.variable(nd.Name); !ok {
				undeclared("variable", nd.Name, "name")
			}
		}
	case TypeFunction:
		need(nd.Name != "", "name")
	case TypeForEachChild:
		need(nd.Source != nil, "source")
		if nd.Fn == nil {
			diags = append(diags, Diagnostic{
				Code:     "RD-006",
				Severity: SeverityWarning,
				Message:  "forEachChild has no function and will always produce an empty array",
				Path:     path + ".fn",
			})
		}
	case TypeIf:
		need(nd.Cond != nil, "cond")
		need(nd.Then != nil, "then")
	case TypeCompare:
		badOp([]string{"==", "!=", "<", "<=", ">", ">="})
		need(nd.Left != nil, "left")
		need(nd.Right != nil, "right")
	case TypeLogic:
		badOp([]string{"and", "or", "not"})
		need(len(nd.Args) > 0, "args")
	case TypeMath:
		badOp([]string{"+", "-", "*", "/", "%"})
		need(nd.Left != nil, "left")
		need(nd.Right != nil, "right")
	case TypeSwitch:
		need(nd.Source != nil, "source")
		need(len(nd.Cases) > 0 || nd.Default != nil, "cases")
		if nd.Enum != "" && !d.hasEnum(nd.Enum) {
			undeclared("enum", nd.Enum, "enum")
		}
		for i, c := range nd.Cases {
			cp := fmt.Sprintf("%s.cases[%d]", path, i)
			if c.Value == nil {
				diags = append(diags, missing(cp+".value", "switch case requires \"value\""))
			}
			if c.Node == nil {
				diags = append(diags, missing(cp+".node", "switch case requires \"node\""))
				continue
			}
			diags = append(diags, d.validateNode(c.Node, cp+".node")...)
		}
	case TypeJoin:
		need(len(nd.Args) > 0, "args")
	case "":
		need(false, "type")
		return diags
	default:
		diags = append(diags, Diagnostic{
			Code:     "RD-001",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Unknown node type %q (want one of %v)", nd.Type, nodeTypes),
			Path:     path + ".type",
		})
		return diags
	}

	for _, c := range nd.children() {
		if c.node != nil {
			diags = append(diags, d.validateNode(c.node, path+"."+c.field)...)
		}
	}
	return diags
}

type childRef struct {
	field string
	node  *NodeDef
}

// children lists the direct children of nd except switch cases.
func (nd *NodeDef) children() []childRef {
	var out []childRef
	for i, a := range nd.Args {
		out = append(out, childRef{fmt.Sprintf("args[%d]", i), a})
	}
	for _, c := range []childRef{
		{"cond", nd.Cond}, {"then", nd.Then}, {"else", nd.Else},
		{"source", nd.Source}, {"fn", nd.Fn},
		{"left", nd.Left}, {"right", nd.Right},
		{"default", nd.Default},
	} {
		if c.node != nil {
			out = append(out, c)
		}
	}
	return out
}

// visit calls fn for nd and every descendant, including switch cases.
func visit(nd *NodeDef, path string, fn func(*NodeDef, string)) {
	if nd == nil {
		return
	}
	fn(nd, path)
	for _, c := range nd.children() {
		visit(c.node, path+"."+c.field, fn)
	}
	for i, c := range nd.Cases {
		visit(c.Node, fmt.Sprintf("%s.cases[%d].node", path, i), fn)
	}
}
