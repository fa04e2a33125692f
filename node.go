package petalrules

import (
	"fmt"
	"strings"

	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/registry"
)

// Node is one unit of an immutable rule tree. Each node has a fixed kind that
// is decided when the Builder constructs it.
//
// The set of node types is closed: ConstantNode, VariableNode, FunctionNode,
// ForEachChildNode, IfNode, CompareNode, LogicNode, MathNode, SwitchNode and
// JoinNode. Resolution dispatches over them with a type switch.
type Node interface {
	// Kind returns the node's declared value kind.
	Kind() core.ValueKind

	// CanCoerceTo reports whether the node may be resolved as target.
	CanCoerceTo(target core.ValueKind) bool

	// String describes the node for diagnostics.
	String() string

	node() // marker
}

type baseNode struct {
	kind core.ValueKind
}

func (n baseNode) Kind() core.ValueKind { return n.kind }

func (n baseNode) CanCoerceTo(target core.ValueKind) bool {
	return n.kind.CanCoerceTo(target)
}

func (baseNode) node() {}

// ConstantNode is a literal value.
type ConstantNode struct {
	baseNode
	value core.Value
	enum  string
}

// Value returns the literal.
func (n *ConstantNode) Value() core.Value { return n.value }

func (n *ConstantNode) String() string {
	if n.kind == core.KindString {
		return fmt.Sprintf("%q", n.value.Str)
	}
	if n.enum != "" {
		return fmt.Sprintf("%s(%d)", n.enum, n.value.Int)
	}
	return n.value.String()
}

// VariableNode reads a declared variable from the variable delegate.
type VariableNode struct {
	baseNode
	variable core.Variable
}

// Variable returns the declaration the node reads.
func (n *VariableNode) Variable() core.Variable { return n.variable }

func (n *VariableNode) String() string {
	return "$" + n.variable.Name
}

// FunctionNode invokes a rule operation with resolved argument values.
type FunctionNode struct {
	baseNode
	op   registry.Operation
	args []Node
}

// Operation returns the bound operation.
func (n *FunctionNode) Operation() registry.Operation { return n.op }

func (n *FunctionNode) String() string {
	args := make([]string, len(n.args))
	for i, a := range n.args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", n.op.Name, strings.Join(args, ", "))
}

// ForEachChildNode evaluates a bound function against every child delegate
// produced by its source and collects the results as an array. The function
// is attached after construction with Builder.BindFunction.
type ForEachChildNode struct {
	baseNode
	source Node
	fn     Node
}

// Bound reports whether a per-child function has been attached.
func (n *ForEachChildNode) Bound() bool { return n.fn != nil }

func (n *ForEachChildNode) String() string {
	fn := "<unbound>"
	if n.fn != nil {
		fn = n.fn.String()
	}
	return fmt.Sprintf("forEachChild(%s, %s)", n.source, fn)
}

// IfNode selects between two branches on a boolean condition. A missing
// else branch resolves to the zero value of the node's kind.
type IfNode struct {
	baseNode
	cond Node
	then Node
	els  Node
}

func (n *IfNode) String() string {
	if n.els == nil {
		return fmt.Sprintf("if(%s, %s)", n.cond, n.then)
	}
	return fmt.Sprintf("if(%s, %s, %s)", n.cond, n.then, n.els)
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEqual        CompareOp = "=="
	OpNotEqual     CompareOp = "!="
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
)

// Ordered reports whether the operator needs ordered (numeric) operands.
func (op CompareOp) Ordered() bool {
	switch op {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	default:
		return false
	}
}

func (op CompareOp) valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	default:
		return false
	}
}

// CompareNode compares two operands and resolves to a boolean.
type CompareNode struct {
	baseNode
	op          CompareOp
	left, right Node
	operandKind core.ValueKind
}

func (n *CompareNode) String() string {
	return fmt.Sprintf("(%s %s %s)", n.left, n.op, n.right)
}

// LogicOp is a boolean operator.
type LogicOp string

const (
	OpAnd LogicOp = "and"
	OpOr  LogicOp = "or"
	OpNot LogicOp = "not"
)

// LogicNode combines boolean operands. And and Or short-circuit.
type LogicNode struct {
	baseNode
	op       LogicOp
	operands []Node
}

func (n *LogicNode) String() string {
	parts := make([]string, len(n.operands))
	for i, o := range n.operands {
		parts[i] = o.String()
	}
	return fmt.Sprintf("%s(%s)", n.op, strings.Join(parts, ", "))
}

// MathOp is an arithmetic operator.
type MathOp string

const (
	OpAdd      MathOp = "+"
	OpSubtract MathOp = "-"
	OpMultiply MathOp = "*"
	OpDivide   MathOp = "/"
	OpModulo   MathOp = "%"
)

func (op MathOp) valid() bool {
	switch op {
	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo:
		return true
	default:
		return false
	}
}

// MathNode applies an arithmetic operator. It is Integer when both operands
// are Integer and Number otherwise.
type MathNode struct {
	baseNode
	op          MathOp
	left, right Node
}

func (n *MathNode) String() string {
	return fmt.Sprintf("(%s %s %s)", n.left, n.op, n.right)
}

// SwitchCase pairs a selector value with the node resolved when it matches.
type SwitchCase struct {
	Value int
	Node  Node
}

// SwitchNode picks a case by the integer or enum value of its selector.
type SwitchNode struct {
	baseNode
	selector Node
	cases    map[int]Node
	order    []int
	def      Node
}

func (n *SwitchNode) String() string {
	return fmt.Sprintf("switch(%s, %d cases)", n.selector, len(n.cases))
}

// JoinNode concatenates string and array parts, skipping empty ones.
type JoinNode struct {
	baseNode
	separator string
	parts     []Node
}

func (n *JoinNode) String() string {
	parts := make([]string, len(n.parts))
	for i, p := range n.parts {
		parts[i] = p.String()
	}
	return fmt.Sprintf("join(%q, %s)", n.separator, strings.Join(parts, ", "))
}

// Ensure interface compliance at compile time.
var (
	_ Node = (*ConstantNode)(nil)
	_ Node = (*VariableNode)(nil)
	_ Node = (*FunctionNode)(nil)
	_ Node = (*ForEachChildNode)(nil)
	_ Node = (*IfNode)(nil)
	_ Node = (*CompareNode)(nil)
	_ Node = (*LogicNode)(nil)
	_ Node = (*MathNode)(nil)
	_ Node = (*SwitchNode)(nil)
	_ Node = (*JoinNode)(nil)
)
