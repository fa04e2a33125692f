package petalrules

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/registry"
)

// ResolveToBoolean resolves n against d as a boolean. A node that cannot be
// resolved as a boolean yields false and a diagnostic.
func (t *Trace) ResolveToBoolean(n Node, d core.VariableDelegate) bool {
	return t.resolve(n, core.KindBoolean, d).Bool
}

// ResolveToInteger resolves n against d as an integer, or 0 on failure.
func (t *Trace) ResolveToInteger(n Node, d core.VariableDelegate) int {
	return t.resolve(n, core.KindInteger, d).Int
}

// ResolveToNumber resolves n against d as a real number, widening Integer
// nodes, or 0 on failure.
func (t *Trace) ResolveToNumber(n Node, d core.VariableDelegate) float64 {
	return t.resolve(n, core.KindNumber, d).Num
}

// ResolveToString resolves n against d as a string, or "" on failure.
func (t *Trace) ResolveToString(n Node, d core.VariableDelegate) string {
	return t.resolve(n, core.KindString, d).Str
}

// ResolveToEnum resolves n against d as an enum value, or 0 on failure.
func (t *Trace) ResolveToEnum(n Node, d core.VariableDelegate) int {
	return t.resolve(n, core.KindEnum, d).Int
}

// ResolveToArray resolves n against d as an array of display values. The
// result is never nil.
func (t *Trace) ResolveToArray(n Node, d core.VariableDelegate) []string {
	return t.resolve(n, core.KindArray, d).Arr
}

// ResolveToChildArray resolves a Child-Array node into the ordered child
// delegates of d. Ownership of every returned delegate passes to the caller,
// who must Release each one exactly once.
func (t *Trace) ResolveToChildArray(n Node, d core.VariableDelegate) []core.VariableDelegate {
	if n == nil {
		t.degrade(nil, CodeMissingNode, "no node to resolve as %s", core.KindChildArray)
		return nil
	}
	if n.Kind() != core.KindChildArray {
		t.degrade(n, CodeKindMismatch, "%s node cannot be resolved as %s", n.Kind(), core.KindChildArray)
		return nil
	}

	c := t.child()
	switch n := n.(type) {
	case *VariableNode:
		if d == nil {
			t.degrade(n, CodeNoDelegate, "no variable delegate to read %s", n.variable.Name)
			return nil
		}
		children, err := readChildren(d, n.variable.ID)
		if err != nil {
			for _, ch := range children {
				if ch != nil {
					ch.Release()
				}
			}
			t.degrade(n, CodeDelegateError, "enumerating %s: %v", n.variable.Name, err)
			return nil
		}
		return children

	case *IfNode:
		if c.ResolveToBoolean(n.cond, d) {
			return c.ResolveToChildArray(n.then, d)
		}
		if n.els == nil {
			return nil
		}
		return c.ResolveToChildArray(n.els, d)

	case *SwitchNode:
		branch := c.selectCase(n, d)
		if branch == nil {
			return nil
		}
		return c.ResolveToChildArray(branch, d)

	default:
		t.degrade(n, CodeKindMismatch, "%T cannot produce child delegates", n)
		return nil
	}
}

// resolve evaluates n and returns a present value of kind want. Every failure
// path returns core.Zero(want).
func (t *Trace) resolve(n Node, want core.ValueKind, d core.VariableDelegate) core.Value {
	if n == nil {
		t.degrade(nil, CodeMissingNode, "no node to resolve as %s", want)
		return core.Zero(want)
	}
	if want == core.KindChildArray || !n.CanCoerceTo(want) {
		t.degrade(n, CodeKindMismatch, "%s node cannot be resolved as %s", n.Kind(), want)
		return core.Zero(want)
	}

	v := t.value(n, d)
	if want == core.KindNumber && v.Kind == core.KindInteger {
		v = core.Num(float64(v.Int))
	}
	t.debug(n, want, v)
	return v
}

// value evaluates n as its own kind.
func (t *Trace) value(n Node, d core.VariableDelegate) core.Value {
	switch n := n.(type) {
	case *ConstantNode:
		if n.value.Kind == core.KindArray {
			return core.Arr(slices.Clone(n.value.Arr))
		}
		return n.value
	case *VariableNode:
		return t.variable(n, d)
	case *FunctionNode:
		return t.function(n, d)
	case *ForEachChildNode:
		return t.forEachChild(n, d)
	case *IfNode:
		return t.ifElse(n, d)
	case *CompareNode:
		return t.compare(n, d)
	case *LogicNode:
		return t.logic(n, d)
	case *MathNode:
		return t.math(n, d)
	case *SwitchNode:
		return t.switchCase(n, d)
	case *JoinNode:
		return t.join(n, d)
	default:
		t.degrade(n, CodeMissingNode, "unknown node type %T", n)
		return core.Zero(n.Kind())
	}
}

func (t *Trace) variable(n *VariableNode, d core.VariableDelegate) core.Value {
	if d == nil {
		t.degrade(n, CodeNoDelegate, "no variable delegate to read %s", n.variable.Name)
		return core.Zero(n.kind)
	}
	v, err := readVariable(d, n.variable)
	if err != nil {
		t.degrade(n, CodeDelegateError, "reading %s: %v", n.variable.Name, err)
		return core.Zero(n.kind)
	}
	return v
}

func readVariable(d core.VariableDelegate, v core.Variable) (val core.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = core.None(), fmt.Errorf("delegate panicked: %v", r)
		}
	}()

	switch v.Kind {
	case core.KindBoolean:
		b, err := d.Boolean(v.ID)
		return core.Bool(b), err
	case core.KindInteger:
		i, err := d.Integer(v.ID)
		return core.Int(i), err
	case core.KindNumber:
		f, err := d.Number(v.ID)
		return core.Num(f), err
	case core.KindString:
		s, err := d.String(v.ID)
		return core.Str(s), err
	case core.KindEnum:
		e, err := d.Enum(v.ID)
		return core.Enum(e), err
	case core.KindArray:
		a, err := d.Array(v.ID)
		return core.Arr(a), err
	default:
		return core.None(), fmt.Errorf("variable kind %s has no scalar value", v.Kind)
	}
}

func readChildren(d core.VariableDelegate, id core.VariableID) (children []core.VariableDelegate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delegate panicked: %v", r)
		}
	}()
	return d.Children(id)
}

// function resolves every argument left to right, then invokes the
// operation. Operation errors and absent results collapse to the zero value.
func (t *Trace) function(n *FunctionNode, d core.VariableDelegate) core.Value {
	c := t.child()
	args := make([]core.Value, len(n.args))
	for i, arg := range n.args {
		args[i] = c.resolve(arg, n.op.Params[i], d)
	}

	v, err := invoke(n.op, registry.Call{Delegate: d, Args: args})
	if err != nil {
		t.degrade(n, CodeOperationFailed, "%s: %v", n.op.Name, err)
		return core.Zero(n.kind)
	}
	if !v.Present {
		return core.Zero(n.kind)
	}

	switch {
	case v.Kind == n.kind:
		if v.Kind == core.KindArray && v.Arr == nil {
			return core.Arr(nil)
		}
		return v
	case n.kind == core.KindNumber && v.Kind == core.KindInteger:
		return core.Num(float64(v.Int))
	case n.kind == core.KindString && v.Kind != core.KindUndefined:
		return core.Str(v.String())
	default:
		t.degrade(n, CodeReturnMismatch, "%s returned %s, declared %s", n.op.Name, v.Kind, n.kind)
		return core.Zero(n.kind)
	}
}

func invoke(op registry.Operation, call registry.Call) (v core.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = core.None(), fmt.Errorf("panic: %v", r)
		}
	}()
	return op.Fn(call)
}

// forEachChild evaluates the bound function against each child, releasing
// every child as soon as its result is collected. Children not yet visited
// are released if the loop exits early.
func (t *Trace) forEachChild(n *ForEachChildNode, d core.VariableDelegate) core.Value {
	if n.fn == nil {
		t.degrade(n, CodeUnboundFunction, "no function bound")
		return core.Arr(nil)
	}

	c := t.child()
	children := c.ResolveToChildArray(n.source, d)
	next := 0
	defer func() {
		for _, ch := range children[next:] {
			if ch != nil {
				ch.Release()
			}
		}
	}()

	out := make([]string, 0, len(children))
	for i, ch := range children {
		next = i + 1
		if ch == nil {
			c.degrade(n, CodeNilChild, "child %d is nil", i)
			out = append(out, "")
			continue
		}
		out = append(out, c.eachChild(n.fn, ch))
	}
	return core.Arr(out)
}

func (t *Trace) eachChild(fn Node, child core.VariableDelegate) (s string) {
	defer child.Release()
	defer func() {
		if r := recover(); r != nil {
			t.degrade(fn, CodeEvaluationPanic, "panic: %v", r)
			s = ""
		}
	}()
	return t.resolve(fn, core.KindString, child).Str
}

func (t *Trace) ifElse(n *IfNode, d core.VariableDelegate) core.Value {
	c := t.child()
	if c.ResolveToBoolean(n.cond, d) {
		return c.resolve(n.then, n.kind, d)
	}
	if n.els == nil {
		return core.Zero(n.kind)
	}
	return c.resolve(n.els, n.kind, d)
}

func (t *Trace) compare(n *CompareNode, d core.VariableDelegate) core.Value {
	c := t.child()
	switch n.operandKind {
	case core.KindInteger:
		l, r := c.ResolveToInteger(n.left, d), c.ResolveToInteger(n.right, d)
		return core.Bool(holds(n.op, cmp.Compare(l, r)))
	case core.KindNumber:
		l, r := c.ResolveToNumber(n.left, d), c.ResolveToNumber(n.right, d)
		if math.IsNaN(l) || math.IsNaN(r) {
			return core.Bool(n.op == OpNotEqual)
		}
		return core.Bool(holds(n.op, cmp.Compare(l, r)))
	case core.KindString:
		l, r := c.ResolveToString(n.left, d), c.ResolveToString(n.right, d)
		return core.Bool(holds(n.op, strings.Compare(l, r)))
	case core.KindBoolean:
		l, r := c.ResolveToBoolean(n.left, d), c.ResolveToBoolean(n.right, d)
		return core.Bool((l == r) == (n.op == OpEqual))
	case core.KindEnum:
		l, r := c.ResolveToEnum(n.left, d), c.ResolveToEnum(n.right, d)
		return core.Bool(holds(n.op, cmp.Compare(l, r)))
	default:
		t.degrade(n, CodeKindMismatch, "cannot compare %s operands", n.operandKind)
		return core.Bool(false)
	}
}

// holds reports whether op is satisfied by a three-way comparison result.
func holds(op CompareOp, c int) bool {
	switch op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	default:
		return false
	}
}

func (t *Trace) logic(n *LogicNode, d core.VariableDelegate) core.Value {
	c := t.child()
	switch n.op {
	case OpNot:
		return core.Bool(!c.ResolveToBoolean(n.operands[0], d))
	case OpAnd:
		for _, o := range n.operands {
			if !c.ResolveToBoolean(o, d) {
				return core.Bool(false)
			}
		}
		return core.Bool(true)
	case OpOr:
		for _, o := range n.operands {
			if c.ResolveToBoolean(o, d) {
				return core.Bool(true)
			}
		}
		return core.Bool(false)
	default:
		t.degrade(n, CodeKindMismatch, "unknown logic operator %q", n.op)
		return core.Bool(false)
	}
}

func (t *Trace) math(n *MathNode, d core.VariableDelegate) core.Value {
	c := t.child()
	if n.kind == core.KindInteger {
		l, r := c.ResolveToInteger(n.left, d), c.ResolveToInteger(n.right, d)
		switch n.op {
		case OpAdd:
			return core.Int(l + r)
		case OpSubtract:
			return core.Int(l - r)
		case OpMultiply:
			return core.Int(l * r)
		case OpDivide, OpModulo:
			if r == 0 {
				t.degrade(n, CodeDivisionByZero, "integer %s by zero", n.op)
				return core.Int(0)
			}
			if n.op == OpDivide {
				return core.Int(l / r)
			}
			return core.Int(l % r)
		}
	} else {
		l, r := c.ResolveToNumber(n.left, d), c.ResolveToNumber(n.right, d)
		switch n.op {
		case OpAdd:
			return core.Num(l + r)
		case OpSubtract:
			return core.Num(l - r)
		case OpMultiply:
			return core.Num(l * r)
		case OpDivide, OpModulo:
			if r == 0 {
				t.degrade(n, CodeDivisionByZero, "%s by zero", n.op)
				return core.Num(0)
			}
			if n.op == OpDivide {
				return core.Num(l / r)
			}
			return core.Num(math.Mod(l, r))
		}
	}
	t.degrade(n, CodeKindMismatch, "unknown math operator %q", n.op)
	return core.Zero(n.kind)
}

// selectCase resolves the selector and returns the matching case, the
// default, or nil.
func (t *Trace) selectCase(n *SwitchNode, d core.VariableDelegate) Node {
	var sel int
	if n.selector.Kind() == core.KindEnum {
		sel = t.ResolveToEnum(n.selector, d)
	} else {
		sel = t.ResolveToInteger(n.selector, d)
	}
	if branch, ok := n.cases[sel]; ok {
		return branch
	}
	return n.def
}

func (t *Trace) switchCase(n *SwitchNode, d core.VariableDelegate) core.Value {
	c := t.child()
	branch := c.selectCase(n, d)
	if branch == nil {
		return core.Zero(n.kind)
	}
	return c.resolve(branch, n.kind, d)
}

func (t *Trace) join(n *JoinNode, d core.VariableDelegate) core.Value {
	c := t.child()
	parts := make([]string, 0, len(n.parts))
	for _, p := range n.parts {
		if p.CanCoerceTo(core.KindString) {
			if s := c.ResolveToString(p, d); s != "" {
				parts = append(parts, s)
			}
			continue
		}
		for _, s := range c.ResolveToArray(p, d) {
			if s != "" {
				parts = append(parts, s)
			}
		}
	}
	return core.Str(strings.Join(parts, n.separator))
}
