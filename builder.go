package petalrules

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/registry"
)

// Option configures a Builder and the ParseTree it produces.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	handler      EventHandler
	traceLogging bool
}

// WithLogger sets the logger used for evaluation diagnostics.
// If nil, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventHandler sets the handler that receives evaluation events.
// The handler may be called from concurrent evaluations.
func WithEventHandler(h EventHandler) Option {
	return func(o *options) { o.handler = h }
}

// WithTraceLogging enables per-node debug logging of every resolution,
// indented by tree depth.
func WithTraceLogging(enabled bool) Option {
	return func(o *options) { o.traceLogging = enabled }
}

// Builder constructs rule trees. It is the only way to create nodes, so every
// node it returns has passed its structural validation. A Builder is not safe
// for concurrent use; the ParseTree it builds is.
//
// Example usage:
//
//	b, _ := petalrules.NewBuilder(lib)
//	_ = b.DeclareVariable(core.Variable{Name: "children", ID: 1, Kind: core.KindChildArray})
//	src, _ := b.Variable("children")
//	each, _ := b.ForEachChild(src)
//	label, _ := b.Function("getLabel")
//	_ = b.BindFunction(each, label)
//	_ = b.AddRule("labels", each)
//	tree, err := b.Build()
type Builder struct {
	ops       map[string]registry.Operation
	variables map[string]core.Variable
	ids       map[core.VariableID]string
	enums     map[string]core.EnumType
	rules     map[string]Node
	order     []string
	created   map[Node]bool
	owned     map[Node]bool
	opts      options
	built     bool
}

// NewBuilder creates a builder bound to the operations of a rule delegate.
// The delegate's operations are mapped to their signatures once, here.
func NewBuilder(delegate registry.RuleDelegate, opts ...Option) (*Builder, error) {
	b := &Builder{
		ops:       make(map[string]registry.Operation),
		variables: make(map[string]core.Variable),
		ids:       make(map[core.VariableID]string),
		enums:     make(map[string]core.EnumType),
		rules:     make(map[string]Node),
		created:   make(map[Node]bool),
		owned:     make(map[Node]bool),
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	if b.opts.logger == nil {
		b.opts.logger = slog.Default()
	}

	if delegate != nil {
		for _, op := range delegate.Operations() {
			if _, exists := b.ops[op.Name]; exists {
				return nil, core.NewBuildError(fmt.Sprintf("operation %q", op.Name), core.ErrDuplicateDeclaration, "declared twice by rule delegate")
			}
			b.ops[op.Name] = op
		}
	}
	return b, nil
}

// DeclareEnum registers an enum type for enum variables, constants and
// switch cases.
func (b *Builder) DeclareEnum(e core.EnumType) error {
	desc := fmt.Sprintf("enum %q", e.Name)
	if e.Name == "" {
		return core.NewBuildError(desc, core.ErrUnknownEnum, "enum name is required")
	}
	if _, exists := b.enums[e.Name]; exists {
		return core.NewBuildError(desc, core.ErrDuplicateDeclaration, "enum declared twice")
	}
	seen := make(map[int]string, len(e.Cases))
	for name, v := range e.Cases {
		if prev, dup := seen[v]; dup {
			return core.NewBuildError(desc, core.ErrDuplicateDeclaration, "cases %q and %q share value %d", prev, name, v)
		}
		seen[v] = name
	}
	b.enums[e.Name] = e
	return nil
}

// DeclareVariable maps a variable name to its delegate id and kind.
func (b *Builder) DeclareVariable(v core.Variable) error {
	desc := fmt.Sprintf("variable %q", v.Name)
	if v.Name == "" {
		return core.NewBuildError(desc, core.ErrUnknownVariable, "variable name is required")
	}
	if !v.Kind.Valid() {
		return core.NewBuildError(desc, core.ErrUnsupportedReturnKind, "kind %s is not a value kind", v.Kind)
	}
	if _, exists := b.variables[v.Name]; exists {
		return core.NewBuildError(desc, core.ErrDuplicateDeclaration, "variable declared twice")
	}
	if other, exists := b.ids[v.ID]; exists {
		return core.NewBuildError(desc, core.ErrDuplicateDeclaration, "id %d already used by %q", v.ID, other)
	}
	if v.Kind == core.KindEnum {
		if _, ok := b.enums[v.Enum]; !ok {
			return core.NewBuildError(desc, core.ErrUnknownEnum, "enum %q is not declared", v.Enum)
		}
	}
	b.variables[v.Name] = v
	b.ids[v.ID] = v.Name
	return nil
}

// EnumValue returns the integer value of an enum case.
func (b *Builder) EnumValue(enum, caseName string) (int, error) {
	e, ok := b.enums[enum]
	if !ok {
		return 0, core.NewBuildError(fmt.Sprintf("enum %q", enum), core.ErrUnknownEnum, "enum is not declared")
	}
	v, ok := e.Cases[caseName]
	if !ok {
		return 0, core.NewBuildError(fmt.Sprintf("enum %q", enum), core.ErrUnknownEnum, "no case %q", caseName)
	}
	return v, nil
}

// Bool creates a Boolean constant.
func (b *Builder) Bool(v bool) *ConstantNode { return b.constant(core.Bool(v), "") }

// Int creates an Integer constant.
func (b *Builder) Int(v int) *ConstantNode { return b.constant(core.Int(v), "") }

// Num creates a Number constant.
func (b *Builder) Num(v float64) *ConstantNode { return b.constant(core.Num(v), "") }

// Str creates a String constant.
func (b *Builder) Str(v string) *ConstantNode { return b.constant(core.Str(v), "") }

// Strings creates an Array constant.
func (b *Builder) Strings(v ...string) *ConstantNode {
	return b.constant(core.Arr(slices.Clone(v)), "")
}

// EnumConstant creates an Enum constant from a declared case.
func (b *Builder) EnumConstant(enum, caseName string) (*ConstantNode, error) {
	v, err := b.EnumValue(enum, caseName)
	if err != nil {
		return nil, err
	}
	return b.constant(core.Enum(v), enum), nil
}

func (b *Builder) constant(v core.Value, enum string) *ConstantNode {
	return track(b, &ConstantNode{baseNode: baseNode{kind: v.Kind}, value: v, enum: enum})
}

// track records n as constructed by b so that only b's own nodes can be
// wired into its trees.
func track[N Node](b *Builder, n N) N {
	b.created[n] = true
	return n
}

// Variable creates a lookup of a declared variable.
func (b *Builder) Variable(name string) (*VariableNode, error) {
	v, ok := b.variables[name]
	if !ok {
		return nil, core.NewBuildError(fmt.Sprintf("variable %q", name), core.ErrUnknownVariable, "variable is not declared")
	}
	return track(b, &VariableNode{baseNode: baseNode{kind: v.Kind}, variable: v}), nil
}

// Function creates a call to a named rule operation. The argument count must
// match the operation's arity and each argument must coerce to its formal
// parameter kind. The node's kind is the operation's return kind.
func (b *Builder) Function(name string, args ...Node) (*FunctionNode, error) {
	desc := fmt.Sprintf("function %q", name)
	op, ok := b.ops[name]
	if !ok {
		return nil, core.NewBuildError(desc, core.ErrUnknownOperation, "rule delegate has no such operation")
	}
	if !returnKindSupported(op.Return) {
		return nil, core.NewBuildError(desc, core.ErrUnsupportedReturnKind, "operation returns %s", op.Return)
	}
	if len(args) != op.Arity() {
		return nil, core.NewBuildError(desc, core.ErrArityMismatch, "expected %d arguments, got %d", op.Arity(), len(args))
	}
	for i, arg := range args {
		if arg == nil {
			return nil, core.NewBuildError(desc, core.ErrArgumentKindMismatch, "argument %d is nil", i)
		}
		if !arg.CanCoerceTo(op.Params[i]) {
			return nil, core.NewBuildError(desc, core.ErrArgumentKindMismatch,
				"argument %d is %s and cannot be used as %s", i, arg.Kind(), op.Params[i])
		}
	}
	if err := b.adopt(desc, args...); err != nil {
		return nil, err
	}
	return track(b, &FunctionNode{
		baseNode: baseNode{kind: op.Return},
		op:       op,
		args:     slices.Clone(args),
	}), nil
}

func returnKindSupported(k core.ValueKind) bool {
	switch k {
	case core.KindBoolean, core.KindInteger, core.KindNumber, core.KindString, core.KindArray:
		return true
	default:
		return false
	}
}

// ForEachChild creates an iteration over the child delegates produced by
// source, which must be a Child-Array node. The per-child function is
// attached afterwards with BindFunction.
func (b *Builder) ForEachChild(source Node) (*ForEachChildNode, error) {
	const desc = "forEachChild"
	if source == nil {
		return nil, core.NewBuildError(desc, core.ErrInvalidChildSource, "source is nil")
	}
	if source.Kind() != core.KindChildArray {
		return nil, core.NewBuildError(desc, core.ErrInvalidChildSource, "source %s is %s, want %s", source, source.Kind(), core.KindChildArray)
	}
	if err := b.adopt(desc, source); err != nil {
		return nil, err
	}
	return track(b, &ForEachChildNode{baseNode: baseNode{kind: core.KindArray}, source: source}), nil
}

// BindFunction attaches the per-child function of a ForEachChildNode. The
// function is resolved as a string against each child.
func (b *Builder) BindFunction(each *ForEachChildNode, fn Node) error {
	const desc = "forEachChild"
	if b.built {
		return core.NewBuildError(desc, core.ErrAlreadyBound, "builder has already built its tree")
	}
	if each == nil || fn == nil {
		return core.NewBuildError(desc, core.ErrArgumentKindMismatch, "node and function are required")
	}
	if !b.created[each] || !b.created[fn] {
		return core.NewBuildError(desc, core.ErrForeignNode, "node and function must be built by this builder")
	}
	if each.fn != nil {
		return core.NewBuildError(desc, core.ErrAlreadyBound, "function %s already bound", each.fn)
	}
	if !fn.CanCoerceTo(core.KindString) {
		return core.NewBuildError(desc, core.ErrArgumentKindMismatch, "function %s is %s, want %s", fn, fn.Kind(), core.KindString)
	}
	cyclic := false
	walk(fn, func(n Node) { cyclic = cyclic || n == Node(each) })
	if cyclic {
		return core.NewBuildError(desc, core.ErrCyclicTree, "function contains the forEachChild it is bound to")
	}
	if err := b.adopt(desc, fn); err != nil {
		return err
	}
	each.fn = fn
	return nil
}

// If creates a conditional. The branches must share a kind, with Integer and
// Number unifying to Number. els may be nil.
func (b *Builder) If(cond, then, els Node) (*IfNode, error) {
	const desc = "if"
	if cond == nil || then == nil {
		return nil, core.NewBuildError(desc, core.ErrArgumentKindMismatch, "condition and then branch are required")
	}
	if !cond.CanCoerceTo(core.KindBoolean) {
		return nil, core.NewBuildError(desc, core.ErrArgumentKindMismatch, "condition is %s, want %s", cond.Kind(), core.KindBoolean)
	}
	kind := then.Kind()
	if els != nil {
		unified, ok := unifyKinds(then.Kind(), els.Kind())
		if !ok {
			return nil, core.NewBuildError(desc, core.ErrBranchKindMismatch, "then is %s, else is %s", then.Kind(), els.Kind())
		}
		kind = unified
	}
	children := []Node{cond, then}
	if els != nil {
		children = append(children, els)
	}
	if err := b.adopt(desc, children...); err != nil {
		return nil, err
	}
	return track(b, &IfNode{baseNode: baseNode{kind: kind}, cond: cond, then: then, els: els}), nil
}

func unifyKinds(a, b core.ValueKind) (core.ValueKind, bool) {
	switch {
	case a.CanCoerceTo(b):
		return b, true
	case b.CanCoerceTo(a):
		return a, true
	default:
		return core.KindUndefined, false
	}
}

// Compare creates a comparison. Integer and Number operands compare
// numerically with any operator; String, Boolean and Enum operands of the
// same kind support only equality.
func (b *Builder) Compare(op CompareOp, left, right Node) (*CompareNode, error) {
	desc := fmt.Sprintf("compare %q", op)
	if !op.valid() {
		return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "unknown operator")
	}
	if left == nil || right == nil {
		return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "both operands are required")
	}
	lk, rk := left.Kind(), right.Kind()
	var operand core.ValueKind
	switch {
	case lk == core.KindInteger && rk == core.KindInteger:
		operand = core.KindInteger
	case left.CanCoerceTo(core.KindNumber) && right.CanCoerceTo(core.KindNumber):
		operand = core.KindNumber
	case lk == rk && (lk == core.KindString || lk == core.KindBoolean || lk == core.KindEnum):
		if op.Ordered() {
			return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "%s operands are not ordered", lk)
		}
		if lk == core.KindEnum {
			le, re := enumOf(left), enumOf(right)
			if le != "" && re != "" && le != re {
				return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "enum %q compared with enum %q", le, re)
			}
		}
		operand = lk
	default:
		return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "cannot compare %s with %s", lk, rk)
	}
	if err := b.adopt(desc, left, right); err != nil {
		return nil, err
	}
	return track(b, &CompareNode{
		baseNode:    baseNode{kind: core.KindBoolean},
		op:          op,
		left:        left,
		right:       right,
		operandKind: operand,
	}), nil
}

// enumOf returns the enum type name of a node when it is statically known.
func enumOf(n Node) string {
	switch n := n.(type) {
	case *ConstantNode:
		return n.enum
	case *VariableNode:
		return n.variable.Enum
	default:
		return ""
	}
}

// And creates a short-circuit conjunction of one or more boolean operands.
func (b *Builder) And(operands ...Node) (*LogicNode, error) {
	return b.logic(OpAnd, operands)
}

// Or creates a short-circuit disjunction of one or more boolean operands.
func (b *Builder) Or(operands ...Node) (*LogicNode, error) {
	return b.logic(OpOr, operands)
}

// Not creates a boolean negation.
func (b *Builder) Not(operand Node) (*LogicNode, error) {
	return b.logic(OpNot, []Node{operand})
}

func (b *Builder) logic(op LogicOp, operands []Node) (*LogicNode, error) {
	desc := string(op)
	if len(operands) == 0 || (op == OpNot && len(operands) != 1) {
		return nil, core.NewBuildError(desc, core.ErrArityMismatch, "got %d operands", len(operands))
	}
	for i, o := range operands {
		if o == nil || !o.CanCoerceTo(core.KindBoolean) {
			kind := core.KindUndefined
			if o != nil {
				kind = o.Kind()
			}
			return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "operand %d is %s, want %s", i, kind, core.KindBoolean)
		}
	}
	if err := b.adopt(desc, operands...); err != nil {
		return nil, err
	}
	return track(b, &LogicNode{baseNode: baseNode{kind: core.KindBoolean}, op: op, operands: slices.Clone(operands)}), nil
}

// Math creates an arithmetic operation over Integer or Number operands.
func (b *Builder) Math(op MathOp, left, right Node) (*MathNode, error) {
	desc := fmt.Sprintf("math %q", op)
	if !op.valid() {
		return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "unknown operator")
	}
	if left == nil || right == nil {
		return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "both operands are required")
	}
	if !left.CanCoerceTo(core.KindNumber) || !right.CanCoerceTo(core.KindNumber) {
		return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "cannot apply to %s and %s", left.Kind(), right.Kind())
	}
	kind := core.KindNumber
	if left.Kind() == core.KindInteger && right.Kind() == core.KindInteger {
		kind = core.KindInteger
	}
	if err := b.adopt(desc, left, right); err != nil {
		return nil, err
	}
	return track(b, &MathNode{baseNode: baseNode{kind: kind}, op: op, left: left, right: right}), nil
}

// Switch creates a selection over an Integer or Enum selector. Every case and
// the optional default must unify to one kind.
func (b *Builder) Switch(selector Node, cases []SwitchCase, def Node) (*SwitchNode, error) {
	const desc = "switch"
	if selector == nil {
		return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "selector is required")
	}
	if k := selector.Kind(); k != core.KindInteger && k != core.KindEnum {
		return nil, core.NewBuildError(desc, core.ErrOperandKindMismatch, "selector is %s, want %s or %s", k, core.KindInteger, core.KindEnum)
	}
	if len(cases) == 0 && def == nil {
		return nil, core.NewBuildError(desc, core.ErrArityMismatch, "at least one case or a default is required")
	}

	kind := core.KindUndefined
	merge := func(n Node) error {
		if kind == core.KindUndefined {
			kind = n.Kind()
			return nil
		}
		unified, ok := unifyKinds(kind, n.Kind())
		if !ok {
			return core.NewBuildError(desc, core.ErrBranchKindMismatch, "case %s is %s, other cases are %s", n, n.Kind(), kind)
		}
		kind = unified
		return nil
	}

	byValue := make(map[int]Node, len(cases))
	order := make([]int, 0, len(cases))
	children := []Node{selector}
	for _, c := range cases {
		if c.Node == nil {
			return nil, core.NewBuildError(desc, core.ErrArgumentKindMismatch, "case %d has no node", c.Value)
		}
		if _, dup := byValue[c.Value]; dup {
			return nil, core.NewBuildError(desc, core.ErrDuplicateDeclaration, "case %d declared twice", c.Value)
		}
		if err := merge(c.Node); err != nil {
			return nil, err
		}
		byValue[c.Value] = c.Node
		order = append(order, c.Value)
		children = append(children, c.Node)
	}
	if def != nil {
		if err := merge(def); err != nil {
			return nil, err
		}
		children = append(children, def)
	}
	if err := b.adopt(desc, children...); err != nil {
		return nil, err
	}
	return track(b, &SwitchNode{
		baseNode: baseNode{kind: kind},
		selector: selector,
		cases:    byValue,
		order:    order,
		def:      def,
	}), nil
}

// Join creates a string built from String and Array parts.
func (b *Builder) Join(separator string, parts ...Node) (*JoinNode, error) {
	const desc = "join"
	for i, p := range parts {
		if p == nil || (!p.CanCoerceTo(core.KindString) && !p.CanCoerceTo(core.KindArray)) {
			kind := core.KindUndefined
			if p != nil {
				kind = p.Kind()
			}
			return nil, core.NewBuildError(desc, core.ErrArgumentKindMismatch, "part %d is %s, want %s or %s", i, kind, core.KindString, core.KindArray)
		}
	}
	if err := b.adopt(desc, parts...); err != nil {
		return nil, err
	}
	return track(b, &JoinNode{baseNode: baseNode{kind: core.KindString}, separator: separator, parts: slices.Clone(parts)}), nil
}

// AddRule names a root node. A node may be the root of only one rule and may
// not also be the child of another node.
func (b *Builder) AddRule(name string, root Node) error {
	desc := fmt.Sprintf("rule %q", name)
	if name == "" || root == nil {
		return core.NewBuildError(desc, core.ErrUnknownRule, "rule name and root are required")
	}
	if _, exists := b.rules[name]; exists {
		return core.NewBuildError(desc, core.ErrDuplicateDeclaration, "rule declared twice")
	}
	if err := b.adopt(desc, root); err != nil {
		return err
	}
	b.rules[name] = root
	b.order = append(b.order, name)
	return nil
}

// Lint reports warning-level problems that do not prevent building: for-each
// nodes without a bound function, and rules whose root kind cannot be
// resolved as anything but Child-Array.
func (b *Builder) Lint() []Diagnostic {
	var diags []Diagnostic
	for _, name := range b.order {
		root := b.rules[name]
		if root.Kind() == core.KindChildArray {
			diags = append(diags, Diagnostic{
				Code:    CodeLintChildArrayRule,
				Message: fmt.Sprintf("rule %q resolves to %s and can only be iterated", name, core.KindChildArray),
				Node:    root.String(),
			})
		}
		walk(root, func(n Node) {
			if each, ok := n.(*ForEachChildNode); ok && each.fn == nil {
				diags = append(diags, Diagnostic{
					Code:    CodeLintUnbound,
					Message: fmt.Sprintf("rule %q has a forEachChild without a bound function", name),
					Node:    each.String(),
				})
			}
		})
	}
	return diags
}

// Build returns the immutable tree. The builder cannot be used to bind
// functions afterwards.
func (b *Builder) Build() (*ParseTree, error) {
	if b.built {
		return nil, errors.New("petalrules: builder already built")
	}
	b.built = true

	t := &ParseTree{
		rules:     make(map[string]Node, len(b.rules)),
		order:     slices.Clone(b.order),
		variables: make(map[string]core.Variable, len(b.variables)),
		enums:     make(map[string]core.EnumType, len(b.enums)),
		opts:      b.opts,
	}
	for k, v := range b.rules {
		t.rules[k] = v
	}
	for k, v := range b.variables {
		t.variables[k] = v
	}
	for k, v := range b.enums {
		t.enums[k] = v
	}
	return t, nil
}

// adopt records children as owned by a new parent. Nodes must come from
// this builder and may have only one parent. Because a parent is always
// built after its children, only BindFunction can close a cycle.
func (b *Builder) adopt(desc string, children ...Node) error {
	for i, c := range children {
		if !b.created[c] {
			return core.NewBuildError(desc, core.ErrForeignNode, "node %T was built by another builder", c)
		}
		if b.owned[c] {
			return core.NewBuildError(desc, core.ErrDuplicateDeclaration, "node %s already has a parent", c)
		}
		for _, prev := range children[:i] {
			if prev == c {
				return core.NewBuildError(desc, core.ErrDuplicateDeclaration, "node %s used twice", c)
			}
		}
	}
	for _, c := range children {
		b.owned[c] = true
	}
	return nil
}

// walk visits n and every descendant depth-first.
func walk(n Node, visit func(Node)) {
	if n == nil {
		return
	}
	visit(n)
	switch n := n.(type) {
	case *FunctionNode:
		for _, a := range n.args {
			walk(a, visit)
		}
	case *ForEachChildNode:
		walk(n.source, visit)
		walk(n.fn, visit)
	case *IfNode:
		walk(n.cond, visit)
		walk(n.then, visit)
		walk(n.els, visit)
	case *CompareNode:
		walk(n.left, visit)
		walk(n.right, visit)
	case *LogicNode:
		for _, o := range n.operands {
			walk(o, visit)
		}
	case *MathNode:
		walk(n.left, visit)
		walk(n.right, visit)
	case *SwitchNode:
		walk(n.selector, visit)
		for _, v := range n.order {
			walk(n.cases[v], visit)
		}
		walk(n.def, visit)
	case *JoinNode:
		for _, p := range n.parts {
			walk(p, visit)
		}
	}
}
