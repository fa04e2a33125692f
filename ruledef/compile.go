package ruledef

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/petal-labs/petalrules"
	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/registry"
)

// ErrInvalidDefinition is returned by Compile when Validate reports errors.
var ErrInvalidDefinition = errors.New("ruledef: invalid definition")

// ErrInvalidValue is returned when a constant or case value does not match
// its declared kind.
var ErrInvalidValue = errors.New("ruledef: invalid value")

// CompileError locates a build failure within a definition.
type CompileError struct {
	Rule string
	Path string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %q at %s: %v", e.Rule, e.Path, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Compile validates the definition and builds it into a ParseTree bound to
// the operations of lib.
func Compile(def *Definition, lib registry.RuleDelegate, opts ...petalrules.Option) (*petalrules.ParseTree, error) {
	b, err := newBuilder(def, lib, opts)
	if err != nil {
		return nil, err
	}
	return b.Build()
}

// Lint compiles the definition and returns the builder's warnings without
// building a tree.
func Lint(def *Definition, lib registry.RuleDelegate) ([]petalrules.Diagnostic, error) {
	b, err := newBuilder(def, lib, nil)
	if err != nil {
		return nil, err
	}
	return b.Lint(), nil
}

func newBuilder(def *Definition, lib registry.RuleDelegate, opts []petalrules.Option) (*petalrules.Builder, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}
	if errs := Errors(def.Validate()); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, errs[0].Path, errs[0].Message)
	}

	b, err := petalrules.NewBuilder(lib, opts...)
	if err != nil {
		return nil, err
	}
	for _, e := range def.Enums {
		if err := b.DeclareEnum(e); err != nil {
			return nil, err
		}
	}
	for _, v := range def.Variables {
		if err := b.DeclareVariable(v); err != nil {
			return nil, err
		}
	}

	for i, r := range def.Rules {
		c := &compiler{b: b, def: def, rule: r.Name}
		root, err := c.node(r.Root, fmt.Sprintf("rules[%d].root", i))
		if err != nil {
			return nil, err
		}
		if err := b.AddRule(r.Name, root); err != nil {
			return nil, &CompileError{Rule: r.Name, Path: fmt.Sprintf("rules[%d]", i), Err: err}
		}
	}
	return b, nil
}

type compiler struct {
	b    *petalrules.Builder
	def  *Definition
	rule string
}

func (c *compiler) fail(path string, err error) error {
	return &CompileError{Rule: c.rule, Path: path, Err: err}
}

// node builds nd and its descendants bottom-up.
func (c *compiler) node(nd *NodeDef, path string) (petalrules.Node, error) {
	switch nd.Type {
	case TypeConstant:
		n, err := c.constant(nd)
		if err != nil {
			return nil, c.fail(path, err)
		}
		return n, nil

	case TypeVariable:
		n, err := c.b.Variable(nd.Name)
		if err != nil {
			return nil, c.fail(path, err)
		}
		return n, nil

	case TypeFunction:
		args, err := c.list(nd.Args, path+".args")
		if err != nil {
			return nil, err
		}
		n, err := c.b.Function(nd.Name, args...)
		if err != nil {
			return nil, c.fail(path, err)
		}
		return n, nil

	case TypeForEachChild:
		src, err := c.node(nd.Source, path+".source")
		if err != nil {
			return nil, err
		}
		each, err := c.b.ForEachChild(src)
		if err != nil {
			return nil, c.fail(path, err)
		}
		if nd.Fn != nil {
			fn, err := c.node(nd.Fn, path+".fn")
			if err != nil {
				return nil, err
			}
			if err := c.b.BindFunction(each, fn); err != nil {
				return nil, c.fail(path+".fn", err)
			}
		}
		return each, nil

	case TypeIf:
		cond, err := c.node(nd.Cond, path+".cond")
		if err != nil {
			return nil, err
		}
		then, err := c.node(nd.Then, path+".then")
		if err != nil {
			return nil, err
		}
		var els petalrules.Node
		if nd.Else != nil {
			if els, err = c.node(nd.Else, path+".else"); err != nil {
				return nil, err
			}
		}
		n, err := c.b.If(cond, then, els)
		if err != nil {
			return nil, c.fail(path, err)
		}
		return n, nil

	case TypeCompare:
		left, right, err := c.pair(nd, path)
		if err != nil {
			return nil, err
		}
		n, err := c.b.Compare(petalrules.CompareOp(nd.Op), left, right)
		if err != nil {
			return nil, c.fail(path, err)
		}
		return n, nil

	case TypeLogic:
		args, err := c.list(nd.Args, path+".args")
		if err != nil {
			return nil, err
		}
		var n *petalrules.LogicNode
		switch petalrules.LogicOp(nd.Op) {
		case petalrules.OpAnd:
			n, err = c.b.And(args...)
		case petalrules.OpOr:
			n, err = c.b.Or(args...)
		default:
			if len(args) != 1 {
				return nil, c.fail(path, core.NewBuildError("not", core.ErrArityMismatch, "expected 1 operand, got %d", len(args)))
			}
			n, err = c.b.Not(args[0])
		}
		if err != nil {
			return nil, c.fail(path, err)
		}
		return n, nil

	case TypeMath:
		left, right, err := c.pair(nd, path)
		if err != nil {
			return nil, err
		}
		n, err := c.b.Math(petalrules.MathOp(nd.Op), left, right)
		if err != nil {
			return nil, c.fail(path, err)
		}
		return n, nil

	case TypeSwitch:
		return c.switchNode(nd, path)

	case TypeJoin:
		parts, err := c.list(nd.Args, path+".args")
		if err != nil {
			return nil, err
		}
		n, err := c.b.Join(nd.Separator, parts...)
		if err != nil {
			return nil, c.fail(path, err)
		}
		return n, nil
	}
	return nil, c.fail(path, fmt.Errorf("%w: unknown node type %q", ErrInvalidDefinition, nd.Type))
}

func (c *compiler) list(defs []*NodeDef, path string) ([]petalrules.Node, error) {
	out := make([]petalrules.Node, 0, len(defs))
	for i, d := range defs {
		p := fmt.Sprintf("%s[%d]", path, i)
		if d == nil {
			return nil, c.fail(p, fmt.Errorf("%w: node is null", ErrInvalidDefinition))
		}
		n, err := c.node(d, p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (c *compiler) pair(nd *NodeDef, path string) (petalrules.Node, petalrules.Node, error) {
	left, err := c.node(nd.Left, path+".left")
	if err != nil {
		return nil, nil, err
	}
	right, err := c.node(nd.Right, path+".right")
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (c *compiler) switchNode(nd *NodeDef, path string) (petalrules.Node, error) {
	selector, err := c.node(nd.Source, path+".source")
	if err != nil {
		return nil, err
	}

	enum := nd.Enum
	if enum == "" {
		enum = c.enumOf(nd.Source)
	}

	cases := make([]petalrules.SwitchCase, 0, len(nd.Cases))
	for i, cd := range nd.Cases {
		cp := fmt.Sprintf("%s.cases[%d]", path, i)
		v, err := c.caseValue(cd.Value, enum)
		if err != nil {
			return nil, c.fail(cp+".value", err)
		}
		n, err := c.node(cd.Node, cp+".node")
		if err != nil {
			return nil, err
		}
		cases = append(cases, petalrules.SwitchCase{Value: v, Node: n})
	}

	var def petalrules.Node
	if nd.Default != nil {
		if def, err = c.node(nd.Default, path+".default"); err != nil {
			return nil, err
		}
	}
	n, err := c.b.Switch(selector, cases, def)
	if err != nil {
		return nil, c.fail(path, err)
	}
	return n, nil
}

// enumOf returns the enum type of a selector definition when it can be
// inferred from a variable declaration or an enum constant.
func (c *compiler) enumOf(nd *NodeDef) string {
	switch nd.Type {
	case TypeVariable:
		if v, ok := c.def.variable(nd.Name); ok {
			return v.Enum
		}
	case TypeConstant:
		return nd.Enum
	}
	return ""
}

func (c *compiler) caseValue(v any, enum string) (int, error) {
	if name, ok := v.(string); ok {
		if enum == "" {
			return 0, fmt.Errorf("%w: case %q needs an enum selector", ErrInvalidValue, name)
		}
		return c.b.EnumValue(enum, name)
	}
	return toInt(v)
}

func (c *compiler) constant(nd *NodeDef) (petalrules.Node, error) {
	switch nd.Kind {
	case core.KindBoolean:
		v, ok := nd.Value.(bool)
		if !ok {
			return nil, invalid(nd)
		}
		return c.b.Bool(v), nil
	case core.KindInteger:
		v, err := toInt(nd.Value)
		if err != nil {
			return nil, err
		}
		return c.b.Int(v), nil
	case core.KindNumber:
		v, ok := toFloat(nd.Value)
		if !ok {
			return nil, invalid(nd)
		}
		return c.b.Num(v), nil
	case core.KindString:
		v, ok := nd.Value.(string)
		if !ok {
			return nil, invalid(nd)
		}
		return c.b.Str(v), nil
	case core.KindEnum:
		v, ok := nd.Value.(string)
		if !ok {
			return nil, invalid(nd)
		}
		n, err := c.b.EnumConstant(nd.Enum, v)
		if err != nil {
			return nil, err
		}
		return n, nil
	case core.KindArray:
		items, ok := toStrings(nd.Value)
		if !ok {
			return nil, invalid(nd)
		}
		return c.b.Strings(items...), nil
	}
	return nil, fmt.Errorf("%w: constants cannot be %s", ErrInvalidValue, nd.Kind)
}

func invalid(nd *NodeDef) error {
	return fmt.Errorf("%w: %v (%T) is not a %s", ErrInvalidValue, nd.Value, nd.Value, nd.Kind)
}

// toInt accepts the numeric types produced by JSON decoding and by Go
// literals, rejecting non-integral values and values outside the int range.
func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		if x < math.MinInt || x > math.MaxInt {
			return 0, fmt.Errorf("%w: %d overflows int", ErrInvalidValue, x)
		}
		return int(x), nil
	case json.Number:
		if i, err := strconv.ParseInt(x.String(), 10, strconv.IntSize); err == nil {
			return int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not an integer", ErrInvalidValue, x)
		}
		return floatToInt(f)
	case float64:
		return floatToInt(x)
	}
	return 0, fmt.Errorf("%w: %v (%T) is not an integer", ErrInvalidValue, v, v)
}

// floatToInt converts an integral float. 2^63 is the first float64 above
// MaxInt64, so the upper bound is exclusive.
func floatToInt(x float64) (int, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, x)
	}
	if x < math.MinInt || x >= -math.MinInt {
		return 0, fmt.Errorf("%w: %v overflows int", ErrInvalidValue, x)
	}
	return int(x), nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil && !math.IsInf(f, 0)
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func toStrings(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, len(x))
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
