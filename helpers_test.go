package petalrules

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/registry"
)

const (
	varText core.VariableID = iota + 1
	varChecked
	varCount
	varWidth
	varRole
	varTags
	varChildren
	varBroken
)

var roleEnum = core.EnumType{Name: "role", Cases: map[string]int{"none": 0, "button": 1, "switch": 2}}

var testVariables = []core.Variable{
	{Name: "text", ID: varText, Kind: core.KindString},
	{Name: "checked", ID: varChecked, Kind: core.KindBoolean},
	{Name: "count", ID: varCount, Kind: core.KindInteger},
	{Name: "width", ID: varWidth, Kind: core.KindNumber},
	{Name: "role", ID: varRole, Kind: core.KindEnum, Enum: "role"},
	{Name: "tags", ID: varTags, Kind: core.KindArray},
	{Name: "children", ID: varChildren, Kind: core.KindChildArray},
	{Name: "broken", ID: varBroken, Kind: core.KindString},
}

// releaseLog counts child delegates handed out and released.
type releaseLog struct {
	mu       sync.Mutex
	acquired int
	released map[string]int
}

func newReleaseLog() *releaseLog {
	return &releaseLog{released: make(map[string]int)}
}

func (l *releaseLog) outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.acquired
	for _, c := range l.released {
		n -= c
	}
	return n
}

func (l *releaseLog) releases(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released[name]
}

var errNoVariable = errors.New("no such variable")

// fakeDelegate is an in-memory element. Children handed out by Children are
// recorded in log; nil entries in kids are returned as nil delegates.
type fakeDelegate struct {
	name         string
	vals         map[core.VariableID]core.Value
	kids         []*fakeDelegate
	childErr     error
	panicRead    bool
	panicRelease bool
	log          *releaseLog
}

func fake(name string, vals map[core.VariableID]core.Value, kids ...*fakeDelegate) *fakeDelegate {
	return &fakeDelegate{name: name, vals: vals, kids: kids}
}

func (d *fakeDelegate) value(id core.VariableID) (core.Value, error) {
	if d.panicRead {
		panic("delegate exploded")
	}
	if id == varBroken {
		return core.None(), errors.New("broken accessor")
	}
	v, ok := d.vals[id]
	if !ok {
		return core.None(), fmt.Errorf("%w: %d", errNoVariable, id)
	}
	return v, nil
}

func (d *fakeDelegate) Boolean(id core.VariableID) (bool, error) {
	v, err := d.value(id)
	return v.Bool, err
}

func (d *fakeDelegate) Integer(id core.VariableID) (int, error) {
	v, err := d.value(id)
	return v.Int, err
}

func (d *fakeDelegate) Number(id core.VariableID) (float64, error) {
	v, err := d.value(id)
	return v.Num, err
}

func (d *fakeDelegate) String(id core.VariableID) (string, error) {
	v, err := d.value(id)
	return v.Str, err
}

func (d *fakeDelegate) Enum(id core.VariableID) (int, error) {
	v, err := d.value(id)
	return v.Int, err
}

func (d *fakeDelegate) Array(id core.VariableID) ([]string, error) {
	v, err := d.value(id)
	return v.Arr, err
}

func (d *fakeDelegate) Children(id core.VariableID) ([]core.VariableDelegate, error) {
	if id != varChildren {
		return nil, errNoVariable
	}
	out := make([]core.VariableDelegate, 0, len(d.kids))
	for _, k := range d.kids {
		if k == nil {
			out = append(out, nil)
			continue
		}
		c := *k
		c.log = d.log
		d.log.mu.Lock()
		d.log.acquired++
		d.log.mu.Unlock()
		out = append(out, &c)
	}
	return out, d.childErr
}

func (d *fakeDelegate) Release() {
	if d.log == nil {
		return
	}
	d.log.mu.Lock()
	d.log.released[d.name]++
	d.log.mu.Unlock()
	if d.panicRelease {
		panic("release exploded")
	}
}

// screen returns a root with three labelled children sharing log.
func screen(log *releaseLog) *fakeDelegate {
	root := fake("root", map[core.VariableID]core.Value{
		varText:  core.Str("Settings"),
		varCount: core.Int(3),
		varWidth: core.Num(320),
		varRole:  core.Enum(0),
		varTags:  core.Arr([]string{"screen", "", "main"}),
	},
		fake("a", map[core.VariableID]core.Value{varText: core.Str("Save"), varRole: core.Enum(1)}),
		fake("b", map[core.VariableID]core.Value{varText: core.Str("Wi-Fi"), varRole: core.Enum(2), varChecked: core.Bool(true)}),
		fake("c", map[core.VariableID]core.Value{varText: core.Str("Help"), varRole: core.Enum(1)}),
	)
	root.log = log
	return root
}

// testLibrary is the builtins plus operations that exercise failure paths.
func testLibrary(t *testing.T) *registry.Library {
	t.Helper()
	extra := registry.New()
	extra.MustRegister(
		registry.Op0("label", func(d core.VariableDelegate) (string, error) {
			return d.String(varText)
		}),
		registry.Op0("fail", func(core.VariableDelegate) (string, error) {
			return "", errors.New("operation failed")
		}),
		registry.Op0("failFlag", func(core.VariableDelegate) (bool, error) {
			return false, errors.New("operation failed")
		}),
		registry.Op0("boom", func(core.VariableDelegate) (string, error) {
			panic("kaboom")
		}),
		registry.Op0("nothing", func(core.VariableDelegate) (*int, error) {
			return nil, nil
		}),
		registry.Op1("labelUnless", func(d core.VariableDelegate, skip string) (string, error) {
			s, err := d.String(varText)
			if err != nil {
				return "", err
			}
			if s == skip {
				return "", fmt.Errorf("refusing %q", s)
			}
			return s, nil
		}),
		registry.Operation{
			Name:   "liar",
			Return: core.KindInteger,
			Fn: func(registry.Call) (core.Value, error) {
				return core.Str("not a number"), nil
			},
		},
	)
	lib, err := registry.Merge(registry.Builtins(), extra)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	return lib
}

// newTestBuilder returns a builder over testLibrary with the role enum and
// test variables declared.
func newTestBuilder(t *testing.T, opts ...Option) nb {
	t.Helper()
	b, err := NewBuilder(testLibrary(t), opts...)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	if err := b.DeclareEnum(roleEnum); err != nil {
		t.Fatal(err)
	}
	for _, v := range testVariables {
		if err := b.DeclareVariable(v); err != nil {
			t.Fatal(err)
		}
	}
	return nb{t: t, b: b}
}

// nb wraps a Builder so tests can compose nodes without checking every
// error by hand.
type nb struct {
	t *testing.T
	b *Builder
}

func (n nb) check(err error) {
	n.t.Helper()
	if err != nil {
		n.t.Fatalf("build error: %v", err)
	}
}

func (n nb) v(name string) *VariableNode {
	n.t.Helper()
	node, err := n.b.Variable(name)
	n.check(err)
	return node
}

func (n nb) fn(name string, args ...Node) *FunctionNode {
	n.t.Helper()
	node, err := n.b.Function(name, args...)
	n.check(err)
	return node
}

func (n nb) each(source Node, fn Node) *ForEachChildNode {
	n.t.Helper()
	node, err := n.b.ForEachChild(source)
	n.check(err)
	if fn != nil {
		n.check(n.b.BindFunction(node, fn))
	}
	return node
}

func (n nb) ifElse(cond, then, els Node) *IfNode {
	n.t.Helper()
	node, err := n.b.If(cond, then, els)
	n.check(err)
	return node
}

func (n nb) cmp(op CompareOp, left, right Node) *CompareNode {
	n.t.Helper()
	node, err := n.b.Compare(op, left, right)
	n.check(err)
	return node
}

func (n nb) math(op MathOp, left, right Node) *MathNode {
	n.t.Helper()
	node, err := n.b.Math(op, left, right)
	n.check(err)
	return node
}

func (n nb) enum(caseName string) *ConstantNode {
	n.t.Helper()
	node, err := n.b.EnumConstant("role", caseName)
	n.check(err)
	return node
}

// treeOf builds a tree with a single rule named "r".
func treeOf(n nb, root Node) *ParseTree {
	t := n.t
	t.Helper()
	if err := n.b.AddRule("r", root); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	tree, err := n.b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return tree
}

func diagCodes(diags []Diagnostic) []string {
	var codes []string
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	return codes
}
