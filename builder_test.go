package petalrules

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/registry"
)

func TestNewBuilder_DuplicateOperation(t *testing.T) {
	_, err := NewBuilder(twice{})
	if !errors.Is(err, core.ErrDuplicateDeclaration) {
		t.Errorf("NewBuilder() error = %v, want ErrDuplicateDeclaration", err)
	}
}

// twice is a rule delegate that declares the same operation two times.
type twice struct{}

func (twice) Operations() []registry.Operation {
	op := registry.Op0("same", func(core.VariableDelegate) (string, error) { return "", nil })
	return []registry.Operation{op, op}
}

func TestBuilder_NodeKinds(t *testing.T) {
	n := newTestBuilder(t)
	tests := []struct {
		name string
		node Node
		want core.ValueKind
	}{
		{"bool constant", n.b.Bool(true), core.KindBoolean},
		{"int constant", n.b.Int(1), core.KindInteger},
		{"number constant", n.b.Num(1.5), core.KindNumber},
		{"string constant", n.b.Str("x"), core.KindString},
		{"array constant", n.b.Strings("a", "b"), core.KindArray},
		{"enum constant", n.enum("button"), core.KindEnum},
		{"variable", n.v("children"), core.KindChildArray},
		{"function", n.fn("length", n.v("text")), core.KindInteger},
		{"forEachChild", n.each(n.v("children"), n.fn("label")), core.KindArray},
		{"if unifies to number", n.ifElse(n.v("checked"), n.b.Int(1), n.b.Num(2)), core.KindNumber},
		{"if without else", n.ifElse(n.v("checked"), n.b.Str("on"), nil), core.KindString},
		{"compare", n.cmp(OpLess, n.v("count"), n.v("width")), core.KindBoolean},
		{"integer math", n.math(OpAdd, n.b.Int(1), n.b.Int(2)), core.KindInteger},
		{"mixed math", n.math(OpAdd, n.b.Int(1), n.b.Num(2)), core.KindNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.Kind(); got != tt.want {
				t.Errorf("Kind() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuilder_NodeStrings(t *testing.T) {
	n := newTestBuilder(t)
	join, err := n.b.Join(", ", n.b.Str("a"), n.v("tags"))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		node Node
		want string
	}{
		{n.b.Str("hi"), `"hi"`},
		{n.enum("switch"), "role(2)"},
		{n.v("text"), "$text"},
		{n.fn("concat", n.v("text"), n.b.Str("!")), `concat($text, "!")`},
		{n.each(n.v("children"), nil), "forEachChild($children, <unbound>)"},
		{n.cmp(OpGreaterEqual, n.v("count"), n.b.Int(2)), "($count >= 2)"},
		{join, `join(", ", "a", $tags)`},
	}
	for _, tt := range tests {
		if got := tt.node.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		build   func(n nb) error
		wantErr error
	}{
		{
			name: "unknown variable",
			build: func(n nb) error {
				_, err := n.b.Variable("colour")
				return err
			},
			wantErr: core.ErrUnknownVariable,
		},
		{
			name: "unknown operation",
			build: func(n nb) error {
				_, err := n.b.Function("shout")
				return err
			},
			wantErr: core.ErrUnknownOperation,
		},
		{
			name: "arity",
			build: func(n nb) error {
				_, err := n.b.Function("concat", n.b.Str("a"))
				return err
			},
			wantErr: core.ErrArityMismatch,
		},
		{
			name: "too many arguments",
			build: func(n nb) error {
				_, err := n.b.Function("uppercase", n.b.Str("a"), n.b.Str("b"))
				return err
			},
			wantErr: core.ErrArityMismatch,
		},
		{
			name: "arguments to a nullary operation",
			build: func(n nb) error {
				_, err := n.b.Function("label", n.v("text"))
				return err
			},
			wantErr: core.ErrArityMismatch,
		},
		{
			name: "argument kind",
			build: func(n nb) error {
				_, err := n.b.Function("uppercase", n.v("checked"))
				return err
			},
			wantErr: core.ErrArgumentKindMismatch,
		},
		{
			name: "number cannot narrow to integer",
			build: func(n nb) error {
				_, err := n.b.Function("formatInteger", n.b.Num(1))
				return err
			},
			wantErr: core.ErrArgumentKindMismatch,
		},
		{
			name: "invalid child source",
			build: func(n nb) error {
				_, err := n.b.ForEachChild(n.v("tags"))
				return err
			},
			wantErr: core.ErrInvalidChildSource,
		},
		{
			name: "non-string per-child function",
			build: func(n nb) error {
				each, err := n.b.ForEachChild(n.v("children"))
				if err != nil {
					return err
				}
				return n.b.BindFunction(each, n.v("tags"))
			},
			wantErr: core.ErrArgumentKindMismatch,
		},
		{
			name: "bind twice",
			build: func(n nb) error {
				each := n.each(n.v("children"), n.fn("label"))
				return n.b.BindFunction(each, n.b.Str("x"))
			},
			wantErr: core.ErrAlreadyBound,
		},
		{
			name: "bind after build",
			build: func(n nb) error {
				each := n.each(n.v("children"), nil)
				if err := n.b.AddRule("r", each); err != nil {
					return err
				}
				if _, err := n.b.Build(); err != nil {
					return err
				}
				return n.b.BindFunction(each, n.b.Str("x"))
			},
			wantErr: core.ErrAlreadyBound,
		},
		{
			name: "bind a function containing its own forEachChild",
			build: func(n nb) error {
				each := n.each(n.v("children"), nil)
				join, err := n.b.Join(",", each)
				if err != nil {
					return err
				}
				return n.b.BindFunction(each, join)
			},
			wantErr: core.ErrCyclicTree,
		},
		{
			name: "bind a function containing its forEachChild deeper down",
			build: func(n nb) error {
				each := n.each(n.v("children"), nil)
				join, err := n.b.Join(",", each)
				if err != nil {
					return err
				}
				return n.b.BindFunction(each, n.fn("concat", join, n.b.Str("!")))
			},
			wantErr: core.ErrCyclicTree,
		},
		{
			name: "branch mismatch",
			build: func(n nb) error {
				_, err := n.b.If(n.v("checked"), n.b.Str("a"), n.b.Int(1))
				return err
			},
			wantErr: core.ErrBranchKindMismatch,
		},
		{
			name: "non-boolean condition",
			build: func(n nb) error {
				_, err := n.b.If(n.v("text"), n.b.Str("a"), nil)
				return err
			},
			wantErr: core.ErrArgumentKindMismatch,
		},
		{
			name: "ordered strings",
			build: func(n nb) error {
				_, err := n.b.Compare(OpLess, n.v("text"), n.b.Str("m"))
				return err
			},
			wantErr: core.ErrOperandKindMismatch,
		},
		{
			name: "mixed compare",
			build: func(n nb) error {
				_, err := n.b.Compare(OpEqual, n.v("text"), n.b.Int(1))
				return err
			},
			wantErr: core.ErrOperandKindMismatch,
		},
		{
			name: "unknown compare operator",
			build: func(n nb) error {
				_, err := n.b.Compare("<>", n.b.Int(1), n.b.Int(2))
				return err
			},
			wantErr: core.ErrOperandKindMismatch,
		},
		{
			name: "enum types differ",
			build: func(n nb) error {
				if err := n.b.DeclareEnum(core.EnumType{Name: "shape", Cases: map[string]int{"round": 1}}); err != nil {
					return err
				}
				round, err := n.b.EnumConstant("shape", "round")
				if err != nil {
					return err
				}
				_, err = n.b.Compare(OpEqual, n.v("role"), round)
				return err
			},
			wantErr: core.ErrOperandKindMismatch,
		},
		{
			name: "string math",
			build: func(n nb) error {
				_, err := n.b.Math(OpAdd, n.v("text"), n.b.Int(1))
				return err
			},
			wantErr: core.ErrOperandKindMismatch,
		},
		{
			name: "logic over integers",
			build: func(n nb) error {
				_, err := n.b.And(n.v("checked"), n.v("count"))
				return err
			},
			wantErr: core.ErrOperandKindMismatch,
		},
		{
			name: "empty and",
			build: func(n nb) error {
				_, err := n.b.And()
				return err
			},
			wantErr: core.ErrArityMismatch,
		},
		{
			name: "switch on string",
			build: func(n nb) error {
				_, err := n.b.Switch(n.v("text"), nil, n.b.Str("x"))
				return err
			},
			wantErr: core.ErrOperandKindMismatch,
		},
		{
			name: "duplicate switch case",
			build: func(n nb) error {
				_, err := n.b.Switch(n.v("count"), []SwitchCase{
					{Value: 1, Node: n.b.Str("one")},
					{Value: 1, Node: n.b.Str("uno")},
				}, nil)
				return err
			},
			wantErr: core.ErrDuplicateDeclaration,
		},
		{
			name: "switch branch mismatch",
			build: func(n nb) error {
				_, err := n.b.Switch(n.v("count"), []SwitchCase{{Value: 1, Node: n.b.Str("one")}}, n.b.Bool(false))
				return err
			},
			wantErr: core.ErrBranchKindMismatch,
		},
		{
			name: "join of integers",
			build: func(n nb) error {
				_, err := n.b.Join(" ", n.v("count"))
				return err
			},
			wantErr: core.ErrArgumentKindMismatch,
		},
		{
			name: "unknown enum case",
			build: func(n nb) error {
				_, err := n.b.EnumConstant("role", "dial")
				return err
			},
			wantErr: core.ErrUnknownEnum,
		},
		{
			name: "node reused under two parents",
			build: func(n nb) error {
				text := n.v("text")
				n.fn("uppercase", text)
				_, err := n.b.Function("lowercase", text)
				return err
			},
			wantErr: core.ErrDuplicateDeclaration,
		},
		{
			name: "node used twice by one parent",
			build: func(n nb) error {
				text := n.v("text")
				_, err := n.b.Function("concat", text, text)
				return err
			},
			wantErr: core.ErrDuplicateDeclaration,
		},
		{
			name: "duplicate rule",
			build: func(n nb) error {
				if err := n.b.AddRule("r", n.b.Int(1)); err != nil {
					return err
				}
				return n.b.AddRule("r", n.b.Int(2))
			},
			wantErr: core.ErrDuplicateDeclaration,
		},
		{
			name: "duplicate variable id",
			build: func(n nb) error {
				return n.b.DeclareVariable(core.Variable{Name: "other", ID: varText, Kind: core.KindString})
			},
			wantErr: core.ErrDuplicateDeclaration,
		},
		{
			name: "enum variable of undeclared enum",
			build: func(n nb) error {
				return n.b.DeclareVariable(core.Variable{Name: "shape", ID: 99, Kind: core.KindEnum, Enum: "shape"})
			},
			wantErr: core.ErrUnknownEnum,
		},
		{
			name: "enum cases share a value",
			build: func(n nb) error {
				return n.b.DeclareEnum(core.EnumType{Name: "dup", Cases: map[string]int{"a": 1, "b": 1}})
			},
			wantErr: core.ErrDuplicateDeclaration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build(newTestBuilder(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			var be *core.BuildError
			if !errors.As(err, &be) {
				t.Errorf("error %T is not a *core.BuildError", err)
			}
		})
	}
}

func TestBuilder_ArgumentKindGrid(t *testing.T) {
	lib := registry.New()
	for _, param := range core.Kinds {
		if param == core.KindChildArray {
			continue
		}
		lib.MustRegister(registry.Operation{
			Name:   "take_" + string(param),
			Params: []core.ValueKind{param},
			Return: core.KindString,
			Fn:     func(registry.Call) (core.Value, error) { return core.Str("ok"), nil },
		})
	}

	for _, param := range core.Kinds {
		if param == core.KindChildArray {
			continue
		}
		for _, arg := range core.Kinds {
			t.Run(fmt.Sprintf("%s as %s", arg, param), func(t *testing.T) {
				b, err := NewBuilder(lib)
				if err != nil {
					t.Fatal(err)
				}
				n := nb{t: t, b: b}
				n.check(b.DeclareEnum(roleEnum))
				n.check(b.DeclareVariable(core.Variable{Name: "children", ID: varChildren, Kind: core.KindChildArray}))

				var node Node
				switch arg {
				case core.KindBoolean:
					node = b.Bool(true)
				case core.KindInteger:
					node = b.Int(1)
				case core.KindNumber:
					node = b.Num(1)
				case core.KindString:
					node = b.Str("s")
				case core.KindEnum:
					node = n.enum("button")
				case core.KindArray:
					node = b.Strings("a")
				case core.KindChildArray:
					node = n.v("children")
				default:
					t.Fatalf("no literal for kind %s", arg)
				}

				allowed := arg == param || (arg == core.KindInteger && param == core.KindNumber)
				_, err = b.Function("take_"+string(param), node)
				switch {
				case allowed && err != nil:
					t.Errorf("Function() error = %v, want success", err)
				case !allowed && !errors.Is(err, core.ErrArgumentKindMismatch):
					t.Errorf("Function() error = %v, want ErrArgumentKindMismatch", err)
				}
			})
		}
	}
}

func TestBuilder_RejectsForeignNodes(t *testing.T) {
	owner := newTestBuilder(t)
	each := owner.each(owner.v("children"), nil)
	text := owner.v("text")
	tree := treeOf(owner, each)

	other := newTestBuilder(t)
	if err := other.b.BindFunction(each, other.fn("label")); !errors.Is(err, core.ErrForeignNode) {
		t.Errorf("BindFunction(foreign forEachChild) error = %v, want ErrForeignNode", err)
	}
	if _, err := other.b.Function("uppercase", text); !errors.Is(err, core.ErrForeignNode) {
		t.Errorf("Function(foreign argument) error = %v, want ErrForeignNode", err)
	}
	if err := other.b.AddRule("stolen", each); !errors.Is(err, core.ErrForeignNode) {
		t.Errorf("AddRule(foreign root) error = %v, want ErrForeignNode", err)
	}
	own := other.each(other.v("children"), nil)
	if err := other.b.BindFunction(own, owner.fn("label")); !errors.Is(err, core.ErrForeignNode) {
		t.Errorf("BindFunction(foreign function) error = %v, want ErrForeignNode", err)
	}

	res := tree.Evaluate("r", screen(newReleaseLog()), core.KindArray)
	if len(res.Value.Arr) != 0 {
		t.Errorf("built tree changed: value = %v", res.Value.Arr)
	}
	if diff := cmp.Diff([]string{CodeUnboundFunction}, diagCodes(res.Diagnostics)); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_UnsupportedReturnKind(t *testing.T) {
	lib := registry.New()
	lib.MustRegister(registry.Op0("weird", func(core.VariableDelegate) (map[string]int, error) { return nil, nil }))
	b, err := NewBuilder(lib)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Function("weird"); !errors.Is(err, core.ErrUnsupportedReturnKind) {
		t.Errorf("Function() error = %v, want ErrUnsupportedReturnKind", err)
	}
}

func TestBuilder_Lint(t *testing.T) {
	n := newTestBuilder(t)
	n.check(n.b.AddRule("unbound", n.each(n.v("children"), nil)))
	n.check(n.b.AddRule("kids", n.v("children")))
	n.check(n.b.AddRule("fine", n.v("text")))

	got := diagCodes(n.b.Lint())
	if diff := cmp.Diff([]string{CodeLintUnbound, CodeLintChildArrayRule}, got); diff != "" {
		t.Errorf("Lint() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_BuildTwice(t *testing.T) {
	n := newTestBuilder(t)
	if _, err := n.b.Build(); err != nil {
		t.Fatal(err)
	}
	if _, err := n.b.Build(); err == nil {
		t.Error("second Build() should fail")
	}
}

func TestBuilder_TreeIsIsolatedFromBuilder(t *testing.T) {
	n := newTestBuilder(t)
	tree := treeOf(n, n.v("text"))
	if err := n.b.AddRule("late", n.b.Int(1)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"r"}, tree.Rules()); diff != "" {
		t.Errorf("Rules() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := tree.Rule("late"); ok {
		t.Error("rule added after Build leaked into the tree")
	}
}

func TestParseTree_Declarations(t *testing.T) {
	n := newTestBuilder(t)
	tree := treeOf(n, n.b.Bool(true))

	vars := tree.Variables()
	if len(vars) != len(testVariables) || vars[0].Name != "text" || vars[len(vars)-1].Name != "broken" {
		t.Errorf("Variables() = %+v", vars)
	}
	role, ok := tree.Enum("role")
	if !ok || role.Cases["switch"] != 2 {
		t.Errorf("Enum(role) = %+v, %v", role, ok)
	}
	if _, ok := tree.Enum("shape"); ok {
		t.Error("Enum(shape) should not exist")
	}
}
