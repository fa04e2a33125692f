package petalrules

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/petalrules/core"
)

// rogueNode is a node type the resolver does not know.
type rogueNode struct{ baseNode }

func (rogueNode) String() string { return "rogue" }

func TestEvaluate_Values(t *testing.T) {
	tests := []struct {
		name string
		root func(n nb) Node
		kind core.ValueKind
		want core.Value
	}{
		{
			name: "integer constant widens to number",
			root: func(n nb) Node { return n.b.Int(7) },
			kind: core.KindNumber,
			want: core.Num(7),
		},
		{
			name: "string variable",
			root: func(n nb) Node { return n.v("text") },
			kind: core.KindString,
			want: core.Str("Settings"),
		},
		{
			name: "array variable",
			root: func(n nb) Node { return n.v("tags") },
			kind: core.KindArray,
			want: core.Arr([]string{"screen", "", "main"}),
		},
		{
			name: "function over variable",
			root: func(n nb) Node { return n.fn("uppercase", n.v("text")) },
			kind: core.KindString,
			want: core.Str("SETTINGS"),
		},
		{
			name: "absent operation result is the zero value",
			root: func(n nb) Node { return n.fn("nothing") },
			kind: core.KindInteger,
			want: core.Int(0),
		},
		{
			name: "if without else",
			root: func(n nb) Node {
				return n.ifElse(n.cmp(OpGreater, n.v("count"), n.b.Int(5)), n.b.Str("many"), nil)
			},
			kind: core.KindString,
			want: core.Str(""),
		},
		{
			name: "if with else",
			root: func(n nb) Node {
				return n.ifElse(n.cmp(OpGreater, n.v("count"), n.b.Int(5)), n.b.Str("many"), n.b.Str("few"))
			},
			kind: core.KindString,
			want: core.Str("few"),
		},
		{
			name: "if unifies integer branch to number",
			root: func(n nb) Node {
				return n.ifElse(n.b.Bool(true), n.v("count"), n.v("width"))
			},
			kind: core.KindNumber,
			want: core.Num(3),
		},
		{
			name: "integer division truncates",
			root: func(n nb) Node { return n.math(OpDivide, n.b.Int(7), n.b.Int(2)) },
			kind: core.KindInteger,
			want: core.Int(3),
		},
		{
			name: "integer modulo",
			root: func(n nb) Node { return n.math(OpModulo, n.b.Int(7), n.b.Int(3)) },
			kind: core.KindInteger,
			want: core.Int(1),
		},
		{
			name: "number modulo",
			root: func(n nb) Node { return n.math(OpModulo, n.b.Num(7.5), n.b.Int(2)) },
			kind: core.KindNumber,
			want: core.Num(1.5),
		},
		{
			name: "mixed arithmetic",
			root: func(n nb) Node { return n.math(OpMultiply, n.v("count"), n.b.Num(0.5)) },
			kind: core.KindNumber,
			want: core.Num(1.5),
		},
		{
			name: "mixed comparison",
			root: func(n nb) Node { return n.cmp(OpLess, n.v("count"), n.v("width")) },
			kind: core.KindBoolean,
			want: core.Bool(true),
		},
		{
			name: "enum equality",
			root: func(n nb) Node { return n.cmp(OpEqual, n.v("role"), n.enum("none")) },
			kind: core.KindBoolean,
			want: core.Bool(true),
		},
		{
			name: "string inequality",
			root: func(n nb) Node { return n.cmp(OpNotEqual, n.v("text"), n.b.Str("Settings")) },
			kind: core.KindBoolean,
			want: core.Bool(false),
		},
		{
			name: "NaN is unequal to itself",
			root: func(n nb) Node { return n.cmp(OpEqual, n.b.Num(math.NaN()), n.b.Num(math.NaN())) },
			kind: core.KindBoolean,
			want: core.Bool(false),
		},
		{
			name: "NaN satisfies not-equal",
			root: func(n nb) Node { return n.cmp(OpNotEqual, n.b.Num(math.NaN()), n.b.Num(1)) },
			kind: core.KindBoolean,
			want: core.Bool(true),
		},
		{
			name: "NaN is not ordered",
			root: func(n nb) Node { return n.cmp(OpLessEqual, n.b.Num(math.NaN()), n.b.Num(1)) },
			kind: core.KindBoolean,
			want: core.Bool(false),
		},
		{
			name: "integer switch",
			root: func(n nb) Node {
				node, err := n.b.Switch(n.v("count"), []SwitchCase{
					{Value: 1, Node: n.b.Str("one")},
					{Value: 3, Node: n.b.Str("three")},
				}, n.b.Str("lots"))
				n.check(err)
				return node
			},
			kind: core.KindString,
			want: core.Str("three"),
		},
		{
			name: "switch without match or default",
			root: func(n nb) Node {
				node, err := n.b.Switch(n.v("count"), []SwitchCase{{Value: 1, Node: n.b.Int(10)}}, nil)
				n.check(err)
				return node
			},
			kind: core.KindInteger,
			want: core.Int(0),
		},
		{
			name: "join skips empty parts",
			root: func(n nb) Node {
				node, err := n.b.Join(" | ", n.b.Str("a"), n.b.Str(""), n.v("tags"), n.fn("label"))
				n.check(err)
				return node
			},
			kind: core.KindString,
			want: core.Str("a | screen | main | Settings"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestBuilder(t)
			tree := treeOf(n, tt.root(n))
			res := tree.Evaluate("r", screen(newReleaseLog()), tt.kind)
			if diff := cmp.Diff(tt.want, res.Value); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
			if res.Degraded() {
				t.Errorf("unexpected diagnostics: %v", res.Diagnostics)
			}
		})
	}
}

func TestEvaluate_LogicShortCircuits(t *testing.T) {
	tests := []struct {
		name      string
		root      func(n nb) Node
		want      bool
		wantCodes []string
	}{
		{
			name: "or stops at first true",
			root: func(n nb) Node {
				node, err := n.b.Or(n.b.Bool(true), n.fn("failFlag"))
				n.check(err)
				return node
			},
			want: true,
		},
		{
			name: "and stops at first false",
			root: func(n nb) Node {
				node, err := n.b.And(n.b.Bool(false), n.fn("failFlag"))
				n.check(err)
				return node
			},
			want: false,
		},
		{
			name: "and evaluates every true operand",
			root: func(n nb) Node {
				node, err := n.b.And(n.b.Bool(true), n.fn("failFlag"))
				n.check(err)
				return node
			},
			want:      false,
			wantCodes: []string{CodeOperationFailed},
		},
		{
			name: "not",
			root: func(n nb) Node {
				node, err := n.b.Not(n.fn("isEmpty", n.v("text")))
				n.check(err)
				return node
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestBuilder(t)
			tree := treeOf(n, tt.root(n))
			res := tree.Evaluate("r", screen(newReleaseLog()), core.KindBoolean)
			if res.Value.Bool != tt.want {
				t.Errorf("value = %v, want %v", res.Value.Bool, tt.want)
			}
			if diff := cmp.Diff(tt.wantCodes, diagCodes(res.Diagnostics)); diff != "" {
				t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluate_Degrades(t *testing.T) {
	tests := []struct {
		name     string
		root     func(n nb) Node
		kind     core.ValueKind
		delegate func() core.VariableDelegate
		want     core.Value
		wantCode string
		wantMsg  string
	}{
		{
			name:     "kind mismatch",
			root:     func(n nb) Node { return n.v("text") },
			kind:     core.KindInteger,
			want:     core.Int(0),
			wantCode: CodeKindMismatch,
		},
		{
			name:     "number cannot narrow to integer",
			root:     func(n nb) Node { return n.v("width") },
			kind:     core.KindInteger,
			want:     core.Int(0),
			wantCode: CodeKindMismatch,
		},
		{
			name:     "variable the delegate does not expose",
			root:     func(n nb) Node { return n.v("checked") },
			kind:     core.KindBoolean,
			want:     core.Bool(false),
			wantCode: CodeDelegateError,
			wantMsg:  "no such variable",
		},
		{
			name:     "accessor error",
			root:     func(n nb) Node { return n.v("broken") },
			kind:     core.KindString,
			want:     core.Str(""),
			wantCode: CodeDelegateError,
			wantMsg:  "broken accessor",
		},
		{
			name: "accessor panic",
			root: func(n nb) Node { return n.v("text") },
			kind: core.KindString,
			delegate: func() core.VariableDelegate {
				d := screen(newReleaseLog())
				d.panicRead = true
				return d
			},
			want:     core.Str(""),
			wantCode: CodeDelegateError,
			wantMsg:  "delegate panicked",
		},
		{
			name:     "nil delegate",
			root:     func(n nb) Node { return n.v("text") },
			kind:     core.KindString,
			delegate: func() core.VariableDelegate { return nil },
			want:     core.Str(""),
			wantCode: CodeNoDelegate,
		},
		{
			name:     "operation error",
			root:     func(n nb) Node { return n.fn("fail") },
			kind:     core.KindString,
			want:     core.Str(""),
			wantCode: CodeOperationFailed,
			wantMsg:  "fail: operation failed",
		},
		{
			name:     "operation panic",
			root:     func(n nb) Node { return n.fn("boom") },
			kind:     core.KindString,
			want:     core.Str(""),
			wantCode: CodeOperationFailed,
			wantMsg:  "kaboom",
		},
		{
			name:     "operation returns the wrong kind",
			root:     func(n nb) Node { return n.fn("liar") },
			kind:     core.KindInteger,
			want:     core.Int(0),
			wantCode: CodeReturnMismatch,
			wantMsg:  "liar returned string, declared integer",
		},
		{
			name:     "unbound forEachChild",
			root:     func(n nb) Node { return n.each(n.v("children"), nil) },
			kind:     core.KindArray,
			want:     core.Arr(nil),
			wantCode: CodeUnboundFunction,
		},
		{
			name:     "integer division by zero",
			root:     func(n nb) Node { return n.math(OpDivide, n.v("count"), n.b.Int(0)) },
			kind:     core.KindInteger,
			want:     core.Int(0),
			wantCode: CodeDivisionByZero,
			wantMsg:  "integer / by zero",
		},
		{
			name:     "number modulo by zero",
			root:     func(n nb) Node { return n.math(OpModulo, n.v("width"), n.b.Num(0)) },
			kind:     core.KindNumber,
			want:     core.Num(0),
			wantCode: CodeDivisionByZero,
			wantMsg:  "% by zero",
		},
		{
			name:     "child array requested at top level",
			root:     func(n nb) Node { return n.v("children") },
			kind:     core.KindChildArray,
			want:     core.None(),
			wantCode: CodeUnsupportedKind,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestBuilder(t)
			tree := treeOf(n, tt.root(n))
			var d core.VariableDelegate = screen(newReleaseLog())
			if tt.delegate != nil {
				d = tt.delegate()
			}
			res := tree.Evaluate("r", d, tt.kind)
			if diff := cmp.Diff(tt.want, res.Value); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
			if len(res.Diagnostics) != 1 {
				t.Fatalf("diagnostics = %v, want exactly one", res.Diagnostics)
			}
			got := res.Diagnostics[0]
			if got.Code != tt.wantCode {
				t.Errorf("code = %s, want %s (%s)", got.Code, tt.wantCode, got.Message)
			}
			if !strings.Contains(got.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestEvaluateNode_MissingAndUnknownNodes(t *testing.T) {
	n := newTestBuilder(t)
	tree := treeOf(n, n.b.Bool(true))

	res := tree.EvaluateNode(nil, screen(newReleaseLog()), core.KindString)
	if diff := cmp.Diff([]string{CodeMissingNode}, diagCodes(res.Diagnostics)); diff != "" {
		t.Errorf("nil node diagnostics mismatch (-want +got):\n%s", diff)
	}
	if res.Rule != "<nil>" || res.Value.Kind != core.KindString || res.Value.Str != "" {
		t.Errorf("nil node result = %+v", res)
	}

	res = tree.EvaluateNode(rogueNode{baseNode{kind: core.KindString}}, screen(newReleaseLog()), core.KindString)
	if diff := cmp.Diff([]string{CodeMissingNode}, diagCodes(res.Diagnostics)); diff != "" {
		t.Errorf("unknown node diagnostics mismatch (-want +got):\n%s", diff)
	}
	if res.Diagnostics[0].Node != "rogue" {
		t.Errorf("diagnostic node = %q", res.Diagnostics[0].Node)
	}
}

func TestEvaluate_DiagnosticDepth(t *testing.T) {
	n := newTestBuilder(t)
	join, err := n.b.Join(" ", n.fn("uppercase", n.v("broken")))
	n.check(err)
	tree := treeOf(n, join)

	res := tree.Evaluate("r", screen(newReleaseLog()), core.KindString)
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	if d := res.Diagnostics[0]; d.Depth != 2 || d.Node != "$broken" {
		t.Errorf("diagnostic = %+v, want depth 2 at $broken", d)
	}
}

func TestForEachChild(t *testing.T) {
	tests := []struct {
		name      string
		fn        func(n nb) Node
		want      []string
		wantCodes []string
	}{
		{
			name: "labels",
			fn:   func(n nb) Node { return n.fn("label") },
			want: []string{"Save", "Wi-Fi", "Help"},
		},
		{
			name: "failure on one child keeps the others",
			fn:   func(n nb) Node { return n.fn("labelUnless", n.b.Str("Wi-Fi")) },
			want: []string{"Save", "", "Help"},
			wantCodes: []string{
				CodeOperationFailed,
			},
		},
		{
			name: "enum switch per child",
			fn: func(n nb) Node {
				node, err := n.b.Switch(n.v("role"), []SwitchCase{
					{Value: 1, Node: n.b.Str("press")},
					{Value: 2, Node: n.b.Str("toggle")},
				}, n.b.Str("look"))
				n.check(err)
				return node
			},
			want: []string{"press", "toggle", "press"},
		},
		{
			name: "checked state read per child",
			fn: func(n nb) Node {
				return n.ifElse(n.v("checked"), n.b.Str("on"), n.b.Str("off"))
			},
			want:      []string{"off", "on", "off"},
			wantCodes: []string{CodeDelegateError, CodeDelegateError},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestBuilder(t)
			tree := treeOf(n, n.each(n.v("children"), tt.fn(n)))

			log := newReleaseLog()
			res := tree.Evaluate("r", screen(log), core.KindArray)
			if diff := cmp.Diff(tt.want, res.Value.Arr); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCodes, diagCodes(res.Diagnostics)); diff != "" {
				t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
			}
			if out := log.outstanding(); out != 0 {
				t.Errorf("%d children not released", out)
			}
			for _, name := range []string{"a", "b", "c"} {
				if got := log.releases(name); got != 1 {
					t.Errorf("child %s released %d times, want 1", name, got)
				}
			}
		})
	}
}

func TestForEachChild_NilChild(t *testing.T) {
	n := newTestBuilder(t)
	tree := treeOf(n, n.each(n.v("children"), n.fn("label")))

	log := newReleaseLog()
	root := fake("root", nil, fake("a", map[core.VariableID]core.Value{varText: core.Str("Save")}), nil)
	root.log = log

	res := tree.Evaluate("r", root, core.KindArray)
	if diff := cmp.Diff([]string{"Save", ""}, res.Value.Arr); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{CodeNilChild}, diagCodes(res.Diagnostics)); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	if out := log.outstanding(); out != 0 {
		t.Errorf("%d children not released", out)
	}
}

func TestForEachChild_EnumerationErrorReleasesChildren(t *testing.T) {
	n := newTestBuilder(t)
	tree := treeOf(n, n.each(n.v("children"), n.fn("label")))

	log := newReleaseLog()
	root := screen(log)
	root.childErr = errors.New("tree changed")

	res := tree.Evaluate("r", root, core.KindArray)
	if len(res.Value.Arr) != 0 || res.Value.Arr == nil {
		t.Errorf("value = %#v, want an empty array", res.Value.Arr)
	}
	if diff := cmp.Diff([]string{CodeDelegateError}, diagCodes(res.Diagnostics)); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	if out := log.outstanding(); out != 0 {
		t.Errorf("%d children not released", out)
	}
}

func TestForEachChild_ReleasePanicReleasesRemaining(t *testing.T) {
	n := newTestBuilder(t)
	tree := treeOf(n, n.each(n.v("children"), n.fn("label")))

	log := newReleaseLog()
	root := screen(log)
	root.kids[1].panicRelease = true

	res := tree.Evaluate("r", root, core.KindArray)
	if diff := cmp.Diff([]string{CodeEvaluationPanic}, diagCodes(res.Diagnostics)); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	if res.Value.Kind != core.KindArray || len(res.Value.Arr) != 0 {
		t.Errorf("value = %v, want an empty array", res.Value)
	}
	if out := log.outstanding(); out != 0 {
		t.Errorf("%d children not released", out)
	}
}

func TestResolveToChildArray_TransfersOwnership(t *testing.T) {
	n := newTestBuilder(t)
	tree := treeOf(n, n.v("children"))
	src, _ := tree.Rule("r")

	log := newReleaseLog()
	tr := tree.NewTrace("kids")
	children := tr.ResolveToChildArray(src, screen(log))
	if len(children) != 3 {
		t.Fatalf("got %d children, want 3", len(children))
	}
	if out := log.outstanding(); out != 3 {
		t.Errorf("outstanding = %d, want 3 before the caller releases", out)
	}
	if got := tr.ResolveToString(n.fn("label"), children[1]); got != "Wi-Fi" {
		t.Errorf("label of child 1 = %q", got)
	}
	for _, c := range children {
		c.Release()
	}
	if out := log.outstanding(); out != 0 {
		t.Errorf("outstanding = %d after release", out)
	}
	if len(tr.Diagnostics()) != 0 {
		t.Errorf("unexpected diagnostics: %v", tr.Diagnostics())
	}
}

func TestResolveToChildArray_Branches(t *testing.T) {
	n := newTestBuilder(t)
	pick := n.ifElse(n.v("checked"), n.v("children"), nil)
	tree := treeOf(n, pick)

	log := newReleaseLog()
	root := screen(log)
	root.vals[varChecked] = core.Bool(false)

	tr := tree.NewTrace("pick")
	if got := tr.ResolveToChildArray(pick, root); got != nil {
		t.Errorf("false branch without else = %v, want nil", got)
	}
	root.vals[varChecked] = core.Bool(true)
	got := tr.ResolveToChildArray(pick, root)
	if len(got) != 3 {
		t.Fatalf("true branch returned %d children", len(got))
	}
	for _, c := range got {
		c.Release()
	}

	tr.ResolveToChildArray(n.b.Str("x"), root)
	if diff := cmp.Diff([]string{CodeKindMismatch}, diagCodes(tr.Diagnostics())); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	if out := log.outstanding(); out != 0 {
		t.Errorf("outstanding = %d", out)
	}
}

func TestTrace_ResolveToNumberWidens(t *testing.T) {
	n := newTestBuilder(t)
	tree := treeOf(n, n.b.Bool(true))
	tr := tree.NewTrace("direct")
	if got := tr.ResolveToNumber(n.v("count"), screen(newReleaseLog())); got != 3 {
		t.Errorf("ResolveToNumber() = %v, want 3", got)
	}
	if got := tr.ResolveToEnum(n.v("role"), screen(newReleaseLog())); got != 0 {
		t.Errorf("ResolveToEnum() = %v, want 0", got)
	}
	if got := tr.ResolveToArray(n.v("tags"), nil); got == nil || len(got) != 0 {
		t.Errorf("ResolveToArray(nil delegate) = %#v, want empty", got)
	}
	if tr.EvalID() == "" || tr.Indent() != 0 {
		t.Errorf("trace id %q indent %d", tr.EvalID(), tr.Indent())
	}
}
