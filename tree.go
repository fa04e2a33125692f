package petalrules

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/petalrules/core"
)

// ParseTree is an immutable set of named rule trees. It is safe for
// concurrent evaluation against distinct variable delegates; every
// evaluation walks the tree fresh and nothing is cached.
type ParseTree struct {
	rules     map[string]Node
	order     []string
	variables map[string]core.Variable
	enums     map[string]core.EnumType
	opts      options
}

// Result is the outcome of one top-level evaluation.
type Result struct {
	EvalID      string         `json:"eval_id"`
	Rule        string         `json:"rule"`
	Kind        core.ValueKind `json:"kind"`
	Value       core.Value     `json:"-"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
	Elapsed     time.Duration  `json:"elapsed"`
}

// Degraded reports whether any part of the evaluation fell back to a
// default value.
func (r Result) Degraded() bool {
	return len(r.Diagnostics) > 0
}

// Rules returns the rule names in declaration order.
func (t *ParseTree) Rules() []string {
	return slices.Clone(t.order)
}

// Rule returns the root node of a named rule.
func (t *ParseTree) Rule(name string) (Node, bool) {
	n, ok := t.rules[name]
	return n, ok
}

// Variables returns the declared variables ordered by id.
func (t *ParseTree) Variables() []core.Variable {
	vars := make([]core.Variable, 0, len(t.variables))
	for _, v := range t.variables {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].ID < vars[j].ID })
	return vars
}

// Enum returns a declared enum type.
func (t *ParseTree) Enum(name string) (core.EnumType, bool) {
	e, ok := t.enums[name]
	return e, ok
}

// NewTrace starts a resolution pass for calling the ResolveTo methods
// directly. label names the pass in diagnostics and events.
func (t *ParseTree) NewTrace(label string) *Trace {
	return t.newTrace(label, core.KindUndefined)
}

func (t *ParseTree) newTrace(label string, kind core.ValueKind) *Trace {
	return &Trace{
		evalID:  uuid.NewString(),
		label:   label,
		logger:  t.opts.logger,
		verbose: t.opts.traceLogging,
		handler: t.opts.handler,
		kind:    kind,
		state:   &traceState{},
	}
}

// Evaluate resolves the named rule against d as the requested kind.
// Evaluation is total: failures degrade to the zero value of kind and are
// reported in Result.Diagnostics. Child-Array results cannot be requested
// here because their delegates would escape; use Trace.ResolveToChildArray.
func (t *ParseTree) Evaluate(rule string, d core.VariableDelegate, kind core.ValueKind) Result {
	tr := t.newTrace(rule, kind)
	root, ok := t.rules[rule]
	if !ok {
		return t.run(tr, nil, d, kind, func() {
			tr.degrade(nil, CodeUnknownRule, "no rule named %q", rule)
		})
	}
	return t.run(tr, root, d, kind, nil)
}

// EvaluateNode resolves a node directly. The node should belong to this tree.
func (t *ParseTree) EvaluateNode(n Node, d core.VariableDelegate, kind core.ValueKind) Result {
	label := "<nil>"
	if n != nil {
		label = n.String()
	}
	return t.run(t.newTrace(label, kind), n, d, kind, nil)
}

// EvaluateAll evaluates every rule at its own declared kind, in declaration
// order.
func (t *ParseTree) EvaluateAll(d core.VariableDelegate) []Result {
	results := make([]Result, 0, len(t.order))
	for _, name := range t.order {
		results = append(results, t.Evaluate(name, d, t.rules[name].Kind()))
	}
	return results
}

func (t *ParseTree) run(tr *Trace, n Node, d core.VariableDelegate, kind core.ValueKind, missing func()) (res Result) {
	start := time.Now()
	tr.emit(NewEvent(EventEvalStarted, tr.evalID))

	res = Result{
		EvalID: tr.evalID,
		Rule:   tr.label,
		Kind:   kind,
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				tr.degrade(n, CodeEvaluationPanic, "panic: %v", r)
				res.Value = core.Zero(kind)
			}
		}()
		switch {
		case missing != nil:
			missing()
			res.Value = core.Zero(kind)
		case kind == core.KindChildArray || !kind.Valid():
			tr.degrade(n, CodeUnsupportedKind, "%s cannot be requested from a top-level evaluation", kind)
			res.Value = core.Zero(kind)
		default:
			res.Value = tr.resolve(n, kind, d)
		}
	}()

	res.Elapsed = time.Since(start)
	res.Diagnostics = tr.Diagnostics()

	done := NewEvent(EventEvalFinished, tr.evalID).
		WithPayload("diagnostics", len(res.Diagnostics)).
		WithPayload("value", res.Value.String())
	done.Elapsed = res.Elapsed
	tr.emit(done)
	return res
}
