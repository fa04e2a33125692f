package petalrules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petal-labs/petalrules/core"
)

// Diagnostic codes recorded when evaluation degrades to a default value.
const (
	CodeKindMismatch       = "EV-001" // resolve called with a kind the node cannot produce
	CodeDelegateError      = "EV-002" // variable delegate accessor failed
	CodeOperationFailed    = "EV-003" // rule operation returned an error or panicked
	CodeUnboundFunction    = "EV-004" // forEachChild without a bound function
	CodeReturnMismatch     = "EV-005" // operation result does not match its declared kind
	CodeDivisionByZero     = "EV-006"
	CodeNoDelegate         = "EV-007" // nil variable delegate
	CodeEvaluationPanic    = "EV-008"
	CodeMissingNode        = "EV-009"
	CodeNilChild           = "EV-010" // child enumeration produced a nil delegate
	CodeUnknownRule        = "EV-011"
	CodeUnsupportedKind    = "EV-012" // top-level evaluation requested an unrepresentable kind
	CodeLintUnbound        = "LT-001"
	CodeLintChildArrayRule = "LT-002"
)

// Diagnostic records one degradation during evaluation, or a lint finding.
type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Node    string `json:"node,omitempty"`
	Depth   int    `json:"depth"`
}

func (d Diagnostic) String() string {
	if d.Node == "" {
		return fmt.Sprintf("[%s] %s", d.Code, d.Message)
	}
	return fmt.Sprintf("[%s] %s (at %s)", d.Code, d.Message, d.Node)
}

// Trace carries the state of one resolution pass: the evaluation id, the
// diagnostics recorded so far and the current depth, used as the log indent.
// A Trace is confined to a single goroutine.
type Trace struct {
	evalID  string
	label   string
	logger  *slog.Logger
	verbose bool
	handler EventHandler
	kind    core.ValueKind
	indent  int
	state   *traceState
}

type traceState struct {
	diags []Diagnostic
	seq   uint64
}

// EvalID returns the identifier of the evaluation this trace belongs to.
func (t *Trace) EvalID() string { return t.evalID }

// Diagnostics returns the diagnostics recorded so far.
func (t *Trace) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(t.state.diags))
	copy(out, t.state.diags)
	return out
}

// Indent returns the current depth of the resolution.
func (t *Trace) Indent() int { return t.indent }

func (t *Trace) child() *Trace {
	c := *t
	c.indent++
	return &c
}

func (t *Trace) nextSeq() uint64 {
	t.state.seq++
	return t.state.seq
}

func (t *Trace) emit(e Event) {
	if t.handler == nil {
		return
	}
	e.Seq = t.nextSeq()
	e.Rule = t.label
	e.ValueKind = t.kind
	t.handler(e)
}

// degrade records a diagnostic for n and logs it.
func (t *Trace) degrade(n Node, code, format string, args ...any) {
	d := Diagnostic{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Depth:   t.indent,
	}
	if n != nil {
		d.Node = n.String()
	}
	t.state.diags = append(t.state.diags, d)

	// A kind mismatch means the caller asked for the wrong kind, not that the
	// host data was bad.
	level := slog.LevelWarn
	if code == CodeKindMismatch {
		level = slog.LevelError
	}
	t.logger.Log(context.Background(), level, "rule evaluation degraded",
		"eval_id", t.evalID,
		"rule", t.label,
		"code", d.Code,
		"node", d.Node,
		"depth", d.Depth,
		"message", d.Message,
	)

	e := NewEvent(EventEvalDiagnostic, t.evalID)
	e.Diagnostic = &d
	t.emit(e)
}

func (t *Trace) debug(n Node, want core.ValueKind, v core.Value) {
	if !t.verbose {
		return
	}
	t.logger.Debug(strings.Repeat("  ", t.indent)+n.String(),
		"eval_id", t.evalID,
		"want", want.String(),
		"value", v.String(),
	)
}
