// Package registry provides rule operation libraries for PetalRules.
// A Library maps operation names to typed signatures and the closures that
// implement them. Rule trees bind to operations once, at build time.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/petal-labs/petalrules/core"
)

// ErrOperationExists is returned when an operation name is registered twice.
var ErrOperationExists = errors.New("operation exists")

// Func implements a rule operation. Arguments arrive already resolved to the
// operation's declared parameter kinds.
type Func func(call Call) (core.Value, error)

// Operation describes a named, arity-fixed callable exposed by a rule
// delegate.
type Operation struct {
	Name   string           `json:"name"`
	Params []core.ValueKind `json:"params"`
	Return core.ValueKind   `json:"return"`
	Doc    string           `json:"doc,omitempty"`
	Fn     Func             `json:"-"`
}

// Arity returns the number of declared parameters.
func (op Operation) Arity() int {
	return len(op.Params)
}

// Signature renders the operation as "name(kind, kind) kind".
func (op Operation) Signature() string {
	params := make([]string, len(op.Params))
	for i, p := range op.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("%s(%s) %s", op.Name, strings.Join(params, ", "), op.Return)
}

// Call carries the inputs of one operation invocation.
type Call struct {
	// Delegate is the element the enclosing node is being resolved against.
	Delegate core.VariableDelegate

	// Args holds one resolved value per declared parameter.
	Args []core.Value
}

// Bool returns argument i as a boolean.
func (c Call) Bool(i int) bool { return c.Args[i].Bool }

// Int returns argument i as an integer. Enum arguments return their value.
func (c Call) Int(i int) int { return c.Args[i].Int }

// Num returns argument i as a real number, widening integers.
func (c Call) Num(i int) float64 {
	f, _ := c.Args[i].Number()
	return f
}

// Str returns argument i as a string.
func (c Call) Str(i int) string { return c.Args[i].Str }

// Arr returns argument i as an array of display values.
func (c Call) Arr(i int) []string { return c.Args[i].Arr }

// RuleDelegate is implemented by anything that exposes rule operations.
type RuleDelegate interface {
	Operations() []Operation
}

var (
	builtins     *Library
	builtinsOnce sync.Once
)

// Builtins returns the shared library of built-in operations. On first call
// it initializes the library and registers every builtin.
func Builtins() *Library {
	builtinsOnce.Do(func() {
		builtins = New()
		registerBuiltins(builtins)
	})
	return builtins
}

// Library holds a set of operations keyed by name.
type Library struct {
	mu    sync.RWMutex
	ops   map[string]Operation
	order []string // preserves registration order
}

// New creates an empty library.
func New() *Library {
	return &Library{
		ops: make(map[string]Operation),
	}
}

// Register adds an operation. Names must be unique within a library and the
// declared parameter kinds must be defined kinds other than Child-Array.
func (l *Library) Register(op Operation) error {
	if op.Name == "" {
		return errors.New("registry: operation name is required")
	}
	if op.Fn == nil {
		return fmt.Errorf("registry: operation %q has no implementation", op.Name)
	}
	for i, p := range op.Params {
		if !p.Valid() || p == core.KindChildArray {
			return fmt.Errorf("registry: operation %q parameter %d has unsupported kind %s", op.Name, i, p)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.ops[op.Name]; exists {
		return fmt.Errorf("%s: %w", op.Name, ErrOperationExists)
	}
	l.ops[op.Name] = op
	l.order = append(l.order, op.Name)
	return nil
}

// MustRegister is like Register but panics on error. Intended for package
// initialization of static libraries.
func (l *Library) MustRegister(ops ...Operation) {
	for _, op := range ops {
		if err := l.Register(op); err != nil {
			panic(err)
		}
	}
}

// Get returns an operation by name.
func (l *Library) Get(name string) (Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	op, ok := l.ops[name]
	return op, ok
}

// Has returns true if the operation name is registered.
func (l *Library) Has(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ops[name]
	return ok
}

// Operations returns all operations in registration order.
func (l *Library) Operations() []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]Operation, 0, len(l.order))
	for _, name := range l.order {
		result = append(result, l.ops[name])
	}
	return result
}

// Len returns the number of registered operations.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops)
}

// Merge builds a new library containing the operations of every delegate in
// order. A name defined by more than one delegate is an error.
func Merge(delegates ...RuleDelegate) (*Library, error) {
	merged := New()
	for _, d := range delegates {
		if d == nil {
			continue
		}
		for _, op := range d.Operations() {
			if err := merged.Register(op); err != nil {
				return nil, err
			}
		}
	}
	return merged, nil
}

var _ RuleDelegate = (*Library)(nil)
