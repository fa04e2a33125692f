package core

import (
	"errors"
	"fmt"
)

// Build-time errors. Any of these prevents a rule tree from being built.
var (
	ErrUnsupportedReturnKind = errors.New("unsupported return kind")
	ErrArityMismatch         = errors.New("arity mismatch")
	ErrArgumentKindMismatch  = errors.New("argument kind mismatch")
	ErrInvalidChildSource    = errors.New("invalid child source")

	ErrUnknownOperation     = errors.New("unknown operation")
	ErrUnknownVariable      = errors.New("unknown variable")
	ErrUnknownEnum          = errors.New("unknown enum")
	ErrUnknownRule          = errors.New("unknown rule")
	ErrDuplicateDeclaration = errors.New("duplicate declaration")
	ErrBranchKindMismatch   = errors.New("branch kind mismatch")
	ErrOperandKindMismatch  = errors.New("operand kind mismatch")
	ErrAlreadyBound         = errors.New("function already bound")
	ErrForeignNode          = errors.New("node not built by this builder")
	ErrCyclicTree           = errors.New("cyclic tree")
)

// BuildError describes a structural failure while constructing a node.
type BuildError struct {
	Node   string // node description, e.g. `function "getLabel"`
	Detail string // human-readable detail
	Err    error  // one of the sentinel errors above
}

// Error implements the error interface for BuildError.
func (e *BuildError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Node, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Node, e.Err, e.Detail)
}

// Unwrap returns the sentinel error for errors.Is matching.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// NewBuildError creates a BuildError with a formatted detail message.
func NewBuildError(node string, err error, format string, args ...any) *BuildError {
	return &BuildError{
		Node:   node,
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}
