package registry

import (
	"fmt"

	"github.com/petal-labs/petalrules/core"
)

// The typed constructors below derive an operation's parameter and return
// kinds from Go types:
//
//	bool     -> boolean
//	int      -> integer
//	float64  -> number
//	string   -> string  (fmt.Stringer results render through String)
//	[]string -> array
//
// Pointer results (*bool, *int, *float64, *string) are optional: nil is the
// absent value. Any other type yields an undefined kind, which the tree
// builder rejects as an unsupported return or the library rejects as an
// unsupported parameter.

// Op0 creates an operation with no parameters.
func Op0[R any](name string, fn func(d core.VariableDelegate) (R, error)) Operation {
	return Operation{
		Name:   name,
		Return: kindOf[R](),
		Fn: func(c Call) (core.Value, error) {
			r, err := fn(c.Delegate)
			if err != nil {
				return core.None(), err
			}
			return toValue(r), nil
		},
	}
}

// Op1 creates an operation with one parameter.
func Op1[A, R any](name string, fn func(d core.VariableDelegate, a A) (R, error)) Operation {
	return Operation{
		Name:   name,
		Params: []core.ValueKind{kindOf[A]()},
		Return: kindOf[R](),
		Fn: func(c Call) (core.Value, error) {
			r, err := fn(c.Delegate, fromValue[A](c.Args[0]))
			if err != nil {
				return core.None(), err
			}
			return toValue(r), nil
		},
	}
}

// Op2 creates an operation with two parameters.
func Op2[A, B, R any](name string, fn func(d core.VariableDelegate, a A, b B) (R, error)) Operation {
	return Operation{
		Name:   name,
		Params: []core.ValueKind{kindOf[A](), kindOf[B]()},
		Return: kindOf[R](),
		Fn: func(c Call) (core.Value, error) {
			r, err := fn(c.Delegate, fromValue[A](c.Args[0]), fromValue[B](c.Args[1]))
			if err != nil {
				return core.None(), err
			}
			return toValue(r), nil
		},
	}
}

// Op3 creates an operation with three parameters.
func Op3[A, B, C, R any](name string, fn func(d core.VariableDelegate, a A, b B, c C) (R, error)) Operation {
	return Operation{
		Name:   name,
		Params: []core.ValueKind{kindOf[A](), kindOf[B](), kindOf[C]()},
		Return: kindOf[R](),
		Fn: func(c Call) (core.Value, error) {
			r, err := fn(c.Delegate, fromValue[A](c.Args[0]), fromValue[B](c.Args[1]), fromValue[C](c.Args[2]))
			if err != nil {
				return core.None(), err
			}
			return toValue(r), nil
		},
	}
}

// WithDoc returns a copy of op with its doc string set.
func WithDoc(op Operation, doc string) Operation {
	op.Doc = doc
	return op
}

func kindOf[T any]() core.ValueKind {
	switch any((*T)(nil)).(type) {
	case *bool, **bool:
		return core.KindBoolean
	case *int, **int:
		return core.KindInteger
	case *float64, **float64:
		return core.KindNumber
	case *string, **string, *fmt.Stringer:
		return core.KindString
	case *[]string:
		return core.KindArray
	}
	var zero T
	if _, ok := any(zero).(fmt.Stringer); ok {
		return core.KindString
	}
	return core.KindUndefined
}

func toValue(v any) core.Value {
	switch x := v.(type) {
	case bool:
		return core.Bool(x)
	case int:
		return core.Int(x)
	case float64:
		return core.Num(x)
	case string:
		return core.Str(x)
	case []string:
		if x == nil {
			return core.None()
		}
		return core.Arr(x)
	case *bool:
		if x == nil {
			return core.None()
		}
		return core.Bool(*x)
	case *int:
		if x == nil {
			return core.None()
		}
		return core.Int(*x)
	case *float64:
		if x == nil {
			return core.None()
		}
		return core.Num(*x)
	case *string:
		if x == nil {
			return core.None()
		}
		return core.Str(*x)
	case fmt.Stringer:
		return core.Str(x.String())
	default:
		return core.None()
	}
}

func fromValue[T any](v core.Value) T {
	var out T
	switch p := any(&out).(type) {
	case *bool:
		*p = v.Bool
	case *int:
		*p = v.Int
	case *float64:
		*p, _ = v.Number()
	case *string:
		*p = v.Str
	case *[]string:
		*p = v.Arr
	}
	return out
}
