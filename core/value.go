package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a tagged value crossing the boundary between the engine and rule
// operations. A Value whose Present flag is false is the explicit "absent"
// result an operation returns in place of a null; the engine collapses it to
// the zero value of the requested kind.
type Value struct {
	Kind    ValueKind
	Present bool

	Bool bool
	Int  int
	Num  float64
	Str  string
	Arr  []string
}

// None returns an absent value.
func None() Value {
	return Value{}
}

// Bool returns a present Boolean value.
func Bool(b bool) Value {
	return Value{Kind: KindBoolean, Present: true, Bool: b}
}

// Int returns a present Integer value.
func Int(i int) Value {
	return Value{Kind: KindInteger, Present: true, Int: i}
}

// Num returns a present Number value.
func Num(f float64) Value {
	return Value{Kind: KindNumber, Present: true, Num: f}
}

// Str returns a present String value.
func Str(s string) Value {
	return Value{Kind: KindString, Present: true, Str: s}
}

// Enum returns a present Enum value holding the case's integer value.
func Enum(i int) Value {
	return Value{Kind: KindEnum, Present: true, Int: i}
}

// Arr returns a present Array value. A nil slice is normalized to empty.
func Arr(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Kind: KindArray, Present: true, Arr: items}
}

// Zero returns the present zero value of kind k: false, 0, 0.0, "" or an
// empty array. Child-Array and undefined kinds have no representation and
// yield an absent value.
func Zero(k ValueKind) Value {
	switch k {
	case KindBoolean:
		return Bool(false)
	case KindInteger:
		return Int(0)
	case KindNumber:
		return Num(0)
	case KindString:
		return Str("")
	case KindEnum:
		return Enum(0)
	case KindArray:
		return Arr(nil)
	default:
		return None()
	}
}

// Number returns the value widened to a real number. Only Integer and Number
// values widen; every other kind reports false.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInteger:
		return float64(v.Int), true
	case KindNumber:
		return v.Num, true
	default:
		return 0, false
	}
}

// String renders the value as display text.
func (v Value) String() string {
	if !v.Present {
		return "<absent>"
	}
	switch v.Kind {
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindInteger, KindEnum:
		return strconv.Itoa(v.Int)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindArray:
		return "[" + strings.Join(v.Arr, ", ") + "]"
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}

// Interface returns the Go representation of the value, or nil when absent.
// Used when encoding results as JSON.
func (v Value) Interface() any {
	if !v.Present {
		return nil
	}
	switch v.Kind {
	case KindBoolean:
		return v.Bool
	case KindInteger, KindEnum:
		return v.Int
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindArray:
		return v.Arr
	default:
		return nil
	}
}
