package registry

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/petal-labs/petalrules/core"
)

// registerBuiltins registers all built-in operations.
// Called once by Builtins() during singleton initialization.
func registerBuiltins(l *Library) {
	// Strings
	l.MustRegister(
		WithDoc(Op2("concat", func(_ core.VariableDelegate, a, b string) (string, error) {
			return a + b, nil
		}), "Concatenate two strings"),
		WithDoc(Op1("lowercase", func(_ core.VariableDelegate, s string) (string, error) {
			return strings.ToLower(s), nil
		}), "Lower-case a string"),
		WithDoc(Op1("uppercase", func(_ core.VariableDelegate, s string) (string, error) {
			return strings.ToUpper(s), nil
		}), "Upper-case a string"),
		WithDoc(Op1("trim", func(_ core.VariableDelegate, s string) (string, error) {
			return strings.TrimSpace(s), nil
		}), "Remove leading and trailing white space"),
		WithDoc(Op1("isEmpty", func(_ core.VariableDelegate, s string) (bool, error) {
			return strings.TrimSpace(s) == "", nil
		}), "Report whether a string is empty or white space"),
		WithDoc(Op1("length", func(_ core.VariableDelegate, s string) (int, error) {
			return utf8.RuneCountInString(s), nil
		}), "Number of characters in a string"),
		WithDoc(Op2("contains", func(_ core.VariableDelegate, s, sub string) (bool, error) {
			return strings.Contains(s, sub), nil
		}), "Report whether a string contains a substring"),
		WithDoc(Op2("startsWith", func(_ core.VariableDelegate, s, prefix string) (bool, error) {
			return strings.HasPrefix(s, prefix), nil
		}), "Report whether a string starts with a prefix"),
		WithDoc(Op2("firstNonEmpty", func(_ core.VariableDelegate, a, b string) (string, error) {
			if strings.TrimSpace(a) != "" {
				return a, nil
			}
			return b, nil
		}), "Return the first argument unless it is blank, else the second"),
	)

	// Arrays
	l.MustRegister(
		WithDoc(Op1("arrayLength", func(_ core.VariableDelegate, a []string) (int, error) {
			return len(a), nil
		}), "Number of elements in an array"),
		WithDoc(Op2("arrayContains", func(_ core.VariableDelegate, a []string, s string) (bool, error) {
			for _, item := range a {
				if item == s {
					return true, nil
				}
			}
			return false, nil
		}), "Report whether an array holds a value"),
		WithDoc(Op2("arrayElement", func(_ core.VariableDelegate, a []string, i int) (*string, error) {
			if i < 0 || i >= len(a) {
				return nil, nil
			}
			return &a[i], nil
		}), "Element at an index, or empty when out of range"),
	)

	// Numbers
	l.MustRegister(
		WithDoc(Op1("abs", func(_ core.VariableDelegate, f float64) (float64, error) {
			return math.Abs(f), nil
		}), "Absolute value"),
		WithDoc(Op1("round", func(_ core.VariableDelegate, f float64) (int, error) {
			return int(math.Round(f)), nil
		}), "Round to the nearest integer"),
		WithDoc(Op2("max", func(_ core.VariableDelegate, a, b float64) (float64, error) {
			return math.Max(a, b), nil
		}), "Larger of two numbers"),
		WithDoc(Op2("min", func(_ core.VariableDelegate, a, b float64) (float64, error) {
			return math.Min(a, b), nil
		}), "Smaller of two numbers"),
		WithDoc(Op3("percent", func(_ core.VariableDelegate, current, lo, hi float64) (int, error) {
			if hi <= lo {
				return 0, nil
			}
			p := (current - lo) / (hi - lo) * 100
			return int(math.Round(math.Max(0, math.Min(100, p)))), nil
		}), "Position of a value within a range as a whole percentage"),
		WithDoc(Op1("formatInteger", func(_ core.VariableDelegate, i int) (string, error) {
			return strconv.Itoa(i), nil
		}), "Render an integer as text"),
		WithDoc(Op1("formatNumber", func(_ core.VariableDelegate, f float64) (string, error) {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}), "Render a number as text"),
	)
}
