package element

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/registry"
)

// ErrNotElement is returned by element operations invoked with a delegate
// that is not an element Delegate.
var ErrNotElement = errors.New("element: delegate is not an element")

var library = newLibrary()

// Operations returns the element-aware rule operations.
func Operations() []registry.Operation {
	return library.Operations()
}

// Library returns the builtin operations merged with the element
// operations, suitable for NewBuilder.
func Library() (*registry.Library, error) {
	return registry.Merge(registry.Builtins(), library)
}

func newLibrary() *registry.Library {
	l := registry.New()
	l.MustRegister(
		registry.WithDoc(registry.Op0("getLabel", func(d core.VariableDelegate) (string, error) {
			n, err := nodeOf(d)
			if err != nil {
				return "", err
			}
			return Label(n), nil
		}), "Accessible label: content description, else text, else hint"),
		registry.WithDoc(registry.Op0("getRoleName", func(d core.VariableDelegate) (string, error) {
			n, err := nodeOf(d)
			if err != nil {
				return "", err
			}
			return RoleName(n.Role), nil
		}), "Spoken name of the element role"),
		registry.WithDoc(registry.Op1("hasAction", func(d core.VariableDelegate, action string) (bool, error) {
			n, err := nodeOf(d)
			if err != nil {
				return false, err
			}
			return slices.Contains(n.Actions, action), nil
		}), "Report whether the element supports an action"),
		registry.WithDoc(registry.Op0("rangePercent", func(d core.VariableDelegate) (*int, error) {
			n, err := nodeOf(d)
			if err != nil {
				return nil, err
			}
			r := n.Range
			if r == nil || r.Max <= r.Min {
				return nil, nil
			}
			p := int(math.Round((r.Current - r.Min) / (r.Max - r.Min) * 100))
			return &p, nil
		}), "Current range position as a percentage, absent without a range"),
		registry.WithDoc(registry.Op0("getStateDescription", func(d core.VariableDelegate) (string, error) {
			n, err := nodeOf(d)
			if err != nil {
				return "", err
			}
			return StateDescription(n), nil
		}), "Checked, selected and disabled state in words"),
	)
	return l
}

func nodeOf(d core.VariableDelegate) (*Node, error) {
	ed, ok := d.(*Delegate)
	if !ok || ed == nil {
		return nil, fmt.Errorf("%w: %T", ErrNotElement, d)
	}
	if ed.released {
		return nil, fmt.Errorf("%w: element %d", ErrReleased, ed.node.ID)
	}
	return ed.node, nil
}

// Label returns the accessible label of n.
func Label(n *Node) string {
	for _, s := range []string{n.ContentDescription, n.Text, n.Hint} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

var roleNames = map[string]string{
	"button":    "Button",
	"checkbox":  "Checkbox",
	"switch":    "Switch",
	"image":     "Image",
	"edit_text": "Edit box",
	"list":      "List",
	"seek_bar":  "Slider",
	"heading":   "Heading",
	"link":      "Link",
}

// RoleName returns the spoken name of a role, or "" for roles that are not
// announced.
func RoleName(role string) string {
	return roleNames[role]
}

// StateDescription renders the toggle and availability state of n.
func StateDescription(n *Node) string {
	var parts []string
	if n.Checkable {
		if n.Checked {
			parts = append(parts, "checked")
		} else {
			parts = append(parts, "not checked")
		}
	}
	if n.Selected {
		parts = append(parts, "selected")
	}
	if n.Disabled {
		parts = append(parts, "disabled")
	}
	return strings.Join(parts, ", ")
}
