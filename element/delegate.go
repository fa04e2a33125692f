package element

import (
	"errors"
	"fmt"
	"slices"

	"github.com/petal-labs/petalrules/core"
)

var (
	// ErrUnknownVariable is returned for ids the accessor does not serve.
	ErrUnknownVariable = errors.New("element: unknown variable")

	// ErrReleased is returned when a released delegate is read.
	ErrReleased = errors.New("element: delegate released")

	// ErrNoRange is returned when a range variable is read from an element
	// without a range.
	ErrNoRange = errors.New("element: element has no range")
)

// Delegate exposes one Node to the rule engine. Delegates are obtained from
// a Tracker and must be released exactly once.
type Delegate struct {
	node     *Node
	depth    int
	index    int
	tracker  *Tracker
	released bool
}

// Node returns the element this delegate describes.
func (d *Delegate) Node() *Node { return d.node }

func (d *Delegate) check(id core.VariableID, kind core.ValueKind) error {
	if d.released {
		return fmt.Errorf("%w: element %d", ErrReleased, d.node.ID)
	}
	for _, v := range Variables() {
		if v.ID == id {
			if v.Kind != kind {
				return fmt.Errorf("%w: %s is %s, not %s", ErrUnknownVariable, v.Name, v.Kind, kind)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrUnknownVariable, id)
}

// Boolean implements core.VariableDelegate.
func (d *Delegate) Boolean(id core.VariableID) (bool, error) {
	if err := d.check(id, core.KindBoolean); err != nil {
		return false, err
	}
	switch id {
	case VarCheckable:
		return d.node.Checkable, nil
	case VarChecked:
		return d.node.Checked, nil
	case VarEnabled:
		return !d.node.Disabled, nil
	case VarFocusable:
		return d.node.Focusable, nil
	default:
		return d.node.Selected, nil
	}
}

// Integer implements core.VariableDelegate.
func (d *Delegate) Integer(id core.VariableID) (int, error) {
	if err := d.check(id, core.KindInteger); err != nil {
		return 0, err
	}
	switch id {
	case VarChildCount:
		n := 0
		for _, c := range d.node.Children {
			if c != nil {
				n++
			}
		}
		return n, nil
	case VarDepth:
		return d.depth, nil
	default:
		return d.index, nil
	}
}

// Number implements core.VariableDelegate.
func (d *Delegate) Number(id core.VariableID) (float64, error) {
	if err := d.check(id, core.KindNumber); err != nil {
		return 0, err
	}
	r := d.node.Range
	if r == nil {
		return 0, fmt.Errorf("%w: element %d", ErrNoRange, d.node.ID)
	}
	switch id {
	case VarRangeMin:
		return r.Min, nil
	case VarRangeMax:
		return r.Max, nil
	default:
		return r.Current, nil
	}
}

// String implements core.VariableDelegate.
func (d *Delegate) String(id core.VariableID) (string, error) {
	if err := d.check(id, core.KindString); err != nil {
		return "", err
	}
	switch id {
	case VarText:
		return d.node.Text, nil
	case VarContentDescription:
		return d.node.ContentDescription, nil
	case VarClassName:
		return d.node.ClassName, nil
	default:
		return d.node.Hint, nil
	}
}

// Enum implements core.VariableDelegate.
func (d *Delegate) Enum(id core.VariableID) (int, error) {
	if err := d.check(id, core.KindEnum); err != nil {
		return 0, err
	}
	role := d.node.Role
	if role == "" {
		role = "none"
	}
	v, ok := RoleEnum.Cases[role]
	if !ok {
		return 0, fmt.Errorf("element %d: unknown role %q", d.node.ID, d.node.Role)
	}
	return v, nil
}

// Array implements core.VariableDelegate.
func (d *Delegate) Array(id core.VariableID) ([]string, error) {
	if err := d.check(id, core.KindArray); err != nil {
		return nil, err
	}
	return slices.Clone(d.node.Actions), nil
}

// Children implements core.VariableDelegate. Every returned delegate is
// counted by the tracker until released.
func (d *Delegate) Children(id core.VariableID) ([]core.VariableDelegate, error) {
	if err := d.check(id, core.KindChildArray); err != nil {
		return nil, err
	}
	out := make([]core.VariableDelegate, 0, len(d.node.Children))
	for i, c := range d.node.Children {
		if c == nil {
			continue
		}
		out = append(out, d.tracker.acquire(c, d.depth+1, i))
	}
	return out, nil
}

// Release implements core.VariableDelegate. Releasing twice is recorded by
// the tracker as a caller error.
func (d *Delegate) Release() {
	if d.released {
		d.tracker.doubleRelease(d)
		return
	}
	d.released = true
	d.tracker.release(d)
}

var _ core.VariableDelegate = (*Delegate)(nil)
