// Package element provides a reference VariableDelegate over a serializable
// tree of UI elements. It is used by the CLI to evaluate rules against
// recorded screen snapshots, and by tests.
package element

import (
	"github.com/petal-labs/petalrules/core"
)

// Node describes one UI element and its children.
type Node struct {
	// ID uniquely identifies this element within a snapshot.
	ID int64 `json:"id" yaml:"id"`

	// ClassName is the platform widget class, e.g. "android.widget.Button".
	ClassName string `json:"class_name,omitempty" yaml:"class_name,omitempty"`

	// Text is the visible text of the element.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// ContentDescription is the author-supplied accessibility label.
	ContentDescription string `json:"content_description,omitempty" yaml:"content_description,omitempty"`

	// Hint is the placeholder or hint text.
	Hint string `json:"hint,omitempty" yaml:"hint,omitempty"`

	// Role is one of the case names of RoleEnum. Empty means "none".
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	Checkable bool `json:"checkable,omitempty" yaml:"checkable,omitempty"`
	Checked   bool `json:"checked,omitempty" yaml:"checked,omitempty"`
	Disabled  bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Focusable bool `json:"focusable,omitempty" yaml:"focusable,omitempty"`
	Selected  bool `json:"selected,omitempty" yaml:"selected,omitempty"`

	// Range is set for elements with a value range (sliders, progress bars).
	Range *Range `json:"range,omitempty" yaml:"range,omitempty"`

	// Actions lists the names of the actions the element supports.
	Actions []string `json:"actions,omitempty" yaml:"actions,omitempty"`

	// Children are the child elements in traversal order.
	Children []*Node `json:"children,omitempty" yaml:"children,omitempty"`
}

// Range is the value range of an adjustable element.
type Range struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Current float64 `json:"current" yaml:"current"`
}

// Count returns the number of elements in the tree rooted at n.
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// Variable ids exposed by Delegate.
const (
	VarText core.VariableID = iota + 1
	VarContentDescription
	VarClassName
	VarHint
	VarRole
	VarCheckable
	VarChecked
	VarEnabled
	VarFocusable
	VarSelected
	VarChildCount
	VarChildren
	VarActions
	VarRangeMin
	VarRangeMax
	VarRangeCurrent
	VarDepth
	VarIndex
)

// RoleEnum is the enum type of VarRole.
var RoleEnum = core.EnumType{
	Name: "role",
	Cases: map[string]int{
		"none":      0,
		"button":    1,
		"checkbox":  2,
		"switch":    3,
		"text":      4,
		"image":     5,
		"edit_text": 6,
		"list":      7,
		"seek_bar":  8,
		"heading":   9,
		"link":      10,
	},
}

// Enums returns the enum types used by Variables.
func Enums() []core.EnumType {
	return []core.EnumType{RoleEnum}
}

// Variables returns the declarations of every variable Delegate exposes.
func Variables() []core.Variable {
	return []core.Variable{
		{Name: "text", ID: VarText, Kind: core.KindString},
		{Name: "contentDescription", ID: VarContentDescription, Kind: core.KindString},
		{Name: "className", ID: VarClassName, Kind: core.KindString},
		{Name: "hint", ID: VarHint, Kind: core.KindString},
		{Name: "role", ID: VarRole, Kind: core.KindEnum, Enum: RoleEnum.Name},
		{Name: "checkable", ID: VarCheckable, Kind: core.KindBoolean},
		{Name: "checked", ID: VarChecked, Kind: core.KindBoolean},
		{Name: "enabled", ID: VarEnabled, Kind: core.KindBoolean},
		{Name: "focusable", ID: VarFocusable, Kind: core.KindBoolean},
		{Name: "selected", ID: VarSelected, Kind: core.KindBoolean},
		{Name: "childCount", ID: VarChildCount, Kind: core.KindInteger},
		{Name: "children", ID: VarChildren, Kind: core.KindChildArray},
		{Name: "actions", ID: VarActions, Kind: core.KindArray},
		{Name: "rangeMin", ID: VarRangeMin, Kind: core.KindNumber},
		{Name: "rangeMax", ID: VarRangeMax, Kind: core.KindNumber},
		{Name: "rangeCurrent", ID: VarRangeCurrent, Kind: core.KindNumber},
		{Name: "depth", ID: VarDepth, Kind: core.KindInteger},
		{Name: "index", ID: VarIndex, Kind: core.KindInteger},
	}
}

// Snapshot is a recorded element tree.
type Snapshot struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Root *Node  `json:"root" yaml:"root"`
}
