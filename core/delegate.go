package core

// VariableID identifies a variable exposed by a VariableDelegate. Rule trees
// map declared variable names to ids once, at build time.
type VariableID int

// VariableDelegate is the context a rule tree is evaluated against. One
// delegate describes one UI element.
//
// Accessors return an error when the element cannot supply the variable; the
// engine treats that as an evaluation-time failure and degrades to the zero
// value of the requested kind.
//
// Children returns an ordered sequence of child delegates. Each returned
// delegate is a distinct resource owned by the caller, who must call Release
// on it exactly once. Release on the top-level delegate is the responsibility
// of whoever created it.
type VariableDelegate interface {
	Boolean(id VariableID) (bool, error)
	Integer(id VariableID) (int, error)
	Number(id VariableID) (float64, error)
	String(id VariableID) (string, error)
	Enum(id VariableID) (int, error)
	Array(id VariableID) ([]string, error)
	Children(id VariableID) ([]VariableDelegate, error)
	Release()
}

// Variable declares a named variable with its id and kind. Enum-kind
// variables name their enum type.
type Variable struct {
	Name string     `json:"name" yaml:"name"`
	ID   VariableID `json:"id" yaml:"id"`
	Kind ValueKind  `json:"kind" yaml:"kind"`
	Enum string     `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// EnumType declares a named enumeration. Cases map case names to their
// integer values.
type EnumType struct {
	Name  string         `json:"name" yaml:"name"`
	Cases map[string]int `json:"cases" yaml:"cases"`
}

// CaseName returns the case name for value, or false when the value is not a
// declared case.
func (e EnumType) CaseName(value int) (string, bool) {
	for name, v := range e.Cases {
		if v == value {
			return name, true
		}
	}
	return "", false
}
