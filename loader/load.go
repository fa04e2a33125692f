package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/element"
	"github.com/petal-labs/petalrules/ruledef"
)

// ErrNotFound is returned when the file to load does not exist.
var ErrNotFound = errors.New("file not found")

// Option configures how a rule definition is loaded.
type Option func(*options)

type options struct {
	enums []core.EnumType
	vars  []core.Variable
}

// WithDeclarations merges host-provided enums and variables into every loaded
// definition before validation. Declarations in the file take precedence.
func WithDeclarations(enums []core.EnumType, vars []core.Variable) Option {
	return func(o *options) {
		o.enums = append(o.enums, enums...)
		o.vars = append(o.vars, vars...)
	}
}

// LoadRules reads a rule definition file and validates it. Validation
// errors are returned as a *DiagnosticError. Warnings do not fail loading.
func LoadRules(path string, opts ...Option) (*ruledef.Definition, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRules(data, path, opts...)
}

// ParseRules decodes and validates rule definition bytes. path selects the
// format by extension.
func ParseRules(data []byte, path string, opts ...Option) (*ruledef.Definition, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}

	var def ruledef.Definition
	if err := decodeStrict(jsonData, &def); err != nil {
		return nil, fmt.Errorf("parsing rule definition: %w", err)
	}

	out := &def
	if len(o.enums) > 0 || len(o.vars) > 0 {
		out = def.WithDeclarations(o.enums, o.vars)
	}
	diags := out.Validate()
	if ruledef.HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}
	return out, nil
}

// LoadSnapshot reads an element snapshot file.
func LoadSnapshot(path string) (*element.Snapshot, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(data, path)
}

// ParseSnapshot decodes element snapshot bytes. path selects the format by
// extension.
func ParseSnapshot(data []byte, path string) (*element.Snapshot, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}

	var snap element.Snapshot
	if err := decodeStrict(jsonData, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if snap.Root == nil {
		return nil, fmt.Errorf("parsing snapshot: %q has no root element", path)
	}
	return &snap, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}

// decodeStrict decodes JSON rejecting unknown fields, except for the
// top-level "kind" marker used by DetectKind. Untyped numbers decode as
// json.Number so integer literals keep their exact text.
func decodeStrict(data []byte, v any) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := raw["kind"]; ok {
		delete(raw, "kind")
		stripped, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		data = stripped
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(v)
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []ruledef.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := ruledef.Errors(e.Diagnostics)
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}
