package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalrules"
	"github.com/petal-labs/petalrules/element"
	"github.com/petal-labs/petalrules/loader"
	"github.com/petal-labs/petalrules/ruledef"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules>",
		Short: "Validate and compile a rule file without evaluating it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")

	def, err := loader.LoadRules(filePath, elementDeclarations())
	if errors.Is(err, loader.ErrNotFound) {
		return exitError(exitFileNotFound, "file not found: %s", filePath)
	}

	var diags []ruledef.Diagnostic
	var diagErr *loader.DiagnosticError
	switch {
	case errors.As(err, &diagErr):
		diags = diagErr.Diagnostics
	case err != nil:
		diags = []ruledef.Diagnostic{{
			Code:     "RD-000",
			Severity: ruledef.SeverityError,
			Message:  fmt.Sprintf("Failed to load rule file: %v", err),
		}}
	default:
		diags, err = checkDefinition(def)
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
	}

	printValidateDiagnostics(cmd.OutOrStdout(), diags, format)

	hasErrs := ruledef.HasErrors(diags)
	hasWarns := len(ruledef.Warnings(diags)) > 0
	if hasErrs || (strict && hasWarns) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// checkDefinition runs the library-aware validation and, if that passes,
// compiles every rule to surface build errors and lint warnings.
func checkDefinition(def *ruledef.Definition) ([]ruledef.Diagnostic, error) {
	lib, err := element.Library()
	if err != nil {
		return nil, err
	}

	diags := def.ValidateWithLibrary(lib)
	if ruledef.HasErrors(diags) {
		return diags, nil
	}

	lints, err := ruledef.Lint(def, lib)
	if err != nil {
		d := ruledef.Diagnostic{
			Code:     "RD-009",
			Severity: ruledef.SeverityError,
			Message:  fmt.Sprintf("Build failed: %v", err),
		}
		var ce *ruledef.CompileError
		if errors.As(err, &ce) {
			d.Message = fmt.Sprintf("Build failed: %v", ce.Err)
			d.Path = ce.Path
		}
		return append(diags, d), nil
	}
	for _, l := range lints {
		// Already reported as RD-006.
		if l.Code == petalrules.CodeLintUnbound {
			continue
		}
		diags = append(diags, ruledef.Diagnostic{
			Code:     l.Code,
			Severity: ruledef.SeverityWarning,
			Message:  l.Message,
			Path:     l.Node,
		})
	}
	return diags, nil
}

// printValidateDiagnostics writes diagnostics to the writer in the requested
// format, followed by a summary line (for text format).
func printValidateDiagnostics(w io.Writer, diags []ruledef.Diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

// printDiagnosticsText writes diagnostics as formatted text lines followed by
// a summary. Used by both the validate and eval commands.
func printDiagnosticsText(w io.Writer, diags []ruledef.Diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errs := ruledef.Errors(diags)
	warns := ruledef.Warnings(diags)

	switch {
	case len(errs) == 0 && len(warns) == 0:
		fmt.Fprintln(w, "Valid!")
	case len(errs) == 0 && len(warns) > 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", len(warns), pluralize("warning", len(warns)))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []ruledef.Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []ruledef.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}
