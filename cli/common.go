package cli

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalrules/config"
	"github.com/petal-labs/petalrules/element"
	"github.com/petal-labs/petalrules/loader"
	"github.com/petal-labs/petalrules/ruledef"
)

const defaultSchedule = "@every 2s"

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Config file (default: ./petalrules.yaml, then ~/.petalrules/config.yaml)")
}

// loadConfig resolves the config named by --config or found in the default
// locations. No config file is not an error.
func loadConfig(cmd *cobra.Command) (config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, _, err := config.Discover(path)
	if err != nil {
		return config.File{}, exitError(exitRuntime, "loading config: %v", err)
	}
	return cfg, nil
}

// newLogger builds the command logger. --verbose and --quiet override the
// configured level.
func newLogger(cmd *cobra.Command, cfg config.File) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// stringFlagOr returns the flag value, or fallback when the flag is unset.
func stringFlagOr(cmd *cobra.Command, name, fallback string) string {
	if v, _ := cmd.Flags().GetString(name); strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// elementDeclarations makes the standard element enums and variables
// available to every rule file without redeclaring them.
func elementDeclarations() loader.Option {
	return loader.WithDeclarations(element.Enums(), element.Variables())
}

// loadDefinition loads and validates a rule file, mapping failures to exit
// codes. Validation diagnostics are printed to stderr.
func loadDefinition(cmd *cobra.Command, path string) (*ruledef.Definition, error) {
	def, err := loader.LoadRules(path, elementDeclarations())
	if err == nil {
		return def, nil
	}
	if errors.Is(err, loader.ErrNotFound) {
		return nil, exitError(exitFileNotFound, "file not found: %s", path)
	}
	var diagErr *loader.DiagnosticError
	if errors.As(err, &diagErr) {
		printDiagnosticsText(cmd.ErrOrStderr(), diagErr.Diagnostics)
		return nil, exitError(exitValidation, "validation failed")
	}
	return nil, exitError(exitValidation, "%v", err)
}

func loadSnapshot(path string) (*element.Snapshot, error) {
	snap, err := loader.LoadSnapshot(path)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, loader.ErrNotFound) {
		return nil, exitError(exitFileNotFound, "file not found: %s", path)
	}
	return nil, exitError(exitValidation, "%v", err)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
