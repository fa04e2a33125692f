package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalrules"
	"github.com/petal-labs/petalrules/config"
	"github.com/petal-labs/petalrules/core"
	"github.com/petal-labs/petalrules/element"
	"github.com/petal-labs/petalrules/eventstore"
	"github.com/petal-labs/petalrules/otel"
	"github.com/petal-labs/petalrules/ruledef"
)

// NewEvalCmd creates the "eval" subcommand.
func NewEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <rules>",
		Short: "Evaluate rules against an element snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runEval,
	}
	addEvalFlags(cmd)
	return cmd
}

func addEvalFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("element", "e", "", "Element snapshot file (JSON or YAML)")
	_ = cmd.MarkFlagRequired("element")
	cmd.Flags().StringArrayP("rule", "r", nil, "Rule to evaluate (repeatable, default: all rules)")
	cmd.Flags().String("kind", "", "Requested result kind (default: each rule's own kind)")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().String("store", "", "SQLite DSN evaluation events are persisted to")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP endpoint evaluation traces are exported to")
	cmd.Flags().Bool("otlp-insecure", false, "Disable TLS for the OTLP exporter")
	cmd.Flags().Bool("trace", false, "Log every node resolution at debug level")
	addConfigFlag(cmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	ev, err := prepareEval(cmd, args[0])
	if err != nil {
		return err
	}
	defer ev.Close(context.Background())

	elementPath, _ := cmd.Flags().GetString("element")
	snap, err := loadSnapshot(elementPath)
	if err != nil {
		return err
	}

	results, err := ev.evaluate(snap)
	format, _ := cmd.Flags().GetString("format")
	printResults(cmd.OutOrStdout(), results, format)
	return err
}

// evaluator holds a compiled rule tree and the sinks its events flow to.
type evaluator struct {
	cfg       config.File
	tree      *petalrules.ParseTree
	logger    *slog.Logger
	rules     []string
	kind      core.ValueKind
	store     *eventstore.SQLiteEventStore
	telemetry *otel.Telemetry
}

// prepareEval loads configuration and the rule file, opens the event sinks
// and compiles the rules.
func prepareEval(cmd *cobra.Command, rulesPath string) (*evaluator, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)

	def, err := loadDefinition(cmd, rulesPath)
	if err != nil {
		return nil, err
	}
	lib, err := element.Library()
	if err != nil {
		return nil, exitError(exitRuntime, "building operation library: %v", err)
	}

	ev := &evaluator{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			ev.Close(context.Background())
		}
	}()

	var handlers []petalrules.EventHandler
	if dsn := stringFlagOr(cmd, "store", cfg.StoreDSN); dsn != "" {
		retention, _ := cfg.RetentionDuration()
		store, err := eventstore.NewSQLiteEventStore(eventstore.SQLiteStoreConfig{
			DSN:          dsn,
			RetentionAge: retention,
		})
		if err != nil {
			return nil, exitError(exitRuntime, "opening event store: %v", err)
		}
		ev.store = store
		if retention > 0 {
			if err := store.Prune(cmd.Context()); err != nil {
				logger.Warn("pruning event store failed", "error", err)
			}
		}
		handlers = append(handlers, eventstore.NewStoreSubscriber(store, logger).Handler())
	}

	var handler petalrules.EventHandler
	if len(handlers) > 0 {
		handler = petalrules.MultiEventHandler(handlers...)
	}
	if endpoint := stringFlagOr(cmd, "otlp-endpoint", cfg.OTLPEndpoint); endpoint != "" {
		insecure, _ := cmd.Flags().GetBool("otlp-insecure")
		tel, err := otel.Setup(cmd.Context(), otel.Config{
			ServiceName: "petalrules",
			Endpoint:    endpoint,
			Insecure:    insecure,
		})
		if err != nil {
			return nil, exitError(exitRuntime, "setting up telemetry: %v", err)
		}
		ev.telemetry = tel
		handler = tel.Handler(handler)
	}

	trace, _ := cmd.Flags().GetBool("trace")
	opts := []petalrules.Option{
		petalrules.WithLogger(logger),
		petalrules.WithTraceLogging(trace),
	}
	if handler != nil {
		opts = append(opts, petalrules.WithEventHandler(handler))
	}
	tree, err := ruledef.Compile(def, lib, opts...)
	if err != nil {
		return nil, exitError(exitValidation, "compiling rules: %v", err)
	}
	ev.tree = tree

	ev.rules, _ = cmd.Flags().GetStringArray("rule")
	for _, name := range ev.rules {
		if _, found := tree.Rule(name); !found {
			return nil, exitError(exitValidation, "unknown rule %q", name)
		}
	}
	if k, _ := cmd.Flags().GetString("kind"); k != "" {
		if ev.kind, err = core.ParseValueKind(k); err != nil {
			return nil, exitError(exitValidation, "%v", err)
		}
	}

	ok = true
	return ev, nil
}

// evaluate resolves the selected rules against a fresh delegate over snap.
// Every delegate acquired during the pass must be released by its end.
func (ev *evaluator) evaluate(snap *element.Snapshot) ([]petalrules.Result, error) {
	tracker := element.NewTracker(ev.logger)
	root := tracker.Root(snap.Root)

	names := ev.rules
	if len(names) == 0 {
		names = ev.tree.Rules()
	}
	results := make([]petalrules.Result, 0, len(names))
	for _, name := range names {
		kind := ev.kind
		if kind == core.KindUndefined {
			n, _ := ev.tree.Rule(name)
			kind = n.Kind()
		}
		results = append(results, ev.tree.Evaluate(name, root, kind))
	}
	root.Release()

	if err := tracker.Check(); err != nil {
		return results, exitError(exitLeak, "%v", err)
	}
	return results, nil
}

// Close flushes telemetry and closes the event store.
func (ev *evaluator) Close(ctx context.Context) {
	if ev.telemetry != nil {
		if err := ev.telemetry.Shutdown(ctx); err != nil {
			ev.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if ev.store != nil {
		if err := ev.store.Close(); err != nil {
			ev.logger.Warn("closing event store failed", "error", err)
		}
	}
}

type resultJSON struct {
	EvalID      string                  `json:"eval_id"`
	Rule        string                  `json:"rule"`
	Kind        core.ValueKind          `json:"kind"`
	Value       any                     `json:"value"`
	Diagnostics []petalrules.Diagnostic `json:"diagnostics"`
	Elapsed     string                  `json:"elapsed"`
}

func printResults(w io.Writer, results []petalrules.Result, format string) {
	if format == "json" {
		out := make([]resultJSON, 0, len(results))
		for _, r := range results {
			diags := r.Diagnostics
			if diags == nil {
				diags = []petalrules.Diagnostic{}
			}
			out = append(out, resultJSON{
				EvalID:      r.EvalID,
				Rule:        r.Rule,
				Kind:        r.Kind,
				Value:       r.Value.Interface(),
				Diagnostics: diags,
				Elapsed:     r.Elapsed.String(),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	degraded := 0
	for _, r := range results {
		fmt.Fprintf(w, "%s (%s) = %s\n", r.Rule, r.Kind, r.Value)
		for _, d := range r.Diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
		if r.Degraded() {
			degraded++
		}
	}
	if degraded > 0 {
		fmt.Fprintf(w, "\n%d of %d %s degraded\n", degraded, len(results), pluralize("rule", len(results)))
	}
}
