package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalrules"
	"github.com/petal-labs/petalrules/eventstore"
)

// NewEventsCmd creates the "events" subcommand.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List persisted evaluation events",
		Long: "Without --eval-id, lists the stored evaluations. With --eval-id, lists " +
			"the events of that evaluation in sequence order.",
		Args: cobra.NoArgs,
		RunE: runEvents,
	}
	cmd.Flags().String("store", "", "SQLite DSN the events were persisted to")
	cmd.Flags().String("eval-id", "", "Evaluation to show")
	cmd.Flags().Uint64("after", 0, "Only show events with a sequence number above this")
	cmd.Flags().Int("limit", 0, "Maximum number of events to show (0 = all)")
	cmd.Flags().String("format", "text", "Output format: text | json")
	addConfigFlag(cmd)
	return cmd
}

func runEvents(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dsn := stringFlagOr(cmd, "store", cfg.StoreDSN)
	if dsn == "" {
		return exitError(exitValidation, "no event store: set --store or store_dsn in the config file")
	}

	store, err := eventstore.NewSQLiteEventStore(eventstore.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return exitError(exitRuntime, "opening event store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	evalID, _ := cmd.Flags().GetString("eval-id")
	if evalID == "" {
		ids, err := store.EvalIDs(ctx)
		if err != nil {
			return exitError(exitRuntime, "listing evaluations: %v", err)
		}
		if format == "json" {
			if ids == nil {
				ids = []string{}
			}
			return json.NewEncoder(out).Encode(ids)
		}
		writer := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(writer, "EVAL ID\tRULE\tEVENTS\tDIAGNOSTICS")
		for _, id := range ids {
			events, err := store.List(ctx, id, 0, 0)
			if err != nil {
				return exitError(exitRuntime, "listing events: %v", err)
			}
			fmt.Fprintf(writer, "%s\t%s\t%d\t%d\n", id, ruleOf(events), len(events), diagnosticsIn(events))
		}
		return writer.Flush()
	}

	after, _ := cmd.Flags().GetUint64("after")
	limit, _ := cmd.Flags().GetInt("limit")
	events, err := store.List(ctx, evalID, after, limit)
	if err != nil {
		return exitError(exitRuntime, "listing events: %v", err)
	}
	if len(events) == 0 && after == 0 {
		return exitError(exitFileNotFound, "no events for evaluation %q", evalID)
	}

	if format == "json" {
		items := make([]eventJSON, 0, len(events))
		for _, e := range events {
			items = append(items, eventJSON{
				EvalID:     e.EvalID,
				Seq:        e.Seq,
				Kind:       e.Kind,
				Rule:       e.Rule,
				ValueKind:  string(e.ValueKind),
				Time:       e.Time,
				ElapsedMs:  e.Elapsed.Milliseconds(),
				Diagnostic: e.Diagnostic,
				Payload:    e.Payload,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	writer := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "SEQ\tTIME\tKIND\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", e.Seq, e.Time.Format(time.RFC3339Nano), e.Kind, eventDetail(e))
	}
	return writer.Flush()
}

type eventJSON struct {
	EvalID     string                 `json:"eval_id"`
	Seq        uint64                 `json:"seq"`
	Kind       petalrules.EventKind   `json:"kind"`
	Rule       string                 `json:"rule"`
	ValueKind  string                 `json:"value_kind"`
	Time       time.Time              `json:"time"`
	ElapsedMs  int64                  `json:"elapsed_ms,omitempty"`
	Diagnostic *petalrules.Diagnostic `json:"diagnostic,omitempty"`
	Payload    map[string]any         `json:"payload,omitempty"`
}

func ruleOf(events []petalrules.Event) string {
	if len(events) == 0 {
		return "-"
	}
	return events[0].Rule
}

func diagnosticsIn(events []petalrules.Event) int {
	n := 0
	for _, e := range events {
		if e.Kind == petalrules.EventEvalDiagnostic {
			n++
		}
	}
	return n
}

func eventDetail(e petalrules.Event) string {
	switch e.Kind {
	case petalrules.EventEvalStarted:
		return fmt.Sprintf("%s as %s", e.Rule, e.ValueKind)
	case petalrules.EventEvalDiagnostic:
		if e.Diagnostic != nil {
			return e.Diagnostic.String()
		}
	case petalrules.EventEvalFinished:
		return fmt.Sprintf("value=%v in %s", e.Payload["value"], e.Elapsed)
	}
	return "-"
}
