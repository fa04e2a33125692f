package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalrules/element"
	"github.com/petal-labs/petalrules/registry"
)

// NewOpsCmd creates the "ops" subcommand.
func NewOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List the operations rules can call",
		Args:  cobra.NoArgs,
		RunE:  runOps,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runOps(cmd *cobra.Command, _ []string) error {
	lib, err := element.Library()
	if err != nil {
		return exitError(exitRuntime, "building operation library: %v", err)
	}
	ops := lib.Operations()

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		if ops == nil {
			ops = []registry.Operation{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ops)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tSIGNATURE\tDESCRIPTION")
	for _, op := range ops {
		doc := op.Doc
		if doc == "" {
			doc = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", op.Name, op.Signature(), doc)
	}
	return writer.Flush()
}
