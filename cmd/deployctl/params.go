package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newParamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Show the resolved parameter set with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := loadParams(cmd)
			if err != nil {
				return err
			}
			redacted := params.Redacted()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), redacted)
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "NAME\tVALUE")
			for _, name := range params.Names() {
				fmt.Fprintf(w, "%s\t%s\n", name, redacted[name])
			}
			return w.Flush()
		},
	}
}

// printJSON prints data as formatted JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable creates a new tabwriter for formatted output.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
