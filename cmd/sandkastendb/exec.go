package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/p-arndt/sandkastendb/internal/api"
)

func newExecCmd(opts *rootOptions) *cobra.Command {
	var (
		query     bool
		timeoutMs int
		maxRows   int
	)

	cmd := &cobra.Command{
		Use:   "exec <key> <sql>",
		Short: "Run one statement in a sandbox database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}

			req := api.ExecRequest{SQL: args[1], Query: query, TimeoutMs: timeoutMs, MaxRows: maxRows}
			var resp api.ExecResponse
			path := "/v1/sandboxes/" + url.PathEscape(args[0]) + "/exec"
			if err := c.do(cmd.Context(), http.MethodPost, path, req, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !query {
				fmt.Fprintf(out, "rows affected: %d\n", resp.RowsAffected)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, strings.Join(resp.Columns, "\t"))
			for _, row := range resp.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					if v == nil {
						cells[i] = "NULL"
						continue
					}
					cells[i] = fmt.Sprint(v)
				}
				fmt.Fprintln(w, strings.Join(cells, "\t"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if resp.Truncated {
				fmt.Fprintf(out, "(truncated after %d rows)\n", len(resp.Rows))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&query, "query", "q", false, "statement returns rows")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "statement timeout in milliseconds")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "maximum rows to return (default 1000)")
	return cmd
}
