package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/p-arndt/sandkastendb/internal/api"
)

func newPsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List sandboxes known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			var sandboxes []api.SandboxInfo
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/sandboxes", nil, &sandboxes); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sandboxes) == 0 {
				fmt.Fprintln(out, "No sandboxes.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSTATUS\tACTIVE\tIDLE\tOPENED\tDROPPED\tLAST USED\tNAMESPACE")
			for _, sb := range sandboxes {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
					sb.Key, orDash(sb.Status), sb.Active, sb.Idle, sb.Opened, sb.Dropped,
					lastUsed(sb.LastUsed), orDash(sb.Namespace))
			}
			return w.Flush()
		},
	}
}

func lastUsed(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return units.HumanDuration(time.Since(*t)) + " ago"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
