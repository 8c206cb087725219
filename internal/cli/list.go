package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newListCommand(build BuildFunc) *cobra.Command {
	var match string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Sessions.List(match)
			if err != nil {
				return err
			}

			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", w)
			}
			if len(res.Summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATIENT\tPROTOCOL\tSTATUS\tTURNS\tUPDATED")
			for _, s := range res.Summaries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.PatientID, s.Protocol, s.Status, s.Turns, s.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "Glob pattern on patient ids, e.g. 'pregnancy_*'")
	return cmd
}
