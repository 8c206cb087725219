package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTransferCommand(build BuildFunc) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "transfer <patient_id>",
		Short: "Move an active session to another protocol",
		Long:  "transfer closes the session and opens its continuation under the target protocol, carrying the metadata over.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			s, res, err := a.Workflow.Transfer(cmd.Context(), args[0], target)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s -> %s (%s)\n", s.PatientID, res.Next.PatientID, res.Next.Protocol)
			if res.Question != nil {
				fmt.Fprintf(out, "First question: %s\n", res.Question.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "Target protocol id (default: the protocol's transfer target)")
	return cmd
}
