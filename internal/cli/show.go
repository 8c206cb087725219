package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
)

func newShowCommand(build BuildFunc) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <patient_id>",
		Short: "Print a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			s, err := a.Workflow.Load(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := intake.Marshal(s)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			printSession(out, s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the stored JSON document")
	return cmd
}

func printSession(w io.Writer, s *intake.Session) {
	fmt.Fprintf(w, "Patient:  %s\n", s.PatientID)
	fmt.Fprintf(w, "Protocol: %s\n", s.Protocol)
	fmt.Fprintf(w, "Status:   %s\n", s.Status)
	fmt.Fprintf(w, "Updated:  %s\n", s.UpdatedAt.Format(time.RFC3339))
	if s.SourceSessionID != "" {
		fmt.Fprintf(w, "From:     %s\n", s.SourceSessionID)
	}
	if s.TransferredTo != "" {
		fmt.Fprintf(w, "Moved to: %s\n", s.TransferredTo)
	}

	if len(s.Metadata) > 0 {
		keys := make([]string, 0, len(s.Metadata))
		for k := range s.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "\nMetadata:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, s.Metadata[k])
		}
	}

	fmt.Fprintf(w, "\nHistory (%d):\n", len(s.History))
	for i, turn := range s.History {
		fmt.Fprintf(w, "%2d. %s\n    %s\n", i+1, turn.Question, turn.Answer)
	}
	if s.Pending != nil {
		fmt.Fprintf(w, "\nWaiting on: %s\n", s.Pending.Text)
	}
	if s.Summary != "" {
		fmt.Fprintf(w, "\nSummary:\n%s\n", s.Summary)
	}
}
