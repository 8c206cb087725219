package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	intakeService "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
)

// exitWords end the chat and keep the session open for a later resume.
var exitWords = map[string]bool{
	"خروج": true,
	"پایان": true,
	"quit": true,
	"exit": true,
}

func newChatCommand(build BuildFunc) *cobra.Command {
	var protocolID string

	cmd := &cobra.Command{
		Use:   "chat [patient_id]",
		Short: "Start or resume an interactive intake",
		Long: `chat asks the intake questions one at a time and saves the session after
every answer. An existing active session is resumed. Type خروج, پایان, quit or
exit to stop; the session stays open.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}

			patientID := ""
			if len(args) == 1 {
				patientID = args[0]
			}

			c := &chat{
				workflow:    a.Workflow,
				in:          bufio.NewScanner(cmd.InOrStdin()),
				out:         cmd.OutOrStdout(),
				interactive: isTerminal(cmd.InOrStdin()),
			}
			return c.run(cmd, patientID, protocolID)
		},
	}
	cmd.Flags().StringVar(&protocolID, "protocol", "", "Protocol for a new session (default gynecology)")
	return cmd
}

type chat struct {
	workflow    *intakeService.Workflow
	in          *bufio.Scanner
	out         io.Writer
	interactive bool
}

func (c *chat) run(cmd *cobra.Command, patientID, protocolID string) error {
	ctx := cmd.Context()

	s, q, err := c.begin(cmd, patientID, protocolID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Session: %s (%s)\n", s.PatientID, s.Protocol)
	current := s.PatientID

	for {
		fmt.Fprintf(c.out, "\n%s\n", q.Text)
		answer, ok := c.readAnswer()
		if !ok {
			fmt.Fprintf(c.out, "\nSession %s saved, resume with: intake chat %s\n", current, current)
			return nil
		}

		s, res, err := c.workflow.Answer(ctx, current, q.ID, answer)
		switch {
		case errors.Is(err, intake.ErrEmptyAnswer):
			fmt.Fprintln(c.out, "Please enter an answer.")
			continue
		case errors.Is(err, intake.ErrModelUnavailable):
			fmt.Fprintf(c.out, "The assistant is unavailable (%v). Please try again.\n", err)
			continue
		case err != nil:
			return err
		}

		switch res.Kind {
		case intakeService.KindQuestion:
			q = *res.Question

		case intakeService.KindSummary:
			fmt.Fprintf(c.out, "\nSummary:\n%s\n", res.Text)
			fmt.Fprintf(c.out, "Session %s completed.\n", s.PatientID)
			return nil

		case intakeService.KindTransfer:
			if res.Text != "" {
				fmt.Fprintf(c.out, "\n%s\n", res.Text)
			}
			fmt.Fprintf(c.out, "Transferred to %s (%s)\n", res.Next.PatientID, res.Next.Protocol)
			current = res.Next.PatientID
			if res.Question != nil {
				q = *res.Question
				continue
			}
			_, next, err := c.workflow.Question(ctx, current)
			if err != nil {
				return err
			}
			q = next
		}
	}
}

// begin resumes an active session or opens a new one.
func (c *chat) begin(cmd *cobra.Command, patientID, protocolID string) (*intake.Session, intake.Question, error) {
	ctx := cmd.Context()

	if patientID != "" {
		s, err := c.workflow.Load(patientID)
		switch {
		case err == nil:
			if !s.Active() {
				return nil, intake.Question{}, fmt.Errorf("session %s is %s", s.PatientID, s.Status)
			}
			_, q, err := c.workflow.Question(ctx, patientID)
			if err != nil {
				return nil, intake.Question{}, err
			}
			fmt.Fprintf(c.out, "Resuming after %d answers.\n", len(s.History))
			return s, q, nil
		case !errors.Is(err, intake.ErrSessionNotFound):
			return nil, intake.Question{}, err
		}
	}

	s, q, err := c.workflow.Open(ctx, patientID, protocolID)
	if err != nil {
		if s != nil {
			return nil, intake.Question{}, fmt.Errorf("session %s created but the first question failed: %w", s.PatientID, err)
		}
		return nil, intake.Question{}, err
	}
	return s, *q, nil
}

// readAnswer returns false on end of input or an exit word.
func (c *chat) readAnswer() (string, bool) {
	if c.interactive {
		fmt.Fprint(c.out, "> ")
	}
	if !c.in.Scan() {
		return "", false
	}
	answer := strings.TrimSpace(c.in.Text())
	if exitWords[strings.ToLower(answer)] {
		return "", false
	}
	return answer, true
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
