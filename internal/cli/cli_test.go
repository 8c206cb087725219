package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gyn-intake/backend/internal/app"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
	intakeService "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/service/session"
)

type scriptedAdvisor struct {
	advice []intakeService.Advice
	err    error
}

func (a *scriptedAdvisor) Open(_ context.Context, req intakeService.OpeningRequest) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "opening for " + req.Protocol.ID, nil
}

func (a *scriptedAdvisor) Advise(context.Context, intakeService.AdviceRequest) (intakeService.Advice, error) {
	if a.err != nil {
		return intakeService.Advice{}, a.err
	}
	if len(a.advice) == 0 {
		return intakeService.Advice{Kind: intakeService.KindQuestion, Text: "Anything else?"}, nil
	}
	next := a.advice[0]
	a.advice = a.advice[1:]
	return next, nil
}

func testApp(t *testing.T, advisor intakeService.Advisor) (*app.App, BuildFunc) {
	t.Helper()
	protocols := protocol.NewMemoryStore(protocol.Seed())
	store := session.NewStore(session.Config{Dir: t.TempDir()})
	ctrl := intakeService.NewController(advisor, protocols, intakeService.Config{})
	a := &app.App{
		Protocols: protocols,
		Sessions:  store,
		Workflow:  intakeService.NewWorkflow(store, ctrl),
	}
	return a, func(context.Context) (*app.App, error) { return a, nil }
}

func run(t *testing.T, build BuildFunc, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(build)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestChatRunsToSummary(t *testing.T) {
	a, build := testApp(t, &scriptedAdvisor{advice: []intakeService.Advice{
		{Kind: intakeService.KindQuestion, Text: "How long has this been occurring?"},
		{Kind: intakeService.KindSummary, Text: "Recommend follow-up in 2 weeks."},
	}})

	out, _, err := run(t, build, "Pelvic pain\n\nTwo weeks\n", "chat", "patient_001")
	require.NoError(t, err)
	assert.Contains(t, out, "opening for gynecology")
	assert.Contains(t, out, "How long has this been occurring?")
	assert.Contains(t, out, "Please enter an answer.")
	assert.Contains(t, out, "Recommend follow-up in 2 weeks.")
	assert.NotContains(t, out, "> ", "prompts are only shown on a terminal")

	s, err := a.Sessions.LoadByID("patient_001")
	require.NoError(t, err)
	assert.Equal(t, intake.StatusCompleted, s.Status)
	require.Len(t, s.History, 2)
	assert.Equal(t, "Two weeks", s.History[1].Answer)
}

func TestChatExitKeepsSessionOpenAndResumes(t *testing.T) {
	a, build := testApp(t, &scriptedAdvisor{})

	out, _, err := run(t, build, "Pelvic pain\nخروج\n", "chat", "patient_001")
	require.NoError(t, err)
	assert.Contains(t, out, "resume with: intake chat patient_001")

	s, err := a.Sessions.LoadByID("patient_001")
	require.NoError(t, err)
	assert.True(t, s.Active())
	require.Len(t, s.History, 1)
	require.NotNil(t, s.Pending)

	out, _, err = run(t, build, "quit\n", "chat", "patient_001")
	require.NoError(t, err)
	assert.Contains(t, out, "Resuming after 1 answers.")
	assert.Contains(t, out, "Anything else?")
}

func TestChatFollowsTransfer(t *testing.T) {
	a, build := testApp(t, &scriptedAdvisor{advice: []intakeService.Advice{
		{Kind: intakeService.KindTransfer, Target: protocol.Pregnancy, Text: "moving"},
		{Kind: intakeService.KindSummary, Text: "done"},
	}})

	out, _, err := run(t, build, "تست بارداری مثبت\nyes\n", "chat", "patient_001")
	require.NoError(t, err)
	assert.Contains(t, out, "Transferred to pregnancy_patient_001 (pregnancy)")
	assert.Contains(t, out, "opening for pregnancy")

	src, err := a.Sessions.LoadByID("patient_001")
	require.NoError(t, err)
	assert.Equal(t, intake.StatusTransferred, src.Status)

	next, err := a.Sessions.LoadByID("pregnancy_patient_001")
	require.NoError(t, err)
	assert.Equal(t, intake.StatusCompleted, next.Status)
}

func TestChatModelUnavailable(t *testing.T) {
	_, build := testApp(t, &scriptedAdvisor{err: fmt.Errorf("%w: offline", intake.ErrModelUnavailable)})

	_, _, err := run(t, build, "", "chat", "patient_001")
	require.Error(t, err)
	assert.ErrorIs(t, err, intake.ErrModelUnavailable)
}

func TestChatRejectsClosedSession(t *testing.T) {
	a, build := testApp(t, &scriptedAdvisor{})
	_, _, err := a.Workflow.Open(context.Background(), "patient_001", "")
	require.NoError(t, err)
	_, err = a.Workflow.Complete(context.Background(), "patient_001", "")
	require.NoError(t, err)

	_, _, err = run(t, build, "", "chat", "patient_001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed")
}

func TestShow(t *testing.T) {
	a, build := testApp(t, &scriptedAdvisor{})
	ctx := context.Background()
	_, q, err := a.Workflow.Open(ctx, "patient_001", "")
	require.NoError(t, err)
	_, _, err = a.Workflow.Answer(ctx, "patient_001", q.ID, "Pelvic pain")
	require.NoError(t, err)

	out, _, err := run(t, build, "", "show", "patient_001")
	require.NoError(t, err)
	assert.Contains(t, out, "Patient:  patient_001")
	assert.Contains(t, out, "Pelvic pain")
	assert.Contains(t, out, "Waiting on: Anything else?")

	out, _, err = run(t, build, "", "show", "--json", "patient_001")
	require.NoError(t, err)
	assert.Contains(t, out, `"patient_id": "patient_001"`)
	assert.Contains(t, out, `"status": "active"`)

	_, _, err = run(t, build, "", "show", "nobody")
	assert.ErrorIs(t, err, intake.ErrSessionNotFound)
}

func TestListAndTransfer(t *testing.T) {
	a, build := testApp(t, &scriptedAdvisor{})
	ctx := context.Background()
	for _, id := range []string{"patient_001", "patient_002"} {
		_, _, err := a.Workflow.Open(ctx, id, "")
		require.NoError(t, err)
	}

	out, _, err := run(t, build, "", "transfer", "patient_002")
	require.NoError(t, err)
	assert.Contains(t, out, "patient_002 -> pregnancy_patient_002 (pregnancy)")
	assert.Contains(t, out, "First question: opening for pregnancy")

	out, _, err = run(t, build, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "PATIENT")
	assert.Contains(t, out, "patient_001")
	assert.Contains(t, out, "pregnancy_patient_002")

	out, _, err = run(t, build, "", "list", "--match", "pregnancy_*")
	require.NoError(t, err)
	assert.Contains(t, out, "pregnancy_patient_002")
	assert.NotContains(t, out, " patient_001")

	out, _, err = run(t, build, "", "list", "--match", "nothing_*")
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions")

	_, _, err = run(t, build, "", "transfer", "patient_002", "--to", "pregnancy")
	assert.ErrorIs(t, err, intake.ErrSessionClosed)
}
