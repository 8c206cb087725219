package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
	intakeService "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/service/session"
)

type queueAdvisor struct {
	advice []intakeService.Advice
}

func (a *queueAdvisor) Open(_ context.Context, req intakeService.OpeningRequest) (string, error) {
	return "first question for " + req.Protocol.ID, nil
}

func (a *queueAdvisor) Advise(context.Context, intakeService.AdviceRequest) (intakeService.Advice, error) {
	if len(a.advice) == 0 {
		return intakeService.Advice{Kind: intakeService.KindQuestion, Text: "Anything else?"}, nil
	}
	next := a.advice[0]
	a.advice = a.advice[1:]
	return next, nil
}

type frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func startServer(t *testing.T, advisor intakeService.Advisor) (*httptest.Server, *session.Store) {
	t.Helper()
	store := session.NewStore(session.Config{Dir: t.TempDir()})
	ctrl := intakeService.NewController(advisor, protocol.NewMemoryStore(protocol.Seed()), intakeService.Config{})

	r := chi.NewRouter()
	r.Route("/sessions", New(intakeService.NewWorkflow(store, ctrl)).RegisterRoutes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func dial(t *testing.T, srv *httptest.Server, patientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + patientID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func expect(t *testing.T, conn *websocket.Conn, kind string) frame {
	t.Helper()
	f := read(t, conn)
	if f.Type != kind {
		t.Fatalf("expected %s frame, got %s: %s", kind, f.Type, f.Data)
	}
	return f
}

func TestLiveConversationWithTransfer(t *testing.T) {
	advisor := &queueAdvisor{advice: []intakeService.Advice{
		{Kind: intakeService.KindQuestion, Text: "How long has this been occurring?"},
		{Kind: intakeService.KindTransfer, Target: protocol.Pregnancy, Text: "moving"},
		{Kind: intakeService.KindSummary, Text: "Recommend follow-up in 2 weeks."},
	}}
	srv, store := startServer(t, advisor)
	if _, err := store.Create(context.Background(), "patient_001", protocol.Gynecology); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, srv, "patient_001")
	expect(t, conn, "connected")
	expect(t, conn, "question")

	send := func(kind string, data any) {
		raw, _ := json.Marshal(data)
		if err := conn.WriteJSON(map[string]any{"type": kind, "data": json.RawMessage(raw)}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send("answer", AnswerMessage{Answer: "The pain started two weeks ago."})
	q := expect(t, conn, "question")
	if !strings.Contains(string(q.Data), "How long has this been occurring?") {
		t.Fatalf("unexpected question: %s", q.Data)
	}

	send("answer", AnswerMessage{Answer: "تست بارداری مثبت"})
	expect(t, conn, "transfer")
	next := expect(t, conn, "question")
	if next.SessionID != "pregnancy_patient_001" {
		t.Fatalf("expected connection to move to pregnancy_patient_001, got %s", next.SessionID)
	}
	if !strings.Contains(string(next.Data), `"pregnancy_status":"suspected"`) {
		t.Fatalf("expected the pregnancy assessment in %s", next.Data)
	}

	send("answer", AnswerMessage{Answer: "yes"})
	expect(t, conn, "summary")

	stored, err := store.LoadByID("pregnancy_patient_001")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Status != intake.StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
}

func TestLiveErrors(t *testing.T) {
	srv, store := startServer(t, &queueAdvisor{})
	if _, err := store.Create(context.Background(), "patient_001", protocol.Gynecology); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, srv, "patient_001")
	expect(t, conn, "connected")
	expect(t, conn, "question")

	if err := conn.WriteJSON(map[string]any{"type": "dance"}); err != nil {
		t.Fatal(err)
	}
	expect(t, conn, "error")

	if err := conn.WriteJSON(map[string]any{"type": "answer", "data": map[string]string{"answer": " "}}); err != nil {
		t.Fatal(err)
	}
	f := expect(t, conn, "error")
	if !strings.Contains(string(f.Data), `"status":400`) {
		t.Fatalf("expected status 400 in %s", f.Data)
	}

	if err := conn.WriteJSON(map[string]any{"type": "finish"}); err != nil {
		t.Fatal(err)
	}
	expect(t, conn, "summary")
}

func TestLiveClosedSession(t *testing.T) {
	srv, store := startServer(t, &queueAdvisor{})
	s, err := store.Create(context.Background(), "patient_001", protocol.Gynecology)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Complete("done", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSession(s); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, srv, "patient_001")
	expect(t, conn, "connected")
	expect(t, conn, "closed")
}

func TestLiveUnknownSession(t *testing.T) {
	srv, _ := startServer(t, &queueAdvisor{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/nobody/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %+v", resp)
	}
}
