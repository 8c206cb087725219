package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
	intakeService "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/service/session"
)

type scriptedAdvisor struct {
	advice []intakeService.Advice
	err    error
}

func (a *scriptedAdvisor) Open(context.Context, intakeService.OpeningRequest) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "سال تولد شما چیست؟", nil
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

func setupRouter(t *testing.T, advisor *scriptedAdvisor) (*chi.Mux, *session.Store) {
	t.Helper()
	store := session.NewStore(session.Config{Dir: t.TempDir()})
	protocols := protocol.NewMemoryStore(protocol.Seed())
	ctrl := intakeService.NewController(advisor, protocols, intakeService.Config{})
	handler := New(intakeService.NewWorkflow(store, ctrl), store, protocols)

	r := chi.NewRouter()
	handler.RegisterProtocolRoutes(r)
	r.Route("/sessions", handler.RegisterRoutes)
	return r, store
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSession(t *testing.T) {
	r, store := setupRouter(t, &scriptedAdvisor{})

	resp := do(t, r, http.MethodPost, "/sessions", `{"patient_id":"patient_001"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Session  map[string]any `json:"session"`
		Question struct {
			ID   string `json:"question_id"`
			Text string `json:"question"`
		} `json:"question"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Session["status"] != "active" {
		t.Fatalf("expected active session, got %v", body.Session["status"])
	}
	if body.Question.ID != "age" {
		t.Fatalf("expected opening question age, got %q", body.Question.ID)
	}

	if _, err := store.LoadByID("patient_001"); err != nil {
		t.Fatalf("session not stored: %v", err)
	}

	dup := do(t, r, http.MethodPost, "/sessions", `{"patient_id":"patient_001"}`)
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", dup.Code)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	r, _ := setupRouter(t, &scriptedAdvisor{})

	cases := map[string]string{
		"bad json":         `{`,
		"unknown protocol": `{"protocol":"cardiology"}`,
		"bad patient id":   `{"patient_id":"../etc"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := do(t, r, http.MethodPost, "/sessions", body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
		})
	}
}

func TestCreateSessionModelDown(t *testing.T) {
	r, _ := setupRouter(t, &scriptedAdvisor{err: errors.New("down")})

	resp := do(t, r, http.MethodPost, "/sessions", "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"warning"`)) {
		t.Fatalf("expected warning in body: %s", resp.Body.String())
	}
}

func TestAnswerFlow(t *testing.T) {
	advisor := &scriptedAdvisor{advice: []intakeService.Advice{
		{Kind: intakeService.KindQuestion, Text: "How long has this been occurring?"},
		{Kind: intakeService.KindSummary, Text: "Recommend follow-up in 2 weeks."},
	}}
	r, store := setupRouter(t, advisor)

	if resp := do(t, r, http.MethodPost, "/sessions", `{"patient_id":"patient_001"}`); resp.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", resp.Code)
	}

	resp := do(t, r, http.MethodPost, "/sessions/patient_001/answers", `{"answer":"The pain started two weeks ago."}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var turn TurnResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.Kind != intakeService.KindQuestion || turn.Text != "How long has this been occurring?" {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	resp = do(t, r, http.MethodPost, "/sessions/patient_001/answers", `{"answer":"Two weeks."}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	stored, err := store.LoadByID("patient_001")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Summary != "Recommend follow-up in 2 weeks." || len(stored.History) != 2 {
		t.Fatalf("unexpected stored session: %+v", stored)
	}

	resp = do(t, r, http.MethodPost, "/sessions/patient_001/answers", `{"answer":"more"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 on closed session, got %d", resp.Code)
	}
}

func TestAnswerErrors(t *testing.T) {
	advisor := &scriptedAdvisor{}
	r, _ := setupRouter(t, advisor)
	do(t, r, http.MethodPost, "/sessions", `{"patient_id":"patient_001"}`)

	if resp := do(t, r, http.MethodPost, "/sessions/nobody/answers", `{"answer":"x"}`); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if resp := do(t, r, http.MethodPost, "/sessions/patient_001/answers", `{"answer":"  "}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	advisor.err = errors.New("timeout")
	if resp := do(t, r, http.MethodPost, "/sessions/patient_001/answers", `{"answer":"1995"}`); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestGetCorruptSession(t *testing.T) {
	r, store := setupRouter(t, &scriptedAdvisor{})
	raw := `{"patient_id":"patient_001","history":[],"created_at":"2026-03-01T09:30:00Z","updated_at":"2026-03-01T09:30:00Z"}`
	if err := os.WriteFile(filepath.Join(store.Dir(), "patient_001.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := do(t, r, http.MethodGet, "/sessions/patient_001", "")
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
}

func TestTransferAndList(t *testing.T) {
	r, _ := setupRouter(t, &scriptedAdvisor{})
	do(t, r, http.MethodPost, "/sessions", `{"patient_id":"patient_001"}`)

	resp := do(t, r, http.MethodPost, "/sessions/patient_001/transfer", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var turn TurnResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.NextSession == nil || *turn.NextSession.PatientID != "pregnancy_patient_001" {
		t.Fatalf("expected next session pregnancy_patient_001, got %+v", turn.NextSession)
	}
	if turn.Question == nil || turn.Question.ID != "lmp_confirm" {
		t.Fatalf("expected the continuation's first question, got %+v", turn.Question)
	}
	if turn.PregnancyStatus != "suspected" {
		t.Fatalf("expected pregnancy_status suspected, got %q", turn.PregnancyStatus)
	}

	resp = do(t, r, http.MethodPost, "/sessions/pregnancy_patient_001/answers", `{"answer":"بله، ۱۴۰۵/۰۵/۲۰"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	turn = TurnResponse{}
	if err := json.Unmarshal(resp.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.PregnancyStatus != "suspected" {
		t.Fatalf("expected the assessment to be carried, got %q", turn.PregnancyStatus)
	}

	resp = do(t, r, http.MethodGet, "/sessions?match=pregnancy_*", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var listing struct {
		Sessions []session.Summary `json:"sessions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listing.Sessions) != 1 || listing.Sessions[0].PatientID != "pregnancy_patient_001" {
		t.Fatalf("unexpected listing: %+v", listing.Sessions)
	}

	if resp := do(t, r, http.MethodGet, "/sessions?match=[", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad pattern, got %d", resp.Code)
	}
}

func TestCompleteAndQuestion(t *testing.T) {
	r, _ := setupRouter(t, &scriptedAdvisor{})
	do(t, r, http.MethodPost, "/sessions", `{"patient_id":"patient_001"}`)

	resp := do(t, r, http.MethodGet, "/sessions/patient_001/question", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = do(t, r, http.MethodPost, "/sessions/patient_001/complete", `{"summary":"patient left"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = do(t, r, http.MethodGet, "/sessions/patient_001/question", "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestListProtocols(t *testing.T) {
	r, _ := setupRouter(t, &scriptedAdvisor{})
	resp := do(t, r, http.MethodGet, "/protocols", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"pregnancy"`)) {
		t.Fatalf("expected pregnancy protocol in %s", resp.Body.String())
	}
}
