package intake

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/gyn-intake/backend/internal/analysis/screening"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
	intakeService "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/service/session"
	"github.com/zhouzirui/gyn-intake/backend/pkg/utils"
)

// Lister enumerates stored sessions.
type Lister interface {
	List(match string) (session.ListResult, error)
}

// Handler exposes the intake workflow over HTTP.
type Handler struct {
	workflow  *intakeService.Workflow
	sessions  Lister
	protocols protocol.Store
}

// New creates the intake handler.
func New(workflow *intakeService.Workflow, sessions Lister, protocols protocol.Store) *Handler {
	return &Handler{workflow: workflow, sessions: sessions, protocols: protocols}
}

// RegisterRoutes registers the session routes on a router mounted at
// /sessions.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{patientID}", h.handleGet)
	r.Get("/{patientID}/question", h.handleQuestion)
	r.Post("/{patientID}/answers", h.handleAnswer)
	r.Post("/{patientID}/transfer", h.handleTransfer)
	r.Post("/{patientID}/complete", h.handleComplete)
}

// RegisterProtocolRoutes registers the protocol catalog route.
func (h *Handler) RegisterProtocolRoutes(r chi.Router) {
	r.Get("/protocols", h.handleListProtocols)
}

// SessionView is the JSON form returned to clients.
type SessionView = intake.Document

// TurnResponse describes the outcome of a turn. After a transfer Question is
// the first question of NextSession.
type TurnResponse struct {
	Kind            intakeService.Kind `json:"kind"`
	Text            string             `json:"text,omitempty"`
	Question        *intake.Question   `json:"question,omitempty"`
	PregnancyStatus string             `json:"pregnancy_status,omitempty"`
	Session         SessionView        `json:"session"`
	NextSession     *SessionView       `json:"next_session,omitempty"`
}

type protocolView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TransferTarget string `json:"transfer_target,omitempty"`
}

func (h *Handler) handleListProtocols(w http.ResponseWriter, _ *http.Request) {
	items := h.protocols.List()
	out := make([]protocolView, 0, len(items))
	for _, p := range items {
		out = append(out, protocolView{ID: p.ID, Name: p.Name, TransferTarget: p.TransferTarget})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PatientID string `json:"patient_id"`
		Protocol  string `json:"protocol"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}

	s, q, err := h.workflow.Open(r.Context(), payload.PatientID, payload.Protocol)
	if err != nil {
		if s != nil && errors.Is(err, intake.ErrModelUnavailable) {
			// the session exists; the client can fetch the question later
			utils.RespondJSON(w, http.StatusCreated, map[string]any{
				"session": intake.ToDocument(s),
				"warning": err.Error(),
			})
			return
		}
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"session":  intake.ToDocument(s),
		"question": q,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.List(r.URL.Query().Get("match"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	warnings := make([]string, 0, len(result.Warnings))
	for _, warn := range result.Warnings {
		warnings = append(warnings, warn.Error())
	}
	summaries := result.Summaries
	if summaries == nil {
		summaries = []session.Summary{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"warnings": warnings,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.workflow.Load(chi.URLParam(r, "patientID"))
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, intake.ToDocument(s))
}

func (h *Handler) handleQuestion(w http.ResponseWriter, r *http.Request) {
	_, q, err := h.workflow.Question(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, q)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		QuestionID string `json:"question_id"`
		Answer     string `json:"answer"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}

	s, res, err := h.workflow.Answer(r.Context(), chi.URLParam(r, "patientID"), payload.QuestionID, payload.Answer)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turnResponse(s, res))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Target string `json:"target"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}

	s, res, err := h.workflow.Transfer(r.Context(), chi.URLParam(r, "patientID"), payload.Target)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turnResponse(s, res))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Summary string `json:"summary"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}

	s, err := h.workflow.Complete(r.Context(), chi.URLParam(r, "patientID"), payload.Summary)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, intake.ToDocument(s))
}

func turnResponse(s *intake.Session, res intakeService.Result) TurnResponse {
	out := TurnResponse{
		Kind:            res.Kind,
		Text:            res.Text,
		Question:        res.Question,
		PregnancyStatus: res.Metadata[screening.KeyPregnancyStatus],
		Session:         intake.ToDocument(s),
	}
	if res.Next != nil {
		next := intake.ToDocument(res.Next)
		out.NextSession = &next
	}
	return out
}

// decodeBody accepts an empty body as an empty payload.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
