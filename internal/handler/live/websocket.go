package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/analysis/screening"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	intakeService "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
	"github.com/zhouzirui/gyn-intake/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler runs a live intake conversation over a websocket.
type Handler struct {
	workflow *intakeService.Workflow
	upgrader websocket.Upgrader
}

// New creates the websocket handler.
func New(workflow *intakeService.Workflow) *Handler {
	return &Handler{
		workflow: workflow,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the websocket route on the sessions router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{patientID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AnswerMessage carries one patient answer.
type AnswerMessage struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// FinishMessage ends the conversation early.
type FinishMessage struct {
	Summary string `json:"summary"`
}

// TransferMessage asks for a manual handoff.
type TransferMessage struct {
	Target string `json:"target"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type connectionState struct {
	sessionID string
	closed    bool
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	s, err := h.workflow.Load(patientID)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Warningf("[live] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	klog.V(1).Infof("[live] new connection for session=%s", patientID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go pingLoop(ctx, conn)

	state := &connectionState{sessionID: patientID}
	h.send(conn, "connected", state.sessionID, map[string]any{
		"status":   s.Status,
		"protocol": s.Protocol,
		"turns":    len(s.History),
	})

	if !s.Active() {
		h.sendClosed(conn, s)
		return
	}
	h.askPending(ctx, conn, state)

	for !state.closed {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				klog.Warningf("[live] read error session=%s: %v", state.sessionID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, conn, state, &msg)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "intake finished"),
		time.Now().Add(writeTimeout))
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "answer":
		var payload AnswerMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			h.sendError(conn, state.sessionID, "invalid answer payload")
			return
		}
		s, res, err := h.workflow.Answer(ctx, state.sessionID, payload.QuestionID, payload.Answer)
		if err != nil {
			h.sendServiceError(conn, state.sessionID, err)
			return
		}
		h.deliver(ctx, conn, state, s, res)

	case "transfer":
		var payload TransferMessage
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				h.sendError(conn, state.sessionID, "invalid transfer payload")
				return
			}
		}
		s, res, err := h.workflow.Transfer(ctx, state.sessionID, payload.Target)
		if err != nil {
			h.sendServiceError(conn, state.sessionID, err)
			return
		}
		h.deliver(ctx, conn, state, s, res)

	case "finish":
		var payload FinishMessage
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				h.sendError(conn, state.sessionID, "invalid finish payload")
				return
			}
		}
		s, err := h.workflow.Complete(ctx, state.sessionID, payload.Summary)
		if err != nil {
			h.sendServiceError(conn, state.sessionID, err)
			return
		}
		h.send(conn, "summary", s.PatientID, map[string]any{"summary": s.Summary})
		state.closed = true

	case "ping":
		h.send(conn, "pong", state.sessionID, nil)

	default:
		h.sendError(conn, state.sessionID, "unknown message type: "+msg.Type)
	}
}

// deliver reports a turn result. A transfer moves the connection onto the
// new session and asks its first question.
func (h *Handler) deliver(ctx context.Context, conn *websocket.Conn, state *connectionState, s *intake.Session, res intakeService.Result) {
	switch res.Kind {
	case intakeService.KindQuestion:
		h.send(conn, "question", s.PatientID, questionFrame{Question: *res.Question, PregnancyStatus: pregnancyStatus(res.Metadata)})

	case intakeService.KindSummary:
		data := map[string]any{"summary": res.Text}
		if st := pregnancyStatus(res.Metadata); st != "" {
			data["pregnancy_status"] = st
		}
		h.send(conn, "summary", s.PatientID, data)
		state.closed = true

	case intakeService.KindTransfer:
		data := map[string]any{"from": s.PatientID, "message": res.Text}
		if res.Next != nil {
			data["to"] = res.Next.PatientID
			data["protocol"] = res.Next.Protocol
		}
		h.send(conn, "transfer", s.PatientID, data)
		if res.Next == nil {
			state.closed = true
			return
		}
		state.sessionID = res.Next.PatientID
		if res.Question != nil {
			h.send(conn, "question", state.sessionID, questionFrame{Question: *res.Question, PregnancyStatus: pregnancyStatus(res.Metadata)})
			return
		}
		h.askPending(ctx, conn, state)
	}
}

// questionFrame is a question plus the running pregnancy assessment.
type questionFrame struct {
	intake.Question
	PregnancyStatus string `json:"pregnancy_status,omitempty"`
}

func pregnancyStatus(meta map[string]string) string {
	return meta[screening.KeyPregnancyStatus]
}

func (h *Handler) askPending(ctx context.Context, conn *websocket.Conn, state *connectionState) {
	_, q, err := h.workflow.Question(ctx, state.sessionID)
	if err != nil {
		h.sendServiceError(conn, state.sessionID, err)
		return
	}
	h.send(conn, "question", state.sessionID, q)
}

func (h *Handler) sendClosed(conn *websocket.Conn, s *intake.Session) {
	data := map[string]any{"status": s.Status}
	if s.Summary != "" {
		data["summary"] = s.Summary
	}
	if s.TransferredTo != "" {
		data["to"] = s.TransferredTo
	}
	h.send(conn, "closed", s.PatientID, data)
}

func (h *Handler) send(conn *websocket.Conn, kind, sessionID string, data any) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		klog.Warningf("[live] write %s failed: %v", kind, err)
	}
}

func (h *Handler) sendError(conn *websocket.Conn, sessionID, message string) {
	h.send(conn, "error", sessionID, map[string]string{"message": message})
}

func (h *Handler) sendServiceError(conn *websocket.Conn, sessionID string, err error) {
	retry := errors.Is(err, intake.ErrModelUnavailable)
	h.send(conn, "error", sessionID, map[string]any{
		"message": err.Error(),
		"status":  utils.StatusFor(err),
		"retry":   retry,
	})
}

// pingLoop keeps the read deadline alive. WriteControl is safe to call
// concurrently with the writer.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
