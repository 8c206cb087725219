package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
)

// Store is the persistence the workflow needs.
type Store interface {
	Create(ctx context.Context, patientID, protocol string) (*intake.Session, error)
	LoadByID(patientID string) (*intake.Session, error)
	SaveSession(s *intake.Session) error
}

// Workflow runs one controller turn against stored sessions: load, advance,
// save. HTTP, websocket and CLI callers share it.
type Workflow struct {
	store Store
	ctrl  *Controller
}

// NewWorkflow binds a controller to a store.
func NewWorkflow(store Store, ctrl *Controller) *Workflow {
	return &Workflow{store: store, ctrl: ctrl}
}

// Controller exposes the underlying controller.
func (w *Workflow) Controller() *Controller {
	return w.ctrl
}

// Load reads a stored session.
func (w *Workflow) Load(patientID string) (*intake.Session, error) {
	return w.store.LoadByID(patientID)
}

// Open creates a session and asks its opening question. An empty patientID
// gets a generated one. When the model fails the created session is still
// returned together with the error.
func (w *Workflow) Open(ctx context.Context, patientID, protocolID string) (*intake.Session, *intake.Question, error) {
	proto, ok := protocol.Resolve(w.ctrl.protocols, protocolID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", intake.ErrUnknownProtocol, protocolID)
	}

	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		patientID = NewPatientID(proto)
	}

	s, err := w.store.Create(ctx, patientID, proto.ID)
	if err != nil {
		return nil, nil, err
	}

	q, err := w.ctrl.Start(ctx, s)
	if err != nil {
		return s, nil, err
	}
	if err := w.store.SaveSession(s); err != nil {
		return s, nil, err
	}
	return s, &q, nil
}

// Question returns the question awaiting an answer, generating it if needed.
func (w *Workflow) Question(ctx context.Context, patientID string) (*intake.Session, intake.Question, error) {
	s, err := w.store.LoadByID(patientID)
	if err != nil {
		return nil, intake.Question{}, err
	}

	hadPending := s.Pending != nil
	q, err := w.ctrl.Start(ctx, s)
	if err != nil {
		return s, intake.Question{}, err
	}
	if !hadPending {
		if err := w.store.SaveSession(s); err != nil {
			return s, intake.Question{}, err
		}
	}
	return s, q, nil
}

// Answer submits an answer and saves the outcome.
func (w *Workflow) Answer(ctx context.Context, patientID, questionID, answer string) (*intake.Session, Result, error) {
	s, err := w.store.LoadByID(patientID)
	if err != nil {
		return nil, Result{}, err
	}

	res, err := w.ctrl.SubmitAnswer(ctx, s, questionID, answer)
	if err != nil {
		return s, Result{}, err
	}
	w.openContinuation(ctx, &res)
	if err := w.persist(s, res.Next); err != nil {
		return s, res, err
	}
	return s, res, nil
}

// Transfer moves a session to another protocol and saves both documents.
func (w *Workflow) Transfer(ctx context.Context, patientID, target string) (*intake.Session, Result, error) {
	s, err := w.store.LoadByID(patientID)
	if err != nil {
		return nil, Result{}, err
	}

	res, err := w.ctrl.Transfer(s, target)
	if err != nil {
		return s, Result{}, err
	}
	w.openContinuation(ctx, &res)
	if err := w.persist(s, res.Next); err != nil {
		return s, res, err
	}
	return s, res, nil
}

// Complete closes a session with an optional summary.
func (w *Workflow) Complete(_ context.Context, patientID, summary string) (*intake.Session, error) {
	s, err := w.store.LoadByID(patientID)
	if err != nil {
		return nil, err
	}
	if err := w.ctrl.Finish(s, summary); err != nil {
		return s, err
	}
	return s, w.store.SaveSession(s)
}

// openContinuation asks the first question of a transferred session. A model
// failure leaves Question nil; the transfer itself still stands and the
// question can be fetched later.
func (w *Workflow) openContinuation(ctx context.Context, res *Result) {
	if res.Kind != KindTransfer || res.Next == nil {
		return
	}
	q, err := w.ctrl.Start(ctx, res.Next)
	if err != nil {
		klog.Warningf("[intake] continuation=%s opening question failed: %v", res.Next.PatientID, err)
		return
	}
	res.Question = &q
}

// persist writes the continuation first so a transferred document never
// points at a session that was not saved.
func (w *Workflow) persist(s, next *intake.Session) error {
	if next != nil {
		if err := w.store.SaveSession(next); err != nil {
			return fmt.Errorf("save transferred session: %w", err)
		}
		klog.V(2).Infof("[intake] saved continuation=%s of session=%s", next.PatientID, s.PatientID)
	}
	return w.store.SaveSession(s)
}

// NewPatientID returns a fresh identifier using the protocol prefix.
func NewPatientID(p protocol.Protocol) string {
	prefix := p.IDPrefix
	if prefix == "" {
		prefix = p.ID
	}
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
