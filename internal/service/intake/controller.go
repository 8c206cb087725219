package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/analysis/screening"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
)

// Kind tells the caller what a turn produced.
type Kind string

const (
	KindQuestion Kind = "question"
	KindSummary  Kind = "summary"
	KindTransfer Kind = "transfer"
)

// Advice is the collaborator's verdict for one answer.
type Advice struct {
	Kind   Kind
	Text   string
	Target string
	// Metadata is merged into the new session on transfer.
	Metadata map[string]string
}

// AdviceRequest carries the prior history and the answer just given.
type AdviceRequest struct {
	Protocol  protocol.Protocol
	PatientID string
	History   []intake.Turn
	Answer    intake.Turn
	Metadata  map[string]string
}

// OpeningRequest asks for the first question of a session.
type OpeningRequest struct {
	Protocol  protocol.Protocol
	PatientID string
	History   []intake.Turn
	Metadata  map[string]string
}

// Advisor produces the next step of the conversation. Implementations talk
// to the language model; any error is reported to callers as
// ErrModelUnavailable.
type Advisor interface {
	Open(ctx context.Context, req OpeningRequest) (string, error)
	Advise(ctx context.Context, req AdviceRequest) (Advice, error)
}

// Config tunes the controller.
type Config struct {
	// HistoryWindow bounds how many prior turns are sent to the advisor.
	// Zero sends the full history.
	HistoryWindow int
}

// Result is what a turn returns to the caller.
type Result struct {
	Kind     Kind
	Text     string
	Question *intake.Question
	// Next is the session created by a transfer.
	Next *intake.Session
	// Metadata is the session metadata after the turn.
	Metadata map[string]string
}

// Controller drives the intake state machine. It never persists sessions;
// callers save after each turn.
type Controller struct {
	advisor   Advisor
	protocols protocol.Store
	cfg       Config
	now       func() time.Time
}

// NewController wires a controller to its advisor and protocol catalog.
func NewController(advisor Advisor, protocols protocol.Store, cfg Config) *Controller {
	return &Controller{
		advisor:   advisor,
		protocols: protocols,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Start returns the question awaiting an answer, asking the advisor for an
// opening question when none is pending yet.
func (c *Controller) Start(ctx context.Context, s *intake.Session) (intake.Question, error) {
	if !s.Active() {
		return intake.Question{}, closedError(s)
	}
	if s.Pending != nil {
		return *s.Pending, nil
	}

	proto, err := c.protocolFor(s)
	if err != nil {
		return intake.Question{}, err
	}

	text, err := c.advisor.Open(ctx, OpeningRequest{
		Protocol:  proto,
		PatientID: s.PatientID,
		History:   c.window(s.History),
		Metadata:  copyMetadata(s.Metadata),
	})
	if err != nil {
		return intake.Question{}, modelError(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return intake.Question{}, fmt.Errorf("%w: empty opening question", intake.ErrModelUnavailable)
	}

	q := intake.Question{ID: proto.QuestionKey(len(s.History)), Text: text}
	s.Ask(q, c.now())
	klog.V(2).Infof("[intake] session=%s opened with question=%s", s.PatientID, q.ID)
	return q, nil
}

// SubmitAnswer records an answer and advances the session. When the advisor
// fails the session is left untouched so the same call can be retried.
func (c *Controller) SubmitAnswer(ctx context.Context, s *intake.Session, questionID, answer string) (Result, error) {
	if !s.Active() {
		return Result{}, closedError(s)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Result{}, intake.ErrEmptyAnswer
	}

	proto, err := c.protocolFor(s)
	if err != nil {
		return Result{}, err
	}

	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		if s.Pending != nil {
			questionID = s.Pending.ID
		} else {
			questionID = proto.QuestionKey(len(s.History))
		}
	}

	now := c.now()
	turn := intake.Turn{
		QuestionID: questionID,
		Question:   lookupQuestion(s, proto, questionID),
		Answer:     answer,
		AnsweredAt: now,
	}

	advice, err := c.advisor.Advise(ctx, AdviceRequest{
		Protocol:  proto,
		PatientID: s.PatientID,
		History:   c.window(s.History),
		Answer:    turn,
		Metadata:  copyMetadata(s.Metadata),
	})
	if err != nil {
		klog.Warningf("[intake] session=%s advisor failed: %v", s.PatientID, err)
		return Result{}, modelError(err)
	}

	text := strings.TrimSpace(advice.Text)
	switch advice.Kind {
	case KindQuestion:
		if text == "" {
			return Result{}, fmt.Errorf("%w: empty next question", intake.ErrModelUnavailable)
		}
		s.Append(turn, now)
		mergeInto(s, advice.Metadata)
		next := intake.Question{ID: proto.QuestionKey(len(s.History)), Text: text}
		s.Ask(next, now)
		klog.V(2).Infof("[intake] session=%s answered=%s next=%s turns=%d", s.PatientID, turn.QuestionID, next.ID, len(s.History))
		return Result{Kind: KindQuestion, Text: text, Question: &next, Metadata: copyMetadata(s.Metadata)}, nil

	case KindSummary:
		if text == "" {
			return Result{}, fmt.Errorf("%w: empty summary", intake.ErrModelUnavailable)
		}
		s.Append(turn, now)
		mergeInto(s, advice.Metadata)
		if err := s.Complete(text, now); err != nil {
			return Result{}, err
		}
		klog.V(1).Infof("[intake] session=%s completed turns=%d", s.PatientID, len(s.History))
		return Result{Kind: KindSummary, Text: text, Metadata: copyMetadata(s.Metadata)}, nil

	case KindTransfer:
		target, ok := c.protocols.FindByID(advice.Target)
		if !ok || target.ID == proto.ID {
			return Result{}, fmt.Errorf("%w: invalid transfer target %q", intake.ErrModelUnavailable, advice.Target)
		}
		s.Append(turn, now)
		next, err := c.handoff(s, proto, target, advice.Metadata, now)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: KindTransfer, Text: text, Next: next, Metadata: copyMetadata(next.Metadata)}, nil

	default:
		return Result{}, fmt.Errorf("%w: unknown advice kind %q", intake.ErrModelUnavailable, advice.Kind)
	}
}

// Transfer hands an active session off to target without consulting the
// advisor. An empty target uses the protocol's configured transfer target.
func (c *Controller) Transfer(s *intake.Session, target string) (Result, error) {
	if !s.Active() {
		return Result{}, closedError(s)
	}
	proto, err := c.protocolFor(s)
	if err != nil {
		return Result{}, err
	}
	if target == "" {
		target = proto.TransferTarget
	}

	dest, ok := c.protocols.FindByID(target)
	if !ok || dest.ID == proto.ID {
		return Result{}, fmt.Errorf("%w: transfer target %q", intake.ErrUnknownProtocol, target)
	}

	next, err := c.handoff(s, proto, dest, nil, c.now())
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: KindTransfer, Next: next, Metadata: copyMetadata(next.Metadata)}, nil
}

// Finish closes an active session, e.g. when the patient leaves.
func (c *Controller) Finish(s *intake.Session, summary string) error {
	if err := s.Complete(strings.TrimSpace(summary), c.now()); err != nil {
		return err
	}
	klog.V(1).Infof("[intake] session=%s finished by caller turns=%d", s.PatientID, len(s.History))
	return nil
}

// handoff closes s and returns the session that continues it under target.
func (c *Controller) handoff(s *intake.Session, from, target protocol.Protocol, meta map[string]string, now time.Time) (*intake.Session, error) {
	prefix := target.IDPrefix
	if prefix == "" {
		prefix = target.ID
	}
	nextID := prefix + "_" + s.PatientID

	next := intake.NewSession(nextID, target.ID, now)
	next.History = append(next.History, s.History...)
	next.SourceSessionID = s.PatientID
	for k, v := range s.Metadata {
		next.Metadata[k] = v
	}
	for k, v := range screening.CarryOver(s.History) {
		next.Metadata[k] = v
	}
	if target.TracksPregnancy {
		next.Metadata[screening.KeyPregnancyStatus] = string(screening.StatusSuspected)
	}
	next.Metadata["transferred_from"] = from.ID
	for k, v := range meta {
		next.Metadata[k] = v
	}

	if err := s.MarkTransferred(nextID, now); err != nil {
		return nil, err
	}
	klog.V(1).Infof("[intake] session=%s transferred to=%s protocol=%s carried=%d", s.PatientID, nextID, target.ID, len(next.History))
	return next, nil
}

func (c *Controller) protocolFor(s *intake.Session) (protocol.Protocol, error) {
	p, ok := protocol.Resolve(c.protocols, s.Protocol)
	if !ok {
		return protocol.Protocol{}, fmt.Errorf("%w: %q", intake.ErrUnknownProtocol, s.Protocol)
	}
	return p, nil
}

func (c *Controller) window(history []intake.Turn) []intake.Turn {
	start := 0
	if c.cfg.HistoryWindow > 0 && len(history) > c.cfg.HistoryWindow {
		start = len(history) - c.cfg.HistoryWindow
	}
	return append([]intake.Turn(nil), history[start:]...)
}

func lookupQuestion(s *intake.Session, proto protocol.Protocol, questionID string) string {
	if s.Pending != nil && s.Pending.ID == questionID {
		return s.Pending.Text
	}
	if text, ok := proto.QuestionText(questionID); ok {
		return text
	}
	return ""
}

func mergeInto(s *intake.Session, meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	for k, v := range meta {
		s.Metadata[k] = v
	}
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func closedError(s *intake.Session) error {
	return fmt.Errorf("%w: session %s is %s", intake.ErrSessionClosed, s.PatientID, s.Status)
}

func modelError(err error) error {
	if errors.Is(err, intake.ErrModelUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", intake.ErrModelUnavailable, err)
}
