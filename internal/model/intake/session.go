package intake

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an intake session.
type Status string

const (
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusTransferred Status = "transferred"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusTransferred:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTransferred
}

// ParseStatus converts the persisted form into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrCorruptSession, raw)
	}
	return s, nil
}

// Question is a prompt shown to the patient.
type Question struct {
	ID   string `json:"question_id"`
	Text string `json:"question"`
}

// Turn is one answered question in the history.
type Turn struct {
	QuestionID string    `json:"question_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Session captures one patient's intake conversation.
type Session struct {
	PatientID       string
	Protocol        string
	Status          Status
	History         []Turn
	Pending         *Question
	Summary         string
	TransferredTo   string
	SourceSessionID string
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewSession returns an active session with an empty history.
func NewSession(patientID, protocol string, now time.Time) *Session {
	return &Session{
		PatientID: patientID,
		Protocol:  protocol,
		Status:    StatusActive,
		History:   make([]Turn, 0, 16),
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Active reports whether the session still accepts answers.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}

// Append records an answered turn. Callers must check Active first.
func (s *Session) Append(turn Turn, now time.Time) {
	s.History = append(s.History, turn)
	s.touch(now)
}

// Ask sets the question awaiting an answer.
func (s *Session) Ask(q Question, now time.Time) {
	s.Pending = &q
	s.touch(now)
}

// Complete moves an active session to the completed state.
func (s *Session) Complete(summary string, now time.Time) error {
	if err := s.transition(StatusCompleted); err != nil {
		return err
	}
	s.Summary = summary
	s.Pending = nil
	s.touch(now)
	return nil
}

// MarkTransferred closes the session in favour of the session named target.
func (s *Session) MarkTransferred(target string, now time.Time) error {
	if err := s.transition(StatusTransferred); err != nil {
		return err
	}
	s.TransferredTo = target
	s.Pending = nil
	s.touch(now)
	return nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	out := *s
	out.History = append(make([]Turn, 0, len(s.History)), s.History...)
	if s.Pending != nil {
		q := *s.Pending
		out.Pending = &q
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (s *Session) transition(to Status) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrSessionClosed, s.PatientID, s.Status)
	}
	s.Status = to
	return nil
}

func (s *Session) touch(now time.Time) {
	s.UpdatedAt = now
}
