package intake

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is the persisted JSON form of a Session. Required fields are
// pointers so a missing key can be told apart from a zero value. Unknown keys
// are ignored on decode.
type Document struct {
	PatientID       *string           `json:"patient_id"`
	Protocol        string            `json:"protocol,omitempty"`
	Status          *string           `json:"status"`
	History         *[]Turn           `json:"history"`
	Pending         *Question         `json:"pending,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	TransferredTo   string            `json:"transferred_to,omitempty"`
	SourceSessionID string            `json:"source_session_id,omitempty"`
	Metadata        map[string]string `json:"metadata"`
	CreatedAt       *time.Time        `json:"created_at"`
	UpdatedAt       *time.Time        `json:"updated_at"`
}

// ToDocument maps a session to its persisted form.
func ToDocument(s *Session) Document {
	c := s.Clone()
	status := string(c.Status)
	return Document{
		PatientID:       &c.PatientID,
		Protocol:        c.Protocol,
		Status:          &status,
		History:         &c.History,
		Pending:         c.Pending,
		Summary:         c.Summary,
		TransferredTo:   c.TransferredTo,
		SourceSessionID: c.SourceSessionID,
		Metadata:        c.Metadata,
		CreatedAt:       &c.CreatedAt,
		UpdatedAt:       &c.UpdatedAt,
	}
}

// FromDocument validates a persisted document and rebuilds the session.
func FromDocument(doc Document) (*Session, error) {
	switch {
	case doc.PatientID == nil || *doc.PatientID == "":
		return nil, missingField("patient_id")
	case doc.Status == nil:
		return nil, missingField("status")
	case doc.History == nil:
		return nil, missingField("history")
	case doc.CreatedAt == nil:
		return nil, missingField("created_at")
	case doc.UpdatedAt == nil:
		return nil, missingField("updated_at")
	}

	status, err := ParseStatus(*doc.Status)
	if err != nil {
		return nil, err
	}

	for i, turn := range *doc.History {
		if turn.QuestionID == "" {
			return nil, fmt.Errorf("%w: history[%d] has no question_id", ErrCorruptSession, i)
		}
	}

	s := &Session{
		PatientID:       *doc.PatientID,
		Protocol:        doc.Protocol,
		Status:          status,
		History:         append(make([]Turn, 0, len(*doc.History)), *doc.History...),
		Summary:         doc.Summary,
		TransferredTo:   doc.TransferredTo,
		SourceSessionID: doc.SourceSessionID,
		Metadata:        doc.Metadata,
		CreatedAt:       *doc.CreatedAt,
		UpdatedAt:       *doc.UpdatedAt,
	}
	if doc.Pending != nil {
		q := *doc.Pending
		s.Pending = &q
	}
	return s.Clone(), nil
}

// Marshal encodes a session as an indented JSON document.
func Marshal(s *Session) ([]byte, error) {
	return json.MarshalIndent(ToDocument(s), "", "  ")
}

// Unmarshal decodes and validates a JSON document.
func Unmarshal(data []byte) (*Session, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	return FromDocument(doc)
}

func missingField(name string) error {
	return fmt.Errorf("%w: missing %s", ErrCorruptSession, name)
}
