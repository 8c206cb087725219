package intake

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func sampleSession() *Session {
	s := NewSession("patient_001", "gynecology", t0)
	s.Ask(Question{ID: "q1", Text: "What brings you in today?"}, t0)
	s.Append(Turn{QuestionID: "q1", Question: "What brings you in today?", Answer: "I have irregular periods", AnsweredAt: t0.Add(time.Minute)}, t0.Add(time.Minute))
	s.Ask(Question{ID: "q2", Text: "How long has this been occurring?"}, t0.Add(time.Minute))
	s.Metadata["model"] = "gemma3-medical"
	return s
}

func TestDocumentRoundTrip(t *testing.T) {
	cases := map[string]*Session{
		"fresh":  NewSession("patient_002", "gynecology", t0),
		"active": sampleSession(),
	}

	completed := sampleSession()
	require.NoError(t, completed.Complete("Recommend follow-up in 2 weeks.", t0.Add(time.Hour)))
	cases["completed"] = completed

	transferred := sampleSession()
	require.NoError(t, transferred.MarkTransferred("pregnancy_patient_001", t0.Add(time.Hour)))
	cases["transferred"] = transferred

	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := FromDocument(ToDocument(s))
			require.NoError(t, err)
			assert.Equal(t, s, got)

			data, err := Marshal(s)
			require.NoError(t, err)
			decoded, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, s, decoded)
		})
	}
}

func TestToDocumentDoesNotAlias(t *testing.T) {
	s := sampleSession()
	doc := ToDocument(s)
	(*doc.History)[0].Answer = "changed"
	doc.Metadata["model"] = "other"

	assert.Equal(t, "I have irregular periods", s.History[0].Answer)
	assert.Equal(t, "gemma3-medical", s.Metadata["model"])
}

func TestUnmarshalMissingStatus(t *testing.T) {
	raw := `{"patient_id":"patient_001","history":[],"created_at":"2026-03-01T09:30:00Z","updated_at":"2026-03-01T09:30:00Z"}`

	_, err := Unmarshal([]byte(raw))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptSession))
	assert.Contains(t, err.Error(), "status")
}

func TestUnmarshalRejectsInvalidDocuments(t *testing.T) {
	base := map[string]any{
		"patient_id": "patient_001",
		"status":     "active",
		"history":    []any{},
		"created_at": "2026-03-01T09:30:00Z",
		"updated_at": "2026-03-01T09:30:00Z",
	}

	mutate := map[string]func(m map[string]any){
		"missing patient_id": func(m map[string]any) { delete(m, "patient_id") },
		"empty patient_id":   func(m map[string]any) { m["patient_id"] = "" },
		"missing history":    func(m map[string]any) { delete(m, "history") },
		"null history":       func(m map[string]any) { m["history"] = nil },
		"missing created_at": func(m map[string]any) { delete(m, "created_at") },
		"missing updated_at": func(m map[string]any) { delete(m, "updated_at") },
		"unknown status":     func(m map[string]any) { m["status"] = "suspended" },
		"turn without id":    func(m map[string]any) { m["history"] = []any{map[string]any{"answer": "x"}} },
	}

	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			m := map[string]any{}
			for k, v := range base {
				m[k] = v
			}
			fn(m)
			data, err := json.Marshal(m)
			require.NoError(t, err)

			_, err = Unmarshal(data)
			assert.ErrorIs(t, err, ErrCorruptSession)
		})
	}

	_, err := Unmarshal([]byte("{not json"))
	assert.ErrorIs(t, err, ErrCorruptSession)
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	raw := `{"patient_id":"patient_001","status":"completed","history":[{"question_id":"q1","question":"?","answer":"yes"}],
		"created_at":"2026-03-01T09:30:00Z","updated_at":"2026-03-01T09:31:00Z","pregnancy_suspicion":true,"extra":{"a":1}}`

	s, err := Unmarshal([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	require.Len(t, s.History, 1)
	assert.Equal(t, "yes", s.History[0].Answer)
}

func TestStatusTransitionsAreOneWay(t *testing.T) {
	s := sampleSession()
	require.NoError(t, s.Complete("done", t0))

	assert.ErrorIs(t, s.Complete("again", t0), ErrSessionClosed)
	assert.ErrorIs(t, s.MarkTransferred("x", t0), ErrSessionClosed)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, "done", s.Summary)
	assert.Nil(t, s.Pending)
}

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"active", "completed", "transferred"} {
		s, err := ParseStatus(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, string(s))
	}
	_, err := ParseStatus("ACTIVE")
	assert.ErrorIs(t, err, ErrCorruptSession)
}
