package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/gyn-intake/backend/internal/analysis/screening"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
)

const (
	// SummaryMarker starts a reply that closes the consultation.
	SummaryMarker = "[SUMMARY]"
	// TransferPrefix starts a reply that hands the patient to another track,
	// e.g. "[TRANSFER:pregnancy]".
	TransferPrefix = "[TRANSFER:"
	// StatusPrefix marks the pregnancy assessment, e.g. "[STATUS:needs_testing]".
	StatusPrefix = "[STATUS:"
)

const defaultFollowUpHint = "Ask the next question."

// BuildSystemPrompt renders the protocol prompt together with the question
// order and the reply markers the parser understands.
func BuildSystemPrompt(p protocol.Protocol, metadata map[string]string) string {
	var builder strings.Builder
	builder.WriteString(strings.TrimSpace(p.SystemPrompt))

	if len(p.Questions) > 0 {
		builder.WriteString("\n\nHistory order:\n")
		for i, q := range p.Questions {
			builder.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, q.Text, q.Key))
		}
	}

	if facts := carriedFacts(metadata); facts != "" {
		builder.WriteString("\nKnown facts:\n")
		builder.WriteString(facts)
	}

	builder.WriteString("\nReply format:\n")
	builder.WriteString("- Normally reply with the next question only.\n")
	builder.WriteString("- When the history is complete, reply with a line " + SummaryMarker + " followed by a short clinical summary.\n")
	if p.TransferTarget != "" {
		builder.WriteString("- If the patient should continue in the " + p.TransferTarget +
			" track, reply with a line " + TransferPrefix + p.TransferTarget + "] followed by a short note for the patient.\n")
		builder.WriteString("- A patient who denies pregnancy signs stays in this track.\n")
	}
	if p.TracksPregnancy {
		builder.WriteString("- When your assessment changes, add a line " + StatusPrefix + "<status>] with one of " +
			"suspected, confirmed, needs_testing, ruled_out.\n")
	}
	return builder.String()
}

// FollowUpQuery is the instruction appended after the latest answer.
func FollowUpQuery(p protocol.Protocol) string {
	if hint := strings.TrimSpace(p.FollowUpHint); hint != "" {
		return hint
	}
	return defaultFollowUpHint
}

func carriedFacts(metadata map[string]string) string {
	var builder strings.Builder
	for _, key := range []string{
		screening.KeyLMP,
		screening.KeySymptoms,
		screening.KeyPregnancySuspected,
		"screening_reason",
		screening.KeyPregnancyStatus,
		screening.KeyBetaHCG,
		screening.KeyUltrasound,
		screening.KeyRiskFactors,
	} {
		if v := strings.TrimSpace(metadata[key]); v != "" {
			builder.WriteString("- " + key + ": " + v + "\n")
		}
	}
	return builder.String()
}
