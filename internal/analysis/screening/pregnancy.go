package screening

import (
	"strings"
)

// PregnancyStatus is the running assessment of a pregnancy consultation.
type PregnancyStatus string

const (
	StatusSuspected    PregnancyStatus = "suspected"
	StatusConfirmed    PregnancyStatus = "confirmed"
	StatusNeedsTesting PregnancyStatus = "needs_testing"
	StatusRuledOut     PregnancyStatus = "ruled_out"
)

// Metadata keys written by the pregnancy track.
const (
	KeyPregnancyStatus    = "pregnancy_status"
	KeyPregnancySuspected = "pregnancy_suspected"
	KeyLMP                = "lmp"
	KeyBetaHCG            = "beta_hcg"
	KeyUltrasound         = "ultrasound_findings"
	KeyRiskFactors        = "risk_factors"
	KeySymptoms           = "pregnancy_symptoms"
)

// ParsePregnancyStatus accepts the persisted form.
func ParsePregnancyStatus(raw string) (PregnancyStatus, bool) {
	s := PregnancyStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusSuspected, StatusConfirmed, StatusNeedsTesting, StatusRuledOut:
		return s, true
	}
	return "", false
}

// DetectStatus reads an assessment out of free text from the consultant.
// Negative results are checked first so "beta test negative" is not read as
// a request for testing.
func DetectStatus(text string) (PregnancyStatus, bool) {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "منفی", "negative", "ruled out", "رد شد"):
		return StatusRuledOut, true
	case containsAny(t, "تایید", "confirmed", "مثبت", "positive"):
		return StatusConfirmed, true
	case containsAny(t, "آزمایش", "بتا", "test", "beta"):
		return StatusNeedsTesting, true
	}
	return "", false
}

// findingKeys maps pregnancy question keys to the metadata they fill.
var findingKeys = map[string]string{
	"lmp_confirm":    KeyLMP,
	"pregnancy_test": KeyBetaHCG,
	"ultrasound":     KeyUltrasound,
	"risk_factors":   KeyRiskFactors,
	"symptoms":       KeySymptoms,
}

// Findings records what an answer to a pregnancy question tells. List-like
// findings are appended to the current value.
func Findings(questionID, answer string, current map[string]string) map[string]string {
	answer = strings.TrimSpace(answer)
	key, ok := findingKeys[questionID]
	if !ok || answer == "" {
		return nil
	}

	out := map[string]string{}
	switch key {
	case KeyBetaHCG:
		// only a reported value is a beta result
		if runs := digitRuns(normalizeDigits(answer)); len(runs) > 0 {
			out[KeyBetaHCG] = answer
		}
	case KeyRiskFactors, KeySymptoms:
		if Negated(answer) {
			break
		}
		if prev := strings.TrimSpace(current[key]); prev != "" && !strings.Contains(prev, answer) {
			answer = prev + " | " + answer
		}
		out[key] = answer
	default:
		out[key] = answer
	}
	return out
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
