package ai

import (
	"errors"
	"regexp"
	"strings"

	"github.com/zhouzirui/gyn-intake/backend/internal/analysis/screening"
	intakesvc "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
)

// ErrEmptyReply means the model answered with nothing usable.
var ErrEmptyReply = errors.New("empty model reply")

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ParseReply turns raw model output into advice. Reasoning blocks emitted by
// some local models are dropped first.
func ParseReply(raw string) (intakesvc.Advice, error) {
	text := strings.TrimSpace(thinkBlock.ReplaceAllString(raw, ""))
	// an unterminated block means the model was cut off while reasoning
	if i := strings.Index(text, "<think>"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	text, status := extractStatus(text)
	if text == "" {
		return intakesvc.Advice{}, ErrEmptyReply
	}

	advice, err := parseMarkers(text)
	if err != nil {
		return intakesvc.Advice{}, err
	}
	if status != "" {
		advice.Metadata = map[string]string{screening.KeyPregnancyStatus: string(status)}
	}
	return advice, nil
}

// extractStatus removes "[STATUS:x]" lines and returns the last valid one.
func extractStatus(text string) (string, screening.PregnancyStatus) {
	var status screening.PregnancyStatus
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		marker := strings.TrimSpace(line)
		if strings.HasPrefix(marker, StatusPrefix) {
			if end := strings.Index(marker, "]"); end > 0 {
				if st, ok := screening.ParsePregnancyStatus(marker[len(StatusPrefix):end]); ok {
					status = st
				}
				if rest := strings.TrimSpace(marker[end+1:]); rest != "" {
					kept = append(kept, rest)
				}
				continue
			}
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), status
}

func parseMarkers(text string) (intakesvc.Advice, error) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		marker := strings.TrimSpace(line)
		rest := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))

		switch {
		case strings.HasPrefix(marker, SummaryMarker):
			body := joinNonEmpty(strings.TrimSpace(strings.TrimPrefix(marker, SummaryMarker)), rest)
			if body == "" {
				return intakesvc.Advice{}, ErrEmptyReply
			}
			return intakesvc.Advice{Kind: intakesvc.KindSummary, Text: body}, nil

		case strings.HasPrefix(marker, TransferPrefix):
			end := strings.Index(marker, "]")
			if end < 0 {
				continue
			}
			target := strings.TrimSpace(marker[len(TransferPrefix):end])
			if target == "" {
				continue
			}
			body := joinNonEmpty(strings.TrimSpace(marker[end+1:]), rest)
			return intakesvc.Advice{Kind: intakesvc.KindTransfer, Target: target, Text: body}, nil
		}
	}

	return intakesvc.Advice{Kind: intakesvc.KindQuestion, Text: text}, nil
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}
