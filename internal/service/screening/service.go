package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"

	analysis "github.com/zhouzirui/gyn-intake/backend/internal/analysis/screening"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
)

// Config controls the screening service.
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Assessment says whether the case should move to the pregnancy track.
// Suspected without Transfer leaves the decision to the intake model.
type Assessment struct {
	Transfer   bool
	Suspected  bool
	Reason     string
	Confidence float32
	Signals    []string
	Source     string
}

// Service asks the language model whether answers point to pregnancy and
// falls back to keyword heuristics whenever the model is disabled or fails.
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(turns []intake.Turn) analysis.Decision
	historyLimit int
}

// NewService creates the screening service. chatModel may be nil, in which
// case only heuristics are used.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 12
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.AssessTurns,
		historyLimit: historyLimit,
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(screeningSystemPrompt),
		schema.UserMessage(screeningUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile screening chain: %w", err)
	}
	svc.classifier = runnable
	return svc, nil
}

// Enabled reports whether the model classifier is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Assess screens the answers given so far.
func (s *Service) Assess(ctx context.Context, turns []intake.Turn) Assessment {
	if !s.Enabled() {
		return s.heuristic(turns)
	}

	msg, err := s.classifier.Invoke(ctx, map[string]any{
		"answers": formatAnswers(turns, s.historyLimit),
	})
	if err != nil {
		klog.Warningf("[screening] classifier invoke failed, use fallback: %v", err)
		return s.heuristic(turns)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.heuristic(turns)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		klog.Warningf("[screening] classifier output parse failed, use fallback: %v", err)
		return s.heuristic(turns)
	}

	confidence := payload.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	return Assessment{
		Transfer:   payload.Transfer,
		Suspected:  payload.Transfer,
		Reason:     strings.TrimSpace(payload.Reason),
		Confidence: confidence,
		Source:     "model",
	}
}

func (s *Service) heuristic(turns []intake.Turn) Assessment {
	fn := s.fallback
	if fn == nil {
		fn = analysis.AssessTurns
	}
	d := fn(turns)

	confidence := float32(0.3)
	switch {
	case d.Transfer:
		confidence = 0.55
	case d.Suspected:
		confidence = 0.45
	}
	reason := ""
	if len(d.Signals) > 0 {
		reason = "keywords: " + strings.Join(d.Signals, ", ")
	}
	return Assessment{
		Transfer:   d.Transfer,
		Suspected:  d.Suspected,
		Reason:     reason,
		Confidence: confidence,
		Signals:    d.Signals,
		Source:     "heuristic",
	}
}

type classifierPayload struct {
	Transfer   bool    `json:"transfer"`
	Reason     string  `json:"reason"`
	Confidence float32 `json:"confidence"`
}

// parseClassifierOutput extracts the first JSON object in the reply.
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func formatAnswers(turns []intake.Turn, limit int) string {
	if len(turns) == 0 {
		return "no answers yet"
	}
	start := len(turns) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for _, t := range turns[start:] {
		answer := strings.TrimSpace(t.Answer)
		if answer == "" {
			continue
		}
		// braces would be read as template fields
		answer = strings.NewReplacer("{", "(", "}", ")").Replace(answer)
		builder.WriteString("- ")
		builder.WriteString(t.QuestionID)
		builder.WriteString(": ")
		builder.WriteString(answer)
		builder.WriteString("\n")
	}
	if builder.Len() == 0 {
		return "no answers yet"
	}
	return strings.TrimRight(builder.String(), "\n")
}

const screeningSystemPrompt = "You screen gynecology intake answers for a possible pregnancy. " +
	"Signs include a delayed or missed period, a positive pregnancy test, morning nausea or vomiting, " +
	"breast tenderness, or a statement that the patient is pregnant. " +
	"Answers that deny these signs, such as \"I am not pregnant\" or \"سابقه بارداری ندارم\", are not signs. " +
	"Reply with a single JSON object only, with the keys transfer (boolean), reason (short string) " +
	"and confidence (number between 0 and 1)."

const screeningUserPrompt = "Patient answers so far:\n{answers}"
