package ai

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/analysis/screening"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
	intakesvc "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
	screeningservice "github.com/zhouzirui/gyn-intake/backend/internal/service/screening"
)

// ModelFactory builds the chat model for a protocol.
type ModelFactory func(ctx context.Context, p protocol.Protocol) (model.BaseChatModel, error)

// Screener decides whether a case belongs to another track.
type Screener interface {
	Assess(ctx context.Context, turns []intake.Turn) screeningservice.Assessment
}

// TransferNotice is shown to the patient when screening moves the case.
const TransferNotice = "با توجه به پاسخ‌های شما، ادامه گفتگو در بخش مشاوره بارداری انجام می‌شود."

// Config tunes model calls.
type Config struct {
	// Timeout overrides the per-protocol call timeout when positive.
	Timeout time.Duration
}

// Service implements the intake Advisor on one eino chain per protocol.
type Service struct {
	chains   map[string]compose.Runnable[map[string]any, *schema.Message]
	screener Screener
	cfg      Config
	now      func() time.Time
}

// NewService compiles a chain for every protocol in the catalog.
func NewService(ctx context.Context, protocols protocol.Store, factory ModelFactory, screener Screener, cfg Config) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chains := make(map[string]compose.Runnable[map[string]any, *schema.Message])
	for _, p := range protocols.List() {
		chatModel, err := factory(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model for %s: %w", p.ID, err)
		}

		chain := compose.NewChain[map[string]any, *schema.Message]()
		chain.AppendChatTemplate(promptTemplate)
		chain.AppendChatModel(chatModel)

		runnable, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile chat chain for %s: %w", p.ID, err)
		}
		chains[p.ID] = runnable
		klog.V(2).Infof("[ai] chain ready protocol=%s model=%s", p.ID, p.Model)
	}

	return &Service{
		chains:   chains,
		screener: screener,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// WithClock replaces the clock used for age checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open asks the model for the first question of a session.
func (s *Service) Open(ctx context.Context, req intakesvc.OpeningRequest) (string, error) {
	input := map[string]any{
		"system":  BuildSystemPrompt(req.Protocol, req.Metadata),
		"history": buildHistoryMessages(req.History, nil),
		"query":   req.Protocol.OpeningInstruction,
	}

	msg, err := s.invoke(ctx, req.Protocol, input)
	if err != nil {
		return "", err
	}
	advice, err := ParseReply(msg.Content)
	if err != nil {
		return "", err
	}
	klog.V(2).Infof("[ai] opening question session=%s protocol=%s length=%d", req.PatientID, req.Protocol.ID, len(advice.Text))
	return advice.Text, nil
}

// Advise decides the next step after an answer. Clinical rules run before
// the model is consulted.
func (s *Service) Advise(ctx context.Context, req intakesvc.AdviceRequest) (intakesvc.Advice, error) {
	p := req.Protocol

	if req.Answer.QuestionID == "age" && screening.Underage(req.Answer.Answer, s.now(), p.MinAge) {
		klog.V(1).Infof("[ai] session=%s below minimum age %d, referring", req.PatientID, p.MinAge)
		return intakesvc.Advice{Kind: intakesvc.KindSummary, Text: screening.UnderageReferral}, nil
	}

	metadata := req.Metadata
	var flags map[string]string
	if p.TransferTarget != "" && s.screener != nil {
		turns := append(append([]intake.Turn(nil), req.History...), req.Answer)
		assessment := s.screener.Assess(ctx, turns)
		switch {
		case assessment.Transfer:
			klog.V(1).Infof("[ai] session=%s screening moves case to %s source=%s reason=%q", req.PatientID, p.TransferTarget, assessment.Source, assessment.Reason)
			return intakesvc.Advice{
				Kind:     intakesvc.KindTransfer,
				Target:   p.TransferTarget,
				Text:     TransferNotice,
				Metadata: screeningMetadata(assessment),
			}, nil
		case assessment.Suspected:
			// the model sees the flag and decides with a transfer marker
			klog.V(1).Infof("[ai] session=%s pregnancy suspected source=%s reason=%q", req.PatientID, assessment.Source, assessment.Reason)
			flags = screeningMetadata(assessment)
			flags[screening.KeyPregnancySuspected] = "true"
			metadata = mergeMetadata(metadata, flags)
		}
	}

	input := map[string]any{
		"system":  BuildSystemPrompt(p, metadata),
		"history": buildHistoryMessages(req.History, &req.Answer),
		"query":   FollowUpQuery(p),
	}
	msg, err := s.invoke(ctx, p, input)
	if err != nil {
		return intakesvc.Advice{}, err
	}

	advice, err := ParseReply(msg.Content)
	if err != nil {
		return intakesvc.Advice{}, err
	}
	advice.Metadata = mergeMetadata(flags, advice.Metadata)
	if p.TracksPregnancy {
		advice.Metadata = mergeMetadata(advice.Metadata, trackPregnancy(req, advice))
	}
	klog.V(2).Infof("[ai] session=%s protocol=%s advice=%s length=%d", req.PatientID, p.ID, advice.Kind, len(advice.Text))
	return advice, nil
}

// trackPregnancy records findings from the answer and the assessment the
// reply carries. Without a status marker only a summary is read for one.
func trackPregnancy(req intakesvc.AdviceRequest, advice intakesvc.Advice) map[string]string {
	out := screening.Findings(req.Answer.QuestionID, req.Answer.Answer, req.Metadata)
	if out == nil {
		out = map[string]string{}
	}
	if _, ok := advice.Metadata[screening.KeyPregnancyStatus]; ok {
		return out
	}
	if advice.Kind == intakesvc.KindSummary {
		if st, ok := screening.DetectStatus(advice.Text); ok {
			out[screening.KeyPregnancyStatus] = string(st)
		}
	}
	return out
}

func screeningMetadata(a screeningservice.Assessment) map[string]string {
	return map[string]string{
		"screening_reason":     a.Reason,
		"screening_source":     a.Source,
		"screening_confidence": strconv.FormatFloat(float64(a.Confidence), 'f', 2, 32),
	}
}

// mergeMetadata returns a copy of base with extra applied on top. It returns
// nil when both are empty.
func mergeMetadata(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (s *Service) invoke(ctx context.Context, p protocol.Protocol, input map[string]any) (*schema.Message, error) {
	chain, ok := s.chains[p.ID]
	if !ok {
		return nil, fmt.Errorf("no chat chain for protocol %q", p.ID)
	}

	timeout := p.Timeout
	if s.cfg.Timeout > 0 {
		timeout = s.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}
	if msg == nil {
		return nil, ErrEmptyReply
	}
	return msg, nil
}

// buildHistoryMessages renders turns as question/answer pairs. latest, when
// set, is the answer being submitted.
func buildHistoryMessages(history []intake.Turn, latest *intake.Turn) []*schema.Message {
	turns := history
	if latest != nil {
		turns = append(append([]intake.Turn(nil), history...), *latest)
	}
	if len(turns) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(turns)*2)
	for _, t := range turns {
		if q := strings.TrimSpace(t.Question); q != "" {
			messages = append(messages, schema.AssistantMessage(q, nil))
		}
		messages = append(messages, schema.UserMessage(t.Answer))
	}
	return messages
}
