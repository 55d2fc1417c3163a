package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rag-agent/internal/domain"
)

const (
	DefaultChatModel = "gpt-4.1-mini"
	defaultEndReply  = "Hello! How can I help you today?"

	classifierTemperature = 0.0
	answerTemperature     = 0.7
)

type LLMClient interface {
	Chat(ctx context.Context, req domain.ChatRequest) (string, error)
}

type routeDecisionResponse struct {
	Route string `json:"route"`
	Reply string `json:"reply"`
}

type sufficiencyResponse struct {
	Sufficient *bool `json:"sufficient"`
}

func temperature(v float64) *float64 { return &v }

func chatModel(model string) string {
	if model = strings.TrimSpace(model); model == "" {
		return DefaultChatModel
	}
	return model
}

// LLMRouter classifies a query as end, answer or rag.
type LLMRouter struct {
	llm   LLMClient
	model string
}

func NewLLMRouter(llm LLMClient, model string) (*LLMRouter, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	return &LLMRouter{llm: llm, model: chatModel(model)}, nil
}

// Decide routes a turn. A turn with an attached document is always answered
// from that document and the classifier is not consulted.
func (r *LLMRouter) Decide(ctx context.Context, query string, hasDocument bool) (domain.RouteDecision, error) {
	if hasDocument {
		return domain.RouteDecision{Route: domain.RouteAnswer}, nil
	}

	raw, err := r.llm.Chat(ctx, domain.ChatRequest{
		Model:       r.model,
		Messages:    buildRouterMessages(query),
		Temperature: temperature(classifierTemperature),
		Output:      &domain.OutputSchema{Name: "route_decision", Schema: routeDecisionSchema},
	})
	if err != nil {
		return domain.RouteDecision{}, upstreamError(ErrorClassification, "router", err)
	}

	decision, err := parseRouteDecision(raw)
	if err != nil {
		return domain.RouteDecision{}, newError(ErrorClassification, "router_malformed_response", err)
	}
	return decision, nil
}

func parseRouteDecision(raw string) (domain.RouteDecision, error) {
	var out routeDecisionResponse
	if err := decodeStrict(raw, &out); err != nil {
		return domain.RouteDecision{}, fmt.Errorf("usecase: route decision: %w", err)
	}
	route, err := domain.ParseRoute(strings.TrimSpace(out.Route))
	if err != nil {
		return domain.RouteDecision{}, fmt.Errorf("usecase: route decision: %w", err)
	}
	decision := domain.RouteDecision{Route: route}
	if route == domain.RouteEnd {
		decision.Reply = strings.TrimSpace(out.Reply)
		if decision.Reply == "" {
			decision.Reply = defaultEndReply
		}
	}
	return decision, nil
}

// LLMJudge decides whether knowledge-base passages can answer a query.
type LLMJudge struct {
	llm   LLMClient
	model string
}

func NewLLMJudge(llm LLMClient, model string) (*LLMJudge, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	return &LLMJudge{llm: llm, model: chatModel(model)}, nil
}

// Judge returns false without calling the model when kb carries no usable
// text.
func (j *LLMJudge) Judge(ctx context.Context, query string, kb domain.RetrievalResult) (bool, error) {
	if !kb.Usable() {
		return false, nil
	}

	raw, err := j.llm.Chat(ctx, domain.ChatRequest{
		Model:       j.model,
		Messages:    buildJudgeMessages(query, kb.Text),
		Temperature: temperature(classifierTemperature),
		Output:      &domain.OutputSchema{Name: "sufficiency_verdict", Schema: sufficiencySchema},
	})
	if err != nil {
		return false, upstreamError(ErrorClassification, "judge", err)
	}

	var out sufficiencyResponse
	if err := decodeStrict(raw, &out); err != nil {
		return false, newError(ErrorClassification, "judge_malformed_response", fmt.Errorf("usecase: sufficiency verdict: %w", err))
	}
	if out.Sufficient == nil {
		return false, newError(ErrorClassification, "judge_malformed_response", errors.New("usecase: sufficiency verdict missing sufficient"))
	}
	return *out.Sufficient, nil
}

// LLMSynthesizer writes the final answer for a turn.
type LLMSynthesizer struct {
	llm   LLMClient
	model string
}

func NewLLMSynthesizer(llm LLMClient, model string) (*LLMSynthesizer, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	return &LLMSynthesizer{llm: llm, model: chatModel(model)}, nil
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, conv domain.Conversation, bundle domain.ContextBundle) (string, error) {
	raw, err := s.llm.Chat(ctx, domain.ChatRequest{
		Model:       s.model,
		Messages:    buildAnswerMessages(conv, bundle),
		Temperature: temperature(answerTemperature),
	})
	if err != nil {
		return "", upstreamError(ErrorSynthesis, "synthesis", err)
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", newError(ErrorSynthesis, "synthesis_empty_answer", nil)
	}
	return answer, nil
}
