package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rag-agent/internal/domain"
	"rag-agent/internal/integrations/openai"
)

type chatResponse struct {
	answer string
	err    error
}

type mockLLM struct {
	responses []chatResponse
	requests  []domain.ChatRequest
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (string, error) {
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		return "", errors.New("no llm response configured")
	}
	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx].answer, m.responses[idx].err
}

func replies(answers ...string) *mockLLM {
	m := &mockLLM{}
	for _, a := range answers {
		m.responses = append(m.responses, chatResponse{answer: a})
	}
	return m
}

func failing(err error) *mockLLM {
	return &mockLLM{responses: []chatResponse{{err: err}}}
}

func routeJSON(route, reply string) string {
	return fmt.Sprintf(`{"route":%q,"reply":%q}`, route, reply)
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestStageConstructors_ValidateDependencies(t *testing.T) {
	_, err := NewLLMRouter(nil, "")
	require.Error(t, err)
	_, err = NewLLMJudge(nil, "")
	require.Error(t, err)
	_, err = NewLLMSynthesizer(nil, "")
	require.Error(t, err)

	r, err := NewLLMRouter(&mockLLM{}, " ")
	require.NoError(t, err)
	require.Equal(t, DefaultChatModel, r.model)
}

func TestRouter_DocumentAlwaysAnswers(t *testing.T) {
	llm := replies(routeJSON("end", "hi"))
	r, err := NewLLMRouter(llm, "")
	require.NoError(t, err)

	for _, q := range []string{"hi", "What is the aim of Starx AI technology?", "Summarize this", ""} {
		d, err := r.Decide(context.Background(), q, true)
		require.NoError(t, err)
		require.Equal(t, domain.RouteAnswer, d.Route, q)
	}
	require.Empty(t, llm.requests)
}

func TestRouter_ParsesDecision(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		route domain.Route
		reply string
	}{
		{name: "end with reply", raw: routeJSON("end", "Hi there!"), route: domain.RouteEnd, reply: "Hi there!"},
		{name: "end without reply", raw: routeJSON("end", " "), route: domain.RouteEnd, reply: defaultEndReply},
		{name: "rag", raw: routeJSON("rag", ""), route: domain.RouteRAG},
		{name: "answer drops reply", raw: routeJSON("answer", "ignored"), route: domain.RouteAnswer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llm := replies(tc.raw)
			r, err := NewLLMRouter(llm, "gpt-test")
			require.NoError(t, err)

			d, err := r.Decide(context.Background(), "question", false)
			require.NoError(t, err)
			require.Equal(t, tc.route, d.Route)
			require.Equal(t, tc.reply, d.Reply)

			require.Len(t, llm.requests, 1)
			req := llm.requests[0]
			require.Equal(t, "gpt-test", req.Model)
			require.NotNil(t, req.Temperature)
			require.Zero(t, *req.Temperature)
			require.NotNil(t, req.Output)
			require.Equal(t, "route_decision", req.Output.Name)
			require.Equal(t, "question", req.Messages[len(req.Messages)-1].Content)
		})
	}
}

func TestRouter_MalformedResponses(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"route":"web","reply":""}`,
		`{"route":"rag","reply":"","confidence":0.9}`,
		`{"route":"rag","reply":""}{"route":"end"}`,
		`{"route":"","reply":""}`,
	} {
		r, err := NewLLMRouter(replies(raw), "")
		require.NoError(t, err)
		_, err = r.Decide(context.Background(), "q", false)
		expectError(t, err, ErrorClassification, "router_malformed_response")
	}
}

func TestRouter_UpstreamErrors(t *testing.T) {
	r, err := NewLLMRouter(failing(errors.New("connection reset")), "")
	require.NoError(t, err)
	_, err = r.Decide(context.Background(), "q", false)
	expectError(t, err, ErrorClassification, "router_error")

	r, err = NewLLMRouter(failing(&openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}), "")
	require.NoError(t, err)
	_, err = r.Decide(context.Background(), "q", false)
	expectError(t, err, ErrorRateLimited, "router_rate_limited")
}

func TestJudge_UnusableResultsShortCircuit(t *testing.T) {
	llm := replies(`{"sufficient":true}`)
	j, err := NewLLMJudge(llm, "")
	require.NoError(t, err)

	for _, kb := range []domain.RetrievalResult{
		domain.NoResults(domain.SourceKnowledgeBase),
		domain.RetrievalFailure(domain.SourceKnowledgeBase, errors.New("index down")),
		{Source: domain.SourceKnowledgeBase, Status: domain.RetrievalOK, Text: "   "},
	} {
		ok, err := j.Judge(context.Background(), "q", kb)
		require.NoError(t, err)
		require.False(t, ok)
	}
	require.Empty(t, llm.requests)
}

func TestJudge_Verdicts(t *testing.T) {
	kb := domain.Retrieved(domain.SourceKnowledgeBase, "Starx AI builds assistants.")

	llm := replies(`{"sufficient":true}`, `{"sufficient":false}`)
	j, err := NewLLMJudge(llm, "")
	require.NoError(t, err)

	ok, err := j.Judge(context.Background(), "What is Starx AI?", kb)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = j.Judge(context.Background(), "What is Starx AI?", kb)
	require.NoError(t, err)
	require.False(t, ok)

	require.Len(t, llm.requests, 2)
	require.Equal(t, "sufficiency_verdict", llm.requests[0].Output.Name)
	require.Contains(t, llm.requests[0].Messages[1].Content, "Starx AI builds assistants.")
}

func TestJudge_Errors(t *testing.T) {
	kb := domain.Retrieved(domain.SourceKnowledgeBase, "text")

	for _, raw := range []string{`{}`, `{"sufficient":"yes"}`, `{"sufficient":true,"why":"x"}`, `true`} {
		j, err := NewLLMJudge(replies(raw), "")
		require.NoError(t, err)
		_, err = j.Judge(context.Background(), "q", kb)
		expectError(t, err, ErrorClassification, "judge_malformed_response")
	}

	j, err := NewLLMJudge(failing(errors.New("timeout")), "")
	require.NoError(t, err)
	_, err = j.Judge(context.Background(), "q", kb)
	expectError(t, err, ErrorClassification, "judge_error")
}

func conversationWith(turns ...domain.Turn) domain.Conversation {
	return domain.Conversation{}.Append(turns...)
}

func TestSynthesizer_PromptAssembly(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := conversationWith(
		domain.NewUserTurn("hi", "", at),
		domain.NewAssistantTurn("Hello!", at),
		domain.NewUserTurn("What is Starx AI?", "", at),
	)

	cases := []struct {
		name     string
		bundle   domain.ContextBundle
		contains []string
		excludes []string
	}{
		{
			name:     "document only",
			bundle:   domain.ContextBundle{Document: "pdf text", KnowledgeBase: "kb text", Web: "web text"},
			contains: []string{labelDocument + "\npdf text"},
			excludes: []string{labelKnowledgeBase, labelWeb, "kb text", "web text", noExternalContext},
		},
		{
			name:     "kb and web",
			bundle:   domain.ContextBundle{KnowledgeBase: "kb text", Web: "web text"},
			contains: []string{labelKnowledgeBase + "\nkb text\n\n" + labelWeb + "\nweb text"},
			excludes: []string{labelDocument, noExternalContext},
		},
		{
			name:     "web only",
			bundle:   domain.ContextBundle{Web: "web text"},
			contains: []string{labelWeb + "\nweb text"},
			excludes: []string{labelKnowledgeBase, labelDocument},
		},
		{
			name:     "nothing",
			bundle:   domain.ContextBundle{},
			contains: []string{noExternalContext},
			excludes: []string{labelKnowledgeBase, labelWeb, labelDocument},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llm := replies("Starx AI is a company.")
			s, err := NewLLMSynthesizer(llm, "")
			require.NoError(t, err)

			answer, err := s.Synthesize(context.Background(), conv, tc.bundle)
			require.NoError(t, err)
			require.Equal(t, "Starx AI is a company.", answer)

			require.Len(t, llm.requests, 1)
			req := llm.requests[0]
			require.Nil(t, req.Output)
			require.InDelta(t, 0.7, *req.Temperature, 1e-9)
			prompt := req.Messages[0].Content
			require.Contains(t, prompt, "User: hi\nAssistant: Hello!")
			require.True(t, strings.HasSuffix(prompt, "Question: What is Starx AI?"))
			for _, want := range tc.contains {
				require.Contains(t, prompt, want)
			}
			for _, unwanted := range tc.excludes {
				require.NotContains(t, prompt, unwanted)
			}
		})
	}
}

func TestSynthesizer_IsPureOverInputs(t *testing.T) {
	at := time.Now()
	conv := conversationWith(domain.NewUserTurn("q", "", at))
	bundle := domain.ContextBundle{KnowledgeBase: "kb"}
	llm := replies("a1", "a2")
	s, err := NewLLMSynthesizer(llm, "")
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), conv, bundle)
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), conv, bundle)
	require.NoError(t, err)

	require.Equal(t, 1, conv.Len())
	require.Equal(t, domain.ContextBundle{KnowledgeBase: "kb"}, bundle)
	require.Equal(t, llm.requests[0].Messages, llm.requests[1].Messages)
}

func TestSynthesizer_Errors(t *testing.T) {
	conv := conversationWith(domain.NewUserTurn("q", "", time.Now()))

	s, err := NewLLMSynthesizer(replies("  \n"), "")
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), conv, domain.ContextBundle{})
	expectError(t, err, ErrorSynthesis, "synthesis_empty_answer")

	s, err = NewLLMSynthesizer(failing(errors.New("boom")), "")
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), conv, domain.ContextBundle{})
	expectError(t, err, ErrorSynthesis, "synthesis_error")

	s, err = NewLLMSynthesizer(failing(fmt.Errorf("wrapped: %w", &openai.HTTPStatusError{StatusCode: 429})), "")
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), conv, domain.ContextBundle{})
	expectError(t, err, ErrorRateLimited, "synthesis_rate_limited")
}

func TestError_UserMessageHidesInternals(t *testing.T) {
	err := newError(ErrorSynthesis, "synthesis_error", errors.New("secret upstream body"))
	require.True(t, strings.HasPrefix(err.UserMessage(), "Error:"))
	require.NotContains(t, err.UserMessage(), "secret")
	require.Contains(t, err.Error(), "secret upstream body")

	require.Equal(t, "Please enter a question.", newError(ErrorInvalidInput, "empty_question", nil).UserMessage())
	var nilErr *Error
	require.Empty(t, nilErr.UserMessage())
}
