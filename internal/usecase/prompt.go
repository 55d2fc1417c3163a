package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"rag-agent/internal/domain"
)

const (
	labelDocument      = "Uploaded document (first pages):"
	labelKnowledgeBase = "Knowledge base:"
	labelWeb           = "Web search:"
	noExternalContext  = "No external context available."
)

var routeDecisionSchema = []byte(`{
  "type": "object",
  "properties": {
    "route": {"type": "string", "enum": ["end", "answer", "rag"]},
    "reply": {"type": "string"}
  },
  "required": ["route", "reply"],
  "additionalProperties": false
}`)

var sufficiencySchema = []byte(`{
  "type": "object",
  "properties": {
    "sufficient": {"type": "boolean"}
  },
  "required": ["sufficient"],
  "additionalProperties": false
}`)

func buildRouterMessages(query string) []domain.ChatMessage {
	system := strings.Join([]string{
		"You are a router that decides how to handle the user's latest message.",
		"",
		"Routes:",
		"- end: the message is a greeting or small talk. Put a short friendly reply in reply.",
		"- rag: answering needs domain knowledge from the knowledge base.",
		"- answer: you can answer without any external information.",
		"",
		"Output Contract:",
		"Return JSON only with keys route (one of end, answer, rag) and reply (string).",
		"Leave reply empty unless route is end.",
	}, "\n")
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: query},
	}
}

func buildJudgeMessages(query, retrieved string) []domain.ChatMessage {
	system := "You are a judge evaluating whether retrieved information is sufficient " +
		"to answer the user's question. Consider both relevance and completeness. " +
		"Return JSON only with the boolean key sufficient."
	user := fmt.Sprintf(
		"Question: %s\n\nRetrieved info:\n%s\n\nIs this sufficient to answer the question?",
		query, retrieved,
	)
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: user},
	}
}

// buildAnswerMessages renders the synthesizer prompt. Every turn before the
// latest user turn is transcript; the latest user turn is the question.
func buildAnswerMessages(conv domain.Conversation, bundle domain.ContextBundle) []domain.ChatMessage {
	question := ""
	history := conv.Turns
	for i := len(conv.Turns) - 1; i >= 0; i-- {
		if conv.Turns[i].IsUser() {
			question = strings.TrimSpace(conv.Turns[i].Text)
			history = conv.Turns[:i]
			break
		}
	}

	var b strings.Builder
	b.WriteString("You are a helpful assistant. Use the information below to answer the user's latest question.\n\n")
	b.WriteString("Conversation so far:\n")
	b.WriteString(renderTranscript(history))
	b.WriteString("\n\nContext (prioritize the uploaded document if present):\n")
	b.WriteString(renderContext(bundle))
	b.WriteString("\n\nNow answer clearly and concisely.\nQuestion: ")
	b.WriteString(question)

	return []domain.ChatMessage{{Role: domain.RoleUser, Content: b.String()}}
}

func renderTranscript(turns []domain.Turn) string {
	if len(turns) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "Assistant"
		if t.IsUser() {
			speaker = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, strings.TrimSpace(t.Text)))
	}
	return strings.Join(lines, "\n")
}

func renderContext(bundle domain.ContextBundle) string {
	if bundle.HasDocument() {
		return labelDocument + "\n" + strings.TrimSpace(bundle.Document)
	}
	var parts []string
	if kb := strings.TrimSpace(bundle.KnowledgeBase); kb != "" {
		parts = append(parts, labelKnowledgeBase+"\n"+kb)
	}
	if web := strings.TrimSpace(bundle.Web); web != "" {
		parts = append(parts, labelWeb+"\n"+web)
	}
	if len(parts) == 0 {
		return noExternalContext
	}
	return strings.Join(parts, "\n\n")
}

// decodeStrict decodes exactly one JSON object into out, rejecting unknown
// fields and trailing data.
func decodeStrict(raw string, out any) error {
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("decode: multiple JSON values")
		}
		return fmt.Errorf("decode trailing data: %w", err)
	}
	return nil
}
