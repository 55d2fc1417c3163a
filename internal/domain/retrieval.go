package domain

import (
	"fmt"
	"strings"
)

// Source tags where retrieved text came from.
type Source string

const (
	SourceKnowledgeBase Source = "kb"
	SourceWeb           Source = "web"
)

type RetrievalStatus int

const (
	RetrievalOK RetrievalStatus = iota
	// RetrievalEmpty is the "no results" sentinel.
	RetrievalEmpty
	RetrievalFailed
)

func (s RetrievalStatus) String() string {
	switch s {
	case RetrievalOK:
		return "ok"
	case RetrievalEmpty:
		return "empty"
	case RetrievalFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RetrievalResult is the outcome of one provider call within a turn.
type RetrievalResult struct {
	Source Source
	Status RetrievalStatus
	Text   string
	Err    error
}

func Retrieved(src Source, text string) RetrievalResult {
	if strings.TrimSpace(text) == "" {
		return NoResults(src)
	}
	return RetrievalResult{Source: src, Status: RetrievalOK, Text: text}
}

func NoResults(src Source) RetrievalResult {
	return RetrievalResult{Source: src, Status: RetrievalEmpty}
}

func RetrievalFailure(src Source, err error) RetrievalResult {
	return RetrievalResult{Source: src, Status: RetrievalFailed, Err: err}
}

// Usable reports whether the result carries evidence worth showing a model.
func (r RetrievalResult) Usable() bool {
	return r.Status == RetrievalOK && strings.TrimSpace(r.Text) != ""
}

// String renders the result the way it is logged.
func (r RetrievalResult) String() string {
	switch r.Status {
	case RetrievalOK:
		return r.Text
	case RetrievalEmpty:
		return "No results found"
	default:
		return fmt.Sprintf("%s_error: %v", r.Source, r.Err)
	}
}

// ContextBundle is the evidence handed to the synthesizer. A non-blank
// Document overrides KnowledgeBase and Web entirely.
type ContextBundle struct {
	Document      string
	KnowledgeBase string
	Web           string
}

func DocumentContext(excerpt string) ContextBundle {
	return ContextBundle{Document: strings.TrimSpace(excerpt)}
}

// RetrievedContext builds a bundle from retrieval results, dropping anything
// that is not usable.
func RetrievedContext(results ...RetrievalResult) ContextBundle {
	var b ContextBundle
	for _, r := range results {
		if !r.Usable() {
			continue
		}
		switch r.Source {
		case SourceKnowledgeBase:
			b.KnowledgeBase = strings.TrimSpace(r.Text)
		case SourceWeb:
			b.Web = strings.TrimSpace(r.Text)
		}
	}
	return b
}

// WithDocument applies document priority to b.
func (b ContextBundle) WithDocument(excerpt string) ContextBundle {
	if strings.TrimSpace(excerpt) == "" {
		return b
	}
	return DocumentContext(excerpt)
}

func (b ContextBundle) HasDocument() bool { return strings.TrimSpace(b.Document) != "" }

func (b ContextBundle) IsEmpty() bool {
	return !b.HasDocument() && strings.TrimSpace(b.KnowledgeBase) == "" && strings.TrimSpace(b.Web) == ""
}
