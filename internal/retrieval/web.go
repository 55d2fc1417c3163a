package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rag-agent/internal/domain"
	"rag-agent/internal/integrations/tavily"
)

type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]tavily.Result, error)
}

// WebSearch formats live search hits as titled snippets.
type WebSearch struct {
	searcher   WebSearcher
	maxResults int
	logger     *slog.Logger
}

func NewWebSearch(searcher WebSearcher, maxResults int, logger *slog.Logger) (*WebSearch, error) {
	if searcher == nil {
		return nil, errors.New("retrieval: web searcher must not be nil")
	}
	if maxResults <= 0 {
		maxResults = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSearch{searcher: searcher, maxResults: maxResults, logger: logger}, nil
}

func (w *WebSearch) Search(ctx context.Context, query string) domain.RetrievalResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.NoResults(domain.SourceWeb)
	}

	results, err := w.searcher.Search(ctx, query, w.maxResults)
	if err != nil {
		w.logger.Warn("web search failed", "err", err)
		return domain.RetrievalFailure(domain.SourceWeb, err)
	}

	snippets := make([]string, 0, len(results))
	for _, r := range results {
		if len(snippets) == w.maxResults {
			break
		}
		snippets = append(snippets, formatSnippet(r))
	}
	w.logger.Debug("web search", "results", len(snippets))
	return domain.Retrieved(domain.SourceWeb, strings.Join(snippets, "\n\n"))
}

func formatSnippet(r tavily.Result) string {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = "No title"
	}
	content := strings.TrimSpace(r.Content)
	if content == "" {
		content = "No content"
	}
	return fmt.Sprintf("Title: %s\nContent: %s\nURL: %s", title, content, strings.TrimSpace(r.URL))
}
