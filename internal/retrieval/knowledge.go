// Package retrieval adapts vector indexes and web search into the tagged
// results consumed by the agent. Providers never return errors: failures are
// reported as RetrievalFailed results so a turn can continue.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"rag-agent/internal/domain"
)

const (
	DefaultTopK           = 3
	DefaultEmbeddingModel = "text-embedding-3-small"
)

type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

type VectorIndex interface {
	Search(ctx context.Context, vector []float32, topK int) ([]domain.Passage, error)
}

// KnowledgeBase searches the pre-built index for passages similar to a query.
type KnowledgeBase struct {
	embedder Embedder
	index    VectorIndex
	model    string
	topK     int
	logger   *slog.Logger
}

func NewKnowledgeBase(embedder Embedder, index VectorIndex, model string, topK int, logger *slog.Logger) (*KnowledgeBase, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if index == nil {
		return nil, errors.New("retrieval: vector index must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultEmbeddingModel
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeBase{embedder: embedder, index: index, model: model, topK: topK, logger: logger}, nil
}

// Search returns the top-k passages joined by blank lines, most similar first.
func (kb *KnowledgeBase) Search(ctx context.Context, query string) domain.RetrievalResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.NoResults(domain.SourceKnowledgeBase)
	}

	vectors, err := kb.embedder.Embed(ctx, kb.model, []string{query})
	if err != nil {
		kb.logger.Warn("knowledge base embedding failed", "err", err)
		return domain.RetrievalFailure(domain.SourceKnowledgeBase, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		err := errors.New("retrieval: empty query embedding")
		kb.logger.Warn("knowledge base embedding failed", "err", err)
		return domain.RetrievalFailure(domain.SourceKnowledgeBase, err)
	}

	passages, err := kb.index.Search(ctx, vectors[0], kb.topK)
	if err != nil {
		kb.logger.Warn("knowledge base search failed", "err", err)
		return domain.RetrievalFailure(domain.SourceKnowledgeBase, err)
	}
	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })

	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		if t := strings.TrimSpace(p.Chunk.Text); t != "" {
			texts = append(texts, t)
		}
		if len(texts) == kb.topK {
			break
		}
	}
	kb.logger.Debug("knowledge base search", "passages", len(texts))
	return domain.Retrieved(domain.SourceKnowledgeBase, strings.Join(texts, "\n\n"))
}
