// Package indexer builds the knowledge-base index from local files.
package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"rag-agent/internal/document"
	"rag-agent/internal/domain"
)

const defaultBatchSize = 64

type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// Index is a vector index that can be created and written to.
type Index interface {
	Ensure(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
}

type Stats struct {
	Documents int
	Chunks    int
}

type Builder struct {
	embedder  Embedder
	index     Index
	splitter  *Splitter
	model     string
	batchSize int
	logger    *slog.Logger
}

func NewBuilder(embedder Embedder, index Index, splitter *Splitter, model string, batchSize int, logger *slog.Logger) (*Builder, error) {
	if embedder == nil {
		return nil, errors.New("indexer: embedder must not be nil")
	}
	if index == nil {
		return nil, errors.New("indexer: index must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("indexer: embedding model must not be empty")
	}
	if splitter == nil {
		splitter = NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		embedder:  embedder,
		index:     index,
		splitter:  splitter,
		model:     model,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// Build chunks docs, embeds the chunks in batches and upserts them. The index
// is created on the first batch, once the embedding dimension is known.
func (b *Builder) Build(ctx context.Context, docs []domain.Document) (Stats, error) {
	var chunks []domain.Chunk
	for _, d := range docs {
		chunks = append(chunks, b.splitter.Split(d)...)
	}
	if len(chunks) == 0 {
		return Stats{}, errors.New("indexer: no text to index")
	}

	ensured := false
	for start := 0; start < len(chunks); start += b.batchSize {
		end := min(start+b.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := b.embedder.Embed(ctx, b.model, texts)
		if err != nil {
			return Stats{}, fmt.Errorf("indexer: embed batch %d: %w", start/b.batchSize, err)
		}
		if len(vectors) != len(batch) {
			return Stats{}, fmt.Errorf("indexer: expected %d embeddings, got %d", len(batch), len(vectors))
		}

		if !ensured {
			if err := b.index.Ensure(ctx, len(vectors[0])); err != nil {
				return Stats{}, fmt.Errorf("indexer: ensure index: %w", err)
			}
			ensured = true
		}
		if err := b.index.Upsert(ctx, batch, vectors); err != nil {
			return Stats{}, fmt.Errorf("indexer: upsert batch %d: %w", start/b.batchSize, err)
		}
		b.logger.Info("indexed batch", "chunks", end, "total", len(chunks))
	}
	return Stats{Documents: len(docs), Chunks: len(chunks)}, nil
}

var supportedExt = map[string]bool{".txt": true, ".md": true, ".pdf": true}

// LoadPaths reads every supported file named by paths. Directories are
// walked recursively; unsupported files are skipped.
func LoadPaths(paths []string) ([]domain.Document, error) {
	var docs []domain.Document
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !supportedExt[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			doc, err := loadFile(path)
			if err != nil {
				return err
			}
			if doc.Content != "" {
				docs = append(docs, doc)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("indexer: load %s: %w", root, err)
		}
	}
	if len(docs) == 0 {
		return nil, errors.New("indexer: no .txt, .md or .pdf documents found")
	}
	return docs, nil
}

func loadFile(path string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, err
	}
	text, err := document.FullText(filepath.Base(path), data)
	if errors.Is(err, document.ErrEmpty) {
		return domain.Document{ID: hashString(path), Path: path}, nil
	}
	if err != nil {
		return domain.Document{}, err
	}
	return domain.Document{ID: hashString(path), Path: path, Content: text}, nil
}

func hashString(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:8])
}
