package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"rag-agent/internal/domain"
)

// chunkModel is one indexed knowledge-base chunk.
type chunkModel struct {
	ID         string          `gorm:"type:text;primaryKey"`
	DocumentID string          `gorm:"type:text;not null;index"`
	ChunkIndex int             `gorm:"not null;default:0"`
	Content    string          `gorm:"type:text;not null"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime"`
}

func (chunkModel) TableName() string { return "kb_chunks" }

type scoredChunk struct {
	chunkModel
	Similarity float64
}

// Store keeps knowledge-base chunks in Postgres and ranks them with pgvector
// cosine distance.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres with the given DSN.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("pgvector: dsn must not be empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector: open: %w", err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("pgvector: db must not be nil")
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("pgvector: ping: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("pgvector: ping: %w", err)
	}
	return nil
}

// Ensure installs the vector extension and migrates the chunk table.
func (s *Store) Ensure(ctx context.Context, _ int) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("pgvector: create extension: %w", err)
	}
	if err := db.AutoMigrate(&chunkModel{}); err != nil {
		return fmt.Errorf("pgvector: migrate: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("pgvector: chunks and vectors length mismatch")
	}
	if len(chunks) == 0 {
		return nil
	}
	models := toModels(chunks, vectors)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"document_id", "chunk_index", "content", "embedding", "updated_at"}),
		}).
		Create(&models).Error
	if err != nil {
		return fmt.Errorf("pgvector: upsert: %w", err)
	}
	return nil
}

// Search returns the topK closest chunks, best first.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]domain.Passage, error) {
	if topK <= 0 {
		topK = 3
	}
	q := pgvector.NewVector(vector)

	var rows []scoredChunk
	err := s.db.WithContext(ctx).
		Table(chunkModel{}.TableName()).
		Select("kb_chunks.*, 1 - (embedding <=> ?) AS similarity", q).
		Clauses(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []any{q}}}).
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	return toPassages(rows), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModels(chunks []domain.Chunk, vectors [][]float32) []chunkModel {
	out := make([]chunkModel, len(chunks))
	for i, ch := range chunks {
		out[i] = chunkModel{
			ID:         ch.ID,
			DocumentID: ch.DocumentID,
			ChunkIndex: ch.Index,
			Content:    ch.Text,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}
	return out
}

func toPassages(rows []scoredChunk) []domain.Passage {
	out := make([]domain.Passage, len(rows))
	for i, r := range rows {
		out[i] = domain.Passage{
			Chunk: domain.Chunk{
				ID:         r.ID,
				DocumentID: r.DocumentID,
				Index:      r.ChunkIndex,
				Text:       r.Content,
			},
			Score: r.Similarity,
		}
	}
	return out
}
