package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"rag-agent/internal/domain"
)

// pointNamespace derives stable point ids from chunk ids; Qdrant only accepts
// unsigned integers or UUIDs.
var pointNamespace = uuid.MustParse("6f1c1f8e-2a53-4d0e-9a43-5b0f3c7d9e21")

// Store is a minimal REST client to a Qdrant collection using cosine distance.
type Store struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("qdrant: url must not be empty")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("qdrant: collection must not be empty")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (s *Store) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

// Ping verifies the collection exists and is reachable.
func (s *Store) Ping(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("qdrant: collection %q not found", s.collection)
	}
	return nil
}

// Ensure creates the collection for vectors of the given dimension if it does
// not exist yet.
func (s *Store) Ensure(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("qdrant: invalid dimension")
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNotFound {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("qdrant: chunks and vectors length mismatch")
	}
	if len(chunks) == 0 {
		return nil
	}
	points := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		points[i] = map[string]any{
			"id":     PointID(ch.ID),
			"vector": vectors[i],
			"payload": map[string]any{
				"chunk_id":    ch.ID,
				"document_id": ch.DocumentID,
				"index":       ch.Index,
				"text":        ch.Text,
			},
		}
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		Score   float64 `json:"score"`
		Payload struct {
			ChunkID    string `json:"chunk_id"`
			DocumentID string `json:"document_id"`
			Index      int    `json:"index"`
			Text       string `json:"text"`
		} `json:"payload"`
	} `json:"result"`
}

// Search returns the topK most similar passages, best first.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]domain.Passage, error) {
	if topK <= 0 {
		topK = 3
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp searchResponse
	status, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("qdrant: collection %q not found", s.collection)
	}
	out := make([]domain.Passage, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, domain.Passage{
			Chunk: domain.Chunk{
				ID:         r.Payload.ChunkID,
				DocumentID: r.Payload.DocumentID,
				Index:      r.Payload.Index,
				Text:       r.Payload.Text,
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// do sends a JSON request. 404 is returned as a status rather than an error so
// callers can tell a missing collection from a broken server.
func (s *Store) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("qdrant: marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, fmt.Errorf("qdrant: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("qdrant: %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, fmt.Errorf("qdrant: %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(buf)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
