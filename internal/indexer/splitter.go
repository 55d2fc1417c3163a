package indexer

import (
	"strconv"
	"strings"
	"unicode"

	"rag-agent/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Splitter cuts documents into overlapping character windows. Window ends
// are moved back to the nearest whitespace when one exists in the window.
type Splitter struct {
	size    int
	overlap int
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Splitter{size: size, overlap: overlap}
}

func (s *Splitter) Split(doc domain.Document) []domain.Chunk {
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil
	}
	runes := []rune(text)

	var chunks []domain.Chunk
	start := 0
	for start < len(runes) {
		end := start + s.size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpace(runes, start+s.overlap+1, end); cut >= 0 {
			end = cut
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			idx := len(chunks)
			chunks = append(chunks, domain.Chunk{
				ID:         doc.ID + ":" + strconv.Itoa(idx),
				DocumentID: doc.ID,
				Index:      idx,
				Text:       piece,
			})
		}
		if end == len(runes) {
			break
		}

		next := end - s.overlap
		if next <= start {
			next = end
		}
		// Start the overlap on a word boundary.
		for next < end && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		start = next
	}
	return chunks
}

// lastSpace returns the index of the last whitespace rune in runes[from:to],
// or -1.
func lastSpace(runes []rune, from, to int) int {
	for i := to; i > from; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i - 1
		}
	}
	return -1
}
