package domain

// Document is a source file fed to the index builder.
type Document struct {
	ID      string
	Path    string
	Content string
}

// Chunk is an indexed slice of a document.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
}

// Passage is a chunk returned by a similarity search.
type Passage struct {
	Chunk Chunk
	Score float64
}
