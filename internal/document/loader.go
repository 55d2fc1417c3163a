// Package document extracts a short text excerpt from an uploaded file so it
// can be answered from directly.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	DefaultPages    = 2
	DefaultMaxBytes = 12000
)

var (
	ErrEmpty       = errors.New("document: no content")
	ErrUnsupported = errors.New("document: unsupported file type")
)

// Loader reads the first pages of PDF or plain-text files.
type Loader struct {
	pages    int
	maxBytes int
}

func NewLoader(pages, maxBytes int) *Loader {
	if pages <= 0 {
		pages = DefaultPages
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{pages: pages, maxBytes: maxBytes}
}

// Excerpt returns the text of the first pages of data. Plain text is split
// into pages on form feeds.
func (l *Loader) Excerpt(name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}

	var (
		pages []string
		err   error
	)
	switch {
	case isPDF(name, data):
		pages, err = l.pdfPages(data)
	case isText(name, data):
		pages = strings.Split(string(data), "\f")
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	if err != nil {
		return "", err
	}

	kept := make([]string, 0, min(l.pages, len(pages)))
	for _, p := range pages {
		if len(kept) == l.pages {
			break
		}
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return truncate(strings.Join(kept, "\n\n"), l.maxBytes), nil
}

func (l *Loader) pdfPages(data []byte) (pages []string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("document: malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("document: open pdf: %w", err)
	}
	n := r.NumPage()
	for i := 1; i <= n && len(pages) < l.pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("document: read page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func isPDF(name string, data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-")) || strings.EqualFold(filepath.Ext(name), ".pdf")
}

func isText(name string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".markdown", "":
		return utf8.Valid(data)
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

// FullText returns every page of data with no size cap, for indexing.
func FullText(name string, data []byte) (string, error) {
	return NewLoader(math.MaxInt32, math.MaxInt32).Excerpt(name, data)
}
