package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExcerpt_PlainTextPages(t *testing.T) {
	l := NewLoader(0, 0)
	require.Equal(t, DefaultPages, l.pages)
	require.Equal(t, DefaultMaxBytes, l.maxBytes)

	text := "page one\n\fpage two\f\n  \fpage three"
	got, err := l.Excerpt("notes.txt", []byte(text))
	require.NoError(t, err)
	require.Equal(t, "page one\n\npage two", got)
}

func TestExcerpt_WithoutFormFeedIsOnePage(t *testing.T) {
	got, err := NewLoader(2, 0).Excerpt("README.md", []byte("# Title\n\nBody text.\n"))
	require.NoError(t, err)
	require.Equal(t, "# Title\n\nBody text.", got)
}

func TestExcerpt_TruncatesOnRuneBoundary(t *testing.T) {
	got, err := NewLoader(1, 5).Excerpt("a.txt", []byte("abcdé and more"))
	require.NoError(t, err)
	require.Equal(t, "abcd", got)

	got, err = NewLoader(1, 10).Excerpt("a.txt", []byte(strings.Repeat("x", 50)))
	require.NoError(t, err)
	require.Len(t, got, 10)
}

func TestExcerpt_Rejects(t *testing.T) {
	l := NewLoader(0, 0)

	_, err := l.Excerpt("a.txt", nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = l.Excerpt("image.png", []byte{0x89, 'P', 'N', 'G'})
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = l.Excerpt("a.txt", []byte{0xff, 0xfe, 0xfd})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestExcerpt_MalformedPDF(t *testing.T) {
	_, err := NewLoader(0, 0).Excerpt("upload.pdf", []byte("%PDF-1.4\nthis is not really a pdf"))
	require.Error(t, err)
}

func TestFullText_KeepsEveryPage(t *testing.T) {
	pages := make([]string, 5)
	for i := range pages {
		pages[i] = strings.Repeat("p", 4000)
	}
	got, err := FullText("big.txt", []byte(strings.Join(pages, "\f")))
	require.NoError(t, err)
	require.Len(t, got, 5*4000+4*2)
}
