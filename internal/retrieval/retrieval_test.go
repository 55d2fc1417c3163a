package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"rag-agent/internal/domain"
	"rag-agent/internal/integrations/tavily"
)

type fakeEmbedder struct {
	vecs  [][]float32
	err   error
	calls int
	model string
}

func (f *fakeEmbedder) Embed(_ context.Context, model string, inputs []string) ([][]float32, error) {
	f.calls++
	f.model = model
	if f.err != nil {
		return nil, f.err
	}
	if f.vecs != nil {
		return f.vecs, nil
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeIndex struct {
	passages []domain.Passage
	err      error
	topK     int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, topK int) ([]domain.Passage, error) {
	f.topK = topK
	return f.passages, f.err
}

func passage(text string, score float64) domain.Passage {
	return domain.Passage{Chunk: domain.Chunk{Text: text}, Score: score}
}

func TestNewKnowledgeBase_Validates(t *testing.T) {
	_, err := NewKnowledgeBase(nil, &fakeIndex{}, "", 0, nil)
	require.Error(t, err)
	_, err = NewKnowledgeBase(&fakeEmbedder{}, nil, "", 0, nil)
	require.Error(t, err)

	kb, err := NewKnowledgeBase(&fakeEmbedder{}, &fakeIndex{}, "", 0, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultTopK, kb.topK)
	require.Equal(t, DefaultEmbeddingModel, kb.model)
}

func TestKnowledgeBase_Search_JoinsBySimilarity(t *testing.T) {
	idx := &fakeIndex{passages: []domain.Passage{
		passage("second", 0.5),
		passage("first", 0.9),
		passage("  ", 0.4),
	}}
	kb, err := NewKnowledgeBase(&fakeEmbedder{}, idx, "", 2, nil)
	require.NoError(t, err)

	res := kb.Search(context.Background(), "What is the aim of Starx AI technology?")
	require.Equal(t, domain.RetrievalOK, res.Status)
	require.Equal(t, domain.SourceKnowledgeBase, res.Source)
	require.Equal(t, "first\n\nsecond", res.Text)
	require.Equal(t, 2, idx.topK)
}

func TestKnowledgeBase_Search_EmptyQueryIsNeutral(t *testing.T) {
	emb := &fakeEmbedder{}
	kb, err := NewKnowledgeBase(emb, &fakeIndex{}, "", 0, nil)
	require.NoError(t, err)

	res := kb.Search(context.Background(), "   ")
	require.Equal(t, domain.RetrievalEmpty, res.Status)
	require.Zero(t, emb.calls)
}

func TestKnowledgeBase_Search_NoMatches(t *testing.T) {
	kb, err := NewKnowledgeBase(&fakeEmbedder{}, &fakeIndex{}, "", 0, nil)
	require.NoError(t, err)

	res := kb.Search(context.Background(), "anything")
	require.Equal(t, domain.RetrievalEmpty, res.Status)
	require.False(t, res.Usable())
	require.Equal(t, "No results found", res.String())
}

func TestKnowledgeBase_Search_FailuresAreTagged(t *testing.T) {
	cases := []struct {
		name string
		emb  *fakeEmbedder
		idx  *fakeIndex
	}{
		{name: "embedding error", emb: &fakeEmbedder{err: errors.New("401")}, idx: &fakeIndex{}},
		{name: "empty embedding", emb: &fakeEmbedder{vecs: [][]float32{}}, idx: &fakeIndex{}},
		{name: "index error", emb: &fakeEmbedder{}, idx: &fakeIndex{err: errors.New("index unavailable")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kb, err := NewKnowledgeBase(tc.emb, tc.idx, "", 0, nil)
			require.NoError(t, err)

			res := kb.Search(context.Background(), "q")
			require.Equal(t, domain.RetrievalFailed, res.Status)
			require.Error(t, res.Err)
			require.False(t, res.Usable())
			require.Contains(t, res.String(), "kb_error")
		})
	}
}

type fakeWeb struct {
	results []tavily.Result
	err     error
	max     int
	calls   int
}

func (f *fakeWeb) Search(_ context.Context, _ string, maxResults int) ([]tavily.Result, error) {
	f.calls++
	f.max = maxResults
	return f.results, f.err
}

func TestWebSearch_FormatsSnippets(t *testing.T) {
	web := &fakeWeb{results: []tavily.Result{
		{Title: "White House", Content: "The president is ...", URL: "https://whitehouse.gov"},
		{Content: "untitled", URL: "https://example.com"},
		{Title: "Empty", URL: "https://empty.example"},
		{Title: "Dropped", Content: "over limit", URL: "https://dropped.example"},
	}}
	ws, err := NewWebSearch(web, 3, nil)
	require.NoError(t, err)

	res := ws.Search(context.Background(), "Who is the current president of USA?")
	require.Equal(t, domain.RetrievalOK, res.Status)
	require.Equal(t, domain.SourceWeb, res.Source)
	require.Equal(t,
		"Title: White House\nContent: The president is ...\nURL: https://whitehouse.gov\n\n"+
			"Title: No title\nContent: untitled\nURL: https://example.com\n\n"+
			"Title: Empty\nContent: No content\nURL: https://empty.example",
		res.Text)
	require.Equal(t, 3, web.max)
}

func TestWebSearch_EmptyAndFailure(t *testing.T) {
	ws, err := NewWebSearch(&fakeWeb{}, 0, nil)
	require.NoError(t, err)
	require.Equal(t, domain.RetrievalEmpty, ws.Search(context.Background(), "q").Status)

	web := &fakeWeb{err: errors.New("tavily: unexpected status 401")}
	ws, err = NewWebSearch(web, 0, nil)
	require.NoError(t, err)
	res := ws.Search(context.Background(), "q")
	require.Equal(t, domain.RetrievalFailed, res.Status)
	require.Contains(t, res.String(), "web_error")

	res = ws.Search(context.Background(), "")
	require.Equal(t, domain.RetrievalEmpty, res.Status)
	require.Equal(t, 1, web.calls)

	_, err = NewWebSearch(nil, 0, nil)
	require.Error(t, err)
}
