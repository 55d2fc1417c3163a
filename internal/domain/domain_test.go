package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversation_AppendDoesNotAlias(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := Conversation{}.Append(NewUserTurn("hi", "", at))
	snapshot := base

	a := base.Append(NewAssistantTurn("hello", at))
	b := base.Append(NewAssistantTurn("hey", at))

	require.Equal(t, 1, snapshot.Len())
	require.Equal(t, "hello", a.Turns[1].Text)
	require.Equal(t, "hey", b.Turns[1].Text)
}

func TestConversation_LastUser(t *testing.T) {
	at := time.Now()
	_, ok := Conversation{}.LastUser()
	require.False(t, ok)

	c := Conversation{}.Append(
		NewUserTurn("first", "", at),
		NewAssistantTurn("a1", at),
		NewUserTurn("second", "excerpt", at),
		NewAssistantTurn("a2", at),
	)
	turn, ok := c.LastUser()
	require.True(t, ok)
	require.Equal(t, "second", turn.Text)
	require.Equal(t, "excerpt", turn.Document)
}

func TestSession_Expired(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession("s1", start)

	require.False(t, s.Expired(start.Add(10*time.Minute), DefaultIdleTimeout))
	require.True(t, s.Expired(start.Add(10*time.Minute+time.Second), DefaultIdleTimeout))
	require.True(t, s.Expired(start.Add(11*time.Minute), 0))
	require.False(t, s.Expired(start.Add(time.Minute), 2*time.Minute))
}

func TestSession_CloneIsIndependent(t *testing.T) {
	at := time.Now()
	s := NewSession("s1", at)
	s.Conversation = s.Conversation.Append(NewUserTurn("q", "", at))

	cp := s.Clone()
	cp.Conversation.Turns[0].Text = "changed"
	cp.LastActivity = at.Add(time.Hour)

	require.Equal(t, "q", s.Conversation.Turns[0].Text)
	require.NotEqual(t, s.LastActivity, cp.LastActivity)

	var nilSession *Session
	require.Nil(t, nilSession.Clone())
}

func TestParseRoute(t *testing.T) {
	for tag, want := range map[string]Route{"end": RouteEnd, "answer": RouteAnswer, "rag": RouteRAG} {
		got, err := ParseRoute(tag)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, tag, got.String())
	}
	for _, tag := range []string{"web", "RAG", "", "search"} {
		_, err := ParseRoute(tag)
		require.Error(t, err, tag)
	}
}

func TestRetrievalResult(t *testing.T) {
	require.Equal(t, RetrievalEmpty, Retrieved(SourceWeb, "  \n").Status)

	ok := Retrieved(SourceKnowledgeBase, "passage")
	require.True(t, ok.Usable())
	require.Equal(t, "passage", ok.String())

	failed := RetrievalFailure(SourceWeb, errors.New("boom"))
	require.False(t, failed.Usable())
	require.Equal(t, "web_error: boom", failed.String())
}

func TestContextBundle_DocumentTakesPriority(t *testing.T) {
	b := RetrievedContext(
		Retrieved(SourceKnowledgeBase, " kb text "),
		Retrieved(SourceWeb, "web text"),
	)
	require.Equal(t, "kb text", b.KnowledgeBase)
	require.Equal(t, "web text", b.Web)
	require.False(t, b.IsEmpty())

	withDoc := b.WithDocument("pdf excerpt")
	require.True(t, withDoc.HasDocument())
	require.Empty(t, withDoc.KnowledgeBase)
	require.Empty(t, withDoc.Web)

	require.Equal(t, b, b.WithDocument("   "))
}

func TestRetrievedContext_DropsUnusable(t *testing.T) {
	b := RetrievedContext(
		NoResults(SourceKnowledgeBase),
		RetrievalFailure(SourceWeb, errors.New("down")),
	)
	require.True(t, b.IsEmpty())
}
