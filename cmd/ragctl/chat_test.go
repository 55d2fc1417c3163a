package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rag-agent/internal/usecase"
)

type fakeConversation struct {
	asks   []usecase.AskInput
	resets []string
	errAt  int
}

func (f *fakeConversation) Ask(_ context.Context, in usecase.AskInput) (usecase.AskOutput, error) {
	f.asks = append(f.asks, in)
	if f.errAt == len(f.asks) {
		return usecase.AskOutput{SessionID: "sess-1"}, &usecase.Error{
			Code:      usecase.ErrorSynthesis,
			Reason:    "synthesis_error",
			SessionID: "sess-1",
		}
	}
	return usecase.AskOutput{Answer: "answer to " + in.Question, SessionID: "sess-1"}, nil
}

func (f *fakeConversation) Reset(_ context.Context, id string) error {
	f.resets = append(f.resets, id)
	return nil
}

func runScript(t *testing.T, conv *fakeConversation, script string) string {
	t.Helper()
	var out bytes.Buffer
	r := &repl{
		chat: conv,
		out:  &out,
		readFile: func(path string) ([]byte, error) {
			if path == "missing.pdf" {
				return nil, errors.New("no such file")
			}
			return []byte("contents of " + path), nil
		},
	}
	require.NoError(t, r.run(context.Background(), newScannerReader(strings.NewReader(script), &out)))
	return out.String()
}

func TestREPL_ContinuesSessionAndAttachesOnce(t *testing.T) {
	conv := &fakeConversation{}
	out := runScript(t, conv, "hi\n/attach docs/report.txt\nsummarise it\nand again?\n/quit\nignored\n")

	require.Len(t, conv.asks, 3)
	require.Equal(t, "", conv.asks[0].SessionID)
	require.Equal(t, "sess-1", conv.asks[1].SessionID)
	require.Equal(t, "report.txt", conv.asks[1].DocumentName)
	require.Equal(t, []byte("contents of docs/report.txt"), conv.asks[1].Document)
	require.Nil(t, conv.asks[2].Document)
	require.Contains(t, out, "answer to summarise it")
	require.Contains(t, out, "Attached report.txt")
}

func TestREPL_ResetStartsNewSession(t *testing.T) {
	conv := &fakeConversation{}
	runScript(t, conv, "first\n/reset\nsecond\n")

	require.Equal(t, []string{"sess-1"}, conv.resets)
	require.Len(t, conv.asks, 2)
	require.Equal(t, "", conv.asks[1].SessionID)
}

func TestREPL_TurnErrorKeepsSession(t *testing.T) {
	conv := &fakeConversation{errAt: 1}
	out := runScript(t, conv, "first\nsecond\n")

	require.Contains(t, out, "Error:")
	require.Len(t, conv.asks, 2)
	require.Equal(t, "sess-1", conv.asks[1].SessionID)
}

func TestREPL_AttachErrors(t *testing.T) {
	conv := &fakeConversation{}
	out := runScript(t, conv, "/attach\n/attach missing.pdf\n")

	require.Empty(t, conv.asks)
	require.Contains(t, out, "Usage: /attach <file>")
	require.Contains(t, out, "Could not read missing.pdf")
}
