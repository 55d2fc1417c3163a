package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rag-agent/internal/app"
	"rag-agent/internal/usecase"
)

const prompt = "> "

type conversation interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	Reset(ctx context.Context, sessionID string) error
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Chat reads questions from standard input until /quit or end of input.

  /attach <file>  attach a PDF or text file to the next question
  /reset          forget the conversation and start a new session
  /quit           leave`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		container, err := app.NewChat(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = container.Close() }()

		var lines lineReader
		if term.IsTerminal(int(os.Stdin.Fd())) {
			ed := newLineEditor()
			defer ed.Close()
			lines = ed
		} else {
			lines = newScannerReader(cmd.InOrStdin(), cmd.OutOrStdout())
		}

		r := &repl{
			chat:     container.Chat,
			out:      cmd.OutOrStdout(),
			readFile: os.ReadFile,
		}
		return r.run(cmd.Context(), lines)
	},
}

// lineReader returns io.EOF when input ends.
type lineReader interface {
	ReadLine(prompt string) (string, error)
}

// lineEditor adds history and line editing on a terminal.
type lineEditor struct {
	state *liner.State
}

func newLineEditor() *lineEditor {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	return &lineEditor{state: state}
}

func (e *lineEditor) ReadLine(prompt string) (string, error) {
	line, err := e.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		e.state.AppendHistory(line)
	}
	return line, nil
}

func (e *lineEditor) Close() { _ = e.state.Close() }

type scannerReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newScannerReader(in io.Reader, out io.Writer) *scannerReader {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	return &scannerReader{scanner: scanner, out: out}
}

func (s *scannerReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	fmt.Fprintln(s.out)
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

type attachment struct {
	name string
	data []byte
}

type repl struct {
	chat     conversation
	out      io.Writer
	readFile func(string) ([]byte, error)

	sessionID string
	pending   *attachment
}

func (r *repl) run(ctx context.Context, lines lineReader) error {
	for ctx.Err() == nil {
		raw, err := lines.ReadLine(prompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line := strings.TrimSpace(raw)
		if line == "/quit" {
			return nil
		}
		r.handle(ctx, line)
	}
	return nil
}

func (r *repl) handle(ctx context.Context, line string) {
	switch {
	case line == "":
	case line == "/reset":
		if r.sessionID != "" {
			if err := r.chat.Reset(ctx, r.sessionID); err != nil {
				fmt.Fprintln(r.out, describe(err))
				return
			}
		}
		r.sessionID = ""
		r.pending = nil
		fmt.Fprintln(r.out, "Started a new conversation.")
	case strings.HasPrefix(line, "/attach"):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/attach"))
		if path == "" {
			fmt.Fprintln(r.out, "Usage: /attach <file>")
			return
		}
		data, err := r.readFile(path)
		if err != nil {
			fmt.Fprintln(r.out, "Could not read", path+":", err)
			return
		}
		r.pending = &attachment{name: filepath.Base(path), data: data}
		fmt.Fprintf(r.out, "Attached %s to your next question.\n", r.pending.name)
	default:
		r.ask(ctx, line)
	}
}

func (r *repl) ask(ctx context.Context, question string) {
	in := usecase.AskInput{Question: question, SessionID: r.sessionID}
	if r.pending != nil {
		in.Document = r.pending.data
		in.DocumentName = r.pending.name
		r.pending = nil
	}

	out, err := r.chat.Ask(ctx, in)
	if out.SessionID != "" {
		r.sessionID = out.SessionID
	}
	if out.Expired {
		fmt.Fprintln(r.out, "Your previous conversation expired; starting fresh.")
	}
	if out.DocumentWarning != "" {
		fmt.Fprintln(r.out, "Warning:", out.DocumentWarning)
	}
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) && ue.SessionID != "" {
			r.sessionID = ue.SessionID
		}
		fmt.Fprintln(r.out, describe(err))
		return
	}
	fmt.Fprintln(r.out, out.Answer)
}
