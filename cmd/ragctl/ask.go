package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rag-agent/internal/app"
	"rag-agent/internal/usecase"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		container, err := app.NewChat(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = container.Close() }()

		in := usecase.AskInput{Question: args[0]}
		in.SessionID, _ = cmd.Flags().GetString("session")
		if path, _ := cmd.Flags().GetString("document"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			in.Document = data
			in.DocumentName = filepath.Base(path)
		}

		out, err := container.Chat.Ask(cmd.Context(), in)
		if out.DocumentWarning != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", out.DocumentWarning)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
		fmt.Fprintln(cmd.ErrOrStderr(), "session:", out.SessionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().String("session", "", "continue an existing session")
	askCmd.Flags().String("document", "", "attach a PDF or text file to the question")
}
