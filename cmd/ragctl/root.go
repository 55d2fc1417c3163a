package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rag-agent/internal/config"
	"rag-agent/internal/usecase"
)

var logger = newLogger(os.Stderr, "warn")

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Ask questions against the knowledge base and the web",
	Long: `ragctl runs the retrieval-augmented assistant from a terminal. It can hold
an interactive conversation, answer a single question, or build the
knowledge base index from local files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger = newLogger(os.Stderr, viper.GetString("log-level"))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	viper.SetEnvPrefix("ragctl")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", "", "YAML config file (default: environment only)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, usecase.ConfigurationError("invalid_config", err)
	}
	return cfg, nil
}

// describe renders an error for the terminal. Turn errors carry their own
// display-safe message.
func describe(err error) string {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		if ue.Code == usecase.ErrorConfiguration {
			return fmt.Sprintf("Configuration error (%s): %v", ue.Reason, ue.Err)
		}
		return ue.UserMessage()
	}
	return "Error: " + err.Error()
}
