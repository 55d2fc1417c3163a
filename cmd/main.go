package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"rag-agent/handler"
	"rag-agent/internal/app"
	"rag-agent/internal/config"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	// ---- Clients and agent ----
	container, err := app.NewChat(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start agent", "err", err)
		os.Exit(1)
	}
	defer func() { _ = container.Close() }()

	// ---- Handler ----
	h, err := handler.NewHandler(container.Chat, handler.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
