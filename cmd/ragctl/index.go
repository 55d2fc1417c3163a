package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rag-agent/internal/app"
	"rag-agent/internal/indexer"
)

var indexCmd = &cobra.Command{
	Use:   "index [paths...]",
	Short: "Build the knowledge base index from local files",
	Long: `Index splits .txt, .md and .pdf files into overlapping chunks, embeds them
and writes them to the configured vector index. Directories are walked
recursively.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := indexer.LoadPaths(args)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("no indexable files under %v", args)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		container, err := app.NewIndexer(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = container.Close() }()

		stats, err := container.Indexer.Build(cmd.Context(), docs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents (%d chunks)\n", stats.Documents, stats.Chunks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
