package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/recourse/internal/config"
	"github.com/dativo-io/recourse/internal/retrieval"
)

var indexDocsDir string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the policy retrieval index from a directory of policy documents",
	Long: `Index scans a directory of markdown policy documents, splits them into
retrievable snippets, and stores them in the local policy index. The
context enrichment stage retrieves from this index when resolving cases.

Documents are tagged by filename: the stem names the policy type and a
trailing _fr suffix marks French content (e.g. refund_policy_fr.md).
Everything else is indexed as English.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexDocsDir, "docs-dir", "docs/policies", "directory containing policy documents")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "cmd.index")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	index, err := retrieval.NewIndex(cfg.IndexDBPath())
	if err != nil {
		return fmt.Errorf("opening policy index: %w", err)
	}
	defer index.Close()

	stats, err := index.Build(ctx, indexDocsDir)
	if err != nil {
		return fmt.Errorf("building policy index: %w", err)
	}

	log.Info().
		Int("documents", stats.DocumentsSeen).
		Int("indexed_chunks", stats.IndexedChunks).
		Int("skipped_chunks", stats.SkippedChunks).
		Str("index_path", cfg.IndexDBPath()).
		Msg("policy index built")
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %d documents (%d skipped)\n",
		stats.IndexedChunks, stats.DocumentsSeen, stats.SkippedChunks)
	return nil
}
