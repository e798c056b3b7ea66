package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dativo-io/recourse/internal/config"
	"github.com/dativo-io/recourse/internal/memory"
)

var memoryCaseLimit int

var memoryCmd = &cobra.Command{
	Use:   "memory <customer-id>",
	Short: "Show stored case memory for a customer",
	Long: `Memory prints the retained case history for a customer: preferred
language, rolling 90-day compensation total, and recent cases (most
recent first). Output is JSON on stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runMemory,
}

func init() {
	memoryCmd.Flags().IntVar(&memoryCaseLimit, "limit", 20, "maximum number of cases to show")
	rootCmd.AddCommand(memoryCmd)
}

func runMemory(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "cmd.memory")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := memory.NewStore(cfg.MemoryDBPath())
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer store.Close()

	view, err := store.CustomerView(ctx, args[0], memoryCaseLimit)
	if err != nil {
		return fmt.Errorf("loading customer memory: %w", err)
	}

	out, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding customer memory: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
