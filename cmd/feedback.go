package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <query> <memory-id> [memory-id...]",
	Short: "Mark recall results as helpful or unhelpful",
	Long: `Record explicit feedback for memories returned by a recall.
The query text is hashed before storage; only the hash and up to three
extracted keywords persist.

Examples:
  tendril feedback "how do we run migrations" a1b2c3d4 --helpful
  tendril feedback "error handling" a1b2c3d4 e5f6a7b8 --unhelpful`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		helpful, _ := cmd.Flags().GetBool("helpful")
		unhelpful, _ := cmd.Flags().GetBool("unhelpful")
		if helpful == unhelpful {
			return fmt.Errorf("pass exactly one of --helpful or --unhelpful")
		}
		return runFeedback(args[0], args[1:], helpful)
	},
}

func init() {
	feedbackCmd.Flags().Bool("helpful", false, "Mark the memories as helpful")
	feedbackCmd.Flags().Bool("unhelpful", false, "Mark the memories as unhelpful")
}

func runFeedback(query string, memoryIDs []string, helpful bool) error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	stack := newRankingStack(store)
	stored, err := stack.collector.RecordCLIBatch(context.Background(), query, memoryIDs, helpful)
	if err != nil {
		return fmt.Errorf("feedback failed: %w", err)
	}
	fmt.Printf("✅ Recorded %d feedback signal(s).\n", stored)
	return nil
}
