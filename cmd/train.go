package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the ranking model from stored feedback",
	Long: `Build a labeled corpus from stored feedback signals, fit the
ranking model, write the artifact into the data directory and reload it.

Does nothing until enough feedback has accumulated.

Examples:
  tendril train`,
	RunE: func(cmd *cobra.Command, args []string) error { return runTrain() },
}

func runTrain() error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	stack := newRankingStack(store)
	meta, err := stack.ranker.Train(context.Background())
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	if meta == nil {
		fmt.Println("⚠️  Not enough feedback to train yet.")
		return nil
	}
	fmt.Printf("✅ Trained on %d examples (artifact written %s).\n", meta.Samples, meta.TrainedAt.Format("2006-01-02 15:04:05"))
	return nil
}
