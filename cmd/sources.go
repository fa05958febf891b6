package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Recompute and print source quality scores",
	Long: `Recompute the per-creator quality posterior from stored
memories and feedback, persist the scores, and print them.

Examples:
  tendril sources`,
	RunE: func(cmd *cobra.Command, args []string) error { return runSources() },
}

func runSources() error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	stack := newRankingStack(store)
	scores, err := stack.sources.Refresh(context.Background())
	if err != nil {
		return fmt.Errorf("source quality refresh failed: %w", err)
	}
	if len(scores) == 0 {
		fmt.Println("No memory sources yet.")
		return nil
	}

	creators := make([]string, 0, len(scores))
	for creator := range scores {
		creators = append(creators, creator)
	}
	sort.Slice(creators, func(i, j int) bool {
		return scores[creators[i]].QualityScore > scores[creators[j]].QualityScore
	})

	fmt.Printf("%-20s %8s %10s %8s\n", "SOURCE", "POSITIVE", "MEMORIES", "SCORE")
	for _, creator := range creators {
		sc := scores[creator]
		fmt.Printf("%-20s %8d %10d %8.3f\n", sc.SourceID, sc.PositiveSignals, sc.TotalMemories, sc.QualityScore)
	}
	return nil
}
