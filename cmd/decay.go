package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one passive-decay pass over buffered recalls",
	Long: `Evaluate buffered recall results and emit synthetic negative
signals for memories that keep surfacing without ever earning positive
feedback. The buffer is cleared after the pass.

Examples:
  tendril decay
  tendril decay --threshold 25`,
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetInt("threshold")
		return runDecay(threshold)
	},
}

func init() {
	decayCmd.Flags().Int("threshold", 10, "Minimum buffered recall operations before decay runs")
}

func runDecay(threshold int) error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	stack := newRankingStack(store)
	decayed, err := stack.collector.ComputePassiveDecay(context.Background(), threshold)
	if err != nil {
		return fmt.Errorf("decay failed: %w", err)
	}

	if decayed == 0 {
		fmt.Println("✅ No memories needed decay.")
	} else {
		fmt.Printf("✅ Emitted %d decay signal(s).\n", decayed)
	}
	return nil
}
