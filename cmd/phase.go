package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
)

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Print ranking phase diagnostics",
	Long: `Print the current ranking phase and the feedback counts that
determine it.

Examples:
  tendril phase`,
	RunE: func(cmd *cobra.Command, args []string) error { return runPhase() },
}

func runPhase() error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	stack := newRankingStack(store)
	info := stack.ranker.PhaseInfo(context.Background())

	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
