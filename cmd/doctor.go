package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
	"github.com/tendrilhq/tendril/internal/ranking"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common setup issues",
	Long: `Diagnose common setup issues: data directory, database health,
vector index availability, feedback volume and model artifact state.

Examples:
  tendril doctor`,
	RunE: func(cmd *cobra.Command, args []string) error { return runDoctor() },
}

func runDoctor() error {
	fmt.Println("🔍 Tendril Doctor")
	fmt.Println()

	issues := 0
	warnings := 0

	// 1. Data directory
	fmt.Print("✓ Checking data directory... ")
	dataDir := os.Getenv("TENDRIL_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".tendril")
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		fmt.Println("⚠️  WARNING")
		fmt.Printf("  Data directory does not exist: %s\n", dataDir)
		fmt.Println("  It will be created on first run")
		warnings++
	} else {
		fmt.Printf("✅ OK (%s)\n", dataDir)
	}

	// 2. Database open + schema
	fmt.Print("✓ Opening database... ")
	store, err := memory.NewStore()
	if err != nil {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: %v\n", err)
		return fmt.Errorf("found 1 critical issue")
	}
	defer store.Close()
	fmt.Println("✅ OK")

	ctx := context.Background()

	// 3. WAL mode
	fmt.Print("✓ Checking journal mode... ")
	var mode string
	if err := store.GetDB().QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil || mode != "wal" {
		fmt.Println("⚠️  WARNING")
		fmt.Printf("  Expected WAL journal mode, got %q\n", mode)
		warnings++
	} else {
		fmt.Println("✅ OK (wal)")
	}

	// 4. Vector index
	fmt.Print("✓ Checking vector index... ")
	if store.VecIndexAvailable() {
		fmt.Println("✅ OK (sqlite-vec)")
	} else {
		fmt.Println("⚠️  WARNING")
		fmt.Println("  sqlite-vec unavailable; semantic search uses a linear scan")
		warnings++
	}

	// 5. Memory and feedback counts
	fmt.Print("✓ Checking stored data... ")
	memCount, _ := store.Count(ctx)
	fbCount, _ := store.FeedbackCount(ctx)
	uniqueQueries, _ := store.UniqueQueryCount(ctx)
	size, _ := store.Size()
	fmt.Printf("✅ OK (%d memories, %d signals, %d unique queries, %s)\n",
		memCount, fbCount, uniqueQueries, size)

	// 6. Ranking phase and model artifact
	fmt.Print("✓ Checking ranking model... ")
	modelPath := filepath.Join(store.DataDir(), ranking.ModelFileName)
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		fmt.Println("⚠️  NOT TRAINED")
		fmt.Println("  No model artifact; ranking tops out at the rule-based phase")
		fmt.Println("  Run 'tendril train' once enough feedback has accumulated")
		warnings++
	} else if _, _, err := ranking.LoadModel(modelPath); err != nil {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: %v\n", err)
		fmt.Println("  Fix: delete the artifact and run 'tendril train' again")
		issues++
	} else {
		fmt.Println("✅ OK")
	}

	stack := newRankingStack(store)
	fmt.Printf("\nCurrent ranking phase: %s\n", stack.ranker.CurrentPhase(ctx))

	// Summary
	fmt.Println()
	if issues == 0 && warnings == 0 {
		fmt.Println("✅ All checks passed! Tendril is ready to use.")
	} else {
		if issues > 0 {
			fmt.Printf("❌ Found %d critical issue(s)\n", issues)
		}
		if warnings > 0 {
			fmt.Printf("⚠️  Found %d warning(s)\n", warnings)
		}
	}

	if issues > 0 {
		return fmt.Errorf("found %d critical issue(s)", issues)
	}
	return nil
}
