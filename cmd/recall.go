package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
	"github.com/tendrilhq/tendril/internal/ranking"
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories with fused, adaptively reranked recall",
	Long: `Search memories. Lexical, semantic and graph retrieval run
independently and are fused into one ranked list, which the adaptive
ranker reorders according to the current feedback phase.

Examples:
  tendril recall "how do we run migrations"
  tendril recall "error handling" --limit 5 --fusion weighted
  tendril recall "deploy" --project myapp --tech "go,terraform"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		fusion, _ := cmd.Flags().GetString("fusion")
		project, _ := cmd.Flags().GetString("project")
		tech, _ := cmd.Flags().GetString("tech")
		workflow, _ := cmd.Flags().GetString("workflow")
		return runRecall(args[0], limit, fusion, project, tech, workflow)
	},
}

func init() {
	recallCmd.Flags().Int("limit", 10, "Maximum results")
	recallCmd.Flags().String("fusion", "rrf", "Fusion algorithm: rrf or weighted")
	recallCmd.Flags().String("project", "", "Project context (auto-detected when empty)")
	recallCmd.Flags().String("tech", "", "Comma-separated tech preferences")
	recallCmd.Flags().String("workflow", "", "Current workflow phase (e.g. debugging, reviewing)")
}

func runRecall(query string, limit int, fusionAlgo, project, tech, workflow string) error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	stack := newRankingStack(store)

	// Prime source quality boosts from the persisted rows; a fresh store
	// simply leaves every boost at the neutral default.
	stack.sources.Load(ctx)

	if project == "" {
		if recent, err := store.Recent(ctx, 20); err == nil {
			project = stack.projects.DetectCurrentProject(recent)
		}
	}

	var techPrefs []string
	for _, t := range strings.Split(tech, ",") {
		if s := strings.TrimSpace(t); s != "" {
			techPrefs = append(techPrefs, s)
		}
	}

	candidates := stack.fusion.Retrieve(ctx, query, limit, fusionAlgo)
	if len(candidates) == 0 {
		fmt.Println("No memories found.")
		return nil
	}

	results := stack.ranker.Rerank(ctx, candidates, query, ranking.BatchContext{
		Project:       project,
		TechPrefs:     techPrefs,
		WorkflowPhase: workflow,
	})

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	stack.collector.RecordRecallResults(query, ids)

	fmt.Printf("Found %d memories (phase: %s)\n\n", len(results), results[0].RankingPhase)
	for i, r := range results {
		mem, err := store.GetMemoryByID(ctx, r.ID)
		if err != nil || mem == nil {
			continue
		}
		store.TouchAccess(ctx, r.ID)

		if r.Score != r.BaseScore {
			fmt.Printf("%2d. [%.4f ← %.4f] %s\n", i+1, r.Score, r.BaseScore, firstLine(mem.Content, 100))
		} else {
			fmt.Printf("%2d. [%.4f] %s\n", i+1, r.Score, firstLine(mem.Content, 100))
		}
		if len(mem.Tags) > 0 || mem.Project != "" {
			fmt.Printf("    id=%s", mem.ID)
			if mem.Project != "" {
				fmt.Printf(" project=%s", mem.Project)
			}
			if len(mem.Tags) > 0 {
				fmt.Printf(" tags=%s", strings.Join(mem.Tags, ","))
			}
			fmt.Println()
		} else {
			fmt.Printf("    id=%s\n", mem.ID)
		}
	}
	return nil
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
