package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory",
	Long: `Store a memory with optional tags and metadata.

Examples:
  tendril remember "always use snake_case for Go test names"
  tendril remember "prefer composition over inheritance" --tags "architecture,patterns" --importance 8
  tendril remember "migrations live in db/migrate" --project myapp --created-by cursor`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tagsStr, _ := cmd.Flags().GetString("tags")
		project, _ := cmd.Flags().GetString("project")
		contextStr, _ := cmd.Flags().GetString("context")
		createdBy, _ := cmd.Flags().GetString("created-by")
		path, _ := cmd.Flags().GetString("path")
		importance, _ := cmd.Flags().GetInt("importance")
		return runRemember(args[0], tagsStr, project, contextStr, createdBy, path, importance)
	},
}

func init() {
	rememberCmd.Flags().String("tags", "", "Comma-separated tags")
	rememberCmd.Flags().String("project", "", "Project this memory belongs to")
	rememberCmd.Flags().String("context", "", "Free-form context")
	rememberCmd.Flags().String("created-by", "", "Tool or agent that created the memory")
	rememberCmd.Flags().String("path", "", "File path the memory refers to")
	rememberCmd.Flags().Int("importance", 5, "Importance 0-10")
}

func runRemember(content, tagsStr, project, contextStr, createdBy, path string, importance int) error {
	if strings.TrimSpace(content) == "" {
		fmt.Println("Usage: tendril remember \"<content>\" [--tags \"tag1,tag2,...\"]")
		return nil
	}
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	var tags []string
	if tagsStr != "" {
		for _, t := range strings.Split(tagsStr, ",") {
			if s := strings.TrimSpace(t); s != "" {
				tags = append(tags, s)
			}
		}
	}

	mem, err := store.Remember(context.Background(), memory.Memory{
		Content:    content,
		Tags:       tags,
		Context:    contextStr,
		Project:    project,
		Path:       path,
		CreatedBy:  createdBy,
		Importance: importance,
	})
	if err != nil {
		return fmt.Errorf("remember failed: %w", err)
	}
	fmt.Printf("✅ Remembered (%s).\n", mem.ID)
	return nil
}
