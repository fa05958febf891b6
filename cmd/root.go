package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendrilhq/tendril/internal/memory"
	"github.com/tendrilhq/tendril/internal/ranking"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "tendril",
	Short: "Tendril - adaptive memory recall",
	Long:  "Local-first memory store with rank fusion and feedback-driven reranking.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tendril %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

// Execute runs the tendril command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// remember, recall (defined in remember.go, recall.go)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)

	// feedback, decay (defined in feedback.go, decay.go)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(decayCmd)

	// sources, phase, train (defined in sources.go, phase.go, train.go)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(phaseCmd)
	rootCmd.AddCommand(trainCmd)

	// doctor (defined in doctor.go)
	rootCmd.AddCommand(doctorCmd)
}

// rankingStack is the fully wired recall pipeline over one open store.
type rankingStack struct {
	fusion    *ranking.Fusion
	collector *ranking.FeedbackCollector
	sources   *ranking.SourceQualityScorer
	projects  *ranking.ProjectContextManager
	ranker    *ranking.AdaptiveRanker
}

// newRankingStack wires the scorers into the feature extractor and the
// extractor into the ranker, all over the given store.
func newRankingStack(store *memory.Store) *rankingStack {
	collector := ranking.NewFeedbackCollector(store)
	sources := ranking.NewSourceQualityScorer(store)
	projects := &ranking.ProjectContextManager{}

	extractor := &ranking.FeatureExtractor{
		SourceBoost:  sources.Boost,
		ProjectBoost: projects.ProjectBoost,
		SignalStats:  store.SignalStats,
		Patterns:     collector.LearnedPatterns,
	}

	return &rankingStack{
		fusion:    ranking.NewFusion(store),
		collector: collector,
		sources:   sources,
		projects:  projects,
		ranker:    ranking.NewAdaptiveRanker(store, extractor, store.DataDir(), &ranking.LinearTrainer{}),
	}
}
