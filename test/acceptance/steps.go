package acceptance

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/tendrilhq/tendril/internal/memory"
	"github.com/tendrilhq/tendril/internal/ranking"
)

// TestContext holds state between steps. Each scenario gets its own
// store in a fresh temp directory.
type TestContext struct {
	ctx context.Context

	store     *memory.Store
	fusion    *ranking.Fusion
	collector *ranking.FeedbackCollector
	sources   *ranking.SourceQualityScorer
	ranker    *ranking.AdaptiveRanker

	lastResults    []ranking.RankedResult
	lastDecayCount int
}

func (tc *TestContext) freshStore() error {
	if tc.store != nil {
		tc.store.Close()
	}

	tmpDir, err := os.MkdirTemp("", "tendril-acceptance-*")
	if err != nil {
		return err
	}
	if err := os.Setenv("TENDRIL_DATA_DIR", tmpDir); err != nil {
		return err
	}

	store, err := memory.NewStore()
	if err != nil {
		return err
	}
	tc.store = store
	tc.fusion = ranking.NewFusion(store)
	tc.collector = ranking.NewFeedbackCollector(store)
	tc.sources = ranking.NewSourceQualityScorer(store)

	extractor := &ranking.FeatureExtractor{
		SourceBoost: tc.sources.Boost,
		SignalStats: store.SignalStats,
	}
	tc.ranker = ranking.NewAdaptiveRanker(store, extractor, store.DataDir(), nil)
	tc.lastResults = nil
	tc.lastDecayCount = 0
	return nil
}

func (tc *TestContext) ensureStore() error {
	if tc.store == nil {
		return tc.freshStore()
	}
	return nil
}

func (tc *TestContext) storeMemory(content string) error {
	if err := tc.ensureStore(); err != nil {
		return err
	}
	_, err := tc.store.Remember(tc.ctx, memory.Memory{Content: content})
	return err
}

func (tc *TestContext) storeMultipleMemories(count int, topic string) error {
	if err := tc.ensureStore(); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		content := fmt.Sprintf("%s note %d", topic, i)
		if _, err := tc.store.Remember(tc.ctx, memory.Memory{Content: content}); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) recall(query string) error {
	if err := tc.ensureStore(); err != nil {
		return err
	}
	candidates := tc.fusion.Retrieve(tc.ctx, query, 10, "rrf")
	tc.lastResults = tc.ranker.Rerank(tc.ctx, candidates, query, ranking.BatchContext{})

	ids := make([]string, len(tc.lastResults))
	for i, r := range tc.lastResults {
		ids[i] = r.ID
	}
	tc.collector.RecordRecallResults(query, ids)
	return nil
}

func (tc *TestContext) resultsContain(content string) error {
	for _, r := range tc.lastResults {
		mem, err := tc.store.GetMemoryByID(tc.ctx, r.ID)
		if err != nil {
			return err
		}
		if mem != nil && strings.Contains(mem.Content, content) {
			return nil
		}
	}
	return fmt.Errorf("no result contains %q", content)
}

func (tc *TestContext) resultsHavePhase(phase string) error {
	if len(tc.lastResults) == 0 {
		return fmt.Errorf("no results to check")
	}
	for _, r := range tc.lastResults {
		if r.RankingPhase != phase {
			return fmt.Errorf("expected phase %q, got %q for %s", phase, r.RankingPhase, r.ID)
		}
	}
	return nil
}

func (tc *TestContext) resultsNotEmpty() error {
	if len(tc.lastResults) == 0 {
		return fmt.Errorf("expected results, got none")
	}
	return nil
}

func (tc *TestContext) recordFeedbackSignals(count int) error {
	if err := tc.ensureStore(); err != nil {
		return err
	}
	mem, err := tc.store.Remember(tc.ctx, memory.Memory{Content: "feedback target memory"})
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		query := fmt.Sprintf("feedback query %d", i)
		if _, err := tc.collector.RecordCLIBatch(tc.ctx, query, []string{mem.ID}, true); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) checkPhase(phase string) error {
	if got := tc.ranker.CurrentPhase(tc.ctx).String(); got != phase {
		return fmt.Errorf("expected phase %q, got %q", phase, got)
	}
	return nil
}

func (tc *TestContext) surfaceWithoutFeedback(memoryID string, recalls int) error {
	if err := tc.ensureStore(); err != nil {
		return err
	}
	for i := 0; i < recalls; i++ {
		tc.collector.RecordRecallResults(fmt.Sprintf("distinct query %s %d", memoryID, i), []string{memoryID})
	}
	return nil
}

func (tc *TestContext) givePositiveFeedback(memoryID string) error {
	if err := tc.ensureStore(); err != nil {
		return err
	}
	_, err := tc.collector.RecordUsage(tc.ctx, "some earlier query", memoryID, "used_in_response", 1, "")
	return err
}

func (tc *TestContext) runDecayPass(threshold int) error {
	decayed, err := tc.collector.ComputePassiveDecay(tc.ctx, threshold)
	if err != nil {
		return err
	}
	tc.lastDecayCount = decayed
	return nil
}

func (tc *TestContext) checkDecayCount(want int) error {
	if tc.lastDecayCount != want {
		return fmt.Errorf("expected %d decay signals, got %d", want, tc.lastDecayCount)
	}
	return nil
}

func (tc *TestContext) secondDecayPass(want int) error {
	decayed, err := tc.collector.ComputePassiveDecay(tc.ctx, 1)
	if err != nil {
		return err
	}
	if decayed != want {
		return fmt.Errorf("expected %d signals from the second pass, got %d", want, decayed)
	}
	return nil
}

func (tc *TestContext) seedSourceMemories(source string, total, positive int) error {
	if err := tc.ensureStore(); err != nil {
		return err
	}
	for i := 0; i < total; i++ {
		mem, err := tc.store.Remember(tc.ctx, memory.Memory{
			Content:   fmt.Sprintf("memory %d from %s", i, source),
			CreatedBy: source,
		})
		if err != nil {
			return err
		}
		if i < positive {
			if _, err := tc.collector.RecordUsage(tc.ctx, fmt.Sprintf("query %d", i), mem.ID, "used_in_response", 1, source); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tc *TestContext) refreshSources() error {
	_, err := tc.sources.Refresh(tc.ctx)
	return err
}

func (tc *TestContext) checkSourceScore(source string, want float64) error {
	scores, err := tc.store.SourceScores(tc.ctx)
	if err != nil {
		return err
	}
	row, ok := scores[source]
	if !ok {
		return fmt.Errorf("no score for source %q", source)
	}
	if math.Abs(row.QualityScore-want) > 0.001 {
		return fmt.Errorf("expected score %v for %s, got %v", want, source, row.QualityScore)
	}
	return nil
}
