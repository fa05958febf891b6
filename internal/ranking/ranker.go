// Package ranking: the adaptive reranker. Phase selection is recomputed
// from live feedback counts on every call, escalating from a no-op
// baseline through rule-based boosting to a learned model, and always
// degrading back to baseline on internal failure.

package ranking

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tendrilhq/tendril/internal/memory"
)

// Phase is the ranking strategy currently justified by accumulated
// feedback volume. It is never persisted.
type Phase int

const (
	PhaseBaseline Phase = iota
	PhaseRuleBased
	PhaseMLModel
)

func (p Phase) String() string {
	switch p {
	case PhaseRuleBased:
		return "rule_based"
	case PhaseMLModel:
		return "ml_model"
	default:
		return "baseline"
	}
}

// Phase thresholds. There is deliberately no hysteresis: pruning
// feedback data moves the phase backward.
const (
	ruleBasedMinFeedback = 20
	mlMinFeedback        = 200
	mlMinUniqueQueries   = 50
)

// Rule-based boost weights over the feature vector.
const (
	ruleWeightTech       = 0.20 // slot 2
	ruleWeightProject    = 0.25 // slot 3
	ruleWeightImportance = 0.20 // slot 6
	ruleWeightRecency    = 0.20 // slot 7
	ruleWeightAccess     = 0.15 // slot 8
)

// RankedResult is one rerank output row. BaseScore is always the fused
// input score, kept for diagnostics regardless of phase.
type RankedResult struct {
	ID           string  `json:"id"`
	Score        float64 `json:"score"`
	BaseScore    float64 `json:"base_score"`
	RankingPhase string  `json:"ranking_phase"`
}

// RankerStore is the persistence surface the ranker reads.
type RankerStore interface {
	FeedbackCount(ctx context.Context) (int, error)
	UniqueQueryCount(ctx context.Context) (int, error)
	GetMemoryByID(ctx context.Context, id string) (*memory.Memory, error)
	FeedbackForTraining(ctx context.Context, limit int) ([]memory.FeedbackSignal, error)
}

// AdaptiveRanker orchestrates phase selection and reranking.
type AdaptiveRanker struct {
	store     RankerStore
	extractor *FeatureExtractor
	modelPath string
	trainer   Trainer

	mu         sync.Mutex
	modelState ModelState
	model      RankingModel
	modelMeta  *ModelMeta
}

// NewAdaptiveRanker builds a ranker whose model artifact lives in
// dataDir. The trainer is optional; without one Train reports absent.
func NewAdaptiveRanker(store RankerStore, extractor *FeatureExtractor, dataDir string, trainer Trainer) *AdaptiveRanker {
	return &AdaptiveRanker{
		store:     store,
		extractor: extractor,
		modelPath: filepath.Join(dataDir, ModelFileName),
		trainer:   trainer,
	}
}

// CurrentPhase recomputes the phase from live counts. Storage failures
// degrade to baseline (empty feedback), never to an error.
func (r *AdaptiveRanker) CurrentPhase(ctx context.Context) Phase {
	count, err := r.store.FeedbackCount(ctx)
	if err != nil {
		return PhaseBaseline
	}
	if count < ruleBasedMinFeedback {
		return PhaseBaseline
	}
	if count < mlMinFeedback {
		return PhaseRuleBased
	}
	unique, err := r.store.UniqueQueryCount(ctx)
	if err != nil || unique < mlMinUniqueQueries {
		return PhaseRuleBased
	}
	if r.ensureModel() != ModelLoaded {
		return PhaseRuleBased
	}
	return PhaseMLModel
}

// ensureModel performs at most one load attempt until ReloadModel resets
// the state; a failed load stays failed without retrying disk I/O.
func (r *AdaptiveRanker) ensureModel() ModelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.modelState == ModelNotAttempted {
		model, meta, err := LoadModel(r.modelPath)
		if err != nil {
			r.modelState = ModelFailed
		} else {
			r.model = model
			r.modelMeta = meta
			r.modelState = ModelLoaded
		}
	}
	return r.modelState
}

// ReloadModel resets the lifecycle to force one fresh load attempt on
// the next call that needs the model.
func (r *AdaptiveRanker) ReloadModel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelState = ModelNotAttempted
	r.model = nil
	r.modelMeta = nil
}

// ModelStatus returns the current lifecycle state without triggering a
// load attempt.
func (r *AdaptiveRanker) ModelStatus() ModelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelState
}

// Rerank orders fused candidates by the current phase's strategy. The
// output is always a permutation of the input ids; any internal failure
// falls back, for this call only, to the unmodified ordering with
// phase "baseline". It never returns an error.
func (r *AdaptiveRanker) Rerank(ctx context.Context, candidates []Candidate, query string, bc BatchContext) []RankedResult {
	if len(candidates) == 0 {
		return nil
	}

	phase := r.CurrentPhase(ctx)
	if phase == PhaseBaseline {
		return baselineResults(candidates)
	}

	results, ok := r.rerankScored(ctx, candidates, phase, bc)
	if !ok {
		return baselineResults(candidates)
	}
	return results
}

// rerankScored runs the rule-based or model scoring path. ok=false
// signals the caller to fall back to baseline.
func (r *AdaptiveRanker) rerankScored(ctx context.Context, candidates []Candidate, phase Phase, bc BatchContext) (results []RankedResult, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			results, ok = nil, false
		}
	}()

	batch := r.extractor.NewBatch(ctx, bc)
	features := make([][]float64, len(candidates))
	for i, cand := range candidates {
		mem, err := r.store.GetMemoryByID(ctx, cand.ID)
		if err != nil {
			return nil, false
		}
		vec := batch.Extract(ctx, cand, mem)
		features[i] = vec[:]
	}

	results = make([]RankedResult, len(candidates))
	switch phase {
	case PhaseMLModel:
		r.mu.Lock()
		model := r.model
		r.mu.Unlock()
		if model == nil {
			return nil, false
		}
		scores, err := model.Predict(features)
		if err != nil || len(scores) != len(candidates) {
			return nil, false
		}
		for i, cand := range candidates {
			results[i] = RankedResult{
				ID:           cand.ID,
				Score:        scores[i],
				BaseScore:    cand.BaseScore,
				RankingPhase: phase.String(),
			}
		}
	default: // PhaseRuleBased
		for i, cand := range candidates {
			boost := ruleWeightTech*features[i][2] +
				ruleWeightProject*features[i][3] +
				ruleWeightImportance*features[i][6] +
				ruleWeightRecency*features[i][7] +
				ruleWeightAccess*features[i][8]
			results[i] = RankedResult{
				ID:           cand.ID,
				Score:        cand.BaseScore * (1 + boost),
				BaseScore:    cand.BaseScore,
				RankingPhase: phase.String(),
			}
		}
	}

	// Stable: ties keep the fused input order
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, true
}

// baselineResults returns candidates unmodified: score = base score,
// original order, zero regression risk.
func baselineResults(candidates []Candidate) []RankedResult {
	results := make([]RankedResult, len(candidates))
	for i, cand := range candidates {
		results[i] = RankedResult{
			ID:           cand.ID,
			Score:        cand.BaseScore,
			BaseScore:    cand.BaseScore,
			RankingPhase: PhaseBaseline.String(),
		}
	}
	return results
}

// PhaseInfo returns ranking diagnostics for status commands.
func (r *AdaptiveRanker) PhaseInfo(ctx context.Context) map[string]interface{} {
	count, _ := r.store.FeedbackCount(ctx)
	unique, _ := r.store.UniqueQueryCount(ctx)
	info := map[string]interface{}{
		"phase":                   r.CurrentPhase(ctx).String(),
		"feedback_count":          count,
		"unique_query_count":      unique,
		"model_state":             r.ModelStatus().String(),
		"rule_based_threshold":    ruleBasedMinFeedback,
		"ml_feedback_threshold":   mlMinFeedback,
		"ml_unique_query_minimum": mlMinUniqueQueries,
	}
	r.mu.Lock()
	if r.modelMeta != nil {
		info["model_trained_at"] = r.modelMeta.TrainedAt
		info["model_samples"] = r.modelMeta.Samples
	}
	r.mu.Unlock()
	return info
}

// Train builds a labeled corpus from stored feedback, delegates fitting
// to the trainer, writes the artifact and reloads it. Returns nil
// metadata when there is no trainer or not enough data.
func (r *AdaptiveRanker) Train(ctx context.Context) (*ModelMeta, error) {
	if r.trainer == nil {
		return nil, nil
	}

	signals, err := r.store.FeedbackForTraining(ctx, 5000)
	if err != nil {
		return nil, err
	}
	if len(signals) < minTrainingExamples {
		return nil, nil
	}

	batch := r.extractor.NewBatch(ctx, BatchContext{})
	examples := make([]TrainingExample, 0, len(signals))
	for _, sig := range signals {
		mem, err := r.store.GetMemoryByID(ctx, sig.MemoryID)
		if err != nil || mem == nil {
			continue
		}
		cand := Candidate{ID: sig.MemoryID, Lexical: -1, Semantic: -1}
		examples = append(examples, TrainingExample{
			Features: batch.Extract(ctx, cand, mem),
			Label:    sig.SignalValue,
		})
	}
	if len(examples) < minTrainingExamples {
		return nil, nil
	}

	weights, bias, err := r.trainer.Train(examples)
	if err != nil {
		return nil, err
	}
	meta, err := SaveModel(r.modelPath, weights, bias, len(examples))
	if err != nil {
		return nil, err
	}
	r.ReloadModel()
	return meta, nil
}
