// Package ranking: feature extraction. One candidate plus a batch-scoped
// context becomes a fixed 12-slot numeric vector; missing inputs stay at
// the neutral 0.5 so sparse metadata never zeroes a score.

package ranking

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/tendrilhq/tendril/internal/memory"
)

// FeatureCount is the fixed feature-vector length. The slots:
//
//	0  lexical_score        1  semantic_score      2  tech_match
//	3  project_match        4  workflow_fit        5  source_quality
//	6  importance/10        7  exp(-age_days/180)  8  min(1, access/threshold)
//	9  pattern confidence   10 signal count (norm) 11 avg signal value
const FeatureCount = 12

const (
	neutralFeature = 0.5

	// ageHalfScaleDays controls the recency decay in slot 7.
	ageHalfScaleDays = 180

	// accessSaturation is the access count that saturates slot 8.
	accessSaturation = 20

	// signalSaturation is the signal count that saturates slot 10.
	signalSaturation = 10
)

// BatchContext is the immutable per-request context shared by every
// candidate in one rerank call. Set once, never mutated mid-batch, so
// concurrent batches cannot interfere.
type BatchContext struct {
	Project       string
	TechPrefs     []string
	WorkflowPhase string
}

// Pattern is a learned keyword pattern with an associated confidence,
// mined from the feedback corpus.
type Pattern struct {
	Keywords   []string
	Confidence float64
}

// FeatureExtractor builds feature vectors from signal-scorer outputs.
// All collaborator funcs are optional; absent ones leave their slots at
// the neutral default.
type FeatureExtractor struct {
	SourceBoost  func(mem *memory.Memory) float64
	ProjectBoost func(mem *memory.Memory, currentProject string) float64
	SignalStats  func(ctx context.Context, memoryID string) (count int, avgValue float64, err error)
	Patterns     func(ctx context.Context) []Pattern
}

// FeatureBatch freezes the batch context and the learned patterns for
// the duration of one rerank call.
type FeatureBatch struct {
	extractor *FeatureExtractor
	bc        BatchContext
	patterns  []Pattern
	now       time.Time
}

// NewBatch snapshots the context and patterns for one request.
func (e *FeatureExtractor) NewBatch(ctx context.Context, bc BatchContext) *FeatureBatch {
	batch := &FeatureBatch{extractor: e, bc: bc, now: time.Now()}
	if e.Patterns != nil {
		batch.patterns = e.Patterns(ctx)
	}
	return batch
}

// Extract produces the 12-slot vector for one candidate. mem may be nil
// (unknown id); every metadata slot then stays neutral.
func (b *FeatureBatch) Extract(ctx context.Context, cand Candidate, mem *memory.Memory) [FeatureCount]float64 {
	var v [FeatureCount]float64
	for i := range v {
		v[i] = neutralFeature
	}

	if cand.Lexical >= 0 {
		v[0] = cand.Lexical
	}
	if cand.Semantic >= 0 {
		v[1] = cand.Semantic
	}

	if mem != nil {
		v[2] = b.techMatch(mem)
		if b.extractor.ProjectBoost != nil {
			v[3] = b.extractor.ProjectBoost(mem, b.bc.Project)
		}
		v[4] = b.workflowFit(mem)
		if b.extractor.SourceBoost != nil {
			v[5] = b.extractor.SourceBoost(mem)
		}
		v[6] = float64(mem.Importance) / 10.0
		ageDays := b.now.Sub(mem.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		v[7] = math.Exp(-ageDays / ageHalfScaleDays)
		v[8] = math.Min(1, float64(mem.AccessCount)/accessSaturation)
		v[9] = b.patternConfidence(mem)

		if b.extractor.SignalStats != nil {
			if count, avg, err := b.extractor.SignalStats(ctx, mem.ID); err == nil {
				v[10] = math.Min(1, float64(count)/signalSaturation)
				if count > 0 {
					v[11] = avg
				}
			}
		}
	}

	for i := range v {
		v[i] = clamp01(v[i])
	}
	return v
}

// techMatch scores the overlap between the batch tech preferences and
// the memory's tags. No preferences set means neutral.
func (b *FeatureBatch) techMatch(mem *memory.Memory) float64 {
	if len(b.bc.TechPrefs) == 0 {
		return neutralFeature
	}
	tags := make(map[string]bool, len(mem.Tags))
	for _, t := range mem.Tags {
		tags[strings.ToLower(t)] = true
	}
	matched := 0
	for _, pref := range b.bc.TechPrefs {
		if tags[strings.ToLower(pref)] {
			matched++
		}
	}
	return float64(matched) / float64(len(b.bc.TechPrefs))
}

// workflowFit checks whether the memory mentions the current workflow
// phase in its tags or context.
func (b *FeatureBatch) workflowFit(mem *memory.Memory) float64 {
	phase := strings.ToLower(strings.TrimSpace(b.bc.WorkflowPhase))
	if phase == "" {
		return neutralFeature
	}
	for _, t := range mem.Tags {
		if strings.ToLower(t) == phase {
			return 1.0
		}
	}
	if strings.Contains(strings.ToLower(mem.Context), phase) {
		return 1.0
	}
	return 0.3
}

// patternConfidence returns the highest confidence among learned
// patterns whose keywords all appear in the memory's content or tags.
func (b *FeatureBatch) patternConfidence(mem *memory.Memory) float64 {
	if len(b.patterns) == 0 {
		return neutralFeature
	}
	haystack := strings.ToLower(mem.Content + " " + strings.Join(mem.Tags, " "))
	best := 0.0
	matchedAny := false
	for _, p := range b.patterns {
		if len(p.Keywords) == 0 {
			continue
		}
		matches := true
		for _, kw := range p.Keywords {
			if !strings.Contains(haystack, strings.ToLower(kw)) {
				matches = false
				break
			}
		}
		if matches {
			matchedAny = true
			if p.Confidence > best {
				best = p.Confidence
			}
		}
	}
	if !matchedAny {
		return neutralFeature
	}
	return best
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
