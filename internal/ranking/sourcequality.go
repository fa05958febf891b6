// Package ranking: source quality scoring. Each memory creator gets a
// Beta-Binomial posterior mean over "memory earned positive feedback",
// smoothed with a Beta(1,1) prior so a single lucky hit cannot dominate.

package ranking

import (
	"context"
	"sync"

	"github.com/tendrilhq/tendril/internal/memory"
)

// sourceQualityPrior smooths the posterior: (1+pos)/(2+total).
const (
	sourceQualityPriorAlpha = 1.0
	sourceQualityPriorBeta  = 1.0
)

// SourceQualityStore is the persistence surface the scorer reads and
// writes through.
type SourceQualityStore interface {
	MemoryCountsByCreator(ctx context.Context) (map[string]int, error)
	MemoryIDsByCreator(ctx context.Context, creator string) ([]string, error)
	PositiveMemoryIDs(ctx context.Context) (map[string]bool, error)
	UpsertSourceQuality(ctx context.Context, score memory.SourceQualityScore) error
	SourceScores(ctx context.Context) (map[string]memory.SourceQualityScore, error)
}

// SourceQualityScorer maintains per-creator quality scores. Reads hit an
// in-memory cache; Refresh recomputes everything from storage and swaps
// the cache wholesale.
type SourceQualityScorer struct {
	store SourceQualityStore

	mu    sync.RWMutex
	cache map[string]float64
}

func NewSourceQualityScorer(store SourceQualityStore) *SourceQualityScorer {
	return &SourceQualityScorer{
		store: store,
		cache: make(map[string]float64),
	}
}

// betaMean is the posterior mean with the Beta(1,1) prior folded in. An
// unobserved source scores exactly 0.5.
func betaMean(positives, total int) float64 {
	return (sourceQualityPriorAlpha + float64(positives)) /
		(sourceQualityPriorAlpha + sourceQualityPriorBeta + float64(total))
}

// Refresh recomputes every creator's score from the full memory and
// feedback tables, persists the rows, and replaces the cache. A memory
// counts as positive when any of its signals has value > 0; the signal
// count per memory does not matter.
func (s *SourceQualityScorer) Refresh(ctx context.Context) (map[string]memory.SourceQualityScore, error) {
	counts, err := s.store.MemoryCountsByCreator(ctx)
	if err != nil {
		return nil, err
	}
	positive, err := s.store.PositiveMemoryIDs(ctx)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]memory.SourceQualityScore, len(counts))
	cache := make(map[string]float64, len(counts))
	for creator, total := range counts {
		ids, err := s.store.MemoryIDsByCreator(ctx, creator)
		if err != nil {
			return nil, err
		}
		positives := 0
		for _, id := range ids {
			if positive[id] {
				positives++
			}
		}

		row := memory.SourceQualityScore{
			SourceID:        creator,
			PositiveSignals: positives,
			TotalMemories:   total,
			QualityScore:    betaMean(positives, total),
		}
		if err := s.store.UpsertSourceQuality(ctx, row); err != nil {
			return nil, err
		}
		scores[creator] = row
		cache[creator] = row.QualityScore
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return scores, nil
}

// Load primes the cache from persisted rows without recomputing.
func (s *SourceQualityScorer) Load(ctx context.Context) error {
	rows, err := s.store.SourceScores(ctx)
	if err != nil {
		return err
	}
	cache := make(map[string]float64, len(rows))
	for creator, row := range rows {
		cache[creator] = row.QualityScore
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

// Boost returns the cached quality score for the memory's creator, or
// the neutral 0.5 when the creator has never been scored.
func (s *SourceQualityScorer) Boost(mem *memory.Memory) float64 {
	if mem == nil {
		return neutralFeature
	}
	creator := mem.CreatedBy
	if creator == "" {
		creator = "unknown"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if score, ok := s.cache[creator]; ok {
		return score
	}
	return neutralFeature
}
