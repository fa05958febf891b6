// Package ranking implements the adaptive retrieval-ranking and feedback
// engine: rank fusion over independent retrieval methods, a three-phase
// reranker driven by accumulated feedback, and the signal scorers that
// feed its feature vectors.
package ranking

import (
	"context"
	"sort"

	"github.com/tendrilhq/tendril/internal/memory"
)

const (
	// rrfK is the standard Reciprocal Rank Fusion constant.
	rrfK = 60

	// graphSeedCount seeds traversal with the top lexical hits.
	graphSeedCount = 5

	// graphMaxDepth bounds breadth-first expansion.
	graphMaxDepth = 2

	// graphDepthDecay discounts scores per traversal hop.
	graphDepthDecay = 0.7
)

// SearchFunc is one retrieval method: scored candidates for a query.
// Implementations must not fail; a broken method returns nothing.
type SearchFunc func(ctx context.Context, query string, limit int) []memory.SearchResult

// TraverseFunc returns a memory's weighted graph neighbors.
type TraverseFunc func(ctx context.Context, memoryID string) (map[string]float64, error)

// FusionWeights holds per-method weights for weighted fusion.
type FusionWeights struct {
	Lexical  float64
	Semantic float64
	Graph    float64
}

// DefaultFusionWeights favors exact term matches slightly over the
// statistical methods.
var DefaultFusionWeights = FusionWeights{Lexical: 0.4, Semantic: 0.3, Graph: 0.3}

// Candidate is a fused retrieval result handed to the reranker. Lexical
// and Semantic carry the normalized per-method scores when the method
// returned the document; a negative value means "method did not see it".
type Candidate struct {
	ID        string  `json:"id"`
	BaseScore float64 `json:"base_score"`
	Lexical   float64 `json:"-"`
	Semantic  float64 `json:"-"`
}

// Fusion merges ranked lists from independent retrieval methods into one
// candidate list with a comparable base score.
type Fusion struct {
	Lexical  SearchFunc
	Semantic SearchFunc
	Traverse TraverseFunc
	Weights  FusionWeights
}

// NewFusion wires fusion to a store's retrieval methods.
func NewFusion(store *memory.Store) *Fusion {
	return &Fusion{
		Lexical:  store.SearchLexical,
		Semantic: store.SearchSemantic,
		Traverse: store.Neighbors,
		Weights:  DefaultFusionWeights,
	}
}

// searchSafe invokes one retrieval method, converting panics and nil
// functions into an empty list. Methods never abort a recall.
func searchSafe(ctx context.Context, fn SearchFunc, query string, limit int) (results []memory.SearchResult) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			results = nil
		}
	}()
	return fn(ctx, query, limit)
}

// SearchGraph runs the seed-then-traverse method: the top lexical hits
// seed a breadth-first expansion over memory edges, scoring each hop as
// seed_score × edge_similarity × 0.7^depth. A memory keeps the score of
// its first appearance.
func (f *Fusion) SearchGraph(ctx context.Context, query string, limit int) (results []memory.SearchResult) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
		}
	}()
	if f.Traverse == nil || limit <= 0 {
		return nil
	}

	seeds := searchSafe(ctx, f.Lexical, query, graphSeedCount)
	if len(seeds) == 0 {
		return nil
	}

	// path holds seed_score × product of edge similarities, undecayed;
	// the emitted score applies 0.7^depth exactly once.
	type frontierNode struct {
		id   string
		path float64
	}

	seen := make(map[string]bool, len(seeds))
	frontier := make([]frontierNode, 0, len(seeds))
	for _, s := range seeds {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		frontier = append(frontier, frontierNode{id: s.ID, path: s.Score})
	}

	decay := 1.0
	for depth := 1; depth <= graphMaxDepth; depth++ {
		decay *= graphDepthDecay
		var next []frontierNode
		for _, node := range frontier {
			neighbors, err := f.Traverse(ctx, node.id)
			if err != nil {
				continue
			}
			for id, edgeSim := range neighbors {
				if seen[id] {
					continue
				}
				seen[id] = true
				path := node.path * edgeSim
				next = append(next, frontierNode{id: id, path: path})
				results = append(results, memory.SearchResult{ID: id, Score: path * decay})
			}
		}
		frontier = next
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// normalizeScores min-max scales one method's scores to [0,1]. When all
// scores are equal every entry collapses to 1.0 (avoids divide-by-zero).
func normalizeScores(results []memory.SearchResult) []memory.SearchResult {
	if len(results) == 0 {
		return nil
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	normalized := make([]memory.SearchResult, len(results))
	for i, r := range results {
		score := 1.0
		if max > min {
			score = (r.Score - min) / (max - min)
		}
		normalized[i] = memory.SearchResult{ID: r.ID, Score: score}
	}
	return normalized
}

// FuseRRF combines ranked lists with Reciprocal Rank Fusion:
// score(d) = Σ 1/(k+rank_m(d)) over the lists containing d, rank 1-based.
// RRF is scale-invariant, so raw method scores need no normalization.
func FuseRRF(lists ...[]memory.SearchResult) []Candidate {
	fused := make(map[string]float64)
	var order []string

	for _, list := range lists {
		for rank, r := range list {
			if _, ok := fused[r.ID]; !ok {
				order = append(order, r.ID)
			}
			fused[r.ID] += 1.0 / float64(rrfK+rank+1)
		}
	}

	candidates := make([]Candidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, Candidate{ID: id, BaseScore: fused[id]})
	}
	// Stable: first-appearance order breaks score ties
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].BaseScore > candidates[j].BaseScore
	})
	return candidates
}

// FuseWeighted normalizes each method's list then averages the weighted
// normalized scores. Methods that did not return a document are excluded
// from both the numerator and the weight denominator, so absence is not
// treated as a zero score.
func FuseWeighted(lexical, semantic, graph []memory.SearchResult, w FusionWeights) []Candidate {
	type contribution struct {
		weighted    float64
		totalWeight float64
	}

	contributions := make(map[string]*contribution)
	var order []string

	accumulate := func(list []memory.SearchResult, weight float64) {
		for _, r := range normalizeScores(list) {
			c, ok := contributions[r.ID]
			if !ok {
				c = &contribution{}
				contributions[r.ID] = c
				order = append(order, r.ID)
			}
			c.weighted += weight * r.Score
			c.totalWeight += weight
		}
	}

	accumulate(lexical, w.Lexical)
	accumulate(semantic, w.Semantic)
	accumulate(graph, w.Graph)

	candidates := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := contributions[id]
		score := 0.0
		if c.totalWeight > 0 {
			score = c.weighted / c.totalWeight
		}
		candidates = append(candidates, Candidate{ID: id, BaseScore: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].BaseScore > candidates[j].BaseScore
	})
	return candidates
}

// Retrieve runs all three methods and fuses them. algorithm is "rrf"
// (default) or "weighted".
func (f *Fusion) Retrieve(ctx context.Context, query string, limit int, algorithm string) []Candidate {
	if limit <= 0 {
		limit = 10
	}
	// Overfetch per method so fusion has overlap to work with
	perMethod := limit * 3

	lexical := searchSafe(ctx, f.Lexical, query, perMethod)
	semantic := searchSafe(ctx, f.Semantic, query, perMethod)
	graph := f.SearchGraph(ctx, query, perMethod)

	var candidates []Candidate
	if algorithm == "weighted" {
		weights := f.Weights
		if weights.Lexical <= 0 && weights.Semantic <= 0 && weights.Graph <= 0 {
			weights = DefaultFusionWeights
		}
		candidates = FuseWeighted(lexical, semantic, graph, weights)
	} else {
		candidates = FuseRRF(lexical, semantic, graph)
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	// Attach normalized per-method scores for feature extraction
	lexNorm := scoreIndex(lexical)
	semNorm := scoreIndex(semantic)
	for i := range candidates {
		candidates[i].Lexical = lookupScore(lexNorm, candidates[i].ID)
		candidates[i].Semantic = lookupScore(semNorm, candidates[i].ID)
	}
	return candidates
}

func scoreIndex(list []memory.SearchResult) map[string]float64 {
	idx := make(map[string]float64, len(list))
	for _, r := range normalizeScores(list) {
		idx[r.ID] = r.Score
	}
	return idx
}

func lookupScore(idx map[string]float64, id string) float64 {
	if score, ok := idx[id]; ok {
		return score
	}
	return -1
}
