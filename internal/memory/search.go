// Package memory: the per-method retrieval searches consumed by rank
// fusion. Each method returns (id, score) pairs and degrades to an empty
// result set on any internal failure.

package memory

import (
	"context"
	"sort"
	"strings"
)

// SearchResult is one scored candidate from a single retrieval method.
type SearchResult struct {
	ID    string
	Score float64
}

// maxLexicalScan bounds the number of rows a lexical search will score.
const maxLexicalScan = 2000

// SearchLexical scores memories by term overlap with the query: the score
// is the fraction of distinct query terms found in the content or tags.
// Ties break toward more recently created memories (the SQL ordering).
func (s *Store) SearchLexical(ctx context.Context, query string, limit int) []SearchResult {
	terms := lexicalTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, tags FROM memories ORDER BY created_at DESC LIMIT ?
	`, maxLexicalScan)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var id, content, tagsJSON string
		if err := rows.Scan(&id, &content, &tagsJSON); err != nil {
			continue
		}
		haystack := strings.ToLower(content + " " + tagsJSON)
		matched := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, SearchResult{
			ID:    id,
			Score: float64(matched) / float64(len(terms)),
		})
	}

	// Stable: equal scores keep recency order from the SQL scan
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// lexicalTerms splits a query into distinct lowercase terms of 2+ chars.
func lexicalTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]bool)
	var terms []string
	for _, f := range fields {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// SearchSemantic scores memories by embedding similarity. Uses the
// sqlite-vec KNN index when available, falling back to a brute-force
// cosine scan. Failures yield an empty result set.
func (s *Store) SearchSemantic(ctx context.Context, query string, limit int) []SearchResult {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil
	}
	queryEmbedding, err := s.embedder.Embed(query)
	if err != nil {
		return nil
	}

	if s.vecIdx != nil && s.vecIdx.available {
		if results, err := s.vecIdx.Search(queryEmbedding, limit); err == nil && len(results) > 0 {
			return results
		}
		// Fall through to linear scan on error or empty results
	}

	return s.semanticLinearScan(ctx, queryEmbedding, limit)
}

// semanticLinearScan is the brute-force cosine path used when the vec
// index is unavailable.
func (s *Store) semanticLinearScan(ctx context.Context, queryEmbedding []float32, limit int) []SearchResult {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM memories`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var id, embeddingJSON string
		if err := rows.Scan(&id, &embeddingJSON); err != nil {
			continue
		}
		embedding := decodeEmbedding(embeddingJSON)
		if len(embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(queryEmbedding, embedding)
		if sim <= 0 {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
