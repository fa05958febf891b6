// Package memory: typed edges between memories. The graph retrieval
// method traverses these; each edge carries a similarity weight in [0,1].

package memory

import (
	"context"
	"database/sql"
	"time"
)

// Edge represents a weighted, directed edge between memories.
type Edge struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	EdgeType   string    `json:"edge_type"` // semantic, temporal, reference
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}

// AddEdge adds a directed edge between memories.
func (s *Store) AddEdge(ctx context.Context, sourceID, targetID, edgeType string, similarity float64) error {
	if sourceID == "" || targetID == "" || edgeType == "" {
		return nil
	}
	if similarity <= 0 || similarity > 1 {
		similarity = 1.0
	}
	id := generateID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_edges (id, source_id, target_id, edge_type, similarity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, sourceID, targetID, edgeType, similarity, time.Now())
	return err
}

// EdgesFrom returns edges originating from the given memory, optionally
// filtered by type.
func (s *Store) EdgesFrom(ctx context.Context, memoryID string, edgeType string) ([]Edge, error) {
	return s.queryEdges(ctx, `source_id`, memoryID, edgeType)
}

// EdgesTo returns edges pointing to the given memory, optionally filtered
// by type.
func (s *Store) EdgesTo(ctx context.Context, memoryID string, edgeType string) ([]Edge, error) {
	return s.queryEdges(ctx, `target_id`, memoryID, edgeType)
}

func (s *Store) queryEdges(ctx context.Context, column, memoryID, edgeType string) ([]Edge, error) {
	sqlQuery := `SELECT id, source_id, target_id, edge_type, similarity, created_at FROM memory_edges WHERE ` + column + ` = ?`
	args := []interface{}{memoryID}
	if edgeType != "" {
		sqlQuery += ` AND edge_type = ?`
		args = append(args, edgeType)
	}
	sqlQuery += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var sim sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.EdgeType, &sim, &e.CreatedAt); err != nil {
			continue
		}
		if sim.Valid {
			e.Similarity = sim.Float64
		} else {
			e.Similarity = 1.0
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Neighbors returns the weighted neighbors of a memory across all edge
// types, both directions. This is the traversal primitive the graph
// retrieval method expands over.
func (s *Store) Neighbors(ctx context.Context, memoryID string) (map[string]float64, error) {
	neighbors := make(map[string]float64)

	from, err := s.EdgesFrom(ctx, memoryID, "")
	if err != nil {
		return nil, err
	}
	for _, e := range from {
		if e.Similarity > neighbors[e.TargetID] {
			neighbors[e.TargetID] = e.Similarity
		}
	}

	to, err := s.EdgesTo(ctx, memoryID, "")
	if err != nil {
		return nil, err
	}
	for _, e := range to {
		if e.Similarity > neighbors[e.SourceID] {
			neighbors[e.SourceID] = e.Similarity
		}
	}

	delete(neighbors, memoryID)
	return neighbors, nil
}
