package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlite_vec.Auto()
}

// vecIndex manages the sqlite-vec KNN index behind the semantic retrieval
// method. When the vec0 extension cannot load, available stays false and
// callers fall back to a brute-force cosine scan.
type vecIndex struct {
	db         *sql.DB
	dimensions int
	available  bool
}

func newVecIndex(db *sql.DB, dimensions int) *vecIndex {
	vi := &vecIndex{db: db, dimensions: dimensions}
	if err := vi.ensureSchema(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  sqlite-vec not available, using linear scan: %v\n", err)
		return vi
	}
	vi.available = true
	return vi
}

func (vi *vecIndex) ensureSchema() error {
	var vecVersion string
	if err := vi.db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		return fmt.Errorf("vec_version() failed: %w", err)
	}

	// vec0 requires integer rowids; memories use text ids, so keep a map.
	if _, err := vi.db.Exec(`CREATE TABLE IF NOT EXISTS vec_map (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_id TEXT UNIQUE NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create vec_map: %w", err)
	}

	if _, err := vi.db.Exec(`CREATE TABLE IF NOT EXISTS vec_meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("failed to create vec_meta: %w", err)
	}
	vi.dropOnDimensionChange()

	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(embedding float[%d] distance_metric=cosine)`,
		vi.dimensions,
	)
	if _, err := vi.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}

	vi.db.Exec(`INSERT OR REPLACE INTO vec_meta (key, value) VALUES ('dimensions', ?)`,
		fmt.Sprintf("%d", vi.dimensions))
	return nil
}

// dropOnDimensionChange rebuilds the vec0 table when the embedder
// dimensions differ from the last run (e.g. local vs. OpenAI embeddings).
func (vi *vecIndex) dropOnDimensionChange() {
	var stored string
	if err := vi.db.QueryRow(`SELECT value FROM vec_meta WHERE key = 'dimensions'`).Scan(&stored); err != nil {
		return
	}
	if stored == fmt.Sprintf("%d", vi.dimensions) {
		return
	}
	fmt.Fprintf(os.Stderr, "⚠️  Embedding dimensions changed (%s -> %d), rebuilding vec index\n", stored, vi.dimensions)
	vi.db.Exec(`DROP TABLE IF EXISTS memory_vectors`)
	vi.db.Exec(`DELETE FROM vec_map`)
}

// Insert adds or replaces a memory's embedding in the index.
func (vi *vecIndex) Insert(memoryID string, embedding []float32) error {
	if !vi.available || len(embedding) != vi.dimensions {
		return nil
	}

	var rowID int64
	err := vi.db.QueryRow(`SELECT rowid FROM vec_map WHERE memory_id = ?`, memoryID).Scan(&rowID)
	if err == sql.ErrNoRows {
		res, err := vi.db.Exec(`INSERT INTO vec_map (memory_id) VALUES (?)`, memoryID)
		if err != nil {
			return fmt.Errorf("failed to map vec rowid: %w", err)
		}
		rowID, _ = res.LastInsertId()
	} else if err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	// vec0 has no ON CONFLICT; delete any stale row first
	vi.db.Exec(`DELETE FROM memory_vectors WHERE rowid = ?`, rowID)
	if _, err := vi.db.Exec(`INSERT INTO memory_vectors (rowid, embedding) VALUES (?, ?)`, rowID, blob); err != nil {
		return fmt.Errorf("failed to insert into vec0: %w", err)
	}
	return nil
}

// Search runs a KNN query and returns memory ids with cosine similarity
// (1 - distance), best first.
func (vi *vecIndex) Search(queryEmbedding []float32, limit int) ([]SearchResult, error) {
	if !vi.available {
		return nil, fmt.Errorf("vec index not available")
	}

	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}

	rows, err := vi.db.Query(`
		SELECT m.memory_id, k.distance
		FROM (
			SELECT rowid, distance FROM memory_vectors
			WHERE embedding MATCH ? ORDER BY distance LIMIT ?
		) k
		JOIN vec_map m ON m.rowid = k.rowid
		ORDER BY k.distance
	`, blob, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: 1.0 - distance})
	}
	return results, rows.Err()
}

// Delete removes a memory from the index.
func (vi *vecIndex) Delete(memoryID string) error {
	if !vi.available {
		return nil
	}
	var rowID int64
	if err := vi.db.QueryRow(`SELECT rowid FROM vec_map WHERE memory_id = ?`, memoryID).Scan(&rowID); err != nil {
		return nil // not indexed
	}
	vi.db.Exec(`DELETE FROM memory_vectors WHERE rowid = ?`, rowID)
	vi.db.Exec(`DELETE FROM vec_map WHERE rowid = ?`, rowID)
	return nil
}

// Backfill indexes existing memories that have embeddings but no vec row.
// Returns the number of memories indexed.
func (vi *vecIndex) Backfill() (int, error) {
	if !vi.available {
		return 0, nil
	}

	rows, err := vi.db.Query(`
		SELECT m.id, m.embedding
		FROM memories m
		LEFT JOIN vec_map v ON v.memory_id = m.id
		WHERE v.rowid IS NULL
		AND m.embedding IS NOT NULL AND m.embedding != '' AND m.embedding != '[]' AND m.embedding != 'null'
	`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var memID, embJSON string
		if err := rows.Scan(&memID, &embJSON); err != nil {
			continue
		}
		embedding := decodeEmbedding(embJSON)
		if len(embedding) != vi.dimensions {
			continue
		}
		if err := vi.Insert(memID, embedding); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

func decodeEmbedding(embJSON string) []float32 {
	var embedding []float32
	if err := json.Unmarshal([]byte(embJSON), &embedding); err != nil {
		return nil
	}
	return embedding
}
