// Package memory provides the local memory storage for Tendril
package memory

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Memory represents a stored memory with the attributes the ranking
// engine reads (importance, access counts, project, creator).
type Memory struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	Context     string    `json:"context"`
	Project     string    `json:"project,omitempty"`
	Path        string    `json:"path,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	Importance  int       `json:"importance"` // 0-10, default 5
	AccessCount int       `json:"access_count"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Similarity  float64   `json:"similarity,omitempty"` // Set during recall
}

// Store provides local memory storage using SQLite
type Store struct {
	db       *sql.DB
	dataDir  string
	embedder Embedder

	// Vector index for fast KNN recall (nil if sqlite-vec unavailable)
	vecIdx *vecIndex
}

// GetDB returns the underlying SQL database handle
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// DataDir returns the directory holding the database and model artifacts.
func (s *Store) DataDir() string {
	return s.dataDir
}

// VecIndexAvailable reports whether the sqlite-vec KNN index loaded.
// False means semantic search runs on the brute-force fallback.
func (s *Store) VecIndexAvailable() bool {
	return s.vecIdx != nil && s.vecIdx.available
}

// NewStore creates a new memory store
func NewStore() (*Store, error) {
	// Determine data directory
	dataDir := os.Getenv("TENDRIL_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".tendril")
	}

	// Create directory
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// WAL keeps readers unblocked during writes; busy_timeout bounds
	// lock waits when several processes share the store.
	dbPath := filepath.Join(dataDir, "memories.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:       db,
		dataDir:  dataDir,
		embedder: GetEmbedder(),
	}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	// Initialize sqlite-vec vector index for the semantic retrieval method
	store.vecIdx = newVecIndex(db, store.embedder.Dimensions())
	if store.vecIdx.available {
		if n, err := store.vecIdx.Backfill(); err == nil && n > 0 {
			fmt.Fprintf(os.Stderr, "🔍 Backfilled %d memories into vec index\n", n)
		}
	}

	return store, nil
}

// initSchema creates the database tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		content_hash TEXT,
		tags TEXT,
		context TEXT,
		project TEXT,
		path TEXT,
		created_by TEXT,
		importance INTEGER DEFAULT 5,
		access_count INTEGER DEFAULT 0,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project);
	CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(content_hash);

	CREATE TABLE IF NOT EXISTS memory_tags (
		memory_id TEXT,
		tag TEXT,
		FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);

	CREATE TABLE IF NOT EXISTS memory_edges (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		similarity REAL DEFAULT 1.0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (source_id) REFERENCES memories(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES memories(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_memory_edges_source ON memory_edges(source_id, edge_type);
	CREATE INDEX IF NOT EXISTS idx_memory_edges_target ON memory_edges(target_id, edge_type);

	CREATE TABLE IF NOT EXISTS feedback_signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_hash TEXT NOT NULL,
		keywords TEXT,
		memory_id TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		signal_value REAL NOT NULL,
		channel TEXT NOT NULL,
		rank_position INTEGER,
		source_tool TEXT,
		dwell_time REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query_hash ON feedback_signals(query_hash);
	CREATE INDEX IF NOT EXISTS idx_feedback_memory_id ON feedback_signals(memory_id);

	CREATE TABLE IF NOT EXISTS source_quality (
		source_id TEXT PRIMARY KEY,
		positive_signals INTEGER NOT NULL,
		total_memories INTEGER NOT NULL,
		quality_score REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Migrate: columns added after the first release (ignore if present)
	_, _ = s.db.Exec(`ALTER TABLE memories ADD COLUMN project TEXT`)
	_, _ = s.db.Exec(`ALTER TABLE memories ADD COLUMN path TEXT`)
	_, _ = s.db.Exec(`ALTER TABLE memories ADD COLUMN created_by TEXT`)
	_, _ = s.db.Exec(`ALTER TABLE memories ADD COLUMN importance INTEGER DEFAULT 5`)
	_, _ = s.db.Exec(`ALTER TABLE memories ADD COLUMN access_count INTEGER DEFAULT 0`)

	return nil
}

// contentHash calculates SHA256 hash of content for deduplication
func contentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// Remember stores a new memory, checking for duplicates by content hash
// within the same project. On a duplicate, tags are merged and the
// existing memory is returned.
func (s *Store) Remember(ctx context.Context, m Memory) (*Memory, error) {
	hash := contentHash(m.Content)

	var existingID, existingTagsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tags FROM memories
		WHERE content_hash = ? AND COALESCE(project, '') = ?
	`, hash, m.Project).Scan(&existingID, &existingTagsJSON)

	if err == nil {
		// Duplicate found - merge tags and update
		var existingTags []string
		if existingTagsJSON != "" {
			json.Unmarshal([]byte(existingTagsJSON), &existingTags)
		}

		tagMap := make(map[string]bool)
		for _, tag := range existingTags {
			tagMap[tag] = true
		}
		for _, tag := range m.Tags {
			tagMap[tag] = true
		}
		mergedTags := make([]string, 0, len(tagMap))
		for tag := range tagMap {
			mergedTags = append(mergedTags, tag)
		}
		sort.Strings(mergedTags)

		mergedTagsJSON, _ := json.Marshal(mergedTags)
		now := time.Now()
		if _, err := s.db.ExecContext(ctx, `
			UPDATE memories SET tags = ?, updated_at = ? WHERE id = ?
		`, string(mergedTagsJSON), now, existingID); err != nil {
			return nil, fmt.Errorf("failed to update duplicate memory: %w", err)
		}

		s.db.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, existingID)
		for _, tag := range mergedTags {
			s.db.ExecContext(ctx, `INSERT INTO memory_tags (memory_id, tag) VALUES (?, ?)`, existingID, tag)
		}

		return s.GetMemoryByID(ctx, existingID)
	}

	// New memory
	if m.ID == "" {
		m.ID = generateID()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Importance <= 0 {
		m.Importance = 5
	}
	if m.Importance > 10 {
		m.Importance = 10
	}

	if len(m.Embedding) == 0 {
		embedding, err := s.embedder.Embed(m.Content)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Embedding failed: %v\n", err)
			embedding = make([]float32, s.embedder.Dimensions())
		}
		m.Embedding = embedding
	}

	tagsJSON, _ := json.Marshal(m.Tags)
	embeddingJSON, _ := json.Marshal(m.Embedding)

	_, dbErr := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, content_hash, tags, context, project, path, created_by, importance, access_count, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, m.ID, m.Content, hash, string(tagsJSON), m.Context, m.Project, m.Path, m.CreatedBy, m.Importance, string(embeddingJSON), m.CreatedAt, m.UpdatedAt)
	if dbErr != nil {
		return nil, fmt.Errorf("failed to store memory: %w", dbErr)
	}

	for _, tag := range m.Tags {
		s.db.ExecContext(ctx, `INSERT INTO memory_tags (memory_id, tag) VALUES (?, ?)`, m.ID, tag)
	}

	// Insert into vec index for fast KNN recall
	if s.vecIdx != nil {
		s.vecIdx.Insert(m.ID, m.Embedding)
	}

	return &m, nil
}

// GetMemoryByID returns a single memory by ID, or nil if not found.
func (s *Store) GetMemoryByID(ctx context.Context, id string) (*Memory, error) {
	if id == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, memorySelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return scanMemory(rows)
}

// List returns recent memories, optionally filtered by tag
func (s *Store) List(ctx context.Context, limit int, filterTags []string) ([]*Memory, error) {
	sqlQuery := memorySelect
	args := []interface{}{}

	if len(filterTags) > 0 {
		placeholders := make([]string, len(filterTags))
		for i, tag := range filterTags {
			placeholders[i] = "?"
			args = append(args, tag)
		}
		sqlQuery += ` WHERE id IN (SELECT memory_id FROM memory_tags WHERE tag IN (` + strings.Join(placeholders, ",") + `))`
	}

	sqlQuery += ` ORDER BY created_at DESC`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			continue
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

// Recent returns the n most recently created memories (used by project detection).
func (s *Store) Recent(ctx context.Context, n int) ([]*Memory, error) {
	if n <= 0 {
		n = 20
	}
	return s.List(ctx, n, nil)
}

// Count returns the total number of memories
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count)
	return count, err
}

// Forget deletes a memory
func (s *Store) Forget(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}

	s.db.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, id)
	if s.vecIdx != nil {
		s.vecIdx.Delete(id)
	}
	return nil
}

// TouchAccess increments a memory's access counter. Recall calls this for
// every returned result so the access-frequency feature reflects real use.
func (s *Store) TouchAccess(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET access_count = access_count + 1 WHERE id = ?`, id)
	return err
}

// Size returns the database file size as a human-readable string
func (s *Store) Size() (string, error) {
	dbPath := filepath.Join(s.dataDir, "memories.db")
	info, err := os.Stat(dbPath)
	if err != nil {
		return "unknown", err
	}

	size := info.Size()
	if size < 1024 {
		return fmt.Sprintf("%d B", size), nil
	} else if size < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(size)/1024), nil
	}
	return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024)), nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

const memorySelect = `SELECT id, content, tags, context, project, path, created_by,
	COALESCE(importance, 5), COALESCE(access_count, 0), embedding, created_at, updated_at FROM memories`

func scanMemory(rows *sql.Rows) (*Memory, error) {
	var mem Memory
	var tagsJSON, embeddingJSON string
	var contextNull, projectNull, pathNull, createdByNull sql.NullString

	err := rows.Scan(&mem.ID, &mem.Content, &tagsJSON, &contextNull, &projectNull, &pathNull,
		&createdByNull, &mem.Importance, &mem.AccessCount, &embeddingJSON, &mem.CreatedAt, &mem.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if contextNull.Valid {
		mem.Context = contextNull.String
	}
	if projectNull.Valid {
		mem.Project = projectNull.String
	}
	if pathNull.Valid {
		mem.Path = pathNull.String
	}
	if createdByNull.Valid {
		mem.CreatedBy = createdByNull.String
	}

	json.Unmarshal([]byte(tagsJSON), &mem.Tags)
	json.Unmarshal([]byte(embeddingJSON), &mem.Embedding)

	return &mem, nil
}

// Helper functions

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
